package app

import "errors"

var (
	// ErrNameConflict means the username is already held in the room by a
	// different live connection and this is not a grace-window reconnect.
	ErrNameConflict = errors.New("username already taken in this room")
	// ErrNotInRoom means the connection has no active room association.
	ErrNotInRoom = errors.New("not in a room")
)
