// Package domain holds the naming and content policy shared by the
// coordinator and the transport boundary.
package domain

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var (
	ErrInvalidUsername = errors.New("invalid username")
	ErrInvalidRoom     = errors.New("invalid room name")
	ErrInvalidContent  = errors.New("invalid message content")
)

// Rules are the configurable limits for names and message bodies.
type Rules struct {
	MaxUsernameLen int
	MaxRoomLen     int
	MaxMessageLen  int
}

func DefaultRules() Rules {
	return Rules{MaxUsernameLen: 50, MaxRoomLen: 100, MaxMessageLen: 4096}
}

// Validator checks usernames, room names and message content against Rules.
// Inputs are expected to be trimmed by the caller.
type Validator struct {
	v            *validator.Validate
	usernameRule string
	roomRule     string
	contentRule  string
}

func NewValidator(r Rules) *Validator {
	return &Validator{
		v:            validator.New(),
		usernameRule: fmt.Sprintf("required,max=%d,excludesall=0x00", r.MaxUsernameLen),
		roomRule:     fmt.Sprintf("required,max=%d,excludesall=0x00", r.MaxRoomLen),
		contentRule:  fmt.Sprintf("required,max=%d", r.MaxMessageLen),
	}
}

func (vd *Validator) Username(name string) error {
	if err := vd.v.Var(name, vd.usernameRule); err != nil {
		return ErrInvalidUsername
	}
	return nil
}

func (vd *Validator) Room(name string) error {
	if err := vd.v.Var(name, vd.roomRule); err != nil {
		return ErrInvalidRoom
	}
	return nil
}

func (vd *Validator) Content(body string) error {
	if err := vd.v.Var(body, vd.contentRule); err != nil {
		return ErrInvalidContent
	}
	return nil
}
