package app

import (
	"github.com/dkeye/Parley/internal/store"
)

// Wire event names, one per outbound frame type.
const (
	TypeRoomJoined          = "room_joined"
	TypeUserJoined          = "user_joined"
	TypeUserLeft            = "user_left"
	TypeNewMessage          = "new_message"
	TypeReadReceiptsUpdated = "read_receipts_updated"
	TypeLeftRoom            = "left_room"
	TypeOnlineUsersUpdate   = "online_users_update"
	TypeError               = "error"
)

const timestampLayout = "2006-01-02 15:04:05"

// MessageDTO is the wire shape of a persisted message.
type MessageDTO struct {
	ID        int64    `json:"id"`
	Room      string   `json:"room"`
	Username  string   `json:"username"`
	Content   string   `json:"content"`
	Timestamp string   `json:"timestamp"`
	ReadBy    []string `json:"read_by"`
}

func toDTO(m *store.Message, readBy []string) MessageDTO {
	if readBy == nil {
		readBy = []string{}
	}
	return MessageDTO{
		ID:        m.ID,
		Room:      m.Room,
		Username:  m.Username,
		Content:   m.Content,
		Timestamp: m.CreatedAt.UTC().Format(timestampLayout),
		ReadBy:    readBy,
	}
}

func historyDTOs(msgs []store.Message) []MessageDTO {
	out := make([]MessageDTO, 0, len(msgs))
	for i := range msgs {
		out = append(out, toDTO(&msgs[i], msgs[i].ReadBy()))
	}
	return out
}

// RoomJoined is sent privately to a connection that joined a room.
type RoomJoined struct {
	Type         string       `json:"type"`
	Room         string       `json:"room"`
	Username     string       `json:"username"`
	Messages     []MessageDTO `json:"messages"`
	RoomUsers    []string     `json:"room_users"`
	GlobalOnline []string     `json:"global_online"`
}

// UserJoined is broadcast to a room on a fresh join, never on a reconnect.
type UserJoined struct {
	Type         string   `json:"type"`
	Username     string   `json:"username"`
	RoomUsers    []string `json:"room_users"`
	GlobalOnline []string `json:"global_online"`
}

// UserLeft is broadcast on explicit leave or grace-period expiry.
type UserLeft struct {
	Type         string   `json:"type"`
	Username     string   `json:"username"`
	RoomUsers    []string `json:"room_users"`
	GlobalOnline []string `json:"global_online"`
}

// NewMessage carries a freshly committed message to the room.
type NewMessage struct {
	Type string `json:"type"`
	MessageDTO
}

// ReceiptUpdate is one message's refreshed read-by list.
type ReceiptUpdate struct {
	MessageID int64    `json:"message_id"`
	ReadBy    []string `json:"read_by"`
}

// ReadReceiptsUpdated aggregates a batch of receipt changes by one reader.
type ReadReceiptsUpdated struct {
	Type    string          `json:"type"`
	Updates []ReceiptUpdate `json:"updates"`
	Reader  string          `json:"reader"`
}

// LeftRoom confirms an explicit leave to the leaving connection.
type LeftRoom struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

// OnlineUsersUpdate answers a presence snapshot request.
type OnlineUsersUpdate struct {
	Type         string   `json:"type"`
	RoomUsers    []string `json:"room_users"`
	GlobalOnline []string `json:"global_online"`
}

// ErrorEvent reports a failure to the originating connection only.
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
