// Package store persists messages and read receipts.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a message does not exist.
var ErrNotFound = errors.New("message not found")

// Message is a persisted chat message. Immutable once written.
type Message struct {
	ID        int64         `gorm:"primarykey" json:"id"`
	Room      string        `gorm:"size:100;not null;index" json:"room"`
	Username  string        `gorm:"size:50;not null" json:"username"`
	Content   string        `gorm:"not null" json:"content"`
	CreatedAt time.Time     `json:"created_at"`
	Receipts  []ReadReceipt `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Message) TableName() string { return "messages" }

// ReadBy lists the usernames that have read the message.
// Requires Receipts to be loaded.
func (m *Message) ReadBy() []string {
	names := make([]string, 0, len(m.Receipts))
	for _, r := range m.Receipts {
		names = append(names, r.Username)
	}
	return names
}

// ReadReceipt records that a user has seen a message.
// At most one per (message, username) pair.
type ReadReceipt struct {
	ID        int64     `gorm:"primarykey" json:"-"`
	MessageID int64     `gorm:"not null;uniqueIndex:idx_receipt_msg_user" json:"message_id"`
	Username  string    `gorm:"size:50;not null;uniqueIndex:idx_receipt_msg_user" json:"username"`
	ReadAt    time.Time `json:"read_at"`
}

func (ReadReceipt) TableName() string { return "read_receipts" }

// Store is the persistence port consumed by the session coordinator.
type Store interface {
	// Append durably commits a new message and returns it with its
	// store-assigned, monotonically increasing id.
	Append(ctx context.Context, room, username, content string) (*Message, error)
	// History returns the room's messages in commit order, receipts loaded.
	History(ctx context.Context, room string) ([]Message, error)
	// Get returns a message by id, receipts loaded, or ErrNotFound.
	Get(ctx context.Context, id int64) (*Message, error)
	// AddReceipt records that username has read the message. Idempotent;
	// reports whether a new receipt was created.
	AddReceipt(ctx context.Context, messageID int64, username string) (bool, error)
	// ReceiptsFor lists usernames that have read the message.
	ReceiptsFor(ctx context.Context, messageID int64) ([]string, error)
}
