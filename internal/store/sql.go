package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// SQLStore implements Store on top of gorm/sqlite.
type SQLStore struct {
	db *gorm.DB
}

var _ Store = (*SQLStore)(nil)

func New(db *gorm.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Open opens (creating if needed) the sqlite database at path and runs
// migrations for the store's models.
func Open(path string) (*SQLStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.AutoMigrate(&Message{}, &ReadReceipt{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Append(ctx context.Context, room, username, content string) (*Message, error) {
	msg := &Message{Room: room, Username: username, Content: content}
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}
	return msg, nil
}

func (s *SQLStore) History(ctx context.Context, room string) ([]Message, error) {
	var msgs []Message
	err := s.db.WithContext(ctx).
		Preload("Receipts").
		Where("room = ?", room).
		Order("id asc").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return msgs, nil
}

func (s *SQLStore) Get(ctx context.Context, id int64) (*Message, error) {
	var msg Message
	err := s.db.WithContext(ctx).Preload("Receipts").First(&msg, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find message: %w", err)
	}
	return &msg, nil
}

func (s *SQLStore) AddReceipt(ctx context.Context, messageID int64, username string) (bool, error) {
	receipt := &ReadReceipt{MessageID: messageID, Username: username, ReadAt: time.Now().UTC()}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(receipt)
	if res.Error != nil {
		return false, fmt.Errorf("failed to add receipt: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *SQLStore) ReceiptsFor(ctx context.Context, messageID int64) ([]string, error) {
	names := make([]string, 0, 4)
	err := s.db.WithContext(ctx).
		Model(&ReadReceipt{}).
		Where("message_id = ?", messageID).
		Order("id asc").
		Pluck("username", &names).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load receipts: %w", err)
	}
	return names, nil
}
