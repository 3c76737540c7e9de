// Package chatlog persists CHAT_MESSAGE envelopes relayed through a room.
//
// Persistence is an external-collaborator concern: the relay routes chat like
// any other broadcast and only tees a copy here. A nil *Store disables
// recording entirely.
package chatlog

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ChatMessage is one persisted chat line.
type ChatMessage struct {
	ID        uint   `gorm:"primarykey"`
	Room      string `gorm:"index"`
	Sender    string
	Body      string
	CreatedAt time.Time
}

type Store struct {
	db *gorm.DB
}

// Open opens (and migrates) the chat log database at path. Use ":memory:"
// for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("chatlog: open database: %w", err)
	}
	if err := db.AutoMigrate(&ChatMessage{}); err != nil {
		return nil, fmt.Errorf("chatlog: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Record appends one chat message.
func (s *Store) Record(room, sender, body string) error {
	return s.db.Create(&ChatMessage{Room: room, Sender: sender, Body: body}).Error
}

// Recent returns up to limit most recent messages for room, oldest first.
func (s *Store) Recent(room string, limit int) ([]ChatMessage, error) {
	var rows []ChatMessage
	err := s.db.Where("room = ?", room).Order("id desc").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
