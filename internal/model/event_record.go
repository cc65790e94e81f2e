package model

import "time"

// EventRecord is a developer-console event persisted by the event worker.
type EventRecord struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Type      string    `gorm:"size:16;not null;index" json:"type"`
	Category  string    `gorm:"size:64;not null;index" json:"category"`
	Data      string    `gorm:"type:text" json:"data"` // JSON
	UserID    string    `gorm:"size:64" json:"userId,omitempty"`
	Timestamp time.Time `gorm:"not null;index" json:"timestamp"`
}
