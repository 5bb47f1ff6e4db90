package models

import (
	"time"
)

// KVEntry backs the database-backed ephemeral cache store. A zero ExpiresAt
// means the entry never expires.
type KVEntry struct {
	Key       string    `gorm:"primaryKey;size:256"`
	Value     []byte    `gorm:"type:blob"`
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
