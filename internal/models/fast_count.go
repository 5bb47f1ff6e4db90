package models

import (
	"fmt"
	"time"
)

// FastCount is one durable cached count for a (entity, manager, fingerprint)
// tuple. Writes are upserts on the composite key; rows persist past expiry
// and are simply ignored once ExpiresAt has passed.
type FastCount struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	EntityKey   string    `gorm:"size:100;not null;uniqueIndex:idx_fast_counts_identity" json:"entity_key"`
	ManagerName string    `gorm:"size:100;not null;uniqueIndex:idx_fast_counts_identity" json:"manager_name"`
	Fingerprint string    `gorm:"size:64;not null;uniqueIndex:idx_fast_counts_identity" json:"fingerprint"`
	Count       int64     `gorm:"not null" json:"count"`
	LastUpdated time.Time `gorm:"not null" json:"last_updated"`
	ExpiresAt   time.Time `gorm:"index;not null" json:"expires_at"`
	IsPrecached bool      `gorm:"index;default:false" json:"is_precached"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (f FastCount) String() string {
	hash := f.Fingerprint
	if len(hash) > 8 {
		hash = hash[:8]
	}
	return fmt.Sprintf("%s (%s) [%s...]", f.EntityKey, f.ManagerName, hash)
}
