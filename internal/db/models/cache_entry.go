package models

import "time"

// CacheEntry is one persisted cache row. Exactly one row exists per
// (AccountID, CacheKey) pair; writes are upserts, never appends.
type CacheEntry struct {
	AccountID string `gorm:"primaryKey;uniqueIndex:idx_account_cache_key"`
	CacheKey  string `gorm:"primaryKey;uniqueIndex:idx_account_cache_key"`
	Payload   string // serialized JSON
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
