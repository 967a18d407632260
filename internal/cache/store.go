// Package cache is the persisted, TTL-bounded response cache. Rows are
// keyed (accountID, cacheKey) and independently addressed: no cross-row
// locking, no multi-key transactions.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/pysugar/connector-nexus/internal/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Fetcher produces a fresh payload for one cache key, typically by
// driving an account's credential broker.
type Fetcher func(ctx context.Context) (any, error)

// Store persists cache entries in the database.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// NewStore creates a cache store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Get returns the payload for (accountID, key), or a miss. An expired
// row is treated as a miss and opportunistically deleted; losing that
// delete race to another reader is fine, the outcome is the same miss.
func (s *Store) Get(accountID, key string) (json.RawMessage, bool) {
	var entry models.CacheEntry
	err := s.db.First(&entry, "account_id = ? AND cache_key = ?", accountID, key).Error
	if err != nil {
		return nil, false
	}

	if entry.ExpiresAt.Before(s.now()) {
		s.db.Delete(&models.CacheEntry{}, "account_id = ? AND cache_key = ?", accountID, key)
		return nil, false
	}

	payload := json.RawMessage(entry.Payload)
	if !json.Valid(payload) {
		// Undecodable payloads are misses, never errors.
		log.Printf("⚠️ Dropping undecodable cache entry %s/%s", accountID, key)
		s.db.Delete(&models.CacheEntry{}, "account_id = ? AND cache_key = ?", accountID, key)
		return nil, false
	}
	return payload, true
}

// Set upserts the payload for (accountID, key) with a fresh TTL.
func (s *Store) Set(accountID, key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding cache payload %s/%s: %w", accountID, key, err)
	}

	nowTS := s.now()
	entry := models.CacheEntry{
		AccountID: accountID,
		CacheKey:  key,
		Payload:   string(payload),
		ExpiresAt: nowTS.Add(ttl),
		CreatedAt: nowTS,
		UpdatedAt: nowTS,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}, {Name: "cache_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "expires_at", "updated_at"}),
	}).Create(&entry).Error
}

// Invalidate deletes one entry, or every entry for the account when no
// key is given.
func (s *Store) Invalidate(accountID string, key ...string) error {
	q := s.db.Where("account_id = ?", accountID)
	if len(key) > 0 {
		q = q.Where("cache_key IN ?", key)
	}
	return q.Delete(&models.CacheEntry{}).Error
}

// CleanupExpired bulk-deletes every expired row and returns the count
// removed. Meant to be driven by an external scheduler; the store never
// triggers it itself.
func (s *Store) CleanupExpired() (int64, error) {
	result := s.db.Where("expires_at < ?", s.now()).Delete(&models.CacheEntry{})
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		log.Printf("🧹 Removed %d expired cache entries", result.RowsAffected)
	}
	return result.RowsAffected, nil
}

// ListEntries returns all persisted rows for one account, expired or
// not. Diagnostic use only.
func (s *Store) ListEntries(accountID string) ([]models.CacheEntry, error) {
	var entries []models.CacheEntry
	err := s.db.Where("account_id = ?", accountID).Find(&entries).Error
	return entries, err
}

// GetOrFetch returns the cached payload, calling fetcher and storing the
// result on a miss. Concurrent misses on the same cold key may each
// invoke fetcher; the last Set wins and both callers get valid data.
func (s *Store) GetOrFetch(ctx context.Context, accountID, key string, fetcher Fetcher, ttl time.Duration) (json.RawMessage, error) {
	if payload, ok := s.Get(accountID, key); ok {
		return payload, nil
	}

	value, err := fetcher(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.Set(accountID, key, value, ttl); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encoding fetched payload %s/%s: %w", accountID, key, err)
	}
	return payload, nil
}
