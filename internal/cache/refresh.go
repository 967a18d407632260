package cache

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/pysugar/connector-nexus/internal/db/models"
)

// Result is the outcome of a stale-tolerant read.
type Result struct {
	Data    json.RawMessage
	IsStale bool

	// Refresh is the handle for the background refresh spawned when
	// stale data was served. Nil when Data is fresh.
	Refresh *RefreshHandle
}

// RefreshHandle is a detached, awaitable background refresh. Its failure
// is logged, never propagated to the stale-read caller; if the process
// exits before it settles, the fresh value is simply recomputed on the
// next stale read.
type RefreshHandle struct {
	done chan struct{}
	err  error
}

// Done is closed when the refresh settles.
func (h *RefreshHandle) Done() <-chan struct{} { return h.done }

// Wait blocks until the refresh settles and returns its error, if any.
func (h *RefreshHandle) Wait() error {
	<-h.done
	return h.err
}

// GetWithBackgroundRefresh serves whatever the cache holds without ever
// blocking the caller on a refresh:
//
//   - absent: fetch synchronously, store, return fresh data;
//   - expired: return the stale payload immediately and refresh in the
//     background;
//   - fresh: return it, no extra work.
func (s *Store) GetWithBackgroundRefresh(ctx context.Context, accountID, key string, fetcher Fetcher, ttl time.Duration) (*Result, error) {
	var entry models.CacheEntry
	err := s.db.First(&entry, "account_id = ? AND cache_key = ?", accountID, key).Error
	if err != nil {
		// Absent: the caller waits for the first fetch.
		payload, err := s.GetOrFetch(ctx, accountID, key, fetcher, ttl)
		if err != nil {
			return nil, err
		}
		return &Result{Data: payload, IsStale: false}, nil
	}

	payload := json.RawMessage(entry.Payload)
	if !json.Valid(payload) {
		// Undecodable rows behave exactly like misses.
		s.db.Delete(&models.CacheEntry{}, "account_id = ? AND cache_key = ?", accountID, key)
		fresh, err := s.GetOrFetch(ctx, accountID, key, fetcher, ttl)
		if err != nil {
			return nil, err
		}
		return &Result{Data: fresh, IsStale: false}, nil
	}

	// Expired means strictly past the deadline, same rule Get applies.
	if !entry.ExpiresAt.Before(s.now()) {
		return &Result{Data: payload, IsStale: false}, nil
	}

	// Stale: serve the old snapshot now, refresh behind the caller's
	// back. The background task deliberately detaches from ctx so a
	// cancelled request doesn't abort the refresh mid-write.
	handle := &RefreshHandle{done: make(chan struct{})}
	go func() {
		defer close(handle.done)
		value, err := fetcher(context.WithoutCancel(ctx))
		if err != nil {
			handle.err = err
			log.Printf("⚠️ Background refresh failed for %s/%s: %v", accountID, key, err)
			return
		}
		if err := s.Set(accountID, key, value, ttl); err != nil {
			handle.err = err
			log.Printf("⚠️ Storing refreshed entry failed for %s/%s: %v", accountID, key, err)
		}
	}()

	return &Result{Data: payload, IsStale: true, Refresh: handle}, nil
}
