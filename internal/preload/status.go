package preload

import (
	"time"

	"github.com/pysugar/connector-nexus/internal/db/models"
)

// Key states reported by CacheStatus.
const (
	KeyFresh   = "fresh"
	KeyStale   = "stale"
	KeyMissing = "missing"
)

// KeyStatus describes one registered cache key for one account.
type KeyStatus struct {
	CacheKey  string `json:"cacheKey"`
	State     string `json:"state"`
	ExpiresAt string `json:"expiresAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

// AccountStatus is the per-account slice of the cache status report.
type AccountStatus struct {
	AccountID string      `json:"accountId"`
	Name      string      `json:"name"`
	Connector string      `json:"connector"`
	Keys      []KeyStatus `json:"keys"`
}

// CacheStatus joins persisted cache rows against the registered keys for
// every enabled account and reports staleness. Read-only: it makes no
// network calls and never mutates the cache.
func (o *Orchestrator) CacheStatus() ([]AccountStatus, error) {
	enabled, err := o.accounts.ListEnabled("")
	if err != nil {
		return nil, err
	}

	statuses := make([]AccountStatus, 0, len(enabled))
	for _, acc := range enabled {
		entries, err := o.cache.ListEntries(acc.ID)
		if err != nil {
			return nil, err
		}
		rows := make(map[string]models.CacheEntry, len(entries))
		for _, e := range entries {
			rows[e.CacheKey] = e
		}

		status := AccountStatus{AccountID: acc.ID, Name: acc.Name, Connector: acc.Connector}
		for _, task := range o.registry.TasksFor(acc.Connector) {
			entry, ok := rows[task.CacheKey]
			if !ok {
				status.Keys = append(status.Keys, KeyStatus{CacheKey: task.CacheKey, State: KeyMissing})
				continue
			}
			state := KeyFresh
			if entry.ExpiresAt.Before(o.now()) {
				state = KeyStale
			}
			status.Keys = append(status.Keys, KeyStatus{
				CacheKey:  task.CacheKey,
				State:     state,
				ExpiresAt: entry.ExpiresAt.UTC().Format(time.RFC3339),
				UpdatedAt: entry.UpdatedAt.UTC().Format(time.RFC3339),
			})
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}
