// Package preload warms the response cache for every enabled account
// ahead of interactive use.
package preload

import (
	"context"
	"sync"
	"time"

	"github.com/pysugar/connector-nexus/internal/db/models"
)

// Fetcher retrieves one payload for one account, driving that account's
// credential broker internally. The orchestrator knows nothing about
// provider specifics.
type Fetcher func(ctx context.Context, account models.Account) (any, error)

// Task declares one warmable cache entry for a connector type.
type Task struct {
	CacheKey string
	TTL      time.Duration
	Fetch    Fetcher
}

// Registry is the declarative extension point mapping connector type to
// the entries worth preloading. Connector implementations register here
// at startup.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string][]Task
}

// NewRegistry creates an empty preload registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string][]Task)}
}

// Register appends tasks for a connector type.
func (r *Registry) Register(connector string, tasks ...Task) {
	r.mu.Lock()
	r.tasks[connector] = append(r.tasks[connector], tasks...)
	r.mu.Unlock()
}

// TasksFor returns the registered tasks for a connector type.
func (r *Registry) TasksFor(connector string) []Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tasks[connector]
}

// Connectors returns every connector type with registered tasks.
func (r *Registry) Connectors() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	return names
}
