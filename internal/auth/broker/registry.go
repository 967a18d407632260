package broker

import (
	"fmt"
	"sync"

	"github.com/pysugar/connector-nexus/internal/accounts"
	"github.com/pysugar/connector-nexus/internal/db/models"
)

// SpecSource resolves the provider spec for a connector type. The
// connector catalog implements this.
type SpecSource interface {
	ProviderSpec(connector string) (ProviderSpec, bool)
}

// Registry maps account IDs to broker instances. Brokers are created on
// first use and never evicted automatically; Remove drops one when its
// account is deleted or disabled.
type Registry struct {
	store *accounts.Store
	specs SpecSource

	mu      sync.RWMutex
	brokers map[string]*Broker
}

// NewRegistry creates an empty broker registry.
func NewRegistry(store *accounts.Store, specs SpecSource) *Registry {
	return &Registry{
		store:   store,
		specs:   specs,
		brokers: make(map[string]*Broker),
	}
}

// For returns the broker for an account, creating it on first use.
func (r *Registry) For(account *models.Account) (*Broker, error) {
	r.mu.RLock()
	b, ok := r.brokers[account.ID]
	r.mu.RUnlock()
	if ok {
		return b, nil
	}

	spec, ok := r.specs.ProviderSpec(account.Connector)
	if !ok {
		return nil, fmt.Errorf("no provider spec for connector %q", account.Connector)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Re-check: another caller may have created it between the locks.
	if b, ok := r.brokers[account.ID]; ok {
		return b, nil
	}
	b = New(account.ID, r.store, spec)
	r.brokers[account.ID] = b
	return b, nil
}

// Remove drops a broker and its in-memory token.
func (r *Registry) Remove(accountID string) {
	r.mu.Lock()
	delete(r.brokers, accountID)
	r.mu.Unlock()
}
