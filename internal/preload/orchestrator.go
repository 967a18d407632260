package preload

import (
	"context"
	"log"
	"time"

	"github.com/pysugar/connector-nexus/internal/accounts"
	"github.com/pysugar/connector-nexus/internal/cache"
	"github.com/pysugar/connector-nexus/internal/db/models"
	"github.com/pysugar/connector-nexus/internal/fanout"
)

// Outcome statuses for one preload task.
const (
	StatusHit     = "hit"     // entry already cached and fresh
	StatusFetched = "fetched" // fetched and stored
	StatusFailed  = "failed"  // fetcher or store error, recorded not raised
)

// Outcome records what happened to one (account, cacheKey) during a
// preload pass.
type Outcome struct {
	CacheKey string `json:"cacheKey"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

// AccountReport aggregates one account's preload outcomes.
type AccountReport struct {
	AccountID string    `json:"accountId"`
	Name      string    `json:"name"`
	Connector string    `json:"connector"`
	Outcomes  []Outcome `json:"outcomes"`
}

// Orchestrator composes the account store, the cache, and the fan-out
// router into a cache-warming pass.
type Orchestrator struct {
	accounts *accounts.Store
	cache    *cache.Store
	registry *Registry
	now      func() time.Time
}

// NewOrchestrator creates a preload orchestrator.
func NewOrchestrator(accountStore *accounts.Store, cacheStore *cache.Store, registry *Registry) *Orchestrator {
	return &Orchestrator{
		accounts: accountStore,
		cache:    cacheStore,
		registry: registry,
		now:      time.Now,
	}
}

// PreloadAll warms every registered cache key for every enabled account.
// Accounts run in parallel to bound total latency; tasks within one
// account run sequentially to bound burst load on a single backend. Both
// halves of that split are deliberate policy.
func (o *Orchestrator) PreloadAll(ctx context.Context) ([]AccountReport, error) {
	enabled, err := o.accounts.ListEnabled("")
	if err != nil {
		return nil, err
	}

	branches := make([]fanout.Branch, 0, len(enabled))
	byID := make(map[string]models.Account, len(enabled))
	for _, acc := range enabled {
		branches = append(branches, fanout.Branch{Label: acc.Name, AccountID: acc.ID})
		byID[acc.ID] = acc
	}

	results := fanout.QueryAll(ctx, branches, func(ctx context.Context, b fanout.Branch) (AccountReport, error) {
		return o.preloadAccount(ctx, byID[b.AccountID]), nil
	}, "")

	reports := make([]AccountReport, 0, len(results))
	for _, r := range results {
		reports = append(reports, r.Value)
	}
	log.Printf("📦 Preload finished for %d accounts", len(reports))
	return reports, nil
}

// preloadAccount walks the account's registered tasks in order. Every
// failure becomes a recorded outcome; nothing is raised.
func (o *Orchestrator) preloadAccount(ctx context.Context, account models.Account) AccountReport {
	report := AccountReport{
		AccountID: account.ID,
		Name:      account.Name,
		Connector: account.Connector,
	}

	for _, task := range o.registry.TasksFor(account.Connector) {
		if _, ok := o.cache.Get(account.ID, task.CacheKey); ok {
			report.Outcomes = append(report.Outcomes, Outcome{CacheKey: task.CacheKey, Status: StatusHit})
			continue
		}

		value, err := task.Fetch(ctx, account)
		if err != nil {
			report.Outcomes = append(report.Outcomes, Outcome{
				CacheKey: task.CacheKey,
				Status:   StatusFailed,
				Error:    err.Error(),
			})
			continue
		}
		if err := o.cache.Set(account.ID, task.CacheKey, value, task.TTL); err != nil {
			report.Outcomes = append(report.Outcomes, Outcome{
				CacheKey: task.CacheKey,
				Status:   StatusFailed,
				Error:    err.Error(),
			})
			continue
		}
		report.Outcomes = append(report.Outcomes, Outcome{CacheKey: task.CacheKey, Status: StatusFetched})
	}
	return report
}
