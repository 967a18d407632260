package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pysugar/connector-nexus/internal/accounts"
	"github.com/pysugar/connector-nexus/internal/auth/broker"
	"github.com/pysugar/connector-nexus/internal/db/models"
	"github.com/pysugar/connector-nexus/internal/preload"
)

// Deps are the collaborators the generic fetcher needs.
type Deps struct {
	Accounts *accounts.Store
	Brokers  *broker.Registry
}

// JSONFetcher returns a preload fetcher that GETs path (relative to the
// account's base URL) through the account's credential broker and
// decodes the JSON reply.
func JSONFetcher(deps Deps, path string) preload.Fetcher {
	return func(ctx context.Context, account models.Account) (any, error) {
		return fetchJSON(ctx, deps, &account, path)
	}
}

func fetchJSON(ctx context.Context, deps Deps, account *models.Account, path string) (any, error) {
	cfg, err := deps.Accounts.DecodeConfig(account)
	if err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("account %s has no baseUrl configured", account.ID)
	}

	b, err := deps.Brokers.For(account)
	if err != nil {
		return nil, err
	}

	target := strings.TrimSuffix(cfg.BaseURL, "/") + "/" + strings.TrimPrefix(path, "/")
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var value any
	if err := json.NewDecoder(resp.Body).Decode(&value); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", path, err)
	}
	return value, nil
}

// RegisterPreloadTasks wires every catalog preload declaration into the
// orchestrator's registry. TTLs were validated at catalog load time.
func (c *Catalog) RegisterPreloadTasks(registry *preload.Registry, deps Deps) {
	for connector, conn := range c.byType {
		for _, p := range conn.Preload {
			ttl, _ := time.ParseDuration(p.TTL)
			registry.Register(connector, preload.Task{
				CacheKey: p.CacheKey,
				TTL:      ttl,
				Fetch:    JSONFetcher(deps, p.Path),
			})
		}
	}
}
