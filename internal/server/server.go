// Package server exposes the admin and diagnostic HTTP API: account
// management, connection testing, cache inspection, and preload
// triggering. Interactive endpoints surface raw provider error text;
// background work stays silent beyond logs.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/pysugar/connector-nexus/internal/accounts"
	"github.com/pysugar/connector-nexus/internal/auth/broker"
	"github.com/pysugar/connector-nexus/internal/cache"
	"github.com/pysugar/connector-nexus/internal/connectors"
	"github.com/pysugar/connector-nexus/internal/preload"
	"gorm.io/gorm"
)

// Deps bundles everything the handlers need.
type Deps struct {
	DB           *gorm.DB
	Accounts     *accounts.Store
	Brokers      *broker.Registry
	Cache        *cache.Store
	Orchestrator *preload.Orchestrator
	Catalog      *connectors.Catalog
}

// NewRouter builds the chi router with all routes mounted.
func NewRouter(deps Deps) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(RequestID)

	r.Get("/healthz", HealthHandler())

	r.Route("/api", func(r chi.Router) {
		r.Use(APIKeyAuth(deps.DB))

		// Account management
		r.Get("/accounts", ListAccountsHandler(deps))
		r.Post("/accounts", CreateAccountHandler(deps))
		r.Delete("/accounts/{id}", DeleteAccountHandler(deps))
		r.Post("/accounts/{id}/test", TestConnectionHandler(deps))

		// Cache
		r.Get("/cache/status", CacheStatusHandler(deps))
		r.Delete("/cache/{accountID}", InvalidateCacheHandler(deps))
		r.Post("/cache/cleanup", CleanupCacheHandler(deps))

		// Preload
		r.Post("/preload", PreloadHandler(deps))

		// Multi-instance connector queries
		r.Get("/connectors/{type}/query", QueryConnectorHandler(deps))

		// API key management
		r.Post("/config/apikey/regenerate", RegenerateAPIKeyHandler(deps))
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encodeJSON(w, v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
