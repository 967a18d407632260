package server

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pysugar/connector-nexus/internal/accounts"
	"github.com/pysugar/connector-nexus/internal/auth/broker"
	"github.com/pysugar/connector-nexus/internal/connectors"
	"github.com/pysugar/connector-nexus/internal/db"
	"github.com/pysugar/connector-nexus/internal/version"
)

func encodeJSON(w io.Writer, v any) {
	json.NewEncoder(w).Encode(v)
}

// HealthHandler reports liveness and build information.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version.Version,
			"commit":  version.Commit,
		})
	}
}

// accountView is the wire shape for an account. The encrypted blob never
// leaves the server.
type accountView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Connector string    `json:"connector"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ListAccountsHandler returns all enabled accounts.
func ListAccountsHandler(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := deps.Accounts.ListEnabled(r.URL.Query().Get("connector"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		views := make([]accountView, 0, len(list))
		for _, acc := range list {
			views = append(views, accountView{
				ID:        acc.ID,
				Name:      acc.Name,
				Connector: acc.Connector,
				IsActive:  acc.IsActive,
				CreatedAt: acc.CreatedAt,
				UpdatedAt: acc.UpdatedAt,
			})
		}
		writeJSON(w, http.StatusOK, views)
	}
}

type createAccountRequest struct {
	Name      string          `json:"name"`
	Connector string          `json:"connector"`
	Config    accounts.Config `json:"config"`
}

// CreateAccountHandler configures a new integration account.
func CreateAccountHandler(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createAccountRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.Name == "" || req.Connector == "" {
			writeError(w, http.StatusBadRequest, "name and connector are required")
			return
		}
		if _, ok := deps.Catalog.Get(req.Connector); !ok {
			writeError(w, http.StatusBadRequest, "unknown connector type: "+req.Connector)
			return
		}

		account, err := deps.Accounts.Create(req.Name, req.Connector, req.Config)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, accountView{
			ID:        account.ID,
			Name:      account.Name,
			Connector: account.Connector,
			IsActive:  account.IsActive,
			CreatedAt: account.CreatedAt,
			UpdatedAt: account.UpdatedAt,
		})
	}
}

// DeleteAccountHandler removes an account together with its broker and
// cached entries.
func DeleteAccountHandler(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID := chi.URLParam(r, "id")
		if _, err := deps.Accounts.Get(accountID); err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		if err := deps.Accounts.Delete(accountID); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		deps.Brokers.Remove(accountID)
		if err := deps.Cache.Invalidate(accountID); err != nil {
			log.Printf("⚠️ Failed to drop cache entries for deleted account %s: %v", accountID, err)
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// TestConnectionHandler performs an interactive token refresh for one
// account. This is one of the few places raw provider error text is
// surfaced to the caller.
func TestConnectionHandler(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, err := deps.Accounts.Get(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}

		b, err := deps.Brokers.For(account)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		if _, err := b.AccessToken(r.Context()); err != nil {
			status := http.StatusBadGateway
			if errors.Is(err, broker.ErrAuthorizationRequired) {
				status = http.StatusUnauthorized
			}
			writeJSON(w, status, map[string]string{
				"status": "failed",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// CacheStatusHandler reports cached-vs-registered key staleness for
// every enabled account without touching the network.
func CacheStatusHandler(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		statuses, err := deps.Orchestrator.CacheStatus()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, statuses)
	}
}

// InvalidateCacheHandler drops one key (?key=) or all entries for an
// account.
func InvalidateCacheHandler(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID := chi.URLParam(r, "accountID")
		var err error
		if key := r.URL.Query().Get("key"); key != "" {
			err = deps.Cache.Invalidate(accountID, key)
		} else {
			err = deps.Cache.Invalidate(accountID)
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
	}
}

// CleanupCacheHandler bulk-deletes expired rows. Exposed so an external
// scheduler can drive the sweep.
func CleanupCacheHandler(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		removed, err := deps.Cache.CleanupExpired()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"removed": removed})
	}
}

// PreloadHandler triggers a full cache-warming pass and returns the
// per-account outcome reports.
func PreloadHandler(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reports, err := deps.Orchestrator.PreloadAll(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, reports)
	}
}

// QueryConnectorHandler fans one read across every instance of a
// connector type and returns the merged, provenance-tagged results.
func QueryConnectorHandler(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connector := chi.URLParam(r, "type")
		if _, ok := deps.Catalog.Get(connector); !ok {
			writeError(w, http.StatusNotFound, "unknown connector type: "+connector)
			return
		}
		path := r.URL.Query().Get("path")
		if path == "" {
			writeError(w, http.StatusBadRequest, "path query parameter is required")
			return
		}

		instances, err := deps.Accounts.ListEnabled(connector)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		merged := connectors.QueryInstances(r.Context(), connectors.Deps{
			Accounts: deps.Accounts,
			Brokers:  deps.Brokers,
		}, instances, connectors.QueryOptions{
			Path:        path,
			Target:      r.URL.Query().Get("target"),
			DedupeField: r.URL.Query().Get("dedupe"),
			SortField:   r.URL.Query().Get("sort"),
		})
		writeJSON(w, http.StatusOK, merged)
	}
}

// RegenerateAPIKeyHandler rotates the admin API key.
func RegenerateAPIKeyHandler(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := db.RegenerateAPIKey(deps.DB)
		writeJSON(w, http.StatusOK, map[string]string{"apiKey": apiKey})
	}
}
