package connectors

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/pysugar/connector-nexus/internal/accounts"
	"github.com/pysugar/connector-nexus/internal/auth/broker"
	"github.com/pysugar/connector-nexus/internal/db/models"
	"github.com/pysugar/connector-nexus/internal/secrets"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
)

type fixedSpec struct{ spec broker.ProviderSpec }

func (f fixedSpec) ProviderSpec(connector string) (broker.ProviderSpec, bool) {
	return f.spec, true
}

// newSite starts a fake tracker instance serving issues, fronted by its
// own account row.
func newSite(t *testing.T, store *accounts.Store, name string, issues []map[string]any) *models.Account {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(issues)
	}))
	t.Cleanup(srv.Close)

	account, err := store.Create(name, "tracker", accounts.Config{
		ClientID:     "cid",
		ClientSecret: "cs",
		RefreshToken: "rt",
		BaseURL:      srv.URL,
	})
	if err != nil {
		t.Fatalf("create site account: %v", err)
	}
	return account
}

func TestQueryInstancesMergesWithProvenance(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.Account{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cipher, err := secrets.NewTestAEAD()
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	store := accounts.NewStore(db, cipher)

	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at", "expires_in": 3600, "token_type": "Bearer",
		})
	}))
	defer tokenSrv.Close()

	brokers := broker.NewRegistry(store, fixedSpec{broker.ProviderSpec{
		TokenURL:  tokenSrv.URL,
		AuthStyle: oauth2.AuthStyleInParams,
	}})
	deps := Deps{Accounts: store, Brokers: brokers}

	siteA := newSite(t, store, "site-a", []map[string]any{
		{"key": "PROJ-1", "updated": "2025-06-01T10:00:00Z"},
		{"key": "PROJ-2", "updated": "2025-06-01T12:00:00Z"},
	})
	siteB := newSite(t, store, "site-b", []map[string]any{
		{"key": "PROJ-1", "updated": "2025-06-01T11:00:00Z"}, // overlaps site-a
		{"key": "PROJ-3", "updated": "2025-06-01T13:00:00Z"},
	})

	instances, err := store.ListEnabled("tracker")
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	merged := QueryInstances(context.Background(), deps, instances, QueryOptions{
		Path:        "/rest/api/search",
		DedupeField: "key",
		SortField:   "updated",
	})

	if len(merged) != 3 {
		t.Fatalf("merged = %d, want 3 after dedupe", len(merged))
	}
	if merged[0].Item["key"] != "PROJ-3" {
		t.Fatalf("most recent first, got %v", merged[0].Item["key"])
	}
	for _, item := range merged {
		if item.Source != siteA.Name && item.Source != siteB.Name {
			t.Fatalf("item without provenance: %+v", item)
		}
	}
}

func TestQueryInstancesDedupesOnNonScalarField(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.Account{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cipher, _ := secrets.NewTestAEAD()
	store := accounts.NewStore(db, cipher)

	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at", "expires_in": 3600, "token_type": "Bearer",
		})
	}))
	defer tokenSrv.Close()

	brokers := broker.NewRegistry(store, fixedSpec{broker.ProviderSpec{
		TokenURL:  tokenSrv.URL,
		AuthStyle: oauth2.AuthStyleInParams,
	}})
	deps := Deps{Accounts: store, Brokers: brokers}

	// The dedupe field is request-supplied and may name a list- or
	// object-valued field; that must collapse duplicates, not panic.
	newSite(t, store, "site-a", []map[string]any{
		{"key": "PROJ-1", "labels": []any{"bug", "urgent"}},
		{"key": "PROJ-2", "labels": []any{"bug", "urgent"}},
		{"key": "PROJ-3", "labels": []any{"feature"}},
	})

	instances, err := store.ListEnabled("tracker")
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	merged := QueryInstances(context.Background(), deps, instances, QueryOptions{
		Path:        "/rest/api/search",
		DedupeField: "labels",
	})

	if len(merged) != 2 {
		t.Fatalf("merged = %d, want 2 distinct label sets", len(merged))
	}
}

func TestDedupeKeyCanonicalizesValues(t *testing.T) {
	cases := []struct {
		value any
		want  string
	}{
		{"PROJ-1", "PROJ-1"},
		{float64(42), "42"},
		{nil, "null"},
		{[]any{"bug", "urgent"}, `["bug","urgent"]`},
		{map[string]any{"id": "x"}, `{"id":"x"}`},
	}
	for _, c := range cases {
		if got := dedupeKey(c.value); got != c.want {
			t.Fatalf("dedupeKey(%v) = %q, want %q", c.value, got, c.want)
		}
	}
}

func TestQueryInstancesSkipsUnreachableInstance(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.Account{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cipher, _ := secrets.NewTestAEAD()
	store := accounts.NewStore(db, cipher)

	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at", "expires_in": 3600, "token_type": "Bearer",
		})
	}))
	defer tokenSrv.Close()

	brokers := broker.NewRegistry(store, fixedSpec{broker.ProviderSpec{
		TokenURL:  tokenSrv.URL,
		AuthStyle: oauth2.AuthStyleInParams,
	}})
	deps := Deps{Accounts: store, Brokers: brokers}

	newSite(t, store, "site-a", []map[string]any{
		{"key": "PROJ-1"},
	})
	// site-b points at a dead base URL.
	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	downstream.Close()
	store.Create("site-b", "tracker", accounts.Config{
		ClientID: "cid", ClientSecret: "cs", RefreshToken: "rt", BaseURL: downstream.URL,
	})

	instances, _ := store.ListEnabled("tracker")
	merged := QueryInstances(context.Background(), deps, instances, QueryOptions{Path: "/x"})

	if len(merged) != 1 || merged[0].Source != "site-a" {
		t.Fatalf("expected only site-a results, got %+v", merged)
	}
}
