package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/pysugar/connector-nexus/internal/accounts"
	"github.com/pysugar/connector-nexus/internal/auth/broker"
	"github.com/pysugar/connector-nexus/internal/cache"
	"github.com/pysugar/connector-nexus/internal/config"
	"github.com/pysugar/connector-nexus/internal/connectors"
	"github.com/pysugar/connector-nexus/internal/db"
	"github.com/pysugar/connector-nexus/internal/preload"
	"github.com/pysugar/connector-nexus/internal/secrets"
	"github.com/pysugar/connector-nexus/internal/server"
	"github.com/pysugar/connector-nexus/internal/version"
)

func main() {
	configPath := os.Getenv("NEXUS_CONFIG")
	if configPath == "" {
		configPath = "nexus.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize database
	database, err := db.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Initialize blob cipher and fail fast if it is misconfigured
	cipher, err := secrets.LoadKeyset(cfg.KeysetPath)
	if err != nil {
		log.Fatalf("Failed to load keyset: %v", err)
	}
	if err := secrets.Validate(cipher); err != nil {
		log.Fatalf("Encryption validation failed: %v", err)
	}

	// Load the connector catalog
	catalog, err := connectors.Load(cfg.CatalogPath)
	if err != nil {
		log.Fatalf("Failed to load connector catalog: %v", err)
	}
	log.Printf("📚 Loaded %d connector types", len(catalog.Types()))

	accountStore := accounts.NewStore(database, cipher)
	brokers := broker.NewRegistry(accountStore, catalog)
	cacheStore := cache.NewStore(database)

	registry := preload.NewRegistry()
	catalog.RegisterPreloadTasks(registry, connectors.Deps{
		Accounts: accountStore,
		Brokers:  brokers,
	})
	orchestrator := preload.NewOrchestrator(accountStore, cacheStore, registry)

	// Periodic expired-entry sweep; the store itself never self-triggers
	startSweepLoop(cacheStore, cfg.SweepInterval)

	// Warm caches ahead of interactive use
	if cfg.PreloadOnBoot {
		go func() {
			if _, err := orchestrator.PreloadAll(context.Background()); err != nil {
				log.Printf("⚠️ Boot preload failed: %v", err)
			}
		}()
	}

	router := server.NewRouter(server.Deps{
		DB:           database,
		Accounts:     accountStore,
		Brokers:      brokers,
		Cache:        cacheStore,
		Orchestrator: orchestrator,
		Catalog:      catalog,
	})

	log.Printf("🚀 connector-nexus %s listening on %s", version.Version, cfg.ListenAddr)
	if err := http.ListenAndServe(cfg.ListenAddr, router); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// startSweepLoop deletes expired cache rows on a fixed interval.
func startSweepLoop(cacheStore *cache.Store, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for range ticker.C {
			if _, err := cacheStore.CleanupExpired(); err != nil {
				log.Printf("⚠️ Cache sweep failed: %v", err)
			}
		}
	}()
	log.Printf("🧹 Cache sweep loop started (interval: %s)", interval)
}
