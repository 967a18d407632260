// Package config loads application settings from a YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds process-level settings. Per-connector settings live in
// the connector catalog file instead.
type Config struct {
	ListenAddr  string `yaml:"listen_addr"`
	DBPath      string `yaml:"db_path"`
	KeysetPath  string `yaml:"keyset_path"`
	CatalogPath string `yaml:"catalog_path"`

	// SweepInterval drives the periodic expired-row cleanup. The cache
	// store never sweeps on its own.
	SweepInterval    time.Duration `yaml:"-"`
	SweepIntervalRaw string        `yaml:"sweep_interval"`

	PreloadOnBoot bool `yaml:"preload_on_boot"`
}

// Defaults used when the file or a field is absent.
func defaults() Config {
	return Config{
		ListenAddr:    ":8080",
		DBPath:        "nexus.db",
		KeysetPath:    "keyset.json",
		CatalogPath:   "connectors.yaml",
		SweepInterval: 10 * time.Minute,
		PreloadOnBoot: true,
	}
}

// Load reads the config file (optional) and applies env overrides.
func Load(path string) (Config, error) {
	cfg := defaults()

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config %s: %w", path, err)
		}
		if cfg.SweepIntervalRaw != "" {
			interval, err := time.ParseDuration(cfg.SweepIntervalRaw)
			if err != nil {
				return cfg, fmt.Errorf("bad sweep_interval %q: %w", cfg.SweepIntervalRaw, err)
			}
			cfg.SweepInterval = interval
		}
	}

	// Env overrides
	if v := os.Getenv("NEXUS_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("NEXUS_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("NEXUS_KEYSET_PATH"); v != "" {
		cfg.KeysetPath = v
	}
	if v := os.Getenv("NEXUS_CATALOG_PATH"); v != "" {
		cfg.CatalogPath = v
	}
	if v := os.Getenv("NEXUS_SWEEP_INTERVAL"); v != "" {
		interval, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("bad NEXUS_SWEEP_INTERVAL %q: %w", v, err)
		}
		cfg.SweepInterval = interval
	}
	if v := os.Getenv("NEXUS_PRELOAD_ON_BOOT"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("bad NEXUS_PRELOAD_ON_BOOT %q: %w", v, err)
		}
		cfg.PreloadOnBoot = enabled
	}

	return cfg, nil
}
