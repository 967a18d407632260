// Package connectors loads the connector catalog: which connector types
// exist, how each one's OAuth provider is spoken to, and which cache
// keys are worth preloading. Per-service API clients live outside this
// repository; the catalog only describes them.
package connectors

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pysugar/connector-nexus/internal/accounts"
	"github.com/pysugar/connector-nexus/internal/auth/broker"
	"golang.org/x/oauth2"
	"gopkg.in/yaml.v3"
)

// authStyle maps the catalog's auth_style value onto the oauth2 constant
// the broker understands.
func authStyle(s string) oauth2.AuthStyle {
	if s == AuthStyleBasic {
		return oauth2.AuthStyleInHeader
	}
	return oauth2.AuthStyleInParams
}

const (
	AuthStyleBody  = "body"
	AuthStyleBasic = "basic"

	tenantPlaceholder = "{tenant}"
)

type fileConfig struct {
	Connectors []ConnectorConfig `yaml:"connectors"`
}

// ConnectorConfig is one connector type's catalog entry.
type ConnectorConfig struct {
	Type               string            `yaml:"type"`
	TokenURL           string            `yaml:"token_url"`
	AuthStyle          string            `yaml:"auth_style"` // "body" (default) or "basic"
	ExtraRefreshParams map[string]string `yaml:"extra_refresh_params"`
	Preload            []PreloadConfig   `yaml:"preload"`
}

// PreloadConfig declares one warmable cache key for a connector type.
type PreloadConfig struct {
	CacheKey string `yaml:"cache_key"`
	TTL      string `yaml:"ttl"`
	Path     string `yaml:"path"`
}

// Catalog holds the loaded connector configurations.
type Catalog struct {
	byType map[string]ConnectorConfig
}

// Load reads and validates the connector catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing catalog %s: %w", path, err)
	}

	c := &Catalog{byType: make(map[string]ConnectorConfig, len(cfg.Connectors))}
	for _, conn := range cfg.Connectors {
		if conn.Type == "" {
			return nil, fmt.Errorf("catalog entry missing type")
		}
		if conn.TokenURL == "" {
			return nil, fmt.Errorf("connector %q missing token_url", conn.Type)
		}
		switch conn.AuthStyle {
		case "", AuthStyleBody, AuthStyleBasic:
		default:
			return nil, fmt.Errorf("connector %q has unknown auth_style %q", conn.Type, conn.AuthStyle)
		}
		for _, p := range conn.Preload {
			if _, err := time.ParseDuration(p.TTL); err != nil {
				return nil, fmt.Errorf("connector %q preload %q: bad ttl %q", conn.Type, p.CacheKey, p.TTL)
			}
		}
		if _, dup := c.byType[conn.Type]; dup {
			return nil, fmt.Errorf("duplicate connector type %q", conn.Type)
		}
		c.byType[conn.Type] = conn
	}
	return c, nil
}

// Types returns every configured connector type.
func (c *Catalog) Types() []string {
	types := make([]string, 0, len(c.byType))
	for t := range c.byType {
		types = append(types, t)
	}
	return types
}

// Get returns one connector's configuration.
func (c *Catalog) Get(connector string) (ConnectorConfig, bool) {
	conn, ok := c.byType[connector]
	return conn, ok
}

// ProviderSpec builds the broker parameterization for a connector type.
// It satisfies broker.SpecSource.
func (c *Catalog) ProviderSpec(connector string) (broker.ProviderSpec, bool) {
	conn, ok := c.byType[connector]
	if !ok {
		return broker.ProviderSpec{}, false
	}

	spec := broker.ProviderSpec{AuthStyle: authStyle(conn.AuthStyle)}

	if len(conn.ExtraRefreshParams) > 0 {
		spec.ExtraRefreshParams = url.Values{}
		for k, v := range conn.ExtraRefreshParams {
			spec.ExtraRefreshParams.Set(k, v)
		}
	}

	if strings.Contains(conn.TokenURL, tenantPlaceholder) {
		template := conn.TokenURL
		spec.TokenURLResolver = func(cfg *accounts.Config) string {
			return strings.ReplaceAll(template, tenantPlaceholder, cfg.Tenant)
		}
	} else {
		spec.TokenURL = conn.TokenURL
	}
	return spec, true
}
