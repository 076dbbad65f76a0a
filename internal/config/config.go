// Package config handles YAML configuration loading with environment variable
// expansion, plus first-run database seeding.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/bifrost-ai/bifrost/internal/admission"
	"github.com/bifrost-ai/bifrost/internal/catalog"
	"github.com/bifrost-ai/bifrost/internal/circuitbreaker"
	"github.com/bifrost-ai/bifrost/internal/router"
)

// Config is the top-level gateway configuration.
type Config struct {
	Server    ServerConfig          `yaml:"server"`
	Database  DatabaseConfig        `yaml:"database"`
	Console   ConsoleConfig         `yaml:"console"`
	Limits    admission.Limits      `yaml:"limits"`
	Breaker   circuitbreaker.Config `yaml:"breaker"`
	Models    []catalog.Entry       `yaml:"models"`
	Routing   RoutingConfig         `yaml:"routing"`
	Adapters  []AdapterEntry        `yaml:"adapters"`
	Stream    StreamConfig          `yaml:"stream"`
	Telemetry TelemetryConfig       `yaml:"telemetry"`
	Keys      []KeyEntry            `yaml:"keys"`
	Orgs      []OrgEntry            `yaml:"orgs"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	DSN        string        `yaml:"dsn"`         // file path or ":memory:"
	QueueDecay time.Duration `yaml:"queue_decay"` // queued-attempt counter decay
}

// ConsoleConfig controls the console identity surface.
type ConsoleConfig struct {
	// Production requires explicit identity headers on console requests.
	// Development mode fills in a default operator instead.
	Production bool `yaml:"production"`
}

// RoutingConfig declares the provider-route table. Empty sections fall back
// to the built-in table.
type RoutingConfig struct {
	Routes   []router.Route      `yaml:"routes"`
	Families map[string][]string `yaml:"families"`
	Generic  []string            `yaml:"generic"`
}

// AdapterEntry binds a route class to a generation backend. Classes without
// an entry use the built-in synthetic backend.
type AdapterEntry struct {
	Class   string `yaml:"class"`    // external | self_hosted
	Type    string `yaml:"type"`     // synth | remote
	BaseURL string `yaml:"base_url"` // remote only
	APIKey  string `yaml:"api_key"`  // remote only, e.g. ${UPSTREAM_KEY}
}

// StreamConfig controls SSE response shaping.
type StreamConfig struct {
	ChunkRunes int `yaml:"chunk_runes"` // 0 = default segment width
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

// KeyEntry is an API key seed in the config file. The plaintext secret is
// hashed on bootstrap and never persisted.
type KeyEntry struct {
	Label  string   `yaml:"label"`
	Secret string   `yaml:"secret"` // plaintext, e.g. ${BIFROST_CI_KEY}
	OrgID  string   `yaml:"org_id"`
	Scopes []string `yaml:"scopes"`
	Owner  string   `yaml:"owner"` // seeded as the key's creator and org owner
}

// OrgEntry is an organization seed in the config file.
type OrgEntry struct {
	ID    string `yaml:"id"`
	Owner string `yaml:"owner"`
}

// Catalog builds the model catalog from the configured entries, or the
// built-in catalog when none are declared.
func (c *Config) Catalog() (*catalog.Catalog, error) {
	if len(c.Models) == 0 {
		return catalog.Default(), nil
	}
	return catalog.New(c.Models)
}

// Routes returns the configured routing table, or the built-in table when
// no routes are declared.
func (c *Config) Routes() *router.Table {
	if len(c.Routing.Routes) == 0 {
		return router.Default()
	}
	return router.NewTable(c.Routing.Routes, c.Routing.Families, c.Routing.Generic)
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	cfg := &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			DSN: "bifrost.db",
		},
		Limits:  admission.DefaultLimits(),
		Breaker: circuitbreaker.DefaultConfig(),
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
