package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	gateway "github.com/bifrost-ai/bifrost/internal"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, `
server:
  addr: ":9090"
  read_timeout: 10s
database:
  dsn: ":memory:"
limits:
  user_daily_requests: 100
breaker:
  error_threshold: 0.5
  open_timeout: 10s
models:
  - id: gpt-4o
    family: gpt
    capabilities: [streaming, completion, tools]
    max_output_tokens: 4096
routing:
  routes:
    - key: openai-main
      class: external
      priority: 3
      streaming: true
  families:
    gpt: [openai-main]
  generic: [openai-main]
stream:
  chunk_runes: 40
`))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Addr != ":9090" || cfg.Server.ReadTimeout != 10*time.Second {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Database.DSN != ":memory:" {
		t.Errorf("dsn = %q", cfg.Database.DSN)
	}
	if cfg.Limits.UserDailyRequests != 100 {
		t.Errorf("user_daily_requests = %d, want 100", cfg.Limits.UserDailyRequests)
	}
	// Unset limit fields take the YAML zero, not the default; disabled is a
	// valid configuration.
	if cfg.Breaker.ErrorThreshold != 0.5 || cfg.Breaker.OpenTimeout != 10*time.Second {
		t.Errorf("breaker = %+v", cfg.Breaker)
	}
	if cfg.Stream.ChunkRunes != 40 {
		t.Errorf("chunk_runes = %d", cfg.Stream.ChunkRunes)
	}

	cat, err := cfg.Catalog()
	if err != nil {
		t.Fatal(err)
	}
	m, ok := cat.Get("gpt-4o")
	if !ok {
		t.Fatal("gpt-4o missing from catalog")
	}
	if !m.Caps.Tools() || m.Caps.Vision() {
		t.Errorf("caps = %v", m.Caps)
	}

	table := cfg.Routes()
	sel, err := table.Choose(m, gateway.CapStreaming)
	if err != nil {
		t.Fatal(err)
	}
	if sel.Route.Key != "openai-main" {
		t.Errorf("route = %q", sel.Route.Key)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, `{}`))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("default addr = %q", cfg.Server.Addr)
	}
	if cfg.Database.DSN != "bifrost.db" {
		t.Errorf("default dsn = %q", cfg.Database.DSN)
	}
	if cfg.Limits.UserDailyRequests != 2_000 {
		t.Errorf("default user_daily_requests = %d", cfg.Limits.UserDailyRequests)
	}
	if cfg.Breaker.MinSamples != 10 {
		t.Errorf("default min_samples = %d", cfg.Breaker.MinSamples)
	}

	cat, err := cfg.Catalog()
	if err != nil {
		t.Fatal(err)
	}
	if len(cat.List()) == 0 {
		t.Error("default catalog is empty")
	}
	if cfg.Routes() == nil {
		t.Error("default routing table is nil")
	}
}

func TestExpandEnv(t *testing.T) {
	// Cannot use t.Parallel() with t.Setenv
	t.Setenv("TEST_SEED_KEY", "bf_secret123")

	cfg, err := Load(writeConfig(t, `
keys:
  - label: ci
    secret: ${TEST_SEED_KEY}
    org_id: org-ci
`))
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Keys) != 1 || cfg.Keys[0].Secret != "bf_secret123" {
		t.Fatalf("keys = %+v", cfg.Keys)
	}

	// Unset variables stay literal so misconfiguration is visible downstream.
	out := expandEnv([]byte("secret: ${NO_SUCH_VAR_SET}"))
	if string(out) != "secret: ${NO_SUCH_VAR_SET}" {
		t.Errorf("expandEnv = %q", out)
	}
}

func TestLoadBadCatalogEntry(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, `
models:
  - id: broken
    capabilities: [telepathy]
`))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cfg.Catalog(); err == nil {
		t.Fatal("expected catalog error for unknown capability")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
