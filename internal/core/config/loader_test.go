package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 0\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Retry.MaxRetries != 3 {
		t.Errorf("Retry.MaxRetries = %d, want 3", cfg.Retry.MaxRetries)
	}
	if cfg.Retry.BaseDelay != 30*time.Second {
		t.Errorf("Retry.BaseDelay = %v, want 30s", cfg.Retry.BaseDelay)
	}
	if cfg.Retry.Factor != 3.0 {
		t.Errorf("Retry.Factor = %v, want 3.0", cfg.Retry.Factor)
	}
	if cfg.Idempotency.TTL != 24*time.Hour {
		t.Errorf("Idempotency.TTL = %v, want 24h", cfg.Idempotency.TTL)
	}
	if cfg.DeadLetter.Retention != 30*24*time.Hour {
		t.Errorf("DeadLetter.Retention = %v, want 720h", cfg.DeadLetter.Retention)
	}
}

func TestLoadEnvExpansion(t *testing.T) {
	t.Setenv("TEST_DB_URL", "postgres://localhost/conveyor_test")

	path := writeConfig(t, "database:\n  url: ${TEST_DB_URL}\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Database.URL != "postgres://localhost/conveyor_test" {
		t.Errorf("Database.URL = %q, want expanded env value", cfg.Database.URL)
	}
}

func TestLoadLaneDefaults(t *testing.T) {
	path := writeConfig(t, `
dispatcher:
  lanes:
    critical:
      workers: 8
    bulk: {}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	critical := cfg.Dispatcher.Lanes["critical"]
	if critical.Workers != 8 {
		t.Errorf("critical.Workers = %d, want 8", critical.Workers)
	}
	if critical.PollInterval != time.Second {
		t.Errorf("critical.PollInterval = %v, want 1s", critical.PollInterval)
	}

	bulk := cfg.Dispatcher.Lanes["bulk"]
	if bulk.Workers != 4 {
		t.Errorf("bulk.Workers = %d, want default 4", bulk.Workers)
	}
	if bulk.MaxBatch != 10 {
		t.Errorf("bulk.MaxBatch = %d, want default 10", bulk.MaxBatch)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoadRateLimits(t *testing.T) {
	path := writeConfig(t, `
rate_limits:
  inbound_message:
    limit: 30
    window: 1m
  broadcast:
    limit: 5
    window: 1h
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	rule, ok := cfg.RateLimits["inbound_message"]
	if !ok {
		t.Fatal("expected inbound_message rule")
	}
	if rule.Limit != 30 || rule.Window != time.Minute {
		t.Errorf("inbound_message = {%d %v}, want {30 1m}", rule.Limit, rule.Window)
	}
}
