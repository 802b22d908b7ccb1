package cli

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigReadsFileAndAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 9099
retry:
  max_retries: 5
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	orig := cfgPath
	cfgPath = path
	defer func() { cfgPath = orig }()

	cfg, ok := loadConfig()
	if !ok {
		t.Fatal("loadConfig reported failure for a valid file")
	}
	if cfg.Server.Port != 9099 {
		t.Errorf("server port = %d, want 9099", cfg.Server.Port)
	}
	if cfg.Retry.MaxRetries != 5 {
		t.Errorf("max retries = %d, want 5", cfg.Retry.MaxRetries)
	}
	// Unset fields pick up defaults.
	if cfg.Breaker.FailureThreshold != 5 {
		t.Errorf("failure threshold = %d, want default 5", cfg.Breaker.FailureThreshold)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	orig := cfgPath
	cfgPath = filepath.Join(t.TempDir(), "nope.yaml")
	defer func() { cfgPath = orig }()

	if _, ok := loadConfig(); ok {
		t.Error("loadConfig should fail for a missing file")
	}
}
