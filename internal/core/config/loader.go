package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns a configuration with all defaults applied and no
// database URL, i.e. the in-memory mode used by tests and local runs.
func Default() *AppConfig {
	var cfg AppConfig
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry.MaxRetries = 3
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = 30 * time.Second
	}
	if cfg.Retry.Factor == 0 {
		cfg.Retry.Factor = 3.0
	}

	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = 5
	}
	if cfg.Breaker.Cooldown == 0 {
		cfg.Breaker.Cooldown = time.Minute
	}

	if cfg.Idempotency.TTL == 0 {
		cfg.Idempotency.TTL = 24 * time.Hour
	}

	if cfg.DeadLetter.Retention == 0 {
		cfg.DeadLetter.Retention = 30 * 24 * time.Hour
	}

	if cfg.Janitor.Interval == 0 {
		cfg.Janitor.Interval = 10 * time.Minute
	}
	if cfg.Janitor.JobRetention == 0 {
		cfg.Janitor.JobRetention = 7 * 24 * time.Hour
	}

	if cfg.Saga.Retention == 0 {
		cfg.Saga.Retention = 30 * 24 * time.Hour
	}

	if cfg.Dispatcher.Lanes == nil {
		cfg.Dispatcher.Lanes = make(map[string]LaneConfig)
	}
	for name, lane := range cfg.Dispatcher.Lanes {
		if lane.Workers == 0 {
			lane.Workers = 4
		}
		if lane.PollInterval == 0 {
			lane.PollInterval = time.Second
		}
		if lane.MinPollInterval == 0 {
			lane.MinPollInterval = 100 * time.Millisecond
		}
		if lane.MaxBatch == 0 {
			lane.MaxBatch = 10
		}
		cfg.Dispatcher.Lanes[name] = lane
	}
}
