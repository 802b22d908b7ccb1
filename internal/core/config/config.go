package config

import (
	"time"

	redisclient "github.com/vietddude/conveyor/internal/infra/redis"
	"github.com/vietddude/conveyor/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server      ServerConfig             `yaml:"server"`
	Database    postgres.Config          `yaml:"database"`
	Redis       redisclient.Config       `yaml:"redis"`
	Logging     LoggingConfig            `yaml:"logging"`
	Retry       RetryConfig              `yaml:"retry"`
	Breaker     BreakerConfig            `yaml:"breaker"`
	Idempotency IdempotencyConfig        `yaml:"idempotency"`
	DeadLetter  DeadLetterConfig         `yaml:"dead_letter"`
	RateLimits  map[string]RateLimitRule `yaml:"rate_limits"`
	Dispatcher  DispatcherConfig         `yaml:"dispatcher"`
	Janitor     JanitorConfig            `yaml:"janitor"`
	Saga        SagaConfig               `yaml:"saga"`
}

// ServerConfig holds health/metrics HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// RetryConfig holds the default retry policy. Handlers may override
// both the decision and the delay per job type.
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	Factor     float64       `yaml:"factor"`
}

// BreakerConfig holds circuit breaker thresholds.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

// IdempotencyConfig holds claim expiry settings.
type IdempotencyConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// DeadLetterConfig holds dead-letter retention settings.
type DeadLetterConfig struct {
	Retention time.Duration `yaml:"retention"`
}

// RateLimitRule configures one limit type: at most Limit admissions per
// fixed Window.
type RateLimitRule struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

// LaneConfig tunes one priority lane of the dispatcher.
type LaneConfig struct {
	Workers         int           `yaml:"workers"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	MinPollInterval time.Duration `yaml:"min_poll_interval"`
	MaxBatch        int           `yaml:"max_batch"`
}

// DispatcherConfig holds per-lane settings keyed by priority name
// (critical, urgent, normal, bulk, maintenance).
type DispatcherConfig struct {
	Lanes map[string]LaneConfig `yaml:"lanes"`
}

// JanitorConfig holds background cleanup settings.
type JanitorConfig struct {
	Interval     time.Duration `yaml:"interval"`
	JobRetention time.Duration `yaml:"job_retention"`
}

// SagaConfig holds saga record retention settings.
type SagaConfig struct {
	Retention time.Duration `yaml:"retention"`
}
