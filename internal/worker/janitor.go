package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/conveyor/internal/dlq"
	"github.com/vietddude/conveyor/internal/idempotency"
	"github.com/vietddude/conveyor/internal/infra/storage"
	"github.com/vietddude/conveyor/internal/ratelimit"
)

// Config holds janitor retention settings.
type Config struct {
	Interval      time.Duration
	JobRetention  time.Duration
	DLQRetention  time.Duration
	SagaRetention time.Duration
}

// Janitor prunes aged rows from every table on a schedule. Each table
// is independently prunable; one failing sweep does not stop the rest.
type Janitor struct {
	cfg     Config
	jobs    storage.JobRepository
	sagas   storage.SagaRepository
	claims  *idempotency.Service
	limiter *ratelimit.Limiter
	dead    *dlq.Service
	log     *slog.Logger
}

func NewJanitor(
	cfg Config,
	jobs storage.JobRepository,
	sagas storage.SagaRepository,
	claims *idempotency.Service,
	limiter *ratelimit.Limiter,
	dead *dlq.Service,
	log *slog.Logger,
) *Janitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	return &Janitor{
		cfg:     cfg,
		jobs:    jobs,
		sagas:   sagas,
		claims:  claims,
		limiter: limiter,
		dead:    dead,
		log:     log,
	}
}

// Start runs the cleanup loop.
func (j *Janitor) Start(ctx context.Context) {
	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	// Initial sweep
	j.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	now := time.Now()

	if n, err := j.claims.Cleanup(ctx); err != nil {
		j.log.Warn("failed to prune idempotency claims", "error", err)
	} else if n > 0 {
		j.log.Debug("pruned idempotency claims", "count", n)
	}

	if n, err := j.limiter.Cleanup(ctx); err != nil {
		j.log.Warn("failed to prune rate windows", "error", err)
	} else if n > 0 {
		j.log.Debug("pruned rate windows", "count", n)
	}

	if n, err := j.dead.Cleanup(ctx, j.cfg.DLQRetention); err != nil {
		j.log.Warn("failed to prune dead letters", "error", err)
	} else if n > 0 {
		j.log.Debug("pruned dead letters", "count", n)
	}

	if j.cfg.JobRetention > 0 {
		if n, err := j.jobs.DeleteFinishedBefore(ctx, now.Add(-j.cfg.JobRetention)); err != nil {
			j.log.Warn("failed to prune finished jobs", "error", err)
		} else if n > 0 {
			j.log.Debug("pruned finished jobs", "count", n)
		}
	}

	if j.cfg.SagaRetention > 0 {
		if n, err := j.sagas.DeleteTerminalBefore(ctx, now.Add(-j.cfg.SagaRetention)); err != nil {
			j.log.Warn("failed to prune saga records", "error", err)
		} else if n > 0 {
			j.log.Debug("pruned saga records", "count", n)
		}
	}
}
