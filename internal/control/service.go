// Package control assembles the processing layer: storage, queue lanes,
// retry machinery, resilience services and the admin surfaces, and owns
// their lifecycle.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/pressly/goose/v3"

	"github.com/vietddude/conveyor/internal/breaker"
	"github.com/vietddude/conveyor/internal/core/config"
	"github.com/vietddude/conveyor/internal/core/domain"
	"github.com/vietddude/conveyor/internal/dlq"
	"github.com/vietddude/conveyor/internal/events"
	"github.com/vietddude/conveyor/internal/health"
	"github.com/vietddude/conveyor/internal/idempotency"
	redisclient "github.com/vietddude/conveyor/internal/infra/redis"
	"github.com/vietddude/conveyor/internal/infra/storage"
	"github.com/vietddude/conveyor/internal/infra/storage/memory"
	"github.com/vietddude/conveyor/internal/infra/storage/postgres"
	"github.com/vietddude/conveyor/internal/jobs"
	"github.com/vietddude/conveyor/internal/ratelimit"
	"github.com/vietddude/conveyor/internal/saga"
	"github.com/vietddude/conveyor/internal/worker"
	"github.com/vietddude/conveyor/migrations"
)

// Service is the assembled processing layer.
type Service struct {
	cfg config.AppConfig
	log *slog.Logger

	db    *postgres.DB
	store *memory.MemoryStorage
	redis *redisclient.Client

	jobRepo  storage.JobRepository
	sagaRepo storage.SagaRepository

	registry   *jobs.Registry
	scheduler  *jobs.Scheduler
	executor   *jobs.Executor
	dispatcher *jobs.Dispatcher
	brk        *breaker.Breaker
	claims     *idempotency.Service
	limiter    *ratelimit.Limiter
	dead       *dlq.Service
	sagas      *saga.Orchestrator
	janitor    *worker.Janitor
	healthSrv  *health.Server

	cancel context.CancelFunc
}

// New builds the service from configuration. With a database URL the
// queue is durable PostgreSQL behind goose migrations; without one it
// falls back to the in-memory store, which is fine for tests and local
// runs but loses jobs on restart.
func New(cfg config.AppConfig, log *slog.Logger) (*Service, error) {
	s := &Service{cfg: cfg, log: log}

	// 1. Storage
	var (
		claimRepo storage.IdempotencyRepository
		rateRepo  storage.RateLimitRepository
		circRepo  storage.CircuitRepository
		deadRepo  storage.DeadLetterRepository
	)

	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		s.db = db

		goose.SetBaseFS(migrations.FS)
		if err := goose.SetDialect("postgres"); err != nil {
			return nil, err
		}
		if err := goose.Up(db.DB.DB, "."); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}

		s.jobRepo = postgres.NewJobRepo(db)
		claimRepo = postgres.NewIdempotencyRepo(db)
		rateRepo = postgres.NewRateLimitRepo(db)
		circRepo = postgres.NewCircuitRepo(db)
		deadRepo = postgres.NewDeadLetterRepo(db)
		s.sagaRepo = postgres.NewSagaRepo(db)
		log.Info("using PostgreSQL storage")
	} else {
		s.store = memory.NewMemoryStorage()
		s.jobRepo = memory.NewJobRepo(s.store)
		claimRepo = memory.NewIdempotencyRepo(s.store)
		rateRepo = memory.NewRateLimitRepo(s.store)
		circRepo = memory.NewCircuitRepo(s.store)
		deadRepo = memory.NewDeadLetterRepo(s.store)
		s.sagaRepo = memory.NewSagaRepo(s.store)
		log.Info("using memory storage")
	}

	// 2. Events
	var sink events.Sink = events.NewLogSink(log)
	if cfg.Redis.URL != "" {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		s.redis = client
		sink = events.NewMultiSink(sink, events.NewRedisSink(client, cfg.Redis.Channel, log))
	}

	// 3. Core services
	s.registry = jobs.NewRegistry()
	s.scheduler = jobs.NewScheduler(s.jobRepo, sink, log)
	s.brk = breaker.New(circRepo, cfg.Breaker.FailureThreshold, cfg.Breaker.Cooldown, log)
	s.claims = idempotency.NewService(claimRepo, cfg.Idempotency.TTL, log)

	rules := make(map[string]ratelimit.Rule, len(cfg.RateLimits))
	for name, r := range cfg.RateLimits {
		rules[name] = ratelimit.Rule{Limit: r.Limit, Window: r.Window}
	}
	s.limiter = ratelimit.NewLimiter(rateRepo, rules, log)

	s.dead = dlq.NewService(deadRepo, s.scheduler, log)
	s.executor = jobs.NewExecutor(s.registry, s.scheduler, s.jobRepo, s.dead, sink, jobs.RetryDefaults{
		MaxRetries: cfg.Retry.MaxRetries,
		Backoff:    jobs.Backoff{Base: cfg.Retry.BaseDelay, Factor: cfg.Retry.Factor},
	}, log)

	overrides := make(map[domain.Priority]jobs.LaneConfig)
	for name, lane := range cfg.Dispatcher.Lanes {
		p, ok := domain.PriorityFromString(name)
		if !ok {
			return nil, fmt.Errorf("unknown dispatcher lane %q", name)
		}
		overrides[p] = jobs.LaneConfig{
			Workers:         lane.Workers,
			PollInterval:    lane.PollInterval,
			MinPollInterval: lane.MinPollInterval,
			MaxBatch:        lane.MaxBatch,
		}
	}
	s.dispatcher = jobs.NewDispatcher(s.jobRepo, s.executor, overrides, log)

	s.sagas = saga.NewOrchestrator(s.sagaRepo, s.brk, log)

	s.janitor = worker.NewJanitor(worker.Config{
		Interval:      cfg.Janitor.Interval,
		JobRetention:  cfg.Janitor.JobRetention,
		DLQRetention:  cfg.DeadLetter.Retention,
		SagaRetention: cfg.Saga.Retention,
	}, s.jobRepo, s.sagaRepo, s.claims, s.limiter, s.dead, log)

	// 4. Health and metrics
	var dbPing, redisPing health.Pinger
	if s.db != nil {
		dbPing = s.db
	}
	if s.redis != nil {
		redisPing = s.redis
	}
	monitor := health.NewMonitor(dbPing, redisPing, s.jobRepo)
	s.healthSrv = health.NewServer(monitor, cfg.Server.Port)

	return s, nil
}

// Start launches the dispatcher, janitor and health server.
func (s *Service) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if s.db != nil {
		s.db.StartMetricsCollector(runCtx)
	}

	s.dispatcher.Start(runCtx)
	go s.janitor.Start(runCtx)

	go func() {
		s.log.Info("health server listening", "port", s.cfg.Server.Port)
		if err := s.healthSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("health server failed", "error", err)
		}
	}()

	s.log.Info("service started")
	return nil
}

// Stop shuts everything down, letting in-flight jobs finish within
// ctx's deadline.
func (s *Service) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	var firstErr error
	if err := s.dispatcher.Stop(ctx); err != nil {
		firstErr = err
	}
	if err := s.healthSrv.Stop(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}

	s.log.Info("service stopped")
	return firstErr
}

// Registry returns the handler registry for hook registration.
func (s *Service) Registry() *jobs.Registry { return s.registry }

// Scheduler returns the job submission API.
func (s *Service) Scheduler() *jobs.Scheduler { return s.scheduler }

// Breaker returns the circuit breaker.
func (s *Service) Breaker() *breaker.Breaker { return s.brk }

// Idempotency returns the claim service.
func (s *Service) Idempotency() *idempotency.Service { return s.claims }

// Limiter returns the rate limiter.
func (s *Service) Limiter() *ratelimit.Limiter { return s.limiter }

// DeadLetters returns the dead-letter service.
func (s *Service) DeadLetters() *dlq.Service { return s.dead }

// Sagas returns the saga orchestrator.
func (s *Service) Sagas() *saga.Orchestrator { return s.sagas }
