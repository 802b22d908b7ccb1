package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/conveyor/internal/breaker"
	"github.com/vietddude/conveyor/internal/core/domain"
	"github.com/vietddude/conveyor/internal/core/fault"
	"github.com/vietddude/conveyor/internal/events"
	"github.com/vietddude/conveyor/internal/infra/storage"
	"github.com/vietddude/conveyor/internal/metrics"
)

// DeadLetters is the executor's view of the dead-letter queue.
type DeadLetters interface {
	Add(ctx context.Context, hook string, args map[string]any, p domain.Priority, attempts int, reason domain.DeadLetterReason, message string) error
}

// RetryDefaults is the layer-wide retry policy. Handlers may override
// both the budget and the delay formula per job type.
type RetryDefaults struct {
	MaxRetries int
	Backoff    Backoff
}

// Executor is the single point that converts a callback failure into a
// retry-or-dead-letter decision. Nothing above it needs to know about
// retry mechanics.
type Executor struct {
	registry *Registry
	sched    *Scheduler
	repo     storage.JobRepository
	dead     DeadLetters
	sink     events.Sink
	retry    RetryDefaults
	log      *slog.Logger
}

func NewExecutor(
	registry *Registry,
	sched *Scheduler,
	repo storage.JobRepository,
	dead DeadLetters,
	sink events.Sink,
	retry RetryDefaults,
	log *slog.Logger,
) *Executor {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 3
	}
	if retry.Backoff.Base == 0 {
		retry.Backoff = DefaultBackoff
	}
	return &Executor{
		registry: registry,
		sched:    sched,
		repo:     repo,
		dead:     dead,
		sink:     sink,
		retry:    retry,
		log:      log,
	}
}

// Execute runs one claimed job to its disposition: completion, a
// scheduled retry, or a dead-letter entry.
func (e *Executor) Execute(ctx context.Context, job *domain.Job) {
	args, env, err := Unwrap(job.Payload)
	if err != nil {
		e.deadLetter(ctx, job, env, nil, domain.DeadLetterReasonInvalidPayload, err.Error())
		_ = e.repo.MarkFailed(ctx, job.ID, err.Error())
		return
	}

	handler, ok := e.registry.Lookup(job.Hook)
	if !ok {
		msg := fmt.Sprintf("no handler registered for hook %q", job.Hook)
		e.deadLetter(ctx, job, env, args, domain.DeadLetterReasonInvalidPayload, msg)
		_ = e.repo.MarkFailed(ctx, job.ID, msg)
		return
	}

	// A recurring row is re-armed for its next period up front; this
	// occurrence then runs like any one-shot job, including retries.
	recurring := job.RecurEvery > 0
	if recurring {
		e.rearm(ctx, job, env)
	}

	e.sink.Emit(ctx, events.Event{
		Type: events.TypeStarted, JobID: job.ID.String(), Hook: job.Hook,
		Priority: env.Priority, Attempt: env.Attempt, At: time.Now(),
	})

	start := time.Now()
	procErr := e.run(ctx, handler, args)
	metrics.JobDuration.WithLabelValues(job.Hook).Observe(time.Since(start).Seconds())

	if procErr == nil {
		metrics.JobsCompleted.WithLabelValues(job.Hook).Inc()
		e.sink.Emit(ctx, events.Event{
			Type: events.TypeCompleted, JobID: job.ID.String(), Hook: job.Hook,
			Priority: env.Priority, Attempt: env.Attempt, At: time.Now(),
		})
		if !recurring {
			_ = e.repo.MarkCompleted(ctx, job.ID)
		}
		return
	}

	e.log.Warn("job failed",
		"hook", job.Hook, "job_id", job.ID, "attempt", env.Attempt,
		"class", fault.Classify(procErr).String(), "error", procErr)

	e.sink.Emit(ctx, events.Event{
		Type: events.TypeFailed, JobID: job.ID.String(), Hook: job.Hook,
		Priority: env.Priority, Attempt: env.Attempt, Error: procErr.Error(), At: time.Now(),
	})

	maxRetries := e.maxRetries(handler)
	if e.shouldRetry(handler, procErr) && env.Attempt <= maxRetries {
		delay := e.retryDelay(handler, env.Attempt)
		next := Wrap(args, env.Priority, env.Attempt+1, env.ScheduledAt)
		if _, err := e.sched.submit(ctx, job.Hook, next, delay, 0); err != nil {
			// Could not persist the retry; keep the failure visible
			// rather than dropping the job on the floor.
			e.deadLetter(ctx, job, env, args, domain.DeadLetterReasonException,
				fmt.Sprintf("retry scheduling failed: %v (original: %v)", err, procErr))
		} else {
			metrics.JobsRetried.WithLabelValues(job.Hook).Inc()
			e.sink.Emit(ctx, events.Event{
				Type: events.TypeRetried, JobID: job.ID.String(), Hook: job.Hook,
				Priority: env.Priority, Attempt: env.Attempt + 1, At: time.Now(),
			})
		}
		if !recurring {
			_ = e.repo.MarkFailed(ctx, job.ID, procErr.Error())
		}
		return
	}

	reason := domain.DeadLetterReasonException
	switch {
	case env.Attempt > maxRetries:
		reason = domain.DeadLetterReasonMaxRetries
	case errors.Is(procErr, breaker.ErrOpen):
		reason = domain.DeadLetterReasonCircuitOpen
	}
	e.deadLetter(ctx, job, env, args, reason, procErr.Error())
	if !recurring {
		_ = e.repo.MarkFailed(ctx, job.ID, procErr.Error())
	}
}

// run invokes the business callback behind a failure boundary; a panic
// becomes an application error rather than taking the worker down.
func (e *Executor) run(ctx context.Context, handler Handler, args map[string]any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fault.Application(fmt.Errorf("handler panic: %v", r))
		}
	}()
	return handler.Process(ctx, args)
}

func (e *Executor) rearm(ctx context.Context, job *domain.Job, env domain.Envelope) {
	next := Wrap(env.Args, env.Priority, 1, time.Now())
	payload, err := Marshal(next)
	if err != nil {
		e.log.Error("failed to marshal recurring envelope", "hook", job.Hook, "error", err)
		return
	}
	if err := e.repo.Rearm(ctx, job.ID, payload, time.Now().Add(job.RecurEvery)); err != nil {
		e.log.Error("failed to re-arm recurring job", "hook", job.Hook, "job_id", job.ID, "error", err)
	}
}

func (e *Executor) deadLetter(ctx context.Context, job *domain.Job, env domain.Envelope, args map[string]any, reason domain.DeadLetterReason, message string) {
	attempts := env.Attempt
	if attempts < 1 {
		attempts = 1
	}
	priority := env.Priority
	if !priority.Valid() {
		priority = job.Priority
	}
	if err := e.dead.Add(ctx, job.Hook, args, priority, attempts, reason, message); err != nil {
		e.log.Error("failed to dead-letter job",
			"hook", job.Hook, "job_id", job.ID, "reason", reason, "error", err)
		return
	}
	metrics.JobsDeadLettered.WithLabelValues(job.Hook, string(reason)).Inc()
	e.sink.Emit(ctx, events.Event{
		Type: events.TypeDeadLettered, JobID: job.ID.String(), Hook: job.Hook,
		Priority: priority, Attempt: attempts, Error: message, At: time.Now(),
	})
}

func (e *Executor) maxRetries(handler Handler) int {
	if mr, ok := handler.(MaxRetrier); ok {
		return mr.MaxRetries()
	}
	return e.retry.MaxRetries
}

func (e *Executor) shouldRetry(handler Handler, err error) bool {
	if rd, ok := handler.(RetryDecider); ok {
		return rd.ShouldRetry(err)
	}
	return fault.ShouldRetry(err)
}

func (e *Executor) retryDelay(handler Handler, attempt int) time.Duration {
	if dp, ok := handler.(DelayPolicy); ok {
		return dp.RetryDelay(attempt)
	}
	return e.retry.Backoff.Delay(attempt)
}
