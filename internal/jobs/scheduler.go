package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/conveyor/internal/core/domain"
	"github.com/vietddude/conveyor/internal/events"
	"github.com/vietddude/conveyor/internal/infra/storage"
	"github.com/vietddude/conveyor/internal/metrics"
)

// Scheduler is the job submission API. It wraps caller payloads in a
// versioned envelope and hands them to the durable queue under the lane
// derived from their priority.
type Scheduler struct {
	repo storage.JobRepository
	sink events.Sink
	log  *slog.Logger
}

func NewScheduler(repo storage.JobRepository, sink events.Sink, log *slog.Logger) *Scheduler {
	return &Scheduler{repo: repo, sink: sink, log: log}
}

// Schedule submits a one-shot job after delay. Attempt starts at 1 and
// ScheduledAt records submission time, not due time.
func (s *Scheduler) Schedule(ctx context.Context, hook string, args map[string]any, p domain.Priority, delay time.Duration) (uuid.UUID, error) {
	env := Wrap(args, p, 1, time.Now())
	return s.submit(ctx, hook, env, delay, 0)
}

// ScheduleRecurring registers a periodic resubmission of the job every
// interval.
func (s *Scheduler) ScheduleRecurring(ctx context.Context, hook string, args map[string]any, interval time.Duration, p domain.Priority) (uuid.UUID, error) {
	if interval <= 0 {
		return uuid.Nil, fmt.Errorf("recurring interval must be positive, got %v", interval)
	}
	env := Wrap(args, p, 1, time.Now())
	return s.submit(ctx, hook, env, interval, interval)
}

// Cancel marks scheduled-but-not-yet-run jobs matching (hook, args)
// cancelled and reports how many were affected. A running callback is
// never preempted.
func (s *Scheduler) Cancel(ctx context.Context, hook string, args map[string]any) (int64, error) {
	n, err := s.repo.Cancel(ctx, hook, ArgsDigest(args))
	if err != nil {
		return 0, fmt.Errorf("failed to cancel jobs: %w", err)
	}
	if n > 0 {
		s.sink.Emit(ctx, events.Event{Type: events.TypeCancelled, Hook: hook, At: time.Now()})
	}
	return n, nil
}

// submit persists the enveloped job. Retries come through here as well,
// carrying their incremented attempt count.
func (s *Scheduler) submit(ctx context.Context, hook string, env domain.Envelope, delay, recur time.Duration) (uuid.UUID, error) {
	if !env.Priority.Valid() {
		return uuid.Nil, fmt.Errorf("invalid priority %d", env.Priority)
	}

	payload, err := Marshal(env)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}

	job := &domain.Job{
		ID:         uuid.New(),
		Hook:       hook,
		Payload:    payload,
		Priority:   env.Priority,
		RunAt:      time.Now().Add(delay),
		Status:     domain.JobStatusPending,
		ArgsDigest: ArgsDigest(env.Args),
		RecurEvery: recur,
	}
	if err := s.repo.Submit(ctx, job); err != nil {
		return uuid.Nil, fmt.Errorf("failed to submit job: %w", err)
	}

	metrics.JobsScheduled.WithLabelValues(hook, env.Priority.String()).Inc()
	s.sink.Emit(ctx, events.Event{
		Type:     events.TypeScheduled,
		JobID:    job.ID.String(),
		Hook:     hook,
		Priority: env.Priority,
		Attempt:  env.Attempt,
		At:       time.Now(),
	})
	s.log.Debug("job scheduled",
		"hook", hook, "job_id", job.ID, "priority", env.Priority.String(),
		"attempt", env.Attempt, "run_at", job.RunAt)
	return job.ID, nil
}
