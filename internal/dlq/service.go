// Package dlq is the operator-facing safety net: every terminal job
// failure lands here, inspectable and replayable until explicitly
// dismissed or aged out. Nothing is silently dropped.
package dlq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/conveyor/internal/core/domain"
	"github.com/vietddude/conveyor/internal/infra/storage"
)

// DefaultRetention is how long replayed/dismissed entries are kept.
const DefaultRetention = 30 * 24 * time.Hour

// Resubmitter is the service's view of the scheduler, used on replay.
type Resubmitter interface {
	Schedule(ctx context.Context, hook string, args map[string]any, p domain.Priority, delay time.Duration) (uuid.UUID, error)
}

// Service archives and replays dead-lettered jobs.
type Service struct {
	repo  storage.DeadLetterRepository
	sched Resubmitter
	log   *slog.Logger
}

func NewService(repo storage.DeadLetterRepository, sched Resubmitter, log *slog.Logger) *Service {
	return &Service{repo: repo, sched: sched, log: log}
}

// Add archives a terminally-failed job.
func (s *Service) Add(ctx context.Context, hook string, args map[string]any, p domain.Priority, attempts int, reason domain.DeadLetterReason, message string) error {
	entry := &domain.DeadLetterEntry{
		ID:           uuid.New(),
		Hook:         hook,
		Args:         args,
		Reason:       reason,
		ErrorMessage: message,
		Attempts:     attempts,
		Priority:     p,
		Status:       domain.DeadLetterStatusPending,
		CreatedAt:    time.Now(),
	}
	if err := s.repo.Add(ctx, entry); err != nil {
		return fmt.Errorf("failed to archive dead letter: %w", err)
	}
	s.log.Warn("job dead-lettered",
		"hook", hook, "reason", reason, "attempts", attempts, "error", message)
	return nil
}

// GetPending lists entries awaiting operator action, oldest first.
func (s *Service) GetPending(ctx context.Context, limit int) ([]*domain.DeadLetterEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.repo.GetPending(ctx, limit)
}

// Get returns one entry by id, or nil.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.DeadLetterEntry, error) {
	return s.repo.Get(ctx, id)
}

// Replay resubmits the job through the scheduler at attempt 1 and marks
// the entry replayed. Flipping the status first makes a concurrent
// double replay a no-op instead of a double submission.
func (s *Service) Replay(ctx context.Context, id uuid.UUID) error {
	entry, err := s.repo.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load dead letter: %w", err)
	}
	if entry == nil {
		return fmt.Errorf("dead letter %s not found", id)
	}

	flipped, err := s.repo.MarkReplayed(ctx, id, time.Now())
	if err != nil {
		return fmt.Errorf("failed to mark replayed: %w", err)
	}
	if !flipped {
		// Already replayed or dismissed.
		return nil
	}

	if _, err := s.sched.Schedule(ctx, entry.Hook, entry.Args, entry.Priority, 0); err != nil {
		return fmt.Errorf("failed to resubmit %s: %w", entry.Hook, err)
	}
	s.log.Info("dead letter replayed", "id", id, "hook", entry.Hook)
	return nil
}

// Dismiss discards an entry without resubmission. A no-op once the
// entry has already been replayed or dismissed.
func (s *Service) Dismiss(ctx context.Context, id uuid.UUID) error {
	flipped, err := s.repo.MarkDismissed(ctx, id, time.Now())
	if err != nil {
		return fmt.Errorf("failed to dismiss dead letter: %w", err)
	}
	if flipped {
		s.log.Info("dead letter dismissed", "id", id)
	}
	return nil
}

// Cleanup deletes replayed/dismissed entries older than maxAge.
// Pending entries are never aged out.
func (s *Service) Cleanup(ctx context.Context, maxAge time.Duration) (int64, error) {
	if maxAge <= 0 {
		maxAge = DefaultRetention
	}
	return s.repo.DeleteFinishedBefore(ctx, time.Now().Add(-maxAge))
}
