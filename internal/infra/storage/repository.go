// Package storage defines the repository contracts shared by the
// PostgreSQL and in-memory backends. The relational store is the single
// source of truth for all coordination: every mutation that must be
// exclusive is expressed as a single conditional statement by the
// implementations, never as a separate read followed by a write.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/conveyor/internal/core/domain"
)

// JobRepository is the durable queue behind the dispatcher.
type JobRepository interface {
	// Submit inserts a pending job row.
	Submit(ctx context.Context, job *domain.Job) error

	// Claim atomically moves up to limit due pending jobs of the given
	// priority to running and returns them. Concurrent claimers never
	// receive the same row.
	Claim(ctx context.Context, p domain.Priority, now time.Time, limit int) ([]*domain.Job, error)

	MarkCompleted(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, msg string) error

	// Rearm returns a recurring job to pending with a new due time.
	Rearm(ctx context.Context, id uuid.UUID, payload []byte, next time.Time) error

	// Cancel marks pending jobs matching (hook, argsDigest) cancelled
	// and reports how many were affected. Running jobs are not touched.
	Cancel(ctx context.Context, hook, argsDigest string) (int64, error)

	CountPending(ctx context.Context, p domain.Priority) (int, error)
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// IdempotencyRepository backs first-writer-wins claims.
type IdempotencyRepository interface {
	// Claim inserts a row for (id, scope) if none exists, or takes over
	// an expired one. Returns true only for the winning claimant.
	Claim(ctx context.Context, id, scope string, now, expiresAt time.Time) (bool, error)

	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// RateLimitRepository backs fixed-window admission control.
type RateLimitRepository interface {
	// Hit increments the window counter only while it is below limit;
	// the limit is part of the statement's condition, not a separate
	// check. Returns the resulting count and whether the increment won.
	Hit(ctx context.Context, idHash, limitType string, windowStart time.Time, limit int, expiresAt time.Time) (count int, allowed bool, err error)

	// Count is read-only and must never be used to gate access.
	Count(ctx context.Context, idHash, limitType string, windowStart time.Time) (int, error)

	SetBlock(ctx context.Context, idHash string, until time.Time, reason string) error
	ClearBlock(ctx context.Context, idHash string) error

	// BlockedUntil returns the active block expiry, if any.
	BlockedUntil(ctx context.Context, idHash string, now time.Time) (time.Time, bool, error)

	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// CircuitRepository backs per-dependency breaker state. All transitions
// are single conditional statements so concurrent executors agree on
// exactly one active state per dependency.
type CircuitRepository interface {
	// Ensure inserts a closed row for name if absent.
	Ensure(ctx context.Context, name string) error

	Get(ctx context.Context, name string) (*domain.CircuitState, error)
	List(ctx context.Context) ([]*domain.CircuitState, error)

	// TransitionHalfOpen flips open -> half_open if the cooldown has
	// elapsed. Exactly one of N concurrent callers wins and gets the
	// trial call.
	TransitionHalfOpen(ctx context.Context, name string, openedBefore time.Time) (bool, error)

	// RecordFailure increments the failure count and opens the circuit
	// when the threshold is reached or a half-open trial fails.
	RecordFailure(ctx context.Context, name string, threshold int, now time.Time) (*domain.CircuitState, error)

	// RecordSuccess resets the failure count and closes the circuit.
	RecordSuccess(ctx context.Context, name string, now time.Time) (*domain.CircuitState, error)

	Reset(ctx context.Context, name string) error
}

// DeadLetterRepository archives terminally-failed jobs.
type DeadLetterRepository interface {
	Add(ctx context.Context, e *domain.DeadLetterEntry) error
	Get(ctx context.Context, id uuid.UUID) (*domain.DeadLetterEntry, error)
	GetPending(ctx context.Context, limit int) ([]*domain.DeadLetterEntry, error)

	// MarkReplayed and MarkDismissed flip status only from pending and
	// report whether the transition happened.
	MarkReplayed(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	MarkDismissed(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)

	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SagaRepository persists saga checkpoints.
type SagaRepository interface {
	// Create inserts the record if no saga with the same id exists and
	// reports whether this call created it.
	Create(ctx context.Context, rec *domain.SagaRecord) (bool, error)

	Get(ctx context.Context, sagaID string) (*domain.SagaRecord, error)

	// Save checkpoints state, context and log.
	Save(ctx context.Context, rec *domain.SagaRecord) error

	// Acquire takes an exclusive run lock for the saga without
	// blocking. ok is false when another process holds it.
	Acquire(ctx context.Context, sagaID string) (release func(), ok bool, err error)

	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
