// Package breaker implements a per-dependency circuit breaker backed by
// the shared relational store, so concurrent executors across processes
// observe the same state. It converts repeated slow timeouts against a
// known-failing dependency into instant, classified failures.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/conveyor/internal/core/domain"
	"github.com/vietddude/conveyor/internal/infra/storage"
	"github.com/vietddude/conveyor/internal/metrics"
)

// ErrOpen is returned without invoking the callback while the circuit
// is open. It is retryable: the dependency may recover before the next
// attempt.
var ErrOpen = errors.New("circuit open")

// Breaker guards calls to unreliable external dependencies.
type Breaker struct {
	repo      storage.CircuitRepository
	threshold int
	cooldown  time.Duration
	log       *slog.Logger

	now func() time.Time // injectable for tests
}

func New(repo storage.CircuitRepository, threshold int, cooldown time.Duration, log *slog.Logger) *Breaker {
	return &Breaker{
		repo:      repo,
		threshold: threshold,
		cooldown:  cooldown,
		log:       log,
		now:       time.Now,
	}
}

// Execute wraps a call to the named dependency. While the circuit is
// open and cooling down, it fails fast without invoking callback; after
// the cooldown exactly one caller gets a half-open trial.
func (b *Breaker) Execute(ctx context.Context, dependency string, callback func() error) error {
	if err := b.repo.Ensure(ctx, dependency); err != nil {
		return fmt.Errorf("failed to ensure circuit %q: %w", dependency, err)
	}

	state, err := b.repo.Get(ctx, dependency)
	if err != nil {
		return fmt.Errorf("failed to read circuit %q: %w", dependency, err)
	}

	now := b.now()
	switch {
	case state == nil || state.State == domain.CircuitClosed:
		// pass through

	case state.State == domain.CircuitOpen:
		if state.OpenedAt == nil || now.Sub(*state.OpenedAt) < b.cooldown {
			return fmt.Errorf("%s: %w", dependency, ErrOpen)
		}
		// Cooldown elapsed: the conditional update picks one winner for
		// the trial call; everyone else keeps failing fast.
		won, err := b.repo.TransitionHalfOpen(ctx, dependency, now.Add(-b.cooldown))
		if err != nil {
			return fmt.Errorf("failed to transition circuit %q: %w", dependency, err)
		}
		if !won {
			return fmt.Errorf("%s: %w", dependency, ErrOpen)
		}
		b.log.Info("circuit half-open, allowing trial call", "dependency", dependency)

	case state.State == domain.CircuitHalfOpen:
		// A trial is already in flight elsewhere.
		return fmt.Errorf("%s: %w", dependency, ErrOpen)
	}

	if err := callback(); err != nil {
		b.recordFailure(ctx, dependency)
		return err
	}
	b.recordSuccess(ctx, dependency)
	return nil
}

func (b *Breaker) recordFailure(ctx context.Context, dependency string) {
	state, err := b.repo.RecordFailure(ctx, dependency, b.threshold, b.now())
	if err != nil {
		b.log.Warn("failed to record circuit failure", "dependency", dependency, "error", err)
		return
	}
	setStateGauge(dependency, state.State)
	if state.State == domain.CircuitOpen {
		b.log.Warn("circuit opened", "dependency", dependency, "failures", state.Failures)
	}
}

func (b *Breaker) recordSuccess(ctx context.Context, dependency string) {
	state, err := b.repo.RecordSuccess(ctx, dependency, b.now())
	if err != nil {
		b.log.Warn("failed to record circuit success", "dependency", dependency, "error", err)
		return
	}
	setStateGauge(dependency, state.State)
}

// State returns the current breaker state for a dependency, or nil if
// it has never been used.
func (b *Breaker) State(ctx context.Context, dependency string) (*domain.CircuitState, error) {
	return b.repo.Get(ctx, dependency)
}

// Reset force-closes a circuit. Operator escape hatch.
func (b *Breaker) Reset(ctx context.Context, dependency string) error {
	if err := b.repo.Reset(ctx, dependency); err != nil {
		return err
	}
	setStateGauge(dependency, domain.CircuitClosed)
	return nil
}

func setStateGauge(dependency string, s domain.CircuitStatus) {
	var v float64
	switch s {
	case domain.CircuitHalfOpen:
		v = 1
	case domain.CircuitOpen:
		v = 2
	}
	metrics.CircuitState.WithLabelValues(dependency).Set(v)
}
