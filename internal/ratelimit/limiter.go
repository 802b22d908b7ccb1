// Package ratelimit provides fixed-window admission control keyed by
// (identifier, limit type). The counter increment and the limit
// comparison are one conditional statement in the store, so concurrent
// hits can never over-admit.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/conveyor/internal/core/domain"
	"github.com/vietddude/conveyor/internal/infra/storage"
	"github.com/vietddude/conveyor/internal/metrics"
)

// Rule configures one limit type: at most Limit admissions per Window.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Limiter performs atomic check-and-increment admission decisions.
type Limiter struct {
	repo  storage.RateLimitRepository
	rules map[string]Rule
	log   *slog.Logger
}

func NewLimiter(repo storage.RateLimitRepository, rules map[string]Rule, log *slog.Logger) *Limiter {
	if rules == nil {
		rules = make(map[string]Rule)
	}
	return &Limiter{repo: repo, rules: rules, log: log}
}

// CheckAndHit atomically consumes one admission slot for the current
// window. On store failure it admits: degraded admission control beats
// a dead ingestion path.
func (l *Limiter) CheckAndHit(ctx context.Context, identifier, limitType string) (domain.RateDecision, error) {
	rule, ok := l.rules[limitType]
	if !ok {
		// Unconfigured limit types are unlimited.
		return domain.RateDecision{Allowed: true, Remaining: -1}, nil
	}

	now := time.Now()
	idHash := hashIdentifier(identifier)

	if until, blocked, err := l.repo.BlockedUntil(ctx, idHash, now); err != nil {
		l.log.Warn("rate limiter block lookup failed, admitting", "limit_type", limitType, "error", err)
		return domain.RateDecision{Allowed: true, Remaining: -1}, nil
	} else if blocked {
		metrics.RateLimitDecisions.WithLabelValues(limitType, "blocked").Inc()
		return domain.RateDecision{Allowed: false, Remaining: 0, ResetAt: until}, nil
	}

	windowStart := now.Truncate(rule.Window)
	resetAt := windowStart.Add(rule.Window)

	count, allowed, err := l.repo.Hit(ctx, idHash, limitType, windowStart, rule.Limit, resetAt)
	if err != nil {
		l.log.Warn("rate limiter hit failed, admitting", "limit_type", limitType, "error", err)
		return domain.RateDecision{Allowed: true, Remaining: -1}, nil
	}

	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	metrics.RateLimitDecisions.WithLabelValues(limitType, outcome).Inc()

	remaining := rule.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return domain.RateDecision{Allowed: allowed, Remaining: remaining, ResetAt: resetAt}, nil
}

// Check is read-only: it reports the current window state without
// consuming a slot. Never use it to gate access; composing a separate
// check with a later hit is a time-of-check/time-of-use race.
func (l *Limiter) Check(ctx context.Context, identifier, limitType string) (domain.RateDecision, error) {
	rule, ok := l.rules[limitType]
	if !ok {
		return domain.RateDecision{Allowed: true, Remaining: -1}, nil
	}

	now := time.Now()
	idHash := hashIdentifier(identifier)

	if until, blocked, err := l.repo.BlockedUntil(ctx, idHash, now); err != nil {
		return domain.RateDecision{}, fmt.Errorf("failed to check block: %w", err)
	} else if blocked {
		return domain.RateDecision{Allowed: false, Remaining: 0, ResetAt: until}, nil
	}

	windowStart := now.Truncate(rule.Window)
	count, err := l.repo.Count(ctx, idHash, limitType, windowStart)
	if err != nil {
		return domain.RateDecision{}, fmt.Errorf("failed to count window: %w", err)
	}

	remaining := rule.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return domain.RateDecision{
		Allowed:   count < rule.Limit,
		Remaining: remaining,
		ResetAt:   windowStart.Add(rule.Window),
	}, nil
}

// Block installs an override that short-circuits every subsequent check
// for the identifier, regardless of window state.
func (l *Limiter) Block(ctx context.Context, identifier string, duration time.Duration, reason string) error {
	if err := l.repo.SetBlock(ctx, hashIdentifier(identifier), time.Now().Add(duration), reason); err != nil {
		return fmt.Errorf("failed to block identifier: %w", err)
	}
	l.log.Info("identifier blocked", "duration", duration, "reason", reason)
	return nil
}

// Unblock removes an active block.
func (l *Limiter) Unblock(ctx context.Context, identifier string) error {
	if err := l.repo.ClearBlock(ctx, hashIdentifier(identifier)); err != nil {
		return fmt.Errorf("failed to unblock identifier: %w", err)
	}
	return nil
}

// Cleanup deletes expired windows and blocks.
func (l *Limiter) Cleanup(ctx context.Context) (int64, error) {
	return l.repo.DeleteExpired(ctx, time.Now())
}

// hashIdentifier keeps raw caller identity out of the admission store.
func hashIdentifier(identifier string) string {
	sum := sha256.Sum256([]byte(identifier))
	return hex.EncodeToString(sum[:])
}
