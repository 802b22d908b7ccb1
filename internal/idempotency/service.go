// Package idempotency provides first-writer-wins claims that make
// at-least-once job execution behave as effectively-once from the
// business callback's perspective.
package idempotency

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/conveyor/internal/infra/storage"
	"github.com/vietddude/conveyor/internal/metrics"
)

// DefaultTTL is how long a claim blocks duplicates.
const DefaultTTL = 24 * time.Hour

// Service claims (id, scope) keys against the shared store.
type Service struct {
	repo storage.IdempotencyRepository
	ttl  time.Duration
	log  *slog.Logger
}

func NewService(repo storage.IdempotencyRepository, ttl time.Duration, log *slog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{repo: repo, ttl: ttl, log: log}
}

// Claim returns true for exactly one of N concurrent claimants of the
// same key; everyone else gets false until the claim expires. Callers
// must treat false as "already handled", not as an error.
func (s *Service) Claim(ctx context.Context, id, scope string) (bool, error) {
	now := time.Now()
	claimed, err := s.repo.Claim(ctx, id, scope, now, now.Add(s.ttl))
	if err != nil {
		return false, fmt.Errorf("failed to claim (%s, %s): %w", id, scope, err)
	}

	outcome := "duplicate"
	if claimed {
		outcome = "claimed"
	}
	metrics.IdempotencyClaims.WithLabelValues(scope, outcome).Inc()
	if !claimed {
		s.log.Debug("duplicate claim", "id", id, "scope", scope)
	}
	return claimed, nil
}

// Cleanup deletes expired claims. Run on a schedule by the janitor.
func (s *Service) Cleanup(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpired(ctx, time.Now())
}
