package memory

import (
	"context"
	"time"

	"github.com/vietddude/conveyor/internal/core/domain"
)

// -----------------------------------------------------------------------------
// Idempotency Repository
// -----------------------------------------------------------------------------

type IdempotencyRepo struct {
	store *MemoryStorage
}

func NewIdempotencyRepo(store *MemoryStorage) *IdempotencyRepo {
	return &IdempotencyRepo{store: store}
}

func (r *IdempotencyRepo) Claim(ctx context.Context, id, scope string, now, expiresAt time.Time) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	key := [2]string{id, scope}
	if existing, ok := r.store.claims[key]; ok && existing.ExpiresAt.After(now) {
		return false, nil
	}
	r.store.claims[key] = &domain.IdempotencyClaim{
		ID:          id,
		Scope:       scope,
		ProcessedAt: now,
		ExpiresAt:   expiresAt,
	}
	return true, nil
}

func (r *IdempotencyRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var n int64
	for key, c := range r.store.claims {
		if !c.ExpiresAt.After(now) {
			delete(r.store.claims, key)
			n++
		}
	}
	return n, nil
}

// -----------------------------------------------------------------------------
// Rate Limit Repository
// -----------------------------------------------------------------------------

type RateLimitRepo struct {
	store *MemoryStorage
}

func NewRateLimitRepo(store *MemoryStorage) *RateLimitRepo {
	return &RateLimitRepo{store: store}
}

func (r *RateLimitRepo) Hit(ctx context.Context, idHash, limitType string, windowStart time.Time, limit int, expiresAt time.Time) (int, bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	key := windowKey{idHash: idHash, limitType: limitType, windowStart: windowStart.UnixNano()}
	w, ok := r.store.windows[key]
	if !ok {
		if limit < 1 {
			return limit, false, nil
		}
		r.store.windows[key] = &domain.RateWindow{
			IdentifierHash: idHash,
			LimitType:      limitType,
			WindowStart:    windowStart,
			RequestCount:   1,
			ExpiresAt:      expiresAt,
		}
		return 1, true, nil
	}
	if w.RequestCount >= limit {
		return limit, false, nil
	}
	w.RequestCount++
	return w.RequestCount, true, nil
}

func (r *RateLimitRepo) Count(ctx context.Context, idHash, limitType string, windowStart time.Time) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	key := windowKey{idHash: idHash, limitType: limitType, windowStart: windowStart.UnixNano()}
	if w, ok := r.store.windows[key]; ok {
		return w.RequestCount, nil
	}
	return 0, nil
}

func (r *RateLimitRepo) SetBlock(ctx context.Context, idHash string, until time.Time, reason string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.blocks[idHash] = &blockEntry{until: until, reason: reason}
	return nil
}

func (r *RateLimitRepo) ClearBlock(ctx context.Context, idHash string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.blocks, idHash)
	return nil
}

func (r *RateLimitRepo) BlockedUntil(ctx context.Context, idHash string, now time.Time) (time.Time, bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if b, ok := r.store.blocks[idHash]; ok && b.until.After(now) {
		return b.until, true, nil
	}
	return time.Time{}, false, nil
}

func (r *RateLimitRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var n int64
	for key, w := range r.store.windows {
		if !w.ExpiresAt.After(now) {
			delete(r.store.windows, key)
			n++
		}
	}
	for id, b := range r.store.blocks {
		if !b.until.After(now) {
			delete(r.store.blocks, id)
			n++
		}
	}
	return n, nil
}
