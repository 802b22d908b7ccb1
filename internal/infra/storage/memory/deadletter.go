package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/conveyor/internal/core/domain"
)

// -----------------------------------------------------------------------------
// Dead Letter Repository
// -----------------------------------------------------------------------------

type DeadLetterRepo struct {
	store *MemoryStorage
}

func NewDeadLetterRepo(store *MemoryStorage) *DeadLetterRepo {
	return &DeadLetterRepo{store: store}
}

func (r *DeadLetterRepo) Add(ctx context.Context, e *domain.DeadLetterEntry) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c := *e
	r.store.dead[e.ID] = &c
	return nil
}

func (r *DeadLetterRepo) Get(ctx context.Context, id uuid.UUID) (*domain.DeadLetterEntry, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	e, ok := r.store.dead[id]
	if !ok {
		return nil, nil
	}
	c := *e
	return &c, nil
}

func (r *DeadLetterRepo) GetPending(ctx context.Context, limit int) ([]*domain.DeadLetterEntry, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []*domain.DeadLetterEntry
	for _, e := range r.store.dead {
		if e.Status == domain.DeadLetterStatusPending {
			c := *e
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *DeadLetterRepo) MarkReplayed(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	e, ok := r.store.dead[id]
	if !ok || e.Status != domain.DeadLetterStatusPending {
		return false, nil
	}
	e.Status = domain.DeadLetterStatusReplayed
	t := at
	e.ReplayedAt = &t
	return true, nil
}

func (r *DeadLetterRepo) MarkDismissed(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	e, ok := r.store.dead[id]
	if !ok || e.Status != domain.DeadLetterStatusPending {
		return false, nil
	}
	e.Status = domain.DeadLetterStatusDismissed
	t := at
	e.DismissedAt = &t
	return true, nil
}

// DeleteFinishedBefore prunes by disposition age: the replay or
// dismissal timestamp, not the original dead-letter time.
func (r *DeadLetterRepo) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var n int64
	for id, e := range r.store.dead {
		var done *time.Time
		switch e.Status {
		case domain.DeadLetterStatusReplayed:
			done = e.ReplayedAt
		case domain.DeadLetterStatusDismissed:
			done = e.DismissedAt
		}
		if done != nil && done.Before(cutoff) {
			delete(r.store.dead, id)
			n++
		}
	}
	return n, nil
}
