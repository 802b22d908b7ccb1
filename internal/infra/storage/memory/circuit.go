package memory

import (
	"context"
	"sort"
	"time"

	"github.com/vietddude/conveyor/internal/core/domain"
)

// -----------------------------------------------------------------------------
// Circuit Repository
// -----------------------------------------------------------------------------

type CircuitRepo struct {
	store *MemoryStorage
}

func NewCircuitRepo(store *MemoryStorage) *CircuitRepo { return &CircuitRepo{store: store} }

func (r *CircuitRepo) Ensure(ctx context.Context, name string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.circuits[name]; !ok {
		r.store.circuits[name] = &domain.CircuitState{
			Name:      name,
			State:     domain.CircuitClosed,
			UpdatedAt: time.Now(),
		}
	}
	return nil
}

func (r *CircuitRepo) Get(ctx context.Context, name string) (*domain.CircuitState, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	s, ok := r.store.circuits[name]
	if !ok {
		return nil, nil
	}
	c := *s
	return &c, nil
}

func (r *CircuitRepo) List(ctx context.Context) ([]*domain.CircuitState, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := make([]*domain.CircuitState, 0, len(r.store.circuits))
	for _, s := range r.store.circuits {
		c := *s
		out = append(out, &c)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out, nil
}

func (r *CircuitRepo) TransitionHalfOpen(ctx context.Context, name string, openedBefore time.Time) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	s, ok := r.store.circuits[name]
	if !ok || s.State != domain.CircuitOpen || s.OpenedAt == nil || s.OpenedAt.After(openedBefore) {
		return false, nil
	}
	s.State = domain.CircuitHalfOpen
	s.UpdatedAt = time.Now()
	return true, nil
}

func (r *CircuitRepo) RecordFailure(ctx context.Context, name string, threshold int, now time.Time) (*domain.CircuitState, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	s, ok := r.store.circuits[name]
	if !ok {
		s = &domain.CircuitState{Name: name, State: domain.CircuitClosed}
		r.store.circuits[name] = s
	}
	s.Failures++
	s.Successes = 0
	if s.State == domain.CircuitHalfOpen || s.Failures >= threshold {
		s.State = domain.CircuitOpen
		t := now
		s.OpenedAt = &t
	}
	s.UpdatedAt = now
	c := *s
	return &c, nil
}

func (r *CircuitRepo) RecordSuccess(ctx context.Context, name string, now time.Time) (*domain.CircuitState, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	s, ok := r.store.circuits[name]
	if !ok {
		s = &domain.CircuitState{Name: name}
		r.store.circuits[name] = s
	}
	s.Successes++
	s.Failures = 0
	s.State = domain.CircuitClosed
	s.OpenedAt = nil
	s.UpdatedAt = now
	c := *s
	return &c, nil
}

func (r *CircuitRepo) Reset(ctx context.Context, name string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if s, ok := r.store.circuits[name]; ok {
		s.State = domain.CircuitClosed
		s.Failures = 0
		s.Successes = 0
		s.OpenedAt = nil
		s.UpdatedAt = time.Now()
	}
	return nil
}
