// Package memory provides a mutex-guarded in-memory implementation of
// the storage contracts. It backs local development runs without a
// database and the unit tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/conveyor/internal/core/domain"
)

type blockEntry struct {
	until  time.Time
	reason string
}

type windowKey struct {
	idHash      string
	limitType   string
	windowStart int64
}

type sagaLock struct {
	held bool
}

// MemoryStorage holds all state behind a single lock, mirroring the
// serialization the relational store provides per statement.
type MemoryStorage struct {
	mu sync.Mutex

	jobs     map[uuid.UUID]*domain.Job
	claims   map[[2]string]*domain.IdempotencyClaim
	windows  map[windowKey]*domain.RateWindow
	blocks   map[string]*blockEntry
	circuits map[string]*domain.CircuitState
	dead     map[uuid.UUID]*domain.DeadLetterEntry
	sagas    map[string]*domain.SagaRecord
	sagaLock map[string]*sagaLock
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		jobs:     make(map[uuid.UUID]*domain.Job),
		claims:   make(map[[2]string]*domain.IdempotencyClaim),
		windows:  make(map[windowKey]*domain.RateWindow),
		blocks:   make(map[string]*blockEntry),
		circuits: make(map[string]*domain.CircuitState),
		dead:     make(map[uuid.UUID]*domain.DeadLetterEntry),
		sagas:    make(map[string]*domain.SagaRecord),
		sagaLock: make(map[string]*sagaLock),
	}
}

// -----------------------------------------------------------------------------
// Job Repository
// -----------------------------------------------------------------------------

type JobRepo struct {
	store *MemoryStorage
}

func NewJobRepo(store *MemoryStorage) *JobRepo { return &JobRepo{store: store} }

func (r *JobRepo) Submit(ctx context.Context, job *domain.Job) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	j := *job
	j.CreatedAt = time.Now()
	j.UpdatedAt = j.CreatedAt
	r.store.jobs[job.ID] = &j
	return nil
}

func (r *JobRepo) Claim(ctx context.Context, p domain.Priority, now time.Time, limit int) ([]*domain.Job, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var due []*domain.Job
	for _, j := range r.store.jobs {
		if j.Status == domain.JobStatusPending && j.Priority == p && !j.RunAt.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(i, k int) bool { return due[i].RunAt.Before(due[k].RunAt) })
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*domain.Job, 0, len(due))
	for _, j := range due {
		j.Status = domain.JobStatusRunning
		j.UpdatedAt = now
		c := *j
		claimed = append(claimed, &c)
	}
	return claimed, nil
}

func (r *JobRepo) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	return r.setStatus(id, domain.JobStatusCompleted, "")
}

func (r *JobRepo) MarkFailed(ctx context.Context, id uuid.UUID, msg string) error {
	return r.setStatus(id, domain.JobStatusFailed, msg)
}

func (r *JobRepo) setStatus(id uuid.UUID, status domain.JobStatus, msg string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if j, ok := r.store.jobs[id]; ok {
		j.Status = status
		j.LastError = msg
		j.UpdatedAt = time.Now()
	}
	return nil
}

func (r *JobRepo) Rearm(ctx context.Context, id uuid.UUID, payload []byte, next time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if j, ok := r.store.jobs[id]; ok {
		j.Status = domain.JobStatusPending
		j.Payload = payload
		j.RunAt = next
		j.UpdatedAt = time.Now()
	}
	return nil
}

func (r *JobRepo) Cancel(ctx context.Context, hook, argsDigest string) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var n int64
	for _, j := range r.store.jobs {
		if j.Status == domain.JobStatusPending && j.Hook == hook && j.ArgsDigest == argsDigest {
			j.Status = domain.JobStatusCancelled
			j.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (r *JobRepo) CountPending(ctx context.Context, p domain.Priority) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	count := 0
	for _, j := range r.store.jobs {
		if j.Status == domain.JobStatusPending && j.Priority == p {
			count++
		}
	}
	return count, nil
}

func (r *JobRepo) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var n int64
	for id, j := range r.store.jobs {
		switch j.Status {
		case domain.JobStatusCompleted, domain.JobStatusFailed, domain.JobStatusCancelled:
			if j.UpdatedAt.Before(cutoff) {
				delete(r.store.jobs, id)
				n++
			}
		}
	}
	return n, nil
}

// Get returns a copy of a job row. Test helper, not part of the
// storage contract.
func (r *JobRepo) Get(id uuid.UUID) (*domain.Job, bool) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	j, ok := r.store.jobs[id]
	if !ok {
		return nil, false
	}
	c := *j
	return &c, true
}

// All returns copies of every job row, ordered by creation. Test helper.
func (r *JobRepo) All() []*domain.Job {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := make([]*domain.Job, 0, len(r.store.jobs))
	for _, j := range r.store.jobs {
		c := *j
		out = append(out, &c)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out
}
