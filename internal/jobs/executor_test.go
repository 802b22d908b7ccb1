package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/conveyor/internal/breaker"
	"github.com/vietddude/conveyor/internal/core/domain"
	"github.com/vietddude/conveyor/internal/core/fault"
	"github.com/vietddude/conveyor/internal/events"
	"github.com/vietddude/conveyor/internal/infra/storage/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type dlqEntry struct {
	hook     string
	reason   domain.DeadLetterReason
	attempts int
	message  string
}

type captureDLQ struct {
	mu      sync.Mutex
	entries []dlqEntry
}

func (c *captureDLQ) Add(ctx context.Context, hook string, args map[string]any, p domain.Priority, attempts int, reason domain.DeadLetterReason, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, dlqEntry{hook: hook, reason: reason, attempts: attempts, message: message})
	return nil
}

func (c *captureDLQ) all() []dlqEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]dlqEntry(nil), c.entries...)
}

type stubHandler struct {
	name string
	fn   func(ctx context.Context, args map[string]any) error
}

func (h *stubHandler) HookName() string { return h.name }
func (h *stubHandler) Process(ctx context.Context, args map[string]any) error {
	return h.fn(ctx, args)
}

// neverRetryHandler mimics a handler that treats every error as final.
type neverRetryHandler struct {
	stubHandler
}

func (h *neverRetryHandler) ShouldRetry(err error) bool { return false }

type executorFixture struct {
	repo     *memory.JobRepo
	registry *Registry
	dead     *captureDLQ
	exec     *Executor
}

func newExecutorFixture(t *testing.T) *executorFixture {
	t.Helper()
	log := discardLogger()
	store := memory.NewMemoryStorage()
	repo := memory.NewJobRepo(store)
	registry := NewRegistry()
	dead := &captureDLQ{}
	sink := events.NewLogSink(log)
	sched := NewScheduler(repo, sink, log)
	exec := NewExecutor(registry, sched, repo, dead, sink, RetryDefaults{}, log)
	return &executorFixture{repo: repo, registry: registry, dead: dead, exec: exec}
}

func (f *executorFixture) submitJob(t *testing.T, hook string, args map[string]any, attempt int, recur time.Duration) *domain.Job {
	t.Helper()
	env := Wrap(args, domain.PriorityNormal, attempt, time.Now())
	payload, err := Marshal(env)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	job := &domain.Job{
		ID:         uuid.New(),
		Hook:       hook,
		Payload:    payload,
		Priority:   env.Priority,
		RunAt:      time.Now(),
		Status:     domain.JobStatusRunning,
		RecurEvery: recur,
	}
	if err := f.repo.Submit(context.Background(), job); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	return job
}

func TestExecuteSuccess(t *testing.T) {
	f := newExecutorFixture(t)
	var called bool
	_ = f.registry.Register(&stubHandler{name: "send_email", fn: func(ctx context.Context, args map[string]any) error {
		called = true
		return nil
	}})

	job := f.submitJob(t, "send_email", map[string]any{"to": "a@b.c"}, 1, 0)
	f.exec.Execute(context.Background(), job)

	if !called {
		t.Fatal("handler was not invoked")
	}
	got, _ := f.repo.Get(job.ID)
	if got.Status != domain.JobStatusCompleted {
		t.Errorf("status = %v, want completed", got.Status)
	}
	if len(f.dead.all()) != 0 {
		t.Errorf("unexpected dead letters: %v", f.dead.all())
	}
}

func TestExecuteSchedulesRetryWithBackoff(t *testing.T) {
	f := newExecutorFixture(t)
	_ = f.registry.Register(&stubHandler{name: "flaky", fn: func(ctx context.Context, args map[string]any) error {
		return fault.Infra(errors.New("connection refused"))
	}})

	job := f.submitJob(t, "flaky", map[string]any{"n": float64(1)}, 1, 0)
	f.exec.Execute(context.Background(), job)

	got, _ := f.repo.Get(job.ID)
	if got.Status != domain.JobStatusFailed {
		t.Errorf("original status = %v, want failed", got.Status)
	}

	all := f.repo.All()
	if len(all) != 2 {
		t.Fatalf("job rows = %d, want 2 (original + retry)", len(all))
	}
	var retry *domain.Job
	for _, j := range all {
		if j.ID != job.ID {
			retry = j
		}
	}
	if retry.Status != domain.JobStatusPending {
		t.Errorf("retry status = %v, want pending", retry.Status)
	}
	_, env, err := Unwrap(retry.Payload)
	if err != nil {
		t.Fatalf("retry payload broken: %v", err)
	}
	if env.Attempt != 2 {
		t.Errorf("retry attempt = %d, want 2", env.Attempt)
	}
	// First retry waits the base delay, 30s by default.
	wait := time.Until(retry.RunAt)
	if wait < 25*time.Second || wait > 31*time.Second {
		t.Errorf("retry delay = %v, want ~30s", wait)
	}
	if len(f.dead.all()) != 0 {
		t.Errorf("unexpected dead letters: %v", f.dead.all())
	}
}

func TestExecuteBusinessErrorNeverRetries(t *testing.T) {
	f := newExecutorFixture(t)
	_ = f.registry.Register(&stubHandler{name: "charge", fn: func(ctx context.Context, args map[string]any) error {
		return fault.Businessf("card declined")
	}})

	job := f.submitJob(t, "charge", map[string]any{"amount": float64(5)}, 1, 0)
	f.exec.Execute(context.Background(), job)

	if n := len(f.repo.All()); n != 1 {
		t.Errorf("job rows = %d, want 1 (no retry row)", n)
	}
	dead := f.dead.all()
	if len(dead) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(dead))
	}
	if dead[0].reason != domain.DeadLetterReasonException {
		t.Errorf("reason = %v, want exception", dead[0].reason)
	}
	if dead[0].attempts != 1 {
		t.Errorf("attempts = %d, want 1", dead[0].attempts)
	}
}

func TestExecuteExhaustsRetryBudget(t *testing.T) {
	f := newExecutorFixture(t)
	_ = f.registry.Register(&stubHandler{name: "flaky", fn: func(ctx context.Context, args map[string]any) error {
		return fault.Infra(errors.New("still down"))
	}})

	// Attempt 4 with the default budget of 3 retries is the last one.
	job := f.submitJob(t, "flaky", nil, 4, 0)
	f.exec.Execute(context.Background(), job)

	if n := len(f.repo.All()); n != 1 {
		t.Errorf("job rows = %d, want 1", n)
	}
	dead := f.dead.all()
	if len(dead) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(dead))
	}
	if dead[0].reason != domain.DeadLetterReasonMaxRetries {
		t.Errorf("reason = %v, want max_retries", dead[0].reason)
	}
	if dead[0].attempts != 4 {
		t.Errorf("attempts = %d, want 4", dead[0].attempts)
	}
}

func TestExecuteCircuitOpenReason(t *testing.T) {
	f := newExecutorFixture(t)
	h := &neverRetryHandler{stubHandler{name: "external", fn: func(ctx context.Context, args map[string]any) error {
		return fmt.Errorf("payments: %w", breaker.ErrOpen)
	}}}
	_ = f.registry.Register(h)

	job := f.submitJob(t, "external", nil, 1, 0)
	f.exec.Execute(context.Background(), job)

	dead := f.dead.all()
	if len(dead) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(dead))
	}
	if dead[0].reason != domain.DeadLetterReasonCircuitOpen {
		t.Errorf("reason = %v, want circuit_open", dead[0].reason)
	}
}

func TestExecuteInvalidPayload(t *testing.T) {
	f := newExecutorFixture(t)
	job := &domain.Job{ID: uuid.New(), Hook: "whatever", Payload: []byte("not json"), Priority: domain.PriorityNormal}
	_ = f.repo.Submit(context.Background(), job)

	f.exec.Execute(context.Background(), job)

	dead := f.dead.all()
	if len(dead) != 1 || dead[0].reason != domain.DeadLetterReasonInvalidPayload {
		t.Fatalf("dead letters = %v, want one invalid_payload", dead)
	}
	got, _ := f.repo.Get(job.ID)
	if got.Status != domain.JobStatusFailed {
		t.Errorf("status = %v, want failed", got.Status)
	}
}

func TestExecuteUnknownHook(t *testing.T) {
	f := newExecutorFixture(t)
	job := f.submitJob(t, "nobody_home", nil, 1, 0)

	f.exec.Execute(context.Background(), job)

	dead := f.dead.all()
	if len(dead) != 1 || dead[0].reason != domain.DeadLetterReasonInvalidPayload {
		t.Fatalf("dead letters = %v, want one invalid_payload", dead)
	}
}

func TestExecuteRecoversPanic(t *testing.T) {
	f := newExecutorFixture(t)
	_ = f.registry.Register(&stubHandler{name: "boom", fn: func(ctx context.Context, args map[string]any) error {
		panic("nil map write")
	}})

	job := f.submitJob(t, "boom", nil, 1, 0)
	f.exec.Execute(context.Background(), job)

	// A panic is an application error: no retry, straight to the DLQ.
	dead := f.dead.all()
	if len(dead) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(dead))
	}
	if dead[0].reason != domain.DeadLetterReasonException {
		t.Errorf("reason = %v, want exception", dead[0].reason)
	}
}

func TestExecuteRecurringRearms(t *testing.T) {
	f := newExecutorFixture(t)
	_ = f.registry.Register(&stubHandler{name: "cleanup", fn: func(ctx context.Context, args map[string]any) error {
		return nil
	}})

	job := f.submitJob(t, "cleanup", map[string]any{"scope": "all"}, 1, time.Minute)
	f.exec.Execute(context.Background(), job)

	got, _ := f.repo.Get(job.ID)
	if got.Status != domain.JobStatusPending {
		t.Errorf("status = %v, want pending (re-armed)", got.Status)
	}
	if wait := time.Until(got.RunAt); wait < 55*time.Second || wait > 61*time.Second {
		t.Errorf("next run in %v, want ~1m", wait)
	}
	_, env, err := Unwrap(got.Payload)
	if err != nil {
		t.Fatalf("re-armed payload broken: %v", err)
	}
	if env.Attempt != 1 {
		t.Errorf("re-armed attempt = %d, want 1", env.Attempt)
	}
}
