package breaker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/vietddude/conveyor/internal/core/domain"
	"github.com/vietddude/conveyor/internal/infra/storage/memory"
)

func newTestBreaker(threshold int, cooldown time.Duration) (*Breaker, *time.Time) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := memory.NewCircuitRepo(memory.NewMemoryStorage())
	b := New(repo, threshold, cooldown, log)

	now := time.Now()
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)
	ctx := context.Background()
	boom := errors.New("dependency down")

	for i := 0; i < 3; i++ {
		if err := b.Execute(ctx, "payments", func() error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("call %d: err = %v, want original error", i+1, err)
		}
	}

	state, err := b.State(ctx, "payments")
	if err != nil {
		t.Fatalf("State failed: %v", err)
	}
	if state.State != domain.CircuitOpen {
		t.Fatalf("state = %v, want open", state.State)
	}

	// Open circuit fails fast without touching the dependency.
	invoked := false
	err = b.Execute(ctx, "payments", func() error { invoked = true; return nil })
	if !errors.Is(err, ErrOpen) {
		t.Errorf("err = %v, want ErrOpen", err)
	}
	if invoked {
		t.Error("callback invoked while circuit open")
	}
}

func TestBreakerTracksDependenciesIndependently(t *testing.T) {
	b, _ := newTestBreaker(2, time.Minute)
	ctx := context.Background()
	boom := errors.New("down")

	for i := 0; i < 2; i++ {
		_ = b.Execute(ctx, "payments", func() error { return boom })
	}

	if err := b.Execute(ctx, "email", func() error { return nil }); err != nil {
		t.Errorf("healthy dependency affected: %v", err)
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b, now := newTestBreaker(2, time.Minute)
	ctx := context.Background()
	boom := errors.New("down")

	for i := 0; i < 2; i++ {
		_ = b.Execute(ctx, "payments", func() error { return boom })
	}

	*now = now.Add(2 * time.Minute)

	invoked := false
	if err := b.Execute(ctx, "payments", func() error { invoked = true; return nil }); err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
	if !invoked {
		t.Fatal("trial callback not invoked after cooldown")
	}

	state, _ := b.State(ctx, "payments")
	if state.State != domain.CircuitClosed {
		t.Errorf("state = %v, want closed after successful trial", state.State)
	}
	if state.Failures != 0 {
		t.Errorf("failures = %d, want 0", state.Failures)
	}
}

func TestBreakerHalfOpenSingleTrial(t *testing.T) {
	b, now := newTestBreaker(2, time.Minute)
	ctx := context.Background()
	boom := errors.New("down")

	for i := 0; i < 2; i++ {
		_ = b.Execute(ctx, "payments", func() error { return boom })
	}
	*now = now.Add(2 * time.Minute)

	// While the trial is in flight every other caller keeps failing fast.
	err := b.Execute(ctx, "payments", func() error {
		if inner := b.Execute(ctx, "payments", func() error { return nil }); !errors.Is(inner, ErrOpen) {
			t.Errorf("concurrent caller err = %v, want ErrOpen", inner)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker(2, time.Minute)
	ctx := context.Background()
	boom := errors.New("down")

	for i := 0; i < 2; i++ {
		_ = b.Execute(ctx, "payments", func() error { return boom })
	}
	*now = now.Add(2 * time.Minute)

	if err := b.Execute(ctx, "payments", func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("trial err = %v, want original error", err)
	}

	state, _ := b.State(ctx, "payments")
	if state.State != domain.CircuitOpen {
		t.Errorf("state = %v, want open after failed trial", state.State)
	}

	// Fresh cooldown from the failed trial.
	if err := b.Execute(ctx, "payments", func() error { return nil }); !errors.Is(err, ErrOpen) {
		t.Errorf("err = %v, want ErrOpen during renewed cooldown", err)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)
	ctx := context.Background()
	boom := errors.New("down")

	_ = b.Execute(ctx, "payments", func() error { return boom })
	_ = b.Execute(ctx, "payments", func() error { return boom })
	_ = b.Execute(ctx, "payments", func() error { return nil })
	_ = b.Execute(ctx, "payments", func() error { return boom })
	_ = b.Execute(ctx, "payments", func() error { return boom })

	state, _ := b.State(ctx, "payments")
	if state.State != domain.CircuitClosed {
		t.Errorf("state = %v, want closed (success reset the streak)", state.State)
	}
}

func TestBreakerReset(t *testing.T) {
	b, _ := newTestBreaker(1, time.Hour)
	ctx := context.Background()

	_ = b.Execute(ctx, "payments", func() error { return errors.New("down") })
	state, _ := b.State(ctx, "payments")
	if state.State != domain.CircuitOpen {
		t.Fatalf("state = %v, want open", state.State)
	}

	if err := b.Reset(ctx, "payments"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if err := b.Execute(ctx, "payments", func() error { return nil }); err != nil {
		t.Errorf("call after reset failed: %v", err)
	}
}
