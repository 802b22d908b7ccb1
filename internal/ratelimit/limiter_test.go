package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vietddude/conveyor/internal/infra/storage/memory"
)

func newTestLimiter(rules map[string]Rule) *Limiter {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewLimiter(memory.NewRateLimitRepo(memory.NewMemoryStorage()), rules, log)
}

func TestCheckAndHitEnforcesLimit(t *testing.T) {
	l := newTestLimiter(map[string]Rule{"webhook": {Limit: 3, Window: time.Hour}})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.CheckAndHit(ctx, "tenant-1", "webhook")
		if err != nil {
			t.Fatalf("hit %d failed: %v", i+1, err)
		}
		if !d.Allowed {
			t.Fatalf("hit %d denied, want allowed", i+1)
		}
		if d.Remaining != 3-(i+1) {
			t.Errorf("hit %d remaining = %d, want %d", i+1, d.Remaining, 3-(i+1))
		}
	}

	d, err := l.CheckAndHit(ctx, "tenant-1", "webhook")
	if err != nil {
		t.Fatalf("over-limit hit failed: %v", err)
	}
	if d.Allowed {
		t.Error("fourth hit allowed, want denied")
	}
	if d.Remaining != 0 {
		t.Errorf("remaining = %d, want 0", d.Remaining)
	}
}

func TestCheckAndHitIdentifiersIndependent(t *testing.T) {
	l := newTestLimiter(map[string]Rule{"webhook": {Limit: 1, Window: time.Hour}})
	ctx := context.Background()

	if d, _ := l.CheckAndHit(ctx, "tenant-1", "webhook"); !d.Allowed {
		t.Fatal("tenant-1 denied")
	}
	if d, _ := l.CheckAndHit(ctx, "tenant-2", "webhook"); !d.Allowed {
		t.Error("tenant-2 should have its own window")
	}
}

func TestCheckAndHitUnconfiguredTypeUnlimited(t *testing.T) {
	l := newTestLimiter(nil)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		d, err := l.CheckAndHit(ctx, "tenant-1", "unknown")
		if err != nil || !d.Allowed {
			t.Fatalf("hit %d = (%v, %v), want allowed", i, d.Allowed, err)
		}
	}
}

func TestCheckAndHitConcurrentNeverOverAdmits(t *testing.T) {
	const limit = 10
	l := newTestLimiter(map[string]Rule{"api": {Limit: limit, Window: time.Hour}})
	ctx := context.Background()

	var admitted atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < 2*limit; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			d, err := l.CheckAndHit(ctx, "tenant-1", "api")
			if err != nil {
				t.Errorf("CheckAndHit failed: %v", err)
				return
			}
			if d.Allowed {
				admitted.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := admitted.Load(); got != limit {
		t.Errorf("admitted = %d, want exactly %d", got, limit)
	}
}

func TestBlockOverridesWindow(t *testing.T) {
	l := newTestLimiter(map[string]Rule{"webhook": {Limit: 100, Window: time.Hour}})
	ctx := context.Background()

	if err := l.Block(ctx, "tenant-bad", time.Hour, "abuse report"); err != nil {
		t.Fatalf("Block failed: %v", err)
	}

	d, err := l.CheckAndHit(ctx, "tenant-bad", "webhook")
	if err != nil {
		t.Fatalf("CheckAndHit failed: %v", err)
	}
	if d.Allowed {
		t.Error("blocked identifier admitted")
	}
	if d.ResetAt.Before(time.Now()) {
		t.Error("ResetAt should reflect the block expiry")
	}

	// Other identifiers are untouched.
	if d, _ := l.CheckAndHit(ctx, "tenant-good", "webhook"); !d.Allowed {
		t.Error("unblocked identifier denied")
	}
}

func TestUnblockRestoresAdmission(t *testing.T) {
	l := newTestLimiter(map[string]Rule{"webhook": {Limit: 5, Window: time.Hour}})
	ctx := context.Background()

	_ = l.Block(ctx, "tenant-1", time.Hour, "manual")
	if d, _ := l.CheckAndHit(ctx, "tenant-1", "webhook"); d.Allowed {
		t.Fatal("block not effective")
	}

	if err := l.Unblock(ctx, "tenant-1"); err != nil {
		t.Fatalf("Unblock failed: %v", err)
	}
	if d, _ := l.CheckAndHit(ctx, "tenant-1", "webhook"); !d.Allowed {
		t.Error("identifier still denied after unblock")
	}
}

func TestCheckDoesNotConsumeSlot(t *testing.T) {
	l := newTestLimiter(map[string]Rule{"webhook": {Limit: 1, Window: time.Hour}})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d, err := l.Check(ctx, "tenant-1", "webhook")
		if err != nil {
			t.Fatalf("Check failed: %v", err)
		}
		if !d.Allowed || d.Remaining != 1 {
			t.Fatalf("Check consumed a slot: %+v", d)
		}
	}

	if d, _ := l.CheckAndHit(ctx, "tenant-1", "webhook"); !d.Allowed {
		t.Error("the single slot should still be available")
	}
}
