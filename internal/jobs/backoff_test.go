package jobs

import (
	"testing"
	"time"
)

func TestDefaultBackoffSchedule(t *testing.T) {
	want := []time.Duration{30 * time.Second, 90 * time.Second, 270 * time.Second}
	for i, expected := range want {
		attempt := i + 1
		if got := DefaultBackoff.Delay(attempt); got != expected {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, expected)
		}
	}
}

func TestBackoffCustomFactor(t *testing.T) {
	b := Backoff{Base: time.Second, Factor: 2}
	if got := b.Delay(4); got != 8*time.Second {
		t.Errorf("Delay(4) = %v, want 8s", got)
	}
}

func TestBackoffClampsBadAttempt(t *testing.T) {
	if got := DefaultBackoff.Delay(0); got != 30*time.Second {
		t.Errorf("Delay(0) = %v, want base delay", got)
	}
	if got := DefaultBackoff.Delay(-3); got != 30*time.Second {
		t.Errorf("Delay(-3) = %v, want base delay", got)
	}
}
