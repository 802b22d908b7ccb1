package jobs

import (
	"math"
	"time"
)

// Backoff computes retry delays: Base × Factor^(attempt-1), so the
// defaults yield 30s, 90s, 270s for attempts 2-4.
type Backoff struct {
	Base   time.Duration
	Factor float64
}

// DefaultBackoff matches the layer-wide retry schedule.
var DefaultBackoff = Backoff{Base: 30 * time.Second, Factor: 3.0}

// Delay returns the wait before scheduling attempt+1, given the attempt
// that just failed (1-indexed).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(float64(b.Base) * math.Pow(b.Factor, float64(attempt-1)))
}
