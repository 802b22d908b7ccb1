package jobs

import (
	"sync"
	"time"

	"github.com/vietddude/conveyor/internal/core/domain"
)

// LaneConfig tunes one priority lane.
type LaneConfig struct {
	Workers         int
	PollInterval    time.Duration
	MinPollInterval time.Duration
	MaxBatch        int
}

// DefaultLaneConfig returns the built-in admission budget for a lane.
// Higher priorities poll faster with more workers.
func DefaultLaneConfig(p domain.Priority) LaneConfig {
	switch p {
	case domain.PriorityCritical:
		return LaneConfig{Workers: 8, PollInterval: 250 * time.Millisecond, MinPollInterval: 50 * time.Millisecond, MaxBatch: 20}
	case domain.PriorityUrgent:
		return LaneConfig{Workers: 6, PollInterval: 500 * time.Millisecond, MinPollInterval: 100 * time.Millisecond, MaxBatch: 15}
	case domain.PriorityNormal:
		return LaneConfig{Workers: 4, PollInterval: time.Second, MinPollInterval: 200 * time.Millisecond, MaxBatch: 10}
	case domain.PriorityBulk:
		return LaneConfig{Workers: 2, PollInterval: 2 * time.Second, MinPollInterval: 500 * time.Millisecond, MaxBatch: 10}
	default:
		return LaneConfig{Workers: 1, PollInterval: 5 * time.Second, MinPollInterval: time.Second, MaxBatch: 5}
	}
}

// highLatencyThreshold is the point past which claim batches shrink to
// stop slow handlers from hogging a lane's workers.
const highLatencyThreshold = 2 * time.Second

// laneController computes poll intervals and claim batch sizes from the
// lane's backlog and recent execution latency.
type laneController struct {
	cfg LaneConfig

	mu         sync.Mutex
	avgLatency time.Duration // EWMA over recent executions
}

func newLaneController(cfg LaneConfig) *laneController {
	return &laneController{cfg: cfg}
}

// ComputeInterval shortens the poll interval as the backlog grows.
//
// Algorithm:
//   - depth == 0: base interval (idle, save queries)
//   - depth < batch: base interval / 2 (slightly behind)
//   - depth < 10×batch: min interval × 2 (catching up)
//   - otherwise: min interval (maximum drain speed)
func (c *laneController) ComputeInterval(depth int) time.Duration {
	var interval time.Duration

	switch {
	case depth <= 0:
		interval = c.cfg.PollInterval
	case depth < c.cfg.MaxBatch:
		interval = c.cfg.PollInterval / 2
	case depth < 10*c.cfg.MaxBatch:
		interval = c.cfg.MinPollInterval * 2
	default:
		interval = c.cfg.MinPollInterval
	}

	if interval < c.cfg.MinPollInterval {
		interval = c.cfg.MinPollInterval
	}
	if interval > c.cfg.PollInterval {
		interval = c.cfg.PollInterval
	}
	return interval
}

// ComputeBatch sizes the next claim from the backlog, shrinking to one
// job at a time while handlers are running slow.
func (c *laneController) ComputeBatch(depth int) int {
	c.mu.Lock()
	slow := c.avgLatency > highLatencyThreshold
	c.mu.Unlock()

	if slow {
		return 1
	}

	var batch int
	switch {
	case depth <= 0:
		batch = 1
	case depth < 10:
		batch = min(3, c.cfg.MaxBatch)
	case depth < 100:
		batch = min(10, c.cfg.MaxBatch)
	default:
		batch = c.cfg.MaxBatch
	}
	if batch < 1 {
		batch = 1
	}
	return batch
}

// Observe feeds one execution duration into the latency EWMA.
func (c *laneController) Observe(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.avgLatency == 0 {
		c.avgLatency = d
		return
	}
	// 80/20 smoothing
	c.avgLatency = (c.avgLatency*4 + d) / 5
}
