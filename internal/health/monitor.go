package health

import (
	"context"
	"time"

	"github.com/vietddude/conveyor/internal/core/domain"
	"github.com/vietddude/conveyor/internal/infra/storage"
)

// Status levels, worst case wins in the aggregate.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusCritical Status = "critical"
)

// Check is the state of one subsystem.
type Check struct {
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
	Detail any    `json:"detail,omitempty"`
}

// Pinger is anything with a health probe.
type Pinger interface {
	Health(ctx context.Context) error
}

// degradedBacklog is the pending-job count past which a lane is
// reported degraded.
const degradedBacklog = 1000

// Monitor aggregates subsystem health.
type Monitor struct {
	db    Pinger
	redis Pinger // may be nil
	jobs  storage.JobRepository
}

func NewMonitor(db Pinger, redis Pinger, jobs storage.JobRepository) *Monitor {
	return &Monitor{db: db, redis: redis, jobs: jobs}
}

// CheckHealth probes every subsystem with a bounded deadline.
func (m *Monitor) CheckHealth(ctx context.Context) map[string]Check {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	report := make(map[string]Check)

	if m.db != nil {
		report["database"] = pingCheck(ctx, m.db)
	}
	if m.redis != nil {
		report["redis"] = pingCheck(ctx, m.redis)
	}

	if m.jobs != nil {
		depths := make(map[string]int)
		status := StatusHealthy
		var probeErr string
		for _, p := range domain.Priorities {
			depth, err := m.jobs.CountPending(ctx, p)
			if err != nil {
				status = StatusCritical
				probeErr = err.Error()
				break
			}
			depths[p.String()] = depth
			if depth > degradedBacklog {
				status = StatusDegraded
			}
		}
		report["queue"] = Check{Status: status, Error: probeErr, Detail: depths}
	}

	return report
}

func pingCheck(ctx context.Context, p Pinger) Check {
	if err := p.Health(ctx); err != nil {
		return Check{Status: StatusCritical, Error: err.Error()}
	}
	return Check{Status: StatusHealthy}
}
