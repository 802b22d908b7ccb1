package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/conveyor/internal/core/domain"
	"github.com/vietddude/conveyor/internal/infra/storage"
	"github.com/vietddude/conveyor/internal/metrics"
)

// Dispatcher is the deferred-execution facility: one claim loop per
// priority lane feeding a bounded worker pool. Claims go through
// FOR UPDATE SKIP LOCKED (or its in-memory equivalent), so many
// dispatcher processes can share one queue.
type Dispatcher struct {
	repo  storage.JobRepository
	exec  *Executor
	log   *slog.Logger
	lanes map[domain.Priority]*lane

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type lane struct {
	priority domain.Priority
	cfg      LaneConfig
	ctrl     *laneController
	work     chan *domain.Job
}

// NewDispatcher builds lanes for every priority. overrides replaces the
// built-in budget for the lanes it names.
func NewDispatcher(repo storage.JobRepository, exec *Executor, overrides map[domain.Priority]LaneConfig, log *slog.Logger) *Dispatcher {
	lanes := make(map[domain.Priority]*lane, len(domain.Priorities))
	for _, p := range domain.Priorities {
		cfg := DefaultLaneConfig(p)
		if o, ok := overrides[p]; ok {
			cfg = o
		}
		lanes[p] = &lane{
			priority: p,
			cfg:      cfg,
			ctrl:     newLaneController(cfg),
			work:     make(chan *domain.Job, cfg.MaxBatch),
		}
	}
	return &Dispatcher{repo: repo, exec: exec, lanes: lanes, log: log}
}

// Start launches the claim loops and worker pools.
func (d *Dispatcher) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	for _, l := range d.lanes {
		for i := 0; i < l.cfg.Workers; i++ {
			d.wg.Add(1)
			go d.runWorker(runCtx, l)
		}
		d.wg.Add(1)
		go d.runLane(runCtx, l)
	}
	d.log.Info("dispatcher started", "lanes", len(d.lanes))
}

// Stop halts claiming and waits for in-flight jobs to finish, bounded
// by ctx.
func (d *Dispatcher) Stop(ctx context.Context) error {
	if d.cancel != nil {
		d.cancel()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.log.Info("dispatcher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) runLane(ctx context.Context, l *lane) {
	defer d.wg.Done()
	defer close(l.work)

	timer := time.NewTimer(l.cfg.PollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		depth, err := d.repo.CountPending(ctx, l.priority)
		if err != nil {
			d.log.Warn("failed to count pending jobs", "priority", l.priority.String(), "error", err)
			timer.Reset(l.cfg.PollInterval)
			continue
		}
		metrics.QueueDepth.WithLabelValues(l.priority.String()).Set(float64(depth))

		batch := l.ctrl.ComputeBatch(depth)
		claimed, err := d.repo.Claim(ctx, l.priority, time.Now(), batch)
		if err != nil {
			d.log.Warn("failed to claim jobs", "priority", l.priority.String(), "error", err)
			timer.Reset(l.cfg.PollInterval)
			continue
		}

		for _, job := range claimed {
			select {
			case l.work <- job:
			case <-ctx.Done():
				// Shutting down mid-batch; unstarted claims go back to
				// pending so another process picks them up.
				d.requeue(job)
				return
			}
		}

		timer.Reset(l.ctrl.ComputeInterval(depth))
	}
}

func (d *Dispatcher) runWorker(ctx context.Context, l *lane) {
	defer d.wg.Done()
	// Once a callback has started there is no preemption: shutdown
	// stops claiming but lets in-flight jobs run to completion.
	execCtx := context.WithoutCancel(ctx)
	for job := range l.work {
		start := time.Now()
		d.exec.Execute(execCtx, job)
		l.ctrl.Observe(time.Since(start))
	}
}

func (d *Dispatcher) requeue(job *domain.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.repo.Rearm(ctx, job.ID, job.Payload, job.RunAt); err != nil {
		d.log.Error("failed to requeue claimed job", "job_id", job.ID, "error", err)
	}
}
