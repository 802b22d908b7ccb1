// Package events carries job lifecycle notifications to the surrounding
// application. Sinks are pure: the core never reads events back, so a
// failing sink must never fail the job that emitted it.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/conveyor/internal/core/domain"
)

// Type names a lifecycle transition.
type Type string

const (
	TypeScheduled    Type = "job.scheduled"
	TypeStarted      Type = "job.started"
	TypeCompleted    Type = "job.completed"
	TypeFailed       Type = "job.failed"
	TypeRetried      Type = "job.retried"
	TypeDeadLettered Type = "job.dead_lettered"
	TypeCancelled    Type = "job.cancelled"
	TypeReplayed     Type = "job.replayed"
)

// Event is one lifecycle notification.
type Event struct {
	Type     Type            `json:"type"`
	JobID    string          `json:"job_id,omitempty"`
	Hook     string          `json:"hook"`
	Priority domain.Priority `json:"priority,omitempty"`
	Attempt  int             `json:"attempt,omitempty"`
	Error    string          `json:"error,omitempty"`
	At       time.Time       `json:"at"`
}

// Sink receives events. Implementations must not block the caller for
// long and must swallow their own failures.
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

// LogSink writes events to the structured log.
type LogSink struct {
	log *slog.Logger
}

func NewLogSink(log *slog.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Emit(ctx context.Context, ev Event) {
	attrs := []any{"hook", ev.Hook, "job_id", ev.JobID, "attempt", ev.Attempt}
	if ev.Error != "" {
		attrs = append(attrs, "error", ev.Error)
	}
	s.log.Debug(string(ev.Type), attrs...)
}

// MultiSink fans an event out to several sinks.
type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (s *MultiSink) Emit(ctx context.Context, ev Event) {
	for _, sink := range s.sinks {
		sink.Emit(ctx, ev)
	}
}
