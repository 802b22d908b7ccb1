package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	redisclient "github.com/vietddude/conveyor/internal/infra/redis"
)

const defaultChannel = "conveyor:events"

// RedisSink publishes events to a Redis channel for external
// dashboards and alerting to subscribe to.
type RedisSink struct {
	client  *redisclient.Client
	channel string
	log     *slog.Logger
}

func NewRedisSink(client *redisclient.Client, channel string, log *slog.Logger) *RedisSink {
	if channel == "" {
		channel = defaultChannel
	}
	return &RedisSink{client: client, channel: channel, log: log}
}

func (s *RedisSink) Emit(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.log.Warn("failed to marshal event", "type", ev.Type, "error", err)
		return
	}

	// Bounded so a slow Redis cannot stall the executor.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	if err := s.client.Publish(pubCtx, s.channel, payload); err != nil {
		s.log.Warn("failed to publish event", "type", ev.Type, "error", err)
	}
}
