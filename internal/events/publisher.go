package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/narenallam/e-commerce-saga/pkg/logger"
)

const defaultChannel = "saga:events"

// RedisPublisher publishes saga events on a Redis pub/sub channel.
type RedisPublisher struct {
	client  redis.Cmdable
	channel string
	log     *logger.Logger
}

// NewRedisPublisher creates a publisher. An empty channel name uses the
// default.
func NewRedisPublisher(client redis.Cmdable, channel string, log *logger.Logger) *RedisPublisher {
	if channel == "" {
		channel = defaultChannel
	}
	return &RedisPublisher{
		client:  client,
		channel: channel,
		log:     log,
	}
}

// Publish is best-effort; a publish failure is logged and never propagated
// into saga execution.
func (p *RedisPublisher) Publish(ctx context.Context, ev Event) {
	raw, err := json.Marshal(ev)
	if err != nil {
		p.log.WithError(err).Warn("encode saga event")
		return
	}
	if err := p.client.Publish(ctx, p.channel, raw).Err(); err != nil {
		p.log.WithError(err).Warn("publish saga event")
	}
}
