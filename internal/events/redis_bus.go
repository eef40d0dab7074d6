package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisBus publishes events to a Redis pub/sub channel per topic, on top
// of local in-process delivery. A broker failure degrades to local-only
// delivery.
type RedisBus struct {
	local  *LocalBus
	client *redis.Client
}

// NewRedisBus connects to Redis and verifies it with a ping.
func NewRedisBus(ctx context.Context, addr, password string) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	slog.Info("[EventBus] Redis backend connected", "addr", addr)
	return &RedisBus{local: NewLocalBus(), client: client}, nil
}

// Publish delivers locally first, then to Redis. The Redis leg is best
// effort.
func (b *RedisBus) Publish(ctx context.Context, event Event) error {
	_ = b.local.Publish(ctx, event)

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, event.Topic, payload).Err(); err != nil {
		slog.Warn("[EventBus] Redis publish failed, delivered locally only",
			"topic", event.Topic, "event_id", event.ID, "error", err)
	}
	return nil
}

// Subscribe attaches to the local delivery layer.
func (b *RedisBus) Subscribe(topic string) (<-chan Event, func()) {
	return b.local.Subscribe(topic)
}

// Close shuts down local delivery and the Redis connection.
func (b *RedisBus) Close() error {
	_ = b.local.Close()
	return b.client.Close()
}
