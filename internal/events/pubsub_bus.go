package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"cloud.google.com/go/pubsub"
)

// PubSubBus publishes events to a Google Cloud Pub/Sub topic on top of
// local in-process delivery, for deployments that want durable fan-out.
type PubSubBus struct {
	local  *LocalBus
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPubSubBus connects to Pub/Sub and resolves the topic.
func NewPubSubBus(ctx context.Context, projectID, topicID string) (*PubSubBus, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}

	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("pubsub topic lookup: %w", err)
	}
	if !exists {
		client.Close()
		return nil, fmt.Errorf("pubsub topic %q does not exist", topicID)
	}

	slog.Info("[EventBus] Pub/Sub backend connected", "project", projectID, "topic", topicID)
	return &PubSubBus{local: NewLocalBus(), client: client, topic: topic}, nil
}

// Publish delivers locally first, then hands the event to Pub/Sub. The
// publish result is checked asynchronously; failures are logged only.
func (b *PubSubBus) Publish(ctx context.Context, event Event) error {
	_ = b.local.Publish(ctx, event)

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	result := b.topic.Publish(ctx, &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"topic":    event.Topic,
			"priority": event.Priority,
		},
	})
	go func() {
		if _, err := result.Get(context.Background()); err != nil {
			slog.Warn("[EventBus] Pub/Sub publish failed, delivered locally only",
				"topic", event.Topic, "event_id", event.ID, "error", err)
		}
	}()
	return nil
}

// Subscribe attaches to the local delivery layer.
func (b *PubSubBus) Subscribe(topic string) (<-chan Event, func()) {
	return b.local.Subscribe(topic)
}

// Close flushes pending publishes and shuts everything down.
func (b *PubSubBus) Close() error {
	_ = b.local.Close()
	b.topic.Stop()
	return b.client.Close()
}
