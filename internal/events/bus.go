// Package events carries violation events to in-process subscribers and,
// depending on configuration, to an external broker. Delivery is best
// effort everywhere: a publish failure is logged, never propagated.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TopicViolationDetected is the topic every emitted violation goes out on.
const TopicViolationDetected = "violation.detected"

// PriorityHigh marks violation events for downstream consumers.
const PriorityHigh = "high"

// subscriberBuffer bounds each subscriber channel; slow subscribers drop.
const subscriberBuffer = 16

// Event is the bus envelope.
type Event struct {
	ID        string          `json:"id"`
	Topic     string          `json:"topic"`
	Priority  string          `json:"priority"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewEvent wraps a payload into an envelope, marshaling it to JSON.
func NewEvent(topic, priority string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:        uuid.NewString(),
		Topic:     topic,
		Priority:  priority,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}, nil
}

// Bus publishes events and hands out in-process subscriptions.
type Bus interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(topic string) (<-chan Event, func())
	Close() error
}

// LocalBus is the in-process implementation and the local-delivery layer
// under the broker-backed implementations.
type LocalBus struct {
	mu     sync.RWMutex
	subs   map[string][]chan Event
	closed bool
}

// NewLocalBus creates an empty in-process bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[string][]chan Event)}
}

// Publish fans the event out to the topic's subscribers. Full subscriber
// buffers drop the event rather than block the pipeline.
func (b *LocalBus) Publish(_ context.Context, event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil
	}
	for _, ch := range b.subs[event.Topic] {
		select {
		case ch <- event:
		default:
			slog.Warn("[EventBus] Dropping event for slow subscriber", "topic", event.Topic, "event_id", event.ID)
		}
	}
	return nil
}

// Subscribe registers a subscriber for a topic. The returned cancel
// function unregisters it and closes the channel.
func (b *LocalBus) Subscribe(topic string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[topic]
		for i, c := range subs {
			if c == ch {
				b.subs[topic] = append(subs[:i], subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

// Close drops all subscribers.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for topic, subs := range b.subs {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subs, topic)
	}
	return nil
}
