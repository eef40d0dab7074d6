package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventEnvelope(t *testing.T) {
	e, err := NewEvent(TopicViolationDetected, PriorityHigh, map[string]string{"violation_id": "v1"})
	require.NoError(t, err)

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, TopicViolationDetected, e.Topic)
	assert.Equal(t, PriorityHigh, e.Priority)
	assert.False(t, e.Timestamp.IsZero())

	var payload map[string]string
	require.NoError(t, json.Unmarshal(e.Data, &payload))
	assert.Equal(t, "v1", payload["violation_id"])
}

func TestLocalBusDelivers(t *testing.T) {
	bus := NewLocalBus()
	defer bus.Close()

	ch, cancel := bus.Subscribe(TopicViolationDetected)
	defer cancel()

	e, err := NewEvent(TopicViolationDetected, PriorityHigh, "payload")
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), e))

	got := <-ch
	assert.Equal(t, e.ID, got.ID)
}

func TestLocalBusTopicIsolation(t *testing.T) {
	bus := NewLocalBus()
	defer bus.Close()

	ch, cancel := bus.Subscribe("other.topic")
	defer cancel()

	e, err := NewEvent(TopicViolationDetected, PriorityHigh, "payload")
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), e))

	select {
	case got := <-ch:
		t.Fatalf("unexpected delivery: %v", got.ID)
	default:
	}
}

func TestLocalBusDropsWhenSubscriberFull(t *testing.T) {
	bus := NewLocalBus()
	defer bus.Close()

	ch, cancel := bus.Subscribe(TopicViolationDetected)
	defer cancel()

	for i := 0; i < subscriberBuffer+5; i++ {
		e, err := NewEvent(TopicViolationDetected, PriorityHigh, i)
		require.NoError(t, err)
		require.NoError(t, bus.Publish(context.Background(), e))
	}

	// Only the buffered events survive; the publisher never blocked.
	assert.Len(t, ch, subscriberBuffer)
}

func TestLocalBusCancelUnsubscribes(t *testing.T) {
	bus := NewLocalBus()
	defer bus.Close()

	ch, cancel := bus.Subscribe(TopicViolationDetected)
	cancel()

	_, open := <-ch
	assert.False(t, open)

	e, err := NewEvent(TopicViolationDetected, PriorityHigh, "payload")
	require.NoError(t, err)
	assert.NoError(t, bus.Publish(context.Background(), e))
}

func TestLocalBusCloseIdempotent(t *testing.T) {
	bus := NewLocalBus()
	_, _ = bus.Subscribe(TopicViolationDetected)
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())
}
