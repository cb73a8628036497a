package server

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusBusFanout(t *testing.T) {
	bus := NewStatusBus()

	a, unsubA := bus.Subscribe("g1")
	b, unsubB := bus.Subscribe("g1")
	defer unsubA()
	defer unsubB()

	bus.Publish("g1", "processing", nil)
	bus.Publish("g1", "complete", map[string]any{"output": "done"})

	for _, ch := range []<-chan StatusEvent{a, b} {
		ev := <-ch
		require.Equal(t, "processing", ev.Status)
		ev = <-ch
		require.Equal(t, "complete", ev.Status)
	}
}

func TestStatusBusIsolatesGears(t *testing.T) {
	bus := NewStatusBus()

	a, unsubA := bus.Subscribe("g1")
	defer unsubA()
	_, unsubB := bus.Subscribe("g2")
	defer unsubB()

	bus.Publish("g2", "processing", nil)

	select {
	case ev := <-a:
		t.Fatalf("g1 subscriber received %+v for g2", ev)
	default:
	}
}

func TestStatusBusUnsubscribe(t *testing.T) {
	bus := NewStatusBus()

	ch, unsub := bus.Subscribe("g1")
	require.Equal(t, 1, bus.Subscribers("g1"))

	unsub()
	_, open := <-ch
	require.False(t, open)
	require.Equal(t, 0, bus.Subscribers("g1"))
	require.False(t, bus.HasEntry("g1"), "empty gear entry should be removed")

	// Idempotent.
	unsub()
}

func TestStatusBusDropsSlowSubscriber(t *testing.T) {
	bus := NewStatusBus()

	slow, unsub := bus.Subscribe("g1")
	defer unsub()

	// Fill the buffer without draining, then overflow it.
	for i := 0; i <= subscriberBuffer; i++ {
		bus.Publish("g1", "processing", nil)
	}

	require.Equal(t, 0, bus.Subscribers("g1"))

	// The channel still drains its buffered events, then reports closed.
	n := 0
	for range slow {
		n++
	}
	require.Equal(t, subscriberBuffer, n)
}

func TestStatusBusPublishWithoutSubscribers(t *testing.T) {
	bus := NewStatusBus()
	bus.Publish("nobody", "processing", nil) // must not panic
	require.False(t, bus.HasEntry("nobody"))
}
