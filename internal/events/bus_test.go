package events

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meetscribe/meetscribe/internal/types"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	bus := NewBus()
	ch1, cancel1 := bus.Subscribe()
	ch2, cancel2 := bus.Subscribe()
	defer cancel1()
	defer cancel2()

	bus.Publish(types.Event{Type: types.EventSession, State: "recording"})

	ev1 := <-ch1
	ev2 := <-ch2
	require.Equal(t, "recording", ev1.State)
	require.Equal(t, "recording", ev2.State)
	require.False(t, ev1.At.IsZero())
}

func TestCancelStopsDelivery(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe()
	cancel()
	require.NotPanics(t, cancel)

	bus.Publish(types.Event{Type: types.EventError, Message: "x"})

	_, open := <-ch
	require.False(t, open)
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := NewBus()
	_, cancel := bus.Subscribe()
	defer cancel()

	// Channel capacity is 64; publishing past it must not block.
	for i := 0; i < 200; i++ {
		bus.Publish(types.Event{Type: types.EventJob, JobID: "j"})
	}
}
