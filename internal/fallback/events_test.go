package fallback

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEventBus_DeliversInOrder(t *testing.T) {
	bus := NewEventBus(16, nil, nil)
	defer bus.Close()

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})

	bus.Subscribe(func(e Event) {
		mu.Lock()
		got = append(got, e.RequestID)
		mu.Unlock()
		if len(got) == 3 {
			close(done)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Run(ctx)

	bus.Publish(Event{Type: EventExecutionStarted, RequestID: "a"})
	bus.Publish(Event{Type: EventExecutionCompleted, RequestID: "b"})
	bus.Publish(Event{Type: EventExecutionFailed, RequestID: "c"})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("events not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestEventBus_DropsWhenFull(t *testing.T) {
	// No dispatcher running, so the queue fills up
	bus := NewEventBus(2, nil, nil)
	defer bus.Close()

	for i := 0; i < 5; i++ {
		bus.Publish(Event{Type: EventExecutionStarted})
	}

	assert.Equal(t, uint64(3), bus.Dropped())
}

func TestEventBus_PublishAfterClose(t *testing.T) {
	bus := NewEventBus(4, nil, nil)
	bus.Close()

	// Must not panic
	bus.Publish(Event{Type: EventExecutionStarted})
	assert.Equal(t, uint64(0), bus.Dropped())
}

func TestEventBus_TimestampAssigned(t *testing.T) {
	bus := NewEventBus(4, nil, nil)
	defer bus.Close()

	received := make(chan Event, 1)
	bus.Subscribe(func(e Event) { received <- e })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Run(ctx)

	bus.Publish(Event{Type: EventExecutionStarted, RequestID: "x"})

	select {
	case e := <-received:
		assert.False(t, e.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}
