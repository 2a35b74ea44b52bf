package fallback

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopsense/shopsense/pkg/logging"
	"github.com/shopsense/shopsense/pkg/metrics"
)

// EventType identifies a lifecycle notification
type EventType string

const (
	EventExecutionStarted   EventType = "execution_started"
	EventExecutionCompleted EventType = "execution_completed"
	EventExecutionFailed    EventType = "execution_failed"
)

// Event is an in-process lifecycle notification consumed by logging and
// telemetry. No wire format is mandated.
type Event struct {
	Type      EventType     `json:"type"`
	RequestID string        `json:"request_id"`
	CacheKey  string        `json:"cache_key,omitempty"`
	StageID   string        `json:"stage_id,omitempty"` // "cache" for cache-served results
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
	Timestamp time.Time     `json:"timestamp"`
}

// EventBus delivers lifecycle events to subscribers through a bounded queue.
// Publishing never blocks the execution path: when the queue is full the
// event is dropped and counted.
type EventBus struct {
	ch      chan Event
	dropped atomic.Uint64

	mu          sync.RWMutex
	subscribers []func(Event)
	closed      bool

	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewEventBus creates an event bus with the given queue capacity.
func NewEventBus(bufferSize int, logger *logging.Logger, m *metrics.Metrics) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if logger == nil {
		logger = logging.GetLogger()
	}

	return &EventBus{
		ch:      make(chan Event, bufferSize),
		logger:  logger,
		metrics: m,
	}
}

// Subscribe registers an observer. Observers run sequentially on the
// dispatch goroutine in publish order; slow observers delay later events but
// never the publisher.
func (b *EventBus) Subscribe(fn func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, fn)
}

// Publish enqueues an event without blocking, dropping it if the queue is
// full.
func (b *EventBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// The read lock excludes Close, so the channel cannot be closed
	// mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	select {
	case b.ch <- event:
	default:
		b.dropped.Add(1)
		if b.metrics != nil {
			b.metrics.RecordEventDropped(string(event.Type))
		}
		b.logger.Warn("Event queue full, dropping event",
			"event", string(event.Type),
			"request_id", event.RequestID,
		)
	}
}

// Run dispatches queued events to subscribers until the context is done or
// Close is called.
func (b *EventBus) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-b.ch:
			if !ok {
				return
			}
			b.dispatch(event)
		}
	}
}

// Close stops accepting events and closes the queue.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
}

// Dropped returns the number of events dropped because the queue was full.
func (b *EventBus) Dropped() uint64 {
	return b.dropped.Load()
}

func (b *EventBus) dispatch(event Event) {
	b.mu.RLock()
	subscribers := make([]func(Event), len(b.subscribers))
	copy(subscribers, b.subscribers)
	b.mu.RUnlock()

	for _, fn := range subscribers {
		fn(event)
	}
}
