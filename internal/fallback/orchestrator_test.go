package fallback

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopsense/shopsense/internal/cache"
	apperrors "github.com/shopsense/shopsense/pkg/errors"
)

func newTestCache() *cache.TieredCache {
	return cache.NewTieredCache(cache.NewMemorySharedTier(), &cache.Config{
		FastTierSize:   64,
		EvictionPolicy: cache.EvictLRU,
		BaseTTL:        time.Minute,
		SharedTTL:      time.Hour,
		JitterFraction: 0,
	}, nil, nil)
}

func newTestOrchestrator(t *testing.T, tc *cache.TieredCache, descriptors ...StageDescriptor) *Orchestrator {
	t.Helper()
	orch, err := NewOrchestrator(descriptors, Config{
		DefaultStageTimeout: time.Second,
		Breaker: BreakerConfig{
			FailureThreshold: 2,
			ResetTimeout:     time.Minute,
		},
	}, tc, nil, nil, nil, nil)
	require.NoError(t, err)
	return orch
}

func succeedingStage(value interface{}) StageFunc {
	return func(ctx context.Context, req *Request) (interface{}, error) {
		return value, nil
	}
}

func failingStage(msg string) StageFunc {
	return func(ctx context.Context, req *Request) (interface{}, error) {
		return nil, errors.New(msg)
	}
}

func TestOrchestrator_RequiresStages(t *testing.T) {
	_, err := NewOrchestrator(nil, Config{}, nil, nil, nil, nil, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConfiguration))
}

func TestOrchestrator_RejectsDuplicateIDs(t *testing.T) {
	_, err := NewOrchestrator([]StageDescriptor{
		{ID: "a", Priority: 1, Stage: succeedingStage("x")},
		{ID: "a", Priority: 2, Stage: succeedingStage("y")},
	}, Config{}, nil, nil, nil, nil, nil)
	require.Error(t, err)
}

func TestOrchestrator_FirstStageWins(t *testing.T) {
	var secondCalled atomic.Bool
	orch := newTestOrchestrator(t, nil,
		StageDescriptor{ID: "primary", Priority: 10, Stage: succeedingStage("primary-value")},
		StageDescriptor{ID: "secondary", Priority: 20, Stage: StageFunc(func(ctx context.Context, req *Request) (interface{}, error) {
			secondCalled.Store(true)
			return "secondary-value", nil
		})},
	)

	outcome := orch.Execute(context.Background(), &Request{Kind: "orders.get"})

	assert.True(t, outcome.Success)
	assert.Equal(t, "primary-value", outcome.Value)
	assert.Equal(t, "primary", outcome.StageID)
	assert.False(t, outcome.Cached)
	assert.False(t, secondCalled.Load())
}

func TestOrchestrator_FallsThroughOnFailure(t *testing.T) {
	orch := newTestOrchestrator(t, nil,
		StageDescriptor{ID: "a", Priority: 10, Stage: failingStage("backend down")},
		StageDescriptor{ID: "b", Priority: 20, Stage: succeedingStage("X")},
	)

	outcome := orch.Execute(context.Background(), &Request{Kind: "orders.get"})

	require.True(t, outcome.Success)
	assert.Equal(t, "X", outcome.Value)
	assert.Equal(t, "b", outcome.StageID)

	require.Len(t, outcome.Results, 2)
	assert.False(t, outcome.Results[0].Success)
	assert.Contains(t, outcome.Results[0].Error, "backend down")
	assert.True(t, outcome.Results[1].Success)
}

func TestOrchestrator_PriorityOrdersExecution(t *testing.T) {
	var order []string
	record := func(id string, err error) StageFunc {
		return func(ctx context.Context, req *Request) (interface{}, error) {
			order = append(order, id)
			if err != nil {
				return nil, err
			}
			return id, nil
		}
	}

	// Declared out of order on purpose
	orch := newTestOrchestrator(t, nil,
		StageDescriptor{ID: "third", Priority: 30, Stage: record("third", nil)},
		StageDescriptor{ID: "first", Priority: 10, Stage: record("first", errors.New("no"))},
		StageDescriptor{ID: "second", Priority: 20, Stage: record("second", errors.New("no"))},
	)

	outcome := orch.Execute(context.Background(), &Request{Kind: "k"})

	assert.Equal(t, []string{"first", "second", "third"}, order)
	assert.Equal(t, "third", outcome.StageID)
}

func TestOrchestrator_AllStagesExhausted(t *testing.T) {
	orch := newTestOrchestrator(t, nil,
		StageDescriptor{ID: "a", Priority: 10, Stage: failingStage("down")},
		StageDescriptor{ID: "b", Priority: 20, Stage: failingStage("also down")},
	)

	outcome := orch.Execute(context.Background(), &Request{Kind: "k"})

	assert.False(t, outcome.Success)
	assert.Nil(t, outcome.Value)
	assert.NotEmpty(t, outcome.Error)
	assert.Len(t, outcome.Results, 2)
	assert.NotEmpty(t, outcome.RequestID)
}

func TestOrchestrator_MalformedRequestFailsFast(t *testing.T) {
	var called atomic.Bool
	orch := newTestOrchestrator(t, nil,
		StageDescriptor{ID: "a", Priority: 10, Stage: StageFunc(func(ctx context.Context, req *Request) (interface{}, error) {
			called.Store(true)
			return "x", nil
		})},
	)

	outcome := orch.Execute(context.Background(), &Request{})

	assert.False(t, outcome.Success)
	assert.NotEmpty(t, outcome.Error)
	assert.False(t, called.Load())
}

func TestOrchestrator_CacheHitShortCircuits(t *testing.T) {
	var calls atomic.Int32
	tc := newTestCache()
	orch := newTestOrchestrator(t, tc,
		StageDescriptor{ID: "a", Priority: 10, Stage: StageFunc(func(ctx context.Context, req *Request) (interface{}, error) {
			calls.Add(1)
			return "fresh", nil
		})},
	)

	req := &Request{Kind: "orders.get", Params: map[string]string{"id": "1"}}

	first := orch.Execute(context.Background(), req)
	require.True(t, first.Success)
	assert.False(t, first.Cached)

	second := orch.Execute(context.Background(), &Request{Kind: "orders.get", Params: map[string]string{"id": "1"}})
	require.True(t, second.Success)
	assert.True(t, second.Cached)
	assert.Equal(t, CacheStageID, second.StageID)
	assert.Equal(t, "fresh", second.Value)

	assert.Equal(t, int32(1), calls.Load())
}

func TestOrchestrator_CacheMissAfterInvalidation(t *testing.T) {
	var calls atomic.Int32
	tc := newTestCache()
	orch := newTestOrchestrator(t, tc,
		StageDescriptor{ID: "a", Priority: 10, Stage: StageFunc(func(ctx context.Context, req *Request) (interface{}, error) {
			calls.Add(1)
			return "v", nil
		})},
	)

	req := &Request{Kind: "k"}
	orch.Execute(context.Background(), req)

	key, err := req.CacheKey()
	require.NoError(t, err)
	orch.InvalidateCache(context.Background(), key)

	orch.Execute(context.Background(), &Request{Kind: "k"})
	assert.Equal(t, int32(2), calls.Load())
}

func TestOrchestrator_OpenBreakerSkipsStage(t *testing.T) {
	var primaryCalls atomic.Int32
	orch := newTestOrchestrator(t, nil,
		StageDescriptor{ID: "primary", Priority: 10, Stage: StageFunc(func(ctx context.Context, req *Request) (interface{}, error) {
			primaryCalls.Add(1)
			return nil, errors.New("down")
		})},
		StageDescriptor{ID: "backup", Priority: 20, Stage: succeedingStage("backup-value")},
	)

	// Threshold is 2: two failing executions trip the primary's breaker
	orch.Execute(context.Background(), &Request{Kind: "k", Params: map[string]string{"n": "1"}})
	orch.Execute(context.Background(), &Request{Kind: "k", Params: map[string]string{"n": "2"}})
	assert.Equal(t, int32(2), primaryCalls.Load())

	outcome := orch.Execute(context.Background(), &Request{Kind: "k", Params: map[string]string{"n": "3"}})

	require.True(t, outcome.Success)
	assert.Equal(t, "backup", outcome.StageID)
	assert.Equal(t, int32(2), primaryCalls.Load())

	require.Len(t, outcome.Results, 2)
	assert.True(t, outcome.Results[0].Skipped)

	// Skips do not count as invocations
	snap, ok := orch.Metrics().Stages["primary"]
	require.True(t, ok)
	assert.Equal(t, uint64(2), snap.Invocations)
	assert.Equal(t, uint64(1), snap.Skips)
}

func TestOrchestrator_TimeoutTreatedAsFailure(t *testing.T) {
	orch := newTestOrchestrator(t, nil,
		StageDescriptor{
			ID:       "slow",
			Priority: 10,
			Timeout:  30 * time.Millisecond,
			Stage: StageFunc(func(ctx context.Context, req *Request) (interface{}, error) {
				select {
				case <-time.After(time.Second):
					return "too late", nil
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}),
		},
		StageDescriptor{ID: "fast", Priority: 20, Stage: succeedingStage("quick")},
	)

	outcome := orch.Execute(context.Background(), &Request{Kind: "k"})

	require.True(t, outcome.Success)
	assert.Equal(t, "fast", outcome.StageID)
	assert.Contains(t, outcome.Results[0].Error, "timeout")

	snap, _ := orch.Metrics().Stages["slow"]
	assert.Equal(t, uint64(1), snap.Timeouts)
	assert.Equal(t, uint64(1), snap.Failures)
}

func TestOrchestrator_TimeoutBoundsStageIgnoringContext(t *testing.T) {
	// The stage never checks its context; the orchestrator must still move on
	orch := newTestOrchestrator(t, nil,
		StageDescriptor{
			ID:       "stuck",
			Priority: 10,
			Timeout:  20 * time.Millisecond,
			Stage: StageFunc(func(ctx context.Context, req *Request) (interface{}, error) {
				time.Sleep(500 * time.Millisecond)
				return "late", nil
			}),
		},
		StageDescriptor{ID: "fast", Priority: 20, Stage: succeedingStage("quick")},
	)

	start := time.Now()
	outcome := orch.Execute(context.Background(), &Request{Kind: "k"})

	assert.Less(t, time.Since(start), 400*time.Millisecond)
	require.True(t, outcome.Success)
	assert.Equal(t, "fast", outcome.StageID)
}

func TestOrchestrator_CancellationStopsExecution(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var backupCalled atomic.Bool
	orch := newTestOrchestrator(t, nil,
		StageDescriptor{ID: "slow", Priority: 10, Stage: StageFunc(func(ctx context.Context, req *Request) (interface{}, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})},
		StageDescriptor{ID: "backup", Priority: 20, Stage: StageFunc(func(ctx context.Context, req *Request) (interface{}, error) {
			backupCalled.Store(true)
			return "b", nil
		})},
	)

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	outcome := orch.Execute(ctx, &Request{Kind: "k"})

	assert.False(t, outcome.Success)
	assert.False(t, backupCalled.Load())
	require.Len(t, outcome.Results, 1)
	assert.True(t, outcome.Results[0].Cancelled)

	// Cancellation leaves the breaker untouched
	state, err := orch.BreakerState("slow")
	require.NoError(t, err)
	assert.Equal(t, StateClosed, state)
}

func TestOrchestrator_RetryWithinStage(t *testing.T) {
	var attempts atomic.Int32
	orch := newTestOrchestrator(t, nil,
		StageDescriptor{
			ID:       "flaky",
			Priority: 10,
			Retry: &RetryPolicy{
				MaxAttempts:       3,
				InitialDelay:      time.Millisecond,
				BackoffMultiplier: 2,
			},
			Stage: StageFunc(func(ctx context.Context, req *Request) (interface{}, error) {
				if attempts.Add(1) < 3 {
					return nil, errors.New("transient")
				}
				return "recovered", nil
			}),
		},
	)

	outcome := orch.Execute(context.Background(), &Request{Kind: "k"})

	require.True(t, outcome.Success)
	assert.Equal(t, "recovered", outcome.Value)
	assert.Equal(t, int32(3), attempts.Load())

	// Only the final outcome reaches the breaker
	assert.Equal(t, 0, orch.breakers["flaky"].Failures())
}

func TestOrchestrator_HealthStatus(t *testing.T) {
	orch := newTestOrchestrator(t, nil,
		StageDescriptor{ID: "a", Priority: 10, Stage: failingStage("down")},
		StageDescriptor{ID: "b", Priority: 20, Stage: failingStage("down")},
		StageDescriptor{ID: "c", Priority: 30, Stage: succeedingStage("v")},
	)

	assert.Equal(t, HealthHealthy, orch.HealthStatus().Overall)

	// Trip stage a (threshold 2)
	orch.breakers["a"].RecordFailure()
	orch.breakers["a"].RecordFailure()
	assert.Equal(t, HealthDegraded, orch.HealthStatus().Overall)

	// Trip stage b: 2 of 3 open crosses the half-open-breaker line
	orch.breakers["b"].RecordFailure()
	orch.breakers["b"].RecordFailure()
	status := orch.HealthStatus()
	assert.Equal(t, HealthUnhealthy, status.Overall)
	assert.Equal(t, "OPEN", status.Stages["a"])
	assert.Equal(t, "CLOSED", status.Stages["c"])
}

func TestOrchestrator_ResetBreaker(t *testing.T) {
	orch := newTestOrchestrator(t, nil,
		StageDescriptor{ID: "a", Priority: 10, Stage: failingStage("down")},
	)

	orch.breakers["a"].RecordFailure()
	orch.breakers["a"].RecordFailure()
	state, _ := orch.BreakerState("a")
	require.Equal(t, StateOpen, state)

	require.NoError(t, orch.ResetBreaker("a"))
	state, _ = orch.BreakerState("a")
	assert.Equal(t, StateClosed, state)
}

func TestOrchestrator_ResetUnknownBreaker(t *testing.T) {
	orch := newTestOrchestrator(t, nil,
		StageDescriptor{ID: "a", Priority: 10, Stage: succeedingStage("v")},
	)

	err := orch.ResetBreaker("nope")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestOrchestrator_EmitsLifecycleEvents(t *testing.T) {
	bus := NewEventBus(16, nil, nil)
	defer bus.Close()

	received := make(chan Event, 16)
	bus.Subscribe(func(e Event) { received <- e })

	ctx, cancelBus := context.WithCancel(context.Background())
	defer cancelBus()
	go bus.Run(ctx)

	orch, err := NewOrchestrator([]StageDescriptor{
		{ID: "a", Priority: 10, Stage: succeedingStage("v")},
	}, Config{
		DefaultStageTimeout: time.Second,
		Breaker:             BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute},
	}, nil, bus, nil, nil, nil)
	require.NoError(t, err)

	orch.Execute(context.Background(), &Request{Kind: "k"})

	var types []EventType
	deadline := time.After(time.Second)
	for len(types) < 2 {
		select {
		case e := <-received:
			types = append(types, e.Type)
		case <-deadline:
			t.Fatal("expected lifecycle events")
		}
	}
	assert.Equal(t, []EventType{EventExecutionStarted, EventExecutionCompleted}, types)
}
