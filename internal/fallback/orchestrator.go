package fallback

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"go.opentelemetry.io/otel/attribute"

	"github.com/shopsense/shopsense/internal/cache"
	"github.com/shopsense/shopsense/pkg/errors"
	"github.com/shopsense/shopsense/pkg/logging"
	"github.com/shopsense/shopsense/pkg/metrics"
	"github.com/shopsense/shopsense/pkg/tracing"
)

// Config holds orchestrator configuration
type Config struct {
	// DefaultStageTimeout bounds attempts whose descriptor carries no timeout
	DefaultStageTimeout time.Duration
	// Breaker is the per-stage circuit breaker configuration; every stage
	// gets its own breaker built from it
	Breaker BreakerConfig
	// Collector configures the metrics collector
	Collector *CollectorConfig
}

// Orchestrator walks the stage list in priority order until one stage
// produces a result, consulting the cache first and the per-stage breakers
// before each attempt. Exhausting every stage yields a terminal failure
// outcome, never an error.
type Orchestrator struct {
	stages    []StageDescriptor
	breakers  map[string]*CircuitBreaker
	cache     *cache.TieredCache
	collector *Collector
	events    *EventBus
	tracer    *tracing.TracingService
	logger    *logging.Logger
	metrics   *metrics.Metrics

	defaultTimeout time.Duration
}

// NewOrchestrator creates an orchestrator over the given stage descriptors.
// Descriptors must be non-empty with unique IDs; they are sorted by ascending
// priority and fixed for the orchestrator's lifetime.
func NewOrchestrator(
	descriptors []StageDescriptor,
	cfg Config,
	tieredCache *cache.TieredCache,
	events *EventBus,
	tracer *tracing.TracingService,
	logger *logging.Logger,
	m *metrics.Metrics,
) (*Orchestrator, error) {
	if len(descriptors) == 0 {
		return nil, errors.NewConfigurationError("at least one stage is required")
	}
	if logger == nil {
		logger = logging.GetLogger()
	}

	stages := make([]StageDescriptor, len(descriptors))
	copy(stages, descriptors)
	sort.SliceStable(stages, func(i, j int) bool { return stages[i].Priority < stages[j].Priority })

	breakers := make(map[string]*CircuitBreaker, len(stages))
	for _, d := range stages {
		if d.ID == "" {
			return nil, errors.NewConfigurationError("stage ID must not be empty")
		}
		if d.Stage == nil {
			return nil, errors.NewConfigurationError("stage " + d.ID + " has no implementation")
		}
		if _, exists := breakers[d.ID]; exists {
			return nil, errors.NewConfigurationError("duplicate stage ID: " + d.ID)
		}

		bc := cfg.Breaker
		bc.Name = d.ID
		userCallback := cfg.Breaker.OnStateChange
		bc.OnStateChange = func(name string, from, to CircuitState) {
			if m != nil {
				m.UpdateBreakerState(name, int(to))
				m.RecordBreakerTransition(name, to.String())
			}
			if userCallback != nil {
				userCallback(name, from, to)
			}
		}
		breakers[d.ID] = NewCircuitBreaker(bc)
	}

	defaultTimeout := cfg.DefaultStageTimeout
	if defaultTimeout <= 0 {
		defaultTimeout = 5 * time.Second
	}

	return &Orchestrator{
		stages:         stages,
		breakers:       breakers,
		cache:          tieredCache,
		collector:      NewCollector(cfg.Collector),
		events:         events,
		tracer:         tracer,
		logger:         logger,
		metrics:        m,
		defaultTimeout: defaultTimeout,
	}, nil
}

// Execute resolves one request through the cache and the stage chain. The
// returned outcome carries success or terminal failure as a value; the error
// channel reports nothing, by contract.
func (o *Orchestrator) Execute(ctx context.Context, req *Request) *ExecutionOutcome {
	started := time.Now()
	if req.ID == "" {
		req.ID = logging.NewRequestID()
	}

	outcome := &ExecutionOutcome{RequestID: req.ID}

	key, err := req.CacheKey()
	if err != nil {
		outcome.Error = err.Error()
		outcome.Duration = time.Since(started)
		o.recordExecution(ctx, outcome, "")
		return outcome
	}

	if o.tracer != nil {
		spanCtx, span := o.tracer.StartExecutionSpan(ctx, req.ID, key)
		ctx = spanCtx
		defer func() {
			span.SetAttributes(attribute.Bool("execution.success", outcome.Success))
			span.End()
		}()
	}

	o.publish(Event{
		Type:      EventExecutionStarted,
		RequestID: req.ID,
		CacheKey:  key,
	})

	if o.cache != nil {
		if entry := o.cache.Get(ctx, key); entry != nil {
			o.collector.RecordCacheHit()
			outcome.Success = true
			outcome.Value = entry.Value
			outcome.StageID = CacheStageID
			outcome.Cached = true
			outcome.Duration = time.Since(started)
			outcome.Results = append(outcome.Results, ExecutionResult{
				StageID:  CacheStageID,
				Success:  true,
				Value:    entry.Value,
				Duration: outcome.Duration,
				Cached:   true,
			})
			o.recordExecution(ctx, outcome, key)
			return outcome
		}
		o.collector.RecordCacheMiss()
	}

	for _, d := range o.stages {
		result := o.attemptStage(ctx, d, req)
		outcome.Results = append(outcome.Results, result)

		if result.Cancelled {
			outcome.Error = "execution cancelled: " + result.Error
			outcome.Duration = time.Since(started)
			o.recordExecution(ctx, outcome, key)
			return outcome
		}
		if !result.Success {
			continue
		}

		outcome.Success = true
		outcome.Value = result.Value
		outcome.StageID = d.ID
		outcome.Duration = time.Since(started)

		if o.cache != nil {
			o.cache.Set(ctx, key, result.Value, req.Tags, req.DependsOn)
		}

		o.recordExecution(ctx, outcome, key)
		return outcome
	}

	outcome.Error = "all stages exhausted"
	outcome.Duration = time.Since(started)
	o.recordExecution(ctx, outcome, key)
	return outcome
}

type attemptResult struct {
	value interface{}
	err   error
}

// attemptStage runs one stage behind its breaker with a bounded timeout,
// classifying the result for the breaker and the collector.
func (o *Orchestrator) attemptStage(ctx context.Context, d StageDescriptor, req *Request) ExecutionResult {
	breaker := o.breakers[d.ID]

	if !breaker.Allow() {
		o.collector.Record(d.ID, OutcomeSkipped, 0)
		o.recordStageAttempt(d.ID, string(OutcomeSkipped), 0)
		o.logger.LogStageAttempt(ctx, d.ID, "skipped", 0)
		return ExecutionResult{
			StageID: d.ID,
			Skipped: true,
			Error:   errors.NewStageSkippedError(d.ID).Error(),
		}
	}

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = o.defaultTimeout
	}

	var endSpan func(outcome string)
	stageCtx := ctx
	if o.tracer != nil {
		spanCtx, span := o.tracer.StartStageSpan(ctx, d.ID)
		stageCtx = spanCtx
		endSpan = func(outcome string) {
			span.SetAttributes(attribute.String("stage.outcome", outcome))
			span.End()
		}
	}

	started := time.Now()
	value, err := o.runWithTimeout(stageCtx, d, req, timeout)
	elapsed := time.Since(started)

	switch {
	case err == nil:
		breaker.RecordSuccess()
		o.collector.Record(d.ID, OutcomeSuccess, elapsed)
		o.recordStageAttempt(d.ID, string(OutcomeSuccess), elapsed)
		o.logger.LogStageAttempt(ctx, d.ID, "success", elapsed)
		if endSpan != nil {
			endSpan(string(OutcomeSuccess))
		}
		return ExecutionResult{StageID: d.ID, Success: true, Value: value, Duration: elapsed}

	case ctx.Err() != nil:
		// Caller abandoned the execution; the backend was never judged.
		breaker.RecordCancellation()
		o.collector.Record(d.ID, OutcomeCancelled, elapsed)
		o.recordStageAttempt(d.ID, string(OutcomeCancelled), elapsed)
		o.logger.LogStageAttempt(ctx, d.ID, "cancelled", elapsed)
		if endSpan != nil {
			endSpan(string(OutcomeCancelled))
		}
		return ExecutionResult{StageID: d.ID, Cancelled: true, Error: ctx.Err().Error(), Duration: elapsed}

	case errors.IsType(err, errors.ErrorTypeStageTimeout):
		breaker.RecordFailure()
		o.collector.Record(d.ID, OutcomeTimeout, elapsed)
		o.recordStageAttempt(d.ID, string(OutcomeTimeout), elapsed)
		o.logger.LogStageAttempt(ctx, d.ID, "timeout", elapsed)
		if endSpan != nil {
			endSpan(string(OutcomeTimeout))
		}
		return ExecutionResult{StageID: d.ID, Error: err.Error(), Duration: elapsed}

	default:
		breaker.RecordFailure()
		o.collector.Record(d.ID, OutcomeFailure, elapsed)
		o.recordStageAttempt(d.ID, string(OutcomeFailure), elapsed)
		o.logger.LogStageAttempt(ctx, d.ID, "failure", elapsed)
		if endSpan != nil {
			endSpan(string(OutcomeFailure))
		}
		return ExecutionResult{StageID: d.ID, Error: err.Error(), Duration: elapsed}
	}
}

// runWithTimeout executes the stage (with its optional retry policy) under a
// per-attempt deadline. The attempt runs in its own goroutine so a stage that
// ignores its context cannot stall the execution past the deadline.
func (o *Orchestrator) runWithTimeout(ctx context.Context, d StageDescriptor, req *Request, timeout time.Duration) (interface{}, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultCh := make(chan attemptResult, 1)
	go func() {
		value, err := o.runAttempts(attemptCtx, d, req)
		resultCh <- attemptResult{value: value, err: err}
	}()

	select {
	case r := <-resultCh:
		if r.err != nil && attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, errors.NewStageTimeoutError(d.ID, timeout)
		}
		return r.value, r.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.NewStageTimeoutError(d.ID, timeout)
	}
}

// runAttempts applies the descriptor's retry policy inside the timeout
// budget. Only the final result reaches the breaker.
func (o *Orchestrator) runAttempts(ctx context.Context, d StageDescriptor, req *Request) (interface{}, error) {
	maxAttempts := 1
	if d.Retry != nil && d.Retry.MaxAttempts > 1 {
		maxAttempts = d.Retry.MaxAttempts
	}

	var lastErr error
	delay := time.Duration(0)
	if d.Retry != nil {
		delay = d.Retry.InitialDelay
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		value, err := d.Stage.Attempt(ctx, req)
		if err == nil {
			return value, nil
		}
		lastErr = err

		if ctx.Err() != nil || attempt == maxAttempts {
			break
		}

		if delay > 0 {
			select {
			case <-ctx.Done():
				return nil, lastErr
			case <-time.After(delay):
			}
			if d.Retry.BackoffMultiplier > 1 {
				delay = time.Duration(float64(delay) * d.Retry.BackoffMultiplier)
			}
		}
	}

	return nil, lastErr
}

// Metrics returns the current engine metrics report.
func (o *Orchestrator) Metrics() *MetricsReport {
	return o.collector.SnapshotAll()
}

// HealthStatus derives overall health from the breaker states: any open
// breaker degrades the engine, half or more open breakers mark it unhealthy.
func (o *Orchestrator) HealthStatus() *HealthStatus {
	status := &HealthStatus{
		Overall: HealthHealthy,
		Stages:  make(map[string]string, len(o.breakers)),
	}

	open := 0
	for name, breaker := range o.breakers {
		state := breaker.State()
		status.Stages[name] = state.String()
		if state == StateOpen {
			open++
		}
	}

	if open > 0 {
		status.Overall = HealthDegraded
	}
	if len(o.breakers) > 0 && open*2 >= len(o.breakers) {
		status.Overall = HealthUnhealthy
	}

	return status
}

// BreakerState returns the current state of one stage's breaker.
func (o *Orchestrator) BreakerState(stageID string) (CircuitState, error) {
	breaker, ok := o.breakers[stageID]
	if !ok {
		return StateClosed, errors.NewNotFoundError("stage " + stageID)
	}
	return breaker.State(), nil
}

// ResetBreaker forces one stage's breaker Closed.
func (o *Orchestrator) ResetBreaker(stageID string) error {
	breaker, ok := o.breakers[stageID]
	if !ok {
		return errors.NewNotFoundError("stage " + stageID)
	}
	breaker.Reset()

	o.logger.Info("Circuit breaker manually reset", "stage", stageID)
	return nil
}

// ClearCache empties both cache tiers.
func (o *Orchestrator) ClearCache(ctx context.Context) {
	if o.cache != nil {
		o.cache.Clear(ctx)
	}
}

// InvalidateCache removes one cached key and its one-level dependents.
func (o *Orchestrator) InvalidateCache(ctx context.Context, key string) {
	if o.cache != nil {
		o.cache.Invalidate(ctx, key)
	}
}

// InvalidateCacheTag removes every cached entry carrying the tag.
func (o *Orchestrator) InvalidateCacheTag(ctx context.Context, tag string) {
	if o.cache != nil {
		o.cache.InvalidateTag(ctx, tag)
	}
}

// Stages returns the stage IDs in execution order.
func (o *Orchestrator) Stages() []string {
	ids := make([]string, len(o.stages))
	for i, d := range o.stages {
		ids[i] = d.ID
	}
	return ids
}

func (o *Orchestrator) recordExecution(ctx context.Context, outcome *ExecutionOutcome, key string) {
	result := "failure"
	eventType := EventExecutionFailed
	if outcome.Success {
		result = "success"
		eventType = EventExecutionCompleted
	}

	if o.metrics != nil {
		o.metrics.RecordExecution(result, outcome.Duration)
	}

	o.logger.LogExecutionEvent(ctx, string(eventType), outcome.RequestID, outcome.StageID, logrus.Fields{
		"result":      result,
		"cached":      outcome.Cached,
		"duration_ms": outcome.Duration.Milliseconds(),
	})

	o.publish(Event{
		Type:      eventType,
		RequestID: outcome.RequestID,
		CacheKey:  key,
		StageID:   outcome.StageID,
		Duration:  outcome.Duration,
		Success:   outcome.Success,
	})
}

func (o *Orchestrator) recordStageAttempt(stageID, outcome string, duration time.Duration) {
	if o.metrics != nil {
		o.metrics.RecordStageAttempt(stageID, outcome, duration)
	}
}

func (o *Orchestrator) publish(event Event) {
	if o.events != nil {
		o.events.Publish(event)
	}
}
