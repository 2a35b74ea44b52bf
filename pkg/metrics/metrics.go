package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Engine metrics
	ExecutionsTotal    *prometheus.CounterVec
	ExecutionDuration  *prometheus.HistogramVec
	StageAttempts      *prometheus.CounterVec
	StageDuration      *prometheus.HistogramVec
	BreakerState       *prometheus.GaugeVec
	BreakerTransitions *prometheus.CounterVec

	// Cache metrics
	CacheOperations *prometheus.CounterVec
	CacheEvictions  *prometheus.CounterVec
	CacheEntries    *prometheus.GaugeVec

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	// Event metrics
	EventsDropped *prometheus.CounterVec
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace"`
	Subsystem string `json:"subsystem"`
	Enabled   bool   `json:"enabled"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "shopsense",
		Subsystem: "",
		Enabled:   true,
	}
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(config *Config) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &Metrics{}
	}

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status_code"},
		),
		ExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "executions_total",
				Help:      "Total number of fallback executions",
			},
			[]string{"result"},
		),
		ExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "execution_duration_seconds",
				Help:      "End-to-end fallback execution duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"result"},
		),
		StageAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "stage_attempts_total",
				Help:      "Total number of stage attempts by outcome",
			},
			[]string{"stage", "outcome"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "stage_duration_seconds",
				Help:      "Stage attempt duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"stage", "outcome"},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "breaker_state",
				Help:      "Circuit breaker state per stage (0=closed, 1=open, 2=half-open)",
			},
			[]string{"stage"},
		),
		BreakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "breaker_transitions_total",
				Help:      "Total number of circuit breaker state transitions",
			},
			[]string{"stage", "to"},
		),
		CacheOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "cache_operations_total",
				Help:      "Total number of cache operations by tier and result",
			},
			[]string{"tier", "operation", "result"},
		),
		CacheEvictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "cache_evictions_total",
				Help:      "Total number of cache evictions by tier and reason",
			},
			[]string{"tier", "reason"},
		),
		CacheEntries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "cache_entries",
				Help:      "Number of entries currently held per cache tier",
			},
			[]string{"tier"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "errors_total",
				Help:      "Total number of errors",
			},
			[]string{"component", "error_type"},
		),
		EventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "events_dropped_total",
				Help:      "Total number of lifecycle events dropped by the sink",
			},
			[]string{"event"},
		),
	}

	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.StageAttempts,
		m.StageDuration,
		m.BreakerState,
		m.BreakerTransitions,
		m.CacheOperations,
		m.CacheEvictions,
		m.CacheEntries,
		m.ErrorsTotal,
		m.EventsDropped,
	)

	return m
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if m.HTTPRequestsTotal == nil {
		return
	}

	statusStr := strconv.Itoa(statusCode)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusStr).Observe(duration.Seconds())
}

// RecordExecution records an end-to-end execution outcome
func (m *Metrics) RecordExecution(result string, duration time.Duration) {
	if m.ExecutionsTotal == nil {
		return
	}

	m.ExecutionsTotal.WithLabelValues(result).Inc()
	m.ExecutionDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordStageAttempt records a stage attempt outcome
func (m *Metrics) RecordStageAttempt(stage, outcome string, duration time.Duration) {
	if m.StageAttempts == nil {
		return
	}

	m.StageAttempts.WithLabelValues(stage, outcome).Inc()
	m.StageDuration.WithLabelValues(stage, outcome).Observe(duration.Seconds())
}

// UpdateBreakerState updates the breaker state gauge for a stage
func (m *Metrics) UpdateBreakerState(stage string, state int) {
	if m.BreakerState == nil {
		return
	}

	m.BreakerState.WithLabelValues(stage).Set(float64(state))
}

// RecordBreakerTransition records a breaker state transition
func (m *Metrics) RecordBreakerTransition(stage, to string) {
	if m.BreakerTransitions == nil {
		return
	}

	m.BreakerTransitions.WithLabelValues(stage, to).Inc()
}

// RecordCacheOperation records a cache operation outcome
func (m *Metrics) RecordCacheOperation(tier, operation, result string) {
	if m.CacheOperations == nil {
		return
	}

	m.CacheOperations.WithLabelValues(tier, operation, result).Inc()
}

// RecordCacheEviction records a cache eviction
func (m *Metrics) RecordCacheEviction(tier, reason string) {
	if m.CacheEvictions == nil {
		return
	}

	m.CacheEvictions.WithLabelValues(tier, reason).Inc()
}

// UpdateCacheEntries updates the per-tier entry count gauge
func (m *Metrics) UpdateCacheEntries(tier string, count int) {
	if m.CacheEntries == nil {
		return
	}

	m.CacheEntries.WithLabelValues(tier).Set(float64(count))
}

// RecordError records error metrics
func (m *Metrics) RecordError(component, errorType string) {
	if m.ErrorsTotal == nil {
		return
	}

	m.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// RecordEventDropped records a dropped lifecycle event
func (m *Metrics) RecordEventDropped(event string) {
	if m.EventsDropped == nil {
		return
	}

	m.EventsDropped.WithLabelValues(event).Inc()
}

// PrometheusMiddleware creates a middleware for Prometheus metrics collection
func (m *Metrics) PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		m.RecordHTTPRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), duration)
	}
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
