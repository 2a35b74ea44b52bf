package fallback

import (
	"math/rand"
	"sort"
	"sync"
	"time"
)

// AttemptOutcome classifies a recorded stage attempt
type AttemptOutcome string

const (
	OutcomeSuccess   AttemptOutcome = "success"
	OutcomeFailure   AttemptOutcome = "failure"
	OutcomeTimeout   AttemptOutcome = "timeout"
	OutcomeSkipped   AttemptOutcome = "skipped"
	OutcomeCancelled AttemptOutcome = "cancelled"
)

// StageMetricSnapshot is a point-in-time view of one stage's recorded
// attempts, computed on demand from the raw samples.
type StageMetricSnapshot struct {
	StageID     string        `json:"stage_id"`
	Invocations uint64        `json:"invocations"`
	Successes   uint64        `json:"successes"`
	Failures    uint64        `json:"failures"`
	Timeouts    uint64        `json:"timeouts"`
	Skips       uint64        `json:"skips"`
	Cancels     uint64        `json:"cancels"`
	P50         time.Duration `json:"p50"`
	P95         time.Duration `json:"p95"`
	P99         time.Duration `json:"p99"`
}

// MetricsReport aggregates all stage snapshots with engine-wide totals
type MetricsReport struct {
	Stages       map[string]*StageMetricSnapshot `json:"stages"`
	CacheHits    uint64                          `json:"cache_hits"`
	CacheMisses  uint64                          `json:"cache_misses"`
	TotalSuccess uint64                          `json:"total_successes"`
	TotalFailure uint64                          `json:"total_failures"`
	GeneratedAt  time.Time                       `json:"generated_at"`
}

// CollectorConfig holds metrics collector configuration
type CollectorConfig struct {
	// SampleSize bounds the per-stage latency ring buffer
	SampleSize int `json:"sample_size"`
	// SampleRate is the probability a latency sample is retained; counts
	// are always exact
	SampleRate float64 `json:"sample_rate"`
}

// DefaultCollectorConfig returns default collector configuration
func DefaultCollectorConfig() *CollectorConfig {
	return &CollectorConfig{
		SampleSize: 1024,
		SampleRate: 1.0,
	}
}

// Collector records per-stage invocation outcomes and latency distributions.
// Samples are held in a bounded ring per stage; snapshots are derived views.
// Safe for concurrent use.
type Collector struct {
	mu          sync.RWMutex
	stages      map[string]*stageStats
	cacheHits   uint64
	cacheMisses uint64
	sampleSize  int
	sampleRate  float64
}

type stageStats struct {
	invocations uint64
	successes   uint64
	failures    uint64
	timeouts    uint64
	skips       uint64
	cancels     uint64

	samples []time.Duration
	next    int
	filled  bool
}

// NewCollector creates a metrics collector.
func NewCollector(config *CollectorConfig) *Collector {
	if config == nil {
		config = DefaultCollectorConfig()
	}
	if config.SampleSize <= 0 {
		config.SampleSize = 1024
	}
	if config.SampleRate <= 0 || config.SampleRate > 1 {
		config.SampleRate = 1.0
	}

	return &Collector{
		stages:     make(map[string]*stageStats),
		sampleSize: config.SampleSize,
		sampleRate: config.SampleRate,
	}
}

// Record appends one stage attempt outcome. Skipped and cancelled attempts
// count in their own buckets and contribute no latency sample.
func (c *Collector) Record(stageID string, outcome AttemptOutcome, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stages[stageID]
	if stats == nil {
		stats = &stageStats{samples: make([]time.Duration, 0, c.sampleSize)}
		c.stages[stageID] = stats
	}

	switch outcome {
	case OutcomeSuccess:
		stats.invocations++
		stats.successes++
	case OutcomeFailure:
		stats.invocations++
		stats.failures++
	case OutcomeTimeout:
		stats.invocations++
		stats.failures++
		stats.timeouts++
	case OutcomeSkipped:
		stats.skips++
		return
	case OutcomeCancelled:
		stats.cancels++
		return
	}

	if c.sampleRate < 1.0 && rand.Float64() >= c.sampleRate {
		return
	}

	if len(stats.samples) < c.sampleSize {
		stats.samples = append(stats.samples, duration)
		return
	}
	stats.samples[stats.next] = duration
	stats.next = (stats.next + 1) % c.sampleSize
	stats.filled = true
}

// RecordCacheHit increments the cache-hit counter
func (c *Collector) RecordCacheHit() {
	c.mu.Lock()
	c.cacheHits++
	c.mu.Unlock()
}

// RecordCacheMiss increments the cache-miss counter
func (c *Collector) RecordCacheMiss() {
	c.mu.Lock()
	c.cacheMisses++
	c.mu.Unlock()
}

// Snapshot computes a point-in-time view for one stage.
func (c *Collector) Snapshot(stageID string) (*StageMetricSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats, ok := c.stages[stageID]
	if !ok {
		return nil, false
	}
	return c.snapshotLocked(stageID, stats), true
}

// SnapshotAll computes snapshots for every recorded stage plus aggregate
// totals.
func (c *Collector) SnapshotAll() *MetricsReport {
	c.mu.RLock()
	defer c.mu.RUnlock()

	report := &MetricsReport{
		Stages:      make(map[string]*StageMetricSnapshot, len(c.stages)),
		CacheHits:   c.cacheHits,
		CacheMisses: c.cacheMisses,
		GeneratedAt: time.Now(),
	}

	for stageID, stats := range c.stages {
		snapshot := c.snapshotLocked(stageID, stats)
		report.Stages[stageID] = snapshot
		report.TotalSuccess += snapshot.Successes
		report.TotalFailure += snapshot.Failures
	}

	return report
}

func (c *Collector) snapshotLocked(stageID string, stats *stageStats) *StageMetricSnapshot {
	snapshot := &StageMetricSnapshot{
		StageID:     stageID,
		Invocations: stats.invocations,
		Successes:   stats.successes,
		Failures:    stats.failures,
		Timeouts:    stats.timeouts,
		Skips:       stats.skips,
		Cancels:     stats.cancels,
	}

	if len(stats.samples) > 0 {
		sorted := make([]time.Duration, len(stats.samples))
		copy(sorted, stats.samples)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		snapshot.P50 = percentile(sorted, 0.50)
		snapshot.P95 = percentile(sorted, 0.95)
		snapshot.P99 = percentile(sorted, 0.99)
	}

	return snapshot
}

// percentile uses nearest-rank on an ascending-sorted sample slice
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(p*float64(len(sorted))+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
