package fallback

import "time"

// CacheStageID identifies a cache-served result in outcomes and events
const CacheStageID = "cache"

// ExecutionResult records one stage attempt within an execution. Immutable
// once produced; the orchestrator accumulates one per consulted stage for
// diagnostics.
type ExecutionResult struct {
	StageID   string        `json:"stage_id"`
	Success   bool          `json:"success"`
	Skipped   bool          `json:"skipped"`
	Cancelled bool          `json:"cancelled"`
	Value     interface{}   `json:"value,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	Cached    bool          `json:"cached"`
}

// ExecutionOutcome is the terminal result of one Execute call. Failure is a
// first-class return value, never a thrown error.
type ExecutionOutcome struct {
	RequestID string            `json:"request_id"`
	Success   bool              `json:"success"`
	Value     interface{}       `json:"value,omitempty"`
	StageID   string            `json:"stage_id,omitempty"` // producing stage, or "cache"
	Cached    bool              `json:"cached"`
	Duration  time.Duration     `json:"duration"`
	Results   []ExecutionResult `json:"results"`
	Error     string            `json:"error,omitempty"`
}

// HealthState classifies overall engine health
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
)

// HealthStatus reports per-stage breaker state and the derived overall
// health.
type HealthStatus struct {
	Overall HealthState       `json:"overall"`
	Stages  map[string]string `json:"stages"`
}
