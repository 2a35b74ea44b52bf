package fallback

import (
	"context"
	"time"

	"github.com/shopsense/shopsense/pkg/errors"
)

// Stage is one strategy for satisfying a request. Implementations must honor
// context cancellation; the orchestrator bounds every attempt with the
// descriptor's timeout.
type Stage interface {
	// Attempt tries to produce a result for the request.
	Attempt(ctx context.Context, req *Request) (interface{}, error)
}

// StageFunc adapts a function to the Stage interface
type StageFunc func(ctx context.Context, req *Request) (interface{}, error)

// Attempt implements Stage
func (f StageFunc) Attempt(ctx context.Context, req *Request) (interface{}, error) {
	return f(ctx, req)
}

// BackendClient is the interface boundary to an external API integration
// (commerce platform, analytics service). Concrete clients live outside the
// engine.
type BackendClient interface {
	Fetch(ctx context.Context, req *Request) (interface{}, error)
}

// RemoteBackendStage satisfies requests through an external API client,
// typically the primary or secondary backend for a request kind.
type RemoteBackendStage struct {
	client BackendClient
}

// NewRemoteBackendStage creates a stage backed by an external API client.
func NewRemoteBackendStage(client BackendClient) *RemoteBackendStage {
	return &RemoteBackendStage{client: client}
}

// Attempt implements Stage
func (s *RemoteBackendStage) Attempt(ctx context.Context, req *Request) (interface{}, error) {
	return s.client.Fetch(ctx, req)
}

// InferenceFunc runs local model inference for a request
type InferenceFunc func(ctx context.Context, req *Request) (interface{}, error)

// LocalFallbackStage satisfies requests with local model inference when the
// remote backends are unavailable.
type LocalFallbackStage struct {
	infer InferenceFunc
}

// NewLocalFallbackStage creates a stage backed by a local inference function.
func NewLocalFallbackStage(infer InferenceFunc) *LocalFallbackStage {
	return &LocalFallbackStage{infer: infer}
}

// Attempt implements Stage
func (s *LocalFallbackStage) Attempt(ctx context.Context, req *Request) (interface{}, error) {
	return s.infer(ctx, req)
}

// StaticProvider resolves deterministic placeholder values by request kind
type StaticProvider interface {
	Lookup(req *Request) (interface{}, bool)
}

// StaticDefaultStage is the last line of defense: it serves a deterministic
// placeholder so the caller gets a usable answer even during a full outage.
type StaticDefaultStage struct {
	provider StaticProvider
}

// NewStaticDefaultStage creates a stage backed by a static provider.
func NewStaticDefaultStage(provider StaticProvider) *StaticDefaultStage {
	return &StaticDefaultStage{provider: provider}
}

// Attempt implements Stage
func (s *StaticDefaultStage) Attempt(ctx context.Context, req *Request) (interface{}, error) {
	if value, ok := s.provider.Lookup(req); ok {
		return value, nil
	}
	return nil, errors.NewNotFoundError("static default for request kind")
}

// RetryPolicy retries a stage's work inside its timeout budget before the
// attempt is reported as failed. The circuit breaker sees only the final
// outcome.
type RetryPolicy struct {
	MaxAttempts       int           `json:"max_attempts"`
	InitialDelay      time.Duration `json:"initial_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
}

// StageDescriptor binds a stage to its priority, timeout, and optional retry
// policy. The descriptor list is fixed at construction and read-only during
// execution.
type StageDescriptor struct {
	ID       string        `json:"id"`
	Priority int           `json:"priority"`
	Stage    Stage         `json:"-"`
	Timeout  time.Duration `json:"timeout"`
	Retry    *RetryPolicy  `json:"retry,omitempty"`
}
