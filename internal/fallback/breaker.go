package fallback

import (
	"sync"
	"time"

	"github.com/shopsense/shopsense/pkg/logging"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// StateClosed - stage attempts are permitted
	StateClosed CircuitState = iota
	// StateOpen - stage attempts are rejected until the reset timeout passes
	StateOpen
	// StateHalfOpen - exactly one trial attempt is permitted through
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerConfig holds configuration for a circuit breaker
type BreakerConfig struct {
	// Name of the breaker for logging/metrics, usually the stage ID
	Name string
	// FailureThreshold is the number of consecutive failures that trips
	// the breaker from Closed to Open
	FailureThreshold int
	// ResetTimeout is the period of the open state, after which the next
	// caller is admitted as the half-open probe
	ResetTimeout time.Duration
	// OnStateChange is called whenever the state changes
	OnStateChange func(name string, from, to CircuitState)
}

// CircuitBreaker guards one stage against a failing backend. State only
// changes through Allow/RecordSuccess/RecordFailure/Reset; the orchestrator
// never sets it directly. Safe for concurrent use.
type CircuitBreaker struct {
	name             string
	failureThreshold int
	resetTimeout     time.Duration
	onStateChange    func(name string, from, to CircuitState)

	mutex    sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time
	probing  bool

	logger *logging.Logger
}

// NewCircuitBreaker creates a circuit breaker with the given configuration.
func NewCircuitBreaker(config BreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:             config.Name,
		failureThreshold: config.FailureThreshold,
		resetTimeout:     config.ResetTimeout,
		onStateChange:    config.OnStateChange,
		logger:           logging.GetLogger(),
	}

	if cb.failureThreshold <= 0 {
		cb.failureThreshold = 5
	}
	if cb.resetTimeout <= 0 {
		cb.resetTimeout = 30 * time.Second
	}

	return cb
}

// Allow reports whether a stage attempt is currently permitted. In Open it
// admits the first caller after the reset timeout as the single half-open
// probe; every other caller is refused until the probe reports back.
func (cb *CircuitBreaker) Allow() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.openedAt) < cb.resetTimeout {
			return false
		}
		cb.setStateLocked(StateHalfOpen)
		cb.probing = true
		return true
	case StateHalfOpen:
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	default:
		return false
	}
}

// RecordSuccess reports a successful attempt. A half-open probe success
// closes the breaker and resets the failure counter.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.failures = 0
		cb.probing = false
		cb.setStateLocked(StateClosed)
	}
}

// RecordFailure reports a failed attempt. Reaching the failure threshold in
// Closed trips the breaker; a half-open probe failure reopens it and
// restarts the reset timer.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.failureThreshold {
			cb.openedAt = time.Now()
			cb.setStateLocked(StateOpen)
		}
	case StateHalfOpen:
		cb.probing = false
		cb.openedAt = time.Now()
		cb.setStateLocked(StateOpen)
	}
}

// RecordCancellation reports an attempt abandoned by the caller. It moves no
// state and counts as neither success nor failure; a cancelled half-open
// probe releases the probe slot so the next caller may retry it.
func (cb *CircuitBreaker) RecordCancellation() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.state == StateHalfOpen {
		cb.probing = false
	}
}

// Reset forces the breaker Closed, used for operator-triggered recovery
// after a known-fixed outage.
func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failures = 0
	cb.probing = false
	cb.setStateLocked(StateClosed)
}

// State returns the current state of the circuit breaker, applying the
// Open to HalfOpen transition if the reset timeout has elapsed.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.resetTimeout {
		cb.setStateLocked(StateHalfOpen)
	}
	return cb.state
}

// Name returns the breaker name
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Failures returns the current consecutive failure count
func (cb *CircuitBreaker) Failures() int {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.failures
}

func (cb *CircuitBreaker) setStateLocked(state CircuitState) {
	if cb.state == state {
		return
	}

	prev := cb.state
	cb.state = state

	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, prev, state)
	}

	cb.logger.Info("Circuit breaker state changed",
		"name", cb.name,
		"from", prev.String(),
		"to", state.String(),
		"failures", cb.failures,
	)
}
