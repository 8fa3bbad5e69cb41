package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonwraymond/cardshelf/clock"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed means calls pass through.
	StateClosed State = iota
	// StateOpen means calls are rejected.
	StateOpen
	// StateHalfOpen means a limited number of trial calls pass through.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the circuit breaker.
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the
	// circuit. Default: 5
	MaxFailures int

	// ResetTimeout is how long the circuit stays open before probing.
	// Default: 30 seconds
	ResetTimeout time.Duration

	// HalfOpenMaxRequests is the number of trial calls allowed while half-open.
	// Default: 1
	HalfOpenMaxRequests int

	// OnStateChange is called after each transition, outside the lock.
	OnStateChange func(from, to State)

	// IsFailure decides whether an error counts against the circuit.
	// Default: any error except context.Canceled.
	IsFailure func(err error) bool

	Clock clock.Clock
}

// CircuitBreaker implements the circuit breaker pattern. Safe for
// concurrent use.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu            sync.Mutex
	state         State
	failures      int
	openedAt      time.Time
	halfOpenCount int
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	if config.HalfOpenMaxRequests <= 0 {
		config.HalfOpenMaxRequests = 1
	}
	if config.IsFailure == nil {
		config.IsFailure = func(err error) bool {
			return err != nil && !errors.Is(err, context.Canceled)
		}
	}
	config.Clock = clock.OrReal(config.Clock)

	return &CircuitBreaker{config: config, state: StateClosed}
}

// Execute runs op unless the circuit is open. A nil breaker runs op
// directly.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if cb == nil {
		return op(ctx)
	}
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := op(ctx)
	cb.afterRequest(err)
	return err
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	from, to := cb.refreshLocked()
	state := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
	return state
}

// Reset closes the circuit and clears the failure count.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.failures = 0
	cb.halfOpenCount = 0
	cb.mu.Unlock()

	cb.notify(from, StateClosed)
}

// Failures returns the current consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	from, to := cb.refreshLocked()

	var err error
	switch cb.state {
	case StateOpen:
		err = ErrCircuitOpen
	case StateHalfOpen:
		if cb.halfOpenCount >= cb.config.HalfOpenMaxRequests {
			err = ErrCircuitOpen
		} else {
			cb.halfOpenCount++
		}
	}
	cb.mu.Unlock()

	cb.notify(from, to)
	return err
}

func (cb *CircuitBreaker) afterRequest(err error) {
	if err != nil && !cb.config.IsFailure(err) {
		cb.mu.Lock()
		if cb.state == StateHalfOpen && cb.halfOpenCount > 0 {
			// The trial call did not answer; let the next one try.
			cb.halfOpenCount--
		}
		cb.mu.Unlock()
		return
	}

	cb.mu.Lock()
	from := cb.state
	switch cb.state {
	case StateClosed:
		if err != nil {
			cb.failures++
			if cb.failures >= cb.config.MaxFailures {
				cb.openLocked()
			}
		} else {
			cb.failures = 0
		}
	case StateHalfOpen:
		if err != nil {
			cb.openLocked()
		} else {
			cb.state = StateClosed
			cb.failures = 0
		}
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
}

func (cb *CircuitBreaker) openLocked() {
	cb.state = StateOpen
	cb.openedAt = cb.config.Clock.Now()
	cb.halfOpenCount = 0
}

// refreshLocked moves an expired open circuit to half-open and reports the
// transition.
func (cb *CircuitBreaker) refreshLocked() (from, to State) {
	from = cb.state
	if cb.state == StateOpen && cb.config.Clock.Now().Sub(cb.openedAt) >= cb.config.ResetTimeout {
		cb.state = StateHalfOpen
		cb.halfOpenCount = 0
	}
	return from, cb.state
}

func (cb *CircuitBreaker) notify(from, to State) {
	if from != to && cb.config.OnStateChange != nil {
		cb.config.OnStateChange(from, to)
	}
}
