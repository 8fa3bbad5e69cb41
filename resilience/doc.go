// Package resilience guards speculative traffic against a failing service.
//
// A CircuitBreaker counts failures of the operations it runs. After
// MaxFailures consecutive failures it opens and rejects every call with
// ErrCircuitOpen until ResetTimeout has passed on its clock. It then lets a
// limited number of trial calls through: a successful one closes the
// circuit, a failed one opens it again.
//
// Cancellation is not a failure. An operation that ends with
// context.Canceled leaves the failure count untouched, so superseded work
// does not trip the breaker.
//
// Usage:
//
//	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
//	    MaxFailures:  5,
//	    ResetTimeout: 30 * time.Second,
//	})
//
//	err := cb.Execute(ctx, func(ctx context.Context) error {
//	    return prefetch(ctx)
//	})
//	if errors.Is(err, resilience.ErrCircuitOpen) {
//	    // skipped
//	}
package resilience
