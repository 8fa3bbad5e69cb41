package resilience

import "errors"

// ErrCircuitOpen is returned when the circuit breaker rejects a call.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")
