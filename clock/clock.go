// Package clock abstracts time so TTLs, debounces and periodic sweeps can be
// driven deterministically in tests.
package clock

import (
	"sync"
	"time"
)

// Clock is the time source used by every cache and timer in this module.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - AfterFunc callbacks run outside any lock held by the clock.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a handle to a pending AfterFunc callback.
type Timer interface {
	// Stop prevents the callback from firing. It reports whether the call
	// stopped the timer; false means it already fired or was stopped.
	Stop() bool
}

// Real returns a Clock backed by the time package.
func Real() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// OrReal returns c, or the real clock when c is nil.
func OrReal(c Clock) Clock {
	if c == nil {
		return Real()
	}
	return c
}

// Every runs f every interval until the returned stop function is called.
// Each run is scheduled only after the previous one returns, so runs never
// overlap. Stop is idempotent.
func Every(c Clock, interval time.Duration, f func()) (stop func()) {
	p := &periodic{clock: c, interval: interval, fn: f}
	p.mu.Lock()
	p.timer = c.AfterFunc(interval, p.run)
	p.mu.Unlock()
	return p.stop
}

type periodic struct {
	clock    Clock
	interval time.Duration
	fn       func()

	mu      sync.Mutex
	timer   Timer
	stopped bool
}

func (p *periodic) run() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	p.fn()

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.stopped {
		p.timer = p.clock.AfterFunc(p.interval, p.run)
	}
}

func (p *periodic) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	if p.timer != nil {
		p.timer.Stop()
	}
}
