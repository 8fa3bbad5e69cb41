package grid

import (
	"sync"
	"time"

	"github.com/jonwraymond/cardshelf/clock"
)

// DefaultResizeDelay is the resize debounce window.
const DefaultResizeDelay = 100 * time.Millisecond

// ResizeDebouncer delivers only the last width of a burst of resize events,
// once no event has arrived for the delay.
type ResizeDebouncer struct {
	clock clock.Clock
	delay time.Duration
	fn    func(width float64)

	mu      sync.Mutex
	timer   clock.Timer
	gen     uint64
	stopped bool
}

// NewResizeDebouncer calls fn with the settled width. delay <= 0 uses
// DefaultResizeDelay.
func NewResizeDebouncer(c clock.Clock, delay time.Duration, fn func(width float64)) *ResizeDebouncer {
	if delay <= 0 {
		delay = DefaultResizeDelay
	}
	return &ResizeDebouncer{clock: clock.OrReal(c), delay: delay, fn: fn}
}

// Resize records a width and restarts the delay.
func (d *ResizeDebouncer) Resize(width float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = d.clock.AfterFunc(d.delay, func() {
		d.mu.Lock()
		current := gen == d.gen && !d.stopped
		d.mu.Unlock()
		if current {
			d.fn(width)
		}
	})
}

// Stop drops any pending width. Later Resize calls are ignored.
func (d *ResizeDebouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
