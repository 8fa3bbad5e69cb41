// Package hover tells a pointer resting on a target apart from one passing
// over it.
//
// A Detector moves Idle -> Pending on Enter and Pending -> Confirmed once
// the pointer has stayed within Sensitivity pixels for Delay. Movement
// beyond Sensitivity restarts the delay from the new position. Leave
// returns to Idle from any state.
package hover

import (
	"math"
	"sync"
	"time"

	"github.com/jonwraymond/cardshelf/clock"
)

// State is the detector state.
type State int

const (
	Idle State = iota
	Pending
	Confirmed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	case Confirmed:
		return "confirmed"
	default:
		return "unknown"
	}
}

// Point is a pointer position in pixels.
type Point struct {
	X, Y float64
}

// Options configures a Detector. Zero fields take the documented defaults.
type Options struct {
	// Delay is how long the pointer must rest. Default: 150ms
	Delay time.Duration

	// Sensitivity is the per-axis displacement, in pixels, that counts as
	// renewed movement. Default: 7
	Sensitivity float64

	// OnConfirm runs once per hover when intent is confirmed.
	OnConfirm func(Point)

	// OnEnd runs when the pointer leaves after Enter.
	OnEnd func()

	Clock clock.Clock
}

func (o Options) withDefaults() Options {
	if o.Delay <= 0 {
		o.Delay = 150 * time.Millisecond
	}
	if o.Sensitivity <= 0 {
		o.Sensitivity = 7
	}
	o.Clock = clock.OrReal(o.Clock)
	return o
}

// Detector tracks hover intent for one target. Safe for concurrent use;
// callbacks run without internal locks held.
type Detector struct {
	opts Options

	mu    sync.Mutex
	state State
	pos   Point
	timer clock.Timer
	gen   uint64
}

// NewDetector returns an idle detector.
func NewDetector(opts Options) *Detector {
	return &Detector{opts: opts.withDefaults()}
}

// State returns the current state.
func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Enter records the entry position and starts the delay. Entering again
// restarts the hover.
func (d *Detector) Enter(p Point) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = Pending
	d.pos = p
	d.armLocked()
}

// Move restarts the delay when p is more than Sensitivity away from the
// recorded position on either axis. It is ignored unless Pending.
func (d *Detector) Move(p Point) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != Pending {
		return
	}
	if math.Abs(p.X-d.pos.X) <= d.opts.Sensitivity && math.Abs(p.Y-d.pos.Y) <= d.opts.Sensitivity {
		return
	}
	d.pos = p
	d.armLocked()
}

// Leave cancels any pending delay and returns to Idle. OnEnd runs if the
// detector was not already Idle.
func (d *Detector) Leave() {
	d.mu.Lock()
	was := d.state
	d.disarmLocked()
	d.state = Idle
	d.mu.Unlock()

	if was != Idle && d.opts.OnEnd != nil {
		d.opts.OnEnd()
	}
}

// Stop cancels any pending delay without notifying.
func (d *Detector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disarmLocked()
	d.state = Idle
}

func (d *Detector) armLocked() {
	d.disarmLocked()
	gen := d.gen
	d.timer = d.opts.Clock.AfterFunc(d.opts.Delay, func() { d.fire(gen) })
}

func (d *Detector) disarmLocked() {
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// fire confirms the hover unless the timer was superseded after it was
// scheduled.
func (d *Detector) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || d.state != Pending {
		d.mu.Unlock()
		return
	}
	d.state = Confirmed
	d.timer = nil
	p := d.pos
	d.mu.Unlock()

	if d.opts.OnConfirm != nil {
		d.opts.OnConfirm(p)
	}
}
