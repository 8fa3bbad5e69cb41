package prerender

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonwraymond/cardshelf/clock"
	"github.com/jonwraymond/cardshelf/observe"
)

// Options configures a Pool. Zero fields take the documented defaults.
type Options struct {
	// Capacity is the number of entries kept after each check. Default: 10
	Capacity int

	// CheckInterval is how often the cap is enforced. Default: 60 seconds
	CheckInterval time.Duration

	// Width and Height size the hidden container. Default: 400x300
	Width  int
	Height int

	Clock  clock.Clock
	Logger observe.Logger
}

func (o Options) withDefaults() Options {
	if o.Capacity <= 0 {
		o.Capacity = 10
	}
	if o.CheckInterval <= 0 {
		o.CheckInterval = 60 * time.Second
	}
	if o.Width <= 0 {
		o.Width = 400
	}
	if o.Height <= 0 {
		o.Height = 300
	}
	o.Clock = clock.OrReal(o.Clock)
	o.Logger = observe.OrNop(o.Logger)
	return o
}

// Entry is a tracked hidden document.
type Entry struct {
	ID        string
	URL       string
	Frame     Frame
	Ready     bool
	Timestamp time.Time
}

type entry struct {
	Entry
	seq  uint64
	done chan struct{} // closed when the entry stops being tracked
}

// Pool tracks prerendered documents by card id.
//
// Contract:
// - Concurrency: all methods are safe for concurrent use.
// - Ordering: entries age by Timestamp; entries created or touched at the
//   same instant age in call order.
type Pool struct {
	opts      Options
	container Container

	mu      sync.Mutex
	entries map[string]*entry
	seq     uint64
	closed  bool

	base      context.Context
	cancel    context.CancelFunc
	stopCheck func()

	waiting atomic.Int64 // awaitLoad goroutines still running
}

// NewPool creates the hidden container and starts the periodic cap check.
func NewPool(host Host, opts Options) (*Pool, error) {
	if host == nil {
		return nil, ErrNilHost
	}
	opts = opts.withDefaults()

	container, err := host.NewContainer(opts.Width, opts.Height)
	if err != nil {
		return nil, err
	}

	base, cancel := context.WithCancel(context.Background())
	p := &Pool{
		opts:      opts,
		container: container,
		entries:   make(map[string]*entry),
		base:      base,
		cancel:    cancel,
	}
	p.stopCheck = clock.Every(opts.Clock, opts.CheckInterval, func() { p.Enforce() })
	return p, nil
}

// Prerender starts loading url as a hidden document for id. It is a no-op
// when id is already tracked.
func (p *Pool) Prerender(id, url string) error {
	if id == "" {
		return ErrEmptyID
	}
	if url == "" {
		return ErrEmptyURL
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if _, ok := p.entries[id]; ok {
		return nil
	}

	frame, err := p.container.Attach(p.base, id, url)
	if err != nil {
		return err
	}

	p.seq++
	e := &entry{
		Entry: Entry{ID: id, URL: url, Frame: frame, Timestamp: p.opts.Clock.Now()},
		seq:   p.seq,
		done:  make(chan struct{}),
	}
	p.entries[id] = e
	p.waiting.Add(1)
	go p.awaitLoad(e)
	return nil
}

// awaitLoad marks e ready once its frame loads. It returns early when e is
// evicted, since an evicted or failed frame may never report a load.
func (p *Pool) awaitLoad(e *entry) {
	defer p.waiting.Add(-1)
	select {
	case <-e.Frame.Loaded():
	case <-e.done:
		return
	case <-p.base.Done():
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.entries[e.ID]; ok && cur == e {
		e.Ready = true
	}
}

// Get returns the entry tracked for id.
func (p *Pool) Get(id string) (Entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[id]
	if !ok {
		return Entry{}, false
	}
	return e.Entry, true
}

// IsPrerendered reports whether id is tracked and finished loading.
func (p *Pool) IsPrerendered(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[id]
	return ok && e.Ready
}

// Touch refreshes the timestamp of id so it is evicted later. It reports
// whether id is tracked.
func (p *Pool) Touch(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[id]
	if !ok {
		return false
	}
	p.seq++
	e.Timestamp = p.opts.Clock.Now()
	e.seq = p.seq
	return true
}

// Len returns the number of tracked entries.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// IDs returns tracked ids from oldest to newest.
func (p *Pool) IDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ordered := p.orderedLocked()
	ids := make([]string, len(ordered))
	for i, e := range ordered {
		ids[i] = e.ID
	}
	return ids
}

// Enforce evicts the oldest entries until at most Capacity remain and
// returns how many were evicted. Evicted frames are removed.
func (p *Pool) Enforce() int {
	p.mu.Lock()
	over := len(p.entries) - p.opts.Capacity
	if over <= 0 {
		p.mu.Unlock()
		return 0
	}
	victims := p.orderedLocked()[:over]
	for _, e := range victims {
		delete(p.entries, e.ID)
		close(e.done)
	}
	p.mu.Unlock()

	for _, e := range victims {
		e.Frame.Remove()
	}
	p.opts.Logger.Debug(context.Background(), "prerender pool trimmed",
		observe.F("evicted", len(victims)),
		observe.F("capacity", p.opts.Capacity),
	)
	return len(victims)
}

// Close stops the periodic check and removes the container with every
// tracked frame. Idempotent.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	entries := p.entries
	p.entries = make(map[string]*entry)
	p.mu.Unlock()

	p.stopCheck()
	p.cancel()
	for _, e := range entries {
		close(e.done)
		e.Frame.Remove()
	}
	p.container.Remove()
}

func (p *Pool) orderedLocked() []*entry {
	out := make([]*entry, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].seq < out[j].seq
	})
	return out
}
