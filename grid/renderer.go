package grid

import "sync"

// Placed is an item with its position.
type Placed[T any] struct {
	Placement
	Item T
}

// Frame is what a render pass mounts: the items to draw and the height of
// the spacer that keeps the scrollbar length right.
type Frame[T any] struct {
	Virtualized bool
	Columns     int
	Range       Range
	Items       []Placed[T]
	Height      float64
}

// Renderer keeps the visible window of an item list up to date.
//
// Items are expected to be already filtered and sorted. The window is
// recomputed when items, viewport or width change. Safe for concurrent use.
type Renderer[T any] struct {
	layout Layout

	mu       sync.Mutex
	items    []T
	viewport Viewport
	width    float64
	columns  int
	rng      Range
}

// NewRenderer returns a renderer with no items and a zero-sized viewport.
func NewRenderer[T any](cfg Config) *Renderer[T] {
	return &Renderer[T]{layout: New(cfg), columns: 1}
}

// Layout returns the layout used by the renderer.
func (r *Renderer[T]) Layout() Layout { return r.layout }

// SetItems replaces the item list. It reports whether the window changed.
func (r *Renderer[T]) SetItems(items []T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = items
	return r.recomputeLocked()
}

// SetViewport records a new scroll window. It reports whether the window
// changed.
func (r *Renderer[T]) SetViewport(vp Viewport) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.viewport = vp
	return r.recomputeLocked()
}

// SetWidth records a new grid width and derives the column count. It
// reports whether the window changed.
func (r *Renderer[T]) SetWidth(width float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.width = width
	r.columns = r.layout.Columns(width)
	return r.recomputeLocked()
}

// Columns returns the current column count.
func (r *Renderer[T]) Columns() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.columns
}

// Range returns the current window.
func (r *Renderer[T]) Range() Range {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng
}

// Render returns the items to mount. Lists below the threshold are
// returned whole without virtualization.
func (r *Renderer[T]) Render() Frame[T] {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := len(r.items)
	f := Frame[T]{
		Virtualized: r.layout.Virtualized(count),
		Columns:     r.columns,
		Height:      r.layout.TotalHeight(count, r.columns),
		Range:       r.rng,
	}
	if !f.Virtualized {
		f.Range = Range{Start: 0, End: count}
	}

	placements := r.layout.Place(f.Range, r.columns, r.width)
	f.Items = make([]Placed[T], len(placements))
	for i, p := range placements {
		f.Items[i] = Placed[T]{Placement: p, Item: r.items[p.Index]}
	}
	return f
}

func (r *Renderer[T]) recomputeLocked() bool {
	next := r.layout.VisibleRange(r.viewport, len(r.items), r.columns)
	changed := next != r.rng
	r.rng = next
	return changed
}
