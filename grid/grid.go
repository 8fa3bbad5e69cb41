package grid

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("grid: invalid config")

// Breakpoint sets the column count for widths at or above MinWidth.
type Breakpoint struct {
	MinWidth float64 `yaml:"min_width"`
	Columns  int     `yaml:"columns"`
}

// DefaultBreakpoints are 1, 2, 3 and 4 columns at 0, 640, 1024 and 1280px.
var DefaultBreakpoints = []Breakpoint{
	{MinWidth: 0, Columns: 1},
	{MinWidth: 640, Columns: 2},
	{MinWidth: 1024, Columns: 3},
	{MinWidth: 1280, Columns: 4},
}

// Config holds the layout constants.
type Config struct {
	// RowHeight is the vertical pitch of one row in pixels. Default: 320
	RowHeight float64

	// BufferRows is how many extra rows are rendered on each side of the
	// viewport. Default: 8
	BufferRows int

	// Threshold is the item count below which virtualization is skipped.
	// Default: 24
	Threshold int

	// Breakpoints map widths to column counts. Default: DefaultBreakpoints
	Breakpoints []Breakpoint

	// Gap is the horizontal space between columns in pixels.
	Gap float64
}

// DefaultConfig returns the default layout constants.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.RowHeight <= 0 {
		c.RowHeight = 320
	}
	if c.BufferRows <= 0 {
		c.BufferRows = 8
	}
	if c.Threshold <= 0 {
		c.Threshold = 24
	}
	if len(c.Breakpoints) == 0 {
		c.Breakpoints = DefaultBreakpoints
	}
	bps := append([]Breakpoint(nil), c.Breakpoints...)
	sort.SliceStable(bps, func(i, j int) bool { return bps[i].MinWidth < bps[j].MinWidth })
	c.Breakpoints = bps
	return c
}

// Validate rejects negative sizes and breakpoints without columns.
func (c Config) Validate() error {
	if c.RowHeight < 0 || c.BufferRows < 0 || c.Threshold < 0 || c.Gap < 0 {
		return fmt.Errorf("%w: sizes must not be negative", ErrInvalidConfig)
	}
	for _, bp := range c.Breakpoints {
		if bp.Columns < 1 || bp.MinWidth < 0 {
			return fmt.Errorf("%w: breakpoint %+v", ErrInvalidConfig, bp)
		}
	}
	return nil
}

// Viewport is the scrolled window over the grid, in pixels relative to the
// top of the grid.
type Viewport struct {
	ScrollTop float64
	Height    float64
}

// Range is a half-open index range [Start, End).
type Range struct {
	Start int
	End   int
}

// Len returns End - Start.
func (r Range) Len() int { return r.End - r.Start }

// Contains reports whether i is inside the range.
func (r Range) Contains(i int) bool { return i >= r.Start && i < r.End }

// ReachesEnd reports whether the range includes the last of count items.
func (r Range) ReachesEnd(count int) bool { return count > 0 && r.End >= count }

// Placement positions one item.
type Placement struct {
	Index int
	Row   int
	Col   int
	Top   float64
	Left  float64
}

// Layout does the grid arithmetic for one Config.
type Layout struct {
	cfg Config
}

// New returns a Layout for cfg with defaults applied.
func New(cfg Config) Layout {
	return Layout{cfg: cfg.withDefaults()}
}

// Config returns the effective configuration.
func (l Layout) Config() Config { return l.cfg }

// Columns returns the column count for a viewport width.
func (l Layout) Columns(width float64) int {
	cols := 1
	for _, bp := range l.cfg.Breakpoints {
		if width >= bp.MinWidth {
			cols = bp.Columns
		}
	}
	return max(cols, 1)
}

// Virtualized reports whether a list of count items is windowed.
func (l Layout) Virtualized(count int) bool {
	return count >= l.cfg.Threshold
}

// Rows returns how many rows count items occupy.
func (l Layout) Rows(count, columns int) int {
	if count <= 0 {
		return 0
	}
	columns = max(columns, 1)
	return (count + columns - 1) / columns
}

// TotalHeight is the full scroll height of count items.
func (l Layout) TotalHeight(count, columns int) float64 {
	return float64(l.Rows(count, columns)) * l.cfg.RowHeight
}

// VisibleRange returns the item range intersecting vp, widened by
// BufferRows on each side and clamped to [0, count].
func (l Layout) VisibleRange(vp Viewport, count, columns int) Range {
	if count <= 0 {
		return Range{}
	}
	columns = max(columns, 1)

	top := max(vp.ScrollTop, 0)
	first := int(math.Floor(top/l.cfg.RowHeight)) - l.cfg.BufferRows
	last := int(math.Ceil((top+max(vp.Height, 0))/l.cfg.RowHeight)) + l.cfg.BufferRows

	start := min(max(first, 0)*columns, count)
	end := min(max(last, 0)*columns, count)
	return Range{Start: start, End: max(end, start)}
}

// Place returns the placement of every index in r. width is the grid width
// used to derive column offsets.
func (l Layout) Place(r Range, columns int, width float64) []Placement {
	if r.Len() <= 0 {
		return nil
	}
	columns = max(columns, 1)
	colWidth := max((width-l.cfg.Gap*float64(columns-1))/float64(columns), 0)

	out := make([]Placement, 0, r.Len())
	for i := r.Start; i < r.End; i++ {
		row, col := i/columns, i%columns
		out = append(out, Placement{
			Index: i,
			Row:   row,
			Col:   col,
			Top:   float64(row) * l.cfg.RowHeight,
			Left:  float64(col) * (colWidth + l.cfg.Gap),
		})
	}
	return out
}

// Neighbors returns the indexes left, right, above and below i in a grid
// of count items, skipping any that fall outside the grid or wrap rows.
func Neighbors(i, count, columns int) []int {
	if i < 0 || i >= count {
		return nil
	}
	columns = max(columns, 1)
	out := make([]int, 0, 4)
	if i%columns > 0 {
		out = append(out, i-1)
	}
	if i%columns < columns-1 && i+1 < count {
		out = append(out, i+1)
	}
	if i-columns >= 0 {
		out = append(out, i-columns)
	}
	if i+columns < count {
		out = append(out, i+columns)
	}
	return out
}
