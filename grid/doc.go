// Package grid computes the visible window of a card grid so only the rows
// near the viewport are rendered.
//
// Column count comes from width breakpoints. Rows have a fixed height, and
// the window is widened by BufferRows on each side. Lists shorter than
// Threshold are rendered in full.
package grid
