package geo

import (
	"math"

	"github.com/paulmach/orb"
)

// DefaultCellSize is the grid cell edge in degrees (~1.1 km at the equator).
const DefaultCellSize = 0.01

// maxCells caps the grid size; the cell edge grows until the grid fits.
const maxCells = 1 << 20

// Index is a uniform lon/lat grid over a Collection. Each cell lists, in collection order,
// the records whose bounding box touches it, so a lookup only tests those candidates.
// Results are identical to Collection.Locate.
type Index struct {
	c      *Collection
	origin orb.Point
	cell   float64
	nx, ny int
	grid   map[int][]int
}

// NewIndex builds a grid index with the given cell edge in degrees.
// A non-positive size falls back to DefaultCellSize.
func NewIndex(c *Collection, cellSize float64) *Index {
	if cellSize <= 0 {
		cellSize = DefaultCellSize
	}
	idx := &Index{c: c, cell: cellSize, grid: make(map[int][]int)}
	if c.Len() == 0 {
		return idx
	}

	b := c.Bound()
	idx.origin = b.Min
	for {
		idx.nx = int(math.Floor((b.Max[0]-b.Min[0])/idx.cell)) + 1
		idx.ny = int(math.Floor((b.Max[1]-b.Min[1])/idx.cell)) + 1
		if idx.nx*idx.ny <= maxCells {
			break
		}
		idx.cell *= 2
	}

	for i, r := range c.records {
		x0, y0 := idx.cellOf(r.bound.Min)
		x1, y1 := idx.cellOf(r.bound.Max)
		for x := x0; x <= x1; x++ {
			for y := y0; y <= y1; y++ {
				key := idx.makeKey(x, y)
				idx.grid[key] = append(idx.grid[key], i)
			}
		}
	}
	return idx
}

// Collection returns the indexed collection.
func (idx *Index) Collection() *Collection {
	return idx.c
}

// CellSize returns the effective cell edge in degrees.
func (idx *Index) CellSize() float64 {
	return idx.cell
}

// Locate tests only the candidates of the point's cell, in collection order.
func (idx *Index) Locate(p Point) (Match, bool) {
	if idx == nil || idx.c.Len() == 0 {
		return Match{}, false
	}
	op := p.Orb()
	if !idx.c.bound.Contains(op) {
		return Match{}, false
	}
	x, y := idx.cellOf(op)
	for _, i := range idx.grid[idx.makeKey(x, y)] {
		r := idx.c.records[i]
		if r.Covers(p) {
			return Match{Index: i, Record: r}, true
		}
	}
	return Match{}, false
}

func (idx *Index) cellOf(p orb.Point) (x, y int) {
	x = clamp(int(math.Floor((p[0]-idx.origin[0])/idx.cell)), 0, idx.nx-1)
	y = clamp(int(math.Floor((p[1]-idx.origin[1])/idx.cell)), 0, idx.ny-1)
	return x, y
}

func (idx *Index) makeKey(x, y int) int {
	return y*idx.nx + x
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
