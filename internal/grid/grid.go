package grid

import (
	"errors"
	"fmt"
	"math/rand"
)

// ErrAlloc is returned when the host buffer for a grid cannot be allocated.
var ErrAlloc = errors.New("grid: allocation failed")

// Grid is a host buffer laid out according to Layout.
//
// Data is the whole strided buffer, borders and padding included. A Grid must
// be released with Free once it is no longer used.
type Grid struct {
	Layout Layout
	Data   []float32

	release func() error
}

// New allocates a zeroed grid. The backing memory is aligned so that logical
// column 0 of every row starts on a cache line.
func New(l Layout) (*Grid, error) {
	if l.XDim < 1 || l.YDim < 0 {
		return nil, fmt.Errorf("%w: invalid extents %dx%d", ErrAlloc, l.XDim, l.YDim)
	}
	data, release, err := allocAligned(l.TotalSize())
	if err != nil {
		return nil, fmt.Errorf("%w: %d bytes: %v", ErrAlloc, l.Bytes(), err)
	}
	return &Grid{Layout: l, Data: data, release: release}, nil
}

// Fill overwrites every element, borders and padding included, with the
// deterministic pseudo-random sequence for seed.
func (g *Grid) Fill(seed int64) {
	rng := rand.New(rand.NewSource(seed))
	for i := range g.Data {
		g.Data[i] = float32(rng.Int31())
	}
}

// CopyFrom copies src into g. Both grids must share a layout.
func (g *Grid) CopyFrom(src *Grid) {
	if g.Layout != src.Layout {
		panic("grid: layout mismatch")
	}
	copy(g.Data, src.Data)
}

// Clone allocates a new grid holding a copy of g.
func (g *Grid) Clone() (*Grid, error) {
	out, err := New(g.Layout)
	if err != nil {
		return nil, err
	}
	out.CopyFrom(g)
	return out, nil
}

// At returns the value of logical cell (x,y).
func (g *Grid) At(x, y int) float32 {
	return g.Data[g.Layout.Index(x, y)]
}

// Row returns buffer row r, LineSize elements long.
func (g *Grid) Row(r int) []float32 {
	start := g.Layout.RowStart(r)
	return g.Data[start : start+g.Layout.LineSize()]
}

// Free releases the backing memory. The grid must not be used afterwards.
func (g *Grid) Free() error {
	if g == nil || g.release == nil {
		return nil
	}
	release := g.release
	g.release = nil
	g.Data = nil
	return release()
}
