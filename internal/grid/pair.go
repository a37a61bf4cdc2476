package grid

// Pair is a double buffer. Iteration i reads one grid and writes the other;
// the roles alternate with the parity of i.
type Pair struct {
	A, B *Grid
}

// NewPair allocates two grids with the same layout.
func NewPair(l Layout) (*Pair, error) {
	a, err := New(l)
	if err != nil {
		return nil, err
	}
	b, err := New(l)
	if err != nil {
		_ = a.Free()
		return nil, err
	}
	return &Pair{A: a, B: b}, nil
}

// Fill seeds both grids with the same contents.
func (p *Pair) Fill(seed int64) {
	p.A.Fill(seed)
	p.B.CopyFrom(p.A)
}

// Get returns A for 0 and B for 1.
func (p *Pair) Get(idx int) *Grid {
	if idx&1 == 0 {
		return p.A
	}
	return p.B
}

// Roles returns the source and destination grids of iteration i: even
// iterations read A and write B, odd iterations the reverse.
func (p *Pair) Roles(i int) (src, dst *Grid) {
	return p.Get(i), p.Get(i + 1)
}

// FinalIndex is the index (0 for A, 1 for B) of the grid holding the result
// after n iterations.
func FinalIndex(n int) int {
	return n & 1
}

// Final returns the grid holding the result after n iterations.
func (p *Pair) Final(n int) *Grid {
	return p.Get(FinalIndex(n))
}

// Free releases both grids.
func (p *Pair) Free() error {
	errA := p.A.Free()
	errB := p.B.Free()
	if errA != nil {
		return errA
	}
	return errB
}
