package stencil

import "github.com/samcharles93/hybridstencil/internal/grid"

// Reference evaluates the whole grid on the calling goroutine. It is the
// ground truth the partitioned path is validated against.
func Reference(dst, src []float32, l grid.Layout) {
	Rows(dst, src, l, 0, l.YDim)
}

// RunReference iterates Reference n times over p, alternating roles by
// parity, and returns the grid that holds the result.
func RunReference(p *grid.Pair, n int) *grid.Grid {
	for i := 0; i < n; i++ {
		src, dst := p.Roles(i)
		Reference(dst.Data, src.Data, src.Layout)
	}
	return p.Final(n)
}
