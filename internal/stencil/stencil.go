// Package stencil implements the 5-point averaging operator
//
//	dst[x,y] = 0.75*src[x,y] + 0.25*(src[x-1,y] + src[x+1,y] + src[x,y-1] + src[x,y+1])
//
// over grids addressed by grid.Layout, both as a sequential reference and as
// a pooled parallel evaluator over a row range.
package stencil

import "github.com/samcharles93/hybridstencil/internal/grid"

const (
	centerWeight    = 0.75
	neighbourWeight = 0.25
)

// Cell evaluates the operator for one cell. The explicit conversions keep
// every product rounded to float32 so the compiler cannot contract them into
// fused multiply-adds; all evaluators share this exact rounding.
func Cell(c, left, right, up, down float32) float32 {
	return float32(centerWeight*c) + float32(neighbourWeight*(left+right+up+down))
}

// Rows applies the operator to logical rows [rowStart, rowStart+rowCount) of
// src and writes the result into dst. Cells outside that range, borders and
// padding are left untouched.
func Rows(dst, src []float32, l grid.Layout, rowStart, rowCount int) {
	stride := l.LineSize()
	for y := rowStart; y < rowStart+rowCount; y++ {
		base := l.Index(0, y)
		out := dst[base : base+l.XDim]
		in := src[base-1 : base+l.XDim+1]
		up := src[base-stride : base-stride+l.XDim]
		down := src[base+stride : base+stride+l.XDim]
		for x := range out {
			out[x] = Cell(in[x+1], in[x], in[x+2], up[x], down[x])
		}
	}
}
