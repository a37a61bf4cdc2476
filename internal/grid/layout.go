// Package grid defines the padded, strided float32 buffer shared by every
// solver in the module.
//
// A grid of XDim x YDim logical cells is stored row by row. Every row carries
// LineSize elements: the logical cells plus one border cell on each side and
// padding that puts logical column 0 of each row on a 64-byte boundary. One
// border row sits above and below the logical rows.
package grid

const (
	// ElemSize is the size in bytes of one grid element.
	ElemSize = 4

	// Border is the halo width around the logical grid.
	Border = 1

	// Padding is the number of unused elements appended to each row so the
	// row stride is a multiple of a 64-byte cache line.
	Padding = 64/ElemSize - 2*Border

	// Lead is the distance from the start of a buffer row to logical column 0.
	Lead = 16

	// CacheLine is the alignment the layout is built around.
	CacheLine = 64
)

// Layout describes the addressing of an XDim x YDim grid.
type Layout struct {
	XDim int
	YDim int
}

// LineSize is the row stride in elements.
func (l Layout) LineSize() int {
	return l.XDim + Padding + 2*Border
}

// Offset is the buffer index of logical cell (0,0).
func (l Layout) Offset() int {
	return l.LineSize() + Lead
}

// TotalSize is the number of elements in the buffer.
func (l Layout) TotalSize() int {
	return l.LineSize() * (l.YDim + 2*Border)
}

// Bytes is the size of the buffer in bytes.
func (l Layout) Bytes() int {
	return l.TotalSize() * ElemSize
}

// Index maps logical coordinates to a buffer index. Coordinates outside
// [0,XDim) x [0,YDim) are a caller bug and are not checked.
func (l Layout) Index(x, y int) int {
	return l.Offset() + y*l.LineSize() + x
}

// RowStart is the buffer index of the first element of buffer row r. Buffer
// row 0 is the top border row; logical row y lives in buffer row y+1.
func (l Layout) RowStart(r int) int {
	return r * l.LineSize()
}

// Window returns the layout of the sub-grid made of logical rows
// [firstRow, firstRow+rows) together with the buffer index in l at which the
// sub-grid's buffer begins. The sub-grid keeps the parent's stride and lead,
// so its buffer holds rows+2 buffer rows: one halo row above, the rows
// themselves, and one halo row below.
func (l Layout) Window(firstRow, rows int) (Layout, int) {
	return Layout{XDim: l.XDim, YDim: rows}, l.RowStart(firstRow)
}
