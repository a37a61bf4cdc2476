//go:build unix

package grid

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// allocAligned maps anonymous memory for n float32 elements. Mappings are
// page aligned, so logical column 0 of every row sits on a cache line
// whenever XDim is a multiple of 16.
func allocAligned(n int) ([]float32, func() error, error) {
	if n == 0 {
		return []float32{}, func() error { return nil }, nil
	}
	mem, err := unix.Mmap(-1, 0, n*ElemSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, err
	}
	data := unsafe.Slice((*float32)(unsafe.Pointer(&mem[0])), n)
	return data, func() error { return unix.Munmap(mem) }, nil
}
