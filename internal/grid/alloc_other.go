//go:build !unix

package grid

import "unsafe"

// allocAligned over-allocates a Go slice and returns the cache line aligned
// window inside it.
func allocAligned(n int) ([]float32, func() error, error) {
	const extra = CacheLine / ElemSize
	raw := make([]float32, n+extra)
	shift := 0
	if n > 0 {
		addr := uintptr(unsafe.Pointer(&raw[0]))
		if rem := addr % CacheLine; rem != 0 {
			shift = int((CacheLine - rem) / ElemSize)
		}
	}
	return raw[shift : shift+n : shift+n], func() error { return nil }, nil
}
