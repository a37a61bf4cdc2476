// Package halo keeps the seam between the CPU partition and the accelerator
// partition consistent.
//
// The CPU partition owns logical rows [0, cpuRows) of the host grid; the
// accelerator owns the remaining rows and holds them in a device buffer laid
// out as a grid.Layout window with one halo row on each side. After every
// iteration each side has fresh values for its own rows only, so the row
// just across the seam has to be copied over before the next iteration reads
// it.
package halo

import (
	"fmt"

	"github.com/samcharles93/hybridstencil/internal/accel"
	"github.com/samcharles93/hybridstencil/internal/grid"
)

// Seam describes the row pair exchanged between the host grid and the
// device window.
type Seam struct {
	// LineSize is the number of elements copied in each direction.
	LineSize int

	// HostBoundary is the host index of the last CPU row (buffer row
	// cpuRows). It is also where the device window begins.
	HostBoundary int

	// HostHalo is the host index of the first accelerator row as seen by
	// the CPU (buffer row cpuRows+1).
	HostHalo int

	// DevHalo is the device index of the row above the accelerator rows.
	DevHalo int

	// DevBoundary is the device index of the first accelerator row.
	DevBoundary int

	active bool
}

// NewSeam computes the seam for a host layout split after cpuRows logical
// rows.
func NewSeam(l grid.Layout, cpuRows int) *Seam {
	stride := l.LineSize()
	_, base := l.Window(cpuRows, l.YDim-cpuRows)
	return &Seam{
		LineSize:     stride,
		HostBoundary: base,
		HostHalo:     base + stride,
		DevHalo:      0,
		DevBoundary:  stride,
		active:       cpuRows > 0 && cpuRows < l.YDim,
	}
}

// Active reports whether both partitions are non-empty. With one partition
// empty all data is local to one side and there is nothing to exchange.
func (s *Seam) Active() bool {
	return s.active
}

// Exchange copies the CPU boundary row into the device halo row, then the
// device boundary row into the host halo row. host and dev must be the
// destination buffers of the iteration that just completed.
func (s *Seam) Exchange(host []float32, dev accel.Buffer) error {
	if !s.active {
		return nil
	}
	if err := dev.Write(s.DevHalo, host[s.HostBoundary:s.HostBoundary+s.LineSize]); err != nil {
		return fmt.Errorf("halo: write boundary row to device: %w", err)
	}
	if err := dev.Read(s.DevBoundary, host[s.HostHalo:s.HostHalo+s.LineSize]); err != nil {
		return fmt.Errorf("halo: read boundary row from device: %w", err)
	}
	return nil
}
