package hybrid

import (
	"errors"
	"fmt"

	"github.com/samcharles93/hybridstencil/internal/grid"
)

// ErrInvalidConfig is wrapped by every configuration error.
var ErrInvalidConfig = errors.New("invalid configuration")

// Defaults used by the command line and the run service.
const (
	DefaultXDim       = 4096
	DefaultYDim       = 4096
	DefaultAccelRows  = 2048 + 256 + 32 + 16
	DefaultIterations = 50
	DefaultSeed       = 1234
)

// Limits on the grid size. MaxCells bounds the padded buffer, so a single
// grid never exceeds 4 GiB of float32 cells.
const (
	MaxExtent = 1 << 16
	MaxCells  = 1 << 30
)

// Config fixes the geometry and length of one hybrid run.
type Config struct {
	XDim       int   `json:"xdim"`
	YDim       int   `json:"ydim"`
	AccelRows  int   `json:"accel_rows"`
	Iterations int   `json:"iterations"`
	Workers    int   `json:"workers"`
	Seed       int64 `json:"seed"`
}

// DefaultConfig returns the stock 4096x4096 problem.
func DefaultConfig() Config {
	return Config{
		XDim:       DefaultXDim,
		YDim:       DefaultYDim,
		AccelRows:  DefaultAccelRows,
		Iterations: DefaultIterations,
		Seed:       DefaultSeed,
	}
}

// Validate reports the first constraint cfg violates.
func (c Config) Validate() error {
	switch {
	case c.XDim < 1:
		return fmt.Errorf("%w: xdim must be >= 1, got %d", ErrInvalidConfig, c.XDim)
	case c.YDim < 1:
		return fmt.Errorf("%w: ydim must be >= 1, got %d", ErrInvalidConfig, c.YDim)
	case c.XDim > MaxExtent || c.YDim > MaxExtent:
		return fmt.Errorf("%w: grid %dx%d exceeds %d cells per side", ErrInvalidConfig, c.XDim, c.YDim, MaxExtent)
	case c.Layout().TotalSize() > MaxCells:
		return fmt.Errorf("%w: grid %dx%d needs %d cells, limit is %d", ErrInvalidConfig, c.XDim, c.YDim, c.Layout().TotalSize(), MaxCells)
	case c.AccelRows < 0 || c.AccelRows > c.YDim:
		return fmt.Errorf("%w: accel rows must be in [0, %d], got %d", ErrInvalidConfig, c.YDim, c.AccelRows)
	case c.Iterations < 0:
		return fmt.Errorf("%w: iterations must be >= 0, got %d", ErrInvalidConfig, c.Iterations)
	case c.Workers < 0:
		return fmt.Errorf("%w: workers must be >= 0, got %d", ErrInvalidConfig, c.Workers)
	}
	return nil
}

// Layout is the host grid layout.
func (c Config) Layout() grid.Layout {
	return grid.Layout{XDim: c.XDim, YDim: c.YDim}
}

// CPURows is the number of logical rows, counted from the top, computed on
// the host.
func (c Config) CPURows() int {
	return c.YDim - c.AccelRows
}

// AccelLayout returns the layout of the device buffers and the host index
// their contents are mirrored from.
func (c Config) AccelLayout() (grid.Layout, int) {
	return c.Layout().Window(c.CPURows(), c.AccelRows)
}
