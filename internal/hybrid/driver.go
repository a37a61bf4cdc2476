// Package hybrid runs the stencil with the grid split between host worker
// goroutines and an accelerator device.
//
// The host evaluates the upper CPURows logical rows, the device evaluates the
// rest. Each iteration dispatches the device job, computes the host rows
// while it runs, waits for the device, and swaps the seam rows before the
// next iteration may start.
package hybrid

import (
	"context"
	"fmt"
	"time"

	"github.com/samcharles93/hybridstencil/internal/accel"
	"github.com/samcharles93/hybridstencil/internal/grid"
	"github.com/samcharles93/hybridstencil/internal/halo"
	"github.com/samcharles93/hybridstencil/internal/logger"
	"github.com/samcharles93/hybridstencil/internal/stencil"
)

// State is a step of the per-iteration state machine.
type State int

const (
	StateDispatch State = iota
	StateWait
	StateExchange
	StateDone
)

func (s State) String() string {
	switch s {
	case StateDispatch:
		return "dispatch"
	case StateWait:
		return "wait"
	case StateExchange:
		return "exchange"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for st := StateDispatch; st <= StateDone; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}

// Event is emitted on every state transition. Done carries the number of
// completed iterations.
type Event struct {
	Iteration int   `json:"iteration"`
	State     State `json:"state"`
}

// Result describes a finished run. Final is one of the two grids of the pair
// passed to Run.
type Result struct {
	Final      *grid.Grid
	FinalIndex int
	Iterations int

	Elapsed       time.Duration
	CPUTime       time.Duration
	AccelWaitTime time.Duration
	ExchangeTime  time.Duration
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the logger used for per-iteration debug records.
func WithLogger(l logger.Logger) Option {
	return func(d *Driver) { d.log = l }
}

// WithObserver registers fn to receive every state transition. fn runs on
// the driver goroutine and must not block.
func WithObserver(fn func(Event)) Option {
	return func(d *Driver) { d.observer = fn }
}

// WithPool makes the driver use p for the host partition instead of
// starting its own pool. The caller keeps ownership of p.
func WithPool(p *stencil.Pool) Option {
	return func(d *Driver) { d.pool = p }
}

// Driver executes hybrid runs for one configuration.
type Driver struct {
	cfg      Config
	dev      accel.Context
	pool     *stencil.Pool
	ownPool  bool
	log      logger.Logger
	observer func(Event)
}

// New validates cfg and prepares a driver. dev may be nil only when the
// accelerator partition is empty.
func New(cfg Config, dev accel.Context, opts ...Option) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dev == nil && cfg.AccelRows > 0 {
		return nil, fmt.Errorf("%w: %d accelerator rows but no device", ErrInvalidConfig, cfg.AccelRows)
	}
	d := &Driver{cfg: cfg, dev: dev, log: logger.Discard()}
	for _, opt := range opts {
		opt(d)
	}
	if d.pool == nil {
		d.pool = stencil.NewPool(cfg.Workers)
		d.ownPool = true
	}
	return d, nil
}

// Config returns the validated configuration.
func (d *Driver) Config() Config {
	return d.cfg
}

// Close stops the worker pool if the driver started it.
func (d *Driver) Close() {
	if d.ownPool {
		d.pool.Close()
	}
}

// Run performs cfg.Iterations steps over pair. Both grids of pair must have
// the configured layout and hold the initial state; their contents are
// overwritten. ctx is consulted between iterations only.
func (d *Driver) Run(ctx context.Context, pair *grid.Pair) (*Result, error) {
	layout := d.cfg.Layout()
	if pair.A.Layout != layout || pair.B.Layout != layout {
		return nil, fmt.Errorf("%w: grid layout %dx%d does not match %dx%d",
			ErrInvalidConfig, pair.A.Layout.XDim, pair.A.Layout.YDim, layout.XDim, layout.YDim)
	}

	n := d.cfg.Iterations
	cpuRows := d.cfg.CPURows()
	accelLayout, base := d.cfg.AccelLayout()
	seam := halo.NewSeam(layout, cpuRows)

	var bufs [2]accel.Buffer
	if d.cfg.AccelRows > 0 {
		size := accelLayout.TotalSize()
		for i := range bufs {
			buf, err := d.dev.NewBuffer(size)
			if err != nil {
				closeBuffers(bufs[:i])
				return nil, fmt.Errorf("allocate device buffer: %w", err)
			}
			bufs[i] = buf
			if err := buf.Write(0, pair.Get(i).Data[base:base+size]); err != nil {
				closeBuffers(bufs[:i+1])
				return nil, fmt.Errorf("upload device window: %w", err)
			}
		}
		defer closeBuffers(bufs[:])
	}

	d.log.Debug("hybrid run starting",
		"xdim", d.cfg.XDim, "ydim", d.cfg.YDim,
		"cpu_rows", cpuRows, "accel_rows", d.cfg.AccelRows,
		"iterations", n, "workers", d.pool.Size())

	res := &Result{Iterations: n}
	start := time.Now()
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("iteration %d: %w", i, err)
		}
		src, dst := pair.Roles(i)

		d.emit(i, StateDispatch)
		var pending accel.Pending = accel.Done{}
		if d.cfg.AccelRows > 0 {
			p, err := d.dev.Submit(accel.Job{
				Dst:    bufs[(i+1)&1],
				Src:    bufs[i&1],
				Layout: accelLayout,
			})
			if err != nil {
				return nil, fmt.Errorf("iteration %d: submit: %w", i, err)
			}
			pending = p
		}
		t0 := time.Now()
		d.pool.Apply(dst.Data, src.Data, layout, 0, cpuRows)
		res.CPUTime += time.Since(t0)

		d.emit(i, StateWait)
		t0 = time.Now()
		if err := pending.Wait(); err != nil {
			return nil, fmt.Errorf("iteration %d: wait: %w", i, err)
		}
		res.AccelWaitTime += time.Since(t0)

		d.emit(i, StateExchange)
		if seam.Active() {
			t0 = time.Now()
			if err := seam.Exchange(dst.Data, bufs[(i+1)&1]); err != nil {
				return nil, fmt.Errorf("iteration %d: %w", i, err)
			}
			res.ExchangeTime += time.Since(t0)
		}
	}

	res.FinalIndex = grid.FinalIndex(n)
	res.Final = pair.Get(res.FinalIndex)
	if d.cfg.AccelRows > 0 {
		// Device row 0 mirrors the last host row, which the host already has.
		stride := layout.LineSize()
		out := res.Final.Data[base+stride : base+accelLayout.TotalSize()]
		if err := bufs[res.FinalIndex].Read(stride, out); err != nil {
			return nil, fmt.Errorf("download device window: %w", err)
		}
	}
	res.Elapsed = time.Since(start)
	d.emit(n, StateDone)

	d.log.Debug("hybrid run finished",
		"elapsed", res.Elapsed, "cpu", res.CPUTime,
		"accel_wait", res.AccelWaitTime, "exchange", res.ExchangeTime)
	return res, nil
}

func (d *Driver) emit(i int, s State) {
	if d.observer != nil {
		d.observer(Event{Iteration: i, State: s})
	}
}

func closeBuffers(bufs []accel.Buffer) {
	for _, b := range bufs {
		if b != nil {
			_ = b.Close()
		}
	}
}
