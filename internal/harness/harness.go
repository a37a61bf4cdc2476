// Package harness runs one hybrid configuration end to end: it sets up the
// device and grids, times the hybrid driver against the reference solver,
// and validates the result.
package harness

import (
	"context"
	"time"

	"github.com/samcharles93/hybridstencil/internal/accel"
	"github.com/samcharles93/hybridstencil/internal/grid"
	"github.com/samcharles93/hybridstencil/internal/hybrid"
	"github.com/samcharles93/hybridstencil/internal/logger"
	"github.com/samcharles93/hybridstencil/internal/stencil"
	"github.com/samcharles93/hybridstencil/internal/validate"
)

// Options configures Run.
type Options struct {
	Config hybrid.Config
	Device DeviceOptions

	// Tolerance defaults to validate.Tolerance, Keep to validate.DefaultKeep.
	Tolerance float64
	Keep      int

	Logger   logger.Logger
	Observer func(hybrid.Event)
	Pool     *stencil.Pool
}

// Sizes are the buffer dimensions of a run, in elements.
type Sizes struct {
	TotalSize      int `json:"total_size"`
	AccelTotalSize int `json:"accel_total_size"`
	LineSize       int `json:"line_size"`
}

// Report is the outcome of one run.
type Report struct {
	Config hybrid.Config     `json:"config"`
	Device *accel.DeviceInfo `json:"device,omitempty"`
	Sizes  Sizes             `json:"sizes"`

	HybridTime    time.Duration `json:"hybrid_time_ns"`
	ReferenceTime time.Duration `json:"reference_time_ns"`
	CPUTime       time.Duration `json:"cpu_time_ns"`
	AccelWaitTime time.Duration `json:"accel_wait_time_ns"`
	ExchangeTime  time.Duration `json:"exchange_time_ns"`

	// Ratio is ReferenceTime / HybridTime.
	Ratio                float64 `json:"ratio"`
	HybridBytesPerSec    float64 `json:"hybrid_bytes_per_sec"`
	ReferenceBytesPerSec float64 `json:"reference_bytes_per_sec"`
	BufferBytes          int     `json:"buffer_bytes"`

	Comparison validate.Comparison `json:"comparison"`
}

// Run executes opts.Config on the hybrid driver and on the reference
// solver, both from the same initial state. Mismatches are reported in the
// Comparison, not as an error.
func Run(ctx context.Context, opts Options) (*Report, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	tol := opts.Tolerance
	if tol <= 0 {
		tol = validate.Tolerance
	}
	keep := opts.Keep
	if keep <= 0 {
		keep = validate.DefaultKeep
	}

	layout := cfg.Layout()
	accelLayout, _ := cfg.AccelLayout()
	rep := &Report{
		Config:      cfg,
		BufferBytes: layout.Bytes(),
		Sizes: Sizes{
			TotalSize:      layout.TotalSize(),
			AccelTotalSize: accelLayout.TotalSize(),
			LineSize:       layout.LineSize(),
		},
	}
	if cfg.AccelRows == 0 {
		rep.Sizes.AccelTotalSize = 0
	}

	var dev accel.Context
	if cfg.AccelRows > 0 {
		var err error
		dev, err = OpenDevice(opts.Device)
		if err != nil {
			return nil, err
		}
		defer dev.Close()
		info := dev.Device()
		rep.Device = &info
		log.Debug("device selected", "backend", info.Backend, "platform", info.Platform, "device", info.Name)
	}

	hybridPair, err := grid.NewPair(layout)
	if err != nil {
		return nil, err
	}
	defer hybridPair.Free()
	refPair, err := grid.NewPair(layout)
	if err != nil {
		return nil, err
	}
	defer refPair.Free()
	hybridPair.Fill(cfg.Seed)
	refPair.Fill(cfg.Seed)

	driverOpts := []hybrid.Option{hybrid.WithLogger(log)}
	if opts.Observer != nil {
		driverOpts = append(driverOpts, hybrid.WithObserver(opts.Observer))
	}
	if opts.Pool != nil {
		driverOpts = append(driverOpts, hybrid.WithPool(opts.Pool))
	}
	driver, err := hybrid.New(cfg, dev, driverOpts...)
	if err != nil {
		return nil, err
	}
	defer driver.Close()

	res, err := driver.Run(ctx, hybridPair)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	want := stencil.RunReference(refPair, cfg.Iterations)
	rep.ReferenceTime = time.Since(start)

	rep.HybridTime = res.Elapsed
	rep.CPUTime = res.CPUTime
	rep.AccelWaitTime = res.AccelWaitTime
	rep.ExchangeTime = res.ExchangeTime
	if rep.HybridTime > 0 {
		rep.Ratio = float64(rep.ReferenceTime) / float64(rep.HybridTime)
	}
	rep.HybridBytesPerSec = validate.Throughput(cfg.Iterations, rep.BufferBytes, rep.HybridTime)
	rep.ReferenceBytesPerSec = validate.Throughput(cfg.Iterations, rep.BufferBytes, rep.ReferenceTime)
	rep.Comparison = validate.Compare(want.Data, res.Final.Data, tol, keep)

	log.Debug("run complete",
		"hybrid", rep.HybridTime, "reference", rep.ReferenceTime,
		"ratio", rep.Ratio, "mismatches", rep.Comparison.Mismatches)
	return rep, nil
}
