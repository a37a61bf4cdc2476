package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/hybridstencil/internal/accel"
	"github.com/samcharles93/hybridstencil/internal/harness"
	"github.com/samcharles93/hybridstencil/internal/hybrid"
	"github.com/samcharles93/hybridstencil/internal/logger"
)

var errConflictingResources = errors.New("--cpu-only and --gpu-only are mutually exclusive")

func runCmd() *cli.Command {
	var (
		cpuOnly bool
		gpuOnly bool
		verbose bool
		jsonOut bool
	)

	return &cli.Command{
		Name:  "run",
		Usage: "Run the hybrid stencil once and compare it with the reference",
		Flags: concatFlags(gridFlags(), workerFlags(), deviceFlags(), []cli.Flag{
			&cli.BoolFlag{
				Name:        "cpu-only",
				Usage:       "compute every row on the host",
				Destination: &cpuOnly,
			},
			&cli.BoolFlag{
				Name:        "gpu-only",
				Usage:       "compute every row on the accelerator",
				Destination: &gpuOnly,
			},
			&cli.BoolFlag{
				Name:        "verbose",
				Aliases:     []string{"v"},
				Usage:       "print devices, sizes, mismatches, and throughput",
				Destination: &verbose,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print the full report as JSON",
				Destination: &jsonOut,
			},
		}),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyRunConfig(cmd, loadedConfig)

			rows, err := resolvePartition(cpuOnly, gpuOnly, ydim, accelRows)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			opts, err := harnessOptions(rows)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			opts.Logger = log

			if verbose && rows > 0 {
				if err := printDevices(os.Stdout, opts.Device.Backend); err != nil {
					return cli.Exit(fmt.Sprintf("error: enumerate devices: %v", err), 1)
				}
			}

			log.Debug("starting run", "xdim", xdim, "ydim", ydim, "accel_rows", rows, "iterations", iterations)
			rep, err := harness.Run(ctx, opts)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: run: %v", err), 1)
			}

			mode := outputQuiet
			switch {
			case jsonOut:
				mode = outputJSON
			case verbose:
				mode = outputVerbose
			}
			return writeReport(os.Stdout, os.Stderr, rep, mode)
		},
	}
}

// resolvePartition applies --cpu-only and --gpu-only to the requested
// accelerator row count.
func resolvePartition(cpuOnly, gpuOnly bool, ydim, rows int) (int, error) {
	switch {
	case cpuOnly && gpuOnly:
		return 0, errConflictingResources
	case cpuOnly:
		return 0, nil
	case gpuOnly:
		return ydim, nil
	default:
		return rows, nil
	}
}

// harnessOptions builds run options from the flag variables.
func harnessOptions(rows int) (harness.Options, error) {
	cfg := hybrid.Config{
		XDim:       xdim,
		YDim:       ydim,
		AccelRows:  rows,
		Iterations: iterations,
		Workers:    workers,
		Seed:       seed,
	}
	if err := cfg.Validate(); err != nil {
		return harness.Options{}, err
	}
	dt, ok := accel.ParseDeviceType(deviceType)
	if !ok {
		return harness.Options{}, fmt.Errorf("unknown device type %q (expected all, gpu, cpu, or accelerator)", deviceType)
	}
	name, err := accel.Normalize(backend)
	if err != nil {
		return harness.Options{}, err
	}
	return harness.Options{
		Config: cfg,
		Device: harness.DeviceOptions{
			Backend:    name,
			Vendor:     vendor,
			DeviceType: dt,
			KernelPath: kernelPath,
		},
	}, nil
}

type outputMode int

const (
	outputQuiet outputMode = iota
	outputVerbose
	outputJSON
)

// writeReport prints rep to stdout in the requested mode. A non-zero
// mismatch count is always reported on stderr.
func writeReport(stdout, stderr io.Writer, rep *harness.Report, mode outputMode) error {
	switch mode {
	case outputJSON:
		data, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return cli.Exit(fmt.Sprintf("error: encode report: %v", err), 1)
		}
		_, _ = fmt.Fprintf(stdout, "%s\n", data)
	case outputVerbose:
		writeVerbose(stdout, rep)
	default:
		_, _ = fmt.Fprintf(stdout, "%f\n", rep.Ratio)
	}
	if n := rep.Comparison.Mismatches; n > 0 {
		_, _ = fmt.Fprintf(stderr, "%d mismatches out of %d cells\n", n, rep.Comparison.Cells)
	}
	return nil
}

func writeVerbose(w io.Writer, rep *harness.Report) {
	cfg := rep.Config
	if rep.Device != nil {
		_, _ = fmt.Fprintf(w, "using %s device %q on platform %q\n", rep.Device.Backend, rep.Device.Name, rep.Device.Platform)
	}
	_, _ = fmt.Fprintf(w, "grid %dx%d, %d host rows, %d accelerator rows, %d iterations\n",
		cfg.XDim, cfg.YDim, cfg.CPURows(), cfg.AccelRows, cfg.Iterations)
	_, _ = fmt.Fprintf(w, "TOTALSIZE=%d TOTALSIZE_GPU=%d LINESIZE=%d\n",
		rep.Sizes.TotalSize, rep.Sizes.AccelTotalSize, rep.Sizes.LineSize)
	for _, m := range rep.Comparison.First {
		_, _ = fmt.Fprintf(w, "[%d] %f vs %f\n", m.Index, m.Actual, m.Reference)
	}
	_, _ = fmt.Fprintf(w, "hybrid:    %s (%.2f GB/s)\n", rep.HybridTime.Round(time.Microsecond), rep.HybridBytesPerSec/1e9)
	_, _ = fmt.Fprintf(w, "  host:    %s\n", rep.CPUTime.Round(time.Microsecond))
	_, _ = fmt.Fprintf(w, "  wait:    %s\n", rep.AccelWaitTime.Round(time.Microsecond))
	_, _ = fmt.Fprintf(w, "  halo:    %s\n", rep.ExchangeTime.Round(time.Microsecond))
	_, _ = fmt.Fprintf(w, "reference: %s (%.2f GB/s)\n", rep.ReferenceTime.Round(time.Microsecond), rep.ReferenceBytesPerSec/1e9)
	_, _ = fmt.Fprintf(w, "ratio:     %f\n", rep.Ratio)
}
