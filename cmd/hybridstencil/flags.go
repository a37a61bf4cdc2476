package main

import (
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/hybridstencil/internal/accel"
	"github.com/samcharles93/hybridstencil/internal/hybrid"
)

var (
	xdim       int
	ydim       int
	accelRows  int
	iterations int
	workers    int
	seed       int64

	backend    string
	vendor     string
	deviceType string
	kernelPath string

	configFile string
	logLevel   string
	logFormat  string
	debug      bool
)

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config.yaml (default ~/.config/hybridstencil/config.yaml)",
			Destination: &configFile,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func gridFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "xdim",
			Usage:       "logical grid width",
			Value:       hybrid.DefaultXDim,
			Destination: &xdim,
		},
		&cli.IntFlag{
			Name:        "ydim",
			Usage:       "logical grid height",
			Value:       hybrid.DefaultYDim,
			Destination: &ydim,
		},
		&cli.IntFlag{
			Name:        "accel-rows",
			Aliases:     []string{"ydim-gpu"},
			Usage:       "rows computed on the accelerator, counted from the bottom",
			Value:       hybrid.DefaultAccelRows,
			Destination: &accelRows,
		},
		&cli.IntFlag{
			Name:        "iterations",
			Aliases:     []string{"n"},
			Usage:       "number of stencil iterations",
			Value:       hybrid.DefaultIterations,
			Destination: &iterations,
		},
	}
}

func workerFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "workers",
			Aliases:     []string{"threads"},
			Usage:       "host worker goroutines (0 = GOMAXPROCS)",
			Destination: &workers,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "seed of the initial grid contents",
			Value:       hybrid.DefaultSeed,
			Destination: &seed,
		},
	}
}

func deviceFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "accelerator backend (auto, emulated, opencl)",
			Value:       accel.Auto,
			Destination: &backend,
		},
		&cli.StringFlag{
			Name:        "vendor",
			Usage:       "preferred platform vendor",
			Value:       "NVIDIA",
			Destination: &vendor,
		},
		&cli.StringFlag{
			Name:        "device-type",
			Usage:       "device class to use (all, gpu, cpu, accelerator)",
			Value:       "all",
			Destination: &deviceType,
		},
		&cli.StringFlag{
			Name:        "kernel",
			Usage:       "path to the stencil kernel source",
			Value:       accel.DefaultKernelPath,
			Destination: &kernelPath,
		},
	}
}

func concatFlags(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
