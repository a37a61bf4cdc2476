package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/hybridstencil/internal/harness"
	"github.com/samcharles93/hybridstencil/internal/logger"
	"github.com/samcharles93/hybridstencil/internal/stencil"
	"github.com/samcharles93/hybridstencil/internal/sweep"
)

func sweepCmd() *cli.Command {
	var (
		plan    = sweep.DefaultPlan()
		output  string
		jsonOut bool
	)

	return &cli.Command{
		Name:  "sweep",
		Usage: "Measure the speedup over a range of iteration counts and partition sizes",
		Flags: concatFlags(workerFlags(), deviceFlags(), []cli.Flag{
			&cli.IntFlag{
				Name:        "size",
				Usage:       "grid edge length (the grid is size x size)",
				Value:       plan.Size,
				Destination: &plan.Size,
			},
			&cli.IntFlag{
				Name:        "max-iterations",
				Usage:       "largest iteration count",
				Value:       plan.MaxIterations,
				Destination: &plan.MaxIterations,
			},
			&cli.IntFlag{
				Name:        "iteration-step",
				Usage:       "iteration count increment",
				Value:       plan.IterationStep,
				Destination: &plan.IterationStep,
			},
			&cli.IntFlag{
				Name:        "accel-step",
				Usage:       "accelerator row count increment",
				Value:       plan.AccelStep,
				Destination: &plan.AccelStep,
			},
			&cli.IntFlag{
				Name:        "repeat",
				Usage:       "runs averaged per point",
				Value:       plan.Repeat,
				Destination: &plan.Repeat,
			},
			&cli.StringFlag{
				Name:        "output",
				Aliases:     []string{"o"},
				Usage:       "result file, - for stdout",
				Value:       "sweep.dat",
				Destination: &output,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "write JSON instead of the tab separated .dat format",
				Destination: &jsonOut,
			},
		}),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyRunConfig(cmd, loadedConfig)
			if err := plan.Validate(); err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			w := io.Writer(os.Stdout)
			if output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: create output: %v", err), 1)
				}
				defer f.Close()
				w = f
			}

			pool := stencil.NewPool(workers)
			defer pool.Close()

			xdim, ydim, iterations = plan.Size, plan.Size, 1
			base, err := harnessOptions(0)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			base.Pool = pool
			runner := func(ctx context.Context, pt sweep.Point) (float64, error) {
				opts := base
				opts.Config.Iterations = pt.Iterations
				opts.Config.AccelRows = pt.AccelRows
				rep, err := harness.Run(ctx, opts)
				if err != nil {
					return 0, err
				}
				if n := rep.Comparison.Mismatches; n > 0 {
					log.Warn("result mismatch", "iterations", pt.Iterations, "accel_rows", pt.AccelRows, "mismatches", n)
				}
				return rep.Ratio, nil
			}

			start := time.Now()
			var sink func(sweep.Result)
			if !jsonOut {
				if err := sweep.WriteDatHeader(w, plan, start); err != nil {
					return cli.Exit(fmt.Sprintf("error: write output: %v", err), 1)
				}
				sink = func(r sweep.Result) {
					if err := sweep.WriteDatRow(w, r); err != nil {
						log.Error("write result", "error", err)
					}
				}
			}

			total := len(plan.Points())
			done := 0
			progress := func(r sweep.Result) {
				done++
				log.Info("point measured", "point", fmt.Sprintf("%d/%d", done, total),
					"iterations", r.Iterations, "accel_rows", r.AccelRows,
					"speedup", r.Speedup, "stddev", r.StdDev)
				if sink != nil {
					sink(r)
				}
			}

			results, err := sweep.Run(ctx, plan, runner, progress)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: sweep: %v", err), 1)
			}
			end := time.Now()
			if jsonOut {
				err = sweep.WriteJSON(w, plan, results, start, end)
			} else {
				err = sweep.WriteDatFooter(w, end)
			}
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: write output: %v", err), 1)
			}
			return nil
		},
	}
}
