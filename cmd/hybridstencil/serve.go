package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/hybridstencil/internal/api"
	"github.com/samcharles93/hybridstencil/internal/logger"
)

func serveCmd() *cli.Command {
	var (
		addr          string
		readTimeout   time.Duration
		runsPerMinute int
		queueSize     int
		maxCells      int
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the run API",
		Flags: concatFlags(gridFlags(), workerFlags(), deviceFlags(), []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.IntFlag{
				Name:        "max-runs-per-minute",
				Usage:       "submission rate limit (0 = unlimited)",
				Value:       6,
				Destination: &runsPerMinute,
			},
			&cli.IntFlag{
				Name:        "queue-size",
				Usage:       "runs that may wait for the runner",
				Value:       api.DefaultQueueSize,
				Destination: &queueSize,
			},
			&cli.IntFlag{
				Name:        "max-cells",
				Usage:       "largest padded grid a submission may request",
				Value:       api.DefaultMaxCells,
				Destination: &maxCells,
			},
		}),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyServeConfig(cmd, loadedConfig, &addr, &runsPerMinute)

			defaults, err := harnessOptions(accelRows)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			server := api.NewServer(api.Options{
				Defaults: api.RunRequest{
					Config:     defaults.Config,
					Backend:    defaults.Device.Backend,
					Vendor:     vendor,
					DeviceType: deviceType,
				},
				Device:        defaults.Device,
				RunsPerMinute: runsPerMinute,
				QueueSize:     queueSize,
				MaxCells:      maxCells,
				Workers:       workers,
				Logger:        log,
			})
			server.Start(ctx)
			defer server.Wait()

			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr, "backend", defaults.Device.Backend)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
