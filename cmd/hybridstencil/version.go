package main

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/hybridstencil/internal/accel"
	"github.com/samcharles93/hybridstencil/internal/version"
)

func versionCmd() *cli.Command {
	var jsonOut bool

	return &cli.Command{
		Name:  "version",
		Usage: "Print version information",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print as JSON",
				Destination: &jsonOut,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			info := version.Resolve()
			if jsonOut {
				data, err := json.Marshal(struct {
					version.Info
					Backends []string `json:"backends"`
				}{info, accel.Names()})
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				fmt.Println(string(data))
				return nil
			}
			fmt.Printf("version:    %s\n", info.Version)
			if info.Commit != "" {
				fmt.Printf("commit:     %s\n", info.Commit)
			}
			if info.BuildTime != "" {
				fmt.Printf("build time: %s\n", info.BuildTime)
			}
			fmt.Printf("go:         %s %s\n", info.GoVersion, info.Platform)
			fmt.Printf("backends:   %v\n", accel.Names())
			return nil
		},
	}
}
