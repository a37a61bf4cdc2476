package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/hybridstencil/internal/accel"
	"github.com/samcharles93/hybridstencil/internal/harness"
)

func devicesCmd() *cli.Command {
	var (
		all     bool
		jsonOut bool
	)

	return &cli.Command{
		Name:  "devices",
		Usage: "List the devices of the accelerator backends",
		Flags: concatFlags(deviceFlags(), []cli.Flag{
			&cli.BoolFlag{
				Name:        "all",
				Usage:       "list every backend compiled into this binary",
				Destination: &all,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print devices as JSON",
				Destination: &jsonOut,
			},
		}),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyDeviceConfig(cmd, loadedConfig)

			names := []string{backend}
			if all {
				names = accel.Names()
			}
			var devs []accel.DeviceInfo
			for _, name := range names {
				_, found, err := harness.ListDevices(name)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				devs = append(devs, found...)
			}

			if jsonOut {
				data, err := json.MarshalIndent(devs, "", "  ")
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: encode devices: %v", err), 1)
				}
				_, _ = fmt.Fprintf(os.Stdout, "%s\n", data)
				return nil
			}
			writeDevices(os.Stdout, devs)
			return nil
		},
	}
}

// printDevices writes the device table of one backend.
func printDevices(w io.Writer, name string) error {
	_, devs, err := harness.ListDevices(name)
	if err != nil {
		return err
	}
	writeDevices(w, devs)
	return nil
}

func writeDevices(w io.Writer, devs []accel.DeviceInfo) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "BACKEND\tINDEX\tPLATFORM\tVENDOR\tDEVICE\tTYPE\tUNITS\tFEATURES")
	for _, d := range devs {
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t%d\t%s\n",
			d.Backend, d.Index, d.Platform, d.Vendor, d.Name, d.Type, d.ComputeUnits, strings.Join(d.Features, ","))
	}
	_ = tw.Flush()
}
