package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the configuration file
// (~/.config/hybridstencil/config.yaml). Numeric fields are pointers so
// "not set" is distinguishable from zero.
type Config struct {
	XDim       *int   `yaml:"xdim"`
	YDim       *int   `yaml:"ydim"`
	AccelRows  *int   `yaml:"accel_rows"`
	Iterations *int   `yaml:"iterations"`
	Workers    *int   `yaml:"workers"`
	Seed       *int64 `yaml:"seed"`

	// Device selection
	Backend    string `yaml:"backend"`
	Vendor     string `yaml:"vendor"`
	DeviceType string `yaml:"device_type"`
	Kernel     string `yaml:"kernel"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress    string `yaml:"server_address"`
	MaxRunsPerMinute *int   `yaml:"max_runs_per_minute"`
}

// loadedConfig is populated by the root command before any subcommand runs.
var loadedConfig Config

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "hybridstencil", "config.yaml")
}

// LoadConfig reads the config file at path, or at the default location when
// path is empty. A missing file yields a zero Config; a file that exists but
// cannot be parsed is an error.
func LoadConfig(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = configPath()
		if path == "" {
			return Config{}, nil
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// applyLoggingConfig applies config file defaults to the logging flags.
func applyLoggingConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyRunConfig applies config file defaults to the grid, worker, and
// device variables when the corresponding flag was not explicitly set.
func applyRunConfig(c *cli.Command, cfg Config) {
	setInt := func(dst *int, v *int, names ...string) {
		if v == nil {
			return
		}
		for _, n := range names {
			if c.IsSet(n) {
				return
			}
		}
		*dst = *v
	}
	setInt(&xdim, cfg.XDim, "xdim")
	setInt(&ydim, cfg.YDim, "ydim")
	setInt(&accelRows, cfg.AccelRows, "accel-rows", "ydim-gpu")
	setInt(&iterations, cfg.Iterations, "iterations", "n")
	setInt(&workers, cfg.Workers, "workers", "threads")
	if cfg.Seed != nil && !c.IsSet("seed") {
		seed = *cfg.Seed
	}
	applyDeviceConfig(c, cfg)
}

// applyDeviceConfig applies config file defaults to the device selection
// flags.
func applyDeviceConfig(c *cli.Command, cfg Config) {
	if cfg.Backend != "" && !c.IsSet("backend") {
		backend = cfg.Backend
	}
	if cfg.Vendor != "" && !c.IsSet("vendor") {
		vendor = cfg.Vendor
	}
	if cfg.DeviceType != "" && !c.IsSet("device-type") {
		deviceType = cfg.DeviceType
	}
	if cfg.Kernel != "" && !c.IsSet("kernel") {
		kernelPath = cfg.Kernel
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string, perMinute *int) {
	applyRunConfig(c, cfg)
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
	if cfg.MaxRunsPerMinute != nil && !c.IsSet("max-runs-per-minute") {
		*perMinute = *cfg.MaxRunsPerMinute
	}
}
