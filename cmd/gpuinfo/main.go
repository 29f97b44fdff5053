package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fxnlabs/gpuinfo/internal/config"
	"github.com/fxnlabs/gpuinfo/internal/logger"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

// options are the global flags that override the configuration file.
type options struct {
	configPath  string
	backend     string
	verbosity   string
	format      string
	metricsFile string
	skip        cli.StringSlice
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rootLogger *zap.Logger
	app := newApp(&rootLogger)
	if err := app.RunContext(ctx, os.Args); err != nil {
		if rootLogger != nil {
			rootLogger.Fatal("failed to run app", zap.Error(err))
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
}

func newApp(rootLogger **zap.Logger) *cli.App {
	var opts options
	var cfg *config.Config

	app := &cli.App{
		Name:  "gpuinfo",
		Usage: "Characterize a compute device by timing parameter sweeps",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to a YAML configuration file",
				EnvVars:     []string{"GPUINFO_CONFIG"},
				Destination: &opts.configPath,
			},
			&cli.StringFlag{
				Name:        "backend",
				Usage:       "Device backend: auto, cpu or sim",
				Destination: &opts.backend,
			},
			&cli.StringFlag{
				Name:        "verbosity",
				Usage:       "Log level: debug, info, warn or error",
				Destination: &opts.verbosity,
			},
			&cli.StringFlag{
				Name:        "format",
				Usage:       "Report format: csv or yaml",
				Destination: &opts.format,
			},
			&cli.StringFlag{
				Name:        "metrics-file",
				Usage:       "Write Prometheus metrics of the run to this file",
				Destination: &opts.metricsFile,
			},
			&cli.StringSliceFlag{
				Name:        "skip",
				Usage:       "Skip a test (regcount, cacheline, bandwidth); repeatable",
				Destination: &opts.skip,
			},
		},
		Before: func(c *cli.Context) error {
			var err error
			cfg, err = config.LoadConfig(opts.configPath)
			if err != nil {
				return err
			}
			opts.apply(cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			zapLogger, err := logger.New(cfg.Logger.Verbosity, logger.WithEncoding(cfg.Logger.Encoding))
			if err != nil {
				return err
			}
			*rootLogger = zapLogger.Named("cli")
			return nil
		},
		After: func(c *cli.Context) error {
			if *rootLogger != nil {
				_ = (*rootLogger).Sync()
			}
			return nil
		},
	}

	env := func() *environment {
		return &environment{cfg: cfg, log: *rootLogger, stdout: app.Writer, stderr: app.ErrWriter}
	}
	app.Action = func(c *cli.Context) error {
		return env().runAll(c.Context)
	}
	app.Commands = []*cli.Command{
		runCommand(env),
		testCommand(env, "regcount", "Find registers per thread and the register file type"),
		testCommand(env, "cacheline", "Find the top level buffer cache line size"),
		testCommand(env, "bandwidth", "Measure memory bandwidth over growing working sets"),
		infoCommand(env),
		configCommands(),
	}
	return app
}

func (o *options) apply(cfg *config.Config) {
	if o.backend != "" {
		cfg.Backend.Name = o.backend
	}
	if o.verbosity != "" {
		cfg.Logger.Verbosity = o.verbosity
	}
	if o.format != "" {
		cfg.Report.Format = o.format
	}
	if o.metricsFile != "" {
		cfg.Metrics.Textfile = o.metricsFile
	}
	cfg.Tests.Skip = append(cfg.Tests.Skip, o.skip.Value()...)
}

// environment is what every command needs once Before has run.
type environment struct {
	cfg    *config.Config
	log    *zap.Logger
	stdout io.Writer
	stderr io.Writer
}
