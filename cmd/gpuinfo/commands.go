package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/dustin/go-humanize"
	"github.com/fxnlabs/gpuinfo/fixtures"
	"github.com/fxnlabs/gpuinfo/internal/app"
	"github.com/fxnlabs/gpuinfo/internal/gpu"
	"github.com/fxnlabs/gpuinfo/internal/metrics"
	"github.com/fxnlabs/gpuinfo/internal/probe"
	"github.com/fxnlabs/gpuinfo/internal/report"
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func runCommand(env func() *environment) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run every test that is not skipped (default)",
		Action: func(c *cli.Context) error {
			return env().runAll(c.Context)
		},
	}
}

func testCommand(env func() *environment, test, usage string) *cli.Command {
	return &cli.Command{
		Name:  test,
		Usage: usage,
		Action: func(c *cli.Context) error {
			return env().run(c.Context, []string{test})
		},
	}
}

func (e *environment) runAll(ctx context.Context) error {
	tests, err := probe.Select(e.cfg.Tests.Skip)
	if err != nil {
		return err
	}
	if len(tests) == 0 {
		e.log.Warn("Every test is skipped")
		return nil
	}
	return e.run(ctx, tests)
}

func (e *environment) run(ctx context.Context, tests []string) error {
	// the YAML document owns stdout, so progress moves to stderr
	out := report.NewWriter(e.stdout)
	if e.cfg.Report.Format == report.FormatYAML {
		out = report.NewProgressWriter(e.stderr)
	}

	var suite *probe.Suite
	fxApp := fx.New(
		app.Options(e.cfg, e.log, out),
		fx.Populate(&suite),
	)
	if err := fxApp.Err(); err != nil {
		return fmt.Errorf("failed to assemble application: %w", err)
	}
	if err := fxApp.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := fxApp.Stop(context.Background()); err != nil {
			e.log.Warn("failed to stop application", zap.Error(err))
		}
	}()

	results, err := suite.Run(ctx, tests)
	if err != nil {
		return err
	}
	if err := out.Err(); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	if e.cfg.Report.Format == report.FormatYAML {
		if err := report.WriteYAML(e.stdout, report.NewDocument(results, time.Now())); err != nil {
			return err
		}
	}

	if path := e.cfg.Metrics.Textfile; path != "" {
		if err := metrics.WriteTextfile(path); err != nil {
			return err
		}
		e.log.Info("Metrics written", zap.String("path", path))
	}
	return nil
}

func infoCommand(env func() *environment) *cli.Command {
	return &cli.Command{
		Name:  "info",
		Usage: "Show the device the tests would run on and the host GPU inventory",
		Action: func(c *cli.Context) error {
			e := env()
			manager, err := gpu.NewManager(e.log.Named("gpu"), e.cfg.Backend.ManagerOptions())
			if err != nil {
				return err
			}
			defer manager.Cleanup()

			w := e.stdout
			fmt.Fprintln(w, figure.NewFigure("gpuinfo", "", true).String())
			info := manager.GetDeviceInfo()
			fmt.Fprintf(w, "Device: %s\n", info.Name)
			fmt.Fprintf(w, "Backend: %s\n", manager.GetBackendType())
			fmt.Fprintf(w, "Compute units: %d\n", info.ComputeUnits)
			fmt.Fprintf(w, "Max workgroup size: %d\n", info.MaxWorkGroupSize)
			fmt.Fprintf(w, "Cache size: %s\n", humanize.IBytes(uint64(info.CacheSize)))
			if info.TotalMemory > 0 {
				fmt.Fprintf(w, "Total memory: %s\n", humanize.IBytes(uint64(info.TotalMemory)))
			}
			if info.DriverVersion != "" {
				fmt.Fprintf(w, "Driver: %s\n", info.DriverVersion)
			}

			hostGPUs, err := gpu.QuerySMI(c.Context, e.log)
			if err != nil {
				e.log.Warn("failed to query host GPUs", zap.Error(err))
				return nil
			}
			if len(hostGPUs) == 0 {
				return nil
			}
			fmt.Fprintln(w)
			fmt.Fprintln(w, "Host GPUs:")
			for _, g := range hostGPUs {
				fmt.Fprintf(w, "  [%d] %s, driver %s, %s / %s used, %d%% busy\n",
					g.Index, g.Name, g.DriverVersion,
					humanize.IBytes(uint64(g.MemoryUsedMB)<<20),
					humanize.IBytes(uint64(g.MemoryTotalMB)<<20),
					g.UtilizationGP)
			}
			return nil
		},
	}
}

func configCommands() *cli.Command {
	var out string
	var force bool
	return &cli.Command{
		Name:  "config",
		Usage: "Manage the configuration file",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Write the default configuration",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "out",
						Aliases:     []string{"o"},
						Usage:       "Destination file; stdout when empty",
						Destination: &out,
					},
					&cli.BoolFlag{
						Name:        "force",
						Usage:       "Overwrite an existing file",
						Destination: &force,
					},
				},
				Action: func(c *cli.Context) error {
					if out == "" {
						_, err := c.App.Writer.Write(fixtures.ConfigTemplate)
						return err
					}
					if _, err := os.Stat(out); err == nil && !force {
						return fmt.Errorf("%s already exists, use --force to overwrite it", out)
					} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
						return err
					}
					if err := os.WriteFile(out, fixtures.ConfigTemplate, 0o644); err != nil {
						return fmt.Errorf("failed to write %s: %w", out, err)
					}
					fmt.Fprintf(c.App.Writer, "Configuration written to %s\n", out)
					return nil
				},
			},
		},
	}
}
