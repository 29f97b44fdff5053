// Package app assembles gpuinfo with fx.
package app

import (
	"context"

	"github.com/fxnlabs/gpuinfo/internal/config"
	"github.com/fxnlabs/gpuinfo/internal/gpu"
	"github.com/fxnlabs/gpuinfo/internal/probe"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Module provides the device manager and the probe suite. It expects a
// *config.Config, a *zap.Logger and a probe.Output.
var Module = fx.Module("gpuinfo",
	fx.Provide(
		NewManager,
		NewSuite,
	),
)

// Options supplies the dependencies Module expects.
func Options(cfg *config.Config, log *zap.Logger, out probe.Output) fx.Option {
	return fx.Options(
		fx.Supply(cfg, log),
		fx.Provide(func() probe.Output { return out }),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			l := &fxevent.ZapLogger{Logger: log.Named("fx")}
			l.UseLogLevel(zapcore.DebugLevel)
			return l
		}),
		Module,
	)
}

// NewManager initializes the configured backend and releases it when the
// application stops.
func NewManager(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (*gpu.Manager, error) {
	manager, err := gpu.NewManager(log.Named("gpu"), cfg.Backend.ManagerOptions())
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return manager.Cleanup()
		},
	})
	log.Info("Backend ready",
		zap.String("backend", manager.GetBackendType()),
		zap.String("device", manager.GetDeviceInfo().Name))
	return manager, nil
}

// NewSuite creates the probe suite on the manager's backend.
func NewSuite(cfg *config.Config, manager *gpu.Manager, out probe.Output, log *zap.Logger) (*probe.Suite, error) {
	return probe.NewSuite(manager.Backend(), cfg.Probes, out, log)
}
