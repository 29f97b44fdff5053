// Package probe derives device parameters from timing sweeps.
//
// Each test dispatches a family of kernels while varying one parameter and
// feeds the latencies to a jump.Finder. The parameter value at which latency
// jumps reveals a hardware limit: registers per thread, resident workgroups,
// or the top level cache line size. The bandwidth test sweeps the working
// set size instead and reports the plateaus.
package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/fxnlabs/gpuinfo/internal/bench"
	"github.com/fxnlabs/gpuinfo/internal/gpu"
	"github.com/fxnlabs/gpuinfo/internal/jump"
	"github.com/fxnlabs/gpuinfo/internal/metrics"
	"go.uber.org/zap"
)

// Test names, in the order Run executes them.
const (
	TestRegCount  = "regcount"
	TestCacheline = "cacheline"
	TestBandwidth = "bandwidth"
)

// AllTests lists every test in execution order.
var AllTests = []string{TestRegCount, TestCacheline, TestBandwidth}

// Output receives the human readable report.
type Output interface {
	// Section starts the report of one test.
	Section(title string)
	// Progress prints a free-form line.
	Progress(format string, args ...any)
	// Value prints one key,value result line.
	Value(key string, value any)
}

// Results collects the outcome of a Run. Tests that did not run are nil.
type Results struct {
	Device        gpu.DeviceInfo       `json:"device" yaml:"device"`
	RegisterCount *RegisterCountResult `json:"registerCount,omitempty" yaml:"registerCount,omitempty"`
	Cacheline     *CachelineResult     `json:"cacheline,omitempty" yaml:"cacheline,omitempty"`
	Bandwidth     *BandwidthResult     `json:"bandwidth,omitempty" yaml:"bandwidth,omitempty"`
}

// Suite runs the tests against one backend.
type Suite struct {
	harness *bench.Harness
	config  Config
	out     Output
	logger  *zap.Logger
}

// NewSuite creates a suite. The configuration is validated up front so a bad
// value never surfaces halfway through a sweep.
func NewSuite(backend gpu.Backend, cfg Config, out Output, logger *zap.Logger) (*Suite, error) {
	if backend == nil {
		return nil, fmt.Errorf("no backend to probe")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid probe configuration: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("probe")
	return &Suite{
		harness: bench.NewHarness(backend, logger),
		config:  cfg,
		out:     out,
		logger:  logger,
	}, nil
}

// Select returns the tests to run once skip is removed, in execution order.
func Select(skip []string) ([]string, error) {
	skipped := make(map[string]bool, len(skip))
	for _, name := range skip {
		if !isTest(name) {
			return nil, fmt.Errorf("unknown test %q, expected one of %v", name, AllTests)
		}
		skipped[name] = true
	}
	var tests []string
	for _, name := range AllTests {
		if !skipped[name] {
			tests = append(tests, name)
		}
	}
	return tests, nil
}

func isTest(name string) bool {
	for _, t := range AllTests {
		if t == name {
			return true
		}
	}
	return false
}

// Header prints the device properties the tests plan with.
func (s *Suite) Header() gpu.DeviceInfo {
	info := s.harness.Backend().GetDeviceInfo()
	s.out.Progress("%s (%s backend)", info.Name, info.Backend)
	s.out.Progress("")
	s.out.Value("SM count", info.ComputeUnits)
	s.out.Value("Logic Thread Count", info.MaxWorkGroupSize)
	s.out.Value("Cache Size", info.CacheSize)
	return info
}

// Run prints the device header and runs tests in execution order, whatever
// order they are given in. An empty list runs every test.
func (s *Suite) Run(ctx context.Context, tests []string) (Results, error) {
	enabled := make(map[string]bool, len(tests))
	for _, name := range tests {
		if !isTest(name) {
			return Results{}, fmt.Errorf("unknown test %q, expected one of %v", name, AllTests)
		}
		enabled[name] = true
	}
	if len(tests) == 0 {
		for _, name := range AllTests {
			enabled[name] = true
		}
	}

	results := Results{Device: s.Header()}
	for _, name := range AllTests {
		if !enabled[name] {
			s.logger.Info("Skipping test", zap.String("test", name))
			continue
		}

		start := time.Now()
		s.logger.Info("Running test", zap.String("test", name))
		var err error
		switch name {
		case TestRegCount:
			var r RegisterCountResult
			r, err = s.RegisterCount(ctx)
			results.RegisterCount = &r
		case TestCacheline:
			var r CachelineResult
			r, err = s.CachelineSize(ctx)
			results.Cacheline = &r
		case TestBandwidth:
			var r BandwidthResult
			r, err = s.Bandwidth(ctx)
			results.Bandwidth = &r
		}
		if err != nil {
			return results, fmt.Errorf("%s test failed: %w", name, err)
		}

		elapsed := time.Since(start)
		metrics.TestDuration.WithLabelValues(name).Set(elapsed.Seconds())
		s.logger.Info("Test completed", zap.String("test", name), zap.Duration("duration", elapsed))
	}
	return results, nil
}

// sweep measures v = from, from+step, ... to and feeds the latencies to a new
// finder. It returns the value whose latency jumped, or false when the sweep
// ran out first.
func (s *Suite) sweep(test string, cfg jump.Config, from, to, step uint32, measure func(v uint32) (float64, error)) (uint32, bool, error) {
	finder, err := jump.NewFinder(cfg)
	if err != nil {
		return 0, false, err
	}
	samples := metrics.SweepSamples.WithLabelValues(test)
	for v := from; v <= to; v += step {
		t, err := measure(v)
		if err != nil {
			return 0, false, err
		}
		samples.Inc()
		if finder.Push(t) {
			cp, _ := finder.ChangePoint()
			metrics.JumpsDetected.WithLabelValues(test).Inc()
			s.logger.Debug("Jump detected",
				zap.String("test", test),
				zap.Uint32("value", v),
				zap.Float64("latency_us", cp.Value),
				zap.Float64("window_mean_us", cp.Mean),
				zap.Float64("window_deviation_us", cp.Deviation))
			return v, true, nil
		}
		// guard against wrapping past MaxUint32
		if to-v < step {
			break
		}
	}
	return 0, false, nil
}

// calibrate picks the iteration count, job's first push constant, with
// bench.EnsureMinNiter.
func (s *Suite) calibrate(ctx context.Context, job gpu.Job, minMicros float64, repeats int) (uint32, error) {
	niter, err := bench.EnsureMinNiter(minMicros, func(niter uint32) (float64, error) {
		job.Push[0] = niter
		return s.harness.Time(ctx, job, repeats)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to calibrate %s: %w", job.Kernel, err)
	}
	return niter, nil
}

func freeAll(log *zap.Logger, buffers ...gpu.Buffer) {
	for _, b := range buffers {
		if err := b.Free(); err != nil {
			log.Warn("Failed to free buffer", zap.Error(err))
		}
	}
}
