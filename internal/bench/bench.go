// Package bench times kernel dispatches on a gpu.Backend.
package bench

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/fxnlabs/gpuinfo/internal/gpu"
	"github.com/fxnlabs/gpuinfo/internal/metrics"
	"go.uber.org/zap"
)

const (
	// StartNiter is the iteration count EnsureMinNiter starts from.
	StartNiter = 100
	// MaxNiterAttempts bounds the number of calibration runs.
	MaxNiterAttempts = 100
)

// Harness dispatches jobs on a backend and reports their mean latency.
type Harness struct {
	backend gpu.Backend
	logger  *zap.Logger
}

// NewHarness creates a harness driving backend.
func NewHarness(backend gpu.Backend, logger *zap.Logger) *Harness {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Harness{
		backend: backend,
		logger:  logger,
	}
}

// Backend returns the backend the harness dispatches on.
func (h *Harness) Backend() gpu.Backend {
	return h.backend
}

// Time dispatches job once to warm up, then repeats times, and returns the
// mean latency of the timed dispatches in microseconds.
func (h *Harness) Time(ctx context.Context, job gpu.Job, repeats int) (float64, error) {
	if repeats < 1 {
		return 0, fmt.Errorf("repeats must be positive, got %d", repeats)
	}
	if _, err := h.backend.Dispatch(ctx, job); err != nil {
		return 0, fmt.Errorf("warm-up dispatch of %s failed: %w", job.Kernel, err)
	}

	observer := metrics.DispatchDuration.WithLabelValues(gpu.KernelFamily(job.Kernel))
	var total time.Duration
	for i := 0; i < repeats; i++ {
		elapsed, err := h.backend.Dispatch(ctx, job)
		if err != nil {
			return 0, fmt.Errorf("dispatch %d of %s failed: %w", i, job.Kernel, err)
		}
		observer.Observe(micros(elapsed))
		total += elapsed
	}

	mean := micros(total) / float64(repeats)
	h.logger.Debug("Timed kernel",
		zap.String("kernel", job.Kernel),
		zap.Int("repeats", repeats),
		zap.Float64("mean_us", mean))
	return mean, nil
}

// EnsureMinNiter finds an iteration count for which run takes at least
// minMicros. run returns the latency in microseconds of a kernel executing
// niter iterations. Each attempt rescales niter by the ratio of the target to
// the measured latency, and at least doubles it.
func EnsureMinNiter(minMicros float64, run func(niter uint32) (float64, error)) (uint32, error) {
	if minMicros <= 0 {
		return 0, fmt.Errorf("minimum time must be positive, got %v", minMicros)
	}

	niter := uint32(StartNiter)
	for attempt := 0; attempt < MaxNiterAttempts; attempt++ {
		t, err := run(niter)
		if err != nil {
			return 0, err
		}
		if t >= minMicros {
			return niter, nil
		}

		next := 2 * float64(niter)
		if t > 0 {
			next = math.Max(next, math.Ceil(float64(niter)*minMicros/t))
		}
		if next > math.MaxUint32 {
			return 0, fmt.Errorf("kernel still takes %.3f us at %d iterations, below the %.0f us minimum", t, niter, minMicros)
		}
		niter = uint32(next)
	}
	return 0, fmt.Errorf("no iteration count reached %.0f us after %d attempts", minMicros, MaxNiterAttempts)
}

func micros(d time.Duration) float64 {
	return float64(d) / float64(time.Microsecond)
}
