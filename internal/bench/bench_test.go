package bench

import (
	"context"
	"errors"
	"testing"

	"github.com/fxnlabs/gpuinfo/internal/gpu"
	"github.com/fxnlabs/gpuinfo/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newSim(t *testing.T) *gpu.SimBackend {
	t.Helper()
	backend := gpu.NewSimBackend(zap.NewNop(), gpu.DefaultSimProfile())
	require.NoError(t, backend.Initialize())
	t.Cleanup(func() { _ = backend.Cleanup() })
	return backend
}

func regCountJob(t *testing.T, backend gpu.Backend, nreg, niter uint32) gpu.Job {
	t.Helper()
	out, err := backend.NewBuffer(1)
	require.NoError(t, err)
	return gpu.Job{
		Kernel:  gpu.RegCountKernel(nreg),
		Global:  gpu.Dim3{1, 1, 1},
		Local:   gpu.Dim3{1, 1, 1},
		Push:    []uint32{niter},
		Buffers: []gpu.Buffer{out},
	}
}

func TestHarness_Time(t *testing.T) {
	backend := newSim(t)
	h := NewHarness(backend, nil)
	assert.Same(t, backend, h.Backend())

	before := testutil.CollectAndCount(metrics.DispatchDuration)

	// 1000 iterations at 2ns each
	mean, err := h.Time(context.Background(), regCountJob(t, backend, 8, 1000), 10)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, mean, 1e-9)

	// one warm-up plus ten timed dispatches
	assert.Equal(t, 11, backend.Dispatches())
	assert.GreaterOrEqual(t, testutil.CollectAndCount(metrics.DispatchDuration), before)
}

func TestHarness_TimeErrors(t *testing.T) {
	backend := newSim(t)
	h := NewHarness(backend, zap.NewNop())

	_, err := h.Time(context.Background(), regCountJob(t, backend, 8, 1000), 0)
	assert.Error(t, err)

	_, err = h.Time(context.Background(), gpu.Job{Kernel: "unknown"}, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "warm-up dispatch")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = h.Time(ctx, regCountJob(t, backend, 8, 1000), 3)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEnsureMinNiter(t *testing.T) {
	t.Run("rescales to the target", func(t *testing.T) {
		var calls []uint32
		niter, err := EnsureMinNiter(1024, func(niter uint32) (float64, error) {
			calls = append(calls, niter)
			return float64(niter) / 64, nil
		})
		require.NoError(t, err)
		assert.Equal(t, uint32(65536), niter)
		assert.Equal(t, []uint32{StartNiter, 65536}, calls)
	})

	t.Run("first run long enough", func(t *testing.T) {
		niter, err := EnsureMinNiter(10, func(uint32) (float64, error) { return 50, nil })
		require.NoError(t, err)
		assert.Equal(t, uint32(StartNiter), niter)
	})

	t.Run("at least doubles", func(t *testing.T) {
		var calls []uint32
		niter, err := EnsureMinNiter(100, func(niter uint32) (float64, error) {
			calls = append(calls, niter)
			// latency grows much faster than linearly past 300 iterations
			if niter > 300 {
				return 1000, nil
			}
			return 99, nil
		})
		require.NoError(t, err)
		assert.Equal(t, []uint32{100, 200, 400}, calls)
		assert.Equal(t, uint32(400), niter)
	})

	t.Run("zero latency doubles", func(t *testing.T) {
		var calls []uint32
		_, err := EnsureMinNiter(1, func(niter uint32) (float64, error) {
			calls = append(calls, niter)
			if len(calls) == 3 {
				return 1, nil
			}
			return 0, nil
		})
		require.NoError(t, err)
		assert.Equal(t, []uint32{100, 200, 400}, calls)
	})

	t.Run("never reaches the target", func(t *testing.T) {
		_, err := EnsureMinNiter(1000, func(uint32) (float64, error) { return 0, nil })
		assert.Error(t, err)
	})

	t.Run("run error", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := EnsureMinNiter(1000, func(uint32) (float64, error) { return 0, boom })
		assert.ErrorIs(t, err, boom)
	})

	t.Run("invalid minimum", func(t *testing.T) {
		_, err := EnsureMinNiter(0, func(uint32) (float64, error) { return 1, nil })
		assert.Error(t, err)
	})
}

func TestEnsureMinNiter_Sim(t *testing.T) {
	backend := newSim(t)
	h := NewHarness(backend, nil)
	job := regCountJob(t, backend, 1, 0)

	niter, err := EnsureMinNiter(1000, func(niter uint32) (float64, error) {
		job.Push[0] = niter
		return h.Time(context.Background(), job, 3)
	})
	require.NoError(t, err)
	// 2ns per iteration
	assert.InDelta(t, 500000, niter, 1)
}
