package probe

import (
	"context"
	"fmt"

	"github.com/fxnlabs/gpuinfo/internal/gpu"
	"github.com/fxnlabs/gpuinfo/internal/metrics"
)

// CachelineResult is the outcome of the cacheline size test.
type CachelineResult struct {
	NIter uint32 `json:"niter" yaml:"niter"`
	// Size is the top level buffer cache line size in bytes.
	Size uint32 `json:"size" yaml:"size"`
	// Found is false when no stride made reads slower and Size holds the
	// largest stride tested.
	Found bool `json:"found" yaml:"found"`
}

// CachelineSize has every thread of a full workgroup walk its own slice of
// a cache sized buffer with a growing stride. Once the stride reaches a cache
// line, every read misses and latency jumps.
func (s *Suite) CachelineSize(ctx context.Context) (CachelineResult, error) {
	cfg := s.config.Cacheline
	s.out.Section("Buffer Cacheline Size")

	info := s.harness.Backend().GetDeviceInfo()
	nthread := info.MaxWorkGroupSize
	if nthread == 0 || info.CacheSize <= 0 {
		return CachelineResult{}, fmt.Errorf("device reports no workgroup size or cache size")
	}
	pitch := uint32(info.CacheSize / int64(nthread))
	if pitch == 0 {
		return CachelineResult{}, fmt.Errorf("cache of %d bytes is smaller than one workgroup of %d threads", info.CacheSize, nthread)
	}

	backend := s.harness.Backend()
	in, err := backend.NewBuffer(int(info.CacheSize))
	if err != nil {
		return CachelineResult{}, err
	}
	out, err := backend.NewBuffer(1)
	if err != nil {
		freeAll(s.logger, in)
		return CachelineResult{}, err
	}
	defer freeAll(s.logger, in, out)

	job := func(niter, stride uint32) gpu.Job {
		return gpu.Job{
			Kernel:  gpu.KernelCachelineSize,
			Global:  gpu.Dim3{nthread, 1, 1},
			Local:   gpu.Dim3{nthread, 1, 1},
			Push:    []uint32{niter, stride, pitch},
			Buffers: []gpu.Buffer{in, out},
		}
	}

	niter, err := s.calibrate(ctx, job(0, 1), cfg.MinMicros, cfg.Repeats)
	if err != nil {
		return CachelineResult{}, err
	}

	result := CachelineResult{NIter: niter}
	stride, found, err := s.sweep(TestCacheline, cfg.Jump, 1, pitch, 1, func(stride uint32) (float64, error) {
		t, err := s.harness.Time(ctx, job(niter, stride), cfg.Repeats)
		if err != nil {
			return 0, err
		}
		s.out.Progress("Testing stride=\t%d\t, time=\t%g", stride, t)
		return t, nil
	})
	if err != nil {
		return CachelineResult{}, err
	}
	if found {
		result.Size = stride * 4
		result.Found = true
	} else {
		s.out.Progress("Unable to conclude a top level buffer cacheline size.")
		result.Size = pitch * 4
	}

	metrics.CachelineBytes.Set(float64(result.Size))
	s.out.Value("BufTopLevelCachelineSize", result.Size)
	return result, nil
}
