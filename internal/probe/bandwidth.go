package probe

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/fxnlabs/gpuinfo/internal/gpu"
	"github.com/fxnlabs/gpuinfo/internal/metrics"
	"gonum.org/v1/gonum/floats"
)

// vecSize is the size in bytes of one vec4 of float32, the unit of every read
// in the bandwidth kernel.
const vecSize = 4 * 4

// BandwidthSample is the bandwidth measured for one working set size.
type BandwidthSample struct {
	// AccessSize is the number of unique bytes read, in bytes.
	AccessSize uint32  `json:"accessSize" yaml:"accessSize"`
	GBps       float64 `json:"gbps" yaml:"gbps"`
	Micros     float64 `json:"micros" yaml:"micros"`
}

// BandwidthResult is the outcome of the bandwidth test.
type BandwidthResult struct {
	Samples []BandwidthSample `json:"samples" yaml:"samples"`
	Max     float64           `json:"max" yaml:"max"`
	Min     float64           `json:"min" yaml:"min"`
}

// Bandwidth streams reads over working sets doubling from one vec4 up to the
// configured range. Small sets stay in cache; large ones hit memory.
func (s *Suite) Bandwidth(ctx context.Context) (BandwidthResult, error) {
	cfg := s.config.Bandwidth
	s.out.Progress("")
	s.out.Section("Memory Bandwidth")

	info := s.harness.Backend().GetDeviceInfo()
	local := uint64(info.MaxWorkGroupSize)
	if local == 0 || info.ComputeUnits == 0 {
		return BandwidthResult{}, fmt.Errorf("device reports no workgroup size or compute units")
	}

	nvec := uint64(cfg.Range / vecSize)
	readsPerThread := uint64(cfg.NUnroll) * uint64(cfg.NIter)
	nthread := nvec / readsPerThread
	// a multiple of local, spread across every compute unit
	global := (nthread / local * local) * uint64(info.ComputeUnits) * uint64(cfg.NFlush)
	if global == 0 {
		return BandwidthResult{}, fmt.Errorf("range of %d bytes cannot occupy one workgroup of %d threads", cfg.Range, local)
	}
	if global > math.MaxUint32 {
		return BandwidthResult{}, fmt.Errorf("dispatch of %d threads is too large", global)
	}

	backend := s.harness.Backend()
	in, err := backend.NewBuffer(int(cfg.Range / 4))
	if err != nil {
		return BandwidthResult{}, err
	}
	out, err := backend.NewBuffer(int(4 * local))
	if err != nil {
		freeAll(s.logger, in)
		return BandwidthResult{}, err
	}
	defer freeAll(s.logger, in, out)

	transferred := float64(global * readsPerThread * vecSize)

	var result BandwidthResult
	for access := uint32(vecSize); access < cfg.Range; access *= 2 {
		// x % 2^n == x & (2^n - 1), so the mask limits reads to access bytes
		mask := access/vecSize - 1
		t, err := s.harness.Time(ctx, gpu.Job{
			Kernel:  gpu.KernelBandwidth,
			Global:  gpu.Dim3{uint32(global), 1, 1},
			Local:   gpu.Dim3{uint32(local), 1, 1},
			Push:    []uint32{cfg.NIter, mask, uint32(local), cfg.NUnroll},
			Buffers: []gpu.Buffer{in, out},
		}, cfg.Repeats)
		if err != nil {
			return BandwidthResult{}, err
		}
		if t <= 0 {
			return BandwidthResult{}, fmt.Errorf("dispatch of %d bytes completed in no measurable time", access)
		}

		gbps := transferred * 1e-3 / t
		s.out.Progress("Memory bandwidth accessing \t%d\tB unique data is \t%g \tgbps (\t%g\tus)", access, gbps, t)
		metrics.BandwidthGBps.WithLabelValues(strconv.FormatUint(uint64(access), 10)).Set(gbps)
		result.Samples = append(result.Samples, BandwidthSample{AccessSize: access, GBps: gbps, Micros: t})
	}

	rates := make([]float64, len(result.Samples))
	for i, sample := range result.Samples {
		rates[i] = sample.GBps
	}
	result.Max = floats.Max(rates)
	result.Min = floats.Min(rates)

	metrics.MaxBandwidthGBps.Set(result.Max)
	metrics.MinBandwidthGBps.Set(result.Min)
	s.out.Value("MaxBandwidth (GB/s)", result.Max)
	s.out.Value("MinBandwidth (GB/s)", result.Min)
	return result, nil
}
