package gpu

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultCPUWorkGroupSize = 256
	defaultCPUCacheSize     = 4 << 20

	// regCountOps is the number of dependent multiply-adds a reg_count
	// thread performs per iteration, independent of its register count.
	// Each one is a convex combination, so values stay bounded.
	regCountOps = 64
)

// CPUOptions overrides the properties the CPU backend reports.
// Zero values select the host defaults.
type CPUOptions struct {
	ComputeUnits     uint32 `yaml:"computeUnits"`
	MaxWorkGroupSize uint32 `yaml:"maxWorkGroupSize"`
	CacheSize        int64  `yaml:"cacheSize"`
}

// CPUBackend implements Backend by running the benchmark kernels on the host.
// Each workgroup runs on its own goroutine, at most ComputeUnits at a time.
type CPUBackend struct {
	logger      *zap.Logger
	opts        CPUOptions
	initialized bool
}

// NewCPUBackend creates a new CPU backend instance
func NewCPUBackend(logger *zap.Logger, opts CPUOptions) *CPUBackend {
	if opts.ComputeUnits == 0 {
		opts.ComputeUnits = uint32(runtime.GOMAXPROCS(0))
	}
	if opts.MaxWorkGroupSize == 0 {
		opts.MaxWorkGroupSize = defaultCPUWorkGroupSize
	}
	if opts.CacheSize == 0 {
		opts.CacheSize = defaultCPUCacheSize
	}
	return &CPUBackend{
		logger: logger,
		opts:   opts,
	}
}

// Initialize prepares the CPU backend for use
func (c *CPUBackend) Initialize() error {
	if c.initialized {
		return nil
	}
	c.initialized = true
	c.logger.Info("CPU backend initialized",
		zap.Uint32("compute_units", c.opts.ComputeUnits),
		zap.String("cache_size", humanize.IBytes(uint64(c.opts.CacheSize))))
	return nil
}

// Cleanup releases any resources (none for CPU backend)
func (c *CPUBackend) Cleanup() error {
	c.initialized = false
	return nil
}

// IsAvailable checks if the backend is available (always true for CPU)
func (c *CPUBackend) IsAvailable() bool {
	return true
}

// GetDeviceInfo returns device information for CPU
func (c *CPUBackend) GetDeviceInfo() DeviceInfo {
	return DeviceInfo{
		Name:             fmt.Sprintf("CPU (%s/%s)", runtime.GOOS, runtime.GOARCH),
		Backend:          BackendCPU,
		ComputeUnits:     c.opts.ComputeUnits,
		MaxWorkGroupSize: c.opts.MaxWorkGroupSize,
		CacheSize:        c.opts.CacheSize,
		DriverVersion:    runtime.Version(),
	}
}

type hostBuffer struct {
	data []float32
}

func (b *hostBuffer) Len() int {
	return len(b.data)
}

func (b *hostBuffer) Free() error {
	b.data = nil
	return nil
}

// NewBuffer allocates a host buffer filled with small non-zero values so the
// kernels cannot be short-circuited.
func (c *CPUBackend) NewBuffer(elems int) (Buffer, error) {
	if elems <= 0 {
		return nil, fmt.Errorf("buffer size must be positive, got %d", elems)
	}
	data := make([]float32, elems)
	for i := range data {
		data[i] = float32(i%97) * 1e-3
	}
	return &hostBuffer{data: data}, nil
}

// Dispatch runs job to completion and returns the wall time it took
func (c *CPUBackend) Dispatch(ctx context.Context, job Job) (time.Duration, error) {
	if !c.initialized {
		return 0, fmt.Errorf("CPU backend not initialized")
	}
	if err := ValidateJob(job); err != nil {
		return 0, err
	}
	bufs := make([]*hostBuffer, len(job.Buffers))
	for i, b := range job.Buffers {
		hb, ok := b.(*hostBuffer)
		if !ok {
			return 0, fmt.Errorf("buffer %d was not allocated by the CPU backend", i)
		}
		bufs[i] = hb
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	start := time.Now()
	var err error
	switch job.Kernel {
	case KernelCachelineSize:
		err = c.runCacheline(ctx, job, bufs[0].data, bufs[1].data)
	case KernelBandwidth:
		err = c.runBandwidth(ctx, job, bufs[0].data, bufs[1].data)
	default:
		nreg, _ := ParseRegCountKernel(job.Kernel)
		err = c.runRegCount(ctx, job, nreg, bufs[0].data)
	}
	elapsed := time.Since(start)
	if err != nil {
		return 0, fmt.Errorf("kernel %s failed: %w", job.Kernel, err)
	}
	return elapsed, nil
}

// forEachGroup runs fn once per workgroup with at most ComputeUnits
// workgroups in flight and returns the per-group partial results.
func (c *CPUBackend) forEachGroup(ctx context.Context, groups uint64, fn func(group uint64) float32) ([]float32, error) {
	partial := make([]float32, groups)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(int(c.opts.ComputeUnits))
	for i := uint64(0); i < groups; i++ {
		group := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			partial[group] = fn(group)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return partial, nil
}

func (c *CPUBackend) runRegCount(ctx context.Context, job Job, nreg uint32, out []float32) error {
	niter := job.Push[0]
	threads := job.Local.Count()
	partial, err := c.forEachGroup(ctx, job.Groups().Count(), func(uint64) float32 {
		var sum float32
		for t := uint64(0); t < threads; t++ {
			sum += regCountThread(nreg, niter)
		}
		return sum
	})
	if err != nil {
		return err
	}
	out[0] = sumFloat32(partial)
	return nil
}

func regCountThread(nreg, niter uint32) float32 {
	regs := make([]float32, nreg)
	for i := range regs {
		regs[i] = float32(i+1) * 1e-3
	}
	j, next := 0, 1%len(regs)
	for it := uint32(0); it < niter; it++ {
		for k := 0; k < regCountOps; k++ {
			regs[j] = regs[j]*0.75 + regs[next]*0.25
			j = next
			next++
			if next == len(regs) {
				next = 0
			}
		}
	}
	return sumFloat32(regs)
}

func (c *CPUBackend) runCacheline(ctx context.Context, job Job, in, out []float32) error {
	niter, stride, pitch := job.Push[0], job.Push[1], job.Push[2]
	if stride == 0 || pitch == 0 {
		return fmt.Errorf("stride and pitch must be positive")
	}
	threads := job.Local.Count()
	n := uint64(len(in))
	partial, err := c.forEachGroup(ctx, job.Groups().Count(), func(group uint64) float32 {
		var sum float32
		for t := uint64(0); t < threads; t++ {
			offset := ((group*threads + t) * uint64(pitch)) % n
			idx := uint64(0)
			for i := uint32(0); i < niter; i++ {
				sum += in[(offset+idx)%n]
				idx += uint64(stride)
				if idx >= uint64(pitch) {
					idx -= uint64(pitch)
				}
			}
		}
		return sum
	})
	if err != nil {
		return err
	}
	out[0] = sumFloat32(partial)
	return nil
}

func (c *CPUBackend) runBandwidth(ctx context.Context, job Job, in, out []float32) error {
	niter, mask, localX, nunroll := uint64(job.Push[0]), uint64(job.Push[1]), uint64(job.Push[2]), uint64(job.Push[3])
	nvec := uint64(len(in) / 4)
	if nvec == 0 {
		return fmt.Errorf("input buffer holds no vec4 elements")
	}
	threads := job.Local.Count()
	partial, err := c.forEachGroup(ctx, job.Groups().Count(), func(group uint64) float32 {
		var sum float32
		for t := uint64(0); t < threads; t++ {
			tid := group*threads + t
			for i := uint64(0); i < niter; i++ {
				for u := uint64(0); u < nunroll; u++ {
					v := ((tid + (i*nunroll+u)*localX) & mask) % nvec
					base := v * 4
					sum += in[base] + in[base+1] + in[base+2] + in[base+3]
				}
			}
		}
		return sum
	})
	if err != nil {
		return err
	}
	for i := range out {
		out[i] = sumFloat32(partial) / float32(len(out))
	}
	return nil
}

func sumFloat32(values []float32) float32 {
	var sum float32
	for _, v := range values {
		sum += v
	}
	return sum
}
