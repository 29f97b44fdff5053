package gpu

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// SimProfile describes the device a SimBackend pretends to be.
type SimProfile struct {
	Name             string `yaml:"name"`
	ComputeUnits     uint32 `yaml:"computeUnits"`
	MaxWorkGroupSize uint32 `yaml:"maxWorkGroupSize"`
	CacheSize        int64  `yaml:"cacheSize"`

	// Registers is the number of registers a thread can use before spilling.
	Registers uint32 `yaml:"registers"`
	// Pooled means all threads of a compute unit share one register file, so
	// fewer registers per thread allow more resident workgroups.
	Pooled bool `yaml:"pooled"`
	// ConcurrentGroups is the number of single-thread workgroups that run
	// concurrently when every thread uses Registers registers.
	ConcurrentGroups uint32 `yaml:"concurrentGroups"`
	// SpillPenalty multiplies the latency of kernels that spill.
	SpillPenalty float64 `yaml:"spillPenalty"`

	// CachelineSize is the top level cache line size in bytes.
	CachelineSize uint32 `yaml:"cachelineSize"`
	// MissPenalty multiplies the latency of strided reads that miss every time.
	MissPenalty float64 `yaml:"missPenalty"`

	// CacheBandwidth and MemoryBandwidth are in GB/s.
	CacheBandwidth  float64 `yaml:"cacheBandwidth"`
	MemoryBandwidth float64 `yaml:"memoryBandwidth"`

	// NanosPerOp is the cost of one iteration of a single thread.
	NanosPerOp float64 `yaml:"nanosPerOp"`
	// Jitter is the relative amplitude of uniform noise added to every
	// measurement. Zero makes the backend fully deterministic.
	Jitter float64 `yaml:"jitter"`
	Seed   int64   `yaml:"seed"`
}

// DefaultSimProfile returns a mid-range mobile GPU.
func DefaultSimProfile() SimProfile {
	return SimProfile{
		Name:             "Simulated GPU",
		ComputeUnits:     8,
		MaxWorkGroupSize: 256,
		CacheSize:        512 << 10,
		Registers:        128,
		Pooled:           true,
		ConcurrentGroups: 12,
		SpillPenalty:     4,
		CachelineSize:    64,
		MissPenalty:      3,
		CacheBandwidth:   400,
		MemoryBandwidth:  40,
		NanosPerOp:       2,
	}
}

// Validate checks that the profile describes a usable device.
func (p SimProfile) Validate() error {
	switch {
	case p.ComputeUnits == 0:
		return fmt.Errorf("computeUnits must be positive")
	case p.MaxWorkGroupSize == 0:
		return fmt.Errorf("maxWorkGroupSize must be positive")
	case p.CacheSize <= 0:
		return fmt.Errorf("cacheSize must be positive")
	case p.Registers == 0:
		return fmt.Errorf("registers must be positive")
	case p.ConcurrentGroups == 0:
		return fmt.Errorf("concurrentGroups must be positive")
	case p.CachelineSize < 4:
		return fmt.Errorf("cachelineSize must be at least 4 bytes")
	case p.CacheBandwidth <= 0 || p.MemoryBandwidth <= 0:
		return fmt.Errorf("bandwidths must be positive")
	case p.NanosPerOp <= 0:
		return fmt.Errorf("nanosPerOp must be positive")
	case p.SpillPenalty < 1 || p.MissPenalty < 1:
		return fmt.Errorf("penalties must be at least 1")
	case p.Jitter < 0 || p.Jitter >= 1:
		return fmt.Errorf("jitter must be in [0, 1)")
	}
	return nil
}

// SimBackend implements Backend with an analytic latency model. It performs
// no work; Dispatch returns the time the profiled device would have taken.
type SimBackend struct {
	logger      *zap.Logger
	profile     SimProfile
	rng         *rand.Rand
	initialized bool
	dispatches  int
}

// NewSimBackend creates a simulated backend for profile
func NewSimBackend(logger *zap.Logger, profile SimProfile) *SimBackend {
	return &SimBackend{
		logger:  logger,
		profile: profile,
	}
}

// Initialize validates the profile and seeds the noise source
func (s *SimBackend) Initialize() error {
	if s.initialized {
		return nil
	}
	if err := s.profile.Validate(); err != nil {
		return fmt.Errorf("invalid simulation profile: %w", err)
	}
	s.rng = rand.New(rand.NewSource(s.profile.Seed))
	s.initialized = true
	s.logger.Info("Simulated backend initialized",
		zap.String("device", s.profile.Name),
		zap.Uint32("registers", s.profile.Registers),
		zap.Uint32("cacheline_size", s.profile.CachelineSize))
	return nil
}

// Cleanup releases nothing
func (s *SimBackend) Cleanup() error {
	s.initialized = false
	return nil
}

// IsAvailable always returns true
func (s *SimBackend) IsAvailable() bool {
	return true
}

// GetDeviceInfo returns the profiled device properties
func (s *SimBackend) GetDeviceInfo() DeviceInfo {
	return DeviceInfo{
		Name:             s.profile.Name,
		Backend:          BackendSim,
		ComputeUnits:     s.profile.ComputeUnits,
		MaxWorkGroupSize: s.profile.MaxWorkGroupSize,
		CacheSize:        s.profile.CacheSize,
		DriverVersion:    "sim",
	}
}

// Dispatches is the number of jobs dispatched since creation.
func (s *SimBackend) Dispatches() int {
	return s.dispatches
}

type simBuffer struct {
	elems int
}

func (b *simBuffer) Len() int {
	return b.elems
}

func (b *simBuffer) Free() error {
	b.elems = 0
	return nil
}

// NewBuffer records the buffer size without allocating storage
func (s *SimBackend) NewBuffer(elems int) (Buffer, error) {
	if elems <= 0 {
		return nil, fmt.Errorf("buffer size must be positive, got %d", elems)
	}
	return &simBuffer{elems: elems}, nil
}

// Dispatch returns the modelled latency of job
func (s *SimBackend) Dispatch(ctx context.Context, job Job) (time.Duration, error) {
	if !s.initialized {
		return 0, fmt.Errorf("simulated backend not initialized")
	}
	if err := ValidateJob(job); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var nanos float64
	switch job.Kernel {
	case KernelCachelineSize:
		nanos = s.cachelineNanos(job)
	case KernelBandwidth:
		nanos = s.bandwidthNanos(job)
	default:
		nreg, _ := ParseRegCountKernel(job.Kernel)
		nanos = s.regCountNanos(job, nreg)
	}
	if s.profile.Jitter > 0 {
		nanos *= 1 + s.profile.Jitter*(2*s.rng.Float64()-1)
	}
	s.dispatches++
	return time.Duration(math.Round(nanos)), nil
}

// concurrency is the number of single-thread workgroups resident at once
// when each thread holds nreg registers.
func (s *SimBackend) concurrency(nreg uint32) uint64 {
	p := s.profile
	if !p.Pooled || nreg >= p.Registers {
		return uint64(p.ConcurrentGroups)
	}
	return uint64(p.ConcurrentGroups) * uint64(p.Registers) / uint64(nreg)
}

func (s *SimBackend) regCountNanos(job Job, nreg uint32) float64 {
	p := s.profile
	niter := float64(job.Push[0])
	groups := job.Groups().Count()
	waves := (groups + s.concurrency(nreg) - 1) / s.concurrency(nreg)
	nanos := niter * p.NanosPerOp * float64(waves)
	if nreg > p.Registers {
		nanos *= p.SpillPenalty
	}
	return nanos
}

func (s *SimBackend) cachelineNanos(job Job) float64 {
	p := s.profile
	niter, stride := float64(job.Push[0]), job.Push[1]
	nanos := niter * p.NanosPerOp
	if stride*4 >= p.CachelineSize {
		nanos *= p.MissPenalty
	}
	return nanos
}

func (s *SimBackend) bandwidthNanos(job Job) float64 {
	p := s.profile
	niter, mask, nunroll := uint64(job.Push[0]), uint64(job.Push[1]), uint64(job.Push[3])
	accessBytes := (mask + 1) * 16
	gbps := p.MemoryBandwidth
	if int64(accessBytes) <= p.CacheSize {
		gbps = p.CacheBandwidth
	}
	bytes := float64(job.Global.Count() * niter * nunroll * 16)
	// GB/s is bytes per nanosecond.
	return bytes / gbps
}
