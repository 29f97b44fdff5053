package probe

import (
	"fmt"
	"math/bits"

	"github.com/fxnlabs/gpuinfo/internal/gpu"
	"github.com/fxnlabs/gpuinfo/internal/jump"
)

// RegCountConfig parameterizes the register count test.
type RegCountConfig struct {
	// Min, Max and Step bound the registers-per-thread sweep.
	Min  uint32 `yaml:"min"`
	Max  uint32 `yaml:"max"`
	Step uint32 `yaml:"step"`
	// GroupMin, GroupMax and GroupStep bound the concurrent workgroup sweep.
	GroupMin  uint32 `yaml:"groupMin"`
	GroupMax  uint32 `yaml:"groupMax"`
	GroupStep uint32 `yaml:"groupStep"`

	Jump      jump.Config `yaml:"jump"`
	MinMicros float64     `yaml:"minMicros"`
	Repeats   int         `yaml:"repeats"`
}

// CachelineConfig parameterizes the buffer cacheline size test.
type CachelineConfig struct {
	Jump      jump.Config `yaml:"jump"`
	MinMicros float64     `yaml:"minMicros"`
	Repeats   int         `yaml:"repeats"`
}

// BandwidthConfig parameterizes the memory bandwidth test.
type BandwidthConfig struct {
	// Range is the largest memory space read, in bytes. Bandwidth plateaus
	// well below 128MiB on regular devices.
	Range uint32 `yaml:"range"`
	// NFlush multiplies the dispatch size so caches are flushed.
	NFlush uint32 `yaml:"nflush"`
	// NUnroll is the number of reads per kernel loop iteration.
	NUnroll uint32 `yaml:"nunroll"`
	// NIter trades latency for noise.
	NIter   uint32 `yaml:"niter"`
	Repeats int    `yaml:"repeats"`
}

// Config holds the parameters of every test.
type Config struct {
	RegCount  RegCountConfig  `yaml:"regcount"`
	Cacheline CachelineConfig `yaml:"cacheline"`
	Bandwidth BandwidthConfig `yaml:"bandwidth"`
}

// DefaultConfig returns the parameters the tests were tuned with.
func DefaultConfig() Config {
	return Config{
		RegCount: RegCountConfig{
			Min:       1,
			Max:       gpu.MaxRegCount,
			Step:      1,
			GroupMin:  1,
			GroupMax:  64,
			GroupStep: 1,
			Jump: jump.Config{
				Window:       jump.DefaultWindow,
				Compensation: 0.01,
				Threshold:    3,
			},
			MinMicros: 1000,
			Repeats:   100,
		},
		Cacheline: CachelineConfig{
			Jump: jump.Config{
				Window:       jump.DefaultWindow,
				Compensation: 0.01,
				Threshold:    10,
			},
			MinMicros: 1000,
			Repeats:   100,
		},
		Bandwidth: BandwidthConfig{
			Range:   128 << 20,
			NFlush:  4,
			NUnroll: 16,
			NIter:   10,
			Repeats: 10,
		},
	}
}

// Validate checks every test's parameters.
func (c Config) Validate() error {
	if err := c.RegCount.Validate(); err != nil {
		return fmt.Errorf("regcount: %w", err)
	}
	if err := c.Cacheline.Validate(); err != nil {
		return fmt.Errorf("cacheline: %w", err)
	}
	if err := c.Bandwidth.Validate(); err != nil {
		return fmt.Errorf("bandwidth: %w", err)
	}
	return nil
}

func (c RegCountConfig) Validate() error {
	switch {
	case c.Min < 1 || c.Min > c.Max:
		return fmt.Errorf("register range [%d, %d] is empty", c.Min, c.Max)
	case c.Max > gpu.MaxRegCount:
		return fmt.Errorf("at most %d registers can be tested, got %d", gpu.MaxRegCount, c.Max)
	case c.Step < 1:
		return fmt.Errorf("step must be positive")
	case c.GroupMin < 1 || c.GroupMin > c.GroupMax:
		return fmt.Errorf("workgroup range [%d, %d] is empty", c.GroupMin, c.GroupMax)
	case c.GroupStep < 1:
		return fmt.Errorf("groupStep must be positive")
	case c.MinMicros <= 0:
		return fmt.Errorf("minMicros must be positive")
	case c.Repeats < 1:
		return fmt.Errorf("repeats must be positive")
	}
	return c.Jump.Validate()
}

func (c CachelineConfig) Validate() error {
	switch {
	case c.MinMicros <= 0:
		return fmt.Errorf("minMicros must be positive")
	case c.Repeats < 1:
		return fmt.Errorf("repeats must be positive")
	}
	return c.Jump.Validate()
}

func (c BandwidthConfig) Validate() error {
	switch {
	case c.Range < 2*vecSize || bits.OnesCount32(c.Range) != 1:
		return fmt.Errorf("range must be a power of two of at least %d bytes, got %d", 2*vecSize, c.Range)
	case c.NFlush < 1:
		return fmt.Errorf("nflush must be positive")
	case c.NUnroll < 1:
		return fmt.Errorf("nunroll must be positive")
	case c.NIter < 1:
		return fmt.Errorf("niter must be positive")
	case c.Repeats < 1:
		return fmt.Errorf("repeats must be positive")
	}
	return nil
}
