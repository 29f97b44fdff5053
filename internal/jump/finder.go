// Package jump finds the first abnormal step in a timing curve.
//
// A sweep feeds one latency sample per parameter value into a Finder. Once the
// window of accepted samples is full, every new sample is compared against the
// window mean; a sample whose distance from the mean exceeds both the scaled
// mean absolute deviation and the compensation floor is a jump. The first jump
// ends the sweep: it marks the point where a hardware resource (registers,
// cache capacity, occupancy) ran out.
package jump

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

const (
	// AlgorithmName identifies this detector in ChangePoint results.
	AlgorithmName = "dt_jump_finder"
	// AlgorithmVersion is bumped whenever the classification rule changes.
	AlgorithmVersion = 1

	DefaultWindow       = 5
	DefaultCompensation = 0.01
	DefaultThreshold    = 10
)

// Config holds the detector parameters.
type Config struct {
	// Window is the number of accepted samples the baseline is built from.
	Window int `yaml:"window"`
	// Compensation scales the window mean into the minimum distance that may
	// count as a jump. It keeps a nearly flat window from flagging noise.
	Compensation float64 `yaml:"compensation"`
	// Threshold multiplies the mean absolute deviation of the window.
	Threshold float64 `yaml:"threshold"`
}

// DefaultConfig returns the parameters used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Window:       DefaultWindow,
		Compensation: DefaultCompensation,
		Threshold:    DefaultThreshold,
	}
}

// Validate reports whether the parameters can drive a Finder.
func (c Config) Validate() error {
	if c.Window < 1 {
		return fmt.Errorf("window must be at least 1, got %d", c.Window)
	}
	if c.Compensation < 0 || math.IsNaN(c.Compensation) {
		return fmt.Errorf("compensation must be non-negative, got %v", c.Compensation)
	}
	if c.Threshold < 0 || math.IsNaN(c.Threshold) {
		return fmt.Errorf("threshold must be non-negative, got %v", c.Threshold)
	}
	return nil
}

// Algorithm describes the detector that produced a ChangePoint.
type Algorithm struct {
	Name          string             `json:"name" yaml:"name"`
	Version       int                `json:"version" yaml:"version"`
	Configuration map[string]float64 `json:"configuration" yaml:"configuration"`
}

func (c Config) algorithm() Algorithm {
	return Algorithm{
		Name:    AlgorithmName,
		Version: AlgorithmVersion,
		Configuration: map[string]float64{
			"window":       float64(c.Window),
			"compensation": c.Compensation,
			"threshold":    c.Threshold,
		},
	}
}

// ChangePoint is a detected jump.
type ChangePoint struct {
	// Index is the zero-based position of the sample in the stream.
	Index int `json:"index" yaml:"index"`
	// Value is the offending sample.
	Value float64 `json:"value" yaml:"value"`
	// Mean and Deviation describe the window the sample was tested against.
	Mean      float64   `json:"mean" yaml:"mean"`
	Deviation float64   `json:"deviation" yaml:"deviation"`
	Algorithm Algorithm `json:"algorithm" yaml:"algorithm"`
}

// Finder is a streaming jump detector. It is not safe for concurrent use.
type Finder struct {
	cfg Config

	// ring buffer of accepted samples
	values []float64
	pos    int
	count  int

	mean      float64
	deviation float64

	seen     int
	detected bool
	point    ChangePoint
}

// Option configures a Finder built with New.
type Option func(*Config)

// WithWindow sets the number of samples kept in the baseline window.
func WithWindow(n int) Option {
	return func(c *Config) { c.Window = n }
}

// WithCompensation sets the relative compensation floor.
func WithCompensation(v float64) Option {
	return func(c *Config) { c.Compensation = v }
}

// WithThreshold sets the deviation multiplier.
func WithThreshold(v float64) Option {
	return func(c *Config) { c.Threshold = v }
}

// New builds a Finder from DefaultConfig adjusted by opts. It panics on
// invalid parameters; use NewFinder to get an error instead.
func New(opts ...Option) *Finder {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	f, err := NewFinder(cfg)
	if err != nil {
		panic(err)
	}
	return f
}

// NewFinder builds a Finder from cfg.
func NewFinder(cfg Config) (*Finder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid jump finder config: %w", err)
	}
	return &Finder{
		cfg:    cfg,
		values: make([]float64, cfg.Window),
	}, nil
}

// Config returns the parameters the Finder was built with.
func (f *Finder) Config() Config {
	return f.cfg
}

// Push feeds the next sample and reports whether a jump has been detected.
// Once a jump is found the Finder stops consuming samples and every later
// call returns true without touching the window.
func (f *Finder) Push(sample float64) bool {
	if f.detected {
		return true
	}
	index := f.seen
	f.seen++

	if f.count == f.cfg.Window && f.isJump(sample) {
		f.detected = true
		f.point = ChangePoint{
			Index:     index,
			Value:     sample,
			Mean:      f.mean,
			Deviation: f.deviation,
			Algorithm: f.cfg.algorithm(),
		}
		return true
	}

	f.accept(sample)
	return false
}

func (f *Finder) isJump(sample float64) bool {
	floor := f.cfg.Compensation * math.Abs(f.mean)
	limit := math.Max(f.cfg.Threshold*f.deviation, floor)
	return math.Abs(sample-f.mean) > limit
}

// accept stores sample, evicting the oldest one when the window is full, and
// refreshes the two accumulators.
func (f *Finder) accept(sample float64) {
	f.values[f.pos] = sample
	f.pos = (f.pos + 1) % f.cfg.Window
	if f.count < f.cfg.Window {
		f.count++
	}

	window := f.values[:f.count]
	f.mean = stat.Mean(window, nil)
	var dev float64
	for _, v := range window {
		dev += math.Abs(v - f.mean)
	}
	f.deviation = dev / float64(f.count)
}

// ChangePoint returns the detected jump, if any.
func (f *Finder) ChangePoint() (ChangePoint, bool) {
	return f.point, f.detected
}

// Detected reports whether a jump has been found.
func (f *Finder) Detected() bool {
	return f.detected
}

// Len is the number of samples currently in the window.
func (f *Finder) Len() int {
	return f.count
}

// Seen is the number of samples consumed, including the jump itself.
func (f *Finder) Seen() int {
	return f.seen
}

// Window returns a copy of the accepted samples, oldest first.
func (f *Finder) Window() []float64 {
	out := make([]float64, 0, f.count)
	start := 0
	if f.count == f.cfg.Window {
		start = f.pos
	}
	for i := 0; i < f.count; i++ {
		out = append(out, f.values[(start+i)%f.cfg.Window])
	}
	return out
}

// Mean is the mean of the current window.
func (f *Finder) Mean() float64 {
	return f.mean
}

// Deviation is the mean absolute deviation of the current window.
func (f *Finder) Deviation() float64 {
	return f.deviation
}

// Reset clears all state so the Finder can serve a new sweep.
func (f *Finder) Reset() {
	for i := range f.values {
		f.values[i] = 0
	}
	f.pos, f.count, f.seen = 0, 0, 0
	f.mean, f.deviation = 0, 0
	f.detected = false
	f.point = ChangePoint{}
}
