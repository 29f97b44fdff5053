package probe

import (
	"context"

	"github.com/fxnlabs/gpuinfo/internal/gpu"
	"github.com/fxnlabs/gpuinfo/internal/metrics"
)

// Register file types.
const (
	RegistersPooled    = "Pooled"
	RegistersDedicated = "Dedicated"
)

// RegisterCountResult is the outcome of the register count test.
type RegisterCountResult struct {
	NIter uint32 `json:"niter" yaml:"niter"`
	// MaxRegisters is the largest register count that did not spill.
	MaxRegisters uint32 `json:"maxRegisters" yaml:"maxRegisters"`
	// RegistersFound is false when the sweep ended without a jump and
	// MaxRegisters holds the fallback.
	RegistersFound bool `json:"registersFound" yaml:"registersFound"`
	// ConcurrentFull and ConcurrentHalf are the number of single thread
	// workgroups that run at once using MaxRegisters and half of it.
	ConcurrentFull uint32 `json:"concurrentFull" yaml:"concurrentFull"`
	ConcurrentHalf uint32 `json:"concurrentHalf" yaml:"concurrentHalf"`
	Type           string `json:"type" yaml:"type"`
}

// RegisterCount finds how many registers a thread can hold before spilling,
// then whether halving that count lets more workgroups run concurrently.
// If it does, the threads of a compute unit share one register pool.
func (s *Suite) RegisterCount(ctx context.Context) (RegisterCountResult, error) {
	cfg := s.config.RegCount
	s.out.Section("Register Count")

	backend := s.harness.Backend()
	buf, err := backend.NewBuffer(1)
	if err != nil {
		return RegisterCountResult{}, err
	}
	defer freeAll(s.logger, buf)

	var niter uint32
	measure := func(ngrp, nreg uint32) (float64, error) {
		return s.harness.Time(ctx, gpu.Job{
			Kernel:  gpu.RegCountKernel(nreg),
			Global:  gpu.Dim3{1, ngrp, 1},
			Local:   gpu.Dim3{1, 1, 1},
			Push:    []uint32{niter},
			Buffers: []gpu.Buffer{buf},
		}, cfg.Repeats)
	}

	s.out.Progress("Calculating NITER...")
	niter, err = s.calibrate(ctx, gpu.Job{
		Kernel:  gpu.RegCountKernel(cfg.Min),
		Global:  gpu.Dim3{1, 1, 1},
		Local:   gpu.Dim3{1, 1, 1},
		Push:    []uint32{0},
		Buffers: []gpu.Buffer{buf},
	}, cfg.MinMicros, cfg.Repeats)
	if err != nil {
		return RegisterCountResult{}, err
	}
	s.out.Value("NITER", niter)

	result := RegisterCountResult{NIter: niter}
	nreg, found, err := s.sweep(TestRegCount, cfg.Jump, cfg.Min, cfg.Max, cfg.Step, func(nreg uint32) (float64, error) {
		t, err := measure(1, nreg)
		if err != nil {
			return 0, err
		}
		s.out.Progress("Testing nreg=\t%d\tTime=\t%g", nreg, t)
		return t, nil
	})
	if err != nil {
		return RegisterCountResult{}, err
	}
	if found {
		result.MaxRegisters = nreg - cfg.Step
		result.RegistersFound = true
		s.out.Progress("%d registers are available at most", result.MaxRegisters)
	} else {
		result.MaxRegisters = cfg.Step
		s.out.Progress("Unable to conclude a maximal register count")
	}

	concurrent := func(nreg uint32) (uint32, error) {
		ngrp, found, err := s.sweep(TestRegCount, cfg.Jump, cfg.GroupMin, cfg.GroupMax, cfg.GroupStep, func(ngrp uint32) (float64, error) {
			t, err := measure(ngrp, nreg)
			if err != nil {
				return 0, err
			}
			s.out.Progress("Testing occupation (nreg=%d); ngrp=%d, time=%g us", nreg, ngrp, t)
			return t, nil
		})
		if err != nil {
			return 0, err
		}
		if !found {
			s.out.Progress("Unable to conclude a maximum number of concurrent single-thread workgroups when %d registers are occupied", nreg)
			return 1, nil
		}
		ngrp -= cfg.GroupStep
		s.out.Progress("Using %d registers can have %d concurrent single-thread workgroups", nreg, ngrp)
		return ngrp, nil
	}

	if result.ConcurrentFull, err = concurrent(result.MaxRegisters); err != nil {
		return RegisterCountResult{}, err
	}
	// reg_count_0 does not exist
	half := max(result.MaxRegisters/2, 1)
	if result.ConcurrentHalf, err = concurrent(half); err != nil {
		return RegisterCountResult{}, err
	}

	if float64(result.ConcurrentFull)*1.5 < float64(result.ConcurrentHalf) {
		result.Type = RegistersPooled
		s.out.Progress("All physical threads in an sm share %d registers", result.MaxRegisters)
		metrics.RegistersPooled.Set(1)
	} else {
		result.Type = RegistersDedicated
		s.out.Progress("Each physical thread has %d registers", result.MaxRegisters)
		metrics.RegistersPooled.Set(0)
	}

	metrics.MaxRegisters.Set(float64(result.MaxRegisters))
	metrics.ConcurrentWorkgroups.WithLabelValues("full").Set(float64(result.ConcurrentFull))
	metrics.ConcurrentWorkgroups.WithLabelValues("half").Set(float64(result.ConcurrentHalf))

	s.out.Progress("")
	s.out.Progress("")
	s.out.Value("NITER", result.NIter)
	s.out.Value("Max registers", result.MaxRegisters)
	s.out.Value("Concurrent full single thread workgroups", result.ConcurrentFull)
	s.out.Value("Concurrent half single thread workgroups", result.ConcurrentHalf)
	s.out.Value("Register type", result.Type)
	return result, nil
}
