package gpu

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// KernelCachelineSize walks a buffer with a configurable stride.
	// Push constants: niter, stride, pitch. Buffers: in, out.
	KernelCachelineSize = "buf_cacheline_size"
	// KernelBandwidth streams vec4 reads over a masked address range.
	// Push constants: niter, addr_mask, local_x, nunroll. Buffers: in, out.
	KernelBandwidth = "buf_bandwidth"

	regCountPrefix = "reg_count_"

	// MaxRegCount is the largest register count a reg_count kernel is built for.
	MaxRegCount = 512
)

// RegCountKernel returns the name of the kernel that keeps nreg values live
// per thread. Push constants: niter. Buffers: out.
func RegCountKernel(nreg uint32) string {
	return regCountPrefix + strconv.FormatUint(uint64(nreg), 10)
}

// ParseRegCountKernel extracts the register count from a reg_count kernel name.
func ParseRegCountKernel(name string) (uint32, bool) {
	if !strings.HasPrefix(name, regCountPrefix) {
		return 0, false
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(name, regCountPrefix), 10, 32)
	if err != nil || n == 0 || n > MaxRegCount {
		return 0, false
	}
	return uint32(n), true
}

// KernelFamily returns the kernel source a kernel name is built from: the
// name itself, or "reg_count" for every reg_count_<n> variant.
func KernelFamily(name string) string {
	if _, ok := ParseRegCountKernel(name); ok {
		return strings.TrimSuffix(regCountPrefix, "_")
	}
	return name
}

// kernelLayout is the binding layout a kernel expects.
type kernelLayout struct {
	push    int
	buffers int
}

func layoutFor(kernel string) (kernelLayout, error) {
	switch kernel {
	case KernelCachelineSize:
		return kernelLayout{push: 3, buffers: 2}, nil
	case KernelBandwidth:
		return kernelLayout{push: 4, buffers: 2}, nil
	}
	if _, ok := ParseRegCountKernel(kernel); ok {
		return kernelLayout{push: 1, buffers: 1}, nil
	}
	return kernelLayout{}, fmt.Errorf("unknown kernel %q", kernel)
}

// ValidateJob checks job against the binding layout of its kernel.
func ValidateJob(job Job) error {
	layout, err := layoutFor(job.Kernel)
	if err != nil {
		return err
	}
	if len(job.Push) != layout.push {
		return fmt.Errorf("kernel %s expects %d push constants, got %d", job.Kernel, layout.push, len(job.Push))
	}
	if len(job.Buffers) != layout.buffers {
		return fmt.Errorf("kernel %s expects %d buffers, got %d", job.Kernel, layout.buffers, len(job.Buffers))
	}
	for i, b := range job.Buffers {
		if b == nil || b.Len() == 0 {
			return fmt.Errorf("kernel %s: buffer %d is empty", job.Kernel, i)
		}
	}
	for i := range job.Local {
		if job.Local[i] == 0 {
			return fmt.Errorf("kernel %s: local size %v has a zero dimension", job.Kernel, job.Local)
		}
		if job.Global[i] == 0 {
			return fmt.Errorf("kernel %s: global size %v has a zero dimension", job.Kernel, job.Global)
		}
	}
	return nil
}
