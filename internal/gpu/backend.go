package gpu

import (
	"context"
	"time"
)

// DeviceInfo contains the queryable properties of a compute device
type DeviceInfo struct {
	Name             string `json:"name" yaml:"name"`
	Backend          string `json:"backend" yaml:"backend"`
	ComputeUnits     uint32 `json:"computeUnits" yaml:"computeUnits"`         // SM / CU count
	MaxWorkGroupSize uint32 `json:"maxWorkGroupSize" yaml:"maxWorkGroupSize"` // logical threads per workgroup
	CacheSize        int64  `json:"cacheSize" yaml:"cacheSize"`               // global memory cache, in bytes
	TotalMemory      int64  `json:"totalMemory" yaml:"totalMemory"`           // in bytes
	DriverVersion    string `json:"driverVersion" yaml:"driverVersion"`
}

// Dim3 is a three dimensional launch size.
type Dim3 [3]uint32

// Count returns the total number of elements covered by d.
func (d Dim3) Count() uint64 {
	return uint64(d[0]) * uint64(d[1]) * uint64(d[2])
}

// Buffer is a device storage buffer of float32 elements.
type Buffer interface {
	// Len is the number of float32 elements in the buffer
	Len() int
	// Free releases the device memory. Freeing twice is a no-op.
	Free() error
}

// Job describes a single kernel dispatch.
type Job struct {
	// Kernel is the kernel identifier, see RegCountKernel, KernelCachelineSize
	// and KernelBandwidth
	Kernel string
	// Global is the number of invocations in each dimension
	Global Dim3
	// Local is the workgroup size in each dimension
	Local Dim3
	// Push holds the scalar push constants, in kernel declaration order
	Push []uint32
	// Buffers are bound in order starting at binding 0
	Buffers []Buffer
}

// Groups returns the number of workgroups the job launches.
func (j Job) Groups() Dim3 {
	var g Dim3
	for i := range g {
		if j.Local[i] == 0 {
			continue
		}
		g[i] = (j.Global[i] + j.Local[i] - 1) / j.Local[i]
	}
	return g
}

// Backend defines the interface for compute devices the probes run on.
// This interface allows for multiple device implementations (CPU, simulated,
// vendor GPU APIs) behind one dispatch primitive.
//
// Implementation notes:
// - Dispatch is synchronous: it returns once the work has completed
// - Backends are driven from a single goroutine
// - Buffers must be freed by the caller
type Backend interface {
	// GetDeviceInfo returns the device properties the probes plan with
	GetDeviceInfo() DeviceInfo

	// IsAvailable checks if the backend can be used on this host
	// This should perform a quick check without heavy initialization
	IsAvailable() bool

	// Initialize prepares the backend for use
	// Should be called once before first use
	Initialize() error

	// Cleanup releases any resources held by the backend
	Cleanup() error

	// NewBuffer allocates a storage buffer of elems float32 values
	NewBuffer(elems int) (Buffer, error)

	// Dispatch submits job, waits for it to complete and returns the
	// elapsed device time
	Dispatch(ctx context.Context, job Job) (time.Duration, error)
}
