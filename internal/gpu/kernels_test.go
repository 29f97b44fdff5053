package gpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegCountKernel(t *testing.T) {
	assert.Equal(t, "reg_count_1", RegCountKernel(1))
	assert.Equal(t, "reg_count_512", RegCountKernel(512))

	n, ok := ParseRegCountKernel(RegCountKernel(37))
	require.True(t, ok)
	assert.Equal(t, uint32(37), n)

	for _, name := range []string{"reg_count_0", "reg_count_513", "reg_count_x", "reg_count_", KernelBandwidth} {
		_, ok := ParseRegCountKernel(name)
		assert.False(t, ok, name)
	}
}

func TestKernelFamily(t *testing.T) {
	assert.Equal(t, "reg_count", KernelFamily(RegCountKernel(128)))
	assert.Equal(t, KernelBandwidth, KernelFamily(KernelBandwidth))
	assert.Equal(t, KernelCachelineSize, KernelFamily(KernelCachelineSize))
	assert.Equal(t, "reg_count_0", KernelFamily("reg_count_0"))
}

func TestJobGroups(t *testing.T) {
	job := Job{Global: Dim3{1000, 3, 1}, Local: Dim3{256, 1, 1}}
	assert.Equal(t, Dim3{4, 3, 1}, job.Groups())
	assert.Equal(t, uint64(12), job.Groups().Count())
	assert.Equal(t, uint64(768), Dim3{256, 3, 1}.Count())
}

func TestValidateJob(t *testing.T) {
	one := &simBuffer{elems: 1}
	empty := &simBuffer{}

	testCases := []struct {
		name    string
		job     Job
		wantErr string
	}{
		{
			name: "valid reg count",
			job:  Job{Kernel: RegCountKernel(3), Global: Dim3{1, 2, 1}, Local: Dim3{1, 1, 1}, Push: []uint32{1}, Buffers: []Buffer{one}},
		},
		{
			name: "valid bandwidth",
			job:  Job{Kernel: KernelBandwidth, Global: Dim3{8, 1, 1}, Local: Dim3{8, 1, 1}, Push: []uint32{1, 2, 3, 4}, Buffers: []Buffer{one, one}},
		},
		{
			name:    "unknown kernel",
			job:     Job{Kernel: "nope"},
			wantErr: "unknown kernel",
		},
		{
			name:    "wrong push arity",
			job:     Job{Kernel: KernelCachelineSize, Global: Dim3{1, 1, 1}, Local: Dim3{1, 1, 1}, Push: []uint32{1}, Buffers: []Buffer{one, one}},
			wantErr: "expects 3 push constants",
		},
		{
			name:    "missing buffer",
			job:     Job{Kernel: KernelCachelineSize, Global: Dim3{1, 1, 1}, Local: Dim3{1, 1, 1}, Push: []uint32{1, 2, 3}, Buffers: []Buffer{one}},
			wantErr: "expects 2 buffers",
		},
		{
			name:    "freed buffer",
			job:     Job{Kernel: RegCountKernel(3), Global: Dim3{1, 1, 1}, Local: Dim3{1, 1, 1}, Push: []uint32{1}, Buffers: []Buffer{empty}},
			wantErr: "buffer 0 is empty",
		},
		{
			name:    "zero local",
			job:     Job{Kernel: RegCountKernel(3), Global: Dim3{1, 1, 1}, Local: Dim3{1, 0, 1}, Push: []uint32{1}, Buffers: []Buffer{one}},
			wantErr: "local size",
		},
		{
			name:    "zero global",
			job:     Job{Kernel: RegCountKernel(3), Global: Dim3{1, 0, 1}, Local: Dim3{1, 1, 1}, Push: []uint32{1}, Buffers: []Buffer{one}},
			wantErr: "global size",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateJob(tc.job)
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
