package gpu

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewManager(t *testing.T) {
	testCases := []struct {
		name        string
		backend     string
		wantType    string
		wantDevice  string
		expectError bool
	}{
		{name: "auto falls back to cpu", backend: BackendAuto, wantType: BackendCPU, wantDevice: "CPU"},
		{name: "empty means auto", backend: "", wantType: BackendCPU, wantDevice: "CPU"},
		{name: "explicit cpu", backend: BackendCPU, wantType: BackendCPU, wantDevice: "CPU"},
		{name: "simulated", backend: BackendSim, wantType: BackendSim, wantDevice: "Simulated"},
		{name: "unknown", backend: "vulkan", expectError: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			manager, err := NewManager(zap.NewNop(), ManagerOptions{
				Backend: tc.backend,
				Sim:     DefaultSimProfile(),
			})
			if tc.expectError {
				require.Error(t, err)
				assert.Nil(t, manager)
				return
			}
			require.NoError(t, err)
			defer manager.Cleanup()

			assert.Equal(t, tc.wantType, manager.GetBackendType())
			assert.Contains(t, manager.GetDeviceInfo().Name, tc.wantDevice)
			assert.NotNil(t, manager.Backend())
		})
	}
}

func TestManager_InvalidSimProfile(t *testing.T) {
	profile := DefaultSimProfile()
	profile.Registers = 0

	_, err := NewManager(zap.NewNop(), ManagerOptions{Backend: BackendSim, Sim: profile})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize sim backend")
}

func TestManager_Cleanup(t *testing.T) {
	manager, err := NewManager(nil, ManagerOptions{Backend: BackendSim, Sim: DefaultSimProfile()})
	require.NoError(t, err)

	backend := manager.Backend()
	require.NoError(t, manager.Cleanup())

	assert.Nil(t, manager.Backend())
	assert.Equal(t, "none", manager.GetBackendType())
	assert.Equal(t, "No backend available", manager.GetDeviceInfo().Name)

	// the released backend refuses work
	out, err := backend.NewBuffer(1)
	require.NoError(t, err)
	_, err = backend.Dispatch(context.Background(), Job{
		Kernel: RegCountKernel(1), Global: Dim3{1, 1, 1}, Local: Dim3{1, 1, 1},
		Push: []uint32{1}, Buffers: []Buffer{out},
	})
	assert.Error(t, err)

	// cleanup is idempotent
	assert.NoError(t, manager.Cleanup())
}
