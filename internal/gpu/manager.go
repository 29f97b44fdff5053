package gpu

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Backend names accepted by NewManager.
const (
	BackendAuto = "auto"
	BackendCPU  = "cpu"
	BackendSim  = "sim"
)

// ManagerOptions selects and parameterizes the backend a Manager drives.
type ManagerOptions struct {
	// Backend is one of BackendAuto, BackendCPU or BackendSim
	Backend string
	CPU     CPUOptions
	Sim     SimProfile
}

// Manager handles backend selection and lifecycle
type Manager struct {
	backend Backend
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewManager creates a new manager and initializes the requested backend
func NewManager(logger *zap.Logger, opts ManagerOptions) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		logger: logger,
	}

	if err := m.detectAndInitialize(opts); err != nil {
		return nil, err
	}

	return m, nil
}

// detectAndInitialize creates the requested backend, falling back to the CPU
// for BackendAuto
func (m *Manager) detectAndInitialize(opts ManagerOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var backend Backend
	switch opts.Backend {
	case BackendSim:
		backend = NewSimBackend(m.logger, opts.Sim)
	case BackendCPU, BackendAuto, "":
		backend = NewCPUBackend(m.logger, opts.CPU)
	default:
		return fmt.Errorf("unknown backend %q", opts.Backend)
	}

	if !backend.IsAvailable() {
		return fmt.Errorf("backend %q is not available", opts.Backend)
	}
	if err := backend.Initialize(); err != nil {
		_ = backend.Cleanup()
		return fmt.Errorf("failed to initialize %s backend: %w", backendType(backend), err)
	}
	m.backend = backend
	return nil
}

// Backend returns the current backend
func (m *Manager) Backend() Backend {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.backend
}

// GetDeviceInfo returns device information from the current backend
func (m *Manager) GetDeviceInfo() DeviceInfo {
	backend := m.Backend()
	if backend == nil {
		return DeviceInfo{Name: "No backend available"}
	}
	return backend.GetDeviceInfo()
}

// GetBackendType returns a string describing the current backend type
func (m *Manager) GetBackendType() string {
	return backendType(m.Backend())
}

func backendType(backend Backend) string {
	switch backend.(type) {
	case nil:
		return "none"
	case *CPUBackend:
		return BackendCPU
	case *SimBackend:
		return BackendSim
	default:
		return "unknown"
	}
}

// Cleanup releases resources held by the current backend
func (m *Manager) Cleanup() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.backend != nil {
		if err := m.backend.Cleanup(); err != nil {
			return err
		}
		m.backend = nil
	}
	return nil
}
