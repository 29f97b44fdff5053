package config

import (
	"fmt"
	"os"

	"github.com/fxnlabs/gpuinfo/internal/gpu"
	"github.com/fxnlabs/gpuinfo/internal/probe"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Logger struct {
		Verbosity string `yaml:"verbosity"`
		Encoding  string `yaml:"encoding"`
	} `yaml:"logger"`
	Backend BackendConfig `yaml:"backend"`
	Tests   struct {
		Skip []string `yaml:"skip"`
	} `yaml:"tests"`
	Probes probe.Config `yaml:",inline"`
	Report struct {
		Format string `yaml:"format"`
	} `yaml:"report"`
	Metrics struct {
		Textfile string `yaml:"textfile"`
	} `yaml:"metrics"`
}

// BackendConfig selects the device the probes run on.
type BackendConfig struct {
	Name string         `yaml:"name"`
	CPU  gpu.CPUOptions `yaml:"cpu"`
	Sim  gpu.SimProfile `yaml:"sim"`
}

// ManagerOptions converts the backend section for gpu.NewManager.
func (b BackendConfig) ManagerOptions() gpu.ManagerOptions {
	return gpu.ManagerOptions{
		Backend: b.Name,
		CPU:     b.CPU,
		Sim:     b.Sim,
	}
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var config Config
	config.Logger.Verbosity = "info"
	config.Logger.Encoding = "console"
	config.Backend.Name = gpu.BackendAuto
	config.Backend.Sim = gpu.DefaultSimProfile()
	config.Probes = probe.DefaultConfig()
	config.Report.Format = "csv"
	return &config
}

// LoadConfig reads the YAML file at path over the defaults. An empty path
// returns the defaults.
func LoadConfig(path string) (*Config, error) {
	config := Default()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	err = yaml.Unmarshal(data, config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	switch c.Backend.Name {
	case "", gpu.BackendAuto, gpu.BackendCPU:
	case gpu.BackendSim:
		if err := c.Backend.Sim.Validate(); err != nil {
			return fmt.Errorf("backend.sim: %w", err)
		}
	default:
		return fmt.Errorf("backend.name %q must be one of auto, cpu or sim", c.Backend.Name)
	}

	switch c.Logger.Encoding {
	case "", "json", "console":
	default:
		return fmt.Errorf("logger.encoding %q must be json or console", c.Logger.Encoding)
	}

	switch c.Report.Format {
	case "", "csv", "yaml":
	default:
		return fmt.Errorf("report.format %q must be csv or yaml", c.Report.Format)
	}

	if _, err := probe.Select(c.Tests.Skip); err != nil {
		return fmt.Errorf("tests.skip: %w", err)
	}

	return c.Probes.Validate()
}
