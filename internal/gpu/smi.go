package gpu

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// HostGPU is one row of the nvidia-smi inventory.
type HostGPU struct {
	Index         int    `json:"index" yaml:"index"`
	Name          string `json:"name" yaml:"name"`
	DriverVersion string `json:"driverVersion" yaml:"driverVersion"`
	MemoryTotalMB int64  `json:"memoryTotalMB" yaml:"memoryTotalMB"`
	MemoryUsedMB  int64  `json:"memoryUsedMB" yaml:"memoryUsedMB"`
	UtilizationGP int    `json:"utilizationGpuPct" yaml:"utilizationGpuPct"`
}

const smiQuery = "--query-gpu=name,driver_version,memory.total,memory.used,utilization.gpu"

// smiOutput runs nvidia-smi; tests replace it.
var smiOutput = func(ctx context.Context) ([]byte, error) {
	return exec.CommandContext(ctx, "nvidia-smi", smiQuery, "--format=csv,noheader,nounits").Output()
}

// QuerySMI polls the host GPU inventory using nvidia-smi. A host without
// nvidia-smi has no inventory; that is not an error.
func QuerySMI(ctx context.Context, log *zap.Logger) ([]HostGPU, error) {
	output, err := smiOutput(ctx)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			log.Debug("nvidia-smi command not found, skipping host GPU inventory")
			return nil, nil
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			log.Warn("nvidia-smi failed", zap.Error(exitErr), zap.String("stderr", string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("failed to execute nvidia-smi: %w", err)
	}
	return parseSMI(string(output))
}

func parseSMI(output string) ([]HostGPU, error) {
	var gpus []HostGPU
	for i, line := range strings.Split(strings.TrimSpace(output), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		values := strings.Split(line, ",")
		if len(values) != 5 {
			return nil, fmt.Errorf("unexpected nvidia-smi line %q", line)
		}
		for j := range values {
			values[j] = strings.TrimSpace(values[j])
		}
		total, err := strconv.ParseInt(values[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid memory.total %q: %w", values[2], err)
		}
		used, err := strconv.ParseInt(values[3], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid memory.used %q: %w", values[3], err)
		}
		util, err := strconv.Atoi(values[4])
		if err != nil {
			return nil, fmt.Errorf("invalid utilization.gpu %q: %w", values[4], err)
		}
		gpus = append(gpus, HostGPU{
			Index:         i,
			Name:          values[0],
			DriverVersion: values[1],
			MemoryTotalMB: total,
			MemoryUsedMB:  used,
			UtilizationGP: util,
		})
	}
	return gpus, nil
}
