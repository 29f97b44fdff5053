package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every gpuinfo collector. It is separate from the default
// registry so exported textfiles only carry probe results.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	DispatchDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gpuinfo_dispatch_duration_microseconds",
		Help:    "Duration of a single kernel dispatch in microseconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 24), // 1us to ~8s
	}, []string{"kernel"})

	SweepSamples = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "gpuinfo_sweep_samples_total",
		Help: "Total number of timing samples fed to the jump finder",
	}, []string{"test"})

	JumpsDetected = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "gpuinfo_jumps_detected_total",
		Help: "Total number of sweeps that ended on a detected jump",
	}, []string{"test"})

	TestDuration = factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gpuinfo_test_duration_seconds",
		Help: "Wall time of the last run of each test",
	}, []string{"test"})

	// Register Count Metrics
	MaxRegisters = factory.NewGauge(prometheus.GaugeOpts{
		Name: "gpuinfo_max_registers",
		Help: "Registers available to a single thread before spilling",
	})

	ConcurrentWorkgroups = factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gpuinfo_concurrent_workgroups",
		Help: "Concurrent single thread workgroups at full and half register occupancy",
	}, []string{"occupancy"})

	RegistersPooled = factory.NewGauge(prometheus.GaugeOpts{
		Name: "gpuinfo_registers_pooled",
		Help: "1 if the register file is shared by the threads of a compute unit",
	})

	// Cache Metrics
	CachelineBytes = factory.NewGauge(prometheus.GaugeOpts{
		Name: "gpuinfo_buffer_cacheline_bytes",
		Help: "Top level buffer cache line size in bytes",
	})

	// Bandwidth Metrics
	BandwidthGBps = factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gpuinfo_bandwidth_gbps",
		Help: "Measured memory bandwidth in GB/s per unique access size in bytes",
	}, []string{"access_size"})

	MaxBandwidthGBps = factory.NewGauge(prometheus.GaugeOpts{
		Name: "gpuinfo_max_bandwidth_gbps",
		Help: "Highest bandwidth over all access sizes in GB/s",
	})

	MinBandwidthGBps = factory.NewGauge(prometheus.GaugeOpts{
		Name: "gpuinfo_min_bandwidth_gbps",
		Help: "Lowest bandwidth over all access sizes in GB/s",
	})
)

// WriteTextfile writes the current value of every collector to path in the
// Prometheus text exposition format, for the node exporter textfile collector.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, Registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
