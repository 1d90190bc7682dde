package observability

import (
	"context"
	"fmt"
	"runtime"
	"time"
)

// RuntimeLimits bounds the runtime probe. Zero disables a limit.
type RuntimeLimits struct {
	MaxGoroutines int
	MaxHeapBytes  uint64
}

// RuntimeProbe checks goroutine count and heap size against limits.
func RuntimeProbe(limits RuntimeLimits) ProbeFunc {
	return func(ctx context.Context) (HealthCheckResult, error) {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		goroutines := runtime.NumGoroutine()

		res := HealthCheckResult{
			Healthy: true,
			Message: "Runtime OK",
			Details: map[string]any{
				"goroutines":       goroutines,
				"heap_alloc_bytes": m.HeapAlloc,
				"num_gc":           m.NumGC,
			},
		}
		switch {
		case limits.MaxGoroutines > 0 && goroutines > limits.MaxGoroutines:
			res.Healthy = false
			res.Message = fmt.Sprintf("goroutine count %d exceeds %d", goroutines, limits.MaxGoroutines)
		case limits.MaxHeapBytes > 0 && m.HeapAlloc > limits.MaxHeapBytes:
			res.Healthy = false
			res.Message = fmt.Sprintf("heap allocation %d bytes exceeds %d", m.HeapAlloc, limits.MaxHeapBytes)
		}
		return res, nil
	}
}

const selfCheckMetric = "observability_selfcheck_timestamp_seconds"

// CollectorProbe verifies that the collector accepts and returns a write.
func CollectorProbe(c *Collector) ProbeFunc {
	return func(ctx context.Context) (HealthCheckResult, error) {
		now := float64(time.Now().Unix())
		c.SetGauge(selfCheckMetric, now, nil)
		got, ok := c.Gauge(selfCheckMetric, nil)
		if !ok || got < now {
			return HealthCheckResult{}, fmt.Errorf("metrics collector did not retain a write")
		}
		return HealthCheckResult{Healthy: true, Message: "Metrics collector OK"}, nil
	}
}

// SampleRuntime records goroutine and heap gauges.
func SampleRuntime(c *Collector) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	c.SetGauge("process_goroutines", float64(runtime.NumGoroutine()), nil)
	c.SetGauge("process_heap_alloc_bytes", float64(m.HeapAlloc), nil)
}
