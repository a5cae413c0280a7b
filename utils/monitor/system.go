// Package monitor samples Go runtime health into Prometheus gauges.
package monitor

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const sampleInterval = time.Second

// SystemMonitor periodically samples runtime statistics.
type SystemMonitor struct {
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *zap.Logger
	metrics struct {
		memUsage    prometheus.Gauge
		goroutines  prometheus.Gauge
		heapObjects prometheus.Gauge
		heapAlloc   prometheus.Gauge
		gcPause     prometheus.Gauge
	}
	wg sync.WaitGroup
}

// NewSystemMonitor starts sampling immediately. Gauges register on reg,
// not the package default, so multiple monitors can coexist in tests.
func NewSystemMonitor(ctx context.Context, reg prometheus.Registerer, logger *zap.Logger) (*SystemMonitor, error) {
	ctx, cancel := context.WithCancel(ctx)
	m := &SystemMonitor{
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}

	m.metrics.memUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flasharb_memory_usage_percent",
		Help: "Allocated memory as a percentage of memory obtained from the OS",
	})
	m.metrics.goroutines = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flasharb_goroutines",
		Help: "Current number of goroutines",
	})
	m.metrics.heapObjects = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flasharb_heap_objects",
		Help: "Current number of heap objects",
	})
	m.metrics.heapAlloc = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flasharb_heap_alloc_bytes",
		Help: "Current heap allocation in bytes",
	})
	m.metrics.gcPause = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flasharb_gc_pause_ms",
		Help: "Most recent GC pause duration in milliseconds",
	})

	for _, g := range []prometheus.Gauge{
		m.metrics.memUsage,
		m.metrics.goroutines,
		m.metrics.heapObjects,
		m.metrics.heapAlloc,
		m.metrics.gcPause,
	} {
		if err := reg.Register(g); err != nil {
			cancel()
			return nil, err
		}
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run()
	}()

	return m, nil
}

func (m *SystemMonitor) run() {
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.collect()
		}
	}
}

func (m *SystemMonitor) collect() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	if memStats.Sys > 0 {
		m.metrics.memUsage.Set(float64(memStats.Alloc) / float64(memStats.Sys) * 100)
	}
	m.metrics.goroutines.Set(float64(runtime.NumGoroutine()))
	m.metrics.heapObjects.Set(float64(memStats.HeapObjects))
	m.metrics.heapAlloc.Set(float64(memStats.HeapAlloc))
	m.metrics.gcPause.Set(float64(memStats.PauseNs[(memStats.NumGC+255)%256]) / float64(time.Millisecond))
}

// Snapshot returns current runtime statistics for log lines and status
// output.
func (m *SystemMonitor) Snapshot() map[string]interface{} {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return map[string]interface{}{
		"goroutines":   int64(runtime.NumGoroutine()),
		"heap_objects": int64(memStats.HeapObjects),
		"heap_alloc":   int64(memStats.HeapAlloc),
		"gc_pause_ms":  float64(memStats.PauseNs[(memStats.NumGC+255)%256]) / float64(time.Millisecond),
	}
}

// Cleanup stops sampling and waits for the collector to exit.
func (m *SystemMonitor) Cleanup() error {
	m.cancel()
	m.wg.Wait()
	return nil
}
