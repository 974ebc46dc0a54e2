package observability

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

// ResourceMonitor watches goroutine count, heap usage, and GC pauses in the
// background and warns when they exceed thresholds. The execution gateway is
// latency sensitive, so a goroutine or memory leak in a venue adapter shows
// up here before it shows up as slice latency.
type ResourceMonitor struct {
	logger   *Logger
	metrics  *ResourceMetrics
	config   *ResourceThresholds
	stopChan chan struct{}
}

// ResourceMetrics holds the most recently collected system metrics.
type ResourceMetrics struct {
	MemoryUsage    int64
	GoroutineCount int
	GCStats        debug.GCStats
	LastUpdated    time.Time
	mu             sync.RWMutex
}

// ResourceThresholds defines the alert thresholds for ResourceMonitor.
type ResourceThresholds struct {
	CollectionInterval   time.Duration
	MemoryUsageThreshold int64
	GoroutineThreshold   int
}

// NewResourceMonitor creates a monitor with sensible defaults for a
// low-latency execution process and starts its background collection loop.
func NewResourceMonitor(logger *Logger) *ResourceMonitor {
	rm := &ResourceMonitor{
		logger: logger,
		metrics: &ResourceMetrics{},
		config: &ResourceThresholds{
			CollectionInterval:   30 * time.Second,
			MemoryUsageThreshold: 512 * 1024 * 1024,
			GoroutineThreshold:   5000,
		},
		stopChan: make(chan struct{}),
	}

	go rm.run()

	return rm
}

func (rm *ResourceMonitor) run() {
	ticker := time.NewTicker(rm.config.CollectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rm.collect()
		case <-rm.stopChan:
			return
		}
	}
}

func (rm *ResourceMonitor) collect() {
	ctx := context.Background()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	rm.metrics.mu.Lock()
	rm.metrics.MemoryUsage = int64(memStats.Alloc)
	rm.metrics.GoroutineCount = runtime.NumGoroutine()
	debug.ReadGCStats(&rm.metrics.GCStats)
	rm.metrics.LastUpdated = time.Now()
	snapshot := *rm.metrics
	rm.metrics.mu.Unlock()

	rm.logger.Debug(ctx, "resource usage collected", map[string]interface{}{
		"memory_bytes":    snapshot.MemoryUsage,
		"goroutine_count": snapshot.GoroutineCount,
	})

	if snapshot.MemoryUsage > rm.config.MemoryUsageThreshold {
		rm.logger.Warn(ctx, "high memory usage detected", map[string]interface{}{
			"memory_bytes": snapshot.MemoryUsage,
			"threshold":    rm.config.MemoryUsageThreshold,
		})
	}

	if snapshot.GoroutineCount > rm.config.GoroutineThreshold {
		rm.logger.Warn(ctx, "high goroutine count detected", map[string]interface{}{
			"goroutine_count": snapshot.GoroutineCount,
			"threshold":       rm.config.GoroutineThreshold,
		})
	}
}

// GetMetrics returns a copy of the most recently collected metrics.
func (rm *ResourceMonitor) GetMetrics() ResourceMetrics {
	rm.metrics.mu.RLock()
	defer rm.metrics.mu.RUnlock()
	return ResourceMetrics{
		MemoryUsage:    rm.metrics.MemoryUsage,
		GoroutineCount: rm.metrics.GoroutineCount,
		GCStats:        rm.metrics.GCStats,
		LastUpdated:    rm.metrics.LastUpdated,
	}
}

// Stop stops the background collection loop.
func (rm *ResourceMonitor) Stop() {
	close(rm.stopChan)
}
