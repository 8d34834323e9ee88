package offheap

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordAlloc is called after each heap allocation attempt.
	RecordAlloc(size int, duration time.Duration, err error)

	// RecordRelease is called after each handle release.
	RecordRelease(size int, err error)

	// RecordMap is called after each attempt to map a file-backed value.
	RecordMap(size int, duration time.Duration, err error)

	// RecordUnmap is called when a file-backed value is released.
	RecordUnmap(size int, err error)

	// RecordFlush is called after each flush of mapped bytes.
	RecordFlush(size int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordAlloc(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordRelease(int, error)              {}
func (NoopMetricsCollector) RecordMap(int, time.Duration, error)   {}
func (NoopMetricsCollector) RecordUnmap(int, error)                {}
func (NoopMetricsCollector) RecordFlush(int, time.Duration, error) {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	AllocCount      atomic.Int64
	AllocErrors     atomic.Int64
	AllocBytes      atomic.Int64
	AllocTotalNanos atomic.Int64
	ReleaseCount    atomic.Int64
	ReleaseErrors   atomic.Int64
	ReleaseBytes    atomic.Int64
	MapCount        atomic.Int64
	MapErrors       atomic.Int64
	MapTotalNanos   atomic.Int64
	UnmapCount      atomic.Int64
	UnmapErrors     atomic.Int64
	FlushCount      atomic.Int64
	FlushErrors     atomic.Int64
	FlushBytes      atomic.Int64
}

// RecordAlloc implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAlloc(size int, duration time.Duration, err error) {
	b.AllocCount.Add(1)
	b.AllocTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.AllocErrors.Add(1)
		return
	}
	b.AllocBytes.Add(int64(size))
}

// RecordRelease implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRelease(size int, err error) {
	b.ReleaseCount.Add(1)
	if err != nil {
		b.ReleaseErrors.Add(1)
		return
	}
	b.ReleaseBytes.Add(int64(size))
}

// RecordMap implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMap(_ int, duration time.Duration, err error) {
	b.MapCount.Add(1)
	b.MapTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.MapErrors.Add(1)
	}
}

// RecordUnmap implements MetricsCollector.
func (b *BasicMetricsCollector) RecordUnmap(_ int, err error) {
	b.UnmapCount.Add(1)
	if err != nil {
		b.UnmapErrors.Add(1)
	}
}

// RecordFlush implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFlush(size int, _ time.Duration, err error) {
	b.FlushCount.Add(1)
	if err != nil {
		b.FlushErrors.Add(1)
		return
	}
	b.FlushBytes.Add(int64(size))
}

// LiveHandles returns allocations minus successful releases.
func (b *BasicMetricsCollector) LiveHandles() int64 {
	return b.AllocCount.Load() - b.AllocErrors.Load() - (b.ReleaseCount.Load() - b.ReleaseErrors.Load())
}

// AverageAllocLatency returns the mean allocation latency.
func (b *BasicMetricsCollector) AverageAllocLatency() time.Duration {
	count := b.AllocCount.Load()
	if count == 0 {
		return 0
	}
	return time.Duration(b.AllocTotalNanos.Load() / count)
}
