package kmemgo

import (
	"sync/atomic"
	"time"
)

// Heap names reported through MetricsCollector and Logger.
const (
	HeapPageTable   = "page_table"
	HeapMemoryBlock = "memory_block"
	HeapBlockInfo   = "block_info"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    initHistogram prometheus.Histogram
//	    allocCounter  *prometheus.CounterVec
//	}
//
//	func (p *PrometheusCollector) RecordAllocate(heap string, err error) {
//	    p.allocCounter.WithLabelValues(heap).Inc()
//	    // ... record error state, etc.
//	}
type MetricsCollector interface {
	// RecordInitialize is called after each initialize attempt.
	// duration is the total time taken, err is nil if successful.
	RecordInitialize(duration time.Duration, err error)

	// RecordRollback is called for each rollback step taken while unwinding
	// a failed initialize.
	RecordRollback(step string)

	// RecordFinalize is called after each finalize.
	RecordFinalize(duration time.Duration)

	// RecordLimitRejection is called when a resource-limit reservation is
	// refused.
	RecordLimitRejection()

	// RecordAllocate is called after each slot allocation.
	// heap is one of the Heap* constants, err is nil if successful.
	RecordAllocate(heap string, err error)

	// RecordFree is called after each slot free.
	RecordFree(heap string)

	// RecordSnapshot is called after each savestate capture.
	// bytes is the captured region size.
	RecordSnapshot(bytes int, duration time.Duration)

	// RecordRestore is called after each savestate restore attempt.
	RecordRestore(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordInitialize(time.Duration, error) {}
func (NoopMetricsCollector) RecordRollback(string)                 {}
func (NoopMetricsCollector) RecordFinalize(time.Duration)          {}
func (NoopMetricsCollector) RecordLimitRejection()                 {}
func (NoopMetricsCollector) RecordAllocate(string, error)          {}
func (NoopMetricsCollector) RecordFree(string)                     {}
func (NoopMetricsCollector) RecordSnapshot(int, time.Duration)     {}
func (NoopMetricsCollector) RecordRestore(time.Duration, error)    {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	InitializeCount      atomic.Int64
	InitializeErrors     atomic.Int64
	InitializeTotalNanos atomic.Int64
	RollbackSteps        atomic.Int64
	FinalizeCount        atomic.Int64
	LimitRejections      atomic.Int64

	PageTableAllocs        atomic.Int64
	PageTableAllocErrors   atomic.Int64
	PageTableFrees         atomic.Int64
	MemoryBlockAllocs      atomic.Int64
	MemoryBlockAllocErrors atomic.Int64
	MemoryBlockFrees       atomic.Int64
	BlockInfoAllocs        atomic.Int64
	BlockInfoAllocErrors   atomic.Int64
	BlockInfoFrees         atomic.Int64

	SnapshotCount atomic.Int64
	SnapshotBytes atomic.Int64
	RestoreCount  atomic.Int64
	RestoreErrors atomic.Int64
}

// RecordInitialize implements MetricsCollector.
func (b *BasicMetricsCollector) RecordInitialize(duration time.Duration, err error) {
	b.InitializeCount.Add(1)
	b.InitializeTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.InitializeErrors.Add(1)
	}
}

// RecordRollback implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRollback(step string) {
	b.RollbackSteps.Add(1)
}

// RecordFinalize implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFinalize(duration time.Duration) {
	b.FinalizeCount.Add(1)
}

// RecordLimitRejection implements MetricsCollector.
func (b *BasicMetricsCollector) RecordLimitRejection() {
	b.LimitRejections.Add(1)
}

// RecordAllocate implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAllocate(heap string, err error) {
	switch heap {
	case HeapPageTable:
		b.PageTableAllocs.Add(1)
		if err != nil {
			b.PageTableAllocErrors.Add(1)
		}
	case HeapMemoryBlock:
		b.MemoryBlockAllocs.Add(1)
		if err != nil {
			b.MemoryBlockAllocErrors.Add(1)
		}
	case HeapBlockInfo:
		b.BlockInfoAllocs.Add(1)
		if err != nil {
			b.BlockInfoAllocErrors.Add(1)
		}
	}
}

// RecordFree implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFree(heap string) {
	switch heap {
	case HeapPageTable:
		b.PageTableFrees.Add(1)
	case HeapMemoryBlock:
		b.MemoryBlockFrees.Add(1)
	case HeapBlockInfo:
		b.BlockInfoFrees.Add(1)
	}
}

// RecordSnapshot implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSnapshot(bytes int, duration time.Duration) {
	b.SnapshotCount.Add(1)
	b.SnapshotBytes.Add(int64(bytes))
}

// RecordRestore implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRestore(duration time.Duration, err error) {
	b.RestoreCount.Add(1)
	if err != nil {
		b.RestoreErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		InitializeCount:    b.InitializeCount.Load(),
		InitializeErrors:   b.InitializeErrors.Load(),
		InitializeAvgNanos: b.getAvgInitializeNanos(),
		RollbackSteps:      b.RollbackSteps.Load(),
		FinalizeCount:      b.FinalizeCount.Load(),
		LimitRejections:    b.LimitRejections.Load(),

		PageTableAllocs:        b.PageTableAllocs.Load(),
		PageTableAllocErrors:   b.PageTableAllocErrors.Load(),
		PageTableFrees:         b.PageTableFrees.Load(),
		MemoryBlockAllocs:      b.MemoryBlockAllocs.Load(),
		MemoryBlockAllocErrors: b.MemoryBlockAllocErrors.Load(),
		MemoryBlockFrees:       b.MemoryBlockFrees.Load(),
		BlockInfoAllocs:        b.BlockInfoAllocs.Load(),
		BlockInfoAllocErrors:   b.BlockInfoAllocErrors.Load(),
		BlockInfoFrees:         b.BlockInfoFrees.Load(),

		SnapshotCount: b.SnapshotCount.Load(),
		SnapshotBytes: b.SnapshotBytes.Load(),
		RestoreCount:  b.RestoreCount.Load(),
		RestoreErrors: b.RestoreErrors.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgInitializeNanos() int64 {
	count := b.InitializeCount.Load()
	if count == 0 {
		return 0
	}
	return b.InitializeTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	InitializeCount    int64
	InitializeErrors   int64
	InitializeAvgNanos int64
	RollbackSteps      int64
	FinalizeCount      int64
	LimitRejections    int64

	PageTableAllocs        int64
	PageTableAllocErrors   int64
	PageTableFrees         int64
	MemoryBlockAllocs      int64
	MemoryBlockAllocErrors int64
	MemoryBlockFrees       int64
	BlockInfoAllocs        int64
	BlockInfoAllocErrors   int64
	BlockInfoFrees         int64

	SnapshotCount int64
	SnapshotBytes int64
	RestoreCount  int64
	RestoreErrors int64
}
