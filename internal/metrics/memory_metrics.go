package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Memory Subsystem Metrics
// =============================================================================

var (
	// ArrayBytes tracks bytes currently held by number arrays per backend
	ArrayBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bulkgraph_array_bytes",
			Help: "Bytes currently held by number arrays by backend",
		},
		[]string{"backend"}, // "heap", "offheap", "pagecache"
	)

	// ArrayAllocationsTotal counts number array allocations per backend
	ArrayAllocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulkgraph_array_allocations_total",
			Help: "Total number of number arrays allocated by backend",
		},
		[]string{"backend"},
	)

	// ArraySelectionTotal counts backend selection decisions of the auto policy
	ArraySelectionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulkgraph_array_selection_total",
			Help: "Total number of backend selection decisions by outcome",
		},
		[]string{"decision"}, // "offheap", "heap", "chunked", "pagecache", "insufficient"
	)

	// AllocatorBytesAllocatedTotal counts bytes requested from tracked allocators
	AllocatorBytesAllocatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulkgraph_allocator_bytes_allocated_total",
			Help: "Total bytes allocated through tracked allocators",
		},
		[]string{"allocator"},
	)

	// AllocatorBytesFreedTotal counts bytes returned to tracked allocators
	AllocatorBytesFreedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulkgraph_allocator_bytes_freed_total",
			Help: "Total bytes freed through tracked allocators",
		},
		[]string{"allocator"},
	)

	// AllocatorAllocationsActive tracks live allocations of tracked allocators
	AllocatorAllocationsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bulkgraph_allocator_allocations_active",
			Help: "Number of live allocations held through tracked allocators",
		},
		[]string{"allocator"},
	)

	// PageCacheFaultsTotal counts pages mapped on first touch
	PageCacheFaultsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bulkgraph_pagecache_faults_total",
			Help: "Total number of page cache pages mapped on first access",
		},
	)

	// PageCacheReadRetriesTotal counts optimistic reads that had to be retried
	PageCacheReadRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bulkgraph_pagecache_read_retries_total",
			Help: "Total number of optimistic page reads retried after a concurrent write",
		},
	)

	// GCTunerHeapUtilization is heap in use divided by the heap budget
	GCTunerHeapUtilization = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bulkgraph_gc_tuner_heap_utilization",
			Help: "Heap in use as a fraction of the configured heap budget",
		},
	)

	// GCTunerTargetGOGC is the GOGC value last applied by the tuner
	GCTunerTargetGOGC = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bulkgraph_gc_tuner_target_gogc",
			Help: "GOGC value last applied by the GC tuner",
		},
	)
)
