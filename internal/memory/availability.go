package memory

import (
	"math"
	"runtime"
	"runtime/debug"
)

// Availability estimates how many bytes can still be placed on the Go heap and in
// native memory. Array factories consult it on every allocation.
type Availability interface {
	AvailableHeap() int64
	AvailableOffHeap() int64
}

// Usage reports bytes currently held; TrackingAllocator implements it.
type Usage interface {
	Current() int64
}

// FixedAvailability reports constant figures.
type FixedAvailability struct {
	Heap    int64
	OffHeap int64
}

func (f FixedAvailability) AvailableHeap() int64    { return f.Heap }
func (f FixedAvailability) AvailableOffHeap() int64 { return f.OffHeap }

// BudgetAvailability derives availability from configured limits minus what the
// tracked allocators currently hold. A zero limit means nothing is available there.
type BudgetAvailability struct {
	MaxHeap    int64
	MaxOffHeap int64

	heap    Usage
	offHeap Usage
}

// NewBudgetAvailability creates a budget over the given usage sources. Either source
// may be nil, in which case that side is treated as unused.
func NewBudgetAvailability(maxHeap, maxOffHeap int64, heap, offHeap Usage) *BudgetAvailability {
	return &BudgetAvailability{MaxHeap: maxHeap, MaxOffHeap: maxOffHeap, heap: heap, offHeap: offHeap}
}

func (b *BudgetAvailability) AvailableHeap() int64 {
	return remaining(b.MaxHeap, b.heap)
}

func (b *BudgetAvailability) AvailableOffHeap() int64 {
	return remaining(b.MaxOffHeap, b.offHeap)
}

func remaining(limit int64, u Usage) int64 {
	var used int64
	if u != nil {
		used = u.Current()
	}
	if used >= limit {
		return 0
	}
	return limit - used
}

// MemStatsReader interfaces runtime.ReadMemStats for testing
type MemStatsReader interface {
	ReadMemStats(m *runtime.MemStats)
}

type defaultMemStatsReader struct{}

func (d *defaultMemStatsReader) ReadMemStats(m *runtime.MemStats) {
	runtime.ReadMemStats(m)
}

// SysInfoReader reports free physical memory of the host.
type SysInfoReader interface {
	FreeMemory() (int64, error)
}

// RuntimeAvailability reads live process and host figures. Heap availability is the
// Go memory limit minus heap in use, or free host memory when no limit is set.
// Off-heap availability is free host memory.
type RuntimeAvailability struct {
	stats MemStatsReader
	sys   SysInfoReader
	limit func() int64
}

// RuntimeOption configures a RuntimeAvailability.
type RuntimeOption func(*RuntimeAvailability)

func WithMemStatsReader(r MemStatsReader) RuntimeOption {
	return func(a *RuntimeAvailability) { a.stats = r }
}

func WithSysInfoReader(r SysInfoReader) RuntimeOption {
	return func(a *RuntimeAvailability) { a.sys = r }
}

// WithMemoryLimit replaces the debug.SetMemoryLimit(-1) lookup.
func WithMemoryLimit(limit func() int64) RuntimeOption {
	return func(a *RuntimeAvailability) { a.limit = limit }
}

func NewRuntimeAvailability(opts ...RuntimeOption) *RuntimeAvailability {
	a := &RuntimeAvailability{
		stats: &defaultMemStatsReader{},
		sys:   defaultSysInfoReader{},
		limit: func() int64 { return debug.SetMemoryLimit(-1) },
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *RuntimeAvailability) AvailableHeap() int64 {
	limit := a.limit()
	if limit <= 0 || limit == math.MaxInt64 {
		return a.AvailableOffHeap()
	}
	var m runtime.MemStats
	a.stats.ReadMemStats(&m)
	inUse := int64(m.HeapInuse)
	if inUse >= limit {
		return 0
	}
	return limit - inUse
}

func (a *RuntimeAvailability) AvailableOffHeap() int64 {
	free, err := a.sys.FreeMemory()
	if err != nil || free < 0 {
		return 0
	}
	return free
}
