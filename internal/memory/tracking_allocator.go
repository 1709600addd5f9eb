package memory

import (
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/bulkgraph/internal/metrics"
)

// TrackingAllocator wraps a base memory.Allocator, keeps byte counters and updates the
// allocator metrics under its label.
type TrackingAllocator struct {
	memory.Allocator
	label string

	BytesAllocated atomic.Int64
	BytesFreed     atomic.Int64
	peak           atomic.Int64
}

// NewTrackingAllocator wraps base. If base is nil, it uses memory.DefaultAllocator.
func NewTrackingAllocator(label string, base memory.Allocator) *TrackingAllocator {
	if base == nil {
		base = memory.DefaultAllocator
	}
	return &TrackingAllocator{Allocator: base, label: label}
}

func (a *TrackingAllocator) Label() string { return a.label }

func (a *TrackingAllocator) Allocate(size int) []byte {
	b := a.Allocator.Allocate(size)
	a.BytesAllocated.Add(int64(size))
	a.observePeak()
	metrics.AllocatorBytesAllocatedTotal.WithLabelValues(a.label).Add(float64(size))
	metrics.AllocatorAllocationsActive.WithLabelValues(a.label).Inc()
	return b
}

// Reallocate counts the old block as freed and the new one as allocated.
func (a *TrackingAllocator) Reallocate(size int, b []byte) []byte {
	old := len(b)
	nb := a.Allocator.Reallocate(size, b)
	a.BytesFreed.Add(int64(old))
	a.BytesAllocated.Add(int64(size))
	a.observePeak()
	metrics.AllocatorBytesFreedTotal.WithLabelValues(a.label).Add(float64(old))
	metrics.AllocatorBytesAllocatedTotal.WithLabelValues(a.label).Add(float64(size))
	return nb
}

func (a *TrackingAllocator) Free(b []byte) {
	a.Allocator.Free(b)
	a.BytesFreed.Add(int64(len(b)))
	metrics.AllocatorBytesFreedTotal.WithLabelValues(a.label).Add(float64(len(b)))
	metrics.AllocatorAllocationsActive.WithLabelValues(a.label).Dec()
}

// Discard forwards to the base allocator when it supports discarding pages.
func (a *TrackingAllocator) Discard(b []byte) error {
	if d, ok := a.Allocator.(Discarder); ok {
		return d.Discard(b)
	}
	clear(b)
	return nil
}

// Current returns the bytes allocated and not yet freed.
func (a *TrackingAllocator) Current() int64 {
	return a.BytesAllocated.Load() - a.BytesFreed.Load()
}

// Peak returns the highest value Current has reached.
func (a *TrackingAllocator) Peak() int64 {
	return a.peak.Load()
}

func (a *TrackingAllocator) observePeak() {
	cur := a.Current()
	for {
		p := a.peak.Load()
		if cur <= p || a.peak.CompareAndSwap(p, cur) {
			return
		}
	}
}

var _ memory.Allocator = (*TrackingAllocator)(nil)
