// Package numarray provides fixed and growable arrays of longs, ints and fixed-width
// byte items over interchangeable backends: the Go heap, native memory and a paged
// memory-mapped file. A Factory chooses the backend per allocation from the memory
// that is still available.
//
// Every array is addressed by a logical index in [Base, Base+Length). Accessing an
// index outside that range panics with a bounds error. Arrays are not synchronized;
// concurrent callers must touch disjoint indices.
package numarray

import (
	"fmt"
	"strings"

	bgerrors "github.com/23skdu/bulkgraph/internal/errors"
)

// MemoryStatsVisitor receives the bytes an array holds on the heap and off it.
type MemoryStatsVisitor interface {
	HeapUsage(bytes int64)
	OffHeapUsage(bytes int64)
}

// MemoryStats sums everything it visits.
type MemoryStats struct {
	Heap    int64
	OffHeap int64
}

func (m *MemoryStats) HeapUsage(bytes int64)    { m.Heap += bytes }
func (m *MemoryStats) OffHeapUsage(bytes int64) { m.OffHeap += bytes }

// NumberArray is the part of the array contract shared by all item kinds.
type NumberArray interface {
	Length() int64
	Base() int64
	ItemSize() int
	// Swap exchanges the n items starting at from with the n items starting at to.
	Swap(from, to int64, n int)
	// Clear resets every item to the default.
	Clear()
	// Close releases the backend. It is safe to call more than once.
	Close() error
	AcceptMemoryStatsVisitor(v MemoryStatsVisitor)
}

type LongArray interface {
	NumberArray
	Get(i int64) int64
	Set(i, v int64)
}

type IntArray interface {
	NumberArray
	Get(i int64) int32
	Set(i int64, v int32)
}

// ByteArray stores items of an arbitrary byte width. The sub-item accessors take an
// offset inside the item and read or write little-endian values.
type ByteArray interface {
	NumberArray
	Get(i int64, into []byte)
	Set(i int64, v []byte)
	GetByte(i int64, off int) byte
	SetByte(i int64, off int, v byte)
	GetShort(i int64, off int) int16
	SetShort(i int64, off int, v int16)
	GetInt(i int64, off int) int32
	SetInt(i int64, off int, v int32)
	// Get3ByteInt reads 3 bytes; the all-ones pattern reads back as -1.
	Get3ByteInt(i int64, off int) int32
	Set3ByteInt(i int64, off int, v int32)
	// Get6ByteLong reads 6 bytes; the all-ones pattern reads back as -1.
	Get6ByteLong(i int64, off int) int64
	Set6ByteLong(i int64, off int, v int64)
	GetLong(i int64, off int) int64
	SetLong(i int64, off int, v int64)
}

// Backend names where an array's items live.
type Backend int

const (
	Auto Backend = iota
	Heap
	OffHeap
	PageCache
)

func (b Backend) String() string {
	switch b {
	case Auto:
		return "auto"
	case Heap:
		return "heap"
	case OffHeap:
		return "offheap"
	case PageCache:
		return "pagecache"
	default:
		return fmt.Sprintf("backend(%d)", int(b))
	}
}

// ParseBackend accepts the names produced by String.
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return Auto, nil
	case "heap":
		return Heap, nil
	case "offheap", "off-heap", "native":
		return OffHeap, nil
	case "pagecache", "page-cache", "mmap":
		return PageCache, nil
	}
	return Auto, bgerrors.NewConfigurationError("numarray.parse_backend",
		fmt.Sprintf("unknown array backend %q", s))
}

func indexError(op string, i, base, length int64) *bgerrors.StructuredError {
	return bgerrors.NewBoundsError(op, fmt.Sprintf("index %d outside [%d, %d)", i, base, base+length)).
		WithContext("index", i)
}
