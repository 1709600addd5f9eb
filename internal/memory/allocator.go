package memory

import (
	"fmt"
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"golang.org/x/sys/unix"

	bgerrors "github.com/23skdu/bulkgraph/internal/errors"
)

// NativeAllocator hands out blocks from anonymous private mappings, outside the Go heap.
// Every block is its own mapping and must be returned through Free exactly once.
type NativeAllocator struct {
	allocated atomic.Int64
}

// NewNativeAllocator creates an allocator for off-heap arrays.
func NewNativeAllocator() *NativeAllocator {
	return &NativeAllocator{}
}

// Allocate maps size zeroed bytes. Mapping failure panics with a capacity error;
// use TryAllocate to get it back as an error.
func (a *NativeAllocator) Allocate(size int) []byte {
	if size == 0 {
		return []byte{}
	}
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		panic(bgerrors.WrapCapacityError(err, "native.allocate", fmt.Sprintf("mmap of %d bytes failed", size)).
			WithContext("size", size))
	}
	a.allocated.Add(int64(size))
	return b
}

// Reallocate maps a new block, copies the common prefix and unmaps b.
func (a *NativeAllocator) Reallocate(size int, b []byte) []byte {
	if size == len(b) {
		return b
	}
	nb := a.Allocate(size)
	copy(nb, b)
	a.Free(b)
	return nb
}

// Free unmaps b. Freeing a block twice is a programming error and panics.
func (a *NativeAllocator) Free(b []byte) {
	if cap(b) == 0 {
		return
	}
	if err := unix.Munmap(b[:cap(b)]); err != nil {
		panic(bgerrors.WrapStorageError(err, "native.free", "munmap failed").WithContext("size", cap(b)))
	}
	a.allocated.Add(-int64(cap(b)))
}

// Discard drops the physical pages behind b so they read back as zero. b must be a
// whole block returned by Allocate.
func (a *NativeAllocator) Discard(b []byte) error {
	if cap(b) == 0 {
		return nil
	}
	if err := unix.Madvise(b[:cap(b)], unix.MADV_DONTNEED); err != nil {
		return bgerrors.WrapStorageError(err, "native.discard", "madvise(MADV_DONTNEED) failed")
	}
	return nil
}

// Allocated returns the bytes currently mapped.
func (a *NativeAllocator) Allocated() int64 {
	return a.allocated.Load()
}

var _ memory.Allocator = (*NativeAllocator)(nil)
