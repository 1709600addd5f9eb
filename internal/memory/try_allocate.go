package memory

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow/memory"

	bgerrors "github.com/23skdu/bulkgraph/internal/errors"
)

// Discarder is implemented by allocators that can hand zeroed pages back to the OS
// without unmapping the block.
type Discarder interface {
	Discard(b []byte) error
}

// TryAllocate calls alloc.Allocate and converts a panic raised by the allocator into
// a capacity error. arrow allocators signal exhaustion by panicking.
func TryAllocate(alloc memory.Allocator, size int) (b []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			b = nil
			if cause, ok := r.(error); ok {
				if bgerrors.IsType(cause, bgerrors.ErrorTypeCapacity) {
					err = cause
					return
				}
				err = bgerrors.WrapCapacityError(cause, "memory.try_allocate",
					fmt.Sprintf("allocation of %d bytes failed", size)).WithContext("size", size)
				return
			}
			err = bgerrors.NewCapacityError("memory.try_allocate",
				fmt.Sprintf("allocation of %d bytes failed: %v", size, r)).WithContext("size", size)
		}
	}()
	return alloc.Allocate(size), nil
}
