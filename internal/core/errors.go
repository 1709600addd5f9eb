package core

import "fmt"

// ErrInsufficientMemory indicates that neither heap nor off-heap memory, alone or
// combined, can hold a requested array.
type ErrInsufficientMemory struct {
	Requested   int64
	FreeHeap    int64
	FreeOffHeap int64
}

func (e *ErrInsufficientMemory) Error() string {
	return fmt.Sprintf("not enough memory for %d bytes, free heap %d bytes, free off-heap %d bytes",
		e.Requested, e.FreeHeap, e.FreeOffHeap)
}

// NewInsufficientMemoryError creates an insufficient memory error.
func NewInsufficientMemoryError(requested, freeHeap, freeOffHeap int64) error {
	return &ErrInsufficientMemory{Requested: requested, FreeHeap: freeHeap, FreeOffHeap: freeOffHeap}
}
