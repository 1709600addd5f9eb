package memory

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bgerrors "github.com/23skdu/bulkgraph/internal/errors"
)

func TestNativeAllocator(t *testing.T) {
	alloc := NewNativeAllocator()

	buf := alloc.Allocate(1 << 16)
	require.Len(t, buf, 1<<16)
	assert.Equal(t, int64(1<<16), alloc.Allocated())

	// Mapped memory starts zeroed
	for _, b := range buf[:64] {
		assert.Zero(t, b)
	}

	buf[0] = 1
	buf[len(buf)-1] = 2

	grown := alloc.Reallocate(1<<17, buf)
	require.Len(t, grown, 1<<17)
	assert.Equal(t, byte(1), grown[0])
	assert.Equal(t, byte(2), grown[1<<16-1])
	assert.Equal(t, int64(1<<17), alloc.Allocated())

	alloc.Free(grown)
	assert.Zero(t, alloc.Allocated())
}

func TestNativeAllocator_Discard(t *testing.T) {
	alloc := NewNativeAllocator()
	buf := alloc.Allocate(8192)
	defer alloc.Free(buf)

	for i := range buf {
		buf[i] = 0xAB
	}
	require.NoError(t, alloc.Discard(buf))
	assert.Zero(t, buf[0])
	assert.Zero(t, buf[8191])
}

func TestNativeAllocator_ZeroSize(t *testing.T) {
	alloc := NewNativeAllocator()
	buf := alloc.Allocate(0)
	assert.Empty(t, buf)
	alloc.Free(buf)
	assert.Zero(t, alloc.Allocated())
}

type panickingAllocator struct {
	memory.Allocator
	value interface{}
}

func (p panickingAllocator) Allocate(int) []byte { panic(p.value) }

func TestTryAllocate(t *testing.T) {
	checked := memory.NewCheckedAllocator(memory.NewGoAllocator())
	b, err := TryAllocate(checked, 128)
	require.NoError(t, err)
	assert.Len(t, b, 128)
	checked.Free(b)
	checked.AssertSize(t, 0)

	_, err = TryAllocate(panickingAllocator{value: "out of memory"}, 64)
	require.Error(t, err)
	assert.True(t, bgerrors.IsType(err, bgerrors.ErrorTypeCapacity))

	capacity := bgerrors.NewCapacityError("native.allocate", "mmap failed")
	_, err = TryAllocate(panickingAllocator{value: capacity}, 64)
	assert.Same(t, capacity, err)
}

func TestTrackingAllocator(t *testing.T) {
	checked := memory.NewCheckedAllocator(memory.NewGoAllocator())
	alloc := NewTrackingAllocator("test", checked)
	assert.Equal(t, "test", alloc.Label())

	a := alloc.Allocate(100)
	b := alloc.Allocate(50)
	assert.Equal(t, int64(150), alloc.Current())

	a = alloc.Reallocate(200, a)
	assert.Equal(t, int64(250), alloc.Current())

	alloc.Free(a)
	alloc.Free(b)
	assert.Zero(t, alloc.Current())
	assert.Equal(t, int64(350), alloc.BytesAllocated.Load())
	assert.Equal(t, int64(250), alloc.Peak())
	checked.AssertSize(t, 0)
}

func TestTrackingAllocator_DiscardForwards(t *testing.T) {
	native := NewNativeAllocator()
	alloc := NewTrackingAllocator("native", native)
	buf := alloc.Allocate(4096)
	buf[10] = 7
	require.NoError(t, alloc.Discard(buf))
	assert.Zero(t, buf[10])
	alloc.Free(buf)
	assert.Zero(t, native.Allocated())

	heap := NewTrackingAllocator("heap", memory.NewGoAllocator())
	hb := heap.Allocate(16)
	hb[3] = 9
	require.NoError(t, heap.Discard(hb))
	assert.Zero(t, hb[3])
}
