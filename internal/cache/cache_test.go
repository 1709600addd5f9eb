package cache

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/bulkgraph/internal/numarray"
)

// heapFactory places every array on a checked heap allocator so tests can assert
// that Close returns all memory.
func heapFactory(t *testing.T) (*numarray.Factory, *memory.CheckedAllocator) {
	t.Helper()
	checked := memory.NewCheckedAllocator(memory.NewGoAllocator())
	cfg := numarray.DefaultFactoryConfig()
	cfg.Policy = numarray.Heap
	f, err := numarray.NewFactory(cfg, numarray.WithHeapAllocator(checked))
	require.NoError(t, err)
	return f, checked
}
