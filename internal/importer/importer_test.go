package importer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/bulkgraph/internal/core"
	bgerrors "github.com/23skdu/bulkgraph/internal/errors"
	bgmemory "github.com/23skdu/bulkgraph/internal/memory"
	"github.com/23skdu/bulkgraph/internal/metrics"
	"github.com/23skdu/bulkgraph/internal/numarray"
)

// Node 0 has five relationships and is dense at threshold 3; the others are sparse.
// The labels of node 5 do not fit one word.
var (
	testRels = []core.Relationship{
		{ID: 0, Start: 0, End: 1, Type: 2},
		{ID: 1, Start: 0, End: 2, Type: 1},
		{ID: 2, Start: 3, End: 0, Type: 2},
		{ID: 3, Start: 0, End: 0, Type: 1},
		{ID: 4, Start: 1, End: 2, Type: 0},
		{ID: 5, Start: 0, End: 4, Type: 2},
	}
	testNodes = []core.Node{
		{ID: 0, Labels: []int{2, 1}},
		{ID: 3, Labels: []int{0}},
		{ID: 5, Labels: []int{14, 13, 12, 11, 10, 9, 8, 7, 6, 5, 4, 3, 2, 1, 0}},
	}
)

func relsByID() map[int64]core.Relationship {
	m := make(map[int64]core.Relationship)
	for _, r := range testRels {
		m[r.ID] = r
	}
	return m
}

func newTestImporter(t *testing.T, workers int) *Importer {
	t.Helper()
	checked := memory.NewCheckedAllocator(memory.NewGoAllocator())
	cfg := numarray.DefaultFactoryConfig()
	cfg.Policy = numarray.OffHeap
	f, err := numarray.NewFactory(cfg, numarray.WithOffHeapAllocator(checked))
	require.NoError(t, err)
	t.Cleanup(func() { checked.AssertSize(t, 0) })

	im, err := New(f, Config{
		DenseNodeThreshold: 3,
		Workers:            workers,
		NodeChunkSize:      4,
		GroupChunkSize:     2,
	}, zerolog.Nop())
	require.NoError(t, err)
	return im
}

func TestImporter_Run(t *testing.T) {
	for _, workers := range []int{1, 3} {
		t.Run(fmt.Sprintf("%d workers", workers), func(t *testing.T) {
			im := newTestImporter(t, workers)
			sink := NewMemorySink()
			countedBefore := testutil.ToFloat64(metrics.ImportRecordsTotal.WithLabelValues(PhaseCounting))

			sum, err := im.Run(context.Background(), NewSliceInput(testRels, testNodes, 2), sink)
			require.NoError(t, err)
			assertTestGraph(t, sink)

			assert.Equal(t, int64(6), sum.Nodes)
			assert.Equal(t, int64(6), sum.Relationships)
			assert.Equal(t, int64(1), sum.DenseNodes)
			assert.Equal(t, int64(2), sum.Groups)
			assert.Positive(t, sum.SpillOverWords)
			assert.Positive(t, sum.Memory.OffHeap)
			assert.Contains(t, sum.Phases, PhaseFlush)
			assert.Equal(t, float64(6), testutil.ToFloat64(metrics.ImportRecordsTotal.WithLabelValues(PhaseCounting))-countedBefore)
		})
	}
}

func assertTestGraph(t *testing.T, sink *MemorySink) {
	t.Helper()
	rels := relsByID()
	assert.Equal(t, 6, sink.NumberOfNodes())

	// Dense node: one group per type in type order.
	dense, ok := sink.Lookup(0)
	require.True(t, ok)
	assert.True(t, dense.Dense)
	groups := sink.Groups(0)
	require.Len(t, groups, 2)
	assert.Equal(t, groups[0].ID, dense.FirstRel)
	assert.Equal(t, GroupRecord{ID: groups[0].ID, Type: 1, Next: groups[0].Next, Out: 1, In: core.Empty, Loop: 3}, groups[0])
	assert.Equal(t, GroupRecord{ID: groups[1].ID, Type: 2, Next: core.Empty, Out: 5, In: 2, Loop: core.Empty}, groups[1])
	assert.NotEqual(t, core.Empty, groups[0].Next)
	assert.ElementsMatch(t, []int{1, 2}, dense.Labels)

	// The type 2 outgoing chain of the dense node runs 5 then 0.
	next, ok := sink.Next(5, core.StartEndpoint)
	require.True(t, ok)
	assert.Equal(t, int64(0), next)
	next, _ = sink.Next(0, core.StartEndpoint)
	assert.Equal(t, core.Empty, next)

	// Sparse nodes start at their most recently linked relationship.
	n1, _ := sink.Lookup(1)
	assert.False(t, n1.Dense)
	assert.Equal(t, []int64{4, 0}, sink.Chain(1, n1.FirstRel, rels))
	n2, _ := sink.Lookup(2)
	assert.Equal(t, []int64{4, 1}, sink.Chain(2, n2.FirstRel, rels))
	n3, _ := sink.Lookup(3)
	assert.Equal(t, []int64{2}, sink.Chain(3, n3.FirstRel, rels))
	assert.Equal(t, []int{0}, n3.Labels)

	n5, _ := sink.Lookup(5)
	assert.Equal(t, core.Empty, n5.FirstRel)
	assert.Equal(t, []int{14, 13, 12, 11, 10, 9, 8, 7, 6, 5, 4, 3, 2, 1, 0}, n5.Labels, "spilled list keeps its order")
	n4, _ := sink.Lookup(4)
	assert.Empty(t, n4.Labels)
}

func TestImporter_FlushUntouchedChunks(t *testing.T) {
	// Chunks of four nodes: only nodes 1, 2 and 17 take part in relationships.
	rels := []core.Relationship{
		{ID: 0, Start: 1, End: 2, Type: 0},
		{ID: 1, Start: 17, End: 2, Type: 0},
	}
	nodes := []core.Node{{ID: 9, Labels: []int{1}}, {ID: 22}}
	byID := map[int64]core.Relationship{0: rels[0], 1: rels[1]}

	for _, workers := range []int{1, 3, 8} {
		t.Run(fmt.Sprintf("%d workers", workers), func(t *testing.T) {
			im := newTestImporter(t, workers)
			sink := NewMemorySink()
			_, err := im.Run(context.Background(), NewSliceInput(rels, nodes, 1), sink)
			require.NoError(t, err)

			require.Equal(t, 23, sink.NumberOfNodes())
			for id := int64(0); id < 23; id++ {
				n, ok := sink.Lookup(id)
				require.True(t, ok, "node %d", id)
				switch id {
				case 1:
					assert.Equal(t, []int64{0}, sink.Chain(1, n.FirstRel, byID))
				case 2:
					assert.Equal(t, []int64{1, 0}, sink.Chain(2, n.FirstRel, byID))
				case 17:
					assert.Equal(t, []int64{1}, sink.Chain(17, n.FirstRel, byID))
				default:
					assert.Equal(t, core.Empty, n.FirstRel, "node %d", id)
				}
			}
			n9, _ := sink.Lookup(9)
			assert.Equal(t, []int{1}, n9.Labels)
		})
	}
}

type shortInput struct {
	*SliceInput
	nodes int64
}

func (s shortInput) Estimates() core.Estimates {
	est := s.SliceInput.Estimates()
	est.NumberOfNodes = s.nodes
	return est
}

func TestImporter_NodeOutOfRange(t *testing.T) {
	im := newTestImporter(t, 2)
	_, err := im.Run(context.Background(), shortInput{NewSliceInput(testRels, testNodes, 10), 3}, NewMemorySink())
	require.Error(t, err)

	var pe *PhaseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, PhaseCounting, pe.Phase)
	assert.Equal(t, "relationship", pe.Entity)
	assert.True(t, bgerrors.IsType(err, bgerrors.ErrorTypeInput))
}

type panickingSink struct {
	*MemorySink
	at int64
}

func (s panickingSink) Node(nodeID, firstRel int64, dense bool, labels []int) {
	if nodeID == s.at {
		panic(bgerrors.NewStorageError("sink.node", "disk full"))
	}
	s.MemorySink.Node(nodeID, firstRel, dense, labels)
}

func TestImporter_PanicBecomesPhaseError(t *testing.T) {
	im := newTestImporter(t, 2)
	failuresBefore := testutil.ToFloat64(metrics.ImportFailuresTotal.WithLabelValues(PhaseFlush))

	_, err := im.Run(context.Background(), NewSliceInput(testRels, testNodes, 4), panickingSink{NewMemorySink(), 4})
	var pe *PhaseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, PhaseFlush, pe.Phase)
	assert.Equal(t, "node", pe.Entity)
	assert.Equal(t, int64(4), pe.ID)
	assert.True(t, bgerrors.IsType(err, bgerrors.ErrorTypeStorage))
	assert.Contains(t, err.Error(), "at node 4")
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ImportFailuresTotal.WithLabelValues(PhaseFlush))-failuresBefore)
}

func TestImporter_Cancelled(t *testing.T) {
	im := newTestImporter(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := im.Run(ctx, NewSliceInput(testRels, testNodes, 1), NewMemorySink())
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestImporter_InsufficientMemory(t *testing.T) {
	cfg := numarray.DefaultFactoryConfig()
	cfg.SafetyMargin = 0
	f, err := numarray.NewFactory(cfg, numarray.WithAvailability(bgmemory.FixedAvailability{}))
	require.NoError(t, err)
	im, err := New(f, Config{DenseNodeThreshold: 3, Workers: 1, NodeChunkSize: 4}, zerolog.Nop())
	require.NoError(t, err)

	_, err = im.Run(context.Background(), NewSliceInput(testRels, testNodes, 2), NewMemorySink())
	require.Error(t, err)
	assert.True(t, bgerrors.IsType(err, bgerrors.ErrorTypeCapacity))
	var insufficient *core.ErrInsufficientMemory
	assert.ErrorAs(t, err, &insufficient)
}

func TestNew_Validation(t *testing.T) {
	f, err := numarray.NewFactory(numarray.DefaultFactoryConfig())
	require.NoError(t, err)
	_, err = New(f, Config{}, zerolog.Nop())
	assert.True(t, bgerrors.IsType(err, bgerrors.ErrorTypeConfiguration))

	im, err := New(f, Config{DenseNodeThreshold: 10}, zerolog.Nop())
	require.NoError(t, err)
	assert.Positive(t, im.cfg.Workers)
	assert.Equal(t, int64(DefaultDenseNodeThreshold), DefaultConfig().DenseNodeThreshold)
}
