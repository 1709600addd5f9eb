package importer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/bulkgraph/internal/core"
	bgerrors "github.com/23skdu/bulkgraph/internal/errors"
)

func TestSliceInput_Batches(t *testing.T) {
	in := NewSliceInput(testRels, testNodes, 4)
	assert.Equal(t, 2, in.RelationshipBatches())
	assert.Equal(t, 1, in.NodeBatches())

	batch, err := in.ReadRelationships(1, nil)
	require.NoError(t, err)
	assert.Equal(t, testRels[4:], batch)

	assert.Equal(t, core.Estimates{
		NumberOfNodes:         6,
		NumberOfRelationships: 6,
		HighLabelID:           14,
		HighRelationshipType:  2,
	}, in.Estimates())

	empty := NewSliceInput(nil, nil, 0)
	assert.Equal(t, core.Estimates{}, empty.Estimates())
	assert.Zero(t, empty.RelationshipBatches())
}

func TestArrowInput_ReadsRecords(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	relRecs := []arrow.Record{NewRelationshipRecord(mem, testRels[:3]), NewRelationshipRecord(mem, testRels[3:])}
	nodeRecs := []arrow.Record{NewNodeRecord(mem, testNodes)}
	in, err := NewArrowInput(relRecs, nodeRecs)
	require.NoError(t, err)
	for _, rec := range append(relRecs, nodeRecs...) {
		rec.Release()
	}
	defer in.Release()

	assert.Equal(t, NewSliceInput(testRels, testNodes, 1).Estimates(), in.Estimates())
	require.Equal(t, 2, in.RelationshipBatches())

	var got []core.Relationship
	for b := 0; b < in.RelationshipBatches(); b++ {
		batch, err := in.ReadRelationships(b, nil)
		require.NoError(t, err)
		got = append(got, batch...)
	}
	assert.Equal(t, testRels, got)

	nodes, err := in.ReadNodes(0, nil)
	require.NoError(t, err)
	require.Len(t, nodes, len(testNodes))
	for i := range testNodes {
		assert.Equal(t, testNodes[i].ID, nodes[i].ID)
		assert.Equal(t, testNodes[i].Labels, nodes[i].Labels)
	}
}

func TestArrowInput_RejectsWrongSchema(t *testing.T) {
	mem := memory.NewGoAllocator()
	schema := arrow.NewSchema([]arrow.Field{{Name: "id", Type: arrow.PrimitiveTypes.Int32}}, nil)
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()
	b.Field(0).(*array.Int32Builder).Append(1)
	rec := b.NewRecord()
	defer rec.Release()

	_, err := NewArrowInput([]arrow.Record{rec}, nil)
	require.Error(t, err)
	assert.True(t, bgerrors.IsType(err, bgerrors.ErrorTypeInput))
	assert.Contains(t, err.Error(), "relationship batch 0")
}

func writeFixtures(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	relPath := filepath.Join(dir, "relationships.parquet")
	nodePath := filepath.Join(dir, "nodes.parquet")

	f, err := os.Create(relPath)
	require.NoError(t, err)
	require.NoError(t, WriteParquetRelationships(f, testRels))
	require.NoError(t, f.Close())

	f, err = os.Create(nodePath)
	require.NoError(t, err)
	require.NoError(t, WriteParquetNodes(f, testNodes))
	require.NoError(t, f.Close())
	return relPath, nodePath
}

func TestParquetInput_RoundTrip(t *testing.T) {
	relPath, nodePath := writeFixtures(t)
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	in, err := OpenParquetInput(relPath, nodePath, 4, mem)
	require.NoError(t, err)
	defer in.Release()

	assert.Equal(t, 2, in.RelationshipBatches())
	assert.Equal(t, NewSliceInput(testRels, testNodes, 1).Estimates(), in.Estimates())

	sink := NewMemorySink()
	im := newTestImporter(t, 2)
	_, err = im.Run(context.Background(), in, sink)
	require.NoError(t, err)
	assertTestGraph(t, sink)
}

func TestParquetInput_MissingFile(t *testing.T) {
	_, err := OpenParquetInput(filepath.Join(t.TempDir(), "nope.parquet"), "", 10, memory.NewGoAllocator())
	require.Error(t, err)
	assert.True(t, bgerrors.IsType(err, bgerrors.ErrorTypeInput))
}
