package importer

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/bulkgraph/internal/core"
	bgerrors "github.com/23skdu/bulkgraph/internal/errors"
)

// RelationshipSchema is the column layout of relationship record batches.
var RelationshipSchema = arrow.NewSchema([]arrow.Field{
	{Name: "id", Type: arrow.PrimitiveTypes.Int64},
	{Name: "start", Type: arrow.PrimitiveTypes.Int64},
	{Name: "end", Type: arrow.PrimitiveTypes.Int64},
	{Name: "type", Type: arrow.PrimitiveTypes.Int32},
}, nil)

// NodeSchema is the column layout of node record batches.
var NodeSchema = arrow.NewSchema([]arrow.Field{
	{Name: "id", Type: arrow.PrimitiveTypes.Int64},
	{Name: "labels", Type: arrow.ListOf(arrow.PrimitiveTypes.Int32), Nullable: true},
}, nil)

type relationshipColumns struct {
	id, start, end *array.Int64
	typ            *array.Int32
}

type nodeColumns struct {
	id     *array.Int64
	labels *array.List
	values *array.Int32
}

// ArrowInput serves records from arrow record batches, one batch per record.
type ArrowInput struct {
	rels      []arrow.Record
	nodes     []arrow.Record
	relCols   []relationshipColumns
	nodeCols  []nodeColumns
	estimates core.Estimates
}

// NewArrowInput takes a reference to every record; Release gives them back.
func NewArrowInput(rels, nodes []arrow.Record) (*ArrowInput, error) {
	in := &ArrowInput{rels: rels, nodes: nodes}
	var est estimator
	for i, rec := range rels {
		cols, err := relationshipColumnsOf(rec)
		if err != nil {
			return nil, bgerrors.WrapInputError(err, "importer.arrow_input",
				fmt.Sprintf("relationship batch %d", i))
		}
		in.relCols = append(in.relCols, cols)
		for r := 0; r < int(rec.NumRows()); r++ {
			est.relationship(cols.start.Value(r), cols.end.Value(r), int(cols.typ.Value(r)))
		}
	}
	for i, rec := range nodes {
		cols, err := nodeColumnsOf(rec)
		if err != nil {
			return nil, bgerrors.WrapInputError(err, "importer.arrow_input",
				fmt.Sprintf("node batch %d", i))
		}
		in.nodeCols = append(in.nodeCols, cols)
		for r := 0; r < int(rec.NumRows()); r++ {
			est.node(cols.id.Value(r))
		}
		for _, l := range cols.values.Int32Values() {
			est.label(int(l))
		}
	}
	in.estimates = est.estimates()
	for _, rec := range rels {
		rec.Retain()
	}
	for _, rec := range nodes {
		rec.Retain()
	}
	return in, nil
}

func relationshipColumnsOf(rec arrow.Record) (relationshipColumns, error) {
	var cols relationshipColumns
	var err error
	if cols.id, err = column[*array.Int64](rec, "id"); err != nil {
		return cols, err
	}
	if cols.start, err = column[*array.Int64](rec, "start"); err != nil {
		return cols, err
	}
	if cols.end, err = column[*array.Int64](rec, "end"); err != nil {
		return cols, err
	}
	cols.typ, err = column[*array.Int32](rec, "type")
	return cols, err
}

func nodeColumnsOf(rec arrow.Record) (nodeColumns, error) {
	var cols nodeColumns
	var err error
	if cols.id, err = column[*array.Int64](rec, "id"); err != nil {
		return cols, err
	}
	if cols.labels, err = column[*array.List](rec, "labels"); err != nil {
		return cols, err
	}
	values, ok := cols.labels.ListValues().(*array.Int32)
	if !ok {
		return cols, fmt.Errorf("labels must be a list of int32, got %s", cols.labels.DataType())
	}
	cols.values = values
	return cols, nil
}

func column[T arrow.Array](rec arrow.Record, name string) (T, error) {
	var zero T
	idx := rec.Schema().FieldIndices(name)
	if len(idx) == 0 {
		return zero, fmt.Errorf("missing column %q", name)
	}
	col, ok := rec.Column(idx[0]).(T)
	if !ok {
		return zero, fmt.Errorf("column %q has type %s", name, rec.Column(idx[0]).DataType())
	}
	return col, nil
}

func (in *ArrowInput) Estimates() core.Estimates { return in.estimates }

func (in *ArrowInput) RelationshipBatches() int { return len(in.rels) }

func (in *ArrowInput) NodeBatches() int { return len(in.nodes) }

func (in *ArrowInput) ReadRelationships(batch int, dst []core.Relationship) ([]core.Relationship, error) {
	dst = dst[:0]
	cols := in.relCols[batch]
	for r := 0; r < cols.id.Len(); r++ {
		dst = append(dst, core.Relationship{
			ID:    cols.id.Value(r),
			Start: cols.start.Value(r),
			End:   cols.end.Value(r),
			Type:  int(cols.typ.Value(r)),
		})
	}
	return dst, nil
}

func (in *ArrowInput) ReadNodes(batch int, dst []core.Node) ([]core.Node, error) {
	dst = dst[:0]
	cols := in.nodeCols[batch]
	for r := 0; r < cols.id.Len(); r++ {
		var labels []int
		if cols.labels.IsValid(r) {
			lo, hi := cols.labels.ValueOffsets(r)
			labels = make([]int, 0, hi-lo)
			for i := lo; i < hi; i++ {
				labels = append(labels, int(cols.values.Value(int(i))))
			}
		}
		dst = append(dst, core.Node{ID: cols.id.Value(r), Labels: labels})
	}
	return dst, nil
}

// Release drops the references taken by NewArrowInput.
func (in *ArrowInput) Release() {
	for _, rec := range in.rels {
		rec.Release()
	}
	for _, rec := range in.nodes {
		rec.Release()
	}
	in.rels, in.nodes = nil, nil
}

// NewRelationshipRecord builds one relationship batch.
func NewRelationshipRecord(mem memory.Allocator, rels []core.Relationship) arrow.Record {
	b := array.NewRecordBuilder(mem, RelationshipSchema)
	defer b.Release()

	ids := b.Field(0).(*array.Int64Builder)
	starts := b.Field(1).(*array.Int64Builder)
	ends := b.Field(2).(*array.Int64Builder)
	types := b.Field(3).(*array.Int32Builder)
	for _, r := range rels {
		ids.Append(r.ID)
		starts.Append(r.Start)
		ends.Append(r.End)
		types.Append(int32(r.Type))
	}
	return b.NewRecord()
}

// NewNodeRecord builds one node batch.
func NewNodeRecord(mem memory.Allocator, nodes []core.Node) arrow.Record {
	b := array.NewRecordBuilder(mem, NodeSchema)
	defer b.Release()

	ids := b.Field(0).(*array.Int64Builder)
	lists := b.Field(1).(*array.ListBuilder)
	values := lists.ValueBuilder().(*array.Int32Builder)
	for _, n := range nodes {
		ids.Append(n.ID)
		lists.Append(true)
		for _, l := range n.Labels {
			values.Append(int32(l))
		}
	}
	return b.NewRecord()
}
