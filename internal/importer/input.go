package importer

import (
	"github.com/23skdu/bulkgraph/internal/core"
)

// Input is a batched source of relationship and node records. Batches are read by
// index and may be read concurrently and more than once, so every phase sees the
// records in the same order.
type Input interface {
	Estimates() core.Estimates
	RelationshipBatches() int
	// ReadRelationships appends the records of batch to dst[:0].
	ReadRelationships(batch int, dst []core.Relationship) ([]core.Relationship, error)
	NodeBatches() int
	// ReadNodes appends the records of batch to dst[:0].
	ReadNodes(batch int, dst []core.Node) ([]core.Node, error)
}

// DefaultBatchSize is the number of records per batch when none is given.
const DefaultBatchSize = 10_000

// SliceInput serves records held in memory.
type SliceInput struct {
	relationships []core.Relationship
	nodes         []core.Node
	batchSize     int
	estimates     core.Estimates
}

// NewSliceInput batches rels and nodes by batchSize records.
func NewSliceInput(rels []core.Relationship, nodes []core.Node, batchSize int) *SliceInput {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	in := &SliceInput{relationships: rels, nodes: nodes, batchSize: batchSize}
	var est estimator
	for _, r := range rels {
		est.relationship(r.Start, r.End, r.Type)
	}
	for _, n := range nodes {
		est.node(n.ID)
		for _, l := range n.Labels {
			est.label(l)
		}
	}
	in.estimates = est.estimates()
	return in
}

func (in *SliceInput) Estimates() core.Estimates { return in.estimates }

func (in *SliceInput) RelationshipBatches() int { return batches(len(in.relationships), in.batchSize) }

func (in *SliceInput) NodeBatches() int { return batches(len(in.nodes), in.batchSize) }

func (in *SliceInput) ReadRelationships(batch int, dst []core.Relationship) ([]core.Relationship, error) {
	lo, hi := bounds(batch, len(in.relationships), in.batchSize)
	return append(dst[:0], in.relationships[lo:hi]...), nil
}

func (in *SliceInput) ReadNodes(batch int, dst []core.Node) ([]core.Node, error) {
	lo, hi := bounds(batch, len(in.nodes), in.batchSize)
	return append(dst[:0], in.nodes[lo:hi]...), nil
}

func batches(n, size int) int { return (n + size - 1) / size }

func bounds(batch, n, size int) (int, int) {
	lo := min(batch*size, n)
	return lo, min(lo+size, n)
}

// estimator derives Estimates from the records it is shown.
type estimator struct {
	highNodeID int64
	rels       int64
	highLabel  int
	highType   int
	seen       bool
}

func (e *estimator) node(id int64) {
	if !e.seen || id > e.highNodeID {
		e.highNodeID = id
	}
	e.seen = true
}

func (e *estimator) relationship(start, end int64, typeID int) {
	e.node(start)
	e.node(end)
	e.rels++
	e.highType = max(e.highType, typeID)
}

func (e *estimator) label(l int) { e.highLabel = max(e.highLabel, l) }

func (e *estimator) estimates() core.Estimates {
	nodes := int64(0)
	if e.seen {
		nodes = e.highNodeID + 1
	}
	return core.Estimates{
		NumberOfNodes:         nodes,
		NumberOfRelationships: e.rels,
		HighLabelID:           e.highLabel,
		HighRelationshipType:  e.highType,
	}
}
