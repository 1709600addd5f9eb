package importer

import (
	"errors"
	"io"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/parquet-go/parquet-go"

	"github.com/23skdu/bulkgraph/internal/core"
	bgerrors "github.com/23skdu/bulkgraph/internal/errors"
)

// RelationshipRow is the parquet row of one relationship.
type RelationshipRow struct {
	ID    int64 `parquet:"id"`
	Start int64 `parquet:"start"`
	End   int64 `parquet:"end"`
	Type  int32 `parquet:"type"`
}

// NodeRow is the parquet row of one node.
type NodeRow struct {
	ID     int64   `parquet:"id"`
	Labels []int32 `parquet:"labels"`
}

// WriteParquetRelationships writes rels as one parquet file.
func WriteParquetRelationships(w io.Writer, rels []core.Relationship) error {
	rows := make([]RelationshipRow, len(rels))
	for i, r := range rels {
		rows[i] = RelationshipRow{ID: r.ID, Start: r.Start, End: r.End, Type: int32(r.Type)}
	}
	return writeRows(w, rows)
}

// WriteParquetNodes writes nodes as one parquet file.
func WriteParquetNodes(w io.Writer, nodes []core.Node) error {
	rows := make([]NodeRow, len(nodes))
	for i, n := range nodes {
		labels := make([]int32, len(n.Labels))
		for j, l := range n.Labels {
			labels[j] = int32(l)
		}
		rows[i] = NodeRow{ID: n.ID, Labels: labels}
	}
	return writeRows(w, rows)
}

func writeRows[T any](w io.Writer, rows []T) error {
	pw := parquet.NewGenericWriter[T](w, parquet.Compression(&parquet.Zstd))
	if _, err := pw.Write(rows); err != nil {
		_ = pw.Close()
		return bgerrors.WrapStorageError(err, "importer.write_parquet", "write rows")
	}
	if err := pw.Close(); err != nil {
		return bgerrors.WrapStorageError(err, "importer.write_parquet", "close writer")
	}
	return nil
}

// OpenParquetInput reads a relationship file and a node file into arrow batches of
// batchSize rows. Either path may be empty. The caller releases the input.
func OpenParquetInput(relPath, nodePath string, batchSize int, mem memory.Allocator) (*ArrowInput, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	var rels, nodes []arrow.Record
	release := func() {
		for _, rec := range append(rels, nodes...) {
			rec.Release()
		}
	}
	defer release()

	if relPath != "" {
		err := readParquet(relPath, batchSize, func(rows []RelationshipRow) {
			batch := make([]core.Relationship, len(rows))
			for i, r := range rows {
				batch[i] = core.Relationship{ID: r.ID, Start: r.Start, End: r.End, Type: int(r.Type)}
			}
			rels = append(rels, NewRelationshipRecord(mem, batch))
		})
		if err != nil {
			return nil, err
		}
	}
	if nodePath != "" {
		err := readParquet(nodePath, batchSize, func(rows []NodeRow) {
			batch := make([]core.Node, len(rows))
			for i, r := range rows {
				labels := make([]int, len(r.Labels))
				for j, l := range r.Labels {
					labels[j] = int(l)
				}
				batch[i] = core.Node{ID: r.ID, Labels: labels}
			}
			nodes = append(nodes, NewNodeRecord(mem, batch))
		})
		if err != nil {
			return nil, err
		}
	}
	// NewArrowInput retains what it keeps; the deferred release drops the builders'
	// references.
	return NewArrowInput(rels, nodes)
}

func readParquet[T any](path string, batchSize int, fn func([]T)) error {
	f, err := os.Open(path)
	if err != nil {
		return bgerrors.WrapInputError(err, "importer.read_parquet", "open "+path)
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return bgerrors.WrapInputError(err, "importer.read_parquet", "stat "+path)
	}
	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return bgerrors.WrapInputError(err, "importer.read_parquet", "open parquet "+path)
	}

	pr := parquet.NewGenericReader[T](pf)
	defer func() { _ = pr.Close() }()

	rows := make([]T, batchSize)
	for {
		n, err := pr.Read(rows)
		if n > 0 {
			fn(rows[:n])
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return bgerrors.WrapInputError(err, "importer.read_parquet", "read "+path)
		}
		if n == 0 {
			return nil
		}
	}
}
