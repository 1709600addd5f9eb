// Package cache holds the per-node adjacency and label staging caches of a bulk
// import. Both keep one packed word per node in arrays placed by a numarray.Factory.
package cache

import (
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/rs/zerolog"

	"github.com/23skdu/bulkgraph/internal/core"
	bgerrors "github.com/23skdu/bulkgraph/internal/errors"
	"github.com/23skdu/bulkgraph/internal/metrics"
	"github.com/23skdu/bulkgraph/internal/numarray"
	"github.com/23skdu/bulkgraph/internal/packed"
)

const (
	idBits    = 40
	countBits = 24
	typeBits  = 24

	nodeEntryBytes = 8
	nodeFlagBytes  = 1
)

// Per-node flag bits, kept in a byte array next to the node words.
const (
	flagDenseChanged byte = 1 << iota
	flagSparseChanged
	flagExplicitlyDense
)

// Per-chunk change marks.
const (
	chunkSparseChanged uint32 = 1 << iota
	chunkDenseChanged
)

// GroupVisitor is called for every relationship group of a dense node, in list
// order. next is the index of the following group, or -1 for the last one. The
// value returned for the first group is what GetFirstRel returns.
type GroupVisitor func(nodeID int64, typeID int, next, out, in, loop int64) int64

// NoGroupVisitor visits nothing and returns -1.
func NoGroupVisitor(int64, int, int64, int64, int64, int64) int64 { return core.Empty }

// NodeRelationshipCache stages the adjacency of every node between the counting
// and linking passes of an import.
//
// Each node has one word holding an id and a count. The count is the degree found by
// IncrementCount. For a sparse node the id is the most recently linked relationship;
// for a dense node it is the index of the node's first relationship group. Group
// lists are kept sorted by type, and inserting a new smallest type swaps records so
// that the node's own index never changes once set.
//
// Linking marks every node it touches as changed, and the chunk holding it, so
// VisitChangedNodes can skip untouched chunks. A changed node has its change bit
// equal to the scan direction set by SetForwardScan; flipping the direction makes
// every node unchanged again without clearing anything.
//
// Only group allocation and change marks are safe for concurrent callers. Everything
// else assumes a node is mutated by one goroutine at a time.
type NodeRelationshipCache struct {
	field     *packed.IDCount
	threshold int64
	logger    zerolog.Logger

	nodesDyn *numarray.DynamicLongArray
	nodes    numarray.LongArray
	flagsDyn *numarray.DynamicByteArray
	flags    numarray.ByteArray
	counts   *counts
	groups   *groups

	chunkSize  int64
	chunkMu    sync.RWMutex
	chunkMarks []atomic.Uint32
	forward    atomic.Bool

	highNodeID atomic.Int64
	armed      atomic.Bool
	dense      *roaring64.Bitmap
	closed     atomic.Bool
}

// NewNodeRelationshipCache creates an empty cache. A node becomes dense when its
// counted degree reaches denseNodeThreshold.
func NewNodeRelationshipCache(f *numarray.Factory, denseNodeThreshold int64, opts ...Option) (*NodeRelationshipCache, error) {
	if denseNodeThreshold < 1 {
		return nil, bgerrors.NewConfigurationError("cache.new_relationship_cache",
			fmt.Sprintf("dense node threshold must be positive, got %d", denseNodeThreshold))
	}
	o := buildOptions("relationship_cache", opts)
	if o.nodeChunkSize < 1 || o.groupChunkSize < 1 {
		return nil, bgerrors.NewConfigurationError("cache.new_relationship_cache", "chunk sizes must be positive")
	}

	field := packed.MustIDCount(idBits, countBits)
	nodes, err := f.NewDynamicLongArray(o.nodeChunkSize, field.EmptyField())
	if err != nil {
		return nil, err
	}
	flags, err := f.NewDynamicByteArray(o.nodeChunkSize, []byte{0})
	if err != nil {
		return nil, stderrors.Join(err, nodes.Close())
	}
	gs, err := newGroups(f, o.groupChunkSize, field)
	if err != nil {
		return nil, stderrors.Join(err, nodes.Close(), flags.Close())
	}

	c := &NodeRelationshipCache{
		field:     field,
		threshold: denseNodeThreshold,
		logger:    o.logger,
		nodesDyn:  nodes,
		nodes:     nodes,
		flagsDyn:  flags,
		flags:     flags,
		counts:    newCounts(field),
		groups:    gs,
		chunkSize: o.nodeChunkSize,
		dense:     roaring64.NewBitmap(),
	}
	c.highNodeID.Store(core.Empty)
	c.forward.Store(true)
	return c, nil
}

// SetNodeCount records how many nodes the import has and allocates their entries up
// front, so the counting pass does not grow the node array.
func (c *NodeRelationshipCache) SetNodeCount(n int64) error {
	if n < 0 || n-1 > c.field.MaxID() {
		return bgerrors.NewOverflowError("cache.set_node_count",
			fmt.Sprintf("node count %d exceeds the id capacity %d", n, c.field.MaxID()+1))
	}
	c.highNodeID.Store(n - 1)
	if n == 0 {
		return nil
	}
	if c.nodesDyn == nil {
		if n > c.nodes.Length() {
			return bgerrors.NewBoundsError("cache.set_node_count",
				fmt.Sprintf("node count %d exceeds fixated length %d", n, c.nodes.Length()))
		}
		return nil
	}
	return stderrors.Join(c.nodesDyn.EnsureChunkAt(n-1), c.flagsDyn.EnsureChunkAt(n-1))
}

// nodeRange is one past the highest node id the cache can hold entries for.
func (c *NodeRelationshipCache) nodeRange() int64 {
	if high := c.highNodeID.Load(); high != core.Empty {
		return high + 1
	}
	return c.nodes.Length()
}

func (c *NodeRelationshipCache) nodeCount(nodeID int64) int64 {
	return c.counts.get(c.nodes.Get(nodeID), nodeID)
}

// IncrementCount adds one to the degree of nodeID and returns the new degree.
func (c *NodeRelationshipCache) IncrementCount(nodeID int64) int64 {
	word, n := c.counts.increment(c.nodes.Get(nodeID), nodeID, 1)
	c.nodes.Set(nodeID, word)
	return n
}

// IsDense reports whether the degree of nodeID has reached the threshold or the node
// was marked explicitly dense. It answers false until CountingCompleted has been called.
func (c *NodeRelationshipCache) IsDense(nodeID int64) bool {
	if !c.armed.Load() {
		return false
	}
	return c.denseByCount(nodeID)
}

func (c *NodeRelationshipCache) denseByCount(nodeID int64) bool {
	return c.flags.GetByte(nodeID, 0)&flagExplicitlyDense != 0 || c.nodeCount(nodeID) >= c.threshold
}

// MarkAsExplicitlyDense makes nodeID dense whatever its degree, as incremental imports
// do for nodes that are dense in the existing store. It must be called before
// CountingCompleted.
func (c *NodeRelationshipCache) MarkAsExplicitlyDense(nodeID int64) error {
	if c.armed.Load() {
		return bgerrors.NewConfigurationError("cache.mark_explicitly_dense",
			fmt.Sprintf("node %d marked dense after counting completed", nodeID))
	}
	c.flags.SetByte(nodeID, 0, c.flags.GetByte(nodeID, 0)|flagExplicitlyDense)
	return nil
}

// CountingCompleted ends the counting pass. From here on nodes at or above the
// threshold are dense, and the set of dense nodes is recorded for VisitNodes.
func (c *NodeRelationshipCache) CountingCompleted() {
	c.armed.Store(true)
	dense := roaring64.NewBitmap()
	n := c.nodeRange()
	for id := int64(0); id < n; id++ {
		if c.denseByCount(id) {
			dense.Add(uint64(id))
		}
	}
	c.dense = dense
	metrics.DenseNodes.Set(float64(dense.GetCardinality()))
	c.logger.Info().
		Int64("nodes", n).
		Uint64("dense_nodes", dense.GetCardinality()).
		Int64("threshold", c.threshold).
		Msg("Counting completed")
}

// NumberOfDenseNodes is the number of dense nodes found by CountingCompleted.
func (c *NodeRelationshipCache) NumberOfDenseNodes() int64 {
	return int64(c.dense.GetCardinality())
}

// NumberOfGroups is the number of relationship groups allocated so far.
func (c *NodeRelationshipCache) NumberOfGroups() int64 {
	return c.groups.count()
}

// GetAndPutRelationship links relID to nodeID and returns the id it replaces, or -1.
//
// A sparse node's id becomes relID; the first link of a node in a scan returns -1,
// since whatever id it held belongs to the previous scan. A dense node stores relID
// in the direction slot of its group for typeID, creating that group when needed.
// With incrementCount the group's count for the direction goes up by one.
func (c *NodeRelationshipCache) GetAndPutRelationship(nodeID int64, typeID int, d core.Direction, relID int64, incrementCount bool) int64 {
	word := c.nodes.Get(nodeID)
	dense := c.IsDense(nodeID)
	firstChange := c.markAsChanged(nodeID, dense)
	if !dense {
		c.nodes.Set(nodeID, c.field.SetID(word, relID))
		if firstChange {
			return core.Empty
		}
		return c.field.ID(word)
	}

	head := c.field.ID(word)
	if head == core.Empty {
		g := c.groups.allocate(typeID)
		c.nodes.Set(nodeID, c.field.SetID(word, g))
		return c.groups.getAndPut(g, d, relID, incrementCount)
	}
	g := c.groups.findOrInsert(head, typeID)
	return c.groups.getAndPut(g, d, relID, incrementCount)
}

// GetFirstRel returns the id a node's store record should point at. For a sparse
// node that is its last linked relationship. For a dense node every group is passed
// to visitor in type order and the result for the first group is returned.
func (c *NodeRelationshipCache) GetFirstRel(nodeID int64, visitor GroupVisitor) int64 {
	id := c.field.ID(c.nodes.Get(nodeID))
	if id == core.Empty || !c.IsDense(nodeID) {
		return id
	}
	first := core.Empty
	for g, i := id, 0; g != core.Empty; i++ {
		next := c.groups.nextOf(g)
		r := visitor(nodeID, c.groups.typeOf(g), next,
			c.field.ID(c.groups.slot(g, core.Outgoing)),
			c.field.ID(c.groups.slot(g, core.Incoming)),
			c.field.ID(c.groups.slot(g, core.Loop)))
		if i == 0 {
			first = r
		}
		g = next
	}
	return first
}

// GetCount returns the relationship count of a dense node's group for typeID in
// direction d, or 0 when the node has no such group. For a sparse node it returns
// the node's degree.
func (c *NodeRelationshipCache) GetCount(nodeID int64, typeID int, d core.Direction) int64 {
	if !c.IsDense(nodeID) {
		return c.nodeCount(nodeID)
	}
	g := c.groupFor(nodeID, typeID)
	if g == core.Empty {
		return 0
	}
	return c.groups.relCount(g, d)
}

// GetCountAndReset is GetCount that also zeroes a dense node's group count, so the
// count can be rebuilt by the next scan. Sparse degrees are left alone.
func (c *NodeRelationshipCache) GetCountAndReset(nodeID int64, typeID int, d core.Direction) int64 {
	if !c.IsDense(nodeID) {
		return c.nodeCount(nodeID)
	}
	g := c.groupFor(nodeID, typeID)
	if g == core.Empty {
		return 0
	}
	n := c.groups.relCount(g, d)
	c.groups.setCount(g, d, 0)
	return n
}

// SetCount overwrites the count GetCount would return. It does nothing for a dense
// node without a group for typeID.
func (c *NodeRelationshipCache) SetCount(nodeID int64, typeID int, d core.Direction, count int64) {
	if !c.IsDense(nodeID) {
		c.nodes.Set(nodeID, c.counts.set(c.nodes.Get(nodeID), nodeID, count))
		return
	}
	if g := c.groupFor(nodeID, typeID); g != core.Empty {
		c.groups.setCount(g, d, count)
	}
}

func (c *NodeRelationshipCache) groupFor(nodeID int64, typeID int) int64 {
	head := c.field.ID(c.nodes.Get(nodeID))
	if head == core.Empty {
		return core.Empty
	}
	g, _, _ := c.groups.find(head, typeID)
	return g
}

// ClearRelationships unsets the id of every sparse node and the relationship ids of
// every group, keeping counts, types and group links, so linking can run again.
func (c *NodeRelationshipCache) ClearRelationships() {
	n := c.nodeRange()
	for id := int64(0); id < n; id++ {
		if c.IsDense(id) {
			continue
		}
		word := c.nodes.Get(id)
		if !c.field.IsEmpty(word) {
			c.nodes.Set(id, c.field.CleanID(word))
		}
	}
	c.groups.clearIDs()
}

// FixateNodes stops the node and flag arrays from growing.
func (c *NodeRelationshipCache) FixateNodes() {
	if c.nodesDyn != nil {
		c.nodes = c.nodesDyn.Fixate()
		c.nodesDyn = nil
	}
	if c.flagsDyn != nil {
		c.flags = c.flagsDyn.Fixate()
		c.flagsDyn = nil
	}
}

// FixateGroups stops the group array from growing. Allocating groups afterwards is
// only possible within the chunks that already exist.
func (c *NodeRelationshipCache) FixateGroups() {
	c.groups.fixate()
}

// VisitNodes calls fn for every node of the given type in id order and stops at the
// first error.
func (c *NodeRelationshipCache) VisitNodes(t core.NodeType, fn func(nodeID int64) error) error {
	if t == core.NodeTypeDense && c.armed.Load() {
		it := c.dense.Iterator()
		for it.HasNext() {
			if err := fn(int64(it.Next())); err != nil {
				return err
			}
		}
		return nil
	}
	n := c.nodeRange()
	for id := int64(0); id < n; id++ {
		if !t.Matches(c.IsDense(id)) {
			continue
		}
		if err := fn(id); err != nil {
			return err
		}
	}
	return nil
}

func changeMask(dense bool) byte {
	if dense {
		return flagDenseChanged
	}
	return flagSparseChanged
}

func chunkChangeMask(dense bool) uint32 {
	if dense {
		return chunkDenseChanged
	}
	return chunkSparseChanged
}

// markAsChanged flips the node's change bit to the scan direction and reports whether
// it had to, which means this is the node's first change in the scan.
func (c *NodeRelationshipCache) markAsChanged(nodeID int64, dense bool) bool {
	c.markChunk(nodeID, dense)
	mask := changeMask(dense)
	flags := c.flags.GetByte(nodeID, 0)
	if (flags&mask != 0) == c.forward.Load() {
		return false
	}
	c.flags.SetByte(nodeID, 0, flags^mask)
	return true
}

func (c *NodeRelationshipCache) markChunk(nodeID int64, dense bool) {
	mask := chunkChangeMask(dense)
	k := nodeID / c.chunkSize

	c.chunkMu.RLock()
	if k < int64(len(c.chunkMarks)) {
		if c.chunkMarks[k].Load()&mask == 0 {
			c.chunkMarks[k].Or(mask)
		}
		c.chunkMu.RUnlock()
		return
	}
	c.chunkMu.RUnlock()

	c.chunkMu.Lock()
	defer c.chunkMu.Unlock()
	if k >= int64(len(c.chunkMarks)) {
		grown := make([]atomic.Uint32, k+1)
		for i := range c.chunkMarks {
			grown[i].Store(c.chunkMarks[i].Load())
		}
		c.chunkMarks = grown
	}
	c.chunkMarks[k].Or(mask)
}

func (c *NodeRelationshipCache) chunkChanged(k int64, t core.NodeType) bool {
	c.chunkMu.RLock()
	defer c.chunkMu.RUnlock()
	if k >= int64(len(c.chunkMarks)) {
		return false
	}
	m := c.chunkMarks[k].Load()
	return (t&core.NodeTypeDense != 0 && m&chunkDenseChanged != 0) ||
		(t&core.NodeTypeSparse != 0 && m&chunkSparseChanged != 0)
}

func (c *NodeRelationshipCache) clearChangedChunks(dense bool) {
	mask := chunkChangeMask(dense)
	c.chunkMu.Lock()
	defer c.chunkMu.Unlock()
	for i := range c.chunkMarks {
		c.chunkMarks[i].And(^mask)
	}
}

// nodeChanged reads the change bit for the node's density. A node that was never
// counted has no relationships and is never changed.
func (c *NodeRelationshipCache) nodeChanged(nodeID int64, dense bool) bool {
	if c.nodeCount(nodeID) == 0 {
		return false
	}
	return (c.flags.GetByte(nodeID, 0)&changeMask(dense) != 0) == c.forward.Load()
}

// VisitChangedNodes calls fn in id order for every node of type t that linking has
// changed in the current scan, skipping chunks without changes. It stops at the
// first error.
func (c *NodeRelationshipCache) VisitChangedNodes(t core.NodeType, fn func(nodeID int64) error) error {
	return c.VisitChangedNodesRange(t, 0, c.nodeRange(), fn)
}

// VisitChangedNodesRange is VisitChangedNodes over node ids in [from, to).
func (c *NodeRelationshipCache) VisitChangedNodesRange(t core.NodeType, from, to int64, fn func(nodeID int64) error) error {
	from, to = max(from, 0), min(to, c.nodeRange())
	for id := from; id < to; {
		k := id / c.chunkSize
		if !c.chunkChanged(k, t) {
			id = (k + 1) * c.chunkSize
			continue
		}
		if dense := c.IsDense(id); t.Matches(dense) && c.nodeChanged(id, dense) {
			if err := fn(id); err != nil {
				return err
			}
		}
		id++
	}
	return nil
}

// SetForwardScan sets the direction of the next linking scan. Nodes changed in the
// previous scan count as unchanged in the new one. With denseNodes, a switch to
// forward also drops every group so the next scan rebuilds them, and a switch to
// backward keeps the groups but clears their relationship ids.
func (c *NodeRelationshipCache) SetForwardScan(forward, denseNodes bool) {
	if c.forward.Load() == forward {
		return
	}
	if denseNodes {
		if forward {
			_ = c.VisitChangedNodes(core.NodeTypeDense, func(id int64) error {
				c.nodes.Set(id, c.field.SetID(c.nodes.Get(id), core.Empty))
				return nil
			})
			c.clearChangedChunks(true)
			c.groups.reset()
		} else {
			c.groups.clearIDs()
		}
	}
	c.forward.Store(forward)
}

// CalculateMaxMemoryUsage is the group array footprint budgeted for an input with
// this many relationships, one group record per dense node capped by the number of
// relationship ends.
func (c *NodeRelationshipCache) CalculateMaxMemoryUsage(numberOfRelationships int64) int64 {
	return min(c.NumberOfDenseNodes(), numberOfRelationships*2) * groupEntryBytes
}

// Estimate is a precomputed memory footprint.
type Estimate struct {
	Heap    int64
	OffHeap int64
}

func (e Estimate) AcceptMemoryStatsVisitor(v numarray.MemoryStatsVisitor) {
	v.HeapUsage(e.Heap)
	v.OffHeapUsage(e.OffHeap)
}

// MemoryEstimation is the footprint of the node words and flags for numberOfNodes
// nodes, which the factory places off heap when it can.
func MemoryEstimation(numberOfNodes int64) Estimate {
	return Estimate{OffHeap: numberOfNodes * (nodeEntryBytes + nodeFlagBytes)}
}

func (c *NodeRelationshipCache) AcceptMemoryStatsVisitor(v numarray.MemoryStatsVisitor) {
	c.nodes.AcceptMemoryStatsVisitor(v)
	c.flags.AcceptMemoryStatsVisitor(v)
	c.groups.array.AcceptMemoryStatsVisitor(v)
}

// Close releases every array. It is safe to call more than once.
func (c *NodeRelationshipCache) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return stderrors.Join(c.nodes.Close(), c.flags.Close(), c.groups.close())
}
