package cache

import (
	"sync/atomic"

	"github.com/23skdu/bulkgraph/internal/core"
	"github.com/23skdu/bulkgraph/internal/metrics"
	"github.com/23skdu/bulkgraph/internal/numarray"
	"github.com/23skdu/bulkgraph/internal/packed"
)

// A group record is four consecutive longs in the group array.
const (
	groupHeader = 0
	groupOut    = 1
	groupIn     = 2
	groupLoop   = 3

	groupEntryLongs = 4
	groupEntryBytes = groupEntryLongs * 8
)

// The header word links a group to the next one for the same node and carries the
// relationship type id.
const (
	headerNext = 0
	headerType = 1
)

var headerLayout = packed.MustLayout(idBits, typeBits)

// groups is the flat store of relationship group records. Indices are handed out by
// an atomic counter; everything else relies on a node being owned by one goroutine.
type groups struct {
	field  *packed.IDCount
	counts *counts

	dyn   *numarray.DynamicLongArray
	array numarray.LongArray
	next  atomic.Int64
}

func newGroups(f *numarray.Factory, chunkGroups int64, field *packed.IDCount) (*groups, error) {
	dyn, err := f.NewDynamicLongArray(chunkGroups*groupEntryLongs, field.EmptyField())
	if err != nil {
		return nil, err
	}
	return &groups{field: field, counts: newCounts(field), dyn: dyn, array: dyn}, nil
}

func slotOf(d core.Direction) int64 { return groupOut + int64(d) }

func (g *groups) long(group int64, slot int64) int64 { return group*groupEntryLongs + slot }

// allocate hands out a fresh group of typeID with no next group and empty slots.
func (g *groups) allocate(typeID int) int64 {
	id := g.next.Add(1) - 1
	header := headerLayout.Set(headerLayout.Template(true, false), headerType, int64(typeID))
	g.array.Set(g.long(id, groupHeader), header)
	empty := g.field.EmptyField()
	for _, d := range core.Directions {
		g.array.Set(g.long(id, slotOf(d)), empty)
	}
	metrics.RelationshipGroupsTotal.Inc()
	return id
}

func (g *groups) count() int64 { return g.next.Load() }

func (g *groups) typeOf(group int64) int {
	return int(headerLayout.Get(g.array.Get(g.long(group, groupHeader)), headerType))
}

func (g *groups) nextOf(group int64) int64 {
	return headerLayout.Get(g.array.Get(g.long(group, groupHeader)), headerNext)
}

func (g *groups) setNext(group, next int64) {
	i := g.long(group, groupHeader)
	g.array.Set(i, headerLayout.Set(g.array.Get(i), headerNext, next))
}

// swap exchanges two whole records, overflowed counts included.
func (g *groups) swap(a, b int64) {
	g.array.Swap(g.long(a, 0), g.long(b, 0), groupEntryLongs)
	for _, d := range core.Directions {
		g.counts.swap(g.long(a, slotOf(d)), g.long(b, slotOf(d)))
	}
}

// find walks the list starting at head for typeID. When absent it returns the last
// group with a smaller type (or -1) and the first group with a larger one (or -1).
func (g *groups) find(head int64, typeID int) (found, prev, next int64) {
	prev = core.Empty
	for cur := head; cur != core.Empty; cur = g.nextOf(cur) {
		t := g.typeOf(cur)
		if t == typeID {
			return cur, prev, core.Empty
		}
		if t > typeID {
			return core.Empty, prev, cur
		}
		prev = cur
	}
	return core.Empty, prev, core.Empty
}

// findOrInsert returns the group of typeID in the list at head, splicing a new group
// into its sorted position when there is none. The head index never changes: a new
// smallest type takes over the head record and the old head moves to the new index.
func (g *groups) findOrInsert(head int64, typeID int) int64 {
	found, prev, next := g.find(head, typeID)
	if found != core.Empty {
		return found
	}
	created := g.allocate(typeID)
	if prev == core.Empty {
		g.swap(head, created)
		g.setNext(head, created)
		return head
	}
	g.setNext(created, next)
	g.setNext(prev, created)
	return created
}

// getAndPut stores relID in the direction slot of group and returns the previous id.
func (g *groups) getAndPut(group int64, d core.Direction, relID int64, incrementCount bool) int64 {
	i := g.long(group, slotOf(d))
	word := g.array.Get(i)
	prev := g.field.ID(word)
	word = g.field.SetID(word, relID)
	if incrementCount {
		word, _ = g.counts.increment(word, i, 1)
	}
	g.array.Set(i, word)
	return prev
}

func (g *groups) slot(group int64, d core.Direction) int64 {
	return g.array.Get(g.long(group, slotOf(d)))
}

func (g *groups) relCount(group int64, d core.Direction) int64 {
	i := g.long(group, slotOf(d))
	return g.counts.get(g.array.Get(i), i)
}

func (g *groups) setCount(group int64, d core.Direction, n int64) {
	i := g.long(group, slotOf(d))
	g.array.Set(i, g.counts.set(g.array.Get(i), i, n))
}

// clearIDs unsets the three relationship ids of every allocated group and keeps the
// counts and headers.
func (g *groups) clearIDs() {
	n := g.count()
	for group := int64(0); group < n; group++ {
		for _, d := range core.Directions {
			i := g.long(group, slotOf(d))
			g.array.Set(i, g.field.CleanID(g.array.Get(i)))
		}
	}
}

// reset drops every group. Records are overwritten as they are allocated again.
func (g *groups) reset() {
	g.next.Store(0)
	g.counts.reset()
}

// fixate swaps the growable array for a fixed view. Allocating a group beyond the
// chunks that exist afterwards panics with a bounds error.
func (g *groups) fixate() {
	if g.dyn != nil {
		g.array = g.dyn.Fixate()
		g.dyn = nil
	}
}

func (g *groups) close() error { return g.array.Close() }
