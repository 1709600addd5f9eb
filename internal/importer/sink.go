package importer

import (
	"sync"

	"github.com/23skdu/bulkgraph/internal/core"
)

// Sink receives what the import materializes. Calls come from several workers, but
// never for the same node at the same time.
type Sink interface {
	// RelationshipNext records the relationship that follows relID in the chain of
	// the node at endpoint, or -1.
	RelationshipNext(relID int64, endpoint core.Endpoint, next int64)
	// Group writes one relationship group of a dense node and returns its record id.
	// Groups of a node arrive in type order; next is the cache index of the following
	// group or -1.
	Group(nodeID int64, typeID int, next, out, in, loop int64) int64
	// Node writes a node with its first relationship, or its first group record when
	// dense, and its labels.
	Node(nodeID, firstRel int64, dense bool, labels []int)
}

// GroupRecord is a relationship group as written to a MemorySink.
type GroupRecord struct {
	ID   int64
	Type int
	Next int64
	Out  int64
	In   int64
	Loop int64
}

// NodeRecord is a node as written to a MemorySink.
type NodeRecord struct {
	FirstRel int64
	Dense    bool
	Labels   []int
}

type chainKey struct {
	rel      int64
	endpoint core.Endpoint
}

// MemorySink keeps everything it receives.
type MemorySink struct {
	mu     sync.Mutex
	next   map[chainKey]int64
	groups map[int64][]GroupRecord
	nodes  map[int64]NodeRecord
	nextID int64
}

func NewMemorySink() *MemorySink {
	return &MemorySink{
		next:   make(map[chainKey]int64),
		groups: make(map[int64][]GroupRecord),
		nodes:  make(map[int64]NodeRecord),
	}
}

func (s *MemorySink) RelationshipNext(relID int64, endpoint core.Endpoint, next int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next[chainKey{relID, endpoint}] = next
}

func (s *MemorySink) Group(nodeID int64, typeID int, next, out, in, loop int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.groups[nodeID] = append(s.groups[nodeID], GroupRecord{
		ID: id, Type: typeID, Next: next, Out: out, In: in, Loop: loop,
	})
	return id
}

func (s *MemorySink) Node(nodeID, firstRel int64, dense bool, labels []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[nodeID] = NodeRecord{FirstRel: firstRel, Dense: dense, Labels: append([]int(nil), labels...)}
}

// Next returns the recorded successor of relID at endpoint.
func (s *MemorySink) Next(relID int64, endpoint core.Endpoint) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, ok := s.next[chainKey{relID, endpoint}]
	return next, ok
}

// Chain follows the relationship chain of nodeID from first, as a store reader
// would: at each relationship it takes the pointer for the end nodeID is on.
func (s *MemorySink) Chain(nodeID, first int64, rels map[int64]core.Relationship) []int64 {
	var chain []int64
	for id := first; id != core.Empty; {
		chain = append(chain, id)
		endpoint := core.StartEndpoint
		if r := rels[id]; r.Start != nodeID {
			endpoint = core.EndEndpoint
		}
		next, ok := s.Next(id, endpoint)
		if !ok {
			break
		}
		id = next
	}
	return chain
}

func (s *MemorySink) Groups(nodeID int64) []GroupRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]GroupRecord(nil), s.groups[nodeID]...)
}

// Lookup returns the node written for nodeID.
func (s *MemorySink) Lookup(nodeID int64) (NodeRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[nodeID]
	return n, ok
}

func (s *MemorySink) NumberOfNodes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes)
}
