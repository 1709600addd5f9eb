package core

// Empty is the id value meaning "no entity".
const Empty int64 = -1

// Relationship is one input relationship record.
type Relationship struct {
	ID    int64
	Start int64
	End   int64
	Type  int
}

// IsLoop reports whether both endpoints are the same node.
func (r Relationship) IsLoop() bool {
	return r.Start == r.End
}

// Node is one input node record.
type Node struct {
	ID     int64
	Labels []int
}

// Endpoint names which end of a relationship a chain pointer belongs to.
type Endpoint uint8

const (
	StartEndpoint Endpoint = iota
	EndEndpoint
)

// Estimates describes the size of an input, used to size the caches up front.
type Estimates struct {
	NumberOfNodes         int64
	NumberOfRelationships int64
	HighLabelID           int
	HighRelationshipType  int
}
