package core

import "fmt"

// Direction is the side of a relationship a node is on.
type Direction uint8

const (
	// Outgoing is the start node of a relationship between two distinct nodes.
	Outgoing Direction = iota
	// Incoming is the end node of a relationship between two distinct nodes.
	Incoming
	// Loop is a relationship whose start and end node are the same.
	Loop
)

// Directions lists every direction in group slot order.
var Directions = [...]Direction{Outgoing, Incoming, Loop}

func (d Direction) String() string {
	switch d {
	case Outgoing:
		return "outgoing"
	case Incoming:
		return "incoming"
	case Loop:
		return "loop"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// NodeType selects dense nodes, sparse nodes or both when visiting the cache.
type NodeType uint8

const (
	NodeTypeSparse NodeType = 1 << iota
	NodeTypeDense
	NodeTypeAll = NodeTypeSparse | NodeTypeDense
)

// Matches reports whether a node with the given density is selected by t.
func (t NodeType) Matches(dense bool) bool {
	if dense {
		return t&NodeTypeDense != 0
	}
	return t&NodeTypeSparse != 0
}
