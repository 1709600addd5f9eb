package main

import (
	"math/rand/v2"

	"github.com/23skdu/bulkgraph/internal/core"
)

// graphSpec describes a synthetic graph. A share of denseFraction relationships
// start at one of a few hub nodes, which makes the hubs dense.
type graphSpec struct {
	Nodes         int64
	Relationships int64
	DenseFraction float64
	Types         int
	Labels        int
	Seed          uint64
}

func (s graphSpec) hubs() int64 {
	return max(1, s.Nodes/1000)
}

// generate builds the graph deterministically from the seed.
func generate(s graphSpec) ([]core.Relationship, []core.Node) {
	if s.Nodes <= 0 {
		return nil, nil
	}
	rng := rand.New(rand.NewPCG(s.Seed, s.Seed^0x9e3779b97f4a7c15))
	types := max(s.Types, 1)

	rels := make([]core.Relationship, s.Relationships)
	for i := range rels {
		start := rng.Int64N(s.Nodes)
		if rng.Float64() < s.DenseFraction {
			start = rng.Int64N(s.hubs())
		}
		rels[i] = core.Relationship{
			ID:    int64(i),
			Start: start,
			End:   rng.Int64N(s.Nodes),
			Type:  rng.IntN(types),
		}
	}

	nodes := make([]core.Node, s.Nodes)
	for i := range nodes {
		nodes[i] = core.Node{ID: int64(i)}
		if s.Labels <= 0 {
			continue
		}
		n := rng.IntN(4)
		seen := make(map[int]bool, n)
		for j := 0; j < n; j++ {
			l := rng.IntN(s.Labels)
			if !seen[l] {
				seen[l] = true
				nodes[i].Labels = append(nodes[i].Labels, l)
			}
		}
	}
	return rels, nodes
}
