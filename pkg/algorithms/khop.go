package algorithms

import (
	"fmt"

	"github.com/dd0wney/cluso-dispatch/pkg/railgraph"
	"github.com/dd0wney/cluso-dispatch/pkg/validation"
)

// KHopOptions configures a neighbourhood traversal.
type KHopOptions struct {
	MaxHops      int // must be >= 1
	MaxResults   int // 0 = unlimited; BFS order gives closer nodes priority
	FollowBlocks bool
}

// KHopResult holds the BFS neighbourhood of a source node.
type KHopResult struct {
	Source         railgraph.NodeID
	ByHop          map[int][]railgraph.NodeID
	Distances      map[railgraph.NodeID]int
	TotalReachable int
}

type bfsEntry struct {
	node railgraph.NodeID
	hop  int
}

// KHopNeighbours returns every node reachable from source in at most
// MaxHops traversable moves. The source itself is never included.
func KHopNeighbours(g railgraph.RailGraph, source railgraph.NodeID, opts KHopOptions) (*KHopResult, error) {
	if opts.MaxHops < 1 {
		return nil, fmt.Errorf("%w: MaxHops must be >= 1, got %d", validation.ErrInvalidArgument, opts.MaxHops)
	}
	if _, ok := g.FindNode(source); !ok {
		return nil, fmt.Errorf("%w: %s", railgraph.ErrNodeNotFound, source)
	}

	res := &KHopResult{
		Source:    source,
		ByHop:     make(map[int][]railgraph.NodeID),
		Distances: make(map[railgraph.NodeID]int),
	}
	visited := map[railgraph.NodeID]bool{source: true}
	queue := []bfsEntry{{node: source}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.hop >= opts.MaxHops {
			continue
		}
		next := cur.hop + 1

		for _, e := range g.EdgesFrom(cur.node) {
			n := e.ID.Other(cur.node)
			if visited[n] || !e.Allows(cur.node, n) {
				continue
			}
			if !opts.FollowBlocks && g.IsBlocked(e.ID) {
				continue
			}
			visited[n] = true
			res.Distances[n] = next
			res.ByHop[next] = append(res.ByHop[next], n)
			res.TotalReachable++
			if opts.MaxResults > 0 && res.TotalReachable >= opts.MaxResults {
				return res, nil
			}
			queue = append(queue, bfsEntry{node: n, hop: next})
		}
	}
	return res, nil
}
