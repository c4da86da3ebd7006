package algorithms

import (
	"fmt"

	"github.com/dd0wney/cluso-dispatch/pkg/railgraph"
	"github.com/dd0wney/cluso-dispatch/pkg/validation"
)

// Path is a walk through the graph. len(Nodes) == len(Edges)+1 always holds,
// Nodes[0] == From and Nodes[len-1] == To.
type Path struct {
	From     railgraph.NodeID
	To       railgraph.NodeID
	Nodes    []railgraph.NodeID
	Edges    []railgraph.EdgeID
	Cost     float64 // under the cost model that produced the path
	Distance int     // summed edge lengths in blocks
}

// NewPath validates the node/edge alignment and returns a Path.
func NewPath(nodes []railgraph.NodeID, edges []railgraph.EdgeID, cost float64, distance int) (*Path, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: path needs at least one node", validation.ErrInvalidArgument)
	}
	if len(nodes) != len(edges)+1 {
		return nil, fmt.Errorf("%w: path has %d nodes for %d edges", validation.ErrInvalidArgument, len(nodes), len(edges))
	}
	for i, e := range edges {
		if railgraph.EdgeKey(nodes[i], nodes[i+1]) != e {
			return nil, fmt.Errorf("%w: edge %s does not join %s and %s", validation.ErrInvalidArgument, e, nodes[i], nodes[i+1])
		}
	}
	return &Path{
		From:     nodes[0],
		To:       nodes[len(nodes)-1],
		Nodes:    nodes,
		Edges:    edges,
		Cost:     cost,
		Distance: distance,
	}, nil
}

// Hops returns the number of edges.
func (p *Path) Hops() int { return len(p.Edges) }

// PathFinder runs single-pair Dijkstra under a swappable cost model.
type PathFinder struct {
	cost CostModel
}

// NewPathFinder creates a finder; a nil cost model means ByLength.
func NewPathFinder(cost CostModel) *PathFinder {
	if cost == nil {
		cost = ByLength
	}
	return &PathFinder{cost: cost}
}

// WithCost returns a finder sharing nothing but the new cost model.
func (f *PathFinder) WithCost(cost CostModel) *PathFinder {
	return NewPathFinder(cost)
}

// ShortestPath finds the cheapest path from -> to. It returns nil, nil when
// either node is unknown or no path exists; errors are reserved for malformed
// identifiers.
func (f *PathFinder) ShortestPath(g railgraph.RailGraph, from, to railgraph.NodeID) (*Path, error) {
	if err := validation.Identifier("from", string(from)); err != nil {
		return nil, err
	}
	if err := validation.Identifier("to", string(to)); err != nil {
		return nil, err
	}
	if _, ok := g.FindNode(from); !ok {
		return nil, nil
	}
	if _, ok := g.FindNode(to); !ok {
		return nil, nil
	}
	if from == to {
		return NewPath([]railgraph.NodeID{from}, nil, 0, 0)
	}

	dist := map[railgraph.NodeID]float64{from: 0}
	parent := make(map[railgraph.NodeID]hop)
	settled := make(map[railgraph.NodeID]bool)

	var pq PriorityQueue[railgraph.NodeID, float64]
	pq.Push(from, 0)

	for {
		cur, d, ok := pq.Pop()
		if !ok {
			return nil, nil // no path found
		}
		// stale entry: a shorter distance was found after this was queued
		if settled[cur] || d > dist[cur] {
			continue
		}
		settled[cur] = true

		if cur == to {
			return reconstruct(from, to, parent, d)
		}

		for _, e := range g.EdgesFrom(cur) {
			next := e.ID.Other(cur)
			if settled[next] {
				continue
			}
			c, ok := f.cost(g, e, cur, next)
			if !ok || c < 0 {
				continue
			}
			nd := d + c
			if old, seen := dist[next]; !seen || nd < old {
				dist[next] = nd
				parent[next] = hop{prev: cur, edge: e}
				pq.Push(next, nd)
			}
		}
	}
}

// hop records how a node was first reached at its best-known distance.
type hop struct {
	prev railgraph.NodeID
	edge railgraph.RailEdge
}

func reconstruct(from, to railgraph.NodeID, parent map[railgraph.NodeID]hop, cost float64) (*Path, error) {
	nodes := []railgraph.NodeID{to}
	var edges []railgraph.EdgeID
	distance := 0
	for cur := to; cur != from; {
		h := parent[cur]
		edges = append(edges, h.edge.ID)
		distance += h.edge.Length
		cur = h.prev
		nodes = append(nodes, cur)
	}
	reverse(nodes)
	reverse(edges)
	return NewPath(nodes, edges, cost, distance)
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
