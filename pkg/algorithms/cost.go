package algorithms

import (
	"github.com/dd0wney/cluso-dispatch/pkg/railgraph"
)

// CostModel prices traversing e from -> to. ok == false means the move is
// impassable under this model (one-way track, a block, a policy exclusion).
// Costs must be non-negative; negative costs are treated as impassable.
type CostModel func(g railgraph.RailGraph, e railgraph.RailEdge, from, to railgraph.NodeID) (cost float64, ok bool)

// ByLength prices an edge by its length, honouring direction and skipping
// blocked edges. It is the default model.
func ByLength(g railgraph.RailGraph, e railgraph.RailEdge, from, to railgraph.NodeID) (float64, bool) {
	if !e.Allows(from, to) || g.IsBlocked(e.ID) {
		return 0, false
	}
	return float64(e.Length), true
}

// ByLengthIgnoringBlocks is ByLength with blocks disregarded, for planning
// around closures that will have lifted by the time the train arrives.
func ByLengthIgnoringBlocks(g railgraph.RailGraph, e railgraph.RailEdge, from, to railgraph.NodeID) (float64, bool) {
	if !e.Allows(from, to) {
		return 0, false
	}
	return float64(e.Length), true
}

// ByTravelTime prices an edge by its estimated traversal time in seconds.
func ByTravelTime(m TravelTimeModel) CostModel {
	return func(g railgraph.RailGraph, e railgraph.RailEdge, from, to railgraph.NodeID) (float64, bool) {
		d, ok := m.EdgeTime(g, e, from, to)
		if !ok {
			return 0, false
		}
		return d.Seconds(), true
	}
}

// Excluding wraps m and makes every edge matching exclude impassable.
func Excluding(m CostModel, exclude func(railgraph.RailEdge) bool) CostModel {
	return func(g railgraph.RailGraph, e railgraph.RailEdge, from, to railgraph.NodeID) (float64, bool) {
		if exclude(e) {
			return 0, false
		}
		return m(g, e, from, to)
	}
}

// Weighted multiplies the cost of edges matching pred by factor.
func Weighted(m CostModel, pred func(railgraph.RailEdge) bool, factor float64) CostModel {
	return func(g railgraph.RailGraph, e railgraph.RailEdge, from, to railgraph.NodeID) (float64, bool) {
		c, ok := m(g, e, from, to)
		if ok && pred(e) {
			c *= factor
		}
		return c, ok
	}
}
