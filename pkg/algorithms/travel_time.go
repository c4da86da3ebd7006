package algorithms

import (
	"time"

	"github.com/dd0wney/cluso-dispatch/pkg/railgraph"
)

// TravelTimeModel estimates how long a single edge traversal takes.
// ok == false means the time is unknown.
type TravelTimeModel interface {
	EdgeTime(g railgraph.RailGraph, e railgraph.RailEdge, from, to railgraph.NodeID) (time.Duration, bool)
}

// ConstantSpeed assumes a train runs every edge at the edge's speed limit,
// or at DefaultSpeed (blocks per second) when the edge carries none.
type ConstantSpeed struct {
	DefaultSpeed float64
	AllowBlocked bool
}

// EdgeTime implements TravelTimeModel.
func (m ConstantSpeed) EdgeTime(g railgraph.RailGraph, e railgraph.RailEdge, from, to railgraph.NodeID) (time.Duration, bool) {
	if !e.Allows(from, to) {
		return 0, false
	}
	if !m.AllowBlocked && g.IsBlocked(e.ID) {
		return 0, false
	}
	speed := e.Speed(m.DefaultSpeed)
	if speed <= 0 {
		return 0, false
	}
	return time.Duration(float64(e.Length) / speed * float64(time.Second)), true
}

// PathTime sums the model over every hop of p. Any unknown hop makes the
// whole path unknown.
func PathTime(g railgraph.RailGraph, m TravelTimeModel, p *Path) (time.Duration, bool) {
	if p == nil {
		return 0, false
	}
	var total time.Duration
	for i, id := range p.Edges {
		e, ok := g.Edge(id)
		if !ok {
			return 0, false
		}
		d, ok := m.EdgeTime(g, e, p.Nodes[i], p.Nodes[i+1])
		if !ok {
			return 0, false
		}
		total += d
	}
	return total, true
}
