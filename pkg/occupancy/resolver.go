package occupancy

import (
	"github.com/dd0wney/cluso-dispatch/pkg/railgraph"
)

const switchPrefix = "switch:"

// SwitchResource is the conflict resource shared by every approach to a
// switcher node.
func SwitchResource(id railgraph.NodeID) Resource {
	return ConflictResource(switchPrefix + string(id))
}

// Resolver derives the full set of resources guarding an edge or node.
type Resolver struct{}

// NewResolver returns a Resolver.
func NewResolver() Resolver { return Resolver{} }

// EdgeResources returns the edge's own resource, a switch conflict for each
// switcher endpoint and the corridor conflict when g indexes one. ok is
// false when the edge does not exist.
func (Resolver) EdgeResources(g railgraph.RailGraph, id railgraph.EdgeID) ([]Resource, bool) {
	e, ok := g.Edge(id)
	if !ok {
		return nil, false
	}
	out := []Resource{EdgeResource(e.ID)}
	for _, end := range []railgraph.NodeID{e.ID.A, e.ID.B} {
		if n, ok := g.FindNode(end); ok && n.IsSwitcher() {
			out = append(out, SwitchResource(end))
		}
	}
	if ci, ok := g.(railgraph.ConflictIndexer); ok {
		if key, ok := ci.ConflictKey(e.ID); ok {
			out = append(out, ConflictResource(key))
		}
	}
	return out, true
}

// NodeResources returns the node resource, plus the switch conflict when the
// node is a switcher.
func (Resolver) NodeResources(g railgraph.RailGraph, id railgraph.NodeID) ([]Resource, bool) {
	n, ok := g.FindNode(id)
	if !ok {
		return nil, false
	}
	out := []Resource{NodeResource(id)}
	if n.IsSwitcher() {
		out = append(out, SwitchResource(id))
	}
	return out, true
}
