package railgraph

import (
	"sort"
)

// RailGraph is the read contract every graph value satisfies. Implementations
// must be safe for concurrent readers and must not change once published.
type RailGraph interface {
	Nodes() []Node
	Edges() []RailEdge
	FindNode(id NodeID) (Node, bool)
	Edge(id EdgeID) (RailEdge, bool)
	// EdgesFrom returns the edges incident to id, ordered by the opposite endpoint.
	EdgesFrom(id NodeID) []RailEdge
	IsBlocked(id EdgeID) bool
}

// ConflictIndexer is implemented by graphs that group edges into
// single-track corridors. Edges outside any corridor report ok == false.
type ConflictIndexer interface {
	ConflictKey(id EdgeID) (key string, ok bool)
	// Heading returns the corridor key of the edge between from and to and
	// the direction a train moving from -> to travels along the corridor.
	Heading(from, to NodeID) (key string, dir Direction, ok bool)
}

// Graph is an immutable snapshot of the network. Build one with a Builder.
type Graph struct {
	nodes     map[NodeID]Node
	edges     map[EdgeID]RailEdge
	adjacency map[NodeID][]EdgeID
	blocked   map[EdgeID]struct{}
	corridors map[EdgeID]corridorEdge
	nodeOrder []NodeID
	edgeOrder []EdgeID
}

var (
	_ RailGraph       = (*Graph)(nil)
	_ ConflictIndexer = (*Graph)(nil)
)

// Nodes returns all nodes in id order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.nodeOrder))
	for _, id := range g.nodeOrder {
		out = append(out, g.nodes[id])
	}
	return out
}

// Edges returns all edges in canonical id order.
func (g *Graph) Edges() []RailEdge {
	out := make([]RailEdge, 0, len(g.edgeOrder))
	for _, id := range g.edgeOrder {
		out = append(out, g.edges[id].clone())
	}
	return out
}

// FindNode looks up a node by id.
func (g *Graph) FindNode(id NodeID) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Edge looks up an edge by its canonical id.
func (g *Graph) Edge(id EdgeID) (RailEdge, bool) {
	e, ok := g.edges[id]
	if !ok {
		return RailEdge{}, false
	}
	return e.clone(), true
}

// EdgesFrom returns the edges incident to id.
func (g *Graph) EdgesFrom(id NodeID) []RailEdge {
	ids := g.adjacency[id]
	out := make([]RailEdge, 0, len(ids))
	for _, eid := range ids {
		out = append(out, g.edges[eid].clone())
	}
	return out
}

// IsBlocked reports whether the edge is closed in this snapshot.
func (g *Graph) IsBlocked(id EdgeID) bool {
	_, ok := g.blocked[id]
	return ok
}

// ConflictKey returns the corridor key shared by every edge of a single-track run.
func (g *Graph) ConflictKey(id EdgeID) (string, bool) {
	c, ok := g.corridors[id]
	return c.key, ok
}

// Heading returns the corridor key and travel direction for the hop from -> to.
func (g *Graph) Heading(from, to NodeID) (string, Direction, bool) {
	c, ok := g.corridors[EdgeKey(from, to)]
	if !ok {
		return "", "", false
	}
	if c.up == from {
		return c.key, Up, true
	}
	return c.key, Down, true
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int { return len(g.edges) }

// Modify returns a Builder seeded with this snapshot. The snapshot itself is
// untouched; Build on the returned builder yields a new Graph.
func (g *Graph) Modify() *Builder {
	b := NewBuilder()
	for _, id := range g.nodeOrder {
		b.nodes[id] = g.nodes[id]
	}
	for _, id := range g.edgeOrder {
		b.edges[id] = g.edges[id].clone()
	}
	for id := range g.blocked {
		b.blocked[id] = struct{}{}
	}
	return b
}

// Builder accumulates nodes and edges and validates them into a Graph.
// A Builder is not safe for concurrent use.
type Builder struct {
	nodes   map[NodeID]Node
	edges   map[EdgeID]RailEdge
	blocked map[EdgeID]struct{}
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		nodes:   make(map[NodeID]Node),
		edges:   make(map[EdgeID]RailEdge),
		blocked: make(map[EdgeID]struct{}),
	}
}

// AddNode adds a node. Returns an error if the id already exists.
func (b *Builder) AddNode(n Node) error {
	if _, err := NewNode(string(n.ID), n.Type); err != nil {
		return NewError("AddNode").Node(n.ID).Cause(err).Err()
	}
	if _, exists := b.nodes[n.ID]; exists {
		return NewError("AddNode").Node(n.ID).Cause(ErrDuplicateNode).Err()
	}
	if n.Type == "" {
		n.Type = NodeTypeWaypoint
	}
	b.nodes[n.ID] = n
	return nil
}

// Node returns a node added so far.
func (b *Builder) Node(id NodeID) (Node, bool) {
	n, ok := b.nodes[id]
	return n, ok
}

// UpsertNode adds or replaces a node. An invalid node leaves any existing
// one in place.
func (b *Builder) UpsertNode(n Node) error {
	valid, err := NewNode(string(n.ID), n.Type)
	if err != nil {
		return NewError("UpsertNode").Node(n.ID).Cause(err).Err()
	}
	n.Type = valid.Type
	b.nodes[n.ID] = n
	return nil
}

// AddEdge adds an edge. Both endpoints must already exist.
func (b *Builder) AddEdge(e RailEdge) error {
	if e.ID == (EdgeID{}) {
		id, err := NewEdgeID(e.From, e.To)
		if err != nil {
			return NewError("AddEdge").Cause(err).Err()
		}
		e.ID = id
	}
	if err := e.validate(); err != nil {
		return err
	}
	if _, exists := b.edges[e.ID]; exists {
		return NewError("AddEdge").Edge(e.ID).Cause(ErrDuplicateEdge).Err()
	}
	for _, n := range []NodeID{e.ID.A, e.ID.B} {
		if _, ok := b.nodes[n]; !ok {
			return NewError("AddEdge").Edge(e.ID).Cause(ErrNodeNotFound).Err()
		}
	}
	b.edges[e.ID] = e.clone()
	return nil
}

// Connect is shorthand for NewRailEdge followed by AddEdge.
func (b *Builder) Connect(from, to NodeID, length int, opts ...EdgeOption) error {
	e, err := NewRailEdge(from, to, length, opts...)
	if err != nil {
		return err
	}
	return b.AddEdge(e)
}

// RemoveEdge drops an edge; missing edges are ignored.
func (b *Builder) RemoveEdge(id EdgeID) {
	delete(b.edges, id)
	delete(b.blocked, id)
}

// RemoveNode drops a node together with its incident edges.
func (b *Builder) RemoveNode(id NodeID) {
	delete(b.nodes, id)
	for eid := range b.edges {
		if eid.Has(id) {
			b.RemoveEdge(eid)
		}
	}
}

// Block marks an edge closed in the built snapshot.
func (b *Builder) Block(id EdgeID) error {
	if _, ok := b.edges[id]; !ok {
		return NewError("Block").Edge(id).Cause(ErrEdgeNotFound).Err()
	}
	b.blocked[id] = struct{}{}
	return nil
}

// Unblock reopens an edge.
func (b *Builder) Unblock(id EdgeID) {
	delete(b.blocked, id)
}

// Build freezes the builder contents into a new immutable Graph. The builder
// may keep being used afterwards without affecting the result.
func (b *Builder) Build() *Graph {
	g := &Graph{
		nodes:     make(map[NodeID]Node, len(b.nodes)),
		edges:     make(map[EdgeID]RailEdge, len(b.edges)),
		adjacency: make(map[NodeID][]EdgeID, len(b.nodes)),
		blocked:   make(map[EdgeID]struct{}, len(b.blocked)),
	}
	for id, n := range b.nodes {
		g.nodes[id] = n
		g.nodeOrder = append(g.nodeOrder, id)
	}
	for id, e := range b.edges {
		g.edges[id] = e.clone()
		g.edgeOrder = append(g.edgeOrder, id)
		g.adjacency[id.A] = append(g.adjacency[id.A], id)
		g.adjacency[id.B] = append(g.adjacency[id.B], id)
	}
	for id := range b.blocked {
		g.blocked[id] = struct{}{}
	}

	sort.Slice(g.nodeOrder, func(i, j int) bool { return g.nodeOrder[i] < g.nodeOrder[j] })
	sort.Slice(g.edgeOrder, func(i, j int) bool { return lessEdge(g.edgeOrder[i], g.edgeOrder[j]) })
	for n, ids := range g.adjacency {
		sort.Slice(ids, func(i, j int) bool { return ids[i].Other(n) < ids[j].Other(n) })
	}

	g.corridors = buildCorridors(g)
	return g
}

func lessEdge(a, b EdgeID) bool { return a.Compare(b) < 0 }
