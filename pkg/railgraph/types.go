// Package railgraph models a rail network as an immutable, undirected graph
// of named nodes joined by track segments. A published Graph is never mutated;
// topology changes produce a new Graph through a Builder, and transient state
// is layered on with an Overlay.
package railgraph

import (
	"fmt"
	"strings"

	"github.com/dd0wney/cluso-dispatch/pkg/validation"
)

// NodeID is an opaque, case-sensitive node identity.
type NodeID string

// NewNodeID validates s as a node identity.
func NewNodeID(s string) (NodeID, error) {
	if err := validation.Identifier("node id", s); err != nil {
		return "", err
	}
	return NodeID(s), nil
}

// NodeType classifies a node in the network.
type NodeType string

const (
	NodeTypeStation  NodeType = "station"
	NodeTypeWaypoint NodeType = "waypoint"
	NodeTypeDepot    NodeType = "depot"
	NodeTypeSwitcher NodeType = "switcher"
)

// Valid reports whether t is one of the known node types.
func (t NodeType) Valid() bool {
	switch t {
	case NodeTypeStation, NodeTypeWaypoint, NodeTypeDepot, NodeTypeSwitcher:
		return true
	}
	return false
}

// Coordinate is an optional world position supplied by the integration layer.
type Coordinate struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// Node is a named point in the network.
type Node struct {
	ID       NodeID      `json:"node_id"`
	Type     NodeType    `json:"type"`
	Position *Coordinate `json:"position,omitempty"`
}

// IsSwitcher reports whether approaching edges must serialize through this node.
func (n Node) IsSwitcher() bool { return n.Type == NodeTypeSwitcher }

// NewNode validates and returns a node. An empty type defaults to waypoint.
func NewNode(id string, typ NodeType) (Node, error) {
	nid, err := NewNodeID(id)
	if err != nil {
		return Node{}, err
	}
	if typ == "" {
		typ = NodeTypeWaypoint
	}
	if !typ.Valid() {
		return Node{}, fmt.Errorf("%w: unknown node type %q", ErrInvalidArgument, typ)
	}
	return Node{ID: nid, Type: typ}, nil
}

// EdgeID is the unordered pair of endpoints, stored in canonical order
// (A < B) so that EdgeKey(a, b) == EdgeKey(b, a). It is comparable and
// intended as a map key.
type EdgeID struct {
	A NodeID
	B NodeID
}

// EdgeKey canonicalizes an endpoint pair without validating it. Use it for
// lookups; use NewEdgeID when constructing new topology.
func EdgeKey(a, b NodeID) EdgeID {
	if b < a {
		a, b = b, a
	}
	return EdgeID{A: a, B: b}
}

// NewEdgeID validates both endpoints and returns the canonical pair.
func NewEdgeID(a, b NodeID) (EdgeID, error) {
	if err := validation.Identifier("edge endpoint", string(a)); err != nil {
		return EdgeID{}, err
	}
	if err := validation.Identifier("edge endpoint", string(b)); err != nil {
		return EdgeID{}, err
	}
	if a == b {
		return EdgeID{}, invalid(ErrSelfLoop)
	}
	return EdgeKey(a, b), nil
}

// String renders the canonical pair as "A|B".
func (id EdgeID) String() string {
	return string(id.A) + "|" + string(id.B)
}

// Compare orders edge ids by their first then second endpoint.
func (id EdgeID) Compare(o EdgeID) int {
	if c := strings.Compare(string(id.A), string(o.A)); c != 0 {
		return c
	}
	return strings.Compare(string(id.B), string(o.B))
}

// ParseEdgeID is the inverse of String.
func ParseEdgeID(s string) (EdgeID, error) {
	a, b, ok := strings.Cut(s, "|")
	if !ok {
		return EdgeID{}, fmt.Errorf("%w: malformed edge id %q", ErrInvalidArgument, s)
	}
	return NewEdgeID(NodeID(a), NodeID(b))
}

// Has reports whether n is an endpoint.
func (id EdgeID) Has(n NodeID) bool { return id.A == n || id.B == n }

// Other returns the endpoint opposite n, or "" if n is not an endpoint.
func (id EdgeID) Other(n NodeID) NodeID {
	switch n {
	case id.A:
		return id.B
	case id.B:
		return id.A
	}
	return ""
}

// RailEdge is a track segment. From/To record the declared direction, which
// only matters when Bidirectional is false (one-way track, From to To).
// A nil SpeedLimit means "inherit the default".
type RailEdge struct {
	ID            EdgeID            `json:"-"`
	From          NodeID            `json:"from"`
	To            NodeID            `json:"to"`
	Length        int               `json:"length"` // blocks
	SpeedLimit    *float64          `json:"speed_limit,omitempty"`
	Bidirectional bool              `json:"bidirectional"`
	Attributes    map[string]string `json:"attributes,omitempty"`
}

// EdgeOption customizes NewRailEdge.
type EdgeOption func(*RailEdge)

// WithSpeedLimit sets a speed limit in blocks per second.
func WithSpeedLimit(v float64) EdgeOption {
	return func(e *RailEdge) { e.SpeedLimit = &v }
}

// OneWay restricts travel to the declared From to To direction.
func OneWay() EdgeOption {
	return func(e *RailEdge) { e.Bidirectional = false }
}

// WithAttribute attaches an opaque key/value pair.
func WithAttribute(k, v string) EdgeOption {
	return func(e *RailEdge) {
		if e.Attributes == nil {
			e.Attributes = make(map[string]string)
		}
		e.Attributes[k] = v
	}
}

// NewRailEdge validates and returns an edge. Edges are bidirectional unless
// OneWay is given.
func NewRailEdge(from, to NodeID, length int, opts ...EdgeOption) (RailEdge, error) {
	id, err := NewEdgeID(from, to)
	if err != nil {
		return RailEdge{}, err
	}
	e := RailEdge{ID: id, From: from, To: to, Length: length, Bidirectional: true}
	for _, opt := range opts {
		opt(&e)
	}
	if err := e.validate(); err != nil {
		return RailEdge{}, err
	}
	return e, nil
}

func (e RailEdge) validate() error {
	if e.Length <= 0 {
		return NewError("validate").Edge(e.ID).Cause(invalid(ErrInvalidLength)).Err()
	}
	if e.SpeedLimit != nil && *e.SpeedLimit <= 0 {
		return NewError("validate").Edge(e.ID).Cause(invalid(ErrInvalidSpeed)).Err()
	}
	if EdgeKey(e.From, e.To) != e.ID {
		return NewError("validate").Edge(e.ID).Cause(fmt.Errorf("%w: endpoints do not match id", ErrInvalidArgument)).Err()
	}
	return nil
}

// Allows reports whether the edge may be traversed from -> to.
func (e RailEdge) Allows(from, to NodeID) bool {
	if EdgeKey(from, to) != e.ID {
		return false
	}
	return e.Bidirectional || (e.From == from && e.To == to)
}

// Speed returns the edge speed limit or def when unset.
func (e RailEdge) Speed(def float64) float64 {
	if e.SpeedLimit != nil {
		return *e.SpeedLimit
	}
	return def
}

// clone copies the mutable parts so that snapshots never share them.
func (e RailEdge) clone() RailEdge {
	if e.SpeedLimit != nil {
		v := *e.SpeedLimit
		e.SpeedLimit = &v
	}
	if e.Attributes != nil {
		attrs := make(map[string]string, len(e.Attributes))
		for k, v := range e.Attributes {
			attrs[k] = v
		}
		e.Attributes = attrs
	}
	return e
}
