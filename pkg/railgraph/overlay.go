package railgraph

// Overlay decorates a base graph with transient blocks and speed overrides
// without touching the base. Overlays are values: each With* call returns a
// new overlay and leaves the receiver unchanged.
type Overlay struct {
	base    RailGraph
	blocked map[EdgeID]bool // true = blocked, false = force open
	speeds  map[EdgeID]float64
}

var _ RailGraph = Overlay{}

// NewOverlay wraps base with no overrides.
func NewOverlay(base RailGraph) Overlay {
	return Overlay{base: base}
}

// Base returns the wrapped graph.
func (o Overlay) Base() RailGraph { return o.base }

func (o Overlay) copyMaps() Overlay {
	out := Overlay{
		base:    o.base,
		blocked: make(map[EdgeID]bool, len(o.blocked)+1),
		speeds:  make(map[EdgeID]float64, len(o.speeds)+1),
	}
	for k, v := range o.blocked {
		out.blocked[k] = v
	}
	for k, v := range o.speeds {
		out.speeds[k] = v
	}
	return out
}

// WithBlocked returns an overlay in which id is closed.
func (o Overlay) WithBlocked(id EdgeID) Overlay {
	out := o.copyMaps()
	out.blocked[id] = true
	return out
}

// WithOpened returns an overlay in which id is open even if the base blocks it.
func (o Overlay) WithOpened(id EdgeID) Overlay {
	out := o.copyMaps()
	out.blocked[id] = false
	return out
}

// WithSpeed returns an overlay with a temporary speed limit on id.
func (o Overlay) WithSpeed(id EdgeID, limit float64) (Overlay, error) {
	if limit <= 0 {
		return o, NewError("WithSpeed").Edge(id).Cause(invalid(ErrInvalidSpeed)).Err()
	}
	out := o.copyMaps()
	out.speeds[id] = limit
	return out, nil
}

func (o Overlay) Nodes() []Node                   { return o.base.Nodes() }
func (o Overlay) FindNode(id NodeID) (Node, bool) { return o.base.FindNode(id) }

func (o Overlay) apply(e RailEdge) RailEdge {
	if v, ok := o.speeds[e.ID]; ok {
		e.SpeedLimit = &v
	}
	return e
}

func (o Overlay) Edges() []RailEdge {
	edges := o.base.Edges()
	for i := range edges {
		edges[i] = o.apply(edges[i])
	}
	return edges
}

func (o Overlay) Edge(id EdgeID) (RailEdge, bool) {
	e, ok := o.base.Edge(id)
	if !ok {
		return RailEdge{}, false
	}
	return o.apply(e), true
}

func (o Overlay) EdgesFrom(id NodeID) []RailEdge {
	edges := o.base.EdgesFrom(id)
	for i := range edges {
		edges[i] = o.apply(edges[i])
	}
	return edges
}

func (o Overlay) IsBlocked(id EdgeID) bool {
	if v, ok := o.blocked[id]; ok {
		return v
	}
	return o.base.IsBlocked(id)
}

// ConflictKey forwards to the base graph when it indexes corridors.
func (o Overlay) ConflictKey(id EdgeID) (string, bool) {
	if ci, ok := o.base.(ConflictIndexer); ok {
		return ci.ConflictKey(id)
	}
	return "", false
}

// Heading forwards to the base graph when it indexes corridors.
func (o Overlay) Heading(from, to NodeID) (string, Direction, bool) {
	if ci, ok := o.base.(ConflictIndexer); ok {
		return ci.Heading(from, to)
	}
	return "", "", false
}
