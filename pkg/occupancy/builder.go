package occupancy

import (
	"errors"
	"fmt"
	"time"

	"github.com/dd0wney/cluso-dispatch/pkg/railgraph"
	"github.com/dd0wney/cluso-dispatch/pkg/validation"
)

// ErrNoEdge is returned when a route hop has no track in the graph.
var ErrNoEdge = errors.New("route hop has no edge")

// Route is an ordered list of waypoints.
type Route struct {
	ID        string             `json:"id" yaml:"id" validate:"ident"`
	Waypoints []railgraph.NodeID `json:"waypoints" yaml:"waypoints" validate:"min=1,dive,ident"`
}

// NewRoute validates and returns a route. Consecutive repeats are rejected.
func NewRoute(id string, waypoints ...railgraph.NodeID) (Route, error) {
	r := Route{ID: id, Waypoints: waypoints}
	if err := r.Validate(); err != nil {
		return Route{}, err
	}
	return r, nil
}

// Validate checks the route fields.
func (r Route) Validate() error {
	if err := validation.Struct(r); err != nil {
		return err
	}
	for i := 1; i < len(r.Waypoints); i++ {
		if r.Waypoints[i] == r.Waypoints[i-1] {
			return fmt.Errorf("%w: route %s repeats %s at %d", validation.ErrInvalidArgument, r.ID, r.Waypoints[i], i)
		}
	}
	return nil
}

// Last returns the final waypoint index.
func (r Route) Last() int { return len(r.Waypoints) - 1 }

// RequestBuilder turns a train's route progress into an occupancy request.
type RequestBuilder struct {
	lookahead int
	headway   time.Duration
	resolver  Resolver
}

// NewRequestBuilder creates a builder reserving lookahead edges ahead.
func NewRequestBuilder(lookahead int, headway time.Duration) (*RequestBuilder, error) {
	if lookahead < 1 {
		return nil, fmt.Errorf("%w: lookahead must be >= 1, got %d", validation.ErrInvalidArgument, lookahead)
	}
	if headway < 0 {
		return nil, fmt.Errorf("%w: negative headway %s", validation.ErrInvalidArgument, headway)
	}
	return &RequestBuilder{lookahead: lookahead, headway: headway, resolver: NewResolver()}, nil
}

// Lookahead returns the configured lookahead edge count.
func (b *RequestBuilder) Lookahead() int { return b.lookahead }

// Build returns the request for trainID standing at route index. ok is
// false when the train is at or past the last waypoint. Any hop without an
// edge fails the whole build.
func (b *RequestBuilder) Build(g railgraph.RailGraph, trainID string, route Route, index int) (req Request, ok bool, err error) {
	if index < 0 {
		return Request{}, false, fmt.Errorf("%w: negative route index %d", validation.ErrInvalidArgument, index)
	}
	if index >= route.Last() {
		return Request{}, false, nil
	}

	end := min(index+b.lookahead, route.Last())
	var (
		resources []Resource
		closed    []Resource
		headings  = make(map[Resource]railgraph.Direction)
		mixed     = make(map[Resource]bool)
	)
	indexer, _ := g.(railgraph.ConflictIndexer)

	nodeRes, found := b.resolver.NodeResources(g, route.Waypoints[index])
	if !found {
		return Request{}, false, fmt.Errorf("route %s: %w: %s", route.ID, railgraph.ErrNodeNotFound, route.Waypoints[index])
	}
	resources = append(resources, nodeRes...)

	for i := index; i < end; i++ {
		from, to := route.Waypoints[i], route.Waypoints[i+1]
		id := railgraph.EdgeKey(from, to)
		edgeRes, found := b.resolver.EdgeResources(g, id)
		if !found {
			return Request{}, false, fmt.Errorf("route %s hop %d %s-%s: %w", route.ID, i, from, to, ErrNoEdge)
		}
		resources = append(resources, edgeRes...)
		if g.IsBlocked(id) {
			closed = append(closed, EdgeResource(id))
		}
		if indexer != nil {
			if key, dir, ok := indexer.Heading(from, to); ok {
				// a route reversing inside one corridor needs it exclusively
				r := ConflictResource(key)
				if prev, seen := headings[r]; (seen && prev != dir) || mixed[r] {
					delete(headings, r)
					mixed[r] = true
				} else {
					headings[r] = dir
				}
			}
		}

		nodeRes, found := b.resolver.NodeResources(g, to)
		if !found {
			return Request{}, false, fmt.Errorf("route %s: %w: %s", route.ID, railgraph.ErrNodeNotFound, to)
		}
		resources = append(resources, nodeRes...)
	}

	req, err = NewRequest(trainID, route.ID, b.headway, resources...)
	if err != nil {
		return Request{}, false, err
	}
	if len(headings) > 0 {
		req.Headings = headings
	}
	req.Closed = closed
	return req, true, nil
}

// Behind returns the resources a train at index no longer needs compared
// with one at prev: everything requested at prev but not at index.
func (b *RequestBuilder) Behind(g railgraph.RailGraph, trainID string, route Route, prev, index int) ([]Resource, error) {
	before, ok, err := b.Build(g, trainID, route, prev)
	if err != nil || !ok {
		return nil, err
	}
	after, _, err := b.Build(g, trainID, route, index)
	if err != nil {
		return nil, err
	}
	var out []Resource
	for _, r := range before.Resources {
		if !after.Contains(r) {
			out = append(out, r)
		}
	}
	return out, nil
}
