package dispatch

import (
	"time"

	"github.com/dd0wney/cluso-dispatch/pkg/algorithms"
	"github.com/dd0wney/cluso-dispatch/pkg/railgraph"
)

// Estimate is a timed route between two nodes.
type Estimate struct {
	Path     *algorithms.Path
	Duration time.Duration
}

// Distance returns the shortest open path by track length, or nil when the
// nodes are unknown or disconnected.
func (c *Core) Distance(from, to railgraph.NodeID) (*algorithms.Path, error) {
	start := time.Now()
	p, err := c.lengths.ShortestPath(c.Graph(), from, to)
	if err != nil {
		return nil, err
	}
	c.metrics.RecordPathQuery(p != nil, time.Since(start))
	return p, nil
}

// ETA returns the fastest route under the constant-speed model. ok is false
// when there is no route.
func (c *Core) ETA(from, to railgraph.NodeID) (Estimate, bool, error) {
	start := time.Now()
	g := c.Graph()
	p, err := c.timing.ShortestPath(g, from, to)
	if err != nil {
		return Estimate{}, false, err
	}
	c.metrics.RecordPathQuery(p != nil, time.Since(start))
	if p == nil {
		return Estimate{}, false, nil
	}
	d, ok := algorithms.PathTime(g, c.travel, p)
	if !ok {
		return Estimate{}, false, nil
	}
	return Estimate{Path: p, Duration: d}, true, nil
}

// TrainETA estimates how long trainID needs from its current waypoint to
// the end of its route, following the route rather than the fastest path.
func (c *Core) TrainETA(trainID string) (time.Duration, bool) {
	state, ok := c.fleet.Get(trainID)
	if !ok {
		return 0, false
	}
	g := c.Graph()
	var total time.Duration
	wps := state.Route.Waypoints
	for i := state.Index; i < len(wps)-1; i++ {
		e, ok := g.Edge(railgraph.EdgeKey(wps[i], wps[i+1]))
		if !ok {
			return 0, false
		}
		d, ok := c.travel.EdgeTime(g, e, wps[i], wps[i+1])
		if !ok {
			return 0, false
		}
		total += d
	}
	return total, true
}
