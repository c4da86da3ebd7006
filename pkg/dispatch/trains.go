package dispatch

import (
	"fmt"
	"slices"

	"github.com/dd0wney/cluso-dispatch/pkg/logging"
	"github.com/dd0wney/cluso-dispatch/pkg/occupancy"
	"github.com/dd0wney/cluso-dispatch/pkg/signal"
	"github.com/dd0wney/cluso-dispatch/pkg/validation"
)

// Movement is the outcome of placing or advancing a train.
type Movement struct {
	State    occupancy.TrainState
	Decision occupancy.Decision
	// Requested is false when the train had nothing ahead to claim.
	Requested bool
	Released  []occupancy.Resource
	Signal    occupancy.Aspect
}

// SetRoute places trainID at the start of route and claims its lookahead.
// A train that already had a route gives up its claims first.
func (c *Core) SetRoute(trainID string, route occupancy.Route, priority int) (Movement, error) {
	if c.fleet.Has(trainID) {
		c.manager.ReleaseByTrain(trainID)
	}
	state, err := c.fleet.Assign(trainID, route, priority)
	if err != nil {
		return Movement{}, err
	}
	c.logger.Info("route assigned",
		logging.TrainID(trainID),
		logging.String("route", route.ID),
		logging.Int("waypoints", len(route.Waypoints)))
	return c.claim(state, nil)
}

// Advance records that trainID reached its next waypoint. Resources that
// fell behind the train are released and the new lookahead is claimed. A
// train reaching its terminus keeps only its final node.
func (c *Core) Advance(trainID string) (Movement, error) {
	state, ok := c.fleet.Get(trainID)
	if !ok {
		return Movement{}, fmt.Errorf("%w: unknown train %q", validation.ErrInvalidArgument, trainID)
	}
	if state.Finished() {
		return Movement{}, fmt.Errorf("%w: train %q is at its terminus", validation.ErrInvalidArgument, trainID)
	}

	g := c.Graph()
	behind, err := c.builder.Behind(g, trainID, state.Route, state.Index, state.Index+1)
	if err != nil {
		return Movement{}, err
	}
	state, err = c.fleet.SetIndex(trainID, state.Index+1)
	if err != nil {
		return Movement{}, err
	}
	if state.Finished() {
		keep, _ := c.resolver.NodeResources(g, state.At())
		behind = slices.DeleteFunc(behind, func(r occupancy.Resource) bool {
			return slices.Contains(keep, r)
		})
	}
	// waits queued from the previous position no longer apply
	c.manager.CancelWaits(trainID)
	if len(behind) > 0 {
		c.manager.ReleaseResources(trainID, behind...)
	}
	c.logger.Debug("train advanced",
		logging.TrainID(trainID),
		logging.NodeID(string(state.At())),
		logging.Count(len(behind)))
	return c.claim(state, behind)
}

// Remove drops trainID from the fleet and releases everything it holds.
func (c *Core) Remove(trainID string) int {
	n := c.manager.ReleaseByTrain(trainID)
	c.fleet.Remove(trainID)
	c.evaluator.Forget(trainID)
	c.SetSpeed(trainID, -1)
	c.logger.Info("train removed", logging.TrainID(trainID), logging.Count(n))
	return n
}

// Retry re-attempts trainID's current request, typically after a denial.
func (c *Core) Retry(trainID string) (Movement, error) {
	state, ok := c.fleet.Get(trainID)
	if !ok {
		return Movement{}, fmt.Errorf("%w: unknown train %q", validation.ErrInvalidArgument, trainID)
	}
	return c.claim(state, nil)
}

// claim acquires state's request and publishes the train's own signal.
func (c *Core) claim(state occupancy.TrainState, released []occupancy.Resource) (Movement, error) {
	mv := Movement{State: state, Released: released}

	req, ok, err := c.builder.Build(c.Graph(), state.TrainID, state.Route, state.Index)
	if err != nil {
		return mv, err
	}
	if ok {
		mv.Requested = true
		if mv.Decision, err = c.manager.Acquire(req); err != nil {
			return mv, err
		}
	}
	if mv.Signal, err = c.evaluator.Evaluate(state.TrainID); err != nil {
		return mv, err
	}
	return mv, nil
}

// request rebuilds trainID's current request from the fleet.
func (c *Core) request(trainID string) (occupancy.Request, bool, error) {
	state, ok := c.fleet.Get(trainID)
	if !ok {
		return occupancy.Request{}, false, fmt.Errorf("%w: %s", signal.ErrUnknownTrain, trainID)
	}
	return c.builder.Build(c.Graph(), trainID, state.Route, state.Index)
}

// AffectedTrains returns the trains other than trainID whose current
// lookahead includes any of resources.
func (c *Core) AffectedTrains(trainID string, resources []occupancy.Resource) []string {
	var out []string
	for _, other := range c.fleet.IDs() {
		if other == trainID {
			continue
		}
		req, ok, err := c.request(other)
		if err != nil || !ok {
			continue
		}
		if slices.ContainsFunc(resources, req.Contains) {
			out = append(out, other)
		}
	}
	return out
}
