package scenario

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/dd0wney/cluso-dispatch/pkg/dispatch"
	"github.com/dd0wney/cluso-dispatch/pkg/logging"
	"github.com/dd0wney/cluso-dispatch/pkg/occupancy"
	"github.com/dd0wney/cluso-dispatch/pkg/railgraph"
)

// StepReport describes one simulated tick.
type StepReport struct {
	Tick     int
	Departed []string
	Moved    []string
	Arrived  []string
	Events   []string
	Core     dispatch.TickReport
}

// Summary is the outcome of a whole run.
type Summary struct {
	Ticks int
	// Arrivals maps each train that reached its terminus to the tick it did.
	Arrivals map[string]int
	// Stalled is true when MaxTicks passed with trains still running.
	Stalled bool
}

// Runner moves the scenario's trains through a core. A train advances one
// waypoint per tick when its signal is not Stop and it holds the edge to its
// next waypoint. Trains at their terminus are removed on the following tick.
type Runner struct {
	core   *dispatch.Core
	sc     *Scenario
	logger logging.Logger

	tick     int
	pending  []TrainSpec
	arrivals map[string]int
}

// NewRunner prepares sc to run on core. The core's graph should already be
// the scenario's graph.
func NewRunner(core *dispatch.Core, sc *Scenario, logger logging.Logger) *Runner {
	pending := slices.Clone(sc.Trains)
	slices.SortStableFunc(pending, func(a, b TrainSpec) int { return a.Depart - b.Depart })
	return &Runner{
		core:     core,
		sc:       sc,
		logger:   logging.OrNop(logger).With(logging.Component("scenario")),
		pending:  pending,
		arrivals: make(map[string]int),
	}
}

// Tick returns the number of steps taken.
func (r *Runner) Tick() int { return r.tick }

// Done reports whether every train has arrived.
func (r *Runner) Done() bool {
	return len(r.pending) == 0 && r.core.Fleet().Len() == 0
}

// Step runs one tick: events, departures, arrivals, movements, then the
// core's own tick.
func (r *Runner) Step(ctx context.Context) (StepReport, error) {
	rep := StepReport{Tick: r.tick}
	defer func() { r.tick++ }()

	for _, ev := range r.sc.Events {
		if ev.At != r.tick {
			continue
		}
		if err := r.apply(ev); err != nil {
			return rep, fmt.Errorf("tick %d: %w", r.tick, err)
		}
		rep.Events = append(rep.Events, describe(ev))
	}

	for len(r.pending) > 0 && r.pending[0].Depart <= r.tick {
		t := r.pending[0]
		r.pending = r.pending[1:]
		route, err := t.route()
		if err != nil {
			return rep, fmt.Errorf("train %s: %w", t.ID, err)
		}
		if t.Speed > 0 {
			r.core.SetSpeed(t.ID, t.Speed)
		}
		if _, err := r.core.SetRoute(t.ID, route, t.Priority); err != nil {
			return rep, fmt.Errorf("train %s: %w", t.ID, err)
		}
		rep.Departed = append(rep.Departed, t.ID)
	}

	fleet := r.core.Fleet()
	for _, id := range fleet.IDs() {
		st, ok := fleet.Get(id)
		if !ok {
			continue
		}
		if st.Finished() {
			r.core.Remove(id)
			r.arrivals[id] = r.tick
			rep.Arrived = append(rep.Arrived, id)
			r.logger.Info("train arrived", logging.TrainID(id), logging.Int("tick", r.tick))
			continue
		}
		if !r.mayMove(st) {
			continue
		}
		if _, err := r.core.Advance(id); err != nil {
			return rep, fmt.Errorf("advance %s: %w", id, err)
		}
		rep.Moved = append(rep.Moved, id)
	}

	core, err := r.core.Tick(ctx)
	rep.Core = core
	return rep, err
}

// mayMove reports whether st's train is cleared onto its next edge.
func (r *Runner) mayMove(st occupancy.TrainState) bool {
	aspect, ok := r.core.Signal(st.TrainID)
	if !ok || aspect == occupancy.Stop {
		return false
	}
	next := railgraph.EdgeKey(st.At(), st.Route.Waypoints[st.Index+1])
	if r.core.Graph().IsBlocked(next) {
		return false
	}
	c, held := r.core.Manager().Claim(occupancy.EdgeResource(next))
	return held && c.TrainID == st.TrainID
}

// Run steps until every train arrives, MaxTicks is reached or ctx ends.
// onStep, when set, sees every report.
func (r *Runner) Run(ctx context.Context, onStep func(StepReport)) (Summary, error) {
	for !r.Done() && r.tick < r.sc.MaxTicks {
		if err := ctx.Err(); err != nil {
			return r.summary(), err
		}
		rep, err := r.Step(ctx)
		if onStep != nil {
			onStep(rep)
		}
		if err != nil {
			return r.summary(), err
		}
	}
	return r.summary(), nil
}

func (r *Runner) summary() Summary {
	return Summary{
		Ticks:    r.tick,
		Arrivals: maps.Clone(r.arrivals),
		Stalled:  !r.Done(),
	}
}

func (r *Runner) apply(ev EventSpec) error {
	switch ev.Action {
	case ActionBlock, ActionOpen, ActionLimit:
		id, err := railgraph.ParseEdgeID(ev.Edge)
		if err != nil {
			return err
		}
		switch ev.Action {
		case ActionBlock:
			r.core.BlockEdge(id)
		case ActionOpen:
			r.core.OpenEdge(id)
		default:
			return r.core.LimitSpeed(id, ev.Limit)
		}
	case ActionRemove:
		r.core.Remove(ev.Train)
		r.pending = slices.DeleteFunc(r.pending, func(t TrainSpec) bool { return t.ID == ev.Train })
	default:
		return fmt.Errorf("unknown action %q", ev.Action)
	}
	r.logger.Info("scenario event", logging.String("event", describe(ev)))
	return nil
}

func describe(ev EventSpec) string {
	switch ev.Action {
	case ActionRemove:
		return ev.Action + " " + ev.Train
	case ActionLimit:
		return fmt.Sprintf("limit %s %g", ev.Edge, ev.Limit)
	default:
		return ev.Action + " " + ev.Edge
	}
}
