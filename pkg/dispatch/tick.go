package dispatch

import (
	"context"
	"fmt"
	"slices"

	"github.com/dd0wney/cluso-dispatch/pkg/explorer"
	"github.com/dd0wney/cluso-dispatch/pkg/logging"
	"github.com/dd0wney/cluso-dispatch/pkg/railgraph"
	"github.com/dd0wney/cluso-dispatch/pkg/validation"
)

// TickReport summarises one Tick.
type TickReport struct {
	// Retried are waiting trains whose requests were attempted again.
	Retried []string
	// Admitted are the retried trains that got their claims.
	Admitted []string
	// Yielded are waiting trains the yield policy held back this tick.
	Yielded []string
	// Overrides are trains granted a deadlock lock this tick.
	Overrides    []string
	LocksPurged  int
	Explored     int
	GraphVersion uint64
}

// Tick runs one round of the control loop. Expired deadlock locks are
// purged and waiting trains retry, unless the yield policy holds them back
// for a contender. Circular waits are then broken and any pending
// exploration advances by the configured step budget.
func (c *Core) Tick(ctx context.Context) (TickReport, error) {
	var rep TickReport
	rep.LocksPurged = c.deadlocks.PurgeExpired()

	if err := c.retryWaiting(ctx, &rep); err != nil {
		return rep, err
	}

	rep.Overrides = c.deadlocks.Scan(c.manager.WaitEdges())
	for _, train := range rep.Overrides {
		mv, err := c.Retry(train)
		if err != nil {
			c.logger.Warn("override retry failed", logging.TrainID(train), logging.Error(err))
			continue
		}
		if mv.Decision.Allowed {
			rep.Admitted = append(rep.Admitted, train)
		}
	}

	if err := ctx.Err(); err != nil {
		return rep, err
	}
	n, v, err := c.stepExploration()
	rep.Explored, rep.GraphVersion = n, v
	if err != nil {
		return rep, err
	}
	if rep.GraphVersion == 0 {
		rep.GraphVersion = c.graphs.Snapshot().Version
	}
	return rep, nil
}

func (c *Core) retryWaiting(ctx context.Context, rep *TickReport) error {
	var waiting []string
	for _, trains := range c.manager.SnapshotQueues() {
		waiting = append(waiting, trains...)
	}
	slices.Sort(waiting)
	waiting = slices.Compact(waiting)

	for _, train := range waiting {
		if err := ctx.Err(); err != nil {
			return err
		}
		// trains queued by direct manager callers are not ours to retry
		if !c.fleet.Has(train) {
			continue
		}
		if req, ok, err := c.request(train); err == nil && ok && c.manager.ShouldYield(req) {
			rep.Yielded = append(rep.Yielded, train)
			continue
		}
		rep.Retried = append(rep.Retried, train)
		mv, err := c.Retry(train)
		if err != nil {
			c.logger.Warn("retry failed", logging.TrainID(train), logging.Error(err))
			continue
		}
		if mv.Decision.Allowed {
			rep.Admitted = append(rep.Admitted, train)
		}
	}
	return nil
}

// Explore starts surveying raw track. Tick advances the survey and, once it
// completes, publishes the resulting graph. Starting a new survey discards
// any unfinished one.
func (c *Core) Explore(nodes []railgraph.Node, anchors []explorer.Anchor, oracle explorer.Oracle, opts ...railgraph.EdgeOption) error {
	if len(nodes) == 0 {
		return fmt.Errorf("%w: no nodes to explore", validation.ErrInvalidArgument)
	}
	ex, err := explorer.New(anchors, oracle, explorer.Options{
		MaxDistance: c.cfg.Explorer.MaxDistance,
		Logger:      c.logger,
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.explore = &exploration{ex: ex, nodes: slices.Clone(nodes), opts: opts}
	return nil
}

// Exploring reports whether a survey is pending.
func (c *Core) Exploring() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.explore != nil
}

// stepExploration advances a pending survey. It returns the graph version
// published when the survey finished, or zero.
func (c *Core) stepExploration() (int, uint64, error) {
	c.mu.Lock()
	pending := c.explore
	c.mu.Unlock()
	if pending == nil {
		return 0, 0, nil
	}

	n, err := pending.ex.Step(c.cfg.Explorer.StepBudget)
	if err != nil {
		return n, 0, err
	}
	c.metrics.RecordExplorerStep(n, pending.ex.Pending())
	if !pending.ex.IsDone() {
		return n, 0, nil
	}

	lengths, err := pending.ex.EdgeLengths()
	if err != nil {
		return n, 0, err
	}
	g, err := explorer.BuildGraph(pending.nodes, lengths, pending.opts...)

	c.mu.Lock()
	if c.explore == pending {
		c.explore = nil
	}
	c.mu.Unlock()
	if err != nil {
		return n, 0, err
	}

	v := c.SetGraph(g)
	c.logger.Info("exploration finished",
		logging.Int("nodes", g.NodeCount()),
		logging.Int("edges", g.EdgeCount()),
		logging.Int("processed", pending.ex.Processed()))
	return n, v, nil
}
