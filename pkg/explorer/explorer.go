// Package explorer turns raw track adjacency into edge lengths between named
// nodes. Exploration is a multi-source Dijkstra that runs in caller-sized
// slices so a tick loop can amortise it.
package explorer

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/dd0wney/cluso-dispatch/pkg/algorithms"
	"github.com/dd0wney/cluso-dispatch/pkg/logging"
	"github.com/dd0wney/cluso-dispatch/pkg/railgraph"
	"github.com/dd0wney/cluso-dispatch/pkg/validation"
)

// ErrExplorationIncomplete is returned when results are read before the
// frontier is exhausted.
var ErrExplorationIncomplete = errors.New("exploration incomplete")

// Anchor lists the candidate grid positions that belong to one node.
type Anchor struct {
	Node      railgraph.NodeID
	Positions []Pos
}

// Options tunes an exploration.
type Options struct {
	// MaxDistance bounds how far any wavefront travels. 0 means unbounded.
	MaxDistance int
	// OnJunction is called once per settled branching position.
	OnJunction func(p Pos, owner railgraph.NodeID)
	Logger     logging.Logger
}

type frontier struct {
	pos   Pos
	owner railgraph.NodeID
}

// Explorer is a resumable exploration session. It is not safe for
// concurrent use; the owning tick loop drives it.
type Explorer struct {
	oracle  Oracle
	opts    Options
	logger  logging.Logger
	queue   algorithms.PriorityQueue[frontier, int]
	dist    map[Pos]int
	owner   map[Pos]railgraph.NodeID
	settled map[Pos]bool
	lengths map[railgraph.EdgeID]int
	nodes   []railgraph.NodeID
	pops    int
}

// New seeds an exploration with one zero-distance entry per traversable
// anchor position. Anchors are seeded in node id order so results do not
// depend on the caller's slice order.
func New(anchors []Anchor, oracle Oracle, opts Options) (*Explorer, error) {
	if oracle == nil {
		return nil, fmt.Errorf("%w: nil oracle", validation.ErrInvalidArgument)
	}
	if len(anchors) == 0 {
		return nil, fmt.Errorf("%w: no anchors", validation.ErrInvalidArgument)
	}
	if opts.MaxDistance < 0 {
		return nil, fmt.Errorf("%w: negative max distance %d", validation.ErrInvalidArgument, opts.MaxDistance)
	}

	e := &Explorer{
		oracle:  oracle,
		opts:    opts,
		logger:  logging.OrNop(opts.Logger).With(logging.Component("explorer")),
		dist:    make(map[Pos]int),
		owner:   make(map[Pos]railgraph.NodeID),
		settled: make(map[Pos]bool),
		lengths: make(map[railgraph.EdgeID]int),
	}

	sorted := slices.Clone(anchors)
	slices.SortFunc(sorted, func(a, b Anchor) int {
		switch {
		case a.Node < b.Node:
			return -1
		case a.Node > b.Node:
			return 1
		}
		return 0
	})

	seen := make(map[railgraph.NodeID]bool, len(sorted))
	for _, a := range sorted {
		if err := validation.Identifier("anchor node", string(a.Node)); err != nil {
			return nil, err
		}
		if seen[a.Node] {
			return nil, fmt.Errorf("%w: duplicate anchor node %s", validation.ErrInvalidArgument, a.Node)
		}
		seen[a.Node] = true
		e.nodes = append(e.nodes, a.Node)

		seeded := 0
		for _, p := range a.Positions {
			if !oracle.Traversable(p) {
				continue
			}
			if prev, ok := e.owner[p]; ok {
				if prev != a.Node {
					return nil, fmt.Errorf("%w: position %s anchors both %s and %s",
						validation.ErrInvalidArgument, p, prev, a.Node)
				}
				continue
			}
			e.dist[p] = 0
			e.owner[p] = a.Node
			e.queue.Push(frontier{pos: p, owner: a.Node}, 0)
			seeded++
		}
		if seeded == 0 {
			e.logger.Warn("anchor has no traversable positions", logging.NodeID(string(a.Node)))
		}
	}
	return e, nil
}

// Step processes at most budget frontier pops and returns how many it took.
func (e *Explorer) Step(budget int) (int, error) {
	if budget <= 0 {
		return 0, fmt.Errorf("%w: step budget must be positive, got %d", validation.ErrInvalidArgument, budget)
	}
	n := 0
	for n < budget {
		f, d, ok := e.queue.Pop()
		if !ok {
			break
		}
		n++
		e.expand(f, d)
	}
	e.pops += n
	if e.IsDone() && n > 0 {
		e.logger.Debug("exploration finished",
			logging.Int("pops", e.pops),
			logging.Count(len(e.lengths)))
	}
	return n, nil
}

// Run steps until the frontier is exhausted and returns the total pops.
func (e *Explorer) Run() int {
	for !e.IsDone() {
		e.Step(1024) //nolint:errcheck // budget is positive
	}
	return e.pops
}

// IsDone reports whether the frontier is exhausted.
func (e *Explorer) IsDone() bool { return e.queue.Len() == 0 }

// Processed returns the number of frontier pops so far.
func (e *Explorer) Processed() int { return e.pops }

// Pending returns the number of queued frontier entries, stale ones included.
func (e *Explorer) Pending() int { return e.queue.Len() }

// Nodes returns the anchor node ids in sorted order.
func (e *Explorer) Nodes() []railgraph.NodeID { return slices.Clone(e.nodes) }

// EdgeLengths returns the shortest explored length for every pair of nodes
// whose wavefronts met. It fails until IsDone reports true.
func (e *Explorer) EdgeLengths() (map[railgraph.EdgeID]int, error) {
	if !e.IsDone() {
		return nil, fmt.Errorf("%w: %d frontier entries pending", ErrExplorationIncomplete, e.queue.Len())
	}
	return maps.Clone(e.lengths), nil
}

func (e *Explorer) expand(f frontier, d int) {
	// stale: a shorter wavefront or a different owner took this position
	if d > e.dist[f.pos] || e.owner[f.pos] != f.owner || e.settled[f.pos] {
		return
	}
	e.settled[f.pos] = true

	neighbors := e.oracle.Neighbors(f.pos)
	e.detectJunction(f, neighbors)

	for _, n := range neighbors {
		if !e.oracle.Traversable(n) {
			continue
		}
		step := e.oracle.StepCost(f.pos, n)
		if step <= 0 {
			continue
		}
		nd := d + step

		other, reached := e.owner[n]
		if !reached {
			if e.opts.MaxDistance > 0 && nd > e.opts.MaxDistance {
				continue
			}
			e.dist[n] = nd
			e.owner[n] = f.owner
			e.queue.Push(frontier{pos: n, owner: f.owner}, nd)
			continue
		}

		if other != f.owner {
			e.meet(f.owner, other, d+step+e.dist[n])
		}
		// only a strictly shorter route reopens a position; equal distances
		// keep the first writer
		if nd < e.dist[n] && !e.settled[n] {
			e.dist[n] = nd
			e.owner[n] = f.owner
			e.queue.Push(frontier{pos: n, owner: f.owner}, nd)
		}
	}
}

func (e *Explorer) meet(a, b railgraph.NodeID, length int) {
	id := railgraph.EdgeKey(a, b)
	if old, ok := e.lengths[id]; !ok || length < old {
		e.lengths[id] = length
	}
}

func (e *Explorer) detectJunction(f frontier, neighbors []Pos) {
	if e.opts.OnJunction == nil {
		return
	}
	var branching bool
	if jo, ok := e.oracle.(JunctionOracle); ok {
		branching = jo.IsJunction(f.pos, neighbors)
	} else {
		degree := 0
		for _, n := range neighbors {
			if e.oracle.Traversable(n) {
				degree++
			}
		}
		branching = degree >= 3
	}
	if branching {
		e.opts.OnJunction(f.pos, f.owner)
	}
}
