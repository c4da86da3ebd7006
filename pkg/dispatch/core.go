// Package dispatch wires the rail graph, occupancy manager and signal loop
// into one tick-driven core.
package dispatch

import (
	"fmt"
	"sync"
	"time"

	"github.com/dd0wney/cluso-dispatch/pkg/algorithms"
	"github.com/dd0wney/cluso-dispatch/pkg/config"
	"github.com/dd0wney/cluso-dispatch/pkg/explorer"
	"github.com/dd0wney/cluso-dispatch/pkg/logging"
	"github.com/dd0wney/cluso-dispatch/pkg/metrics"
	"github.com/dd0wney/cluso-dispatch/pkg/occupancy"
	"github.com/dd0wney/cluso-dispatch/pkg/railgraph"
	"github.com/dd0wney/cluso-dispatch/pkg/signal"
)

// Options configures a Core. Only Config is required.
type Options struct {
	Config *config.Config
	// Graph is the initial network; nil starts empty.
	Graph railgraph.RailGraph
	Clock func() time.Time
	// Callback receives every confirmed signal change.
	Callback signal.Callback
	Yield    occupancy.YieldPolicy
	Logger   logging.Logger
	Metrics  *metrics.Registry
}

// Core is the dispatch control loop. Public methods are safe for
// concurrent use, but Tick is meant to be driven by one loop.
type Core struct {
	cfg     *config.Config
	clock   func() time.Time
	logger  logging.Logger
	metrics *metrics.Registry

	graphs    *railgraph.Snapshots
	manager   *occupancy.Manager
	builder   *occupancy.RequestBuilder
	resolver  occupancy.Resolver
	fleet     *occupancy.Fleet
	bus       *signal.Bus
	evaluator *signal.Evaluator
	deadlocks *signal.DeadlockResolver
	control   *signal.Controller
	lengths   *algorithms.PathFinder
	timing    *algorithms.PathFinder
	travel    algorithms.ConstantSpeed

	mu      sync.Mutex
	overlay railgraph.Overlay
	explore *exploration
	speeds  map[string]float64
}

// exploration is a pending network survey advanced a budget per tick.
type exploration struct {
	ex    *explorer.Explorer
	nodes []railgraph.Node
	opts  []railgraph.EdgeOption
}

// New builds a core from opts.
func New(opts Options) (*Core, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	logger := logging.OrNop(opts.Logger)

	builder, err := occupancy.NewRequestBuilder(cfg.Occupancy.LookaheadEdges, cfg.Occupancy.DefaultHeadway)
	if err != nil {
		return nil, err
	}
	release, err := occupancy.ParseAspect(cfg.Deadlock.ReleaseAspect)
	if err != nil {
		return nil, err
	}

	c := &Core{
		cfg:      cfg,
		clock:    opts.Clock,
		logger:   logger.With(logging.Component("dispatch")),
		metrics:  opts.Metrics,
		builder:  builder,
		resolver: occupancy.NewResolver(),
		fleet:    occupancy.NewFleet(),
		travel: algorithms.ConstantSpeed{
			DefaultSpeed: cfg.Travel.DefaultSpeed,
			AllowBlocked: cfg.Travel.AllowBlocked,
		},
		speeds: make(map[string]float64),
	}
	c.lengths = algorithms.NewPathFinder(algorithms.ByLength)
	c.timing = algorithms.NewPathFinder(algorithms.ByTravelTime(c.travel))

	base := opts.Graph
	if base == nil {
		base = railgraph.NewBuilder().Build()
	}
	c.overlay = railgraph.NewOverlay(base)
	c.graphs = railgraph.NewSnapshots(c.overlay)
	c.metrics.SetSnapshotVersion(c.graphs.Snapshot().Version)

	c.bus = signal.NewBus(signal.BusOptions{Clock: opts.Clock, Logger: logger, Metrics: opts.Metrics})
	c.deadlocks, err = signal.NewDeadlockResolver(c.bus, signal.ResolverOptions{
		Clock:         opts.Clock,
		TTL:           cfg.Deadlock.LockTTL,
		ReleaseAspect: &release,
		Priority:      c.fleet.Priority,
		Logger:        logger,
		Metrics:       opts.Metrics,
	})
	if err != nil {
		return nil, err
	}

	c.manager = occupancy.NewManager(occupancy.Options{
		Clock: opts.Clock,
		Policy: occupancy.ThresholdPolicy{
			ProceedWithCaution: cfg.Signals.ProceedWithCaution,
			Caution:            cfg.Signals.Caution,
		},
		ExpectedHold: cfg.Occupancy.ExpectedHold,
		Yield:        opts.Yield,
		Override:     c.deadlocks.HasLock,
		Observer:     signal.NewDispatcher(c.bus, c.AffectedTrains),
		Logger:       logger,
		Metrics:      opts.Metrics,
	})

	c.evaluator = signal.NewEvaluator(c.bus, c.manager, c.request, c.manager.Waiting, signal.EvaluatorOptions{
		Authority: c.speed,
		AuthorityPolicy: occupancy.AuthorityPolicy{
			Deceleration:  cfg.Signals.BrakingDeceleration,
			CautionFactor: cfg.Signals.CautionFactor,
		},
		AuthorityLength: c.authorityLength,
		Logger:          logger,
		Metrics:         opts.Metrics,
	})

	if opts.Callback != nil {
		c.control = signal.NewController(c.bus, opts.Callback, logger, opts.Metrics)
	}
	return c, nil
}

// Close detaches every subscriber and shuts the bus down.
func (c *Core) Close() {
	if c.control != nil {
		c.control.Close()
	}
	c.evaluator.Close()
	c.bus.Close()
}

// Config returns the configuration in use.
func (c *Core) Config() *config.Config { return c.cfg }

// Bus returns the event bus.
func (c *Core) Bus() *signal.Bus { return c.bus }

// Manager returns the occupancy manager.
func (c *Core) Manager() *occupancy.Manager { return c.manager }

// Deadlocks returns the deadlock resolver.
func (c *Core) Deadlocks() *signal.DeadlockResolver { return c.deadlocks }

// Fleet returns the train registry.
func (c *Core) Fleet() *occupancy.Fleet { return c.fleet }

// Graph returns the current network, overlays included.
func (c *Core) Graph() railgraph.RailGraph { return c.graphs.Current() }

// Snapshot returns the current network with its version.
func (c *Core) Snapshot() railgraph.Snapshot { return c.graphs.Snapshot() }

// Signal returns the last signal published for trainID.
func (c *Core) Signal(trainID string) (occupancy.Aspect, bool) { return c.evaluator.Signal(trainID) }

// Signals returns every cached signal.
func (c *Core) Signals() map[string]occupancy.Aspect { return c.evaluator.Signals() }

// SetGraph replaces the base network. Transient overlays are dropped
// because their edges may no longer exist.
func (c *Core) SetGraph(g railgraph.RailGraph) uint64 {
	c.mu.Lock()
	c.overlay = railgraph.NewOverlay(g)
	v := c.graphs.Publish(c.overlay)
	c.mu.Unlock()

	c.metrics.SetSnapshotVersion(v)
	c.logger.Info("graph published", logging.Int64("version", int64(v)))
	return v
}

// BlockEdge closes id on top of the current network. Trains whose
// lookahead crosses id are re-signalled at once; no new claim includes it
// until it reopens.
func (c *Core) BlockEdge(id railgraph.EdgeID) uint64 {
	v := c.updateOverlay(func(o railgraph.Overlay) (railgraph.Overlay, error) {
		return o.WithBlocked(id), nil
	})
	c.reevaluate(id)
	return v
}

// OpenEdge reopens id, overriding a block in the base network. Trains
// queued on the closure are admitted by the next Tick.
func (c *Core) OpenEdge(id railgraph.EdgeID) uint64 {
	v := c.updateOverlay(func(o railgraph.Overlay) (railgraph.Overlay, error) {
		return o.WithOpened(id), nil
	})
	c.reevaluate(id)
	return v
}

// reevaluate refreshes the signals of every train whose lookahead crosses id.
func (c *Core) reevaluate(id railgraph.EdgeID) {
	for _, train := range c.AffectedTrains("", []occupancy.Resource{occupancy.EdgeResource(id)}) {
		if _, err := c.evaluator.Evaluate(train); err != nil {
			c.logger.Warn("re-evaluation failed", logging.TrainID(train), logging.Error(err))
		}
	}
}

// LimitSpeed sets a temporary speed limit on id.
func (c *Core) LimitSpeed(id railgraph.EdgeID, limit float64) error {
	var err error
	c.updateOverlay(func(o railgraph.Overlay) (railgraph.Overlay, error) {
		next, e := o.WithSpeed(id, limit)
		err = e
		return next, e
	})
	return err
}

func (c *Core) updateOverlay(fn func(railgraph.Overlay) (railgraph.Overlay, error)) uint64 {
	c.mu.Lock()
	next, err := fn(c.overlay)
	if err != nil {
		v := c.graphs.Snapshot().Version
		c.mu.Unlock()
		return v
	}
	c.overlay = next
	v := c.graphs.Publish(next)
	c.mu.Unlock()

	c.metrics.SetSnapshotVersion(v)
	return v
}

// SetSpeed records a train's current speed for movement-authority advice.
// A negative speed forgets it.
func (c *Core) SetSpeed(trainID string, speed float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if speed < 0 {
		delete(c.speeds, trainID)
		return
	}
	c.speeds[trainID] = speed
}

func (c *Core) speed(trainID string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.speeds[trainID]
	return v, ok
}

// authorityLength sums the track covered by a request's edge resources.
func (c *Core) authorityLength(req occupancy.Request) float64 {
	g := c.Graph()
	total := 0
	for _, r := range req.Resources {
		if r.Kind != occupancy.KindEdge {
			continue
		}
		id, err := railgraph.ParseEdgeID(r.Key)
		if err != nil {
			continue
		}
		if e, ok := g.Edge(id); ok {
			total += e.Length
		}
	}
	return float64(total)
}

func (c *Core) String() string {
	return fmt.Sprintf("dispatch core: %d trains, %d claims", c.fleet.Len(), c.manager.Len())
}
