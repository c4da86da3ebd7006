package signal

import (
	"errors"
	"maps"
	"sync"

	"github.com/dd0wney/cluso-dispatch/pkg/logging"
	"github.com/dd0wney/cluso-dispatch/pkg/metrics"
	"github.com/dd0wney/cluso-dispatch/pkg/occupancy"
)

// Decider answers occupancy questions without side effects.
type Decider interface {
	CanEnter(req occupancy.Request) (occupancy.Decision, error)
}

// ErrUnknownTrain is returned by a RequestProvider for a train it does not
// manage. Such trains are never signalled.
var ErrUnknownTrain = errors.New("unknown train")

// RequestProvider rebuilds a train's current occupancy request. ok is false
// when the train needs nothing (for example at the end of its route).
type RequestProvider func(trainID string) (req occupancy.Request, ok bool, err error)

// WaitersProvider returns the trains queued on any of resources.
type WaitersProvider func(resources ...occupancy.Resource) []string

// AuthorityProvider reports a train's speed for the movement-authority
// advisory. ok is false when the speed is unknown.
type AuthorityProvider func(trainID string) (speed float64, ok bool)

// EvaluatorOptions configures an Evaluator.
type EvaluatorOptions struct {
	// Authority, when set, tightens allowed aspects using Policy and the
	// length of track the request covers.
	Authority       AuthorityProvider
	AuthorityPolicy occupancy.AuthorityPolicy
	// AuthorityLength returns the blocks of track a request grants.
	AuthorityLength func(req occupancy.Request) float64
	Logger          logging.Logger
	Metrics         *metrics.Registry
}

// Evaluator caches each train's last signal and republishes it only when it
// changes. It reacts to occupancy events instead of polling.
type Evaluator struct {
	bus      *Bus
	decider  Decider
	requests RequestProvider
	waiters  WaitersProvider
	opts     EvaluatorOptions
	logger   logging.Logger
	metrics  *metrics.Registry

	mu    sync.Mutex
	cache map[string]occupancy.Aspect

	removers []func()
}

// NewEvaluator creates an evaluator and subscribes it to bus.
func NewEvaluator(bus *Bus, decider Decider, requests RequestProvider, waiters WaitersProvider, opts EvaluatorOptions) *Evaluator {
	e := &Evaluator{
		bus:      bus,
		decider:  decider,
		requests: requests,
		waiters:  waiters,
		opts:     opts,
		logger:   logging.OrNop(opts.Logger).With(logging.Component("evaluator")),
		metrics:  opts.Metrics,
		cache:    make(map[string]occupancy.Aspect),
	}
	e.removers = append(e.removers,
		Subscribe(bus, e.onAcquired),
		Subscribe(bus, e.onReleased),
		Subscribe(bus, e.onSignalChanged),
	)
	return e
}

// Close unsubscribes the evaluator.
func (e *Evaluator) Close() {
	for _, remove := range e.removers {
		remove()
	}
	e.removers = nil
}

func (e *Evaluator) onAcquired(ev OccupancyAcquired) error {
	return e.evaluateAll(ev.AffectedTrains)
}

func (e *Evaluator) onReleased(ev OccupancyReleased) error {
	if e.waiters == nil {
		return nil
	}
	return e.evaluateAll(e.waiters(ev.Released...))
}

// evaluateAll evaluates every train even when some fail, so one bad request
// never leaves the others with a stale signal.
func (e *Evaluator) evaluateAll(trains []string) error {
	var errs []error
	for _, train := range trains {
		if _, err := e.Evaluate(train); err != nil && !errors.Is(err, ErrUnknownTrain) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// onSignalChanged keeps the cache in step with signals published by others,
// such as deadlock resolutions.
func (e *Evaluator) onSignalChanged(ev SignalChanged) error {
	e.mu.Lock()
	e.cache[ev.TrainID] = ev.New
	e.mu.Unlock()
	return nil
}

// Evaluate recomputes trainID's signal and publishes SignalChanged when it
// differs from the cached one. A train with nothing to request is given
// Stop: it has reached its terminus. Nothing is published when the request
// cannot be built.
func (e *Evaluator) Evaluate(trainID string) (occupancy.Aspect, error) {
	req, ok, err := e.requests(trainID)
	switch {
	case errors.Is(err, ErrUnknownTrain):
		return occupancy.Stop, err
	case err != nil:
		e.logger.Warn("cannot build request", logging.TrainID(trainID), logging.Error(err))
		return occupancy.Stop, err
	}

	aspect := occupancy.Stop
	if ok {
		d, err := e.decider.CanEnter(req)
		if err != nil {
			e.logger.Warn("cannot judge request", logging.TrainID(trainID), logging.Error(err))
			return occupancy.Stop, err
		}
		aspect = d.Aspect
		if d.Allowed {
			aspect = occupancy.MoreRestrictive(aspect, e.authorityAspect(trainID, req))
		}
	}

	e.mu.Lock()
	prev, had := e.cache[trainID]
	changed := !had || prev != aspect
	e.mu.Unlock()

	if changed {
		// the SignalChanged handler updates the cache
		e.bus.Publish(SignalChanged{TrainID: trainID, Previous: prev, HasPrevious: had, New: aspect})
		e.metrics.RecordSignalChange(aspect.String())
		e.logger.Debug("signal changed",
			logging.TrainID(trainID),
			logging.Aspect(aspect))
	}
	return aspect, nil
}

func (e *Evaluator) authorityAspect(trainID string, req occupancy.Request) occupancy.Aspect {
	if e.opts.Authority == nil || e.opts.AuthorityLength == nil {
		return occupancy.Proceed
	}
	speed, ok := e.opts.Authority(trainID)
	if !ok {
		return occupancy.Proceed
	}
	return e.opts.AuthorityPolicy.Aspect(speed, e.opts.AuthorityLength(req))
}

// Signal returns the cached signal for trainID.
func (e *Evaluator) Signal(trainID string) (occupancy.Aspect, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.cache[trainID]
	return a, ok
}

// Signals returns a copy of the cache.
func (e *Evaluator) Signals() map[string]occupancy.Aspect {
	e.mu.Lock()
	defer e.mu.Unlock()
	return maps.Clone(e.cache)
}

// Forget drops trainID from the cache.
func (e *Evaluator) Forget(trainID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cache, trainID)
}
