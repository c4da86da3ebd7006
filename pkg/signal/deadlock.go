package signal

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dd0wney/cluso-dispatch/pkg/algorithms"
	"github.com/dd0wney/cluso-dispatch/pkg/logging"
	"github.com/dd0wney/cluso-dispatch/pkg/metrics"
	"github.com/dd0wney/cluso-dispatch/pkg/occupancy"
	"github.com/dd0wney/cluso-dispatch/pkg/validation"
)

// DefaultLockTTL is how long a deadlock override lasts.
const DefaultLockTTL = 8 * time.Second

// DeadlockLock is a time-boxed override on a conflict resource.
type DeadlockLock struct {
	TrainID   string    `json:"train_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ResolverOptions configures a DeadlockResolver.
type ResolverOptions struct {
	Clock func() time.Time
	TTL   time.Duration
	// ReleaseAspect is the signal announced to a train granted an override.
	// Defaults to Proceed.
	ReleaseAspect *occupancy.Aspect
	// Priority ranks cycle participants; the highest wins, ties go to the
	// smallest train id.
	Priority func(trainID string) int
	Logger   logging.Logger
	Metrics  *metrics.Registry
}

// DeadlockResolver detects circular waits and breaks them by granting one
// participant an override lock on the conflict resource it waits for.
// Locks expire on their own; expiry is checked lazily and by PurgeExpired.
type DeadlockResolver struct {
	bus      *Bus
	clock    func() time.Time
	ttl      time.Duration
	release  occupancy.Aspect
	priority func(string) int
	logger   logging.Logger
	metrics  *metrics.Registry

	mu    sync.Mutex
	locks map[occupancy.Resource]DeadlockLock
}

// NewDeadlockResolver creates a resolver publishing on bus.
func NewDeadlockResolver(bus *Bus, opts ResolverOptions) (*DeadlockResolver, error) {
	if opts.TTL < 0 {
		return nil, fmt.Errorf("%w: negative lock ttl %s", validation.ErrInvalidArgument, opts.TTL)
	}
	if opts.TTL == 0 {
		opts.TTL = DefaultLockTTL
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	release := occupancy.Proceed
	if opts.ReleaseAspect != nil {
		release = *opts.ReleaseAspect
	}
	return &DeadlockResolver{
		bus:      bus,
		clock:    opts.Clock,
		ttl:      opts.TTL,
		release:  release,
		priority: opts.Priority,
		logger:   logging.OrNop(opts.Logger).With(logging.Component("deadlock")),
		metrics:  opts.Metrics,
		locks:    make(map[occupancy.Resource]DeadlockLock),
	}, nil
}

// TTL returns the lock lifetime.
func (d *DeadlockResolver) TTL() time.Duration { return d.ttl }

// GrantLock gives trainID the override on r unless another train holds an
// unexpired lock there. Renewal by the holder always succeeds.
func (d *DeadlockResolver) GrantLock(r occupancy.Resource, trainID string) (bool, error) {
	if !r.Valid() {
		return false, fmt.Errorf("%w: invalid resource %q", validation.ErrInvalidArgument, r)
	}
	if err := validation.Identifier("train id", trainID); err != nil {
		return false, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.clock()
	if l, ok := d.activeLocked(r, now); ok && l.TrainID != trainID {
		return false, nil
	}
	d.locks[r] = DeadlockLock{TrainID: trainID, ExpiresAt: now.Add(d.ttl)}
	d.metrics.SetDeadlockLocks(len(d.locks))
	return true, nil
}

// HasLock reports whether trainID holds an unexpired lock on r. It has the
// shape of occupancy.OverrideFunc.
func (d *DeadlockResolver) HasLock(r occupancy.Resource, trainID string) bool {
	l, ok := d.Holder(r)
	return ok && l.TrainID == trainID
}

// Holder returns the unexpired lock on r.
func (d *DeadlockResolver) Holder(r occupancy.Resource) (DeadlockLock, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.activeLocked(r, d.clock())
}

func (d *DeadlockResolver) activeLocked(r occupancy.Resource, now time.Time) (DeadlockLock, bool) {
	l, ok := d.locks[r]
	if !ok {
		return DeadlockLock{}, false
	}
	if !now.Before(l.ExpiresAt) {
		delete(d.locks, r)
		d.metrics.SetDeadlockLocks(len(d.locks))
		return DeadlockLock{}, false
	}
	return l, true
}

// PurgeExpired drops expired locks and returns how many went.
func (d *DeadlockResolver) PurgeExpired() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.clock()
	n := 0
	for r, l := range d.locks {
		if !now.Before(l.ExpiresAt) {
			delete(d.locks, r)
			n++
		}
	}
	d.metrics.SetDeadlockLocks(len(d.locks))
	return n
}

// LockCount returns the number of stored locks, expired or not.
func (d *DeadlockResolver) LockCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.locks)
}

// Locks returns the unexpired locks.
func (d *DeadlockResolver) Locks() map[occupancy.Resource]DeadlockLock {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.clock()
	out := make(map[occupancy.Resource]DeadlockLock, len(d.locks))
	for r, l := range d.locks {
		if now.Before(l.ExpiresAt) {
			out[r] = l
		}
	}
	return out
}

// PublishResolved announces that trainID may proceed past r. It always
// follows up with a SignalChanged from Stop so the controller reacts the
// same way it does to any other improvement.
func (d *DeadlockResolver) PublishResolved(trainID string, r occupancy.Resource) {
	d.bus.Publish(DeadlockResolved{ReleasedTrain: trainID, Resource: r, LockDuration: d.ttl})
	d.bus.Publish(SignalChanged{TrainID: trainID, Previous: occupancy.Stop, HasPrevious: true, New: d.release})
	d.metrics.RecordDeadlockResolved()
	d.metrics.RecordSignalChange(d.release.String())
}

// Scan looks for circular waits in edges and resolves each one not already
// covered by an active lock. It returns the trains granted a lock.
func (d *DeadlockResolver) Scan(edges []occupancy.WaitEdge) []string {
	g := make(algorithms.WaitGraph)
	for _, e := range edges {
		g[e.Waiter] = append(g[e.Waiter], e.Holder)
	}

	var granted []string
	for _, cycle := range algorithms.DetectCycles(g) {
		winner, r, ok := d.pickWinner(cycle, edges)
		if !ok {
			d.bus.Publish(DeadlockDetected{Trains: cycle, Description: describeCycle(cycle, occupancy.Resource{})})
			d.metrics.RecordDeadlockDetected()
			d.logger.Warn("circular wait has no conflict resource to override",
				logging.Any("trains", []string(cycle)))
			continue
		}
		if l, held := d.Holder(r); held && slices.Contains(cycle, l.TrainID) {
			// already being resolved
			continue
		}

		d.bus.Publish(DeadlockDetected{Trains: cycle, Resource: r, Description: describeCycle(cycle, r)})
		d.metrics.RecordDeadlockDetected()
		d.logger.Warn("deadlock detected",
			logging.Any("trains", []string(cycle)),
			logging.Resource(r))

		ok, err := d.GrantLock(r, winner)
		if err != nil || !ok {
			d.logger.Warn("cannot grant deadlock lock",
				logging.TrainID(winner),
				logging.Resource(r),
				logging.Error(err))
			continue
		}
		d.PublishResolved(winner, r)
		d.logger.Info("deadlock resolved",
			logging.TrainID(winner),
			logging.Resource(r),
			logging.Duration("ttl", d.ttl))
		granted = append(granted, winner)
	}
	return granted
}

// pickWinner chooses the participant that waits on a conflict resource held
// by the next train in the cycle.
func (d *DeadlockResolver) pickWinner(cycle algorithms.Cycle, edges []occupancy.WaitEdge) (string, occupancy.Resource, bool) {
	var (
		best     string
		bestRes  occupancy.Resource
		bestPrio int
		found    bool
	)
	for i, waiter := range cycle {
		holder := cycle[(i+1)%len(cycle)]
		for _, e := range edges {
			if e.Waiter != waiter || e.Holder != holder || e.Resource.Kind != occupancy.KindConflict {
				continue
			}
			p := d.rank(waiter)
			if !found || p > bestPrio || (p == bestPrio && waiter < best) {
				best, bestRes, bestPrio, found = waiter, e.Resource, p, true
			}
			break
		}
	}
	return best, bestRes, found
}

func (d *DeadlockResolver) rank(trainID string) int {
	if d.priority == nil {
		return 0
	}
	return d.priority(trainID)
}
