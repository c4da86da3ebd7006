package occupancy

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/dd0wney/cluso-dispatch/pkg/algorithms"
	"github.com/dd0wney/cluso-dispatch/pkg/logging"
	"github.com/dd0wney/cluso-dispatch/pkg/metrics"
	"github.com/dd0wney/cluso-dispatch/pkg/railgraph"
)

// Observer is told about claim changes after the manager lock is released.
// Resources are reported only when they actually changed hands.
type Observer interface {
	Acquired(trainID string, resources []Resource)
	Released(trainID string, resources []Resource)
}

// OverrideFunc reports whether trainID currently holds a deadlock override
// on the conflict resource r.
type OverrideFunc func(r Resource, trainID string) bool

// Options configures a Manager. The zero value is usable.
type Options struct {
	Clock  func() time.Time
	Policy AspectPolicy
	// ExpectedHold estimates how long a claim is held. Zero means unknown,
	// and a request blocked with an unknown wait is given Stop.
	ExpectedHold time.Duration
	Yield        YieldPolicy
	Override     OverrideFunc
	Observer     Observer
	Logger       logging.Logger
	Metrics      *metrics.Registry
}

// Manager owns the claims table. Every operation runs under one mutex so
// decisions are atomic with respect to concurrent acquires.
//
// A resource normally has at most one holder. Resources requested with a
// heading may have several holders, all travelling the same way.
type Manager struct {
	mu     sync.Mutex
	claims map[Resource][]Claim
	queue  *WaitQueue
	// wantHeadings keeps the headings of each queued train's last denied
	// request so same-direction holders are not reported as blocking it.
	wantHeadings map[string]map[Resource]railgraph.Direction

	clock    func() time.Time
	policy   AspectPolicy
	hold     time.Duration
	yield    YieldPolicy
	override OverrideFunc
	observer Observer
	logger   logging.Logger
	metrics  *metrics.Registry
}

// NewManager creates an empty manager.
func NewManager(opts Options) *Manager {
	m := &Manager{
		claims:       make(map[Resource][]Claim),
		queue:        NewWaitQueue(),
		wantHeadings: make(map[string]map[Resource]railgraph.Direction),
		clock:    opts.Clock,
		policy:   opts.Policy,
		hold:     opts.ExpectedHold,
		yield:    opts.Yield,
		override: opts.Override,
		observer: opts.Observer,
		logger:   logging.OrNop(opts.Logger).With(logging.Component("occupancy")),
		metrics:  opts.Metrics,
	}
	if m.clock == nil {
		m.clock = time.Now
	}
	if m.policy == nil {
		m.policy = DefaultAspectPolicy()
	}
	if m.yield == nil {
		m.yield = NeverYield{}
	}
	return m
}

// SetObserver replaces the observer. It is meant for wiring at start-up.
func (m *Manager) SetObserver(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observer = o
}

// SetOverride replaces the deadlock override check.
func (m *Manager) SetOverride(f OverrideFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.override = f
}

// CanEnter judges req against the current table without changing anything.
func (m *Manager) CanEnter(req Request) (Decision, error) {
	if err := req.Validate(); err != nil {
		return Decision{}, err
	}
	m.mu.Lock()
	d := m.decideLocked(req, m.clock())
	m.mu.Unlock()

	m.metrics.RecordDecision("can_enter", d.Allowed, d.Aspect.String())
	return d, nil
}

// Acquire judges req and, when allowed, claims every resource in it.
// A denied train is queued behind each resource that blocked it and on
// each closed edge it asked for.
func (m *Manager) Acquire(req Request) (Decision, error) {
	if err := req.Validate(); err != nil {
		return Decision{}, err
	}

	var (
		gained    []Resource
		preempted = make(map[string][]Resource)
	)

	m.mu.Lock()
	now := m.clock()
	d := m.decideLocked(req, now)
	if d.Allowed {
		for _, r := range req.Resources {
			heading := req.Heading(r)
			var (
				kept []Claim
				own  bool
			)
			for _, c := range m.claims[r] {
				switch {
				case c.TrainID == req.TrainID:
					// refresh: headway only grows
					c.Headway = max(c.Headway, req.Headway)
					if req.RouteID != "" {
						c.RouteID = req.RouteID
					}
					c.Heading = heading
					own = true
					kept = append(kept, c)
				case heading != "" && c.Heading == heading:
					kept = append(kept, c)
				default:
					preempted[c.TrainID] = append(preempted[c.TrainID], r)
				}
			}
			if !own {
				kept = append(kept, Claim{
					Resource:   r,
					TrainID:    req.TrainID,
					RouteID:    req.RouteID,
					AcquiredAt: now,
					Headway:    req.Headway,
					Heading:    heading,
				})
				gained = append(gained, r)
			}
			m.claims[r] = kept
		}
		m.queue.Remove(req.TrainID, req.Resources...)
		delete(m.wantHeadings, req.TrainID)
	} else {
		for _, b := range d.Blockers {
			m.queue.Enqueue(b.Resource, req.TrainID)
		}
		for _, r := range d.Closed {
			m.queue.Enqueue(r, req.TrainID)
		}
		if len(req.Headings) > 0 {
			m.wantHeadings[req.TrainID] = req.Headings
		} else {
			delete(m.wantHeadings, req.TrainID)
		}
	}
	held, waiting := m.countLocked(), m.queue.Len()
	observer := m.observer
	m.mu.Unlock()

	m.metrics.RecordDecision("acquire", d.Allowed, d.Aspect.String())
	m.metrics.SetClaimsHeld(held)
	m.metrics.SetWaiting(waiting)

	for _, loser := range sortedKeys(preempted) {
		m.logger.Warn("claim preempted by deadlock override",
			logging.TrainID(loser),
			logging.String("winner", req.TrainID),
			logging.Count(len(preempted[loser])))
		m.metrics.RecordReleases("preempted", len(preempted[loser]))
		if observer != nil {
			observer.Released(loser, preempted[loser])
		}
	}
	if len(gained) > 0 && observer != nil {
		observer.Acquired(req.TrainID, gained)
	}
	return d, nil
}

// decideLocked computes a decision. m.mu must be held.
func (m *Manager) decideLocked(req Request, now time.Time) Decision {
	var blockers []Claim
	for _, r := range req.Resources {
		heading := req.Heading(r)
		for _, c := range m.claims[r] {
			if c.TrainID == req.TrainID || (heading != "" && c.Heading == heading) {
				continue
			}
			if r.Kind == KindConflict && m.override != nil && m.override(r, req.TrainID) {
				continue
			}
			blockers = append(blockers, c)
		}
	}

	if len(req.Closed) > 0 {
		// no estimate: a closure lasts until someone reopens the edge
		return Decision{Blockers: blockers, EarliestTime: now, Aspect: Stop, Closed: slices.Clone(req.Closed)}
	}
	if len(blockers) == 0 {
		return Decision{Allowed: true, EarliestTime: now, Aspect: m.policy.Aspect(0)}
	}

	d := Decision{Blockers: blockers, EarliestTime: now, Aspect: Stop}
	if wait, ok := m.estimateWait(blockers, now); ok {
		d.EarliestTime = now.Add(wait)
		// blocked never means Proceed
		d.Aspect = MoreRestrictive(m.policy.Aspect(wait), ProceedWithCaution)
	}
	return d
}

// countLocked returns the number of claims held. m.mu must be held.
func (m *Manager) countLocked() int {
	n := 0
	for _, cs := range m.claims {
		n += len(cs)
	}
	return n
}

// estimateWait returns the longest expected time until every blocker has
// released and its headway elapsed.
func (m *Manager) estimateWait(blockers []Claim, now time.Time) (time.Duration, bool) {
	if m.hold <= 0 {
		return 0, false
	}
	var wait time.Duration
	for _, b := range blockers {
		free := b.AcquiredAt.Add(m.hold + b.Headway)
		wait = max(wait, free.Sub(now))
	}
	return wait, true
}

// Claim returns the earliest claim on r, if any.
func (m *Manager) Claim(r Resource) (Claim, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cs := m.claims[r]
	if len(cs) == 0 {
		return Claim{}, false
	}
	return cs[0], true
}

// Holders returns every claim on r in acquisition order.
func (m *Manager) Holders(r Resource) []Claim {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.claims[r])
}

// SnapshotClaims returns a copy of every claim, ordered by resource then
// train.
func (m *Manager) SnapshotClaims() []Claim {
	m.mu.Lock()
	out := make([]Claim, 0, len(m.claims))
	for _, cs := range m.claims {
		out = append(out, cs...)
	}
	m.mu.Unlock()

	slices.SortFunc(out, func(a, b Claim) int {
		return cmp.Or(a.Resource.Compare(b.Resource), cmp.Compare(a.TrainID, b.TrainID))
	})
	return out
}

// ClaimsOf returns the claims held by trainID, ordered by resource.
func (m *Manager) ClaimsOf(trainID string) []Claim {
	var out []Claim
	for _, c := range m.SnapshotClaims() {
		if c.TrainID == trainID {
			out = append(out, c)
		}
	}
	return out
}

// Len returns the number of claims held.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countLocked()
}

// ReleaseByTrain drops every claim held by trainID and every wait it has
// queued. It returns the number of claims released.
func (m *Manager) ReleaseByTrain(trainID string) int {
	m.mu.Lock()
	var released []Resource
	for r := range m.claims {
		if m.dropLocked(r, trainID) > 0 {
			released = append(released, r)
		}
	}
	m.queue.RemoveTrain(trainID)
	delete(m.wantHeadings, trainID)
	held, waiting := m.countLocked(), m.queue.Len()
	observer := m.observer
	m.mu.Unlock()

	slices.SortFunc(released, Resource.Compare)
	m.metrics.RecordReleases("train", len(released))
	m.metrics.SetClaimsHeld(held)
	m.metrics.SetWaiting(waiting)
	if len(released) > 0 {
		m.logger.Debug("released train claims", logging.TrainID(trainID), logging.Count(len(released)))
		if observer != nil {
			observer.Released(trainID, released)
		}
	}
	return len(released)
}

// ReleaseResource drops claims on r. When expectedTrain is not empty only
// that train's claim is released; otherwise every holder of r is.
// Releasing an unheld resource returns false.
func (m *Manager) ReleaseResource(r Resource, expectedTrain string) bool {
	return m.ReleaseResources(expectedTrain, r) > 0
}

// ReleaseResources releases several resources under one lock and reports
// them to the observer as a single release per train. It returns how many
// claims were dropped.
func (m *Manager) ReleaseResources(expectedTrain string, rs ...Resource) int {
	m.mu.Lock()
	byTrain := make(map[string][]Resource)
	for _, r := range rs {
		for _, c := range m.claims[r] {
			if expectedTrain == "" || c.TrainID == expectedTrain {
				byTrain[c.TrainID] = append(byTrain[c.TrainID], r)
			}
		}
		if expectedTrain == "" {
			delete(m.claims, r)
		} else {
			m.dropLocked(r, expectedTrain)
		}
	}
	held := m.countLocked()
	observer := m.observer
	m.mu.Unlock()

	n := 0
	for _, train := range sortedKeys(byTrain) {
		n += len(byTrain[train])
		if observer != nil {
			observer.Released(train, byTrain[train])
		}
	}
	m.metrics.RecordReleases("explicit", n)
	m.metrics.SetClaimsHeld(held)
	return n
}

// dropLocked removes trainID's claim on r and returns how many claims went.
// m.mu must be held.
func (m *Manager) dropLocked(r Resource, trainID string) int {
	cs := m.claims[r]
	kept := slices.DeleteFunc(slices.Clone(cs), func(c Claim) bool { return c.TrainID == trainID })
	if len(kept) == 0 {
		delete(m.claims, r)
	} else {
		m.claims[r] = kept
	}
	return len(cs) - len(kept)
}

// ShouldYield asks the yield policy whether req's train should hold back
// for the other trains holding or waiting on its resources.
func (m *Manager) ShouldYield(req Request) bool {
	m.mu.Lock()
	seen := map[string]bool{req.TrainID: true}
	var contenders []string
	add := func(train string) {
		if !seen[train] {
			seen[train] = true
			contenders = append(contenders, train)
		}
	}
	for _, r := range req.Resources {
		heading := req.Heading(r)
		for _, c := range m.claims[r] {
			if heading == "" || c.Heading != heading {
				add(c.TrainID)
			}
		}
		for _, w := range m.queue.Waiters(r) {
			add(w)
		}
	}
	m.mu.Unlock()

	if len(contenders) == 0 {
		return false
	}
	return m.yield.ShouldYield(req, contenders)
}

// Waiting returns the trains queued on any of rs, in first-arrival order.
func (m *Manager) Waiting(rs ...Resource) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Waiting(rs...)
}

// SnapshotQueues returns a copy of every non-empty wait queue.
func (m *Manager) SnapshotQueues() map[Resource][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Snapshot()
}

// CancelWaits removes trainID from every wait queue.
func (m *Manager) CancelWaits(trainID string) {
	m.mu.Lock()
	m.queue.RemoveTrain(trainID)
	delete(m.wantHeadings, trainID)
	waiting := m.queue.Len()
	m.mu.Unlock()
	m.metrics.SetWaiting(waiting)
}

// WaitEdge says Waiter is queued on Resource, which Holder currently holds
// in a way that blocks Waiter.
type WaitEdge struct {
	Waiter   string
	Holder   string
	Resource Resource
}

// WaitEdges returns the current wait-for relation, ordered by waiter then
// resource. Waits on resources nobody holds any more are skipped.
func (m *Manager) WaitEdges() []WaitEdge {
	m.mu.Lock()
	var out []WaitEdge
	for r, waiters := range m.queue.Snapshot() {
		for _, w := range waiters {
			heading := m.wantHeadings[w][r]
			for _, c := range m.claims[r] {
				if w == c.TrainID || (heading != "" && c.Heading == heading) {
					continue
				}
				out = append(out, WaitEdge{Waiter: w, Holder: c.TrainID, Resource: r})
			}
		}
	}
	m.mu.Unlock()

	slices.SortFunc(out, func(a, b WaitEdge) int {
		return cmp.Or(
			cmp.Compare(a.Waiter, b.Waiter),
			a.Resource.Compare(b.Resource),
			cmp.Compare(a.Holder, b.Holder),
		)
	})
	return out
}

// WaitGraph folds WaitEdges into a waiter -> holders graph.
func (m *Manager) WaitGraph() algorithms.WaitGraph {
	g := make(algorithms.WaitGraph)
	for _, e := range m.WaitEdges() {
		g[e.Waiter] = append(g[e.Waiter], e.Holder)
	}
	return g
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
