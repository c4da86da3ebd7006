package signal

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-dispatch/pkg/logging"
	"github.com/dd0wney/cluso-dispatch/pkg/occupancy"
	"github.com/dd0wney/cluso-dispatch/pkg/railgraph"
)

var (
	edgeXY = occupancy.EdgeResource(railgraph.EdgeKey("X", "Y"))
	edgeYZ = occupancy.EdgeResource(railgraph.EdgeKey("Y", "Z"))
	edgePQ = occupancy.EdgeResource(railgraph.EdgeKey("P", "Q"))
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// eventLog captures every event on a bus in publish order.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func recordAll(b *Bus) *eventLog {
	l := &eventLog{}
	SubscribeAll(b, func(ev Event) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.events = append(l.events, ev)
		return nil
	})
	return l
}

func (l *eventLog) signals() []SignalChanged {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []SignalChanged
	for _, ev := range l.events {
		if sc, ok := ev.(SignalChanged); ok {
			out = append(out, sc)
		}
	}
	return out
}

func (l *eventLog) topics() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Topic()
	}
	return out
}

func (l *eventLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
}

// requestTable hands out fixed requests per train, or a fixed error.
type requestTable struct {
	mu   sync.Mutex
	reqs map[string]occupancy.Request
	errs map[string]error
	hits map[string]int
}

func newRequestTable() *requestTable {
	return &requestTable{reqs: map[string]occupancy.Request{}, errs: map[string]error{}, hits: map[string]int{}}
}

func (t *requestTable) fail(train string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errs[train] = err
}

func (t *requestTable) set(tb testing.TB, train string, rs ...occupancy.Resource) occupancy.Request {
	tb.Helper()
	req, err := occupancy.NewRequest(train, "", 0, rs...)
	require.NoError(tb, err)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reqs[train] = req
	return req
}

func (t *requestTable) provide(train string) (occupancy.Request, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hits[train]++
	if err := t.errs[train]; err != nil {
		return occupancy.Request{}, false, err
	}
	req, ok := t.reqs[train]
	return req, ok, nil
}

func (t *requestTable) evaluations(train string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hits[train]
}

func TestBus_StampsEvents(t *testing.T) {
	clock := newFakeClock()
	b := NewBus(BusOptions{Clock: clock.Now})
	defer b.Close()

	var got []SignalChanged
	Subscribe(b, func(ev SignalChanged) error {
		got = append(got, ev)
		return nil
	})
	var released int
	Subscribe(b, func(OccupancyReleased) error {
		released++
		return nil
	})

	first := b.Publish(SignalChanged{TrainID: "A", New: occupancy.Stop})
	second := b.Publish(SignalChanged{TrainID: "A", Previous: occupancy.Stop, HasPrevious: true, New: occupancy.Proceed})

	require.Len(t, got, 2)
	assert.Equal(t, 0, released)
	assert.NotEqual(t, uuid.Nil, first.Meta().ID)
	assert.NotEqual(t, first.Meta().ID, second.Meta().ID)
	assert.Equal(t, clock.Now(), got[0].At)
	assert.Equal(t, "A: none -> stop", got[0].String())
	assert.Equal(t, "A: stop -> proceed", got[1].String())
}

func TestDescribeCycle_DoesNotAlias(t *testing.T) {
	trains := make([]string, 2, 4)
	trains[0], trains[1] = "A", "B"
	r := occupancy.ConflictResource("switch:S")

	desc := describeCycle(trains, r)

	assert.Equal(t, "circular wait A -> B -> A via conflict:switch:S", desc)
	assert.Equal(t, []string{"A", "B"}, trains)
	assert.Equal(t, "", trains[:3][2])
}

func TestDispatcher_PublishesClaimChanges(t *testing.T) {
	b := NewBus(BusOptions{})
	defer b.Close()
	log := recordAll(b)

	d := NewDispatcher(b, func(train string, rs []occupancy.Resource) []string {
		return []string{"B"}
	})
	m := occupancy.NewManager(occupancy.Options{Observer: d})

	req, err := occupancy.NewRequest("A", "", 0, edgeXY)
	require.NoError(t, err)
	_, err = m.Acquire(req)
	require.NoError(t, err)
	m.ReleaseByTrain("A")

	require.Equal(t, []string{TopicOccupancyAcquired, TopicOccupancyReleased}, log.topics())
	acq := log.events[0].(OccupancyAcquired)
	assert.Equal(t, "A", acq.TrainID)
	assert.Equal(t, []occupancy.Resource{edgeXY}, acq.Resources)
	assert.Equal(t, []string{"B"}, acq.AffectedTrains)
	rel := log.events[1].(OccupancyReleased)
	assert.Equal(t, []occupancy.Resource{edgeXY}, rel.Released)
}

// TestEndToEnd_ReleaseWakesWaiter follows one release from the claims
// table to the vehicle-control callback.
func TestEndToEnd_ReleaseWakesWaiter(t *testing.T) {
	b := NewBus(BusOptions{})
	defer b.Close()
	log := recordAll(b)

	m := occupancy.NewManager(occupancy.Options{})
	m.SetObserver(NewDispatcher(b, nil))
	reqs := newRequestTable()
	ev := NewEvaluator(b, m, reqs.provide, m.Waiting, EvaluatorOptions{})
	defer ev.Close()

	type delivery struct {
		train  string
		aspect occupancy.Aspect
	}
	var delivered []delivery
	ctl := NewController(b, func(train string, a occupancy.Aspect) error {
		delivered = append(delivered, delivery{train, a})
		return nil
	}, nil, nil)
	defer ctl.Close()

	_, err := m.Acquire(reqs.set(t, "A", edgeXY))
	require.NoError(t, err)

	d, err := m.Acquire(reqs.set(t, "B", edgeXY))
	require.NoError(t, err)
	require.False(t, d.Allowed)
	assert.Equal(t, occupancy.Stop, d.Aspect)
	require.Len(t, d.Blockers, 1)
	assert.Equal(t, "A", d.Blockers[0].TrainID)

	aspect, err := ev.Evaluate("B")
	require.NoError(t, err)
	assert.Equal(t, occupancy.Stop, aspect)
	log.reset()

	m.ReleaseByTrain("A")

	assert.Equal(t, []string{TopicOccupancyReleased, TopicSignalChanged}, log.topics())
	sigs := log.signals()
	require.Len(t, sigs, 1)
	assert.Equal(t, "B", sigs[0].TrainID)
	assert.True(t, sigs[0].HasPrevious)
	assert.Equal(t, occupancy.Stop, sigs[0].Previous)
	assert.Equal(t, occupancy.Proceed, sigs[0].New)

	assert.Equal(t, []delivery{{"B", occupancy.Stop}, {"B", occupancy.Proceed}}, delivered)
	got, ok := ev.Signal("B")
	require.True(t, ok)
	assert.Equal(t, occupancy.Proceed, got)
}

func TestEvaluator_OnlyWaitersReevaluated(t *testing.T) {
	b := NewBus(BusOptions{})
	defer b.Close()
	log := recordAll(b)

	m := occupancy.NewManager(occupancy.Options{})
	m.SetObserver(NewDispatcher(b, nil))
	reqs := newRequestTable()
	ev := NewEvaluator(b, m, reqs.provide, m.Waiting, EvaluatorOptions{})
	defer ev.Close()

	// A holds XY and PQ; B waits on XY, C waits on PQ, D is unrelated.
	_, err := m.Acquire(reqs.set(t, "A", edgeXY, edgePQ))
	require.NoError(t, err)
	for _, w := range []struct {
		train string
		res   occupancy.Resource
	}{{"B", edgeXY}, {"C", edgePQ}} {
		_, err := m.Acquire(reqs.set(t, w.train, w.res))
		require.NoError(t, err)
	}
	_, err = m.Acquire(reqs.set(t, "D", edgeYZ))
	require.NoError(t, err)
	for _, train := range []string{"B", "C", "D"} {
		_, err := ev.Evaluate(train)
		require.NoError(t, err)
	}
	log.reset()
	before := map[string]int{}
	for _, train := range []string{"B", "C", "D"} {
		before[train] = reqs.evaluations(train)
	}

	released := m.ReleaseResource(edgeXY, "A")
	require.True(t, released)

	sigs := log.signals()
	require.Len(t, sigs, 1)
	assert.Equal(t, "B", sigs[0].TrainID)
	assert.Equal(t, before["B"]+1, reqs.evaluations("B"))
	assert.Equal(t, before["C"], reqs.evaluations("C"))
	assert.Equal(t, before["D"], reqs.evaluations("D"))

	c, ok := ev.Signal("C")
	require.True(t, ok)
	assert.Equal(t, occupancy.Stop, c)
}

func TestEvaluator_AcquiredReevaluatesAffected(t *testing.T) {
	b := NewBus(BusOptions{})
	defer b.Close()
	log := recordAll(b)

	reqs := newRequestTable()
	m := occupancy.NewManager(occupancy.Options{})
	m.SetObserver(NewDispatcher(b, func(train string, rs []occupancy.Resource) []string {
		var out []string
		for _, other := range []string{"B", "C"} {
			req, _, _ := reqs.provide(other)
			for _, r := range rs {
				if req.Contains(r) {
					out = append(out, other)
					break
				}
			}
		}
		return out
	}))
	ev := NewEvaluator(b, m, reqs.provide, m.Waiting, EvaluatorOptions{})
	defer ev.Close()

	reqs.set(t, "B", edgeXY)
	reqs.set(t, "C", edgePQ)
	for _, train := range []string{"B", "C"} {
		a, err := ev.Evaluate(train)
		require.NoError(t, err)
		assert.Equal(t, occupancy.Proceed, a)
	}
	log.reset()

	_, err := m.Acquire(reqs.set(t, "A", edgeXY))
	require.NoError(t, err)

	sigs := log.signals()
	require.Len(t, sigs, 1)
	assert.Equal(t, "B", sigs[0].TrainID)
	assert.Equal(t, occupancy.Stop, sigs[0].New)
}

func TestEvaluator_FailedRequestDoesNotStarveOtherWaiters(t *testing.T) {
	b := NewBus(BusOptions{})
	defer b.Close()
	log := recordAll(b)

	m := occupancy.NewManager(occupancy.Options{})
	m.SetObserver(NewDispatcher(b, nil))
	reqs := newRequestTable()
	rec := logging.NewRecorder()
	ev := NewEvaluator(b, m, reqs.provide, m.Waiting, EvaluatorOptions{Logger: rec})
	defer ev.Close()

	_, err := m.Acquire(reqs.set(t, "H", edgeXY))
	require.NoError(t, err)
	for _, train := range []string{"A", "B"} {
		_, err := m.Acquire(reqs.set(t, train, edgeXY))
		require.NoError(t, err)
		_, err = ev.Evaluate(train)
		require.NoError(t, err)
	}
	require.Equal(t, []string{"A", "B"}, m.Waiting(edgeXY))
	log.reset()

	boom := errors.New("route lost")
	reqs.fail("A", boom)
	err = ev.onReleased(OccupancyReleased{TrainID: "H", Released: []occupancy.Resource{edgeXY}})
	assert.ErrorIs(t, err, boom, "the failure is still reported")

	m.ReleaseByTrain("H")
	sigs := log.signals()
	require.Len(t, sigs, 1)
	assert.Equal(t, "B", sigs[0].TrainID, "later waiters are still re-evaluated")
	assert.Equal(t, occupancy.Proceed, sigs[0].New)
	assert.Positive(t, rec.Count(logging.WarnLevel))
}

func TestEvaluator_UnknownTrainIsNotSignalled(t *testing.T) {
	b := NewBus(BusOptions{})
	defer b.Close()
	log := recordAll(b)

	m := occupancy.NewManager(occupancy.Options{})
	m.SetObserver(NewDispatcher(b, nil))
	reqs := newRequestTable()
	ev := NewEvaluator(b, m, reqs.provide, m.Waiting, EvaluatorOptions{})
	defer ev.Close()

	_, err := m.Acquire(reqs.set(t, "H", edgeXY))
	require.NoError(t, err)
	// an outside caller queued a train the provider does not manage
	_, err = m.Acquire(reqs.set(t, "ghost", edgeXY))
	require.NoError(t, err)
	reqs.fail("ghost", ErrUnknownTrain)

	_, err = ev.Evaluate("ghost")
	assert.ErrorIs(t, err, ErrUnknownTrain)
	require.NoError(t, ev.onReleased(OccupancyReleased{Released: []occupancy.Resource{edgeXY}}))

	m.ReleaseByTrain("H")
	assert.Empty(t, log.signals())
	_, ok := ev.Signal("ghost")
	assert.False(t, ok)
}

func TestEvaluator_NoChangeNoEvent(t *testing.T) {
	b := NewBus(BusOptions{})
	defer b.Close()
	log := recordAll(b)

	m := occupancy.NewManager(occupancy.Options{})
	reqs := newRequestTable()
	reqs.set(t, "B", edgeXY)
	ev := NewEvaluator(b, m, reqs.provide, m.Waiting, EvaluatorOptions{})
	defer ev.Close()

	for range 3 {
		a, err := ev.Evaluate("B")
		require.NoError(t, err)
		assert.Equal(t, occupancy.Proceed, a)
	}
	assert.Len(t, log.signals(), 1)

	// a train with nothing left to request is stopped
	a, err := ev.Evaluate("E")
	require.NoError(t, err)
	assert.Equal(t, occupancy.Stop, a)

	ev.Forget("B")
	_, ok := ev.Signal("B")
	assert.False(t, ok)
	assert.Equal(t, map[string]occupancy.Aspect{"E": occupancy.Stop}, ev.Signals())
}

func TestEvaluator_Authority(t *testing.T) {
	b := NewBus(BusOptions{})
	defer b.Close()

	m := occupancy.NewManager(occupancy.Options{})
	reqs := newRequestTable()
	reqs.set(t, "B", edgeXY, edgeYZ)
	speeds := map[string]float64{"B": 4}
	ev := NewEvaluator(b, m, reqs.provide, m.Waiting, EvaluatorOptions{
		Authority: func(train string) (float64, bool) {
			v, ok := speeds[train]
			return v, ok
		},
		AuthorityPolicy: occupancy.DefaultAuthorityPolicy(),
		AuthorityLength: func(req occupancy.Request) float64 { return 10 },
	})
	defer ev.Close()

	// braking distance 8 at speed 4: 10 blocks is short of 16
	a, err := ev.Evaluate("B")
	require.NoError(t, err)
	assert.Equal(t, occupancy.Caution, a)

	speeds["B"] = 1
	a, err = ev.Evaluate("B")
	require.NoError(t, err)
	assert.Equal(t, occupancy.Proceed, a)
}

func TestController_IsolatesFailures(t *testing.T) {
	b := NewBus(BusOptions{})
	defer b.Close()
	rec := logging.NewRecorder()

	calls := 0
	ctl := NewController(b, func(train string, a occupancy.Aspect) error {
		calls++
		switch train {
		case "bad":
			return errors.New("brake fault")
		case "worse":
			panic("controller crashed")
		}
		return nil
	}, rec, nil)

	var after []string
	Subscribe(b, func(ev SignalChanged) error {
		after = append(after, ev.TrainID)
		return nil
	})

	for _, train := range []string{"bad", "worse", "good"} {
		b.Publish(SignalChanged{TrainID: train, New: occupancy.Stop})
	}

	assert.Equal(t, 3, calls)
	assert.Equal(t, []string{"bad", "worse", "good"}, after)
	assert.Equal(t, 2, rec.Count(logging.ErrorLevel))

	ctl.Close()
	b.Publish(SignalChanged{TrainID: "good", New: occupancy.Proceed})
	assert.Equal(t, 3, calls)
}
