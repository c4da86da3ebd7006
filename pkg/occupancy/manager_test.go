package occupancy

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-dispatch/pkg/logging"
	"github.com/dd0wney/cluso-dispatch/pkg/railgraph"
	"github.com/dd0wney/cluso-dispatch/pkg/validation"
)

var edgeXY = EdgeResource(railgraph.EdgeKey("X", "Y"))

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

type event struct {
	kind  string
	train string
	res   []Resource
}

type recordingObserver struct {
	mu     sync.Mutex
	events []event
}

func (o *recordingObserver) Acquired(train string, rs []Resource) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, event{"acquired", train, rs})
}

func (o *recordingObserver) Released(train string, rs []Resource) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, event{"released", train, rs})
}

func mustRequest(t *testing.T, train string, headway time.Duration, rs ...Resource) Request {
	t.Helper()
	req, err := NewRequest(train, "", headway, rs...)
	require.NoError(t, err)
	return req
}

func TestManager_BlockAndRelease(t *testing.T) {
	m := NewManager(Options{})

	d, err := m.Acquire(mustRequest(t, "A", 0, edgeXY))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, Proceed, d.Aspect)

	d, err = m.Acquire(mustRequest(t, "B", 0, edgeXY))
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, Stop, d.Aspect, "unknown wait must map to Stop")
	require.Len(t, d.Blockers, 1)
	assert.Equal(t, "A", d.Blockers[0].TrainID)

	c, ok := m.Claim(edgeXY)
	require.True(t, ok)
	assert.Equal(t, "A", c.TrainID, "denied acquire must not overwrite the holder")
	assert.Equal(t, []string{"B"}, m.Waiting(edgeXY))

	assert.True(t, m.ReleaseResource(edgeXY, "A"))
	d, err = m.Acquire(mustRequest(t, "B", 0, edgeXY))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Empty(t, m.Waiting(edgeXY), "successful acquire leaves the queue")
}

func TestManager_CanEnterIsPure(t *testing.T) {
	m := NewManager(Options{})
	_, err := m.Acquire(mustRequest(t, "A", 0, edgeXY))
	require.NoError(t, err)

	before := m.SnapshotClaims()
	d, err := m.CanEnter(mustRequest(t, "B", 0, edgeXY, NodeResource("Y")))
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, before, m.SnapshotClaims())
	assert.Empty(t, m.SnapshotQueues(), "CanEnter must not queue")
}

func TestManager_SelfReacquire(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(Options{Clock: clock.Now})

	_, err := m.Acquire(mustRequest(t, "A", 10*time.Second, edgeXY))
	require.NoError(t, err)
	clock.Advance(time.Second)

	d, err := m.Acquire(mustRequest(t, "A", 2*time.Second, edgeXY))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Empty(t, d.Blockers, "a train never blocks itself")

	c, _ := m.Claim(edgeXY)
	assert.Equal(t, 10*time.Second, c.Headway, "headway never shrinks")

	_, err = m.Acquire(mustRequest(t, "A", 20*time.Second, edgeXY))
	require.NoError(t, err)
	c, _ = m.Claim(edgeXY)
	assert.Equal(t, 20*time.Second, c.Headway, "headway grows")
	assert.Equal(t, 1, m.Len(), "claims are replaced, not duplicated")
}

func TestManager_EmptyRequest(t *testing.T) {
	m := NewManager(Options{})
	d, err := m.Acquire(mustRequest(t, "A", 0))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Zero(t, m.Len())
}

func TestManager_InvalidRequest(t *testing.T) {
	m := NewManager(Options{})
	_, err := m.Acquire(Request{TrainID: ""})
	assert.True(t, errors.Is(err, validation.ErrInvalidArgument))
	_, err = m.CanEnter(Request{TrainID: "A", Headway: -time.Second})
	assert.True(t, errors.Is(err, validation.ErrInvalidArgument))
}

func TestManager_ReleaseGuards(t *testing.T) {
	m := NewManager(Options{})
	_, err := m.Acquire(mustRequest(t, "A", 0, edgeXY, NodeResource("X")))
	require.NoError(t, err)

	assert.False(t, m.ReleaseResource(NodeResource("Q"), ""), "unheld resource")
	assert.False(t, m.ReleaseResource(edgeXY, "B"), "stale caller must not release")
	assert.True(t, m.ReleaseResource(edgeXY, ""), "unguarded release")
	assert.Equal(t, 1, m.ReleaseByTrain("A"))
	assert.Equal(t, 0, m.ReleaseByTrain("A"))
}

func TestManager_EstimatedWaitAspect(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(Options{Clock: clock.Now, ExpectedHold: 20 * time.Second})

	_, err := m.Acquire(mustRequest(t, "A", 5*time.Second, edgeXY))
	require.NoError(t, err)

	tests := []struct {
		elapsed time.Duration
		want    Aspect
	}{
		{0, Caution},                           // 25s left
		{22 * time.Second, ProceedWithCaution}, // 3s left
		{time.Minute, ProceedWithCaution},      // overdue, still blocked
	}
	for _, tt := range tests {
		clock.Advance(tt.elapsed)
		d, err := m.CanEnter(mustRequest(t, "B", 0, edgeXY))
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, tt.want, d.Aspect, "after %v", tt.elapsed)
		assert.False(t, d.EarliestTime.Before(clock.Now()), "earliest time is a lower bound from now")
	}
}

func TestManager_Observer(t *testing.T) {
	obs := &recordingObserver{}
	m := NewManager(Options{Observer: obs})

	_, err := m.Acquire(mustRequest(t, "A", 0, edgeXY, NodeResource("X")))
	require.NoError(t, err)
	// refresh is not a change
	_, err = m.Acquire(mustRequest(t, "A", 0, edgeXY))
	require.NoError(t, err)
	// denied is not a change
	_, err = m.Acquire(mustRequest(t, "B", 0, edgeXY))
	require.NoError(t, err)
	m.ReleaseResources("A", edgeXY, NodeResource("X"))

	require.Len(t, obs.events, 2)
	assert.Equal(t, event{"acquired", "A", []Resource{edgeXY, NodeResource("X")}}, obs.events[0])
	assert.Equal(t, "released", obs.events[1].kind)
	assert.Len(t, obs.events[1].res, 2)
}

func TestManager_ConflictOverride(t *testing.T) {
	sw := SwitchResource("S")
	obs := &recordingObserver{}
	rec := logging.NewRecorder()
	m := NewManager(Options{
		Observer: obs,
		Logger:   rec,
		Override: func(r Resource, train string) bool { return train == "B" && r == sw },
	})

	_, err := m.Acquire(mustRequest(t, "A", 0, sw, edgeXY))
	require.NoError(t, err)

	// the override covers the conflict resource only
	d, err := m.Acquire(mustRequest(t, "B", 0, sw, edgeXY))
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	require.Len(t, d.Blockers, 1)
	assert.Equal(t, edgeXY, d.Blockers[0].Resource)

	d, err = m.Acquire(mustRequest(t, "B", 0, sw))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	c, _ := m.Claim(sw)
	assert.Equal(t, "B", c.TrainID)
	assert.Equal(t, 1, rec.Count(logging.WarnLevel))

	last := obs.events[len(obs.events)-2:]
	assert.Equal(t, event{"released", "A", []Resource{sw}}, last[0], "loser is told first")
	assert.Equal(t, event{"acquired", "B", []Resource{sw}}, last[1])
}

func TestManager_WaitGraph(t *testing.T) {
	m := NewManager(Options{})
	p, q := NodeResource("P"), NodeResource("Q")

	_, _ = m.Acquire(mustRequest(t, "A", 0, p))
	_, _ = m.Acquire(mustRequest(t, "B", 0, q))
	_, _ = m.Acquire(mustRequest(t, "A", 0, p, q))
	_, _ = m.Acquire(mustRequest(t, "B", 0, q, p))

	edges := m.WaitEdges()
	require.Len(t, edges, 2)
	assert.Equal(t, WaitEdge{Waiter: "A", Holder: "B", Resource: q}, edges[0])
	assert.Equal(t, WaitEdge{Waiter: "B", Holder: "A", Resource: p}, edges[1])

	g := m.WaitGraph()
	assert.Equal(t, []string{"B"}, g["A"])
	assert.Equal(t, []string{"A"}, g["B"])

	m.CancelWaits("A")
	assert.Len(t, m.WaitEdges(), 1)
}

func TestManager_ShouldYield(t *testing.T) {
	priorities := map[string]int{"express": 10, "freight": 1}
	m := NewManager(Options{Yield: PriorityYield{Priority: func(id string) int { return priorities[id] }}})

	_, _ = m.Acquire(mustRequest(t, "express", 0, edgeXY))
	assert.True(t, m.ShouldYield(mustRequest(t, "freight", 0, edgeXY)))
	assert.False(t, m.ShouldYield(mustRequest(t, "express", 0, edgeXY)))
	assert.False(t, m.ShouldYield(mustRequest(t, "freight", 0, NodeResource("Z"))), "no contenders")

	plain := NewManager(Options{})
	_, _ = plain.Acquire(mustRequest(t, "express", 0, edgeXY))
	assert.False(t, plain.ShouldYield(mustRequest(t, "freight", 0, edgeXY)), "default never yields")
}

func headed(t *testing.T, train string, dir railgraph.Direction, rs ...Resource) Request {
	t.Helper()
	req := mustRequest(t, train, 0, rs...)
	req.Headings = map[Resource]railgraph.Direction{rs[0]: dir}
	require.NoError(t, req.Validate())
	return req
}

func TestManager_SharedHeading(t *testing.T) {
	corridor := ConflictResource("corridor:C|D")
	obs := &recordingObserver{}
	m := NewManager(Options{Observer: obs})

	d, err := m.Acquire(headed(t, "A", railgraph.Up, corridor, EdgeResource(railgraph.EdgeKey("C", "D"))))
	require.NoError(t, err)
	require.True(t, d.Allowed)

	// a follower shares the corridor but not the edge ahead of it
	d, err = m.Acquire(headed(t, "B", railgraph.Up, corridor, NodeResource("C")))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	holders := m.Holders(corridor)
	require.Len(t, holders, 2)
	assert.Equal(t, "A", holders[0].TrainID)
	assert.Equal(t, railgraph.Up, holders[1].Heading)
	assert.Equal(t, 4, m.Len())

	// opposing traffic is blocked by every holder
	d, err = m.Acquire(headed(t, "C", railgraph.Down, corridor))
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Len(t, d.Blockers, 2)
	assert.Equal(t, []string{"C"}, m.Waiting(corridor))

	// exclusive requests are blocked too
	d, err = m.CanEnter(mustRequest(t, "D", 0, corridor))
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	edges := m.WaitEdges()
	require.Len(t, edges, 2)
	assert.Equal(t, WaitEdge{Waiter: "C", Holder: "A", Resource: corridor}, edges[0])
	assert.Equal(t, WaitEdge{Waiter: "C", Holder: "B", Resource: corridor}, edges[1])

	// the corridor frees only once the last holder leaves
	assert.True(t, m.ReleaseResource(corridor, "A"))
	d, _ = m.CanEnter(headed(t, "C", railgraph.Down, corridor))
	assert.False(t, d.Allowed)
	assert.True(t, m.ReleaseResource(corridor, "B"))
	d, err = m.Acquire(headed(t, "C", railgraph.Down, corridor))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	c, ok := m.Claim(corridor)
	require.True(t, ok)
	assert.Equal(t, railgraph.Down, c.Heading)
}

func TestManager_SharedHeadingWaiterIsNotBlockedBySharers(t *testing.T) {
	corridor := ConflictResource("corridor:C|D")
	node := NodeResource("C")
	m := NewManager(Options{})

	_, _ = m.Acquire(headed(t, "A", railgraph.Up, corridor))
	_, _ = m.Acquire(mustRequest(t, "X", 0, node))
	d, _ := m.Acquire(headed(t, "B", railgraph.Up, corridor, node))
	require.False(t, d.Allowed)
	require.Len(t, d.Blockers, 1)
	assert.Equal(t, node, d.Blockers[0].Resource)

	assert.Equal(t, []WaitEdge{{Waiter: "B", Holder: "X", Resource: node}}, m.WaitEdges())
}

func TestManager_ReleaseAllHolders(t *testing.T) {
	corridor := ConflictResource("corridor:C|D")
	obs := &recordingObserver{}
	m := NewManager(Options{Observer: obs})
	_, _ = m.Acquire(headed(t, "A", railgraph.Up, corridor))
	_, _ = m.Acquire(headed(t, "B", railgraph.Up, corridor))

	assert.Equal(t, 2, m.ReleaseResources("", corridor))
	assert.Zero(t, m.Len())
	last := obs.events[len(obs.events)-2:]
	assert.Equal(t, event{"released", "A", []Resource{corridor}}, last[0])
	assert.Equal(t, event{"released", "B", []Resource{corridor}}, last[1])
}

func TestManager_ClosedEdgeDenies(t *testing.T) {
	m := NewManager(Options{ExpectedHold: time.Minute})
	req := mustRequest(t, "A", 0, NodeResource("X"), edgeXY)
	req.Closed = []Resource{edgeXY}

	d, err := m.Acquire(req)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, Stop, d.Aspect, "a closure has no expected end")
	assert.Equal(t, []Resource{edgeXY}, d.Closed)
	assert.False(t, d.Free())
	assert.Zero(t, m.Len(), "a closed request claims nothing")
	assert.Equal(t, []string{"A"}, m.Waiting(edgeXY), "queued for a retry when the edge reopens")
	assert.Empty(t, m.WaitEdges(), "nobody holds a closure")

	req.Closed = nil
	d, err = m.Acquire(req)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Empty(t, m.Waiting(edgeXY))
}

func TestRequest_ValidateHeadingsAndClosures(t *testing.T) {
	req := mustRequest(t, "A", 0, edgeXY)

	bad := req
	bad.Headings = map[Resource]railgraph.Direction{edgeXY: "sideways"}
	assert.True(t, errors.Is(bad.Validate(), validation.ErrInvalidArgument))

	bad = req
	bad.Headings = map[Resource]railgraph.Direction{NodeResource("Z"): railgraph.Up}
	assert.True(t, errors.Is(bad.Validate(), validation.ErrInvalidArgument), "heading on an unrequested resource")

	bad = req
	bad.Closed = []Resource{NodeResource("Z")}
	assert.True(t, errors.Is(bad.Validate(), validation.ErrInvalidArgument), "closure on an unrequested resource")
}

// Concurrent acquires on one resource must leave exactly one holder.
func TestManager_ConcurrentMutualExclusion(t *testing.T) {
	m := NewManager(Options{})
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, err := m.Acquire(Request{TrainID: fmt.Sprintf("T%02d", i), Resources: []Resource{edgeXY}})
			if err == nil && d.Allowed {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, 1, m.Len())
	assert.Len(t, m.Waiting(edgeXY), 31)
}

// Any sequence of acquires and releases keeps at most one holder per
// resource and never lets an allowed decision coexist with a foreign holder.
func TestManager_MutualExclusionProperty(t *testing.T) {
	resources := []Resource{NodeResource("R0"), NodeResource("R1"), NodeResource("R2")}
	trains := []string{"T0", "T1", "T2"}

	properties := gopter.NewProperties(nil)
	properties.Property("no resource is ever taken from its holder", prop.ForAll(
		func(ops []int) bool {
			m := NewManager(Options{})
			holder := make(map[Resource]string)
			for _, op := range ops {
				train := trains[op%3]
				r := resources[(op/3)%3]
				if (op/9)%2 == 0 {
					d, err := m.Acquire(Request{TrainID: train, Resources: []Resource{r}})
					if err != nil {
						return false
					}
					prev, held := holder[r]
					if held && prev != train && d.Allowed {
						return false
					}
					if d.Allowed {
						holder[r] = train
					}
				} else if m.ReleaseResource(r, train) {
					delete(holder, r)
				}
				for _, c := range m.SnapshotClaims() {
					if holder[c.Resource] != c.TrainID {
						return false
					}
				}
			}
			return len(m.SnapshotClaims()) == len(holder)
		},
		gen.SliceOf(gen.IntRange(0, 17)),
	))
	properties.TestingRun(t)
}
