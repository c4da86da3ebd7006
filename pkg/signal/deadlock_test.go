package signal

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-dispatch/pkg/occupancy"
	"github.com/dd0wney/cluso-dispatch/pkg/validation"
)

var (
	switchS = occupancy.SwitchResource("S")
	switchT = occupancy.SwitchResource("T")
)

func newResolver(t *testing.T, b *Bus, clock *fakeClock, opts ResolverOptions) *DeadlockResolver {
	t.Helper()
	opts.Clock = clock.Now
	d, err := NewDeadlockResolver(b, opts)
	require.NoError(t, err)
	return d
}

func TestDeadlockLock_Expiry(t *testing.T) {
	clock := newFakeClock()
	b := NewBus(BusOptions{Clock: clock.Now})
	defer b.Close()
	d := newResolver(t, b, clock, ResolverOptions{})
	require.Equal(t, DefaultLockTTL, d.TTL())

	ok, err := d.GrantLock(switchS, "A")
	require.NoError(t, err)
	require.True(t, ok)

	clock.Advance(time.Second)
	assert.True(t, d.HasLock(switchS, "A"))
	assert.False(t, d.HasLock(switchS, "B"))
	ok, err = d.GrantLock(switchS, "B")
	require.NoError(t, err)
	assert.False(t, ok, "another train's lock is still live")

	clock.Advance(9 * time.Second)
	assert.False(t, d.HasLock(switchS, "A"))
	_, held := d.Holder(switchS)
	assert.False(t, held)

	ok, err = d.GrantLock(switchS, "B")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, d.HasLock(switchS, "B"))
}

func TestDeadlockLock_Renewal(t *testing.T) {
	clock := newFakeClock()
	b := NewBus(BusOptions{})
	defer b.Close()
	d := newResolver(t, b, clock, ResolverOptions{TTL: 4 * time.Second})

	_, err := d.GrantLock(switchS, "A")
	require.NoError(t, err)
	clock.Advance(3 * time.Second)
	ok, err := d.GrantLock(switchS, "A")
	require.NoError(t, err)
	require.True(t, ok)

	clock.Advance(3 * time.Second)
	l, held := d.Holder(switchS)
	require.True(t, held)
	assert.Equal(t, clock.Now().Add(time.Second), l.ExpiresAt)
}

func TestDeadlockLock_Purge(t *testing.T) {
	clock := newFakeClock()
	b := NewBus(BusOptions{})
	defer b.Close()
	d := newResolver(t, b, clock, ResolverOptions{})

	_, _ = d.GrantLock(switchS, "A")
	clock.Advance(5 * time.Second)
	_, _ = d.GrantLock(switchT, "B")
	assert.Equal(t, 2, d.LockCount())

	clock.Advance(4 * time.Second)
	assert.Len(t, d.Locks(), 1)
	assert.Equal(t, 2, d.LockCount(), "expired locks linger until purged")
	assert.Equal(t, 1, d.PurgeExpired())
	assert.Equal(t, 1, d.LockCount())
}

func TestDeadlockResolver_Validation(t *testing.T) {
	b := NewBus(BusOptions{})
	defer b.Close()

	_, err := NewDeadlockResolver(b, ResolverOptions{TTL: -time.Second})
	assert.True(t, errors.Is(err, validation.ErrInvalidArgument))

	d, err := NewDeadlockResolver(b, ResolverOptions{})
	require.NoError(t, err)
	_, err = d.GrantLock(occupancy.Resource{}, "A")
	assert.True(t, errors.Is(err, validation.ErrInvalidArgument))
	_, err = d.GrantLock(switchS, " ")
	assert.True(t, errors.Is(err, validation.ErrInvalidArgument))
}

func TestPublishResolved_AnnouncesSignal(t *testing.T) {
	b := NewBus(BusOptions{})
	defer b.Close()
	log := recordAll(b)
	caution := occupancy.Caution
	d, err := NewDeadlockResolver(b, ResolverOptions{ReleaseAspect: &caution})
	require.NoError(t, err)

	d.PublishResolved("A", switchS)

	require.Equal(t, []string{TopicDeadlockResolved, TopicSignalChanged}, log.topics())
	res := log.events[0].(DeadlockResolved)
	assert.Equal(t, "A", res.ReleasedTrain)
	assert.Equal(t, switchS, res.Resource)
	assert.Equal(t, DefaultLockTTL, res.LockDuration)
	sc := log.events[1].(SignalChanged)
	assert.Equal(t, occupancy.Stop, sc.Previous)
	assert.Equal(t, occupancy.Caution, sc.New)
}

// crossedSwitches leaves A holding S and waiting for T, and B holding T and
// waiting for S.
func crossedSwitches(t *testing.T, m *occupancy.Manager) {
	t.Helper()
	acquire := func(train string, rs ...occupancy.Resource) occupancy.Decision {
		req, err := occupancy.NewRequest(train, "", 0, rs...)
		require.NoError(t, err)
		d, err := m.Acquire(req)
		require.NoError(t, err)
		return d
	}
	require.True(t, acquire("A", switchS).Allowed)
	require.True(t, acquire("B", switchT).Allowed)
	require.False(t, acquire("A", switchS, switchT).Allowed)
	require.False(t, acquire("B", switchT, switchS).Allowed)
}

func TestScan_BreaksCircularWait(t *testing.T) {
	clock := newFakeClock()
	b := NewBus(BusOptions{Clock: clock.Now})
	defer b.Close()
	log := recordAll(b)
	d := newResolver(t, b, clock, ResolverOptions{})

	m := occupancy.NewManager(occupancy.Options{Clock: clock.Now, Override: d.HasLock})
	rec := &releaseRecorder{}
	m.SetObserver(rec)
	crossedSwitches(t, m)

	granted := d.Scan(m.WaitEdges())
	require.Equal(t, []string{"A"}, granted)
	assert.Equal(t,
		[]string{TopicDeadlockDetected, TopicDeadlockResolved, TopicSignalChanged},
		log.topics())
	det := log.events[0].(DeadlockDetected)
	assert.Equal(t, []string{"A", "B"}, det.Trains)
	assert.Equal(t, switchT, det.Resource)
	assert.Equal(t, "circular wait A -> B -> A via conflict:switch:T", det.Description)
	assert.True(t, d.HasLock(switchT, "A"))

	// the cycle persists until A acquires, but the live lock covers it
	log.reset()
	assert.Empty(t, d.Scan(m.WaitEdges()))
	assert.Empty(t, log.topics())

	req, err := occupancy.NewRequest("A", "", 0, switchS, switchT)
	require.NoError(t, err)
	dec, err := m.Acquire(req)
	require.NoError(t, err)
	require.True(t, dec.Allowed)
	c, ok := m.Claim(switchT)
	require.True(t, ok)
	assert.Equal(t, "A", c.TrainID)
	assert.Equal(t, []string{"B"}, rec.released)
	// only B is left waiting, on the switch A still holds
	assert.Equal(t, []string{"B>A"}, waitPairs(m))
}

func TestScan_PriorityPicksWinner(t *testing.T) {
	clock := newFakeClock()
	b := NewBus(BusOptions{})
	defer b.Close()
	d := newResolver(t, b, clock, ResolverOptions{
		Priority: func(train string) int {
			if train == "B" {
				return 10
			}
			return 1
		},
	})

	m := occupancy.NewManager(occupancy.Options{})
	crossedSwitches(t, m)

	assert.Equal(t, []string{"B"}, d.Scan(m.WaitEdges()))
	assert.True(t, d.HasLock(switchS, "B"))
}

func TestScan_NoConflictResource(t *testing.T) {
	b := NewBus(BusOptions{})
	defer b.Close()
	log := recordAll(b)
	d, err := NewDeadlockResolver(b, ResolverOptions{})
	require.NoError(t, err)

	edges := []occupancy.WaitEdge{
		{Waiter: "A", Holder: "B", Resource: edgeXY},
		{Waiter: "B", Holder: "A", Resource: edgeYZ},
	}
	assert.Empty(t, d.Scan(edges))
	assert.Equal(t, []string{TopicDeadlockDetected}, log.topics())
	assert.Equal(t, 0, d.LockCount())
}

type releaseRecorder struct {
	released []string
}

func (r *releaseRecorder) Acquired(string, []occupancy.Resource) {}

func (r *releaseRecorder) Released(train string, _ []occupancy.Resource) {
	r.released = append(r.released, train)
}

func waitPairs(m *occupancy.Manager) []string {
	var out []string
	for _, e := range m.WaitEdges() {
		out = append(out, e.Waiter+">"+e.Holder)
	}
	return out
}
