package signal

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-dispatch/pkg/logging"
	"github.com/dd0wney/cluso-dispatch/pkg/metrics"
	"github.com/dd0wney/cluso-dispatch/pkg/pubsub"
)

// Bus is a typed facade over pubsub.PubSub.
type Bus struct {
	ps    *pubsub.PubSub
	clock func() time.Time
}

// BusOptions configures a Bus.
type BusOptions struct {
	Clock   func() time.Time
	Logger  logging.Logger
	Metrics *metrics.Registry
}

// NewBus creates a bus over a fresh PubSub.
func NewBus(opts BusOptions) *Bus {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Bus{
		ps:    pubsub.NewPubSub(pubsub.Options{Logger: opts.Logger, Metrics: opts.Metrics}),
		clock: opts.Clock,
	}
}

// PubSub exposes the underlying bus for channel subscriptions.
func (b *Bus) PubSub() *pubsub.PubSub { return b.ps }

// Publish stamps ev with a fresh id and time and delivers it. It returns
// the stamped event.
func (b *Bus) Publish(ev Event) Event {
	ev = ev.stamp(Header{ID: uuid.New(), At: b.clock()})
	b.ps.Publish(ev.Topic(), ev)
	return ev
}

// Close shuts the bus down.
func (b *Bus) Close() { b.ps.Shutdown() }

// Subscribe registers fn for events of type E.
func Subscribe[E Event](b *Bus, fn func(E) error) (remove func()) {
	var zero E
	return b.ps.Handle(zero.Topic(), func(topic string, msg any) error {
		ev, ok := msg.(E)
		if !ok {
			return fmt.Errorf("unexpected %T on %s", msg, topic)
		}
		return fn(ev)
	})
}

// SubscribeAll registers fn for every event.
func SubscribeAll(b *Bus, fn func(Event) error) (remove func()) {
	return b.ps.Handle(pubsub.AllTopics, func(topic string, msg any) error {
		ev, ok := msg.(Event)
		if !ok {
			return fmt.Errorf("unexpected %T on %s", msg, topic)
		}
		return fn(ev)
	})
}
