// Package pubsub is the in-process event bus. Handlers run synchronously on
// the publisher's goroutine in registration order; channel subscriptions
// receive a best-effort copy for tooling that cannot block the publisher.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/dd0wney/cluso-dispatch/pkg/logging"
	"github.com/dd0wney/cluso-dispatch/pkg/metrics"
)

// AllTopics subscribes to every topic.
const AllTopics = "*"

// ErrShutdown is returned when subscribing to a bus that has shut down.
var ErrShutdown = errors.New("pubsub: shut down")

// Handler receives one published message. A returned error or a panic is
// logged and does not stop delivery to later handlers.
type Handler func(topic string, message any) error

type handlerEntry struct {
	seq     uint64
	topic   string
	handler Handler
}

// Options configures a PubSub.
type Options struct {
	Logger  logging.Logger
	Metrics *metrics.Registry
	// Buffer is the channel size for Subscribe. Defaults to 100.
	Buffer int
}

// PubSub provides publish/subscribe functionality for in-process events
type PubSub struct {
	handlers    map[string][]*handlerEntry
	subscribers map[string]map[*Subscription]bool
	seq         uint64
	mu          sync.RWMutex
	shutdown    chan struct{}
	shutdownMu  sync.Mutex
	isShutdown  bool

	buffer  int
	logger  logging.Logger
	metrics *metrics.Registry
}

// Subscription represents a channel subscription to a topic
type Subscription struct {
	topic     string
	channel   chan Message
	ps        *PubSub
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once // Ensures channel is only closed once
}

// Message is what channel subscribers receive.
type Message struct {
	Topic   string
	Payload any
}

// NewPubSub creates a new PubSub instance
func NewPubSub(opts Options) *PubSub {
	if opts.Buffer <= 0 {
		opts.Buffer = 100
	}
	return &PubSub{
		handlers:    make(map[string][]*handlerEntry),
		subscribers: make(map[string]map[*Subscription]bool),
		shutdown:    make(chan struct{}),
		buffer:      opts.Buffer,
		logger:      logging.OrNop(opts.Logger).With(logging.Component("pubsub")),
		metrics:     opts.Metrics,
	}
}

// Handle registers h for topic (or AllTopics) and returns a function that
// removes it.
func (ps *PubSub) Handle(topic string, h Handler) (remove func()) {
	ps.mu.Lock()
	ps.seq++
	entry := &handlerEntry{seq: ps.seq, topic: topic, handler: h}
	ps.handlers[topic] = append(ps.handlers[topic], entry)
	ps.mu.Unlock()

	return func() {
		ps.mu.Lock()
		defer ps.mu.Unlock()
		ps.handlers[topic] = slices.DeleteFunc(ps.handlers[topic], func(e *handlerEntry) bool { return e == entry })
		if len(ps.handlers[topic]) == 0 {
			delete(ps.handlers, topic)
		}
	}
}

// Publish delivers message to every handler of topic and of AllTopics, in
// registration order, then offers it to channel subscribers. It returns the
// number of handlers that failed.
func (ps *PubSub) Publish(topic string, message any) int {
	ps.shutdownMu.Lock()
	if ps.isShutdown {
		ps.shutdownMu.Unlock()
		return 0
	}
	ps.shutdownMu.Unlock()

	// Snapshot under lock so handlers may publish or (un)register re-entrantly
	ps.mu.RLock()
	entries := make([]*handlerEntry, 0, len(ps.handlers[topic])+len(ps.handlers[AllTopics]))
	entries = append(entries, ps.handlers[topic]...)
	if topic != AllTopics {
		entries = append(entries, ps.handlers[AllTopics]...)
	}
	ps.mu.RUnlock()

	slices.SortFunc(entries, func(a, b *handlerEntry) int {
		if a.seq < b.seq {
			return -1
		}
		return 1
	})

	ps.metrics.RecordPublish(topic)
	failures := 0
	for _, e := range entries {
		if err := ps.deliver(e, topic, message); err != nil {
			failures++
			ps.metrics.RecordHandlerFailure(topic)
			ps.logger.Error("event handler failed",
				logging.Topic(topic),
				logging.Int64("handler", int64(e.seq)),
				logging.Error(err))
		}
	}

	ps.offer(topic, message)
	return failures
}

// offer sends to channel subscribers without blocking. Sends happen under
// the read lock so Unsubscribe cannot close a channel mid-send.
func (ps *PubSub) offer(topic string, message any) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	msg := Message{Topic: topic, Payload: message}
	send := func(subs map[*Subscription]bool) {
		for sub := range subs {
			select {
			case sub.channel <- msg:
				// Message sent
			default:
				// Channel full, skip (non-blocking)
			}
		}
	}
	send(ps.subscribers[topic])
	if topic != AllTopics {
		send(ps.subscribers[AllTopics])
	}
}

func (ps *PubSub) deliver(e *handlerEntry, topic string, message any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return e.handler(topic, message)
}

// Subscribe creates a channel subscription to a topic
func (ps *PubSub) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	ps.shutdownMu.Lock()
	if ps.isShutdown {
		ps.shutdownMu.Unlock()
		return nil, ErrShutdown
	}
	ps.shutdownMu.Unlock()

	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		topic:   topic,
		channel: make(chan Message, ps.buffer),
		ps:      ps,
		ctx:     subCtx,
		cancel:  cancel,
	}

	ps.mu.Lock()
	if ps.subscribers[topic] == nil {
		ps.subscribers[topic] = make(map[*Subscription]bool)
	}
	ps.subscribers[topic][sub] = true
	ps.mu.Unlock()

	// Monitor context cancellation
	go func() {
		select {
		case <-subCtx.Done():
			sub.Unsubscribe()
		case <-ps.shutdown:
			// Shutdown closes every channel itself
		}
	}()

	return sub, nil
}

// HandlerCount returns the number of handlers registered for a topic
func (ps *PubSub) HandlerCount(topic string) int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.handlers[topic])
}

// GetSubscriberCount returns the number of channel subscribers for a topic
func (ps *PubSub) GetSubscriberCount(topic string) int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.subscribers[topic])
}

// Shutdown closes all subscriptions and stops delivery
func (ps *PubSub) Shutdown() {
	ps.shutdownMu.Lock()
	if ps.isShutdown {
		ps.shutdownMu.Unlock()
		return
	}
	ps.isShutdown = true
	ps.shutdownMu.Unlock()

	close(ps.shutdown)

	ps.mu.Lock()
	for topic := range ps.subscribers {
		for sub := range ps.subscribers[topic] {
			sub.close()
		}
		delete(ps.subscribers, topic)
	}
	clear(ps.handlers)
	ps.mu.Unlock()
}

// Channel returns the subscription's message channel
func (s *Subscription) Channel() <-chan Message {
	return s.channel
}

// Unsubscribe removes the subscription
func (s *Subscription) Unsubscribe() {
	s.cancel()

	s.ps.mu.Lock()
	defer s.ps.mu.Unlock()

	if s.ps.subscribers[s.topic] != nil {
		delete(s.ps.subscribers[s.topic], s)
		if len(s.ps.subscribers[s.topic]) == 0 {
			delete(s.ps.subscribers, s.topic)
		}
	}

	s.close()
}

// close closes the subscription channel safely (idempotent)
func (s *Subscription) close() {
	s.closeOnce.Do(func() {
		close(s.channel)
	})
}
