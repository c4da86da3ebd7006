// Package signal turns occupancy changes into signal advisories. Events flow
// over a synchronous bus: the Dispatcher reports claim changes, the
// Evaluator recomputes signals for affected trains, the DeadlockResolver
// breaks circular waits and the Controller hands signals to vehicle control.
package signal

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-dispatch/pkg/occupancy"
)

// Bus topics.
const (
	TopicOccupancyAcquired = "occupancy.acquired"
	TopicOccupancyReleased = "occupancy.released"
	TopicSignalChanged     = "signal.changed"
	TopicDeadlockDetected  = "deadlock.detected"
	TopicDeadlockResolved  = "deadlock.resolved"
)

// Header is stamped on every event when it is published.
type Header struct {
	ID uuid.UUID `json:"id"`
	At time.Time `json:"at"`
}

// Event is implemented by every bus event.
type Event interface {
	Topic() string
	Meta() Header
	stamp(h Header) Event
}

// OccupancyAcquired reports resources newly claimed by a train.
type OccupancyAcquired struct {
	Header
	TrainID   string
	Resources []occupancy.Resource
	// AffectedTrains are other trains whose lookahead includes Resources.
	AffectedTrains []string
}

// OccupancyReleased reports resources a train gave up.
type OccupancyReleased struct {
	Header
	TrainID  string
	Released []occupancy.Resource
}

// SignalChanged reports a confirmed aspect transition.
type SignalChanged struct {
	Header
	TrainID     string
	Previous    occupancy.Aspect
	HasPrevious bool
	New         occupancy.Aspect
}

// DeadlockDetected reports a circular wait.
type DeadlockDetected struct {
	Header
	Trains      []string
	Resource    occupancy.Resource
	Description string
}

// DeadlockResolved reports that a train was given an override lock.
type DeadlockResolved struct {
	Header
	ReleasedTrain string
	Resource      occupancy.Resource
	LockDuration  time.Duration
}

func (OccupancyAcquired) Topic() string { return TopicOccupancyAcquired }
func (OccupancyReleased) Topic() string { return TopicOccupancyReleased }
func (SignalChanged) Topic() string     { return TopicSignalChanged }
func (DeadlockDetected) Topic() string  { return TopicDeadlockDetected }
func (DeadlockResolved) Topic() string  { return TopicDeadlockResolved }

func (h Header) Meta() Header { return h }

func (e OccupancyAcquired) stamp(h Header) Event { e.Header = h; return e }
func (e OccupancyReleased) stamp(h Header) Event { e.Header = h; return e }
func (e SignalChanged) stamp(h Header) Event     { e.Header = h; return e }
func (e DeadlockDetected) stamp(h Header) Event  { e.Header = h; return e }
func (e DeadlockResolved) stamp(h Header) Event  { e.Header = h; return e }

func (e SignalChanged) String() string {
	prev := "none"
	if e.HasPrevious {
		prev = e.Previous.String()
	}
	return fmt.Sprintf("%s: %s -> %s", e.TrainID, prev, e.New)
}

func describeCycle(trains []string, r occupancy.Resource) string {
	return fmt.Sprintf("circular wait %s via %s", strings.Join(append(slices.Clone(trains), trains[0]), " -> "), r)
}
