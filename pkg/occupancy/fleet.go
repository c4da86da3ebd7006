package occupancy

import (
	"fmt"
	"slices"
	"sync"

	"github.com/dd0wney/cluso-dispatch/pkg/railgraph"
	"github.com/dd0wney/cluso-dispatch/pkg/validation"
)

// TrainState is a train's position along its route.
type TrainState struct {
	TrainID  string
	Route    Route
	Index    int
	Priority int
}

// At returns the waypoint the train is standing at.
func (s TrainState) At() railgraph.NodeID { return s.Route.Waypoints[s.Index] }

// Finished reports whether the train reached its last waypoint.
func (s TrainState) Finished() bool { return s.Index >= s.Route.Last() }

// Fleet tracks route progress for every known train. It is safe for
// concurrent use.
type Fleet struct {
	mu     sync.RWMutex
	trains map[string]TrainState
}

// NewFleet creates an empty fleet.
func NewFleet() *Fleet {
	return &Fleet{trains: make(map[string]TrainState)}
}

// Assign sets trainID onto route at index 0, replacing any previous route.
func (f *Fleet) Assign(trainID string, route Route, priority int) (TrainState, error) {
	if err := validation.Identifier("train id", trainID); err != nil {
		return TrainState{}, err
	}
	if err := route.Validate(); err != nil {
		return TrainState{}, err
	}
	s := TrainState{TrainID: trainID, Route: route, Priority: priority}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.trains[trainID] = s
	return s, nil
}

// SetIndex moves a train to index along its route.
func (f *Fleet) SetIndex(trainID string, index int) (TrainState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.trains[trainID]
	if !ok {
		return TrainState{}, fmt.Errorf("%w: unknown train %q", validation.ErrInvalidArgument, trainID)
	}
	if index < 0 || index > s.Route.Last() {
		return TrainState{}, fmt.Errorf("%w: index %d outside route %s", validation.ErrInvalidArgument, index, s.Route.ID)
	}
	s.Index = index
	f.trains[trainID] = s
	return s, nil
}

// Get returns the state of trainID.
func (f *Fleet) Get(trainID string) (TrainState, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.trains[trainID]
	return s, ok
}

// Has reports whether trainID is known.
func (f *Fleet) Has(trainID string) bool {
	_, ok := f.Get(trainID)
	return ok
}

// Remove forgets trainID. It reports whether the train was known.
func (f *Fleet) Remove(trainID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.trains[trainID]
	delete(f.trains, trainID)
	return ok
}

// IDs returns every train id in sorted order.
func (f *Fleet) IDs() []string {
	f.mu.RLock()
	ids := make([]string, 0, len(f.trains))
	for id := range f.trains {
		ids = append(ids, id)
	}
	f.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// Priority returns the priority of trainID, or 0 when unknown. It fits
// PriorityYield.Priority.
func (f *Fleet) Priority(trainID string) int {
	s, _ := f.Get(trainID)
	return s.Priority
}

// Len returns the number of trains.
func (f *Fleet) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.trains)
}
