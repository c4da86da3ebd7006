package signal

import (
	"github.com/dd0wney/cluso-dispatch/pkg/occupancy"
)

// AffectedFunc returns the trains, other than trainID, whose lookahead
// includes any of resources.
type AffectedFunc func(trainID string, resources []occupancy.Resource) []string

// Dispatcher is an occupancy.Observer that republishes claim changes on the
// bus.
type Dispatcher struct {
	bus      *Bus
	affected AffectedFunc
}

var _ occupancy.Observer = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher. affected may be nil.
func NewDispatcher(bus *Bus, affected AffectedFunc) *Dispatcher {
	return &Dispatcher{bus: bus, affected: affected}
}

// Acquired implements occupancy.Observer.
func (d *Dispatcher) Acquired(trainID string, resources []occupancy.Resource) {
	var affected []string
	if d.affected != nil {
		affected = d.affected(trainID, resources)
	}
	d.bus.Publish(OccupancyAcquired{TrainID: trainID, Resources: resources, AffectedTrains: affected})
}

// Released implements occupancy.Observer.
func (d *Dispatcher) Released(trainID string, resources []occupancy.Resource) {
	d.bus.Publish(OccupancyReleased{TrainID: trainID, Released: resources})
}
