package signal

import (
	"fmt"

	"github.com/dd0wney/cluso-dispatch/pkg/logging"
	"github.com/dd0wney/cluso-dispatch/pkg/metrics"
	"github.com/dd0wney/cluso-dispatch/pkg/occupancy"
)

// Callback is the vehicle-control collaborator.
type Callback func(trainID string, aspect occupancy.Aspect) error

// Controller forwards every confirmed signal transition to a Callback.
// Callback failures are logged and counted, never propagated.
type Controller struct {
	callback Callback
	logger   logging.Logger
	metrics  *metrics.Registry
	remove   func()
}

// NewController subscribes callback to signal changes on bus.
func NewController(bus *Bus, callback Callback, logger logging.Logger, m *metrics.Registry) *Controller {
	c := &Controller{
		callback: callback,
		logger:   logging.OrNop(logger).With(logging.Component("controller")),
		metrics:  m,
	}
	c.remove = Subscribe(bus, c.apply)
	return c
}

func (c *Controller) apply(ev SignalChanged) error {
	if err := c.deliver(ev); err != nil {
		c.metrics.RecordControllerFailure()
		c.logger.Error("train control rejected signal",
			logging.TrainID(ev.TrainID),
			logging.Aspect(ev.New),
			logging.Error(err))
	}
	// failures stay here so the bus keeps delivering
	return nil
}

func (c *Controller) deliver(ev SignalChanged) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panic: %v", r)
		}
	}()
	return c.callback(ev.TrainID, ev.New)
}

// Close stops forwarding.
func (c *Controller) Close() {
	if c.remove != nil {
		c.remove()
		c.remove = nil
	}
}
