package validation

import (
	"errors"
	"fmt"
	"time"
)

// Collector gathers cross-field rule violations that struct tags cannot
// express, and reports them together.
type Collector struct {
	errs []error
	name string
}

// NewCollector creates a collector prefixing messages with name.
func NewCollector(name string) *Collector {
	return &Collector{name: name}
}

// Check records msg when ok is false.
func (c *Collector) Check(ok bool, field, msg string) *Collector {
	if !ok {
		c.errs = append(c.errs, fmt.Errorf("%s.%s: %s", c.name, field, msg))
	}
	return c
}

// DurationOrder requires lower < upper.
func (c *Collector) DurationOrder(lowerField string, lower time.Duration, upperField string, upper time.Duration) *Collector {
	if lower >= upper {
		c.errs = append(c.errs, fmt.Errorf("%s.%s (%s) must be below %s (%s)", c.name, lowerField, lower, upperField, upper))
	}
	return c
}

// Err returns nil when nothing was recorded, otherwise all violations joined
// and wrapped as ErrInvalidArgument.
func (c *Collector) Err() error {
	if len(c.errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidArgument, errors.Join(c.errs...))
}
