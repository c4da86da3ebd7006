package occupancy

import (
	"fmt"
	"slices"
	"time"

	"github.com/dd0wney/cluso-dispatch/pkg/railgraph"
	"github.com/dd0wney/cluso-dispatch/pkg/validation"
)

// Claim records that a train holds a resource. A claim with a Heading is
// shared with other trains claiming the same resource in the same direction.
type Claim struct {
	Resource   Resource            `json:"resource"`
	TrainID    string              `json:"train_id"`
	RouteID    string              `json:"route_id,omitempty"`
	AcquiredAt time.Time           `json:"acquired_at"`
	Headway    time.Duration       `json:"headway"`
	Heading    railgraph.Direction `json:"heading,omitempty"`
}

// Request asks for every listed resource at once.
type Request struct {
	TrainID   string        `validate:"ident"`
	RouteID   string        `validate:"omitempty,ident"`
	Resources []Resource
	Headway   time.Duration `validate:"gte=0"`
	// Headings marks resources held per direction of travel, such as a
	// single-track corridor. Trains heading the same way share them.
	Headings map[Resource]railgraph.Direction
	// Closed lists requested edges that are currently blocked. A request
	// with closed edges is always denied.
	Closed []Resource
}

// NewRequest validates and returns a request. Duplicate resources are
// dropped, keeping first occurrence order. An empty resource list is valid.
func NewRequest(trainID, routeID string, headway time.Duration, resources ...Resource) (Request, error) {
	req := Request{TrainID: trainID, RouteID: routeID, Headway: headway}
	seen := make(map[Resource]bool, len(resources))
	for _, r := range resources {
		if seen[r] {
			continue
		}
		seen[r] = true
		req.Resources = append(req.Resources, r)
	}
	if err := req.Validate(); err != nil {
		return Request{}, err
	}
	return req, nil
}

// Validate checks the request fields.
func (r Request) Validate() error {
	if err := validation.Struct(r); err != nil {
		return err
	}
	for i, res := range r.Resources {
		if !res.Valid() {
			return fmt.Errorf("%w: resource %d (%s) is malformed", validation.ErrInvalidArgument, i, res)
		}
	}
	for res, dir := range r.Headings {
		if !dir.Valid() || !r.Contains(res) {
			return fmt.Errorf("%w: heading %q on %s", validation.ErrInvalidArgument, dir, res)
		}
	}
	for _, res := range r.Closed {
		if !r.Contains(res) {
			return fmt.Errorf("%w: closed resource %s is not requested", validation.ErrInvalidArgument, res)
		}
	}
	return nil
}

// Contains reports whether the request asks for res.
func (r Request) Contains(res Resource) bool { return slices.Contains(r.Resources, res) }

// Heading returns the direction res is requested in, or "" when it is
// requested exclusively.
func (r Request) Heading(res Resource) railgraph.Direction { return r.Headings[res] }

// Decision is a point-in-time judgment, not a reservation.
type Decision struct {
	Allowed bool
	// EarliestTime is a lower bound on when the request could succeed.
	EarliestTime time.Time
	Aspect       Aspect
	Blockers     []Claim
	// Closed repeats the request's blocked edges; they deny it on their own.
	Closed []Resource
}

// Free reports whether nothing blocks the request.
func (d Decision) Free() bool { return len(d.Blockers) == 0 && len(d.Closed) == 0 }
