package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dd0wney/cluso-dispatch/pkg/logging"
	"github.com/dd0wney/cluso-dispatch/pkg/metrics"
	"github.com/dd0wney/cluso-dispatch/pkg/occupancy"
	"github.com/dd0wney/cluso-dispatch/pkg/validation"
)

// ClaimSource is the part of the occupancy manager the janitor needs.
type ClaimSource interface {
	SnapshotClaims() []occupancy.Claim
	ReleaseResource(r occupancy.Resource, expectedTrain string) bool
}

// TrainRegistry reports whether a train still exists.
type TrainRegistry interface {
	Has(trainID string) bool
}

// JanitorOptions configures a ClaimJanitor.
type JanitorOptions struct {
	// Timeout releases claims older than this. Zero disables it.
	Timeout time.Duration
	Clock   func() time.Time
	Logger  logging.Logger
	Metrics *metrics.Registry
}

// SweepReport lists the claims one sweep released.
type SweepReport struct {
	At       time.Time
	Orphaned []occupancy.Claim
	TimedOut []occupancy.Claim
}

// Released returns the total number of released claims.
func (r SweepReport) Released() int { return len(r.Orphaned) + len(r.TimedOut) }

// ClaimJanitor reclaims claims whose train disappeared and claims held past
// a timeout. It only uses the manager's ordinary release call, guarded by
// the holder seen in the snapshot, so a claim that changed hands since the
// snapshot is left alone.
type ClaimJanitor struct {
	claims  ClaimSource
	trains  TrainRegistry
	timeout time.Duration
	clock   func() time.Time
	logger  logging.Logger
	metrics *metrics.Registry

	mu   sync.Mutex
	last SweepReport
}

// NewClaimJanitor creates a janitor.
func NewClaimJanitor(claims ClaimSource, trains TrainRegistry, opts JanitorOptions) (*ClaimJanitor, error) {
	if opts.Timeout < 0 {
		return nil, fmt.Errorf("%w: negative claim timeout %s", validation.ErrInvalidArgument, opts.Timeout)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &ClaimJanitor{
		claims:  claims,
		trains:  trains,
		timeout: opts.Timeout,
		clock:   opts.Clock,
		logger:  logging.OrNop(opts.Logger).With(logging.Component("janitor")),
		metrics: opts.Metrics,
	}, nil
}

// Sweep runs one pass.
func (j *ClaimJanitor) Sweep() SweepReport {
	now := j.clock()
	rep := SweepReport{At: now}

	for _, c := range j.claims.SnapshotClaims() {
		switch {
		case !j.trains.Has(c.TrainID):
			if j.claims.ReleaseResource(c.Resource, c.TrainID) {
				rep.Orphaned = append(rep.Orphaned, c)
				j.logger.Warn("released orphaned claim",
					logging.TrainID(c.TrainID),
					logging.Resource(c.Resource))
			}
		case j.timeout > 0 && now.Sub(c.AcquiredAt) > j.timeout:
			if j.claims.ReleaseResource(c.Resource, c.TrainID) {
				rep.TimedOut = append(rep.TimedOut, c)
				j.logger.Warn("released timed-out claim",
					logging.TrainID(c.TrainID),
					logging.Resource(c.Resource),
					logging.Duration("held", now.Sub(c.AcquiredAt)))
			}
		}
	}

	j.metrics.RecordReleases("orphan", len(rep.Orphaned))
	j.metrics.RecordReleases("timeout", len(rep.TimedOut))

	j.mu.Lock()
	j.last = rep
	j.mu.Unlock()
	return rep
}

// Last returns the most recent sweep.
func (j *ClaimJanitor) Last() SweepReport {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.last
}

// Run sweeps every interval until ctx ends.
func (j *ClaimJanitor) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%w: janitor interval must be positive", validation.ErrInvalidArgument)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			j.Sweep()
		}
	}
}

// Check reports the last sweep. Timed-out claims mean trains stopped
// advancing, so they degrade health; orphans are routine cleanup.
func (j *ClaimJanitor) Check() CheckFunc {
	return func() Check {
		last := j.Last()
		c := Check{
			Name: "claim_janitor",
			Details: map[string]any{
				"last_sweep": last.At,
				"orphaned":   len(last.Orphaned),
				"timed_out":  len(last.TimedOut),
			},
		}
		if len(last.TimedOut) > 0 {
			c.Status = StatusDegraded
			c.Message = "Claims held past timeout"
			return c
		}
		c.Status = StatusHealthy
		return c
	}
}
