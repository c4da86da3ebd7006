package claimstore

import (
	"context"
	"fmt"
	"slices"

	"github.com/dd0wney/cluso-dispatch/pkg/logging"
	"github.com/dd0wney/cluso-dispatch/pkg/occupancy"
	"github.com/dd0wney/cluso-dispatch/pkg/railgraph"
)

// Checkpoint writes the manager's current claims table to store, replacing
// whatever was stored before. It returns the number of claims written.
func Checkpoint(ctx context.Context, store Store, m *occupancy.Manager) (int, error) {
	claims := m.SnapshotClaims()
	if err := store.Replace(ctx, claims); err != nil {
		return 0, fmt.Errorf("checkpoint: %w", err)
	}
	return len(claims), nil
}

// RestoreReport summarises a Restore.
type RestoreReport struct {
	Claims   int
	Restored []string
	// Conflicts lists trains whose stored claims the manager refused,
	// usually because another train already holds one of them.
	Conflicts []string
}

// Restore replays stored claims into m. Claims are grouped per train and
// each group is submitted as one Acquire, so the manager's mutual exclusion
// holds even if the stored table is inconsistent. Acquisition times are
// the manager's clock at replay, not the stored ones.
func Restore(ctx context.Context, store Store, m *occupancy.Manager, logger logging.Logger) (RestoreReport, error) {
	logger = logging.OrNop(logger).With(logging.Component("claimstore"))

	claims, err := store.Load(ctx)
	if err != nil {
		return RestoreReport{}, fmt.Errorf("restore: %w", err)
	}

	groups := make(map[string][]occupancy.Claim)
	for _, c := range claims {
		groups[c.TrainID] = append(groups[c.TrainID], c)
	}
	trains := make([]string, 0, len(groups))
	for id := range groups {
		trains = append(trains, id)
	}
	slices.Sort(trains)

	report := RestoreReport{Claims: len(claims)}
	for _, train := range trains {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		req, err := requestFor(train, groups[train])
		if err != nil {
			return report, fmt.Errorf("restore train %s: %w", train, err)
		}
		d, err := m.Acquire(req)
		if err != nil {
			return report, fmt.Errorf("restore train %s: %w", train, err)
		}
		if !d.Allowed {
			// Acquire queued the train; a restored table must not leave waits behind.
			m.CancelWaits(train)
			report.Conflicts = append(report.Conflicts, train)
			logger.Warn("stored claims conflict with live table",
				logging.TrainID(train),
				logging.Count(len(d.Blockers)))
			continue
		}
		report.Restored = append(report.Restored, train)
	}

	logger.Info("claims restored",
		logging.Count(report.Claims),
		logging.Int("trains", len(report.Restored)),
		logging.Int("conflicts", len(report.Conflicts)))
	return report, nil
}

func requestFor(train string, claims []occupancy.Claim) (occupancy.Request, error) {
	var (
		route    string
		headway  = claims[0].Headway
		rs       = make([]occupancy.Resource, len(claims))
		headings = make(map[occupancy.Resource]railgraph.Direction)
	)
	for i, c := range claims {
		rs[i] = c.Resource
		if route == "" {
			route = c.RouteID
		}
		headway = max(headway, c.Headway)
		if c.Heading != "" {
			headings[c.Resource] = c.Heading
		}
	}
	req, err := occupancy.NewRequest(train, route, headway, rs...)
	if err != nil || len(headings) == 0 {
		return req, err
	}
	req.Headings = headings
	return req, req.Validate()
}
