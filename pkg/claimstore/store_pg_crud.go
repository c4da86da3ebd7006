package claimstore

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dd0wney/cluso-dispatch/pkg/occupancy"
	"github.com/dd0wney/cluso-dispatch/pkg/railgraph"
)

const upsertClaim = `
	INSERT INTO occupancy_claims (resource, train_id, route_id, acquired_at, headway_ms, heading)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (resource, train_id) DO UPDATE
	SET route_id = EXCLUDED.route_id,
		acquired_at = EXCLUDED.acquired_at,
		headway_ms = EXCLUDED.headway_ms,
		heading = EXCLUDED.heading
`

// Save upserts claims in one batch.
func (s *PGStore) Save(ctx context.Context, claims ...occupancy.Claim) error {
	if len(claims) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range claims {
		queueUpsert(batch, c)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to save claims: %w", err)
	}
	return nil
}

// Delete removes every stored claim on rs.
func (s *PGStore) Delete(ctx context.Context, rs ...occupancy.Resource) error {
	if len(rs) == 0 {
		return nil
	}
	keys := make([]string, len(rs))
	for i, r := range rs {
		keys[i] = r.String()
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM occupancy_claims WHERE resource = ANY($1)`, keys); err != nil {
		return fmt.Errorf("failed to delete claims: %w", err)
	}
	return nil
}

// Replace swaps the stored table inside one transaction.
func (s *PGStore) Replace(ctx context.Context, claims []occupancy.Claim) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM occupancy_claims`); err != nil {
		return fmt.Errorf("failed to clear claims: %w", err)
	}
	if len(claims) > 0 {
		batch := &pgx.Batch{}
		for _, c := range claims {
			queueUpsert(batch, c)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to write claims: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit claims: %w", err)
	}
	return nil
}

// Load returns every stored claim ordered by resource then train.
func (s *PGStore) Load(ctx context.Context) ([]occupancy.Claim, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT resource, train_id, route_id, acquired_at, headway_ms, heading
		FROM occupancy_claims
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load claims: %w", err)
	}
	defer rows.Close()

	var claims []occupancy.Claim
	for rows.Next() {
		var (
			resource  string
			heading   string
			headwayMS int64
			c         occupancy.Claim
		)
		if err := rows.Scan(&resource, &c.TrainID, &c.RouteID, &c.AcquiredAt, &headwayMS, &heading); err != nil {
			return nil, fmt.Errorf("failed to scan claim: %w", err)
		}
		if c.Resource, err = occupancy.ParseResource(resource); err != nil {
			return nil, fmt.Errorf("stored claim %q: %w", resource, err)
		}
		c.Headway = time.Duration(headwayMS) * time.Millisecond
		c.Heading = railgraph.Direction(heading)
		claims = append(claims, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate claims: %w", err)
	}

	slices.SortFunc(claims, byResource)
	return claims, nil
}

func queueUpsert(b *pgx.Batch, c occupancy.Claim) {
	b.Queue(upsertClaim,
		c.Resource.String(),
		c.TrainID,
		c.RouteID,
		c.AcquiredAt,
		c.Headway.Milliseconds(),
		string(c.Heading),
	)
}
