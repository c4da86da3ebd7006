package claimstore

import "context"

func (s *PGStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS occupancy_claims (
		resource TEXT NOT NULL,
		train_id TEXT NOT NULL,
		route_id TEXT NOT NULL DEFAULT '',
		acquired_at TIMESTAMPTZ NOT NULL,
		headway_ms BIGINT NOT NULL DEFAULT 0,
		heading TEXT NOT NULL DEFAULT '',
		CONSTRAINT occupancy_claims_pkey PRIMARY KEY (resource, train_id)
	);

	-- tables created before shared headings were keyed by resource alone
	ALTER TABLE occupancy_claims ADD COLUMN IF NOT EXISTS heading TEXT NOT NULL DEFAULT '';
	ALTER TABLE occupancy_claims DROP CONSTRAINT IF EXISTS occupancy_claims_pkey;
	ALTER TABLE occupancy_claims ADD CONSTRAINT occupancy_claims_pkey PRIMARY KEY (resource, train_id);

	CREATE INDEX IF NOT EXISTS idx_occupancy_claims_train ON occupancy_claims(train_id);
	`

	_, err := s.pool.Exec(ctx, schema)
	return err
}
