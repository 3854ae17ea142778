package storage

import (
	"context"
)

// Schema bootstrap mirrors what the surrounding deployment would normally
// apply via migrations. Statements are idempotent so EnsureSchema is safe to
// run on every startup.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS glucose_readings (
    id           BIGSERIAL PRIMARY KEY,
    reading_ts   TIMESTAMPTZ NOT NULL,
    value_mgdl   INTEGER NOT NULL,
    trend        TEXT NOT NULL DEFAULT 'unknown',
    device       TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (reading_ts)
);

CREATE TABLE IF NOT EXISTS treatment_records (
    id           BIGSERIAL PRIMARY KEY,
    event_ts     TIMESTAMPTZ NOT NULL,
    kind         TEXT NOT NULL,
    carbs        DOUBLE PRECISION NOT NULL DEFAULT 0,
    protein      DOUBLE PRECISION NOT NULL DEFAULT 0,
    fat          DOUBLE PRECISION NOT NULL DEFAULT 0,
    insulin      DOUBLE PRECISION NOT NULL DEFAULT 0,
    duration_min INTEGER NOT NULL DEFAULT 0,
    notes        TEXT NOT NULL DEFAULT '',
    finger_stick INTEGER NOT NULL DEFAULT 0,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (event_ts, kind, carbs, protein, fat, insulin, notes, duration_min)
);

CREATE TABLE IF NOT EXISTS alert_events (
    id                 BIGSERIAL PRIMARY KEY,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
    level              TEXT NOT NULL,
    current_mgdl       INTEGER NOT NULL,
    predicted_min_mgdl INTEGER NOT NULL,
    horizon_minutes    INTEGER NOT NULL,
    acknowledged       BOOLEAN NOT NULL DEFAULT FALSE,
    acknowledged_at    TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS risk_state (
    id           SMALLINT PRIMARY KEY CHECK (id = 1),
    level        TEXT NOT NULL,
    episode_open BOOLEAN NOT NULL DEFAULT FALSE,
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// EnsureSchema creates the durable collections if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, schemaSQL); execErr != nil {
		return unavailable("ensure schema", execErr)
	}
	return nil
}
