package storage

import (
	"context"
	"fmt"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS watch_targets (
    id               TEXT PRIMARY KEY,
    category         TEXT NOT NULL,
    display_name     TEXT NOT NULL DEFAULT '',
    minor_pct        NUMERIC NOT NULL,
    major_pct        NUMERIC NOT NULL,
    critical_pct     NUMERIC NOT NULL,
    alert_minor      BOOLEAN NOT NULL DEFAULT true,
    alert_major      BOOLEAN NOT NULL DEFAULT true,
    alert_critical   BOOLEAN NOT NULL DEFAULT true,
    interval_seconds INTEGER NOT NULL,
    last_value       NUMERIC NOT NULL DEFAULT 0,
    last_sample_at   TIMESTAMPTZ,
    latched          BOOLEAN NOT NULL DEFAULT false,
    active           BOOLEAN NOT NULL DEFAULT true,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS watch_targets_category_active_idx
    ON watch_targets (category, active);

CREATE TABLE IF NOT EXISTS alerts (
    id         BIGSERIAL PRIMARY KEY,
    category   TEXT NOT NULL,
    target_id  TEXT NOT NULL DEFAULT '',
    severity   TEXT NOT NULL,
    message    TEXT NOT NULL,
    value      NUMERIC NOT NULL DEFAULT 0,
    delta_pct  NUMERIC NOT NULL DEFAULT 0,
    delivered  BOOLEAN NOT NULL DEFAULT false,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS alerts_created_at_idx ON alerts (created_at DESC);

CREATE TABLE IF NOT EXISTS price_history (
    id         BIGSERIAL PRIMARY KEY,
    target_id  TEXT NOT NULL,
    label      TEXT NOT NULL DEFAULT '',
    value      NUMERIC NOT NULL,
    sampled_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS price_history_target_idx
    ON price_history (target_id, sampled_at DESC);

CREATE TABLE IF NOT EXISTS prefs (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// ApplySchema creates missing tables and indexes. It runs at startup; a
// failure here is the one storage error treated as fatal.
func (s *Store) ApplySchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
