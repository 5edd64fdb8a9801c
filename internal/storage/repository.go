package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrTargetNotFound indicates no row exists for the requested target id.
	ErrTargetNotFound = errors.New("storage: target not found")
)

const (
	upsertTargetSQL = `INSERT INTO watch_targets (
        id,
        category,
        display_name,
        minor_pct,
        major_pct,
        critical_pct,
        alert_minor,
        alert_major,
        alert_critical,
        interval_seconds,
        last_value,
        last_sample_at,
        latched,
        active
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
    )
    ON CONFLICT (id) DO UPDATE
    SET
        category         = EXCLUDED.category,
        display_name     = EXCLUDED.display_name,
        minor_pct        = EXCLUDED.minor_pct,
        major_pct        = EXCLUDED.major_pct,
        critical_pct     = EXCLUDED.critical_pct,
        alert_minor      = EXCLUDED.alert_minor,
        alert_major      = EXCLUDED.alert_major,
        alert_critical   = EXCLUDED.alert_critical,
        interval_seconds = EXCLUDED.interval_seconds,
        last_value       = EXCLUDED.last_value,
        last_sample_at   = EXCLUDED.last_sample_at,
        latched          = EXCLUDED.latched,
        active           = EXCLUDED.active,
        updated_at       = now();`

	selectTargetColumns = `id,
        category,
        display_name,
        minor_pct,
        major_pct,
        critical_pct,
        alert_minor,
        alert_major,
        alert_critical,
        interval_seconds,
        last_value,
        last_sample_at,
        latched,
        active,
        created_at,
        updated_at`

	getTargetSQL = `SELECT ` + selectTargetColumns + `
    FROM watch_targets
    WHERE id = $1;`

	listActiveTargetsSQL = `SELECT ` + selectTargetColumns + `
    FROM watch_targets
    WHERE category = $1
      AND active
    ORDER BY created_at;`

	deactivateTargetSQL = `UPDATE watch_targets
    SET active = false, updated_at = now()
    WHERE id = $1;`

	updateTargetStateSQL = `UPDATE watch_targets
    SET last_value = $2, last_sample_at = $3, latched = $4, updated_at = now()
    WHERE id = $1;`

	insertAlertSQL = `INSERT INTO alerts (
        category,
        target_id,
        severity,
        message,
        value,
        delta_pct,
        delivered
    ) VALUES (
        $1,$2,$3,$4,$5,$6,false
    )
    RETURNING id, created_at;`

	markAlertDeliveredSQL = `UPDATE alerts
    SET delivered = true
    WHERE id = $1;`

	listRecentAlertsSQL = `SELECT
        id,
        category,
        target_id,
        severity,
        message,
        value,
        delta_pct,
        delivered,
        created_at
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteAlertsBeforeSQL = `DELETE FROM alerts WHERE created_at < $1;`

	insertHistorySQL = `INSERT INTO price_history (target_id, label, value, sampled_at)
    VALUES ($1,$2,$3,$4);`

	pruneHistorySQL = `DELETE FROM price_history
    WHERE target_id = $1
      AND id NOT IN (
        SELECT id FROM price_history
        WHERE target_id = $1
        ORDER BY sampled_at DESC, id DESC
        LIMIT $2
      );`

	listRecentHistorySQL = `SELECT id, target_id, label, value, sampled_at
    FROM price_history
    WHERE target_id = $1
    ORDER BY sampled_at DESC
    LIMIT $2;`

	listHistoryBetweenSQL = `SELECT id, target_id, label, value, sampled_at
    FROM price_history
    WHERE target_id = $1
      AND sampled_at >= $2
      AND sampled_at < $3
    ORDER BY sampled_at;`

	getPrefSQL = `SELECT value FROM prefs WHERE key = $1;`

	setPrefSQL = `INSERT INTO prefs (key, value) VALUES ($1, $2)
    ON CONFLICT (key) DO UPDATE
    SET value = EXCLUDED.value, updated_at = now();`
)

// TargetStore defines operations for watch target persistence.
type TargetStore interface {
	UpsertTarget(ctx context.Context, row TargetRow) error
	GetTarget(ctx context.Context, id string) (TargetRow, error)
	ListActiveTargets(ctx context.Context, category string) ([]TargetRow, error)
	DeactivateTarget(ctx context.Context, id string) error
	UpdateTargetState(ctx context.Context, id string, lastValue decimal.Decimal, lastSampleAt time.Time, latched bool) error
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	MarkAlertDelivered(ctx context.Context, id int64) error
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// HistoryStore defines operations for sample history with bounded retention.
type HistoryStore interface {
	AppendHistory(ctx context.Context, point HistoryPoint, keep int) error
	ListRecentHistory(ctx context.Context, targetID string, limit int) ([]HistoryPoint, error)
	ListHistoryBetween(ctx context.Context, targetID string, from, to time.Time) ([]HistoryPoint, error)
}

// PrefStore defines key-value access for process-wide preferences.
type PrefStore interface {
	GetPref(ctx context.Context, key string) (string, bool, error)
	SetPref(ctx context.Context, key, value string) error
}

// Store aggregates access to targets, alerts, history, and prefs.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertTarget persists or replaces a watch target row.
func (s *Store) UpsertTarget(ctx context.Context, row TargetRow) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var sampleAt interface{}
	if row.LastSampleAt != nil {
		sampleAt = *row.LastSampleAt
	}

	_, execErr := pool.Exec(ctx, upsertTargetSQL,
		row.ID,
		row.Category,
		row.DisplayName,
		row.MinorPct.String(),
		row.MajorPct.String(),
		row.CriticalPct.String(),
		row.AlertMinor,
		row.AlertMajor,
		row.AlertCritical,
		row.IntervalSeconds,
		row.LastValue.String(),
		sampleAt,
		row.Latched,
		row.Active,
	)
	if execErr != nil {
		return fmt.Errorf("upsert target: %w", execErr)
	}
	return nil
}

// GetTarget loads a single target row by id.
func (s *Store) GetTarget(ctx context.Context, id string) (TargetRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return TargetRow{}, err
	}

	row, scanErr := scanTargetRow(pool.QueryRow(ctx, getTargetSQL, id))
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return TargetRow{}, ErrTargetNotFound
		}
		return TargetRow{}, fmt.Errorf("get target: %w", scanErr)
	}
	return row, nil
}

// ListActiveTargets lists active targets for one watcher category.
func (s *Store) ListActiveTargets(ctx context.Context, category string) ([]TargetRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listActiveTargetsSQL, category)
	if queryErr != nil {
		return nil, fmt.Errorf("list active targets: %w", queryErr)
	}
	defer rows.Close()

	targets := make([]TargetRow, 0)
	for rows.Next() {
		row, scanErr := scanTargetRow(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		targets = append(targets, row)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return targets, nil
}

// DeactivateTarget soft-deletes a target; history rows stay for auditing.
func (s *Store) DeactivateTarget(ctx context.Context, id string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deactivateTargetSQL, id); execErr != nil {
		return fmt.Errorf("deactivate target: %w", execErr)
	}
	return nil
}

// UpdateTargetState persists the per-cycle mutable state of a target.
func (s *Store) UpdateTargetState(ctx context.Context, id string, lastValue decimal.Decimal, lastSampleAt time.Time, latched bool) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, updateTargetStateSQL, id, lastValue.String(), lastSampleAt, latched)
	if execErr != nil {
		return fmt.Errorf("update target state: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrTargetNotFound
	}
	return nil
}

// InsertAlert appends an alert row and returns it with id and timestamp set.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.Category,
		alert.TargetID,
		alert.Severity,
		alert.Message,
		alert.Value.String(),
		alert.DeltaPct.String(),
	)

	rec := alert
	rec.Delivered = false
	if scanErr := row.Scan(&rec.ID, &rec.CreatedAt); scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

// MarkAlertDelivered flips the delivered flag after the sink hands off.
func (s *Store) MarkAlertDelivered(ctx context.Context, id int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, markAlertDeliveredSQL, id); execErr != nil {
		return fmt.Errorf("mark alert delivered: %w", execErr)
	}
	return nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		var rec AlertRecord
		var valueStr, deltaStr string
		if err := rows.Scan(
			&rec.ID,
			&rec.Category,
			&rec.TargetID,
			&rec.Severity,
			&rec.Message,
			&valueStr,
			&deltaStr,
			&rec.Delivered,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}

		var convErr error
		rec.Value, convErr = decimal.NewFromString(valueStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse alert value: %w", convErr)
		}
		rec.DeltaPct, convErr = decimal.NewFromString(deltaStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse alert delta pct: %w", convErr)
		}

		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore deletes historical alerts.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete alerts before: %w", execErr)
	}
	return nil
}

// AppendHistory inserts a sample and evicts rows beyond the newest keep
// entries for the same target.
func (s *Store) AppendHistory(ctx context.Context, point HistoryPoint, keep int) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	if _, execErr := pool.Exec(ctx, insertHistorySQL,
		point.TargetID,
		point.Label,
		point.Value.String(),
		point.SampledAt,
	); execErr != nil {
		return fmt.Errorf("insert history point: %w", execErr)
	}

	if keep > 0 {
		if _, execErr := pool.Exec(ctx, pruneHistorySQL, point.TargetID, keep); execErr != nil {
			return fmt.Errorf("prune history: %w", execErr)
		}
	}
	return nil
}

// ListRecentHistory lists newest samples for a target.
func (s *Store) ListRecentHistory(ctx context.Context, targetID string, limit int) ([]HistoryPoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentHistorySQL, targetID, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent history: %w", queryErr)
	}
	defer rows.Close()

	return collectHistory(rows, limit)
}

// ListHistoryBetween lists samples within a time window, oldest first.
func (s *Store) ListHistoryBetween(ctx context.Context, targetID string, from, to time.Time) ([]HistoryPoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listHistoryBetweenSQL, targetID, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list history between: %w", queryErr)
	}
	defer rows.Close()

	return collectHistory(rows, 0)
}

// GetPref reads one preference key, reporting whether it exists.
func (s *Store) GetPref(ctx context.Context, key string) (string, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return "", false, err
	}

	var value string
	if scanErr := pool.QueryRow(ctx, getPrefSQL, key).Scan(&value); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get pref: %w", scanErr)
	}
	return value, true, nil
}

// SetPref writes one preference key.
func (s *Store) SetPref(ctx context.Context, key, value string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, setPrefSQL, key, value); execErr != nil {
		return fmt.Errorf("set pref: %w", execErr)
	}
	return nil
}

func collectHistory(rows pgx.Rows, capacity int) ([]HistoryPoint, error) {
	points := make([]HistoryPoint, 0, capacity)
	for rows.Next() {
		var point HistoryPoint
		var valueStr string
		if err := rows.Scan(&point.ID, &point.TargetID, &point.Label, &valueStr, &point.SampledAt); err != nil {
			return nil, err
		}
		value, convErr := decimal.NewFromString(valueStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse history value: %w", convErr)
		}
		point.Value = value
		points = append(points, point)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return points, nil
}

func scanTargetRow(row pgx.Row) (TargetRow, error) {
	var (
		target       TargetRow
		minorStr     string
		majorStr     string
		criticalStr  string
		lastValueStr string
		sampleAt     *time.Time
	)

	if err := row.Scan(
		&target.ID,
		&target.Category,
		&target.DisplayName,
		&minorStr,
		&majorStr,
		&criticalStr,
		&target.AlertMinor,
		&target.AlertMajor,
		&target.AlertCritical,
		&target.IntervalSeconds,
		&lastValueStr,
		&sampleAt,
		&target.Latched,
		&target.Active,
		&target.CreatedAt,
		&target.UpdatedAt,
	); err != nil {
		return TargetRow{}, err
	}

	var convErr error
	target.MinorPct, convErr = decimal.NewFromString(minorStr)
	if convErr != nil {
		return TargetRow{}, fmt.Errorf("parse minor pct: %w", convErr)
	}
	target.MajorPct, convErr = decimal.NewFromString(majorStr)
	if convErr != nil {
		return TargetRow{}, fmt.Errorf("parse major pct: %w", convErr)
	}
	target.CriticalPct, convErr = decimal.NewFromString(criticalStr)
	if convErr != nil {
		return TargetRow{}, fmt.Errorf("parse critical pct: %w", convErr)
	}
	target.LastValue, convErr = decimal.NewFromString(lastValueStr)
	if convErr != nil {
		return TargetRow{}, fmt.Errorf("parse last value: %w", convErr)
	}

	target.LastSampleAt = sampleAt
	return target, nil
}
