package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"cgm-trend-alerts/internal/records"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrUnavailable marks storage-layer failures that abort the current batch.
	ErrUnavailable = errors.New("storage: unavailable")
	// ErrNotFound indicates the referenced row does not exist.
	ErrNotFound = errors.New("storage: not found")
)

const (
	insertReadingSQL = `INSERT INTO glucose_readings (
        reading_ts,
        value_mgdl,
        trend,
        device
    ) VALUES (
        $1,$2,$3,$4
    )
    ON CONFLICT (reading_ts) DO NOTHING;`

	listReadingsBetweenSQL = `SELECT
        id,
        reading_ts,
        value_mgdl,
        trend,
        device,
        created_at
    FROM glucose_readings
    WHERE reading_ts >= $1
      AND reading_ts < $2
    ORDER BY reading_ts, id;`

	listRecentReadingsSQL = `SELECT
        id,
        reading_ts,
        value_mgdl,
        trend,
        device,
        created_at
    FROM glucose_readings
    ORDER BY reading_ts DESC
    LIMIT $1;`

	countReadingsSQL = `SELECT COUNT(*) FROM glucose_readings;`

	insertTreatmentSQL = `INSERT INTO treatment_records (
        event_ts,
        kind,
        carbs,
        protein,
        fat,
        insulin,
        duration_min,
        notes,
        finger_stick
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    ON CONFLICT (event_ts, kind, carbs, protein, fat, insulin, notes, duration_min) DO NOTHING;`

	listTreatmentsBetweenSQL = `SELECT
        id,
        event_ts,
        kind,
        carbs,
        protein,
        fat,
        insulin,
        duration_min,
        notes,
        finger_stick,
        created_at
    FROM treatment_records
    WHERE event_ts >= $1
      AND event_ts < $2
      AND ($3::text = '' OR kind = $3)
    ORDER BY event_ts, id;`

	insertAlertSQL = `INSERT INTO alert_events (
        level,
        current_mgdl,
        predicted_min_mgdl,
        horizon_minutes
    ) VALUES (
        $1,$2,$3,$4
    )
    RETURNING id, created_at, level, current_mgdl, predicted_min_mgdl, horizon_minutes, acknowledged, acknowledged_at;`

	listAlertsSQL = `SELECT
        id,
        created_at,
        level,
        current_mgdl,
        predicted_min_mgdl,
        horizon_minutes,
        acknowledged,
        acknowledged_at
    FROM alert_events
    WHERE ($1::text = '' OR level = $1)
      AND ($2::boolean IS NULL OR acknowledged = $2)
      AND ($3::timestamptz IS NULL OR created_at >= $3)
    ORDER BY created_at DESC, id DESC
    LIMIT $4;`

	acknowledgeAlertSQL = `UPDATE alert_events
    SET acknowledged = TRUE,
        acknowledged_at = COALESCE(acknowledged_at, now())
    WHERE id = $1;`

	getRiskStateSQL = `SELECT level, episode_open, updated_at FROM risk_state WHERE id = 1;`

	saveRiskStateSQL = `INSERT INTO risk_state (id, level, episode_open, updated_at)
    VALUES (1, $1, $2, now())
    ON CONFLICT (id) DO UPDATE
    SET level = EXCLUDED.level,
        episode_open = EXCLUDED.episode_open,
        updated_at = EXCLUDED.updated_at;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// ReadingStore defines glucose reading persistence.
type ReadingStore interface {
	AdmitReading(ctx context.Context, reading records.GlucoseReading) (bool, error)
	ListReadingsBetween(ctx context.Context, from, to time.Time) ([]StoredReading, error)
	ListRecentReadings(ctx context.Context, limit int) ([]StoredReading, error)
	CountReadings(ctx context.Context) (int64, error)
}

// TreatmentStore defines treatment record persistence.
type TreatmentStore interface {
	AdmitTreatment(ctx context.Context, treatment records.TreatmentRecord) (bool, error)
	ListTreatmentsBetween(ctx context.Context, from, to time.Time, kind records.TreatmentKind) ([]StoredTreatment, error)
}

// AlertStore defines alert history persistence.
type AlertStore interface {
	InsertAlert(ctx context.Context, event AlertEvent) (AlertEvent, error)
	ListAlerts(ctx context.Context, filter AlertFilter) ([]AlertEvent, error)
	AcknowledgeAlert(ctx context.Context, id int64) error
}

// RiskStateStore persists the single-row last-evaluated risk level.
type RiskStateStore interface {
	GetRiskState(ctx context.Context) (RiskState, bool, error)
	SaveRiskState(ctx context.Context, state RiskState) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to all durable collections.
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

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

// AdmitReading inserts a reading if its identity is not yet present.
// Admission is a single conditional insert, atomic per record.
func (s *Store) AdmitReading(ctx context.Context, reading records.GlucoseReading) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	tag, execErr := pool.Exec(ctx, insertReadingSQL,
		reading.Time,
		reading.Value,
		string(reading.Trend),
		reading.Device,
	)
	if execErr != nil {
		return false, unavailable("admit reading", execErr)
	}
	return tag.RowsAffected() > 0, nil
}

// ListReadingsBetween lists readings within [from, to) in time order.
func (s *Store) ListReadingsBetween(ctx context.Context, from, to time.Time) ([]StoredReading, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listReadingsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, unavailable("list readings between", queryErr)
	}
	defer rows.Close()

	return collectReadings(rows)
}

// ListRecentReadings lists the most recent readings, newest first.
func (s *Store) ListRecentReadings(ctx context.Context, limit int) ([]StoredReading, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentReadingsSQL, limit)
	if queryErr != nil {
		return nil, unavailable("list recent readings", queryErr)
	}
	defer rows.Close()

	return collectReadings(rows)
}

// CountReadings counts stored readings.
func (s *Store) CountReadings(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countReadingsSQL).Scan(&count); scanErr != nil {
		return 0, unavailable("count readings", scanErr)
	}
	return count, nil
}

// AdmitTreatment inserts a treatment if its composite identity is absent.
func (s *Store) AdmitTreatment(ctx context.Context, treatment records.TreatmentRecord) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	tag, execErr := pool.Exec(ctx, insertTreatmentSQL,
		treatment.Time,
		string(treatment.Kind),
		treatment.Carbs,
		treatment.Protein,
		treatment.Fat,
		treatment.Insulin,
		treatment.DurationMin,
		treatment.Notes,
		treatment.FingerStick,
	)
	if execErr != nil {
		return false, unavailable("admit treatment", execErr)
	}
	return tag.RowsAffected() > 0, nil
}

// ListTreatmentsBetween lists treatments within [from, to), optionally by kind.
func (s *Store) ListTreatmentsBetween(ctx context.Context, from, to time.Time, kind records.TreatmentKind) ([]StoredTreatment, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listTreatmentsBetweenSQL, from, to, string(kind))
	if queryErr != nil {
		return nil, unavailable("list treatments between", queryErr)
	}
	defer rows.Close()

	treatments := make([]StoredTreatment, 0)
	for rows.Next() {
		var st StoredTreatment
		var kindStr string
		if err := rows.Scan(
			&st.ID,
			&st.Treatment.Time,
			&kindStr,
			&st.Treatment.Carbs,
			&st.Treatment.Protein,
			&st.Treatment.Fat,
			&st.Treatment.Insulin,
			&st.Treatment.DurationMin,
			&st.Treatment.Notes,
			&st.Treatment.FingerStick,
			&st.CreatedAt,
		); err != nil {
			return nil, unavailable("scan treatment", err)
		}
		st.Treatment.Kind = records.TreatmentKind(kindStr)
		treatments = append(treatments, st)
	}
	if rows.Err() != nil {
		return nil, unavailable("iterate treatments", rows.Err())
	}
	return treatments, nil
}

// InsertAlert persists a new alert event and returns the stored row.
func (s *Store) InsertAlert(ctx context.Context, event AlertEvent) (AlertEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertEvent{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		event.Level,
		event.CurrentMgdl,
		event.PredictedMin,
		event.HorizonMinutes,
	)

	stored, scanErr := scanAlert(row)
	if scanErr != nil {
		return AlertEvent{}, unavailable("insert alert", scanErr)
	}
	return stored, nil
}

// ListAlerts lists alert events matching the filter, newest first.
func (s *Store) ListAlerts(ctx context.Context, filter AlertFilter) ([]AlertEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, queryErr := pool.Query(ctx, listAlertsSQL, filter.Level, filter.Acknowledged, filter.Since, limit)
	if queryErr != nil {
		return nil, unavailable("list alerts", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertEvent, 0, limit)
	for rows.Next() {
		event, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, unavailable("scan alert", scanErr)
		}
		alerts = append(alerts, event)
	}
	if rows.Err() != nil {
		return nil, unavailable("iterate alerts", rows.Err())
	}
	return alerts, nil
}

// AcknowledgeAlert marks an alert acknowledged. Re-acknowledging keeps the
// original acknowledged_at, so the operation is idempotent.
func (s *Store) AcknowledgeAlert(ctx context.Context, id int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, execErr := pool.Exec(ctx, acknowledgeAlertSQL, id)
	if execErr != nil {
		return unavailable("acknowledge alert", execErr)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: alert %d", ErrNotFound, id)
	}
	return nil
}

// GetRiskState reads the persisted risk state; ok is false when no state
// row exists yet.
func (s *Store) GetRiskState(ctx context.Context) (RiskState, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return RiskState{}, false, err
	}

	var state RiskState
	scanErr := pool.QueryRow(ctx, getRiskStateSQL).Scan(&state.Level, &state.EpisodeOpen, &state.UpdatedAt)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return RiskState{}, false, nil
		}
		return RiskState{}, false, unavailable("get risk state", scanErr)
	}
	return state, true, nil
}

// SaveRiskState upserts the single-row risk state.
func (s *Store) SaveRiskState(ctx context.Context, state RiskState) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, saveRiskStateSQL, state.Level, state.EpisodeOpen); execErr != nil {
		return unavailable("save risk state", execErr)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// Unlock is best effort; the connection release drops the lock anyway.
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func collectReadings(rows pgx.Rows) ([]StoredReading, error) {
	readings := make([]StoredReading, 0)
	for rows.Next() {
		var sr StoredReading
		var trend string
		if err := rows.Scan(
			&sr.ID,
			&sr.Reading.Time,
			&sr.Reading.Value,
			&trend,
			&sr.Reading.Device,
			&sr.CreatedAt,
		); err != nil {
			return nil, unavailable("scan reading", err)
		}
		sr.Reading.Trend = records.TrendDirection(trend)
		readings = append(readings, sr)
	}
	if rows.Err() != nil {
		return nil, unavailable("iterate readings", rows.Err())
	}
	return readings, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (AlertEvent, error) {
	var event AlertEvent
	if err := row.Scan(
		&event.ID,
		&event.CreatedAt,
		&event.Level,
		&event.CurrentMgdl,
		&event.PredictedMin,
		&event.HorizonMinutes,
		&event.Acknowledged,
		&event.AcknowledgedAt,
	); err != nil {
		return AlertEvent{}, err
	}
	return event, nil
}
