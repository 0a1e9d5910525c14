package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	telemetry "coldchain-cloud/internal/telemetry/domain"
)

// ReadingQuery is the Postgres read path for telemetry history and
// freshness queries.
type ReadingQuery struct {
	db    *sql.DB
	table string
}

// QueryOption configures the reading query.
type QueryOption func(*ReadingQuery)

// WithQueryTable overrides the default table name for queries.
func WithQueryTable(table string) QueryOption {
	return func(q *ReadingQuery) {
		if q != nil && table != "" {
			q.table = table
		}
	}
}

// NewReadingQuery constructs a query with the default table name.
func NewReadingQuery(db *sql.DB, opts ...QueryOption) *ReadingQuery {
	query := &ReadingQuery{db: db, table: defaultTelemetryTable}
	for _, opt := range opts {
		opt(query)
	}
	return query
}

const readingColumns = `id, entity_id, ts, temperature, secondary_metric, latitude, longitude, battery_level, signal_strength`

// History returns readings for one entity, newest first.
func (q *ReadingQuery) History(ctx context.Context, entityID string, limit int) ([]telemetry.Reading, error) {
	if q == nil || q.db == nil {
		return nil, errors.New("telemetry query: nil db")
	}
	if entityID == "" {
		return nil, errors.New("telemetry query: empty entity id")
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := q.db.QueryContext(ctx, `
SELECT `+readingColumns+`
FROM `+q.table+`
WHERE entity_id = $1
ORDER BY ts DESC
LIMIT $2`, entityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReadings(rows)
}

// LatestWithin returns the most recent reading per entity, restricted to
// entities whose newest reading falls inside the window ending at now.
func (q *ReadingQuery) LatestWithin(ctx context.Context, window time.Duration, now time.Time) ([]telemetry.Reading, error) {
	if q == nil || q.db == nil {
		return nil, errors.New("telemetry query: nil db")
	}
	if window <= 0 {
		return nil, errors.New("telemetry query: non-positive window")
	}
	cutoff := now.UTC().Add(-window)

	rows, err := q.db.QueryContext(ctx, `
SELECT `+readingColumns+`
FROM `+q.table+` t
WHERE ts = (
	SELECT MAX(ts) FROM `+q.table+` WHERE entity_id = t.entity_id
)
AND ts >= $1
ORDER BY ts DESC`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReadings(rows)
}

func scanReadings(rows *sql.Rows) ([]telemetry.Reading, error) {
	readings := make([]telemetry.Reading, 0)
	for rows.Next() {
		var (
			reading  telemetry.Reading
			lat, lng sql.NullFloat64
			battery  sql.NullFloat64
			signal   sql.NullInt64
		)
		if err := rows.Scan(
			&reading.ID,
			&reading.EntityID,
			&reading.Timestamp,
			&reading.Temperature,
			&reading.SecondaryMetric,
			&lat,
			&lng,
			&battery,
			&signal,
		); err != nil {
			return nil, err
		}
		reading.Timestamp = reading.Timestamp.UTC()
		if lat.Valid {
			reading.Latitude = &lat.Float64
		}
		if lng.Valid {
			reading.Longitude = &lng.Float64
		}
		if battery.Valid {
			reading.BatteryLevel = &battery.Float64
		}
		if signal.Valid {
			v := int(signal.Int64)
			reading.SignalStrength = &v
		}
		readings = append(readings, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return readings, nil
}
