package postgres

import (
	"context"
	"database/sql"
	"errors"

	telemetry "coldchain-cloud/internal/telemetry/domain"
)

const defaultTelemetryTable = "telemetry"

// ReadingRepository is the Postgres append-only write path for telemetry.
type ReadingRepository struct {
	db    *sql.DB
	table string
}

// RepositoryOption configures the repository.
type RepositoryOption func(*ReadingRepository)

// WithTable overrides the default table name.
func WithTable(table string) RepositoryOption {
	return func(repo *ReadingRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewReadingRepository constructs a repository with the default table name.
func NewReadingRepository(db *sql.DB, opts ...RepositoryOption) *ReadingRepository {
	repo := &ReadingRepository{db: db, table: defaultTelemetryTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// InsertReading appends one reading and returns the assigned surrogate id.
// Duplicate (entity_id, ts) pairs insert as distinct rows.
func (r *ReadingRepository) InsertReading(ctx context.Context, reading telemetry.Reading) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("telemetry repo: nil db")
	}
	if reading.EntityID == "" || reading.Timestamp.IsZero() {
		return 0, errors.New("telemetry repo: invalid reading")
	}

	var id int64
	err := r.db.QueryRowContext(ctx, `
INSERT INTO `+r.table+` (
	entity_id, ts, temperature, secondary_metric,
	latitude, longitude, battery_level, signal_strength
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8
)
RETURNING id`,
		reading.EntityID,
		reading.Timestamp,
		reading.Temperature,
		reading.SecondaryMetric,
		nullableFloat(reading.Latitude),
		nullableFloat(reading.Longitude),
		nullableFloat(reading.BatteryLevel),
		nullableInt(reading.SignalStrength),
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func nullableFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
