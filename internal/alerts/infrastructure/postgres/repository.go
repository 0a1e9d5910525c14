package postgres

import (
	"context"
	"database/sql"
	"errors"

	alerts "coldchain-cloud/internal/alerts/domain"
)

const defaultAlertsTable = "alerts"

// AlertRepository is a Postgres repository for alerts.
type AlertRepository struct {
	db    *sql.DB
	table string
}

// NewAlertRepository constructs a repository.
func NewAlertRepository(db *sql.DB) *AlertRepository {
	return &AlertRepository{db: db, table: defaultAlertsTable}
}

// Insert stores a new alert and returns its surrogate id.
func (r *AlertRepository) Insert(ctx context.Context, alert alerts.Alert) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("alert repo: nil db")
	}
	if err := alert.Validate(); err != nil {
		return 0, err
	}

	var id int64
	err := r.db.QueryRowContext(ctx, `
INSERT INTO `+r.table+` (
	entity_id, alert_type, alert_value, threshold, ts, severity, resolved
) VALUES (
	$1, $2, $3, $4, $5, $6, $7
)
RETURNING id`,
		alert.EntityID,
		alert.AlertType,
		alert.AlertValue,
		alert.Threshold,
		alert.Timestamp,
		alert.Severity,
		alert.Resolved,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// ListActive returns unresolved alerts, newest first.
func (r *AlertRepository) ListActive(ctx context.Context, limit int) ([]alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT id, entity_id, alert_type, alert_value, threshold, ts, severity, resolved
FROM `+r.table+`
WHERE resolved = FALSE
ORDER BY ts DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]alerts.Alert, 0)
	for rows.Next() {
		var alert alerts.Alert
		if err := rows.Scan(
			&alert.ID,
			&alert.EntityID,
			&alert.AlertType,
			&alert.AlertValue,
			&alert.Threshold,
			&alert.Timestamp,
			&alert.Severity,
			&alert.Resolved,
		); err != nil {
			return nil, err
		}
		alert.Timestamp = alert.Timestamp.UTC()
		result = append(result, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Resolve marks an alert resolved and returns the updated row.
func (r *AlertRepository) Resolve(ctx context.Context, id int64) (*alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}

	row := r.db.QueryRowContext(ctx, `
UPDATE `+r.table+`
SET resolved = TRUE
WHERE id = $1
RETURNING id, entity_id, alert_type, alert_value, threshold, ts, severity, resolved`, id)

	var alert alerts.Alert
	if err := row.Scan(
		&alert.ID,
		&alert.EntityID,
		&alert.AlertType,
		&alert.AlertValue,
		&alert.Threshold,
		&alert.Timestamp,
		&alert.Severity,
		&alert.Resolved,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, alerts.ErrNotFound
		}
		return nil, err
	}
	alert.Timestamp = alert.Timestamp.UTC()
	return &alert, nil
}
