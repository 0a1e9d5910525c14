package alerts

import (
	"context"
	"errors"
	"time"
)

const (
	TypeTemperature = "threshold-exceeded-temperature"
	TypeImpact      = "threshold-exceeded-impact"
	TypeOther       = "other"
)

const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
)

// ErrNotFound is returned when an alert id does not exist.
var ErrNotFound = errors.New("alerts: not found")

// Alert is a threshold violation, either derived from a telemetry reading or
// supplied by an external alerting producer. Write-once except for resolution.
type Alert struct {
	ID         int64     `json:"id,omitempty"`
	EntityID   string    `json:"entityId"`
	AlertType  string    `json:"alertType"`
	AlertValue float64   `json:"alertValue"`
	Threshold  float64   `json:"threshold"`
	Timestamp  time.Time `json:"timestamp"`
	Severity   string    `json:"severity"`
	Resolved   bool      `json:"resolved"`
}

// Validate checks alert invariants before persistence.
func (a Alert) Validate() error {
	if a.EntityID == "" {
		return errors.New("alerts: empty entity id")
	}
	if a.AlertType == "" {
		return errors.New("alerts: empty alert type")
	}
	if a.Timestamp.IsZero() {
		return errors.New("alerts: zero timestamp")
	}
	return nil
}

// Repository persists and reads alerts.
type Repository interface {
	Insert(ctx context.Context, alert Alert) (int64, error)
	ListActive(ctx context.Context, limit int) ([]Alert, error)
	Resolve(ctx context.Context, id int64) (*Alert, error)
}
