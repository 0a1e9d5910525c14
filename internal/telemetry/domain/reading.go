package telemetry

import (
	"context"
	"time"
)

// Reading is one validated telemetry sample from a shipment tracker.
// Readings are immutable once persisted; the store assigns the surrogate ID.
type Reading struct {
	ID              int64     `json:"id,omitempty"`
	EntityID        string    `json:"entityId"`
	Timestamp       time.Time `json:"timestamp"`
	Temperature     float64   `json:"temperature"`
	SecondaryMetric float64   `json:"secondaryMetric"`

	Latitude       *float64 `json:"latitude,omitempty"`
	Longitude      *float64 `json:"longitude,omitempty"`
	BatteryLevel   *float64 `json:"batteryLevel,omitempty"`
	SignalStrength *int     `json:"signalStrength,omitempty"`
}

// Repository persists telemetry readings.
type Repository interface {
	InsertReading(ctx context.Context, reading Reading) (int64, error)
}

// Query reads persisted telemetry back out of the store.
type Query interface {
	History(ctx context.Context, entityID string, limit int) ([]Reading, error)
	LatestWithin(ctx context.Context, window time.Duration, now time.Time) ([]Reading, error)
}
