package telemetry

import (
	"fmt"
	"math"
)

// Bounds is the physical envelope a reading must fall inside. Values outside
// these limits cannot come from a working sensor and are rejected outright.
type Bounds struct {
	TemperatureMin float64 `yaml:"temperature_min"`
	TemperatureMax float64 `yaml:"temperature_max"`
	SecondaryMin   float64 `yaml:"secondary_min"`
	SecondaryMax   float64 `yaml:"secondary_max"`
}

// DefaultBounds matches the tracker hardware envelope: an industrial
// temperature sensor and a non-negative g-force accelerometer.
func DefaultBounds() Bounds {
	return Bounds{
		TemperatureMin: -40,
		TemperatureMax: 85,
		SecondaryMin:   0,
		SecondaryMax:   math.Inf(1),
	}
}

// RejectionError reports why a reading failed validation. It is a client
// error: rejected readings are never persisted, cached, or broadcast.
type RejectionError struct {
	Field  string
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("telemetry: invalid %s: %s", e.Field, e.Reason)
}

func reject(field, reason string) *RejectionError {
	return &RejectionError{Field: field, Reason: reason}
}

// Validate checks a reading against required-field presence and the physical
// envelope, short-circuiting on the first failure. It has no side effects.
func (b Bounds) Validate(r Reading) error {
	if r.EntityID == "" {
		return reject("entityId", "must be non-empty")
	}
	if r.Timestamp.IsZero() {
		return reject("timestamp", "must be set")
	}
	if !isFinite(r.Temperature) {
		return reject("temperature", "must be a finite number")
	}
	if !isFinite(r.SecondaryMetric) {
		return reject("secondaryMetric", "must be a finite number")
	}
	if r.Temperature < b.TemperatureMin || r.Temperature > b.TemperatureMax {
		return reject("temperature", fmt.Sprintf("out of range [%g, %g]", b.TemperatureMin, b.TemperatureMax))
	}
	if r.SecondaryMetric < b.SecondaryMin || r.SecondaryMetric > b.SecondaryMax {
		return reject("secondaryMetric", fmt.Sprintf("out of range [%g, %g]", b.SecondaryMin, b.SecondaryMax))
	}
	if (r.Latitude == nil) != (r.Longitude == nil) {
		return reject("position", "latitude and longitude must be supplied together")
	}
	if r.Latitude != nil {
		if !isFinite(*r.Latitude) || *r.Latitude < -90 || *r.Latitude > 90 {
			return reject("position", "latitude out of range [-90, 90]")
		}
		if !isFinite(*r.Longitude) || *r.Longitude < -180 || *r.Longitude > 180 {
			return reject("position", "longitude out of range [-180, 180]")
		}
	}
	if r.BatteryLevel != nil && !isFinite(*r.BatteryLevel) {
		return reject("batteryLevel", "must be a finite number")
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
