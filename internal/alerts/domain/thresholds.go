package alerts

import (
	telemetry "coldchain-cloud/internal/telemetry/domain"
)

// Thresholds are the cold-chain quality ceilings a reading is compared
// against after it has been durably recorded. They are tighter than the
// physical validation envelope: a 30 °C reading is valid sensor data but a
// spoiled shipment.
type Thresholds struct {
	TemperatureCeiling float64 `yaml:"temperature_ceiling"`
	ImpactCeiling      float64 `yaml:"impact_ceiling"`
}

// DefaultThresholds matches refrigerated transport limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		TemperatureCeiling: 26.0,
		ImpactCeiling:      2.5,
	}
}

// Derive returns the alerts a reading triggers, zero or more. Severity
// scales with how far past the ceiling the value landed.
func (t Thresholds) Derive(r telemetry.Reading) []Alert {
	var derived []Alert
	if r.Temperature > t.TemperatureCeiling {
		derived = append(derived, Alert{
			EntityID:   r.EntityID,
			AlertType:  TypeTemperature,
			AlertValue: r.Temperature,
			Threshold:  t.TemperatureCeiling,
			Timestamp:  r.Timestamp,
			Severity:   severityFor(r.Temperature, t.TemperatureCeiling),
		})
	}
	if r.SecondaryMetric > t.ImpactCeiling {
		derived = append(derived, Alert{
			EntityID:   r.EntityID,
			AlertType:  TypeImpact,
			AlertValue: r.SecondaryMetric,
			Threshold:  t.ImpactCeiling,
			Timestamp:  r.Timestamp,
			Severity:   severityFor(r.SecondaryMetric, t.ImpactCeiling),
		})
	}
	return derived
}

func severityFor(value, ceiling float64) string {
	switch {
	case ceiling > 0 && value > ceiling*1.5:
		return SeverityHigh
	case ceiling > 0 && value > ceiling*1.2:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
