package application

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	alerts "coldchain-cloud/internal/alerts/domain"
	telemetry "coldchain-cloud/internal/telemetry/domain"
)

// RulesConfig bundles the validation envelope and alert thresholds.
type RulesConfig struct {
	Bounds     telemetry.Bounds  `yaml:"bounds"`
	Thresholds alerts.Thresholds `yaml:"thresholds"`
}

// LoadRulesConfig builds the rules from defaults, an optional yaml file
// named by RULES_CONFIG, and env overrides in that order.
func LoadRulesConfig() (RulesConfig, error) {
	cfg := RulesConfig{
		Bounds:     telemetry.DefaultBounds(),
		Thresholds: alerts.DefaultThresholds(),
	}

	if path := os.Getenv("RULES_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("rules config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("rules config: parse %s: %w", path, err)
		}
	}

	cfg.Thresholds.TemperatureCeiling = getenvFloatDefault("TEMPERATURE_CEILING", cfg.Thresholds.TemperatureCeiling)
	cfg.Thresholds.ImpactCeiling = getenvFloatDefault("IMPACT_CEILING", cfg.Thresholds.ImpactCeiling)

	if cfg.Thresholds.TemperatureCeiling <= 0 {
		return cfg, fmt.Errorf("rules config: temperature ceiling must be positive")
	}
	if cfg.Thresholds.ImpactCeiling <= 0 {
		return cfg, fmt.Errorf("rules config: impact ceiling must be positive")
	}
	if cfg.Bounds.TemperatureMin >= cfg.Bounds.TemperatureMax {
		return cfg, fmt.Errorf("rules config: invalid temperature bounds")
	}
	return cfg, nil
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
