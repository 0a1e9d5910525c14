package apihttp

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"coldchain-cloud/internal/query"
)

// TelemetryHandler serves latest and history telemetry queries.
type TelemetryHandler struct {
	service *query.Service
}

// NewTelemetryHandler constructs a TelemetryHandler.
func NewTelemetryHandler(service *query.Service) *TelemetryHandler {
	return &TelemetryHandler{service: service}
}

// ServeHTTP routes GET /api/telemetry/latest and
// GET /api/telemetry/{entityId}/history.
func (h *TelemetryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.service == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/telemetry/")
	switch {
	case rest == "latest":
		writeJSON(w, h.service.Latest())
	case strings.HasSuffix(rest, "/history"):
		entityID := strings.TrimSuffix(rest, "/history")
		if entityID == "" || strings.Contains(entityID, "/") {
			http.Error(w, "entity id required", http.StatusBadRequest)
			return
		}
		readings, err := h.service.History(r.Context(), entityID, parseLimit(r, 100))
		if err != nil {
			http.Error(w, "query history error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, readings)
	default:
		http.NotFound(w, r)
	}
}

// DeliveriesHandler serves the active-shipment query.
type DeliveriesHandler struct {
	service *query.Service
}

// NewDeliveriesHandler constructs a DeliveriesHandler.
func NewDeliveriesHandler(service *query.Service) *DeliveriesHandler {
	return &DeliveriesHandler{service: service}
}

// ServeHTTP handles GET /api/deliveries/active.
func (h *DeliveriesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.service == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	var window time.Duration
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid window", http.StatusBadRequest)
			return
		}
		window = parsed
	}

	readings, err := h.service.ActiveEntities(r.Context(), window)
	if err != nil {
		http.Error(w, "query active deliveries error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, readings)
}

// KPIs are dashboard indicators derived entirely from stored data.
type KPIs struct {
	TemperatureCompliance float64 `json:"temperatureCompliance"`
	ImpactCompliance      float64 `json:"impactCompliance"`
	TrackedShipments      int64   `json:"trackedShipments"`
	ActiveShipments       int64   `json:"activeShipments"`
	ActiveAlertCount      int64   `json:"activeAlertCount"`
}

// KPIHandler computes KPIs straight from the durable store.
type KPIHandler struct {
	db            *sql.DB
	tempCeiling   float64
	impactCeiling float64
	activeWindow  time.Duration
}

// NewKPIHandler constructs a KPIHandler.
func NewKPIHandler(db *sql.DB, tempCeiling, impactCeiling float64, activeWindow time.Duration) *KPIHandler {
	if activeWindow <= 0 {
		activeWindow = query.DefaultActiveWindow
	}
	return &KPIHandler{db: db, tempCeiling: tempCeiling, impactCeiling: impactCeiling, activeWindow: activeWindow}
}

// ServeHTTP handles GET /api/kpis.
func (h *KPIHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.db == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	kpis, err := h.compute(r.Context())
	if err != nil {
		http.Error(w, "query kpis error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, kpis)
}

func (h *KPIHandler) compute(ctx context.Context) (KPIs, error) {
	var kpis KPIs

	if err := h.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT entity_id) FROM telemetry`).Scan(&kpis.TrackedShipments); err != nil {
		return kpis, err
	}

	var tempViolations, impactViolations int64
	if err := h.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT entity_id) FROM telemetry WHERE temperature > $1`, h.tempCeiling).Scan(&tempViolations); err != nil {
		return kpis, err
	}
	if err := h.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT entity_id) FROM telemetry WHERE secondary_metric > $1`, h.impactCeiling).Scan(&impactViolations); err != nil {
		return kpis, err
	}

	cutoff := time.Now().UTC().Add(-h.activeWindow)
	if err := h.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT entity_id) FROM telemetry WHERE ts >= $1`, cutoff).Scan(&kpis.ActiveShipments); err != nil {
		return kpis, err
	}
	if err := h.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts WHERE resolved = FALSE`).Scan(&kpis.ActiveAlertCount); err != nil {
		return kpis, err
	}

	kpis.TemperatureCompliance = complianceRate(kpis.TrackedShipments, tempViolations)
	kpis.ImpactCompliance = complianceRate(kpis.TrackedShipments, impactViolations)
	return kpis, nil
}

func complianceRate(total, violations int64) float64 {
	if total <= 0 {
		return 100
	}
	rate := float64(total-violations) / float64(total) * 100
	if rate < 0 {
		return 0
	}
	return rate
}

func parseLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return fallback
	}
	return limit
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
