package http

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	alerts "coldchain-cloud/internal/alerts/domain"
	"coldchain-cloud/internal/telemetry/application"
	telemetry "coldchain-cloud/internal/telemetry/domain"
)

// IngestHandler accepts telemetry events from producers.
type IngestHandler struct {
	ingestor *application.Ingestor
	logger   *log.Logger
}

// NewIngestHandler constructs an ingest handler.
func NewIngestHandler(ingestor *application.Ingestor, logger *log.Logger) (*IngestHandler, error) {
	if ingestor == nil {
		return nil, errors.New("telemetry ingest handler: nil ingestor")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &IngestHandler{ingestor: ingestor, logger: logger}, nil
}

// ServeHTTP handles POST /ingest/telemetry.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Printf("telemetry ingest: read body error: %v", err)
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req ingestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.logger.Printf("telemetry ingest: decode error: %v", err)
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	reading, err := req.toReading()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	outcome, err := h.ingestor.Ingest(r.Context(), reading)
	if err != nil {
		var rejection *telemetry.RejectionError
		switch {
		case errors.As(err, &rejection):
			http.Error(w, rejection.Error(), http.StatusUnprocessableEntity)
		case errors.Is(err, application.ErrPersistence):
			h.logger.Printf("telemetry ingest: %v", err)
			http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		default:
			h.logger.Printf("telemetry ingest: %v", err)
			http.Error(w, "ingest error", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(ingestResponse{
		ID:            outcome.ID,
		DerivedAlerts: outcome.DerivedAlerts,
	})
}

type ingestRequest struct {
	EntityID        string          `json:"entityId"`
	Timestamp       json.RawMessage `json:"timestamp"`
	Temperature     *float64        `json:"temperature"`
	SecondaryMetric *float64        `json:"secondaryMetric"`
	Latitude        *float64        `json:"latitude"`
	Longitude       *float64        `json:"longitude"`
	BatteryLevel    *float64        `json:"batteryLevel"`
	SignalStrength  *int            `json:"signalStrength"`
}

type ingestResponse struct {
	ID            int64          `json:"id"`
	DerivedAlerts []alerts.Alert `json:"derivedAlerts,omitempty"`
}

func (r ingestRequest) toReading() (telemetry.Reading, error) {
	if r.Temperature == nil {
		return telemetry.Reading{}, errors.New("missing temperature")
	}
	if r.SecondaryMetric == nil {
		return telemetry.Reading{}, errors.New("missing secondaryMetric")
	}
	ts, err := parseTimestamp(r.Timestamp)
	if err != nil {
		return telemetry.Reading{}, err
	}
	return telemetry.Reading{
		EntityID:        r.EntityID,
		Timestamp:       ts,
		Temperature:     *r.Temperature,
		SecondaryMetric: *r.SecondaryMetric,
		Latitude:        r.Latitude,
		Longitude:       r.Longitude,
		BatteryLevel:    r.BatteryLevel,
		SignalStrength:  r.SignalStrength,
	}, nil
}

// parseTimestamp accepts RFC3339 strings or epoch seconds/milliseconds.
func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return time.Time{}, errors.New("missing timestamp")
	}
	if strings.HasPrefix(trimmed, `"`) {
		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			return time.Time{}, errors.New("invalid timestamp")
		}
		ts, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return time.Time{}, errors.New("invalid timestamp")
		}
		return ts.UTC(), nil
	}
	epoch, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil || epoch <= 0 {
		return time.Time{}, errors.New("invalid timestamp")
	}
	if epoch > 1_000_000_000_000 {
		return time.UnixMilli(epoch).UTC(), nil
	}
	return time.Unix(epoch, 0).UTC(), nil
}

// AlertIngestHandler accepts externally supplied alerts.
type AlertIngestHandler struct {
	ingestor *application.Ingestor
	logger   *log.Logger
}

// NewAlertIngestHandler constructs an alert ingest handler.
func NewAlertIngestHandler(ingestor *application.Ingestor, logger *log.Logger) (*AlertIngestHandler, error) {
	if ingestor == nil {
		return nil, errors.New("alert ingest handler: nil ingestor")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &AlertIngestHandler{ingestor: ingestor, logger: logger}, nil
}

// ServeHTTP handles POST /ingest/alert.
func (h *AlertIngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req alertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	ts, err := parseTimestamp(req.Timestamp)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id, err := h.ingestor.IngestAlert(r.Context(), alerts.Alert{
		EntityID:   req.EntityID,
		AlertType:  req.AlertType,
		AlertValue: req.AlertValue,
		Threshold:  req.Threshold,
		Timestamp:  ts,
		Severity:   req.Severity,
	})
	if err != nil {
		if errors.Is(err, application.ErrPersistence) {
			h.logger.Printf("alert ingest: %v", err)
			http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
			return
		}
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{"id": id})
}

type alertRequest struct {
	EntityID   string          `json:"entityId"`
	AlertType  string          `json:"alertType"`
	AlertValue float64         `json:"alertValue"`
	Threshold  float64         `json:"threshold"`
	Timestamp  json.RawMessage `json:"timestamp"`
	Severity   string          `json:"severity"`
}
