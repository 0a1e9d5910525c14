package export

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	alerts "coldchain-cloud/internal/alerts/domain"
	"coldchain-cloud/internal/audit"
	"coldchain-cloud/internal/auth"
	telemetry "coldchain-cloud/internal/telemetry/domain"
)

const defaultHistoryLimit = 1000

// Handler serves telemetry and alert export downloads.
type Handler struct {
	readings telemetry.Query
	alerts   alerts.Repository
	auditor  audit.Logger
	logger   *log.Logger
}

// NewHandler constructs an export handler.
func NewHandler(readings telemetry.Query, alertRepo alerts.Repository, auditor audit.Logger, logger *log.Logger) (*Handler, error) {
	if readings == nil {
		return nil, errors.New("export handler: nil telemetry query")
	}
	if alertRepo == nil {
		return nil, errors.New("export handler: nil alert repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{readings: readings, alerts: alertRepo, auditor: auditor, logger: logger}, nil
}

// ServeHTTP handles /api/exports subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	switch r.URL.Path {
	case "/api/exports/telemetry.xlsx":
		h.handleTelemetryXLSX(w, r)
	case "/api/exports/alerts.pdf":
		h.handleAlertsPDF(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleTelemetryXLSX(w http.ResponseWriter, r *http.Request) {
	entityID := r.URL.Query().Get("entityId")
	if entityID == "" {
		http.Error(w, "entityId is required", http.StatusBadRequest)
		return
	}
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	readings, err := h.readings.History(r.Context(), entityID, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	payload, err := BuildTelemetryXLSX(entityID, readings)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.record(r, "export.telemetry.xlsx", entityID)

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="telemetry-`+entityID+`.xlsx"`)
	_, _ = w.Write(payload)
}

func (h *Handler) handleAlertsPDF(w http.ResponseWriter, r *http.Request) {
	list, err := h.alerts.ListActive(r.Context(), 0)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	payload, err := BuildAlertsPDF(list)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.record(r, "export.alerts.pdf", "active")

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="alerts.pdf"`)
	_, _ = w.Write(payload)
}

func (h *Handler) record(r *http.Request, action, resourceID string) {
	if h.auditor == nil {
		return
	}
	entry := audit.Entry{
		ID:           audit.NewID(),
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: "export",
		ResourceID:   resourceID,
		IP:           r.RemoteAddr,
		UserAgent:    r.UserAgent(),
		CreatedAt:    time.Now().UTC(),
	}
	if err := h.auditor.Log(r.Context(), entry); err != nil {
		h.logger.Printf("audit log failed action=%s resource=%s err=%v", action, resourceID, err)
	}
}
