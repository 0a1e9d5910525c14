// Package query is the read-only facade over the durable store and the
// latest-reading cache. Nothing here mutates state.
package query

import (
	"context"
	"errors"
	"sort"
	"time"

	alerts "coldchain-cloud/internal/alerts/domain"
	"coldchain-cloud/internal/observability/metrics"
	telemetry "coldchain-cloud/internal/telemetry/domain"
	"coldchain-cloud/internal/telemetry/state"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// DefaultActiveWindow bounds how stale a shipment's newest reading may be
// before it stops counting as in transit.
const DefaultActiveWindow = 5 * time.Minute

// Service answers pull queries independently of the ingestion path.
type Service struct {
	cache    *state.LatestCache
	readings telemetry.Query
	alerts   alerts.Repository
	clock    Clock
	window   time.Duration
}

// ServiceOption configures the service.
type ServiceOption func(*Service)

// WithClock assigns a clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) { s.clock = clock }
}

// WithActiveWindow overrides the default in-transit freshness window.
func WithActiveWindow(window time.Duration) ServiceOption {
	return func(s *Service) {
		if window > 0 {
			s.window = window
		}
	}
}

// NewService constructs a query service.
func NewService(cache *state.LatestCache, readings telemetry.Query, alertRepo alerts.Repository, opts ...ServiceOption) (*Service, error) {
	if cache == nil {
		return nil, errors.New("query: nil cache")
	}
	if readings == nil {
		return nil, errors.New("query: nil reading query")
	}
	if alertRepo == nil {
		return nil, errors.New("query: nil alert repository")
	}
	service := &Service{cache: cache, readings: readings, alerts: alertRepo, clock: systemClock{}, window: DefaultActiveWindow}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Latest returns the cached newest reading per shipment, sorted by entity id
// for stable output. Cold cache returns an empty slice, never an error.
func (s *Service) Latest() []telemetry.Reading {
	start := time.Now()
	readings := s.cache.Snapshot()
	sort.Slice(readings, func(i, j int) bool { return readings[i].EntityID < readings[j].EntityID })
	metrics.ObserveQuery("latest", time.Since(start))
	return readings
}

// History returns stored readings for one shipment, newest first.
func (s *Service) History(ctx context.Context, entityID string, limit int) ([]telemetry.Reading, error) {
	start := time.Now()
	readings, err := s.readings.History(ctx, entityID, limit)
	metrics.ObserveQuery("history", time.Since(start))
	return readings, err
}

// ActiveAlerts returns unresolved alerts, newest first.
func (s *Service) ActiveAlerts(ctx context.Context, limit int) ([]alerts.Alert, error) {
	start := time.Now()
	active, err := s.alerts.ListActive(ctx, limit)
	metrics.ObserveQuery("active_alerts", time.Since(start))
	return active, err
}

// ActiveEntities returns the newest stored reading per shipment whose
// timestamp falls within the window of wall-clock now. It reads the store,
// not the cache, so freshness is judged against durable data.
func (s *Service) ActiveEntities(ctx context.Context, window time.Duration) ([]telemetry.Reading, error) {
	if window <= 0 {
		window = s.window
	}
	start := time.Now()
	readings, err := s.readings.LatestWithin(ctx, window, s.clock.Now())
	metrics.ObserveQuery("active_entities", time.Since(start))
	return readings, err
}
