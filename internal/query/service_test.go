package query

import (
	"context"
	"testing"
	"time"

	alerts "coldchain-cloud/internal/alerts/domain"
	alertsmemory "coldchain-cloud/internal/alerts/infrastructure/memory"
	telemetry "coldchain-cloud/internal/telemetry/domain"
	telemetrymemory "coldchain-cloud/internal/telemetry/infrastructure/memory"
	"coldchain-cloud/internal/telemetry/state"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

func seedReading(t *testing.T, store *telemetrymemory.ReadingStore, entityID string, ts time.Time) {
	t.Helper()
	_, err := store.InsertReading(context.Background(), telemetry.Reading{
		EntityID:        entityID,
		Timestamp:       ts,
		Temperature:     4,
		SecondaryMetric: 0.1,
	})
	if err != nil {
		t.Fatalf("seed reading: %v", err)
	}
}

func TestLatestSortedByEntity(t *testing.T) {
	cache := state.NewLatestCache()
	now := time.Now().UTC()
	cache.ApplyIfNewer(telemetry.Reading{EntityID: "SHIP-0002", Timestamp: now, Temperature: 5})
	cache.ApplyIfNewer(telemetry.Reading{EntityID: "SHIP-0001", Timestamp: now, Temperature: 4})

	service, err := NewService(cache, telemetrymemory.NewReadingStore(), alertsmemory.NewAlertStore())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	latest := service.Latest()
	if len(latest) != 2 {
		t.Fatalf("expected 2 readings, got %d", len(latest))
	}
	if latest[0].EntityID != "SHIP-0001" || latest[1].EntityID != "SHIP-0002" {
		t.Fatalf("not sorted by entity id: %+v", latest)
	}
}

func TestLatestEmptyCache(t *testing.T) {
	service, err := NewService(state.NewLatestCache(), telemetrymemory.NewReadingStore(), alertsmemory.NewAlertStore())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if latest := service.Latest(); len(latest) != 0 {
		t.Fatalf("expected empty result, got %+v", latest)
	}
}

func TestHistoryNewestFirst(t *testing.T) {
	store := telemetrymemory.NewReadingStore()
	now := time.Now().UTC()
	seedReading(t, store, "SHIP-0001", now.Add(-2*time.Minute))
	seedReading(t, store, "SHIP-0001", now)
	seedReading(t, store, "SHIP-0001", now.Add(-time.Minute))
	seedReading(t, store, "SHIP-0002", now)

	service, err := NewService(state.NewLatestCache(), store, alertsmemory.NewAlertStore())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	history, err := service.History(context.Background(), "SHIP-0001", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 readings, got %d", len(history))
	}
	for i := 1; i < len(history); i++ {
		if history[i].Timestamp.After(history[i-1].Timestamp) {
			t.Fatalf("history not newest first: %+v", history)
		}
	}
}

func TestActiveEntitiesRespectsWindow(t *testing.T) {
	store := telemetrymemory.NewReadingStore()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	seedReading(t, store, "SHIP-FRESH", now.Add(-time.Minute))
	seedReading(t, store, "SHIP-STALE", now.Add(-time.Hour))

	service, err := NewService(state.NewLatestCache(), store, alertsmemory.NewAlertStore(), WithClock(fixedClock{now: now}))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	active, err := service.ActiveEntities(context.Background(), 5*time.Minute)
	if err != nil {
		t.Fatalf("active entities: %v", err)
	}
	if len(active) != 1 || active[0].EntityID != "SHIP-FRESH" {
		t.Fatalf("expected only the fresh shipment, got %+v", active)
	}
}

func TestActiveEntitiesDefaultWindow(t *testing.T) {
	store := telemetrymemory.NewReadingStore()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	seedReading(t, store, "SHIP-0001", now.Add(-10*time.Minute))

	service, err := NewService(state.NewLatestCache(), store, alertsmemory.NewAlertStore(),
		WithClock(fixedClock{now: now}), WithActiveWindow(15*time.Minute))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	active, err := service.ActiveEntities(context.Background(), 0)
	if err != nil {
		t.Fatalf("active entities: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected configured window to apply, got %+v", active)
	}
}

func TestActiveAlerts(t *testing.T) {
	alertStore := alertsmemory.NewAlertStore()
	now := time.Now().UTC()
	if _, err := alertStore.Insert(context.Background(), alerts.Alert{
		EntityID: "SHIP-0001", AlertType: alerts.TypeTemperature, AlertValue: 30, Threshold: 26, Timestamp: now, Severity: alerts.SeverityLow,
	}); err != nil {
		t.Fatalf("insert alert: %v", err)
	}
	id, err := alertStore.Insert(context.Background(), alerts.Alert{
		EntityID: "SHIP-0002", AlertType: alerts.TypeImpact, AlertValue: 3, Threshold: 2.5, Timestamp: now, Severity: alerts.SeverityLow,
	})
	if err != nil {
		t.Fatalf("insert alert: %v", err)
	}
	if _, err := alertStore.Resolve(context.Background(), id); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	service, err := NewService(state.NewLatestCache(), telemetrymemory.NewReadingStore(), alertStore)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	active, err := service.ActiveAlerts(context.Background(), 10)
	if err != nil {
		t.Fatalf("active alerts: %v", err)
	}
	if len(active) != 1 || active[0].EntityID != "SHIP-0001" {
		t.Fatalf("expected one unresolved alert, got %+v", active)
	}
}
