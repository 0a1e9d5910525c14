package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	alerts "coldchain-cloud/internal/alerts/domain"
	alertsmemory "coldchain-cloud/internal/alerts/infrastructure/memory"
	"coldchain-cloud/internal/stream"
	telemetry "coldchain-cloud/internal/telemetry/domain"
	telemetrymemory "coldchain-cloud/internal/telemetry/infrastructure/memory"
	"coldchain-cloud/internal/telemetry/state"
)

type failingReadingRepo struct {
	err error
}

func (r *failingReadingRepo) InsertReading(context.Context, telemetry.Reading) (int64, error) {
	return 0, r.err
}

type failingAlertRepo struct {
	err error
}

func (r *failingAlertRepo) Insert(context.Context, alerts.Alert) (int64, error) {
	return 0, r.err
}

func (r *failingAlertRepo) ListActive(context.Context, int) ([]alerts.Alert, error) {
	return nil, r.err
}

func (r *failingAlertRepo) Resolve(context.Context, int64) (*alerts.Alert, error) {
	return nil, r.err
}

type recordingMirror struct {
	mu     sync.Mutex
	stored []telemetry.Reading
	err    error
}

func (m *recordingMirror) StoreLatest(_ context.Context, reading telemetry.Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.stored = append(m.stored, reading)
	return nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	alerted []alerts.Alert
}

func (n *recordingNotifier) NotifyAlert(_ context.Context, alert alerts.Alert) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerted = append(n.alerted, alert)
}

type fixture struct {
	readings *telemetrymemory.ReadingStore
	alerts   *alertsmemory.AlertStore
	cache    *state.LatestCache
	registry *stream.Registry
	ingestor *Ingestor
}

func newFixture(t *testing.T, opts ...IngestorOption) *fixture {
	t.Helper()
	f := &fixture{
		readings: telemetrymemory.NewReadingStore(),
		alerts:   alertsmemory.NewAlertStore(),
		cache:    state.NewLatestCache(),
		registry: stream.NewRegistry(stream.WithBuffer(64)),
	}
	ingestor, err := NewIngestor(f.readings, f.alerts, f.cache, f.registry, nil, opts...)
	if err != nil {
		t.Fatalf("new ingestor: %v", err)
	}
	f.ingestor = ingestor
	return f
}

func coldReading(entityID string, ts time.Time) telemetry.Reading {
	return telemetry.Reading{EntityID: entityID, Timestamp: ts, Temperature: 4.5, SecondaryMetric: 0.2}
}

func TestIngestSuccessPersistsCachesAndBroadcasts(t *testing.T) {
	f := newFixture(t)
	sub := f.registry.Subscribe()
	defer f.registry.Unsubscribe(sub)

	now := time.Now().UTC()
	outcome, err := f.ingestor.Ingest(context.Background(), coldReading("SHIP-0001", now))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if outcome.ID == 0 {
		t.Fatal("expected assigned id")
	}
	if len(outcome.DerivedAlerts) != 0 {
		t.Fatalf("compliant reading produced alerts: %+v", outcome.DerivedAlerts)
	}
	if f.readings.Len() != 1 {
		t.Fatalf("expected 1 stored reading, got %d", f.readings.Len())
	}

	cached, ok := f.cache.Get("SHIP-0001")
	if !ok || !cached.Timestamp.Equal(now) {
		t.Fatalf("cache not updated: %+v ok=%v", cached, ok)
	}

	select {
	case event := <-sub.C:
		if event.Type != stream.EventTelemetry || event.EntityID != "SHIP-0001" {
			t.Fatalf("unexpected event: %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatal("no telemetry event broadcast")
	}
}

func TestIngestRejectionLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	sub := f.registry.Subscribe()
	defer f.registry.Unsubscribe(sub)

	reading := coldReading("SHIP-0001", time.Now().UTC())
	reading.Temperature = 120

	_, err := f.ingestor.Ingest(context.Background(), reading)
	var rejection *telemetry.RejectionError
	if !errors.As(err, &rejection) {
		t.Fatalf("expected RejectionError, got %v", err)
	}
	if f.readings.Len() != 0 {
		t.Fatal("rejected reading was persisted")
	}
	if f.cache.Len() != 0 {
		t.Fatal("rejected reading reached the cache")
	}
	select {
	case event := <-sub.C:
		t.Fatalf("rejected reading was broadcast: %+v", event)
	default:
	}
}

func TestIngestPersistenceFailureIsInvisible(t *testing.T) {
	cache := state.NewLatestCache()
	registry := stream.NewRegistry()
	alertStore := alertsmemory.NewAlertStore()
	ingestor, err := NewIngestor(&failingReadingRepo{err: errors.New("connection refused")}, alertStore, cache, registry, nil)
	if err != nil {
		t.Fatalf("new ingestor: %v", err)
	}
	sub := registry.Subscribe()
	defer registry.Unsubscribe(sub)

	_, err = ingestor.Ingest(context.Background(), coldReading("SHIP-0001", time.Now().UTC()))
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if cache.Len() != 0 {
		t.Fatal("failed ingest reached the cache")
	}
	if alertStore.Len() != 0 {
		t.Fatal("failed ingest produced alerts")
	}
	select {
	case event := <-sub.C:
		t.Fatalf("failed ingest was broadcast: %+v", event)
	default:
	}
}

func TestIngestDerivesAlertsPastThresholds(t *testing.T) {
	f := newFixture(t)
	notifier := &recordingNotifier{}
	ingestor, err := NewIngestor(f.readings, f.alerts, f.cache, f.registry, nil, WithAlertNotifier(notifier))
	if err != nil {
		t.Fatalf("new ingestor: %v", err)
	}
	sub := f.registry.Subscribe()
	defer f.registry.Unsubscribe(sub)

	reading := coldReading("SHIP-0001", time.Now().UTC())
	reading.Temperature = 30
	reading.SecondaryMetric = 3.2

	outcome, err := ingestor.Ingest(context.Background(), reading)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if len(outcome.DerivedAlerts) != 2 {
		t.Fatalf("expected 2 derived alerts, got %d", len(outcome.DerivedAlerts))
	}
	for _, alert := range outcome.DerivedAlerts {
		if alert.ID == 0 {
			t.Fatalf("derived alert not persisted: %+v", alert)
		}
	}
	if f.alerts.Len() != 2 {
		t.Fatalf("expected 2 stored alerts, got %d", f.alerts.Len())
	}

	types := map[string]bool{}
	for i := 0; i < 3; i++ {
		select {
		case event := <-sub.C:
			types[event.Type] = true
		case <-time.After(time.Second):
			t.Fatal("missing broadcast event")
		}
	}
	if !types[stream.EventTelemetry] || !types[stream.EventAlert] {
		t.Fatalf("expected telemetry and alert events, got %v", types)
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.alerted) != 2 {
		t.Fatalf("expected 2 notified alerts, got %d", len(notifier.alerted))
	}
}

func TestIngestAlertPersistFailureDoesNotFailReading(t *testing.T) {
	cache := state.NewLatestCache()
	registry := stream.NewRegistry()
	readings := telemetrymemory.NewReadingStore()
	ingestor, err := NewIngestor(readings, &failingAlertRepo{err: errors.New("alerts table gone")}, cache, registry, nil)
	if err != nil {
		t.Fatalf("new ingestor: %v", err)
	}

	reading := coldReading("SHIP-0001", time.Now().UTC())
	reading.Temperature = 30

	outcome, err := ingestor.Ingest(context.Background(), reading)
	if err != nil {
		t.Fatalf("reading ingest must survive alert persist failure: %v", err)
	}
	if outcome.ID == 0 {
		t.Fatal("expected assigned reading id")
	}
	if readings.Len() != 1 {
		t.Fatal("reading not persisted")
	}
	if _, ok := cache.Get("SHIP-0001"); !ok {
		t.Fatal("cache not updated")
	}
}

func TestIngestOutOfOrderKeepsNewestVisible(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()

	later := coldReading("SHIP-0001", now)
	later.Temperature = 6
	earlier := coldReading("SHIP-0001", now.Add(-time.Minute))
	earlier.Temperature = 4

	if _, err := f.ingestor.Ingest(context.Background(), later); err != nil {
		t.Fatalf("ingest later: %v", err)
	}
	if _, err := f.ingestor.Ingest(context.Background(), earlier); err != nil {
		t.Fatalf("ingest earlier: %v", err)
	}

	// Both readings are durable.
	if f.readings.Len() != 2 {
		t.Fatalf("expected 2 stored readings, got %d", f.readings.Len())
	}
	// The latest view ignores the stale arrival.
	cached, _ := f.cache.Get("SHIP-0001")
	if cached.Temperature != 6 {
		t.Fatalf("stale reading became visible: %+v", cached)
	}
}

func TestIngestMirrorsOnlyAppliedReadings(t *testing.T) {
	mirror := &recordingMirror{}
	f := newFixture(t, WithMirror(mirror))
	now := time.Now().UTC()

	if _, err := f.ingestor.Ingest(context.Background(), coldReading("SHIP-0001", now)); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if _, err := f.ingestor.Ingest(context.Background(), coldReading("SHIP-0001", now.Add(-time.Minute))); err != nil {
		t.Fatalf("ingest stale: %v", err)
	}

	mirror.mu.Lock()
	defer mirror.mu.Unlock()
	if len(mirror.stored) != 1 {
		t.Fatalf("expected 1 mirrored reading, got %d", len(mirror.stored))
	}
}

func TestIngestMirrorFailureIsNonFatal(t *testing.T) {
	mirror := &recordingMirror{err: errors.New("redis down")}
	f := newFixture(t, WithMirror(mirror))

	if _, err := f.ingestor.Ingest(context.Background(), coldReading("SHIP-0001", time.Now().UTC())); err != nil {
		t.Fatalf("mirror failure must not fail ingest: %v", err)
	}
}

func TestIngestConcurrentDistinctEntities(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	const entities = 8
	const eventsPerEntity = 50
	base := time.Now().UTC()
	for i := 0; i < entities; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("SHIP-%04d", n)
			for j := 0; j < eventsPerEntity; j++ {
				reading := coldReading(id, base.Add(time.Duration(j)*time.Second))
				if _, err := f.ingestor.Ingest(context.Background(), reading); err != nil {
					t.Errorf("ingest %s: %v", id, err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	if f.readings.Len() != entities*eventsPerEntity {
		t.Fatalf("expected %d readings, got %d", entities*eventsPerEntity, f.readings.Len())
	}
	if f.cache.Len() != entities {
		t.Fatalf("expected %d cached entities, got %d", entities, f.cache.Len())
	}
	for i := 0; i < entities; i++ {
		id := fmt.Sprintf("SHIP-%04d", i)
		cached, ok := f.cache.Get(id)
		if !ok {
			t.Fatalf("missing cache entry for %s", id)
		}
		want := base.Add(time.Duration(eventsPerEntity-1) * time.Second)
		if !cached.Timestamp.Equal(want) {
			t.Fatalf("%s: expected newest timestamp %v, got %v", id, want, cached.Timestamp)
		}
	}
}

func TestIngestAlertExternal(t *testing.T) {
	f := newFixture(t)
	sub := f.registry.Subscribe()
	defer f.registry.Unsubscribe(sub)

	id, err := f.ingestor.IngestAlert(context.Background(), alerts.Alert{
		EntityID:   "SHIP-0001",
		AlertType:  alerts.TypeOther,
		AlertValue: 1,
		Timestamp:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("ingest alert: %v", err)
	}
	if id == 0 {
		t.Fatal("expected assigned alert id")
	}

	select {
	case event := <-sub.C:
		if event.Type != stream.EventAlert {
			t.Fatalf("unexpected event: %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatal("no alert event broadcast")
	}

	active, err := f.alerts.ListActive(context.Background(), 10)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].Severity != alerts.SeverityMedium {
		t.Fatalf("expected one medium alert, got %+v", active)
	}
}

func TestIngestAlertInvalidRejected(t *testing.T) {
	f := newFixture(t)
	if _, err := f.ingestor.IngestAlert(context.Background(), alerts.Alert{AlertType: alerts.TypeOther}); err == nil {
		t.Fatal("expected validation error")
	}
	if f.alerts.Len() != 0 {
		t.Fatal("invalid alert persisted")
	}
}
