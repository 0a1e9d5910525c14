package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"

	alerts "coldchain-cloud/internal/alerts/domain"
	"coldchain-cloud/internal/observability/metrics"
	"coldchain-cloud/internal/stream"
	telemetry "coldchain-cloud/internal/telemetry/domain"
	"coldchain-cloud/internal/telemetry/state"
)

// ErrPersistence marks an infrastructure failure on the durable write path.
// The event was not recorded and must not become visible to any reader;
// producers retry with their own backoff.
var ErrPersistence = errors.New("telemetry ingest: persistence failure")

// Outcome reports a successfully ingested reading.
type Outcome struct {
	ID            int64
	Reading       telemetry.Reading
	DerivedAlerts []alerts.Alert
}

// Mirror receives best-effort copies of the latest-reading view. Failures
// are logged and never affect the ingestion result.
type Mirror interface {
	StoreLatest(ctx context.Context, reading telemetry.Reading) error
}

// AlertNotifier receives alerts for out-of-band channels (webhooks).
type AlertNotifier interface {
	NotifyAlert(ctx context.Context, alert alerts.Alert)
}

// Ingestor orchestrates validate, persist, cache update and fan-out for
// every incoming event. The telemetry row is the atomic unit of success:
// once it commits, later failures cannot fail the call.
type Ingestor struct {
	bounds     telemetry.Bounds
	thresholds alerts.Thresholds
	readings   telemetry.Repository
	alerts     alerts.Repository
	cache      *state.LatestCache
	registry   *stream.Registry
	mirror     Mirror
	notifier   AlertNotifier
	logger     *log.Logger

	// entityLocks serializes cache update + fan-out per entity id, so
	// observers see each entity's events in commit order. Unrelated
	// entities never contend on the same lock.
	entityLocks cmap.ConcurrentMap[string, *sync.Mutex]
}

// IngestorOption configures the ingestor.
type IngestorOption func(*Ingestor)

// WithMirror attaches a latest-view mirror.
func WithMirror(mirror Mirror) IngestorOption {
	return func(i *Ingestor) { i.mirror = mirror }
}

// WithAlertNotifier attaches an out-of-band alert channel.
func WithAlertNotifier(notifier AlertNotifier) IngestorOption {
	return func(i *Ingestor) { i.notifier = notifier }
}

// WithBounds overrides the validation envelope.
func WithBounds(bounds telemetry.Bounds) IngestorOption {
	return func(i *Ingestor) { i.bounds = bounds }
}

// WithThresholds overrides the alert thresholds.
func WithThresholds(thresholds alerts.Thresholds) IngestorOption {
	return func(i *Ingestor) { i.thresholds = thresholds }
}

// NewIngestor constructs an ingestor.
func NewIngestor(readings telemetry.Repository, alertRepo alerts.Repository, cache *state.LatestCache, registry *stream.Registry, logger *log.Logger, opts ...IngestorOption) (*Ingestor, error) {
	if readings == nil {
		return nil, errors.New("telemetry ingest: nil reading repository")
	}
	if alertRepo == nil {
		return nil, errors.New("telemetry ingest: nil alert repository")
	}
	if cache == nil {
		return nil, errors.New("telemetry ingest: nil cache")
	}
	if registry == nil {
		return nil, errors.New("telemetry ingest: nil registry")
	}
	if logger == nil {
		logger = log.Default()
	}
	ingestor := &Ingestor{
		bounds:      telemetry.DefaultBounds(),
		thresholds:  alerts.DefaultThresholds(),
		readings:    readings,
		alerts:      alertRepo,
		cache:       cache,
		registry:    registry,
		logger:      logger,
		entityLocks: cmap.New[*sync.Mutex](),
	}
	for _, opt := range opts {
		opt(ingestor)
	}
	return ingestor, nil
}

// Ingest runs one event through validate -> persist -> derive alerts ->
// update cache -> fan out. Validation failures return a *RejectionError,
// store failures wrap ErrPersistence; both leave no trace in the cache or
// on any observer channel.
func (i *Ingestor) Ingest(ctx context.Context, reading telemetry.Reading) (Outcome, error) {
	start := time.Now()

	if err := i.bounds.Validate(reading); err != nil {
		metrics.IngestRejected(rejectionField(err))
		return Outcome{}, err
	}
	reading.Timestamp = reading.Timestamp.UTC()

	id, err := i.readings.InsertReading(ctx, reading)
	if err != nil {
		metrics.ObserveIngest("error", time.Since(start))
		return Outcome{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	reading.ID = id

	derived := i.thresholds.Derive(reading)
	for idx := range derived {
		alertID, err := i.alerts.Insert(ctx, derived[idx])
		if err != nil {
			// Alerts annotate an already-committed reading; losing one
			// must not roll the reading back.
			i.logger.Printf("telemetry ingest: persist derived alert for %s: %v", reading.EntityID, err)
			continue
		}
		derived[idx].ID = alertID
		metrics.AlertRaised(derived[idx].AlertType)
	}

	i.applyAndPublish(ctx, reading, derived)

	metrics.ObserveIngest("success", time.Since(start))
	return Outcome{ID: id, Reading: reading, DerivedAlerts: derived}, nil
}

// applyAndPublish updates the latest view and notifies observers under the
// entity's lock, preserving commit order per entity.
func (i *Ingestor) applyAndPublish(ctx context.Context, reading telemetry.Reading, derived []alerts.Alert) {
	mu := i.lockFor(reading.EntityID)
	mu.Lock()
	defer mu.Unlock()

	if i.cache.ApplyIfNewer(reading) && i.mirror != nil {
		if err := i.mirror.StoreLatest(ctx, reading); err != nil {
			i.logger.Printf("telemetry ingest: mirror latest for %s: %v", reading.EntityID, err)
		}
	}

	i.registry.Publish(stream.TelemetryEvent(reading))
	for _, alert := range derived {
		i.registry.Publish(stream.AlertEvent(alert))
		if i.notifier != nil {
			i.notifier.NotifyAlert(ctx, alert)
		}
	}
}

// IngestAlert records an externally supplied alert and fans it out.
func (i *Ingestor) IngestAlert(ctx context.Context, alert alerts.Alert) (int64, error) {
	if err := alert.Validate(); err != nil {
		return 0, err
	}
	if alert.Severity == "" {
		alert.Severity = alerts.SeverityMedium
	}
	alert.Timestamp = alert.Timestamp.UTC()

	id, err := i.alerts.Insert(ctx, alert)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	alert.ID = id
	metrics.AlertRaised(alert.AlertType)

	mu := i.lockFor(alert.EntityID)
	mu.Lock()
	defer mu.Unlock()
	i.registry.Publish(stream.AlertEvent(alert))
	if i.notifier != nil {
		i.notifier.NotifyAlert(ctx, alert)
	}
	return id, nil
}

func (i *Ingestor) lockFor(entityID string) *sync.Mutex {
	return i.entityLocks.Upsert(entityID, nil, func(exists bool, current, _ *sync.Mutex) *sync.Mutex {
		if exists {
			return current
		}
		return &sync.Mutex{}
	})
}

func rejectionField(err error) string {
	var rejection *telemetry.RejectionError
	if errors.As(err, &rejection) {
		return rejection.Field
	}
	return "unknown"
}
