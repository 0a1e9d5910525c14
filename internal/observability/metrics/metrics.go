package metrics

import (
	"context"
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "coldchain_"

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestRejected *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec

	alertsRaised *prometheus.CounterVec

	broadcastDropped prometheus.Counter
	liveSubscribers  prometheus.Gauge

	queryLatency *prometheus.HistogramVec

	trackedShipments prometheus.Gauge
	activeAlerts     prometheus.Gauge
)

// Init registers the instruments and starts the DB-backed gauges. Safe to
// call once; later calls are no-ops.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total ingest requests by result",
			},
			[]string{"result"},
		)
		ingestRejected = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_rejected_total",
				Help: "Total rejected readings by failing field",
			},
			[]string{"field"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		alertsRaised = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_raised_total",
				Help: "Total alerts raised by type",
			},
			[]string{"type"},
		)
		broadcastDropped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "broadcast_dropped_total",
				Help: "Deliveries dropped because an observer stalled or disconnected",
			},
		)
		liveSubscribers = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "live_subscribers",
				Help: "Currently connected live observers",
			},
		)
		queryLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "query_latency_seconds",
				Help:    "Query latency in seconds by operation",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		)
		trackedShipments = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "tracked_shipments",
				Help: "Distinct shipment ids with at least one stored reading",
			},
		)
		activeAlerts = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "active_alerts",
				Help: "Unresolved alerts in the store",
			},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestRejected,
			ingestLatency,
			alertsRaised,
			broadcastDropped,
			liveSubscribers,
			queryLatency,
			trackedShipments,
			activeAlerts,
		)

		if db != nil {
			go pollStoreGauges(db, logger)
		}
	})
}

// ObserveIngest records one completed ingest attempt.
func ObserveIngest(result string, elapsed time.Duration) {
	if ingestRequests == nil {
		return
	}
	ingestRequests.WithLabelValues(result).Inc()
	ingestLatency.WithLabelValues(result).Observe(elapsed.Seconds())
}

// IngestRejected records a validation rejection.
func IngestRejected(field string) {
	if ingestRejected == nil {
		return
	}
	ingestRequests.WithLabelValues("rejected").Inc()
	ingestRejected.WithLabelValues(field).Inc()
}

// AlertRaised records one persisted alert.
func AlertRaised(alertType string) {
	if alertsRaised == nil {
		return
	}
	alertsRaised.WithLabelValues(alertType).Inc()
}

// BroadcastDropped records one failed observer delivery.
func BroadcastDropped() {
	if broadcastDropped == nil {
		return
	}
	broadcastDropped.Inc()
}

// SetSubscribers records the live observer count.
func SetSubscribers(n int) {
	if liveSubscribers == nil {
		return
	}
	liveSubscribers.Set(float64(n))
}

// ObserveQuery records one read-path operation.
func ObserveQuery(operation string, elapsed time.Duration) {
	if queryLatency == nil {
		return
	}
	queryLatency.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func pollStoreGauges(db *sql.DB, logger *log.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		var shipments, unresolved int64
		if err := db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT entity_id) FROM telemetry`).Scan(&shipments); err != nil {
			if logger != nil {
				logger.Printf("metrics: tracked shipments gauge: %v", err)
			}
		} else {
			trackedShipments.Set(float64(shipments))
		}
		if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts WHERE resolved = FALSE`).Scan(&unresolved); err != nil {
			if logger != nil {
				logger.Printf("metrics: active alerts gauge: %v", err)
			}
		} else {
			activeAlerts.Set(float64(unresolved))
		}
		cancel()
	}
}
