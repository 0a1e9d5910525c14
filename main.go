package main

import (
	"bufio"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	alertspostgres "coldchain-cloud/internal/alerts/infrastructure/postgres"
	alertshttp "coldchain-cloud/internal/alerts/interfaces/http"
	alertsnotify "coldchain-cloud/internal/alerts/notify"
	apihttp "coldchain-cloud/internal/api/http"
	"coldchain-cloud/internal/audit"
	"coldchain-cloud/internal/auth"
	"coldchain-cloud/internal/export"
	"coldchain-cloud/internal/observability/metrics"
	"coldchain-cloud/internal/query"
	"coldchain-cloud/internal/stream"
	"coldchain-cloud/internal/telemetry/application"
	telemetrypostgres "coldchain-cloud/internal/telemetry/infrastructure/postgres"
	telemetryredis "coldchain-cloud/internal/telemetry/infrastructure/redis"
	telemetryhttp "coldchain-cloud/internal/telemetry/interfaces/http"
	telemetrymqtt "coldchain-cloud/internal/telemetry/interfaces/mqtt"
	"coldchain-cloud/internal/telemetry/state"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init(db, logger)
	auditRepo := audit.NewRepository(db)

	rules, err := application.LoadRulesConfig()
	if err != nil {
		logger.Fatalf("rules config error: %v", err)
	}

	readingRepo := telemetrypostgres.NewReadingRepository(db)
	readingQuery := telemetrypostgres.NewReadingQuery(db)
	alertRepo := alertspostgres.NewAlertRepository(db)

	cache := state.NewLatestCache()
	registry := stream.NewRegistry(
		stream.WithBuffer(cfg.StreamBuffer),
		stream.WithDropCounter(streamMetrics{}),
	)

	ingestOpts := []application.IngestorOption{
		application.WithBounds(rules.Bounds),
		application.WithThresholds(rules.Thresholds),
	}
	if cfg.RedisAddr != "" {
		redisClient := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		mirror, err := telemetryredis.NewMirror(redisClient)
		if err != nil {
			logger.Fatalf("redis mirror error: %v", err)
		}
		ingestOpts = append(ingestOpts, application.WithMirror(mirror))
	}
	if cfg.AlertWebhookURL != "" {
		channel, err := alertsnotify.NewWebhookChannel(cfg.AlertWebhookURL)
		if err != nil {
			logger.Fatalf("alert webhook error: %v", err)
		}
		notifier, err := alertsnotify.NewNotifier(channel, logger,
			alertsnotify.WithCooldown(cfg.AlertNotifyCooldown),
			alertsnotify.WithRequestTimeout(cfg.AlertNotifyTimeout),
		)
		if err != nil {
			logger.Fatalf("alert notifier error: %v", err)
		}
		defer notifier.Close()
		ingestOpts = append(ingestOpts, application.WithAlertNotifier(notifier))
	}

	ingestor, err := application.NewIngestor(readingRepo, alertRepo, cache, registry, logger, ingestOpts...)
	if err != nil {
		logger.Fatalf("ingestor error: %v", err)
	}

	queryService, err := query.NewService(cache, readingQuery, alertRepo, query.WithActiveWindow(cfg.ActiveWindow))
	if err != nil {
		logger.Fatalf("query service error: %v", err)
	}

	ingestHandler, err := telemetryhttp.NewIngestHandler(ingestor, logger)
	if err != nil {
		logger.Fatalf("ingest handler error: %v", err)
	}
	alertIngestHandler, err := telemetryhttp.NewAlertIngestHandler(ingestor, logger)
	if err != nil {
		logger.Fatalf("alert ingest handler error: %v", err)
	}
	alertHandler, err := alertshttp.NewHandler(alertRepo, auditRepo, logger)
	if err != nil {
		logger.Fatalf("alert handler error: %v", err)
	}
	exportHandler, err := export.NewHandler(readingQuery, alertRepo, auditRepo, logger)
	if err != nil {
		logger.Fatalf("export handler error: %v", err)
	}

	if cfg.MQTTBroker != "" {
		consumer, err := telemetrymqtt.NewConsumer(cfg.MQTTBroker, cfg.MQTTTopic, ingestor, logger)
		if err != nil {
			logger.Fatalf("mqtt consumer error: %v", err)
		}
		if err := consumer.Start(); err != nil {
			logger.Fatalf("mqtt consumer start error: %v", err)
		}
		defer consumer.Close()
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/ingest/"})
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)
	ingestAuth := auth.NewIngestAuthMiddleware([]byte(cfg.IngestSecret), time.Duration(cfg.IngestSkewSeconds)*time.Second)

	mux := http.NewServeMux()
	mux.Handle("/ingest/telemetry", ingestAuth.Wrap(ingestHandler))
	mux.Handle("/ingest/alert", ingestAuth.Wrap(alertIngestHandler))
	mux.Handle("/api/telemetry/", apihttp.NewTelemetryHandler(queryService))
	mux.Handle("/api/deliveries/active", apihttp.NewDeliveriesHandler(queryService))
	mux.Handle("/api/kpis", apihttp.NewKPIHandler(db, rules.Thresholds.TemperatureCeiling, rules.Thresholds.ImpactCeiling, cfg.ActiveWindow))
	mux.Handle("/api/alerts/", alertHandler)
	mux.Handle("/api/exports/", exportHandler)
	mux.Handle("/api/stream", stream.NewSSEHandler(registry))
	mux.Handle("/ws", stream.NewWSHandler(registry, logger))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

type config struct {
	DatabaseURL         string
	HTTPAddr            string
	JWTSecret           string
	IngestSecret        string
	IngestSkewSeconds   int
	RedisAddr           string
	RedisPassword       string
	MQTTBroker          string
	MQTTTopic           string
	AlertWebhookURL     string
	AlertNotifyCooldown time.Duration
	AlertNotifyTimeout  time.Duration
	ActiveWindow        time.Duration
	StreamBuffer        int
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:         getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:            getenvDefault("HTTP_ADDR", ":8080"),
		JWTSecret:           getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		IngestSecret:        getenvDefault("INGEST_HMAC_SECRET", ""),
		IngestSkewSeconds:   getenvIntDefault("INGEST_MAX_SKEW_SECONDS", 300),
		RedisAddr:           getenvDefault("REDIS_ADDR", ""),
		RedisPassword:       getenvDefault("REDIS_PASSWORD", ""),
		MQTTBroker:          getenvDefault("MQTT_BROKER", ""),
		MQTTTopic:           getenvDefault("MQTT_TOPIC", "shipments/+/telemetry"),
		AlertWebhookURL:     getenvDefault("ALERT_WEBHOOK_URL", ""),
		AlertNotifyCooldown: getenvDuration("ALERT_NOTIFY_COOLDOWN", time.Minute),
		AlertNotifyTimeout:  getenvDuration("ALERT_NOTIFY_TIMEOUT", 10*time.Second),
		ActiveWindow:        getenvDuration("ACTIVE_WINDOW", 5*time.Minute),
		StreamBuffer:        getenvIntDefault("STREAM_BUFFER", 16),
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}

// streamMetrics bridges the stream registry to prometheus counters.
type streamMetrics struct{}

func (streamMetrics) BroadcastDropped()     { metrics.BroadcastDropped() }
func (streamMetrics) SubscriberCount(n int) { metrics.SetSubscribers(n) }
