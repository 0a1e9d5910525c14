// Command seed backfills the telemetry and alert tables with synthetic
// shipment history for local development and load testing.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type config struct {
	dsn       string
	shipments int
	hours     int
	step      time.Duration
	tempBase  float64
	tempMax   float64
	impactMax float64
}

func main() {
	cfg := parseConfig()
	if cfg.dsn == "" {
		log.Fatal("PG_DSN or DATABASE_URL is required")
	}

	db, err := sql.Open("pgx", cfg.dsn)
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("db ping: %v", err)
	}

	start := time.Now().UTC().Add(-time.Duration(cfg.hours) * time.Hour)
	readings, alerts := 0, 0
	for i := 0; i < cfg.shipments; i++ {
		entityID := fmt.Sprintf("SHIP-%04d", i+1)
		temp := cfg.tempBase + rand.Float64()*4
		for ts := start; ts.Before(time.Now().UTC()); ts = ts.Add(cfg.step) {
			temp += rand.NormFloat64() * 0.3
			impact := rand.Float64() * 1.5
			if rand.Float64() < 0.01 {
				impact = cfg.impactMax + rand.Float64()*2
			}
			if err := insertReading(ctx, db, entityID, ts, temp, impact); err != nil {
				log.Fatalf("insert reading %s: %v", entityID, err)
			}
			readings++

			if temp > cfg.tempMax {
				if err := insertAlert(ctx, db, entityID, "threshold-exceeded-temperature", temp, cfg.tempMax, ts); err != nil {
					log.Fatalf("insert alert %s: %v", entityID, err)
				}
				alerts++
			}
			if impact > cfg.impactMax {
				if err := insertAlert(ctx, db, entityID, "threshold-exceeded-impact", impact, cfg.impactMax, ts); err != nil {
					log.Fatalf("insert alert %s: %v", entityID, err)
				}
				alerts++
			}
		}
	}
	log.Printf("seeded %d readings and %d alerts for %d shipments", readings, alerts, cfg.shipments)
}

func insertReading(ctx context.Context, db *sql.DB, entityID string, ts time.Time, temp, impact float64) error {
	lat := 48 + rand.Float64()*4
	lng := 8 + rand.Float64()*8
	battery := 40 + rand.Float64()*60
	signal := -50 - rand.Intn(50)
	_, err := db.ExecContext(ctx, `
INSERT INTO telemetry (entity_id, ts, temperature, secondary_metric, latitude, longitude, battery_level, signal_strength)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		entityID, ts, temp, impact, lat, lng, battery, signal)
	return err
}

func insertAlert(ctx context.Context, db *sql.DB, entityID, alertType string, value, threshold float64, ts time.Time) error {
	severity := "low"
	switch {
	case value > threshold*1.5:
		severity = "high"
	case value > threshold*1.2:
		severity = "medium"
	}
	_, err := db.ExecContext(ctx, `
INSERT INTO alerts (entity_id, alert_type, alert_value, threshold, ts, severity, resolved)
VALUES ($1,$2,$3,$4,$5,$6,FALSE)`,
		entityID, alertType, value, threshold, ts, severity)
	return err
}

func parseConfig() config {
	cfg := config{}
	flag.StringVar(&cfg.dsn, "dsn", envDefault("PG_DSN", os.Getenv("DATABASE_URL")), "postgres dsn")
	flag.IntVar(&cfg.shipments, "shipments", 10, "number of shipments")
	flag.IntVar(&cfg.hours, "hours", 24, "hours of history to backfill")
	flag.DurationVar(&cfg.step, "step", time.Minute, "interval between readings")
	flag.Float64Var(&cfg.tempBase, "temp-base", 4, "baseline temperature in celsius")
	flag.Float64Var(&cfg.tempMax, "temp-max", 26, "temperature alert ceiling")
	flag.Float64Var(&cfg.impactMax, "impact-max", 2.5, "impact alert ceiling")
	flag.Parse()
	return cfg
}

func envDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
