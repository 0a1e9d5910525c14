// Command publisher simulates a fleet of shipment trackers publishing
// telemetry to an MQTT broker.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

type config struct {
	broker    string
	topic     string
	shipments int
	interval  time.Duration
	spikePct  float64
}

type payload struct {
	EntityID        string   `json:"entityId"`
	Timestamp       string   `json:"timestamp"`
	Temperature     float64  `json:"temperature"`
	SecondaryMetric float64  `json:"secondaryMetric"`
	Latitude        *float64 `json:"latitude,omitempty"`
	Longitude       *float64 `json:"longitude,omitempty"`
	BatteryLevel    float64  `json:"batteryLevel"`
	SignalStrength  int      `json:"signalStrength"`
}

type tracker struct {
	id          string
	temperature float64
	latitude    float64
	longitude   float64
	battery     float64
}

func main() {
	cfg := parseConfig()

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.broker)
	opts.SetClientID(fmt.Sprintf("coldchain-publisher-%d", os.Getpid()))
	client := paho.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalf("connect %s: %v", cfg.broker, token.Error())
	}
	defer client.Disconnect(250)

	trackers := make([]*tracker, cfg.shipments)
	for i := range trackers {
		trackers[i] = &tracker{
			id:          fmt.Sprintf("SHIP-%04d", i+1),
			temperature: 4 + rand.Float64()*4,
			latitude:    48 + rand.Float64()*4,
			longitude:   8 + rand.Float64()*8,
			battery:     80 + rand.Float64()*20,
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	ticker := time.NewTicker(cfg.interval)
	defer ticker.Stop()

	log.Printf("publishing %d shipments to %s every %s", cfg.shipments, cfg.broker, cfg.interval)
	for {
		select {
		case <-sigChan:
			log.Print("shutting down")
			return
		case <-ticker.C:
			for _, t := range trackers {
				publish(client, cfg, t)
			}
		}
	}
}

func publish(client paho.Client, cfg config, t *tracker) {
	t.step(cfg.spikePct)
	body, err := json.Marshal(t.payload())
	if err != nil {
		log.Printf("marshal %s: %v", t.id, err)
		return
	}
	topic := strings.ReplaceAll(cfg.topic, "+", t.id)
	if token := client.Publish(topic, 1, false, body); token.Wait() && token.Error() != nil {
		log.Printf("publish %s: %v", t.id, token.Error())
	}
}

func (t *tracker) step(spikePct float64) {
	t.temperature += rand.NormFloat64() * 0.3
	if rand.Float64() < spikePct {
		t.temperature += 5 + rand.Float64()*5
	}
	t.latitude += rand.NormFloat64() * 0.01
	t.longitude += rand.NormFloat64() * 0.01
	t.battery -= rand.Float64() * 0.05
	if t.battery < 5 {
		t.battery = 100
	}
}

func (t *tracker) payload() payload {
	impact := rand.Float64() * 1.5
	if rand.Float64() < 0.02 {
		impact = 2.5 + rand.Float64()*2
	}
	lat, lng := t.latitude, t.longitude
	return payload{
		EntityID:        t.id,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		Temperature:     round2(t.temperature),
		SecondaryMetric: round2(impact),
		Latitude:        &lat,
		Longitude:       &lng,
		BatteryLevel:    round2(t.battery),
		SignalStrength:  -50 - rand.Intn(50),
	}
}

func round2(value float64) float64 {
	return float64(int(value*100)) / 100
}

func parseConfig() config {
	cfg := config{}
	flag.StringVar(&cfg.broker, "broker", "tcp://localhost:1883", "MQTT broker URL")
	flag.StringVar(&cfg.topic, "topic", "shipments/+/telemetry", "topic pattern, + is replaced by the shipment id")
	flag.IntVar(&cfg.shipments, "shipments", 5, "number of simulated shipments")
	flag.DurationVar(&cfg.interval, "interval", 2*time.Second, "publish interval")
	flag.Float64Var(&cfg.spikePct, "spike-pct", 0.01, "probability of a temperature spike per reading")
	flag.Parse()
	if cfg.shipments <= 0 {
		log.Fatal("shipments must be > 0")
	}
	return cfg
}
