package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"coldchain-cloud/internal/telemetry/application"
	telemetry "coldchain-cloud/internal/telemetry/domain"
)

// Consumer subscribes to a telemetry topic and feeds readings into the
// ingestion pipeline. Invalid payloads are logged and dropped.
type Consumer struct {
	ingestor *application.Ingestor
	logger   *log.Logger

	broker   string
	clientID string
	topic    string
	qos      byte
	timeout  time.Duration

	client paho.Client
}

// ConsumerOption configures the consumer.
type ConsumerOption func(*Consumer)

// WithClientID overrides the MQTT client id.
func WithClientID(id string) ConsumerOption {
	return func(c *Consumer) {
		if id != "" {
			c.clientID = id
		}
	}
}

// WithQoS overrides the subscription QoS.
func WithQoS(qos byte) ConsumerOption {
	return func(c *Consumer) { c.qos = qos }
}

// WithHandleTimeout bounds per-message processing.
func WithHandleTimeout(timeout time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// NewConsumer constructs an MQTT telemetry consumer.
func NewConsumer(broker, topic string, ingestor *application.Ingestor, logger *log.Logger, opts ...ConsumerOption) (*Consumer, error) {
	if broker == "" {
		return nil, errors.New("mqtt consumer: empty broker")
	}
	if topic == "" {
		return nil, errors.New("mqtt consumer: empty topic")
	}
	if ingestor == nil {
		return nil, errors.New("mqtt consumer: nil ingestor")
	}
	if logger == nil {
		logger = log.Default()
	}
	c := &Consumer{
		ingestor: ingestor,
		logger:   logger,
		broker:   broker,
		clientID: "coldchain-ingest",
		topic:    topic,
		qos:      1,
		timeout:  5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Start connects to the broker and subscribes.
func (c *Consumer) Start() error {
	if c == nil {
		return errors.New("mqtt consumer: nil consumer")
	}
	opts := paho.NewClientOptions()
	opts.AddBroker(c.broker)
	opts.SetClientID(c.clientID)
	opts.SetAutoReconnect(true)
	opts.SetDefaultPublishHandler(c.handleMessage)

	client := paho.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt consumer: connect %s: %w", c.broker, token.Error())
	}
	if token := client.Subscribe(c.topic, c.qos, c.handleMessage); token.Wait() && token.Error() != nil {
		client.Disconnect(250)
		return fmt.Errorf("mqtt consumer: subscribe %s: %w", c.topic, token.Error())
	}
	c.client = client
	c.logger.Printf("mqtt consumer: subscribed broker=%s topic=%s", c.broker, c.topic)
	return nil
}

// Close disconnects from the broker.
func (c *Consumer) Close() {
	if c == nil || c.client == nil {
		return
	}
	c.client.Disconnect(250)
	c.client = nil
}

func (c *Consumer) handleMessage(_ paho.Client, msg paho.Message) {
	var payload readingPayload
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		c.logger.Printf("mqtt consumer: invalid payload on %s: %v", msg.Topic(), err)
		return
	}
	reading, err := payload.toReading()
	if err != nil {
		c.logger.Printf("mqtt consumer: invalid payload on %s: %v", msg.Topic(), err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if _, err := c.ingestor.Ingest(ctx, reading); err != nil {
		var rejection *telemetry.RejectionError
		if errors.As(err, &rejection) {
			c.logger.Printf("mqtt consumer: rejected reading entity=%s field=%s", reading.EntityID, rejection.Field)
			return
		}
		c.logger.Printf("mqtt consumer: ingest entity=%s: %v", reading.EntityID, err)
	}
}

type readingPayload struct {
	EntityID        string          `json:"entityId"`
	Timestamp       json.RawMessage `json:"timestamp"`
	Temperature     *float64        `json:"temperature"`
	SecondaryMetric *float64        `json:"secondaryMetric"`
	Latitude        *float64        `json:"latitude"`
	Longitude       *float64        `json:"longitude"`
	BatteryLevel    *float64        `json:"batteryLevel"`
	SignalStrength  *int            `json:"signalStrength"`
}

func (p readingPayload) toReading() (telemetry.Reading, error) {
	if p.Temperature == nil {
		return telemetry.Reading{}, errors.New("missing temperature")
	}
	if p.SecondaryMetric == nil {
		return telemetry.Reading{}, errors.New("missing secondaryMetric")
	}
	ts, err := parseTimestamp(p.Timestamp)
	if err != nil {
		return telemetry.Reading{}, err
	}
	return telemetry.Reading{
		EntityID:        p.EntityID,
		Timestamp:       ts,
		Temperature:     *p.Temperature,
		SecondaryMetric: *p.SecondaryMetric,
		Latitude:        p.Latitude,
		Longitude:       p.Longitude,
		BatteryLevel:    p.BatteryLevel,
		SignalStrength:  p.SignalStrength,
	}, nil
}

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
