package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	telemetry "coldchain-cloud/internal/telemetry/domain"
)

const defaultTTL = 24 * time.Hour

// Mirror keeps the latest reading per shipment in Redis so dashboards and
// sibling services can read it without touching Postgres.
type Mirror struct {
	client    *goredis.Client
	keyPrefix string
	ttl       time.Duration
}

// MirrorOption configures the mirror.
type MirrorOption func(*Mirror)

// WithKeyPrefix overrides the key prefix.
func WithKeyPrefix(prefix string) MirrorOption {
	return func(m *Mirror) {
		if prefix != "" {
			m.keyPrefix = prefix
		}
	}
}

// WithTTL overrides the entry TTL.
func WithTTL(ttl time.Duration) MirrorOption {
	return func(m *Mirror) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// NewMirror constructs a Redis latest-reading mirror.
func NewMirror(client *goredis.Client, opts ...MirrorOption) (*Mirror, error) {
	if client == nil {
		return nil, errors.New("redis mirror: nil client")
	}
	m := &Mirror{
		client:    client,
		keyPrefix: "shipment:latest:",
		ttl:       defaultTTL,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// StoreLatest writes the reading under the shipment key.
func (m *Mirror) StoreLatest(ctx context.Context, reading telemetry.Reading) error {
	if m == nil || m.client == nil {
		return errors.New("redis mirror: nil client")
	}
	payload, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("redis mirror: marshal reading: %w", err)
	}
	key := m.keyPrefix + reading.EntityID
	if err := m.client.Set(ctx, key, payload, m.ttl).Err(); err != nil {
		return fmt.Errorf("redis mirror: set %s: %w", key, err)
	}
	return nil
}

// Latest reads back the mirrored reading, if present.
func (m *Mirror) Latest(ctx context.Context, entityID string) (*telemetry.Reading, error) {
	if m == nil || m.client == nil {
		return nil, errors.New("redis mirror: nil client")
	}
	raw, err := m.client.Get(ctx, m.keyPrefix+entityID).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis mirror: get %s: %w", entityID, err)
	}
	var reading telemetry.Reading
	if err := json.Unmarshal(raw, &reading); err != nil {
		return nil, fmt.Errorf("redis mirror: decode %s: %w", entityID, err)
	}
	return &reading, nil
}
