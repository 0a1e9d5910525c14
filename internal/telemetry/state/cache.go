// Package state holds the in-memory latest-reading view used for
// low-latency "current status" queries and for live fan-out.
package state

import (
	cmap "github.com/orcaman/concurrent-map/v2"

	telemetry "coldchain-cloud/internal/telemetry/domain"
)

// LatestCache maps a shipment entity id to its most recent validated reading.
// The map is sharded: writes for the same entity serialize inside one shard
// lock, writes for unrelated entities proceed independently.
type LatestCache struct {
	entries cmap.ConcurrentMap[string, telemetry.Reading]
}

// NewLatestCache constructs an empty cache.
func NewLatestCache() *LatestCache {
	return &LatestCache{entries: cmap.New[telemetry.Reading]()}
}

// ApplyIfNewer stores the reading unless an entry with an equal or newer
// timestamp is already present. The comparison-and-swap runs under the shard
// lock, so concurrent writes for the same entity cannot drop a newer reading.
// Returns true when the reading was applied.
func (c *LatestCache) ApplyIfNewer(reading telemetry.Reading) bool {
	applied := false
	c.entries.Upsert(reading.EntityID, reading, func(exists bool, current, incoming telemetry.Reading) telemetry.Reading {
		if exists && !current.Timestamp.Before(incoming.Timestamp) {
			return current
		}
		applied = true
		return incoming
	})
	return applied
}

// Get returns the latest reading for an entity.
func (c *LatestCache) Get(entityID string) (telemetry.Reading, bool) {
	return c.entries.Get(entityID)
}

// Snapshot returns the latest reading for every known entity. The result is
// a consistent point-in-time copy per shard; it never blocks writers on
// unrelated entities.
func (c *LatestCache) Snapshot() []telemetry.Reading {
	readings := make([]telemetry.Reading, 0, c.entries.Count())
	for item := range c.entries.IterBuffered() {
		readings = append(readings, item.Val)
	}
	return readings
}

// Len reports the number of tracked entities.
func (c *LatestCache) Len() int {
	return c.entries.Count()
}
