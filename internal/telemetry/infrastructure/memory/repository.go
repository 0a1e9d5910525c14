// Package memory provides in-process repositories used by tests and by the
// seed tooling when no database is configured.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	telemetry "coldchain-cloud/internal/telemetry/domain"
)

// ReadingStore keeps readings in memory. It implements both the repository
// and the query interfaces.
type ReadingStore struct {
	mu       sync.Mutex
	nextID   int64
	readings []telemetry.Reading
}

// NewReadingStore constructs an empty store.
func NewReadingStore() *ReadingStore {
	return &ReadingStore{nextID: 1}
}

// InsertReading appends a reading and assigns a sequence id.
func (s *ReadingStore) InsertReading(_ context.Context, reading telemetry.Reading) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reading.ID = s.nextID
	s.nextID++
	s.readings = append(s.readings, reading)
	return reading.ID, nil
}

// History returns readings for one entity, newest first.
func (s *ReadingStore) History(_ context.Context, entityID string, limit int) ([]telemetry.Reading, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]telemetry.Reading, 0)
	for _, r := range s.readings {
		if r.EntityID == entityID {
			matched = append(matched, r)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Timestamp.After(matched[j].Timestamp) })
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// LatestWithin returns the newest reading per entity inside the window.
func (s *ReadingStore) LatestWithin(_ context.Context, window time.Duration, now time.Time) ([]telemetry.Reading, error) {
	cutoff := now.UTC().Add(-window)
	s.mu.Lock()
	defer s.mu.Unlock()

	latest := make(map[string]telemetry.Reading)
	for _, r := range s.readings {
		current, ok := latest[r.EntityID]
		if !ok || r.Timestamp.After(current.Timestamp) {
			latest[r.EntityID] = r
		}
	}

	result := make([]telemetry.Reading, 0, len(latest))
	for _, r := range latest {
		if !r.Timestamp.Before(cutoff) {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Timestamp.After(result[j].Timestamp) })
	return result, nil
}

// Len reports the number of stored readings.
func (s *ReadingStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.readings)
}
