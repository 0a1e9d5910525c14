// Package memory provides an in-process alert repository for tests.
package memory

import (
	"context"
	"sort"
	"sync"

	alerts "coldchain-cloud/internal/alerts/domain"
)

// AlertStore keeps alerts in memory.
type AlertStore struct {
	mu     sync.Mutex
	nextID int64
	items  []alerts.Alert
}

// NewAlertStore constructs an empty store.
func NewAlertStore() *AlertStore {
	return &AlertStore{nextID: 1}
}

// Insert stores a new alert and assigns a sequence id.
func (s *AlertStore) Insert(_ context.Context, alert alerts.Alert) (int64, error) {
	if err := alert.Validate(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	alert.ID = s.nextID
	s.nextID++
	s.items = append(s.items, alert)
	return alert.ID, nil
}

// ListActive returns unresolved alerts, newest first.
func (s *AlertStore) ListActive(_ context.Context, limit int) ([]alerts.Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	active := make([]alerts.Alert, 0)
	for _, a := range s.items {
		if !a.Resolved {
			active = append(active, a)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Timestamp.After(active[j].Timestamp) })
	if len(active) > limit {
		active = active[:limit]
	}
	return active, nil
}

// Resolve marks an alert resolved.
func (s *AlertStore) Resolve(_ context.Context, id int64) (*alerts.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == id {
			s.items[i].Resolved = true
			resolved := s.items[i]
			return &resolved, nil
		}
	}
	return nil, alerts.ErrNotFound
}

// Len reports the number of stored alerts.
func (s *AlertStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
