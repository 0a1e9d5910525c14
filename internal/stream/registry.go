// Package stream fans ingested updates out to live dashboard observers.
package stream

import (
	"sync"

	alerts "coldchain-cloud/internal/alerts/domain"
	telemetry "coldchain-cloud/internal/telemetry/domain"
)

const (
	EventTelemetry = "telemetry_update"
	EventAlert     = "alert_update"
)

// Event is one push notification, tagged by kind.
type Event struct {
	Type     string `json:"type"`
	EntityID string `json:"entityId"`
	Data     any    `json:"data"`
}

// TelemetryEvent wraps a reading for delivery.
func TelemetryEvent(r telemetry.Reading) Event {
	return Event{Type: EventTelemetry, EntityID: r.EntityID, Data: r}
}

// AlertEvent wraps an alert for delivery.
func AlertEvent(a alerts.Alert) Event {
	return Event{Type: EventAlert, EntityID: a.EntityID, Data: a}
}

// Subscription is one live observer. Events arrive on C until the observer
// unsubscribes or falls too far behind, after which C is closed.
type Subscription struct {
	C chan Event

	mu     sync.Mutex
	closed bool
}

// deliver enqueues without blocking. A full channel means the observer has
// stalled past its buffer; delivery fails and the subscription is reaped.
func (s *Subscription) deliver(event Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.C <- event:
		return true
	default:
		return false
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.C)
	}
}

// DropCounter observes per-observer delivery failures.
type DropCounter interface {
	BroadcastDropped()
	SubscriberCount(n int)
}

// Registry tracks live subscriptions. Delivery is best-effort and isolated
// per observer: a slow or dead observer never delays the others and never
// blocks the ingestion path.
type Registry struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	buffer int
	drops  DropCounter
}

// RegistryOption configures the registry.
type RegistryOption func(*Registry)

// WithBuffer overrides the per-subscription channel depth.
func WithBuffer(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.buffer = n
		}
	}
}

// WithDropCounter wires delivery metrics.
func WithDropCounter(c DropCounter) RegistryOption {
	return func(r *Registry) {
		r.drops = c
	}
}

// NewRegistry constructs an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{subs: make(map[*Subscription]struct{}), buffer: 16}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe registers a new observer.
func (r *Registry) Subscribe() *Subscription {
	sub := &Subscription{C: make(chan Event, r.buffer)}
	r.mu.Lock()
	r.subs[sub] = struct{}{}
	n := len(r.subs)
	r.mu.Unlock()
	if r.drops != nil {
		r.drops.SubscriberCount(n)
	}
	return sub
}

// Unsubscribe removes an observer and closes its channel.
func (r *Registry) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	r.mu.Lock()
	delete(r.subs, sub)
	n := len(r.subs)
	r.mu.Unlock()
	sub.close()
	if r.drops != nil {
		r.drops.SubscriberCount(n)
	}
}

// Publish delivers the event to every currently live subscription. The
// subscriber set is snapshotted first, so churn mid-broadcast cannot cause a
// missed or duplicated delivery to unrelated observers. Subscriptions whose
// delivery fails are removed.
func (r *Registry) Publish(event Event) {
	r.mu.Lock()
	snapshot := make([]*Subscription, 0, len(r.subs))
	for sub := range r.subs {
		snapshot = append(snapshot, sub)
	}
	r.mu.Unlock()

	var dead []*Subscription
	for _, sub := range snapshot {
		if !sub.deliver(event) {
			dead = append(dead, sub)
			if r.drops != nil {
				r.drops.BroadcastDropped()
			}
		}
	}
	for _, sub := range dead {
		r.Unsubscribe(sub)
	}
}

// Len reports the current number of live subscriptions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}
