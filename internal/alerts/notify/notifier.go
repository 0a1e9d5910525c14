package notify

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	alerts "coldchain-cloud/internal/alerts/domain"
)

// Clock provides time for cooldown bookkeeping.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

type sendRecord struct {
	at time.Time
}

// Notifier sends alert notifications via a channel without blocking the
// caller. Deliveries run on their own goroutines with a bounded timeout.
type Notifier struct {
	channel        Channel
	logger         *log.Logger
	clock          Clock
	cooldown       time.Duration
	requestTimeout time.Duration

	mu   sync.Mutex
	sent map[string]sendRecord
	wg   sync.WaitGroup
}

// Option configures the notifier.
type Option func(*Notifier)

// WithCooldown sets a minimum interval between notifications for the same
// entity and alert type.
func WithCooldown(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithRequestTimeout overrides the per-delivery timeout.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(n *Notifier) {
		if timeout > 0 {
			n.requestTimeout = timeout
		}
	}
}

// NewNotifier constructs an alert notifier.
func NewNotifier(channel Channel, logger *log.Logger, opts ...Option) (*Notifier, error) {
	if channel == nil {
		return nil, errors.New("alert notifier: nil channel")
	}
	if logger == nil {
		logger = log.Default()
	}
	n := &Notifier{
		channel:        channel,
		logger:         logger,
		clock:          systemClock{},
		cooldown:       time.Minute,
		requestTimeout: 10 * time.Second,
		sent:           make(map[string]sendRecord),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// NotifyAlert dispatches the alert asynchronously. Failures are logged and
// never propagated to the caller.
func (n *Notifier) NotifyAlert(ctx context.Context, alert alerts.Alert) {
	if n == nil || n.channel == nil {
		return
	}
	if !n.shouldSend(alert) {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.requestTimeout)
		defer cancel()
		if err := n.channel.Send(sendCtx, "alert.raised", alert); err != nil {
			n.logger.Printf("alert notify failed entity=%s type=%s err=%v", alert.EntityID, alert.AlertType, err)
		}
	}()
}

// Close waits for in-flight deliveries to finish.
func (n *Notifier) Close() {
	if n == nil {
		return
	}
	n.wg.Wait()
}

func (n *Notifier) shouldSend(alert alerts.Alert) bool {
	if n.cooldown <= 0 {
		return true
	}
	key := alert.EntityID + "|" + alert.AlertType
	now := n.clock.Now().UTC()

	n.mu.Lock()
	defer n.mu.Unlock()
	record, ok := n.sent[key]
	if ok && now.Sub(record.at) < n.cooldown {
		return false
	}
	n.sent[key] = sendRecord{at: now}
	return true
}
