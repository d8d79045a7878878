package realtime

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/votefest/wallet-service/internal/domain"
	"github.com/votefest/wallet-service/internal/metrics"
)

// Frame is the JSON envelope of every websocket message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// EncodeFrame marshals an event and its payload into a text frame.
func EncodeFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return json.Marshal(Frame{Event: event, Data: data})
}

// Dispatcher fans events out to registered connections. Delivery is best
// effort: a failed send closes and unregisters the connection and is never
// reported to the caller.
type Dispatcher struct {
	registry *Registry
	logger   *zap.Logger
	metrics  *metrics.Registry

	mu        sync.Mutex
	throttles map[string]*throttle
	closed    bool
}

// NewDispatcher wires a dispatcher over the registry.
func NewDispatcher(registry *Registry, logger *zap.Logger, m *metrics.Registry) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		registry:  registry,
		logger:    logger,
		metrics:   m,
		throttles: make(map[string]*throttle),
	}
}

// NotifyAccount delivers the event to every connection of the account and
// returns the number of successful deliveries.
func (d *Dispatcher) NotifyAccount(accountID uuid.UUID, event string, payload any) int {
	return d.deliver(d.registry.ConnectionsFor(accountID), event, payload)
}

// NotifyRole delivers the event to every connection carrying the role.
func (d *Dispatcher) NotifyRole(role domain.Role, event string, payload any) int {
	return d.deliver(d.registry.ConnectionsWithRole(role), event, payload)
}

// Broadcast delivers the event to every connection.
func (d *Dispatcher) Broadcast(event string, payload any) int {
	return d.deliver(d.registry.All(), event, payload)
}

// BroadcastExcept delivers the event to every connection but one.
func (d *Dispatcher) BroadcastExcept(exclude ConnID, event string, payload any) int {
	all := d.registry.All()
	targets := all[:0]
	for _, sess := range all {
		if sess.ID != exclude {
			targets = append(targets, sess)
		}
	}
	return d.deliver(targets, event, payload)
}

// BroadcastThrottled coalesces bursts of the same event into one trailing
// broadcast. Only the most recent compute runs, once, when the timer fires.
func (d *Dispatcher) BroadcastThrottled(event string, compute func() (any, error), window time.Duration) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	t, ok := d.throttles[event]
	if !ok {
		t = newThrottle(event, d.flushThrottled)
		d.throttles[event] = t
	}
	d.mu.Unlock()

	t.schedule(compute, window)
}

// Close cancels pending throttled broadcasts.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	for _, t := range d.throttles {
		t.stop()
	}
}

func (d *Dispatcher) flushThrottled(event string, compute func() (any, error)) {
	payload, err := compute()
	if err != nil {
		d.logger.Warn("throttled payload failed", zap.String("event", event), zap.Error(err))
		d.metrics.DispatchFailed(event)
		return
	}
	d.metrics.ThrottledFlush(event)
	d.Broadcast(event, payload)
}

func (d *Dispatcher) deliver(targets []*Session, event string, payload any) int {
	if len(targets) == 0 {
		return 0
	}
	frame, err := EncodeFrame(event, payload)
	if err != nil {
		d.logger.Error("failed to encode event", zap.String("event", event), zap.Error(err))
		d.metrics.DispatchFailed(event)
		return 0
	}

	delivered := 0
	for _, sess := range targets {
		if err := sess.Send(frame); err != nil {
			d.logger.Warn("dropping connection after failed send",
				zap.String("event", event),
				zap.String("conn_id", string(sess.ID)),
				zap.Error(err),
			)
			d.metrics.DispatchFailed(event)
			d.registry.Unregister(sess.ID)
			sess.Close()
			continue
		}
		delivered++
	}
	if delivered > 0 {
		d.metrics.EventEmitted(event)
	}
	return delivered
}
