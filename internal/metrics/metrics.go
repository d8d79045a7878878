// Package metrics exposes the prometheus collectors used across the wallet
// service. Collectors are registered lazily on first use.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeSuccess  = "success"
	OutcomeError    = "error"
	OutcomeRejected = "rejected"
)

// Registry groups the service collectors.
type Registry struct {
	walletOps         *prometheus.CounterVec
	walletLatency     *prometheus.HistogramVec
	liveConnections   *prometheus.GaugeVec
	eventsEmitted     *prometheus.CounterVec
	dispatchFailures  *prometheus.CounterVec
	throttledFlushes  *prometheus.CounterVec
	reconcileMismatch *prometheus.CounterVec
	outboxPublished   *prometheus.CounterVec
}

var (
	registryOnce sync.Once
	registry     *Registry
)

// Default returns the process-wide metrics registry.
func Default() *Registry {
	registryOnce.Do(func() {
		registry = &Registry{
			walletOps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "votefest",
				Subsystem: "wallet",
				Name:      "operations_total",
				Help:      "Wallet engine operations segmented by operation and outcome.",
			}, []string{"op", "outcome"}),
			walletLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "votefest",
				Subsystem: "wallet",
				Name:      "operation_duration_seconds",
				Help:      "Latency of wallet engine units of work, lock wait included.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
			liveConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "votefest",
				Subsystem: "realtime",
				Name:      "connections",
				Help:      "Live websocket connections segmented by role.",
			}, []string{"role"}),
			eventsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "votefest",
				Subsystem: "realtime",
				Name:      "events_emitted_total",
				Help:      "Events delivered to connections segmented by event name.",
			}, []string{"event"}),
			dispatchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "votefest",
				Subsystem: "realtime",
				Name:      "dispatch_failures_total",
				Help:      "Events that could not be delivered to a connection.",
			}, []string{"event"}),
			throttledFlushes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "votefest",
				Subsystem: "realtime",
				Name:      "throttled_flushes_total",
				Help:      "Trailing-edge broadcasts fired by the throttle.",
			}, []string{"event"}),
			reconcileMismatch: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "votefest",
				Subsystem: "reconcile",
				Name:      "mismatches_total",
				Help:      "Rows found inconsistent by reconciliation jobs.",
			}, []string{"job"}),
			outboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "votefest",
				Subsystem: "outbox",
				Name:      "messages_total",
				Help:      "Outbox messages processed segmented by outcome.",
			}, []string{"outcome"}),
		}
		prometheus.MustRegister(
			registry.walletOps,
			registry.walletLatency,
			registry.liveConnections,
			registry.eventsEmitted,
			registry.dispatchFailures,
			registry.throttledFlushes,
			registry.reconcileMismatch,
			registry.outboxPublished,
		)
	})
	return registry
}

// ObserveWalletOp records one wallet engine call.
func (r *Registry) ObserveWalletOp(op, outcome string, duration time.Duration) {
	if r == nil {
		return
	}
	r.walletOps.WithLabelValues(op, outcome).Inc()
	r.walletLatency.WithLabelValues(op).Observe(duration.Seconds())
}

// ConnectionOpened increments the live connection gauge.
func (r *Registry) ConnectionOpened(role string) {
	if r == nil {
		return
	}
	r.liveConnections.WithLabelValues(role).Inc()
}

// ConnectionClosed decrements the live connection gauge.
func (r *Registry) ConnectionClosed(role string) {
	if r == nil {
		return
	}
	r.liveConnections.WithLabelValues(role).Dec()
}

func (r *Registry) EventEmitted(event string) {
	if r == nil {
		return
	}
	r.eventsEmitted.WithLabelValues(event).Inc()
}

func (r *Registry) DispatchFailed(event string) {
	if r == nil {
		return
	}
	r.dispatchFailures.WithLabelValues(event).Inc()
}

func (r *Registry) ThrottledFlush(event string) {
	if r == nil {
		return
	}
	r.throttledFlushes.WithLabelValues(event).Inc()
}

func (r *Registry) ReconcileMismatch(job string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.reconcileMismatch.WithLabelValues(job).Add(float64(n))
}

func (r *Registry) OutboxProcessed(outcome string) {
	if r == nil {
		return
	}
	r.outboxPublished.WithLabelValues(outcome).Inc()
}
