package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type orderMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
	deferred  *prometheus.CounterVec
}

type rebalanceMetrics struct {
	completed  *prometheus.CounterVec
	mismatches prometheus.Counter
	nav        prometheus.Gauge
	lendingFee prometheus.Gauge
}

var (
	orderMetricsOnce sync.Once
	orderRegistry    *orderMetrics

	rebalanceMetricsOnce sync.Once
	rebalanceRegistry    *rebalanceMetrics
)

// OrderMetrics returns the lazily-initialised registry used to record order
// API activity.
func OrderMetrics() *orderMetrics {
	orderMetricsOnce.Do(func() {
		orderRegistry = &orderMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fund",
				Subsystem: "orders",
				Name:      "requests_total",
				Help:      "Total order requests segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fund",
				Subsystem: "orders",
				Name:      "errors_total",
				Help:      "Total order errors segmented by operation and status code.",
			}, []string{"operation", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "fund",
				Subsystem: "orders",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for order handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fund",
				Subsystem: "orders",
				Name:      "throttles_total",
				Help:      "Count of order requests rejected due to throttling.",
			}, []string{"reason"}),
			deferred: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fund",
				Subsystem: "orders",
				Name:      "deferred_total",
				Help:      "Count of redemptions deferred for lack of hot-wallet liquidity, by asset.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(
			orderRegistry.requests,
			orderRegistry.errors,
			orderRegistry.latency,
			orderRegistry.throttles,
			orderRegistry.deferred,
		)
	})
	return orderRegistry
}

// Observe records the outcome of an order request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *orderMetrics) Observe(operation string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(operation, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(operation, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit" so dashboards and alerts remain consistent.
func (m *orderMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

// RecordDeferred increments the deferred redemption counter for the asset.
func (m *orderMetrics) RecordDeferred(asset string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(strings.ToUpper(asset))
	if normalized == "" {
		normalized = "UNKNOWN"
	}
	m.deferred.WithLabelValues(normalized).Inc()
}

// RebalanceMetrics returns the registry tracking rebalance executions.
func RebalanceMetrics() *rebalanceMetrics {
	rebalanceMetricsOnce.Do(func() {
		rebalanceRegistry = &rebalanceMetrics{
			completed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fund",
				Subsystem: "rebalance",
				Name:      "completed_total",
				Help:      "Count of committed rebalances by kind.",
			}, []string{"kind"}),
			mismatches: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "fund",
				Subsystem: "rebalance",
				Name:      "state_mismatches_total",
				Help:      "Count of reported executions rejected by the recomputation cross-check.",
			}),
			nav: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "fund",
				Subsystem: "rebalance",
				Name:      "nav",
				Help:      "Net asset value recorded by the most recent rebalance, in whole units.",
			}),
			lendingFee: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "fund",
				Subsystem: "rebalance",
				Name:      "lending_fee_rate",
				Help:      "Annualised lending fee rate recorded by the most recent rebalance.",
			}),
		}
		prometheus.MustRegister(
			rebalanceRegistry.completed,
			rebalanceRegistry.mismatches,
			rebalanceRegistry.nav,
			rebalanceRegistry.lendingFee,
		)
	})
	return rebalanceRegistry
}

// RecordCompleted increments the completion counter for the kind.
func (m *rebalanceMetrics) RecordCompleted(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.completed.WithLabelValues(kind).Inc()
}

// SetComposition updates the gauges after a committed rebalance.
func (m *rebalanceMetrics) SetComposition(navWholeUnits, lendingFeeRate float64) {
	if m == nil {
		return
	}
	m.nav.Set(navWholeUnits)
	m.lendingFee.Set(lendingFeeRate)
}

// RecordMismatch counts a rejected execution report.
func (m *rebalanceMetrics) RecordMismatch() {
	if m == nil {
		return
	}
	m.mismatches.Inc()
}
