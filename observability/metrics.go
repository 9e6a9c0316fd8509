package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type deskMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	events   *prometheus.CounterVec
	prices   *prometheus.GaugeVec
}

var (
	deskMetricsOnce sync.Once
	deskRegistry    *deskMetrics
)

// Desk returns the lazily-initialised metrics registry for the settlement
// service.
func Desk() *deskMetrics {
	deskMetricsOnce.Do(func() {
		deskRegistry = &deskMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "otcdesk",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "otcdesk",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "otcdesk",
				Subsystem: "engine",
				Name:      "events_total",
				Help:      "Count of engine events segmented by type.",
			}, []string{"type"}),
			prices: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "otcdesk",
				Subsystem: "oracle",
				Name:      "price_usd8",
				Help:      "Latest published price per symbol in 8-decimal USD.",
			}, []string{"symbol"}),
		}
		prometheus.MustRegister(
			deskRegistry.requests,
			deskRegistry.latency,
			deskRegistry.events,
			deskRegistry.prices,
		)
	})
	return deskRegistry
}

// RecordRequest increments the request counter and observes the latency for a
// JSON-RPC method.
func (m *deskMetrics) RecordRequest(method string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(elapsed.Seconds())
}

// RecordEvent increments the engine event counter for the supplied type.
func (m *deskMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	if eventType = strings.TrimSpace(eventType); eventType == "" {
		eventType = "unknown"
	}
	m.events.WithLabelValues(eventType).Inc()
}

// RecordPrice records the latest published price for a symbol.
func (m *deskMetrics) RecordPrice(symbol string, priceUsd8 uint64) {
	if m == nil {
		return
	}
	m.prices.WithLabelValues(strings.ToUpper(strings.TrimSpace(symbol))).Set(float64(priceUsd8))
}
