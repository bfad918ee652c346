package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "sushibot"

// Metrics holds the Prometheus collectors for the bot. A nil *Metrics is valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	Requests    *prometheus.CounterVec
	LatencyMS   *prometheus.HistogramVec
	Events      *prometheus.CounterVec
	Transitions *prometheus.CounterVec
	Dispatches  *prometheus.CounterVec
	SinkLatency *prometheus.HistogramVec
	OrderIDs    *prometheus.CounterVec
	Webhooks    *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg. Passing nil uses a private registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		gatherer: reg,
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"route"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "conversation",
			Name:      "events_total",
			Help:      "Chat events handled, by kind and result.",
		}, []string{"kind", "result"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "checkout",
			Name:      "transitions_total",
			Help:      "Checkout state transitions, by origin and destination step.",
		}, []string{"from", "to"}),
		Dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "orders",
			Name:      "sink_deliveries_total",
			Help:      "Order deliveries per sink, by result.",
		}, []string{"sink", "result"}),
		SinkLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "orders",
			Name:      "sink_duration_ms",
			Help:      "Order sink delivery latency in milliseconds.",
			Buckets:   []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"sink"}),
		OrderIDs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "orders",
			Name:      "identifiers_total",
			Help:      "Order identifiers issued, by source.",
		}, []string{"source"}),
		Webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "webhook",
			Name:      "verifications_total",
			Help:      "Inbound event signature checks, by reason.",
		}, []string{"reason", "result"}),
	}
	reg.MustRegister(m.Requests, m.LatencyMS, m.Events, m.Transitions, m.Dispatches, m.SinkLatency, m.OrderIDs, m.Webhooks)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, latency time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.LatencyMS.WithLabelValues(route).Observe(float64(latency.Milliseconds()))
}

// ObserveEvent records a handled chat event.
func (m *Metrics) ObserveEvent(kind string, err error) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(kind, resultLabel(err)).Inc()
}

// ObserveTransition records a checkout step change.
func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from, to).Inc()
}

// ObserveSink records one sink delivery attempt.
func (m *Metrics) ObserveSink(sink string, err error, latency time.Duration) {
	if m == nil {
		return
	}
	m.Dispatches.WithLabelValues(sink, resultLabel(err)).Inc()
	m.SinkLatency.WithLabelValues(sink).Observe(float64(latency.Milliseconds()))
}

// ObserveOrderID records whether an identifier came from the counter or the time-based fallback.
func (m *Metrics) ObserveOrderID(fallback bool) {
	if m == nil {
		return
	}
	source := "counter"
	if fallback {
		source = "fallback"
	}
	m.OrderIDs.WithLabelValues(source).Inc()
}

// ObserveVerification records one webhook signature check.
func (m *Metrics) ObserveVerification(reason string, success bool) {
	if m == nil {
		return
	}
	result := "rejected"
	if success {
		result = "accepted"
	}
	m.Webhooks.WithLabelValues(reason, result).Inc()
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
