// Package metrics exposes the composer's Prometheus instrumentation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors for one server instance.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge

	mutationsTotal *prometheus.CounterVec
	renderDuration prometheus.Histogram
	activeSessions prometheus.Gauge
}

// New constructs a metrics set on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "composer",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "composer",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		requestsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "composer",
			Name:      "http_requests_in_flight",
			Help:      "HTTP requests currently being served.",
		}),
		mutationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "composer",
			Name:      "composition_mutations_total",
			Help:      "Composition mutations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		renderDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "composer",
			Name:      "render_duration_seconds",
			Help:      "Platform render resolution latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "composer",
			Name:      "active_sessions",
			Help:      "Open composition sessions.",
		}),
	}
}

// Handler serves the scrape endpoint for this metrics set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	m.requestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// RequestStarted marks a request in flight; call the returned func when done.
func (m *Metrics) RequestStarted() func() {
	m.requestsInFlight.Inc()
	return m.requestsInFlight.Dec
}

// ObserveMutation records one composition mutation.
func (m *Metrics) ObserveMutation(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.mutationsTotal.WithLabelValues(operation, outcome).Inc()
}

// ObserveRender records one platform render resolution.
func (m *Metrics) ObserveRender(elapsed time.Duration) {
	m.renderDuration.Observe(elapsed.Seconds())
}

// SessionOpened marks a session open; call the returned func on close.
func (m *Metrics) SessionOpened() func() {
	m.activeSessions.Inc()
	return m.activeSessions.Dec
}
