// Package metrics exposes prometheus counters for commands, events, the media
// cache and HTTP traffic.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the bridge.
type Metrics struct {
	registry *prometheus.Registry

	commandsTotal *prometheus.CounterVec
	eventsTotal   *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	cacheEvicted  prometheus.Counter
	cacheResident prometheus.Gauge
	cacheIOErrors prometheus.Counter
	requestsTotal prometheus.Counter
	errorsTotal   prometheus.Counter
	subscribers   prometheus.Gauge
}

// New creates and registers the metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trackbridge_commands_total",
			Help: "Bridge commands by name and result code",
		}, []string{"command", "code"}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trackbridge_events_total",
			Help: "Playback events broadcast by type",
		}, []string{"type"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trackbridge_cache_lookups_total",
			Help: "Media cache lookups by result",
		}, []string{"result"}),
		cacheEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trackbridge_cache_evicted_bytes_total",
			Help: "Bytes evicted from the media cache",
		}),
		cacheResident: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trackbridge_cache_resident_bytes",
			Help: "Bytes currently held by the media cache",
		}),
		cacheIOErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trackbridge_cache_io_errors_total",
			Help: "Media cache read or write failures",
		}),
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trackbridge_http_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trackbridge_http_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trackbridge_event_subscribers",
			Help: "Open event streams",
		}),
	}

	registry.MustRegister(
		m.commandsTotal,
		m.eventsTotal,
		m.cacheLookups,
		m.cacheEvicted,
		m.cacheResident,
		m.cacheIOErrors,
		m.requestsTotal,
		m.errorsTotal,
		m.subscribers,
	)
	return m
}

// Command records a resolved command. code is "ok" on success.
func (m *Metrics) Command(command, code string) {
	m.commandsTotal.WithLabelValues(command, code).Inc()
}

// Event records a broadcast event.
func (m *Metrics) Event(eventType string) {
	m.eventsTotal.WithLabelValues(eventType).Inc()
}

// Lookup records a cache lookup.
func (m *Metrics) Lookup(hit bool) {
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

// Evicted records evicted cache bytes.
func (m *Metrics) Evicted(bytes int64) {
	m.cacheEvicted.Add(float64(bytes))
}

// Resident sets the resident cache size.
func (m *Metrics) Resident(bytes int64) {
	m.cacheResident.Set(float64(bytes))
}

// IOError records a cache I/O failure.
func (m *Metrics) IOError() {
	m.cacheIOErrors.Inc()
}

// SetSubscribers sets the open event stream gauge.
func (m *Metrics) SetSubscribers(n int) {
	m.subscribers.Set(float64(n))
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		h.ServeHTTP(w, r)
	})
}
