// Package telemetry holds the exporter's own Prometheus metrics. They live on
// a private registry and are served on a separate listener so the NUT
// exposition stays exactly what the collectors produced.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cache outcomes recorded by ObserveCache.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	Registry *prometheus.Registry

	CollectionDuration prometheus.Histogram
	CollectionSamples  prometheus.Gauge
	ServerFailures     *prometheus.CounterVec
	UPSFailures        *prometheus.CounterVec
	CacheRequests      *prometheus.CounterVec
	PublishFailures    prometheus.Counter
}

// New creates Metrics registered on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		CollectionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nut_exporter_collection_duration_seconds",
			Help:    "Duration of a full collection pass over all configured servers.",
			Buckets: prometheus.DefBuckets,
		}),
		CollectionSamples: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nut_exporter_collection_samples",
			Help: "Number of samples produced by the last collection pass.",
		}),
		ServerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nut_exporter_server_failures_total",
			Help: "Servers skipped because connecting or authenticating failed.",
		}, []string{"server", "kind"}),
		UPSFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nut_exporter_ups_failures_total",
			Help: "UPS queries skipped because listing variables failed.",
		}, []string{"server", "ups", "kind"}),
		CacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nut_exporter_cache_requests_total",
			Help: "Scrape requests by cache outcome.",
		}, []string{"result"}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nut_exporter_mqtt_publish_failures_total",
			Help: "Collections whose MQTT mirror publish failed.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.CollectionDuration,
		m.CollectionSamples,
		m.ServerFailures,
		m.UPSFailures,
		m.CacheRequests,
		m.PublishFailures,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// ObserveCollection records one finished collection pass.
func (m *Metrics) ObserveCollection(d time.Duration, samples int) {
	if m == nil {
		return
	}
	m.CollectionDuration.Observe(d.Seconds())
	m.CollectionSamples.Set(float64(samples))
}

// ServerFailed counts a skipped server.
func (m *Metrics) ServerFailed(server, kind string) {
	if m == nil {
		return
	}
	m.ServerFailures.WithLabelValues(server, kind).Inc()
}

// UPSFailed counts a skipped UPS.
func (m *Metrics) UPSFailed(server, ups, kind string) {
	if m == nil {
		return
	}
	m.UPSFailures.WithLabelValues(server, ups, kind).Inc()
}

// ObserveCache counts one scrape by cache outcome.
func (m *Metrics) ObserveCache(result string) {
	if m == nil {
		return
	}
	m.CacheRequests.WithLabelValues(result).Inc()
}

// PublishFailed counts a failed MQTT mirror publish.
func (m *Metrics) PublishFailed() {
	if m == nil {
		return
	}
	m.PublishFailures.Inc()
}
