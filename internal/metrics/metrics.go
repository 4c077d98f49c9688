// Package metrics holds the prometheus collectors of an acquisition run.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "patchgrid"

// Metrics groups the collectors of one process. A nil *Metrics is valid and
// records nothing, so components can take it as an optional dependency.
type Metrics struct {
	registry *prometheus.Registry

	tilesTotal     prometheus.Gauge
	jobsTotal      *prometheus.CounterVec
	jobsInFlight   prometheus.Gauge
	stageDuration  *prometheus.HistogramVec
	retriesTotal   prometheus.Counter
	catalogQueries *prometheus.CounterVec
	catalogLatency prometheus.Histogram
	apiRequests    *prometheus.CounterVec
	bytesPersisted prometheus.Counter
	noDataTiles    prometheus.Gauge
}

// New creates the collectors and registers them on a fresh registry together
// with the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		tilesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tiler",
			Name:      "tiles",
			Help:      "Number of tiles produced for the area of interest",
		}),
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "jobs_total",
			Help:      "Total number of finished acquisition jobs by outcome",
		}, []string{"outcome"}),
		jobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "jobs_in_flight",
			Help:      "Number of jobs currently running on a worker",
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "stage_duration_seconds",
			Help:      "Duration of the retrieve and persist stages in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}, []string{"stage"}),
		retriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "retries_total",
			Help:      "Total number of job attempts beyond the first",
		}),
		catalogQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "availability",
			Name:      "catalog_queries_total",
			Help:      "Total number of catalog queries by result",
		}, []string{"result"}),
		catalogLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "availability",
			Name:      "catalog_latency_seconds",
			Help:      "Latency of catalog queries in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 8),
		}),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sentinel",
			Name:      "api_requests_total",
			Help:      "Total number of imagery API requests by endpoint and status code",
		}, []string{"endpoint", "code"}),
		bytesPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "bytes_persisted_total",
			Help:      "Total number of bytes written by the persistence sink",
		}),
		noDataTiles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "availability",
			Name:      "tiles_without_data",
			Help:      "Number of tiles with no acquisition in the time window",
		}),
	}

	m.registry = prometheus.NewRegistry()
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.tilesTotal,
		m.jobsTotal,
		m.jobsInFlight,
		m.stageDuration,
		m.retriesTotal,
		m.catalogQueries,
		m.catalogLatency,
		m.apiRequests,
		m.bytesPersisted,
		m.noDataTiles,
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) SetTiles(n int) {
	if m != nil {
		m.tilesTotal.Set(float64(n))
	}
}

func (m *Metrics) SetNoDataTiles(n int) {
	if m != nil {
		m.noDataTiles.Set(float64(n))
	}
}

// JobStarted marks a job as running. The returned func marks it finished.
func (m *Metrics) JobStarted() func() {
	if m == nil {
		return func() {}
	}
	m.jobsInFlight.Inc()
	return m.jobsInFlight.Dec
}

// RecordJob counts a terminal job outcome, "succeeded" or "failed".
func (m *Metrics) RecordJob(outcome string) {
	if m != nil {
		m.jobsTotal.WithLabelValues(outcome).Inc()
	}
}

// ObserveStage records how long one stage of a job took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m != nil {
		m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	}
}

func (m *Metrics) RecordRetry() {
	if m != nil {
		m.retriesTotal.Inc()
	}
}

// RecordCatalogQuery counts a catalog query, "data", "empty" or "error".
func (m *Metrics) RecordCatalogQuery(result string, latency time.Duration) {
	if m != nil {
		m.catalogQueries.WithLabelValues(result).Inc()
		m.catalogLatency.Observe(latency.Seconds())
	}
}

func (m *Metrics) RecordAPIRequest(endpoint, code string) {
	if m != nil {
		m.apiRequests.WithLabelValues(endpoint, code).Inc()
	}
}

func (m *Metrics) AddBytesPersisted(n int) {
	if m != nil {
		m.bytesPersisted.Add(float64(n))
	}
}
