// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics owns every collector the harvester reports. Each instance has its
// own registry so tests and one-shot runs never collide on registration.
type Metrics struct {
	registry *prometheus.Registry

	pagesTotal          *prometheus.CounterVec
	bytesTotal          prometheus.Counter
	recordsTotal        *prometheus.CounterVec
	runsTotal           *prometheus.CounterVec
	runDurationSeconds  prometheus.Histogram
	checkpointPage      prometheus.Gauge
	windowPages         prometheus.Gauge
	pacingDelaySeconds  prometheus.Histogram
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New builds a Metrics bound to a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		pagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_pages_total",
				Help: "Pages processed, labeled by result and status class.",
			},
			[]string{"result", "status_class"},
		),
		bytesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_bytes_total",
				Help: "Total bytes of page bodies fetched.",
			},
		),
		recordsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_records_total",
				Help: "Extracted records, labeled by persistence result.",
			},
			[]string{"result"},
		),
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_runs_total",
				Help: "Finished runs, labeled by outcome.",
			},
			[]string{"outcome"},
		),
		runDurationSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvester_run_duration_seconds",
				Help:    "Wall time per run.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
			},
		),
		checkpointPage: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_checkpoint_page",
				Help: "Most recently committed page.",
			},
		),
		windowPages: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_window_pages",
				Help: "Pages planned for the current run.",
			},
		),
		pacingDelaySeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvester_pacing_delay_seconds",
				Help:    "Histogram of politeness delays before page requests.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5},
			},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		),
	}
}

// Registry exposes the underlying registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler for exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObservePage counts a processed page. result is "committed" or "failed".
func (m *Metrics) ObservePage(result, statusClass string, bytesFetched int64) {
	if statusClass == "" {
		statusClass = "none"
	}
	m.pagesTotal.WithLabelValues(result, statusClass).Inc()
	if bytesFetched > 0 {
		m.bytesTotal.Add(float64(bytesFetched))
	}
}

// ObserveRecords adds per-page persistence counts.
func (m *Metrics) ObserveRecords(inserted, duplicates, rejected, failed int) {
	add := func(label string, n int) {
		if n > 0 {
			m.recordsTotal.WithLabelValues(label).Add(float64(n))
		}
	}
	add("inserted", inserted)
	add("duplicate", duplicates)
	add("rejected", rejected)
	add("error", failed)
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(outcome string, duration time.Duration) {
	m.runsTotal.WithLabelValues(outcome).Inc()
	if duration > 0 {
		m.runDurationSeconds.Observe(duration.Seconds())
	}
}

// SetCheckpoint publishes the latest committed page.
func (m *Metrics) SetCheckpoint(page int) {
	m.checkpointPage.Set(float64(page))
}

// SetWindow publishes the size of the planned window.
func (m *Metrics) SetWindow(pages int) {
	m.windowPages.Set(float64(pages))
}

// ObservePacing records the duration of a politeness wait.
func (m *Metrics) ObservePacing(d time.Duration) {
	m.pacingDelaySeconds.Observe(d.Seconds())
}

// ObserveHTTPRequest increments the status server request metrics.
func (m *Metrics) ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Push sends the registry to a Prometheus Pushgateway. One-shot runs exit
// before any scrape could happen, so this is how they report.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if url == "" {
		return nil
	}
	if job == "" {
		job = "question_harvester"
	}
	if err := push.New(url, job).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
