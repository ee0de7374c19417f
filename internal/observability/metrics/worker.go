package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WorkerMetrics covers the pre-render worker: upload events consumed, pages rendered ahead
// of the viewer and how long events waited on the broker.
type WorkerMetrics struct {
	service  string
	registry *prometheus.Registry

	documents    *prometheus.CounterVec
	inFlight     prometheus.Gauge
	pages        *prometheus.CounterVec
	pageDuration *prometheus.HistogramVec
	queueLag     prometheus.Histogram
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	labels := prometheus.Labels{"service": service}
	m := &WorkerMetrics{
		service:  service,
		registry: prometheus.NewRegistry(),
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prerender",
			Name:      "documents_total",
			Help:      "Upload events handled by the worker, by result.",
		}, []string{"service", "result"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "prerender",
			Name:        "documents_in_flight",
			Help:        "Documents whose leading pages are being rendered.",
			ConstLabels: labels,
		}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prerender",
			Name:      "pages_total",
			Help:      "Leading pages handled by the worker: rendered, cached or failed.",
		}, []string{"service", "outcome"}),
		pageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "prerender",
			Name:      "page_duration_seconds",
			Help:      "Time to make one leading page available, by outcome.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"service", "outcome"}),
		queueLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "prerender",
			Name:        "queue_lag_seconds",
			Help:        "Delay between upload and the worker receiving the event.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
			ConstLabels: labels,
		}),
	}
	m.registry.MustRegister(m.documents, m.inFlight, m.pages, m.pageDuration, m.queueLag)
	return m
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registerer lets pipeline metrics share the worker's /metrics endpoint.
func (m *WorkerMetrics) Registerer() prometheus.Registerer {
	return m.registry
}

func (m *WorkerMetrics) DocumentStarted() {
	m.inFlight.Inc()
}

func (m *WorkerMetrics) DocumentFinished(err error) {
	m.inFlight.Dec()
	result := "ready"
	if err != nil {
		result = "failed"
	}
	m.documents.WithLabelValues(m.service, result).Inc()
}

// PagePrerendered records one leading page; outcome is rendered, cached or failed.
func (m *WorkerMetrics) PagePrerendered(outcome string, elapsed time.Duration) {
	m.pages.WithLabelValues(m.service, outcome).Inc()
	m.pageDuration.WithLabelValues(m.service, outcome).Observe(elapsed.Seconds())
}

func (m *WorkerMetrics) ObserveQueueLag(lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.Observe(lag.Seconds())
}
