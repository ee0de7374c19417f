package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics observes page rendering, sweeps and point-prompt caching.
type PipelineMetrics struct {
	service string

	pagesRendered    prometheus.Counter
	pagesProcessed   *prometheus.CounterVec
	pageDuration     *prometheus.HistogramVec
	sweepsStarted    prometheus.Counter
	sweepsSuperseded prometheus.Counter
	sweepsPaused     prometheus.Gauge
	lockContention   prometheus.Counter
	maskCacheLookups *prometheus.CounterVec
	outboundRetries  *prometheus.CounterVec
	breakerState     *prometheus.GaugeVec
}

func NewPipelineMetrics(service string, registerer prometheus.Registerer) *PipelineMetrics {
	labels := prometheus.Labels{"service": service}
	m := &PipelineMetrics{
		service: service,
		pagesRendered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "pipeline",
			Name:        "pages_rendered_total",
			Help:        "Page renders requested from the rasterizer.",
			ConstLabels: labels,
		}),
		pagesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "pages_processed_total",
			Help:      "Segment-everything page runs by outcome.",
		}, []string{"service", "outcome"}),
		pageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "page_duration_seconds",
			Help:      "Segment-everything duration per page by outcome.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"service", "outcome"}),
		sweepsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "scheduler",
			Name:        "sweeps_started_total",
			Help:        "Background sweeps started.",
			ConstLabels: labels,
		}),
		sweepsSuperseded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "scheduler",
			Name:        "sweeps_superseded_total",
			Help:        "Sweeps that stopped because a newer one replaced them.",
			ConstLabels: labels,
		}),
		sweepsPaused: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "scheduler",
			Name:        "sweeps_paused",
			Help:        "Sweeps currently waiting for the viewer to catch up.",
			ConstLabels: labels,
		}),
		lockContention: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "scheduler",
			Name:        "lock_contention_total",
			Help:        "Pages skipped because another job held the page lock.",
			ConstLabels: labels,
		}),
		maskCacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "mask_cache_lookups_total",
			Help:      "Point-prompt mask cache lookups by result.",
		}, []string{"service", "result"}),
		outboundRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbound",
			Name:      "retries_total",
			Help:      "Retries scheduled for rasterizer, segmentation and broker calls.",
		}, []string{"service", "operation"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "outbound",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per operation: 0 closed, 1 half-open, 2 open.",
		}, []string{"service", "operation"}),
	}
	registerer.MustRegister(
		m.pagesRendered,
		m.pagesProcessed,
		m.pageDuration,
		m.sweepsStarted,
		m.sweepsSuperseded,
		m.sweepsPaused,
		m.lockContention,
		m.maskCacheLookups,
		m.outboundRetries,
		m.breakerState,
	)
	return m
}

func (m *PipelineMetrics) PageRendered() {
	m.pagesRendered.Inc()
}

func (m *PipelineMetrics) PageProcessed(outcome string, elapsed time.Duration) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.pagesProcessed.WithLabelValues(m.service, outcome).Inc()
	m.pageDuration.WithLabelValues(m.service, outcome).Observe(elapsed.Seconds())
}

func (m *PipelineMetrics) SweepStarted() {
	m.sweepsStarted.Inc()
}

func (m *PipelineMetrics) SweepSuperseded() {
	m.sweepsSuperseded.Inc()
}

func (m *PipelineMetrics) SweepPaused(paused bool) {
	if paused {
		m.sweepsPaused.Inc()
		return
	}
	m.sweepsPaused.Dec()
}

func (m *PipelineMetrics) LockContended() {
	m.lockContention.Inc()
}

func (m *PipelineMetrics) MaskCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.maskCacheLookups.WithLabelValues(m.service, result).Inc()
}

func (m *PipelineMetrics) RetryScheduled(operation string) {
	m.outboundRetries.WithLabelValues(m.service, operation).Inc()
}

func (m *PipelineMetrics) BreakerStateChanged(operation, state string) {
	var v float64
	switch state {
	case "half-open":
		v = 1
	case "open":
		v = 2
	}
	m.breakerState.WithLabelValues(m.service, operation).Set(v)
}
