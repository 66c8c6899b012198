// Package metrics defines the Prometheus collectors used by every pipeline
// stage and exposes them for scraping or for a push at the end of a pass.
// All observation helpers are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "trecpipe"

// Metrics holds all Prometheus collectors for the pipeline.
type Metrics struct {
	registry *prometheus.Registry

	LinesReadTotal       *prometheus.CounterVec
	LinesSkippedTotal    *prometheus.CounterVec
	EntriesWrittenTotal  *prometheus.CounterVec
	TopicsProcessedTotal *prometheus.CounterVec
	ClausesDroppedTotal  prometheus.Counter
	ScoreLookupsTotal    *prometheus.CounterVec
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	StageDuration        *prometheus.HistogramVec
	DocsIndexedTotal     prometheus.Counter
	IndexFlushesTotal    *prometheus.CounterVec
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates all collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		LinesReadTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lines_read_total",
				Help:      "Input lines read by stage.",
			},
			[]string{"stage"},
		),
		LinesSkippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lines_skipped_total",
				Help:      "Input lines or items skipped by stage and reason.",
			},
			[]string{"stage", "reason"},
		),
		EntriesWrittenTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "entries_written_total",
				Help:      "Run entries emitted by stage.",
			},
			[]string{"stage"},
		),
		TopicsProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "topics_processed_total",
				Help:      "Topics processed by stage.",
			},
			[]string{"stage"},
		),
		ClausesDroppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "query_clauses_dropped_total",
				Help:      "Query clauses dropped because they could not be constructed.",
			},
		),
		ScoreLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "score_lookups_total",
				Help:      "Quality score lookups by source and result (hit, miss, error).",
			},
			[]string{"source", "result"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "score_cache_hits_total",
				Help:      "Quality score cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "score_cache_misses_total",
				Help:      "Quality score cache misses.",
			},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Wall time of a pipeline stage in seconds.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
			},
			[]string{"stage"},
		),
		DocsIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "docs_indexed_total",
				Help:      "Total documents indexed.",
			},
		),
		IndexFlushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "index_flushes_total",
				Help:      "Total index flush operations by status.",
			},
			[]string{"status"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	m.registry.MustRegister(
		m.LinesReadTotal,
		m.LinesSkippedTotal,
		m.EntriesWrittenTotal,
		m.TopicsProcessedTotal,
		m.ClausesDroppedTotal,
		m.ScoreLookupsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.StageDuration,
		m.DocsIndexedTotal,
		m.IndexFlushesTotal,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) LineRead(stage string) {
	if m == nil {
		return
	}
	m.LinesReadTotal.WithLabelValues(stage).Inc()
}

func (m *Metrics) Skipped(stage, reason string, n int64) {
	if m == nil || n == 0 {
		return
	}
	m.LinesSkippedTotal.WithLabelValues(stage, reason).Add(float64(n))
}

func (m *Metrics) EntryWritten(stage string) {
	if m == nil {
		return
	}
	m.EntriesWrittenTotal.WithLabelValues(stage).Inc()
}

func (m *Metrics) TopicProcessed(stage string) {
	if m == nil {
		return
	}
	m.TopicsProcessedTotal.WithLabelValues(stage).Inc()
}

func (m *Metrics) ClausesDropped(n int64) {
	if m == nil || n == 0 {
		return
	}
	m.ClausesDroppedTotal.Add(float64(n))
}

func (m *Metrics) ScoreLookup(source, result string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.ScoreLookupsTotal.WithLabelValues(source, result).Add(float64(n))
}

func (m *Metrics) CacheHit(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.Inc()
	} else {
		m.CacheMissesTotal.Inc()
	}
}

// ObserveStage records how long a stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) DocIndexed() {
	if m == nil {
		return
	}
	m.DocsIndexedTotal.Inc()
}

func (m *Metrics) IndexFlushed(status string) {
	if m == nil {
		return
	}
	m.IndexFlushesTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) BreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}
