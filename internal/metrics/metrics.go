// Package metrics defines the Prometheus collectors used by the ingestion
// pipeline and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "estate_pulse"

// Metrics holds all Prometheus collectors for the pipeline.
type Metrics struct {
	FetchesTotal        *prometheus.CounterVec
	FetchRetriesTotal   *prometheus.CounterVec
	DocumentsCollected  prometheus.Counter
	DuplicatesDropped   prometheus.Counter
	ExtractionsTotal    *prometheus.CounterVec
	ExtractionCacheHits prometheus.Counter
	ExtractionCacheMiss prometheus.Counter
	ArticlesTotal       *prometheus.CounterVec
	ChunksIndexedTotal  prometheus.Counter
	AlertsTotal         *prometheus.CounterVec
	BatchDuration       prometheus.Histogram
	ScheduledRunsTotal  *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is what tests and one-shot commands want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetches_total",
				Help:      "Article fetches by outcome (ok, dropped, failed, too_short).",
			},
			[]string{"outcome"},
		),
		FetchRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_retries_total",
				Help:      "Fetch retries by reason (rate_limited, transient).",
			},
			[]string{"reason"},
		),
		DocumentsCollected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "documents_collected_total",
				Help:      "Documents returned by the collector after dedup.",
			},
		),
		DuplicatesDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batch_duplicates_dropped_total",
				Help:      "Documents dropped because another document in the batch had the same fingerprint.",
			},
		),
		ExtractionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "extractions_total",
				Help:      "Sentiment extractions by outcome (ok, cached, fallback).",
			},
			[]string{"outcome"},
		),
		ExtractionCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "extraction_cache_hits_total",
				Help:      "Extraction cache hits.",
			},
		),
		ExtractionCacheMiss: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "extraction_cache_misses_total",
				Help:      "Extraction cache misses.",
			},
		),
		ArticlesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "articles_total",
				Help:      "Articles handled by the orchestrator by outcome (processed, duplicate, failed).",
			},
			[]string{"outcome"},
		),
		ChunksIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chunks_indexed_total",
				Help:      "Chunks added to the vector index.",
			},
		),
		AlertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_total",
				Help:      "Sentiment shift alerts raised by severity.",
			},
			[]string{"severity"},
		),
		BatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_duration_seconds",
				Help:      "Duration of orchestrator batches in seconds.",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
			},
		),
		ScheduledRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scheduled_runs_total",
				Help:      "Periodic trigger runs by status (ok, error, skipped).",
			},
			[]string{"status"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.FetchesTotal,
			m.FetchRetriesTotal,
			m.DocumentsCollected,
			m.DuplicatesDropped,
			m.ExtractionsTotal,
			m.ExtractionCacheHits,
			m.ExtractionCacheMiss,
			m.ArticlesTotal,
			m.ChunksIndexedTotal,
			m.AlertsTotal,
			m.BatchDuration,
			m.ScheduledRunsTotal,
		)
	}

	return m
}

// OrNew returns m, or a fresh unregistered set when m is nil.
func OrNew(m *Metrics) *Metrics {
	if m != nil {
		return m
	}
	return New(nil)
}

// Handler returns the Prometheus scrape HTTP handler for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
