package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"keeprates/internal/rates"
)

// Admission decisions.
const (
	AdmissionAllowed  = "allowed"
	AdmissionDenied   = "denied"
	AdmissionFailOpen = "fail_open"
)

// Metrics holds the scraper's Prometheus collectors. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	registry *prometheus.Registry

	attemptsTotal      *prometheus.CounterVec
	resultsTotal       *prometheus.CounterVec
	extractionDuration *prometheus.HistogramVec
	batchesTotal       *prometheus.CounterVec
	batchDuration      prometheus.Histogram
	lastSuccess        *prometheus.GaugeVec
	persistenceErrors  *prometheus.CounterVec
	admissionsTotal    *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		attemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keeprates_extraction_attempts_total",
				Help: "Individual extraction attempts by source and outcome",
			},
			[]string{"source", "outcome", "error_kind"},
		),

		resultsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keeprates_extraction_results_total",
				Help: "Retried extraction results by source and outcome",
			},
			[]string{"source", "outcome"},
		),

		extractionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "keeprates_extraction_duration_seconds",
				Help:    "Wall time of a retried extraction including backoff",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s .. 64s
			},
			[]string{"source", "outcome"},
		),

		batchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keeprates_batches_total",
				Help: "Scrape-all batches by status",
			},
			[]string{"status"},
		),

		batchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "keeprates_batch_duration_seconds",
				Help:    "Wall time of a scrape-all batch",
				Buckets: prometheus.ExponentialBuckets(1, 2, 8),
			},
		),

		lastSuccess: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "keeprates_last_success_timestamp_seconds",
				Help: "Unix time of the last valid sample per source",
			},
			[]string{"source"},
		),

		persistenceErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keeprates_persistence_errors_total",
				Help: "Storage writes that failed",
			},
			[]string{"op"},
		),

		admissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keeprates_admission_decisions_total",
				Help: "Admission gate decisions",
			},
			[]string{"decision"},
		),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveAttempt records a single extraction attempt.
func (m *Metrics) ObserveAttempt(sourceID string, err error) {
	if m == nil {
		return
	}
	m.attemptsTotal.WithLabelValues(sourceID, outcome(err == nil), rates.Kind(err)).Inc()
}

// RecordResult records a retried extraction result.
func (m *Metrics) RecordResult(r rates.AttemptResult) {
	if m == nil {
		return
	}
	label := outcome(r.Succeeded)
	m.resultsTotal.WithLabelValues(r.SourceID, label).Inc()
	m.extractionDuration.WithLabelValues(r.SourceID, label).Observe(r.Elapsed.Seconds())
	if r.Succeeded && r.Sample != nil {
		m.lastSuccess.WithLabelValues(r.SourceID).Set(float64(r.Sample.ObservedAt.Unix()))
	}
}

// RecordBatch records a completed scrape-all run.
func (m *Metrics) RecordBatch(b rates.BatchResult) {
	if m == nil {
		return
	}
	m.batchesTotal.WithLabelValues(b.Status()).Inc()
	m.batchDuration.Observe(b.Elapsed.Seconds())
}

// RecordPersistenceError counts a failed storage write.
func (m *Metrics) RecordPersistenceError(op string) {
	if m == nil {
		return
	}
	m.persistenceErrors.WithLabelValues(op).Inc()
}

// RecordAdmission counts an admission gate decision.
func (m *Metrics) RecordAdmission(decision string) {
	if m == nil {
		return
	}
	m.admissionsTotal.WithLabelValues(decision).Inc()
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
