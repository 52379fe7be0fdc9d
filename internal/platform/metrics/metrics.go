// Package metrics exposes the pipeline's Prometheus collectors. The job is a
// batch process, so collectors live on a private registry that is either
// scraped through the operator server or pushed to a Pushgateway at the end of
// a run.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "curation_etl"

// Anomaly kinds counted instead of raised.
const (
	AnomalyMissingModule    = "response_missing_module"
	AnomalyMissingQuestion  = "answer_missing_question"
	AnomalyMissingValue     = "answer_missing_value"
	AnomalyMeasurementCode  = "measurement_missing_code"
	AnomalyMeasurementValue = "measurement_missing_value"
	AnomalyUnmappedConcept  = "unmapped_concept"
	AnomalyInvertedInterval = "inverted_interval"
)

type Metrics struct {
	registry *prometheus.Registry

	Runs          *prometheus.CounterVec
	RowsWritten   *prometheus.CounterVec
	Anomalies     *prometheus.CounterVec
	Chunks        *prometheus.CounterVec
	PhaseDuration *prometheus.HistogramVec
	Participants  prometheus.Gauge
	LastSuccess   prometheus.Gauge
}

// New registers the pipeline collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by final status.",
		}, []string{"status"}),
		RowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_written_total",
			Help:      "Rows written per target table.",
		}, []string{"table"}),
		Anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_total",
			Help:      "Rows skipped because of data-integrity anomalies.",
		}, []string{"kind"}),
		Chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_total",
			Help:      "Participant chunks processed per phase.",
		}, []string{"phase"}),
		PhaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Wall-clock duration of each pipeline phase.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 14),
		}, []string{"phase"}),
		Participants: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "participants_selected",
			Help:      "Participants selected by the most recent run.",
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the most recent completed run.",
		}),
	}
	reg.MustRegister(m.Runs, m.RowsWritten, m.Anomalies, m.Chunks, m.PhaseDuration, m.Participants, m.LastSuccess)
	reg.MustRegister(collectors.NewGoCollector())
	return m
}

// Registry returns the registry the collectors are attached to.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// TimePhase starts a timer for phase; call the returned func when it ends.
func (m *Metrics) TimePhase(phase string) func() {
	start := time.Now()
	return func() {
		m.PhaseDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds())
	}
}

// AddAnomalies records n anomalies of kind. Zero counts are ignored so the
// label set stays small.
func (m *Metrics) AddAnomalies(kind string, n int) {
	if n <= 0 {
		return
	}
	m.Anomalies.WithLabelValues(kind).Add(float64(n))
}

// AddRows records rows written to table.
func (m *Metrics) AddRows(table string, n int) {
	if n <= 0 {
		return
	}
	m.RowsWritten.WithLabelValues(table).Add(float64(n))
}

// RunFinished records the final status of a run.
func (m *Metrics) RunFinished(ok bool, at time.Time) {
	if ok {
		m.Runs.WithLabelValues("completed").Inc()
		m.LastSuccess.Set(float64(at.Unix()))
		return
	}
	m.Runs.WithLabelValues("failed").Inc()
}

// Push sends the registry to a Prometheus Pushgateway. An empty url is a no-op.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
