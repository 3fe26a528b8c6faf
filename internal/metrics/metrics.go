// Package metrics exposes research activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/marketmind/internal/model"
	"github.com/sells-group/marketmind/internal/resilience"
)

const namespace = "marketmind"

// Metrics holds the research collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	fetches       *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	lateResults   *prometheus.CounterVec
	records       *prometheus.CounterVec
	completeness  prometheus.Histogram
}

// New registers the research collectors plus Go runtime and process
// collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "source_results_total",
				Help:      "Collaborator results by source and status.",
			},
			[]string{"source", "status"},
		),
		fetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "source_fetch_duration_seconds",
				Help:      "Time spent fetching one source, retries included.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"source"},
		),
		lateResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "late_results_total",
				Help:      "Results that arrived after their record was finalized.",
			},
			[]string{"source"},
		),
		records: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_finalized_total",
				Help:      "Finalized records by outcome: complete, incomplete or deadline_exceeded.",
			},
			[]string{"outcome"},
		),
		completeness: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "record_completeness_ratio",
			Help:      "Completeness of finalized records.",
			Buckets:   []float64{0, 0.2, 0.4, 0.6, 0.8, 1},
		}),
	}

	m.registry.MustRegister(
		m.fetches,
		m.fetchDuration,
		m.lateResults,
		m.records,
		m.completeness,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveFetch records one collaborator outcome.
func (m *Metrics) ObserveFetch(src model.Source, status model.Status, d time.Duration) {
	m.fetches.WithLabelValues(string(src), string(status)).Inc()
	m.fetchDuration.WithLabelValues(string(src)).Observe(d.Seconds())
}

// ObserveLate counts a result discarded because its record was already frozen.
func (m *Metrics) ObserveLate(src model.Source) {
	m.lateResults.WithLabelValues(string(src)).Inc()
}

// ObserveRecord records a finalized record.
func (m *Metrics) ObserveRecord(rec *model.CompanyRecord) {
	outcome := "complete"
	switch {
	case rec.DeadlineExceeded:
		outcome = "deadline_exceeded"
	case rec.Completeness < 1:
		outcome = "incomplete"
	}
	m.records.WithLabelValues(outcome).Inc()
	m.completeness.Observe(rec.Completeness)
}

// BreakerStates reports the circuit state of each source.
type BreakerStates interface {
	States() map[model.Source]resilience.State
}

// WatchBreakers exports the current circuit state of every source seen by b.
func (m *Metrics) WatchBreakers(b BreakerStates) {
	m.registry.MustRegister(&breakerCollector{
		states: b,
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "circuit_state"),
			"Circuit breaker state per source (0=closed, 1=open, 2=half-open).",
			[]string{"source"}, nil,
		),
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

type breakerCollector struct {
	states BreakerStates
	desc   *prometheus.Desc
}

func (c *breakerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *breakerCollector) Collect(ch chan<- prometheus.Metric) {
	for src, st := range c.states.States() {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(st), string(src))
	}
}
