package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"horse.fit/storymerge/internal/dedup"
)

const namespace = "storymerge"

var _ dedup.Recorder = (*Recorder)(nil)

// Recorder exports dedup decisions and oracle calls on a private registry.
type Recorder struct {
	registry *prometheus.Registry

	decisions     *prometheus.CounterVec
	oracleCalls   *prometheus.CounterVec
	oracleLatency *prometheus.HistogramVec
	ingestItems   *prometheus.CounterVec
}

func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	r := &Recorder{
		registry: registry,
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_decisions_total",
			Help:      "Dedup decisions by mode, kind and detection signal.",
		}, []string{"mode", "kind", "signal"}),
		oracleCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_verdicts_total",
			Help:      "Semantic verification verdicts by outcome and cache hit.",
		}, []string{"outcome", "cached"}),
		oracleLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "oracle_request_seconds",
			Help:      "Latency of uncached semantic verification calls.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"outcome"}),
		ingestItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_items_total",
			Help:      "Feed items processed by the ingest service.",
		}, []string{"result"}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.decisions,
		r.oracleCalls,
		r.oracleLatency,
		r.ingestItems,
	)
	return r
}

func (r *Recorder) ObserveDecision(mode dedup.Mode, kind dedup.DecisionKind, signal dedup.Signal) {
	if r == nil {
		return
	}
	label := string(signal)
	if label == "" {
		label = "none"
	}
	r.decisions.WithLabelValues(string(mode), string(kind), label).Inc()
}

func (r *Recorder) ObserveOracle(outcome dedup.Outcome, cached bool, elapsed time.Duration) {
	if r == nil {
		return
	}
	cachedLabel := "false"
	if cached {
		cachedLabel = "true"
	}
	r.oracleCalls.WithLabelValues(string(outcome), cachedLabel).Inc()
	if !cached {
		r.oracleLatency.WithLabelValues(string(outcome)).Observe(elapsed.Seconds())
	}
}

// ObserveIngestItem counts one feed item by result: stored, invalid or failed.
func (r *Recorder) ObserveIngestItem(result string) {
	if r == nil {
		return
	}
	r.ingestItems.WithLabelValues(result).Inc()
}

func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
