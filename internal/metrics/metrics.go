package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "redflag"

// Metrics holds the engine's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	AnalysesSubmitted prometheus.Counter
	Unlocks           *prometheus.CounterVec
	CreditsGranted    *prometheus.CounterVec
	ScoreGuards       *prometheus.CounterVec
	RecomputeRuns     *prometheus.CounterVec
	RecomputeDuration prometheus.Histogram
	WeightsVersion    prometheus.Gauge
	QuestionFailures  prometheus.Counter
	AuditViolations   prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		AnalysesSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_submitted_total",
			Help:      "Answer sets scored and persisted.",
		}),
		Unlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unlocks_total",
			Help:      "Unlock attempts by outcome.",
		}, []string{"outcome"}),
		CreditsGranted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credits_granted_total",
			Help:      "Credits added or removed through grants, by ledger type.",
		}, []string{"type"}),
		ScoreGuards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "score_guards_total",
			Help:      "Defensive fallbacks applied while scoring.",
		}, []string{"reason"}),
		RecomputeRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "weight_recomputes_total",
			Help:      "Weight recomputations by trigger and status.",
		}, []string{"trigger", "status"}),
		RecomputeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "weight_recompute_duration_seconds",
			Help:      "Wall time of a full weight recomputation.",
			Buckets:   prometheus.DefBuckets,
		}),
		WeightsVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "weights_version",
			Help:      "Version of the published weight snapshot.",
		}),
		QuestionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "weight_question_failures_total",
			Help:      "Questions that kept their previous weight because recomputation failed.",
		}),
		AuditViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_audit_violations_total",
			Help:      "Ledger/balance mismatches found by the auditor.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.AnalysesSubmitted,
		m.Unlocks,
		m.CreditsGranted,
		m.ScoreGuards,
		m.RecomputeRuns,
		m.RecomputeDuration,
		m.WeightsVersion,
		m.QuestionFailures,
		m.AuditViolations,
	)
	return m
}

// Guard is the scoring guard hook.
func (m *Metrics) Guard(reason string) {
	m.ScoreGuards.WithLabelValues(reason).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
