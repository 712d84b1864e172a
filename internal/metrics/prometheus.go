// Package metrics provides Prometheus-based metrics recording for the
// intake pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/artempl88/sozdaibota-sub000/internal/llm"
	"github.com/artempl88/sozdaibota-sub000/internal/models"
)

// PrometheusRecorder records reasoning calls, oracle answers, estimate
// tiers and approval transitions.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	llmCallsTotal     *prometheus.CounterVec
	llmCallDuration   *prometheus.HistogramVec
	llmAttempts       *prometheus.HistogramVec
	oracleTotal       *prometheus.CounterVec
	estimatesTotal    *prometheus.CounterVec
	estimateDuration  *prometheus.HistogramVec
	transitionsTotal  *prometheus.CounterVec
	notificationsSent *prometheus.CounterVec
}

// NewPrometheusRecorder creates a recorder backed by its own registry
func NewPrometheusRecorder() *PrometheusRecorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &PrometheusRecorder{
		registry: reg,
		llmCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_calls_total",
				Help: "Reasoning-service calls by call kind, label and outcome",
			},
			[]string{"kind", "label", "outcome"},
		),
		llmCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_call_duration_seconds",
				Help:    "Duration of reasoning-service calls including retries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		llmAttempts: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_call_attempts",
				Help:    "Attempts made per reasoning-service call",
				Buckets: []float64{1, 2, 3, 4, 5, 8},
			},
			[]string{"kind"},
		),
		oracleTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oracle_answers_total",
				Help: "Oracle answers by question and result",
			},
			[]string{"question", "result"},
		),
		estimatesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "estimates_generated_total",
				Help: "Estimates produced by fallback tier",
			},
			[]string{"tier"},
		),
		estimateDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "estimate_build_duration_seconds",
				Help:    "Time spent building an estimate",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
			},
			[]string{"tier"},
		),
		transitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "approval_transitions_total",
				Help: "Approval workflow state transitions",
			},
			[]string{"from", "to"},
		),
		notificationsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reviewer_notifications_total",
				Help: "Reviewer notifications by result",
			},
			[]string{"result"},
		),
	}
}

// ObserveCall implements llm.Recorder
func (p *PrometheusRecorder) ObserveCall(kind llm.CallKind, label, outcome string, attempts int, elapsed time.Duration) {
	p.llmCallsTotal.WithLabelValues(string(kind), label, outcome).Inc()
	p.llmCallDuration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
	if attempts > 0 {
		p.llmAttempts.WithLabelValues(string(kind)).Observe(float64(attempts))
	}
}

// ObserveOracle records one oracle decision; failed answers count as "error"
func (p *PrometheusRecorder) ObserveOracle(question string, affirmative bool, failed bool) {
	result := "negative"
	switch {
	case failed:
		result = "error"
	case affirmative:
		result = "affirmative"
	}
	p.oracleTotal.WithLabelValues(question, result).Inc()
}

// ObserveEstimate records which tier produced an estimate
func (p *PrometheusRecorder) ObserveEstimate(tier models.GeneratedBy, elapsed time.Duration) {
	p.estimatesTotal.WithLabelValues(string(tier)).Inc()
	p.estimateDuration.WithLabelValues(string(tier)).Observe(elapsed.Seconds())
}

// ObserveTransition records an approval state change
func (p *PrometheusRecorder) ObserveTransition(from, to models.ReviewStatus) {
	p.transitionsTotal.WithLabelValues(string(from), string(to)).Inc()
}

// ObserveNotification records a reviewer notification attempt
func (p *PrometheusRecorder) ObserveNotification(ok bool) {
	result := "sent"
	if !ok {
		result = "failed"
	}
	p.notificationsSent.WithLabelValues(result).Inc()
}

// Handler exposes the registry in the Prometheus text format
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (p *PrometheusRecorder) Registry() *prometheus.Registry {
	return p.registry
}
