// Package metrics exposes Prometheus instrumentation for policy
// evaluation and handler execution.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome label values for decision counters.
const (
	OutcomeAllow   = "allow"
	OutcomeDeny    = "deny"
	OutcomePending = "pending"
	OutcomeError   = "error"
)

// Metrics bundles the collectors for one enforcement instance.
type Metrics struct {
	registry *prometheus.Registry

	decisions  *prometheus.CounterVec
	evaluation prometheus.Histogram
	handler    prometheus.Histogram
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "policykit_decisions_total",
			Help: "Policy chain decisions by deciding policy and outcome.",
		}, []string{"policy", "outcome"}),
		evaluation: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "policykit_evaluation_seconds",
			Help:    "Wall time of a full policy chain evaluation.",
			Buckets: prometheus.DefBuckets,
		}),
		handler: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "policykit_handler_seconds",
			Help:    "Wall time of handler execution.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	m.registry.MustRegister(m.decisions, m.evaluation, m.handler)
	return m
}

// Registry returns the underlying registry for serving via promhttp.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordDecision counts a chain decision. policy is the deciding policy
// name ("" for an all-pass chain is recorded as "chain").
func (m *Metrics) RecordDecision(policy, outcome string) {
	if m == nil {
		return
	}
	if policy == "" {
		policy = "chain"
	}
	m.decisions.WithLabelValues(policy, outcome).Inc()
}

// ObserveEvaluation records the duration of a chain evaluation.
func (m *Metrics) ObserveEvaluation(d time.Duration) {
	if m == nil {
		return
	}
	m.evaluation.Observe(d.Seconds())
}

// ObserveHandler records the duration of a handler execution.
func (m *Metrics) ObserveHandler(d time.Duration) {
	if m == nil {
		return
	}
	m.handler.Observe(d.Seconds())
}
