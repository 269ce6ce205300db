// Package metrics exposes Prometheus counters for the login-and-consent flow.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the flow's collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Flow transitions by resulting state
	Transitions *prometheus.CounterVec

	// Credential checks by outcome
	AuthOutcomes *prometheus.CounterVec

	// Outbound calls by target and result
	UpstreamLatency *prometheus.HistogramVec
}

// New creates a Metrics instance registered on its own registry, together
// with the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "login_consent_flow_transitions_total",
			Help: "Authorization flow transitions by route and resulting state",
		}, []string{"route", "state"}),

		AuthOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "login_consent_auth_outcomes_total",
			Help: "Credential checks by outcome",
		}, []string{"outcome"}), // outcome: "authenticated", "unauthenticated", "user_not_found"

		UpstreamLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "login_consent_upstream_duration_seconds",
			Help:    "Duration of calls to the session directory and code issuer",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"target", "result"}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// IncTransition records a flow transition.
func (m *Metrics) IncTransition(route, state string) {
	if m != nil {
		m.Transitions.WithLabelValues(route, state).Inc()
	}
}

// IncAuthOutcome records a credential check outcome.
func (m *Metrics) IncAuthOutcome(outcome string) {
	if m != nil {
		m.AuthOutcomes.WithLabelValues(outcome).Inc()
	}
}

// ObserveUpstream records the duration of an outbound call.
func (m *Metrics) ObserveUpstream(target, result string, d time.Duration) {
	if m != nil {
		m.UpstreamLatency.WithLabelValues(target, result).Observe(d.Seconds())
	}
}
