// Package metrics holds the prometheus collectors of the resolver client and
// the reference resolver server.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "secret_resolver"

// Client outcome labels.
const (
	OutcomeRevealed    = "revealed"
	OutcomeDisabled    = "disabled"
	OutcomeUnknown     = "unknown_transfer"
	OutcomeUnreachable = "unreachable"
	OutcomeStatus      = "unexpected_status"
	OutcomeMalformed   = "malformed_response"
	OutcomeMismatch    = "secret_mismatch"
	OutcomeDispatch    = "dispatch_failed"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	clientAttempts  *prometheus.CounterVec
	clientDuration  prometheus.Histogram
	serverResponses *prometheus.CounterVec
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		clientAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "attempts_total",
			Help:      "Secret resolution attempts by outcome.",
		}, []string{"outcome"}),
		clientDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "request_duration_seconds",
			Help:      "Duration of resolver round trips.",
			Buckets:   prometheus.DefBuckets,
		}),
		serverResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "responses_total",
			Help:      "Reference resolver responses by HTTP status.",
		}, []string{"status"}),
	}

	m.registry.MustRegister(m.clientAttempts, m.clientDuration, m.serverResponses)
	return m
}

// ClientAttempt counts one client attempt with the given outcome.
func (m *Metrics) ClientAttempt(outcome string) {
	if m == nil {
		return
	}
	m.clientAttempts.WithLabelValues(outcome).Inc()
}

// ClientRoundTrip observes the duration of one resolver round trip.
func (m *Metrics) ClientRoundTrip(seconds float64) {
	if m == nil {
		return
	}
	m.clientDuration.Observe(seconds)
}

// ServerResponse counts one server response with the given status code.
func (m *Metrics) ServerResponse(status int) {
	if m == nil {
		return
	}
	m.serverResponses.WithLabelValues(strconv.Itoa(status)).Inc()
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry, mostly for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}
