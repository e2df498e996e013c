// Package observability turns core events into structured log lines and
// Prometheus counters.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pushagent"

// Metrics is the set of collectors exported by the agent. Each instance owns
// its registry so tests can construct as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	Deliveries      *prometheus.CounterVec
	Completions     *prometheus.CounterVec
	HandleSeconds   *prometheus.HistogramVec
	Malformed       *prometheus.CounterVec
	NoHandler       *prometheus.CounterVec
	Timeouts        *prometheus.CounterVec
	Strays          *prometheus.CounterVec
	TokenEvents     *prometheus.CounterVec
	BackendOps      *prometheus.CounterVec
	DuplicatesTotal prometheus.Counter
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "deliveries_total",
			Help: "Push payloads received, by channel.",
		}, []string{"channel"}),
		Completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "completions_total",
			Help: "Completion handles fired, by channel and outcome.",
		}, []string{"channel", "outcome"}),
		HandleSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "handle_seconds",
			Help:    "Time from dispatch to completion.",
			Buckets: []float64{.005, .025, .1, .5, 1, 2.5, 5, 10, 30},
		}, []string{"channel"}),
		Malformed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "malformed_payloads_total",
			Help: "Payloads rejected by the classifier.",
		}, []string{"channel"}),
		NoHandler: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "no_handler_total",
			Help: "Events with no registered handler.",
		}, []string{"channel", "category"}),
		Timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "timeouts_total",
			Help: "Events whose handler missed the deadline.",
		}, []string{"channel"}),
		Strays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "stray_completions_total",
			Help: "Late or repeated handler completions that were ignored.",
		}, []string{"channel"}),
		TokenEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "token_events_total",
			Help: "Token lifecycle events, by channel and kind.",
		}, []string{"channel", "kind"}),
		BackendOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "backend_ops_total",
			Help: "Token operations applied to the backend store, by op and result.",
		}, []string{"op", "result"}),
		DuplicatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "duplicate_deliveries_total",
			Help: "Deliveries dropped because their id was already seen.",
		}),
	}
	reg.MustRegister(
		m.Deliveries, m.Completions, m.HandleSeconds, m.Malformed, m.NoHandler,
		m.Timeouts, m.Strays, m.TokenEvents, m.BackendOps, m.DuplicatesTotal,
	)
	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
