package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the coordinator. A nil *Metrics is
// valid and records nothing, so tests can run without a registry.
type Metrics struct {
	registry *prometheus.Registry

	UnitsOpenedTotal    *prometheus.CounterVec
	UnitsFinalizedTotal *prometheus.CounterVec
	RecoveriesTotal     *prometheus.CounterVec
	CommandsTotal       *prometheus.CounterVec
	PersistenceFailures prometheus.Counter

	SessionsActive  prometheus.Gauge
	SessionDuration prometheus.Histogram
}

// New creates a Metrics instance with all metrics registered on a private
// registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "interp"
	}

	registry := prometheus.NewRegistry()

	unitsOpened := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_opened_total",
			Help:      "Total translation units opened",
		},
		[]string{"kind"},
	)

	unitsFinalized := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_finalized_total",
			Help:      "Total translation units finalized",
		},
		[]string{"reason"},
	)

	recoveries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recoveries_total",
			Help:      "Total stalled units force-finalized by timeout layer",
		},
		[]string{"layer"},
	)

	commands := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Total classified voice commands",
		},
		[]string{"kind"},
	)

	persistenceFailures := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_failures_total",
			Help:      "Total best-effort persistence calls that failed",
		},
	)

	sessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of active interpretation sessions",
		},
	)

	sessionDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Interpretation session duration in seconds",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)

	registry.MustRegister(
		unitsOpened,
		unitsFinalized,
		recoveries,
		commands,
		persistenceFailures,
		sessionsActive,
		sessionDuration,
	)

	return &Metrics{
		registry:            registry,
		UnitsOpenedTotal:    unitsOpened,
		UnitsFinalizedTotal: unitsFinalized,
		RecoveriesTotal:     recoveries,
		CommandsTotal:       commands,
		PersistenceFailures: persistenceFailures,
		SessionsActive:      sessionsActive,
		SessionDuration:     sessionDuration,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordUnitOpened records a newly opened translation unit.
func (m *Metrics) RecordUnitOpened(kind string) {
	if m == nil {
		return
	}
	m.UnitsOpenedTotal.WithLabelValues(kind).Inc()
}

// RecordUnitFinalized records a finalized unit with its completion reason.
func (m *Metrics) RecordUnitFinalized(reason string) {
	if m == nil {
		return
	}
	m.UnitsFinalizedTotal.WithLabelValues(reason).Inc()
}

// RecordRecovery records a timeout-layer escalation.
func (m *Metrics) RecordRecovery(layer string) {
	if m == nil {
		return
	}
	m.RecoveriesTotal.WithLabelValues(layer).Inc()
}

// RecordCommand records a classified voice command.
func (m *Metrics) RecordCommand(kind string) {
	if m == nil {
		return
	}
	m.CommandsTotal.WithLabelValues(kind).Inc()
}

// RecordPersistenceFailure records a failed best-effort persistence call.
func (m *Metrics) RecordPersistenceFailure() {
	if m == nil {
		return
	}
	m.PersistenceFailures.Inc()
}

// RecordSessionStart records a session becoming active.
func (m *Metrics) RecordSessionStart() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session ending.
func (m *Metrics) RecordSessionEnd(duration time.Duration) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(duration.Seconds())
}
