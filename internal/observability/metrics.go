package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the decision engine. A nil
// receiver is valid everywhere so components can run unmetered.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	accessChecks    *prometheus.CounterVec
	sessionsCreated prometheus.Counter
	activeRoles     prometheus.Histogram
	sessionWarnings *prometheus.CounterVec
	graphMutations  *prometheus.CounterVec
	graphRoles      prometheus.Gauge
	sessionsSwept   prometheus.Counter
}

// NewMetrics initializes the registry and the engine metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	checks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fortress_access_checks_total",
		Help: "Permission-check decisions by outcome.",
	}, []string{"decision"})
	created := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fortress_sessions_created_total",
		Help: "Sessions materialized by the session manager.",
	})
	roles := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fortress_session_active_roles",
		Help:    "Activated-role count per created session.",
		Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
	})
	warnings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fortress_session_warnings_total",
		Help: "Warnings recorded during session creation or activation.",
	}, []string{"kind"})
	mutations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fortress_graph_mutations_total",
		Help: "Accepted role-hierarchy mutations by operation.",
	}, []string{"op"})
	graphRoles := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fortress_graph_roles",
		Help: "Roles currently participating in the inheritance hierarchy.",
	})
	swept := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fortress_sessions_swept_total",
		Help: "Idle sessions evicted by the sweep job.",
	})
	registry.MustRegister(checks, created, roles, warnings, mutations, graphRoles, swept)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		accessChecks:    checks,
		sessionsCreated: created,
		activeRoles:     roles,
		sessionWarnings: warnings,
		graphMutations:  mutations,
		graphRoles:      graphRoles,
		sessionsSwept:   swept,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registerer exposes the registry for additional metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// AccessCheck records one permission-check decision.
func (m *Metrics) AccessCheck(allowed bool) {
	if m == nil {
		return
	}
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	m.accessChecks.WithLabelValues(decision).Inc()
}

// SessionCreated records a materialized session and its activated-role
// count.
func (m *Metrics) SessionCreated(activeRoles int) {
	if m == nil {
		return
	}
	m.sessionsCreated.Inc()
	m.activeRoles.Observe(float64(activeRoles))
}

// SessionWarning records a non-fatal activation warning by kind.
func (m *Metrics) SessionWarning(kind string) {
	if m == nil {
		return
	}
	m.sessionWarnings.WithLabelValues(kind).Inc()
}

// GraphMutation records an accepted hierarchy mutation.
func (m *Metrics) GraphMutation(op string) {
	if m == nil {
		return
	}
	m.graphMutations.WithLabelValues(op).Inc()
}

// GraphRoles records the current hierarchy population.
func (m *Metrics) GraphRoles(n int) {
	if m == nil {
		return
	}
	m.graphRoles.Set(float64(n))
}

// SessionSwept records one eviction by the sweep job.
func (m *Metrics) SessionSwept() {
	if m == nil {
		return
	}
	m.sessionsSwept.Inc()
}
