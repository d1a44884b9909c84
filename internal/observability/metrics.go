package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zvirb/comandind-sub004/internal/domain"
)

// Metrics holds all Prometheus metric instruments. Recording methods are
// no-ops on a nil receiver so components can run without metrics.
type Metrics struct {
	DependencyHealthScore   *prometheus.GaugeVec
	HealthChecksTotal       *prometheus.CounterVec
	HealthChecksSkipped     *prometheus.CounterVec
	HealthCheckDuration     prometheus.Histogram
	BreakerState            *prometheus.GaugeVec
	BreakerTransitionsTotal *prometheus.CounterVec
	CascadeRiskScore        *prometheus.GaugeVec
	CascadeAnalysesTotal    *prometheus.CounterVec
	PreventionActionsTotal  *prometheus.CounterVec
	SnapshotsTotal          *prometheus.CounterVec
	RollbackTotal           *prometheus.CounterVec
	RollbackDuration        prometheus.Histogram
	ActiveRollbacks         prometheus.Gauge
	RollbackQueueLength     prometheus.Gauge
	HTTPRequestsTotal       *prometheus.CounterVec
	HTTPRequestDuration     *prometheus.HistogramVec
}

// NewMetrics registers and returns all metrics on the default registry
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers all metrics on reg
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		DependencyHealthScore: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "depmon_dependency_health_score",
			Help: "Latest health score observed for a dependency edge",
		}, []string{"service", "dependency"}),

		HealthChecksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "depmon_health_checks_total",
			Help: "Dependency health checks by resulting status",
		}, []string{"status"}),

		HealthChecksSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "depmon_health_checks_skipped_total",
			Help: "Health checks skipped because the edge breaker was open",
		}, []string{"service", "dependency"}),

		HealthCheckDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "depmon_health_check_cycle_seconds",
			Help:    "Duration of a full health check cycle",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
		}),

		BreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "depmon_circuit_breaker_state",
			Help: "Circuit breaker state per edge (0=closed, 1=half_open, 2=open)",
		}, []string{"service", "dependency"}),

		BreakerTransitionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "depmon_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		}, []string{"from", "to"}),

		CascadeRiskScore: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "depmon_cascade_risk_score",
			Help: "Most recent cascade risk score per root service",
		}, []string{"root_service"}),

		CascadeAnalysesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "depmon_cascade_analyses_total",
			Help: "Cascade risk analyses by impact level",
		}, []string{"impact_level"}),

		PreventionActionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "depmon_prevention_actions_total",
			Help: "Prevention actions recorded by trigger and recovery status",
		}, []string{"trigger", "recovery_status"}),

		SnapshotsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "depmon_snapshots_total",
			Help: "System snapshots captured",
		}, []string{"rollback_safe"}),

		RollbackTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "depmon_rollback_total",
			Help: "Rollback operations by trigger and final status",
		}, []string{"trigger", "status"}),

		RollbackDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "depmon_rollback_duration_seconds",
			Help:    "Duration of executed rollback operations",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
		}),

		ActiveRollbacks: f.NewGauge(prometheus.GaugeOpts{
			Name: "depmon_active_rollbacks",
			Help: "Services with a pending or running rollback",
		}),

		RollbackQueueLength: f.NewGauge(prometheus.GaugeOpts{
			Name: "depmon_rollback_queue_length",
			Help: "Rollback operations waiting for execution",
		}),

		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "depmon_http_requests_total",
			Help: "Total HTTP requests",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "depmon_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 5.0},
		}, []string{"method", "path"}),
	}
}

// RecordHealthCheck records the outcome of one edge check
func (m *Metrics) RecordHealthCheck(check domain.DependencyHealthCheck) {
	if m == nil {
		return
	}
	m.DependencyHealthScore.WithLabelValues(check.Service, check.Dependency).Set(check.HealthScore)
	m.HealthChecksTotal.WithLabelValues(string(check.Status)).Inc()
}

// RecordSkippedCheck counts a check skipped by an open breaker
func (m *Metrics) RecordSkippedCheck(key domain.EdgeKey) {
	if m == nil {
		return
	}
	m.HealthChecksSkipped.WithLabelValues(key.Service, key.Dependency).Inc()
}

// RecordCheckCycle observes the duration of a check cycle
func (m *Metrics) RecordCheckCycle(seconds float64) {
	if m == nil {
		return
	}
	m.HealthCheckDuration.Observe(seconds)
}

// BreakerStateValue maps a breaker state onto the gauge encoding
func BreakerStateValue(s domain.BreakerState) float64 {
	switch s {
	case domain.BreakerHalfOpen:
		return 1
	case domain.BreakerOpen:
		return 2
	}
	return 0
}

// RecordBreakerTransition updates the state gauge and counts the transition
func (m *Metrics) RecordBreakerTransition(key domain.EdgeKey, from, to domain.BreakerState) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(key.Service, key.Dependency).Set(BreakerStateValue(to))
	m.BreakerTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
}

// RecordCascadeRisk records a completed cascade analysis
func (m *Metrics) RecordCascadeRisk(risk domain.CascadeRisk) {
	if m == nil {
		return
	}
	m.CascadeRiskScore.WithLabelValues(risk.RootService).Set(risk.RiskScore)
	m.CascadeAnalysesTotal.WithLabelValues(string(risk.ImpactLevel)).Inc()
}

// RecordPrevention counts a prevention action
func (m *Metrics) RecordPrevention(trigger domain.PreventionTrigger, recoveryStatus string) {
	if m == nil {
		return
	}
	m.PreventionActionsTotal.WithLabelValues(string(trigger), recoveryStatus).Inc()
}

// RecordSnapshot counts a captured snapshot
func (m *Metrics) RecordSnapshot(safe bool) {
	if m == nil {
		return
	}
	label := "false"
	if safe {
		label = "true"
	}
	m.SnapshotsTotal.WithLabelValues(label).Inc()
}

// RecordRollback records a finished rollback operation
func (m *Metrics) RecordRollback(trigger domain.RollbackTrigger, status domain.RollbackStatus, seconds float64) {
	if m == nil {
		return
	}
	m.RollbackTotal.WithLabelValues(string(trigger), string(status)).Inc()
	if seconds > 0 {
		m.RollbackDuration.Observe(seconds)
	}
}

// SetRollbackBacklog updates the active and queued rollback gauges
func (m *Metrics) SetRollbackBacklog(active, queued int) {
	if m == nil {
		return
	}
	m.ActiveRollbacks.Set(float64(active))
	m.RollbackQueueLength.Set(float64(queued))
}
