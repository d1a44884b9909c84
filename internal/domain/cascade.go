package domain

import "time"

// ImpactLevel grades how far a failure would spread
type ImpactLevel string

const (
	ImpactLow      ImpactLevel = "low"
	ImpactMedium   ImpactLevel = "medium"
	ImpactHigh     ImpactLevel = "high"
	ImpactCritical ImpactLevel = "critical"
)

// CascadeRisk is the result of analysing one failing root service
type CascadeRisk struct {
	RootService              string      `json:"root_service"`
	RootHealth               float64     `json:"root_health"`
	AffectedServices         []string    `json:"affected_services"`
	RiskScore                float64     `json:"risk_score"`
	ImpactLevel              ImpactLevel `json:"impact_level"`
	FailurePath              []string    `json:"failure_path"`
	EstimatedDowntimeSeconds int         `json:"estimated_downtime"`
	MitigationActions        []string    `json:"mitigation_actions"`
	AnalyzedAt               time.Time   `json:"timestamp"`
}

// PreventionTrigger names what caused a prevention action
type PreventionTrigger string

const (
	PreventionBreakerOpen PreventionTrigger = "circuit_breaker_open"
	PreventionCascadeRisk PreventionTrigger = "cascade_risk"
)

// Recovery statuses recorded on prevention actions
const (
	RecoveryInitiated = "initiated"
	RecoveryFailed    = "failed"
	RecoveryResolved  = "resolved"
)

// PreventionAction records what the orchestrator did for a (service, failed dependency) pair
type PreventionAction struct {
	ID                  string            `json:"id"`
	Service             string            `json:"service"`
	FailedDependency    string            `json:"failed_dependency"`
	Trigger             PreventionTrigger `json:"trigger"`
	RiskScore           float64           `json:"risk_score,omitempty"`
	GracefulDegradation bool              `json:"graceful_degradation"`
	IsolationConsidered bool              `json:"isolation_considered"`
	Actions             []string          `json:"actions"`
	RecoveryStatus      string            `json:"recovery_status"`
	RecoveryError       string            `json:"recovery_error,omitempty"`
	RollbackRequested   bool              `json:"rollback_requested"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// Key returns the (service, failed dependency) identity of the action
func (a PreventionAction) Key() EdgeKey {
	return EdgeKey{Service: a.Service, Dependency: a.FailedDependency}
}
