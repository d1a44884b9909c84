package domain

import (
	"fmt"
	"time"
)

// DependencyType describes how a service relies on a dependency
type DependencyType string

const (
	DependencySync     DependencyType = "sync"
	DependencyAsync    DependencyType = "async"
	DependencyOptional DependencyType = "optional"
	DependencyCritical DependencyType = "critical"
)

// Valid reports whether the dependency type is one of the known values
func (t DependencyType) Valid() bool {
	switch t {
	case DependencySync, DependencyAsync, DependencyOptional, DependencyCritical:
		return true
	}
	return false
}

// ServiceDependency is one directed edge: Service depends on DependsOn
type ServiceDependency struct {
	Service               string         `json:"service" yaml:"service"`
	DependsOn             string         `json:"depends_on" yaml:"depends_on"`
	Type                  DependencyType `json:"dependency_type" yaml:"type"`
	Weight                float64        `json:"weight" yaml:"weight"`
	HealthThreshold       float64        `json:"health_threshold" yaml:"health_threshold"`
	CircuitBreakerEnabled bool           `json:"circuit_breaker_enabled" yaml:"circuit_breaker"`
	RetryCount            int            `json:"retry_count" yaml:"retry_count"`
	TimeoutSeconds        int            `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// Key returns the edge identity
func (d ServiceDependency) Key() EdgeKey {
	return EdgeKey{Service: d.Service, Dependency: d.DependsOn}
}

// Timeout returns the per-check timeout as a duration
func (d ServiceDependency) Timeout() time.Duration {
	return time.Duration(d.TimeoutSeconds) * time.Second
}

// EdgeKey identifies a (service, dependency) pair
type EdgeKey struct {
	Service    string `json:"service"`
	Dependency string `json:"dependency"`
}

func (k EdgeKey) String() string {
	return fmt.Sprintf("%s->%s", k.Service, k.Dependency)
}

// DependencyStatus classifies the health of a dependency edge
type DependencyStatus string

const (
	StatusHealthy     DependencyStatus = "healthy"
	StatusDegraded    DependencyStatus = "degraded"
	StatusFailing     DependencyStatus = "failing"
	StatusCritical    DependencyStatus = "critical"
	StatusUnavailable DependencyStatus = "unavailable"
)

// IsFailure reports whether the status counts against the edge's circuit breaker
func (s DependencyStatus) IsFailure() bool {
	return s == StatusFailing || s == StatusCritical || s == StatusUnavailable
}

// TriggersCascadeAnalysis reports whether the status warrants an immediate cascade analysis
func (s DependencyStatus) TriggersCascadeAnalysis() bool {
	return s == StatusCritical || s == StatusUnavailable
}

// DependencyHealthCheck is the latest observation for one edge
type DependencyHealthCheck struct {
	Service        string           `json:"service"`
	Dependency     string           `json:"dependency"`
	Status         DependencyStatus `json:"status"`
	ResponseTimeMS float64          `json:"response_time_ms"`
	HealthScore    float64          `json:"health_score"`
	ErrorMessage   string           `json:"error_message,omitempty"`
	CheckedAt      time.Time        `json:"timestamp"`
	FailureCount   int              `json:"failure_count"`
}

// Key returns the edge identity
func (c DependencyHealthCheck) Key() EdgeKey {
	return EdgeKey{Service: c.Service, Dependency: c.Dependency}
}

// BreakerState is the circuit breaker state
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// CircuitBreakerState is the persisted state of one edge breaker
type CircuitBreakerState struct {
	Service         string       `json:"service"`
	Dependency      string       `json:"dependency"`
	State           BreakerState `json:"state"`
	FailureCount    int          `json:"failure_count"`
	SuccessCount    int          `json:"success_count"`
	LastFailureTime *time.Time   `json:"last_failure_time,omitempty"`
	NextAttemptTime *time.Time   `json:"next_attempt_time,omitempty"`
}

// Key returns the edge identity
func (s CircuitBreakerState) Key() EdgeKey {
	return EdgeKey{Service: s.Service, Dependency: s.Dependency}
}
