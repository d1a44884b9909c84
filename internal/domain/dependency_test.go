package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDependencyTypeValid(t *testing.T) {
	for _, dt := range []DependencyType{DependencySync, DependencyAsync, DependencyOptional, DependencyCritical} {
		assert.True(t, dt.Valid(), dt)
	}
	assert.False(t, DependencyType("eventual").Valid())
	assert.False(t, DependencyType("").Valid())
}

func TestDependencyStatusPredicates(t *testing.T) {
	tests := []struct {
		status  DependencyStatus
		failure bool
		cascade bool
	}{
		{StatusHealthy, false, false},
		{StatusDegraded, false, false},
		{StatusFailing, true, false},
		{StatusCritical, true, true},
		{StatusUnavailable, true, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.failure, tt.status.IsFailure())
			assert.Equal(t, tt.cascade, tt.status.TriggersCascadeAnalysis())
		})
	}
}

func TestEdgeKeys(t *testing.T) {
	dep := ServiceDependency{Service: "api", DependsOn: "redis", TimeoutSeconds: 15}
	assert.Equal(t, EdgeKey{Service: "api", Dependency: "redis"}, dep.Key())
	assert.Equal(t, "api->redis", dep.Key().String())
	assert.Equal(t, 15*time.Second, dep.Timeout())

	check := DependencyHealthCheck{Service: "api", Dependency: "redis"}
	assert.Equal(t, dep.Key(), check.Key())

	state := CircuitBreakerState{Service: "api", Dependency: "redis"}
	assert.Equal(t, dep.Key(), state.Key())
}
