package monitor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zvirb/comandind-sub004/internal/domain"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		name      string
		score     float64
		threshold float64
		want      domain.DependencyStatus
	}{
		{"at threshold", 0.7, 0.7, domain.StatusHealthy},
		{"above threshold", 0.95, 0.7, domain.StatusHealthy},
		{"degraded band", 0.6, 0.7, domain.StatusDegraded},
		{"degraded lower bound", 0.56, 0.7, domain.StatusDegraded},
		{"failing band", 0.4, 0.7, domain.StatusFailing},
		{"failing lower bound", 0.35, 0.7, domain.StatusFailing},
		{"critical band", 0.2, 0.7, domain.StatusCritical},
		{"zero is unavailable", 0, 0.7, domain.StatusUnavailable},
		{"negative is unavailable", -0.3, 0.7, domain.StatusUnavailable},
		{"zero threshold", 0, 0, domain.StatusUnavailable},
		{"NaN is unavailable", math.NaN(), 0.7, domain.StatusUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyStatus(tt.score, tt.threshold))
		})
	}
}

func TestWouldBeAffected(t *testing.T) {
	tests := []struct {
		name string
		dep  domain.ServiceDependency
		want bool
	}{
		{"critical", domain.ServiceDependency{Type: domain.DependencyCritical, Weight: 0.1}, true},
		{"sync", domain.ServiceDependency{Type: domain.DependencySync, Weight: 0.1}, true},
		{"heavy async", domain.ServiceDependency{Type: domain.DependencyAsync, Weight: 0.75}, true},
		{"light async", domain.ServiceDependency{Type: domain.DependencyAsync, Weight: 0.7}, false},
		{"optional", domain.ServiceDependency{Type: domain.DependencyOptional, Weight: 0.4}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WouldBeAffected(tt.dep))
		})
	}
}

func TestRiskScore(t *testing.T) {
	assert.Equal(t, 0.0, RiskScore(0.2, 0, 0, 3))
	assert.Equal(t, 0.0, RiskScore(1, 5, 2, 3))
	assert.InDelta(t, 0.8*(1+0.2+1.0/3)/3, RiskScore(0.2, 2, 1, 3), 1e-9)
	assert.InDelta(t, 1.0, RiskScore(0, 12, 3, 3), 1e-9)
	assert.InDelta(t, RiskScore(0, 1, 0, 3), RiskScore(-2, 1, 0, 3), 1e-9)
}

func TestNaNHealthReadsAsZero(t *testing.T) {
	assert.Zero(t, clampUnit(math.NaN()))

	risk := RiskScore(math.NaN(), 1, 0, 5)
	assert.False(t, math.IsNaN(risk))
	assert.InDelta(t, RiskScore(0, 1, 0, 5), risk, 1e-9)
	assert.InDelta(t, 1.1/3, risk, 1e-9)
}

func TestRiskScoreMonotone(t *testing.T) {
	for h := 0.0; h <= 1.0; h += 0.1 {
		for n := 1; n < 15; n++ {
			for c := 0; c <= 3 && c <= n; c++ {
				base := RiskScore(h, n, c, 3)
				assert.GreaterOrEqual(t, base, 0.0)
				assert.LessOrEqual(t, base, 1.0)
				assert.GreaterOrEqual(t, RiskScore(h, n+1, c, 3), base, "more affected services")
				if c < 3 {
					assert.GreaterOrEqual(t, RiskScore(h, n+1, c+1, 3), base, "more critical services")
				}
				if h+0.1 <= 1.0 {
					assert.LessOrEqual(t, RiskScore(h+0.1, n, c, 3), base, "healthier root")
				}
			}
		}
	}
}

func TestCriticalityFactor(t *testing.T) {
	assert.Equal(t, 0.0, CriticalityFactor(1, 0))
	assert.Equal(t, 0.0, CriticalityFactor(0, 3))
	assert.InDelta(t, 2.0/3, CriticalityFactor(2, 3), 1e-9)
	assert.Equal(t, 1.0, CriticalityFactor(5, 3))
}

func TestDetermineImpact(t *testing.T) {
	sc := DefaultScoring()
	tests := []struct {
		name     string
		affected []string
		want     domain.ImpactLevel
	}{
		{"critical service", []string{"worker", "api"}, domain.ImpactCritical},
		{"two important", []string{"worker", "webui"}, domain.ImpactHigh},
		{"one important", []string{"webui", "analytics"}, domain.ImpactMedium},
		{"nothing notable", []string{"analytics"}, domain.ImpactLow},
		{"empty", nil, domain.ImpactLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetermineImpact(tt.affected, sc.Critical, sc.Important))
		})
	}
}

func TestEstimateDowntime(t *testing.T) {
	base := DefaultScoring().BaseDowntime
	assert.Equal(t, 300+60+60, EstimateDowntime("postgres", 2, base))
	assert.Equal(t, 60+30+60, EstimateDowntime("unknown", 1, base))
	assert.Equal(t, 1800, EstimateDowntime("postgres", 100, base))
}

func TestMitigationActions(t *testing.T) {
	tests := []struct {
		name     string
		root     string
		affected int
		risk     float64
		want     []string
	}{
		{"postgres", "postgres", 2, 0.4, []string{"activate_circuit_breakers", "enable_read_replica_failover"}},
		{"redis wide", "redis", 4, 0.5, []string{"activate_circuit_breakers", "isolate_failing_service", "enable_local_cache_fallback"}},
		{"api risky", "api", 1, 0.7, []string{"activate_circuit_breakers", "redirect_traffic_to_backup", "prepare_rollback"}},
		{"webui", "webui", 1, 0.1, []string{"activate_circuit_breakers", "redirect_traffic_to_backup"}},
		{"other at boundary", "qdrant", 3, 0.6, []string{"activate_circuit_breakers"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MitigationActions(tt.root, tt.affected, tt.risk))
		})
	}
}

func TestScoringWithCritical(t *testing.T) {
	sc := DefaultScoring().WithCritical([]string{"postgres"})
	assert.Equal(t, map[string]bool{"postgres": true}, sc.Critical)
	assert.Len(t, DefaultScoring().WithCritical(nil).Critical, 3)
}
