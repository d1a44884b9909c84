package monitor

import (
	"math"
	"sort"

	"github.com/zvirb/comandind-sub004/internal/domain"
)

// Scoring holds the fixed tables the cascade heuristics read
type Scoring struct {
	Critical     map[string]bool
	Important    map[string]bool
	BaseDowntime map[string]int
}

// Cascade heuristic constants; durations are in seconds
const (
	defaultBaseDowntime   = 60
	downtimePerService    = 30
	recoveryBuffer        = 60
	maxEstimatedDowntime  = 1800
	isolationServiceLimit = 3
	rollbackRiskThreshold = 0.6
	affectedWeightCutoff  = 0.7
)

// DefaultScoring returns the stock service tables
func DefaultScoring() Scoring {
	return Scoring{
		Critical: setOf("postgres", "redis", "api"),
		Important: setOf("worker", "webui", "qdrant", "ollama",
			"coordination-service", "reasoning-service"),
		BaseDowntime: map[string]int{
			"postgres": 300,
			"redis":    120,
			"api":      180,
			"worker":   90,
			"webui":    60,
			"qdrant":   240,
			"ollama":   180,
		},
	}
}

// WithCritical returns a copy using the given critical set
func (s Scoring) WithCritical(services []string) Scoring {
	if len(services) > 0 {
		s.Critical = setOf(services...)
	}
	return s
}

func setOf(items ...string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, it := range items {
		out[it] = true
	}
	return out
}

// ClassifyStatus maps a health score onto a status relative to the edge threshold.
// A score of zero or below, or NaN, is unavailable regardless of the threshold.
func ClassifyStatus(score, threshold float64) domain.DependencyStatus {
	switch {
	case math.IsNaN(score) || score <= 0:
		return domain.StatusUnavailable
	case score >= threshold:
		return domain.StatusHealthy
	case score >= 0.8*threshold:
		return domain.StatusDegraded
	case score >= 0.5*threshold:
		return domain.StatusFailing
	default:
		return domain.StatusCritical
	}
}

// WouldBeAffected reports whether a failure of the dependency propagates
// across the edge
func WouldBeAffected(dep domain.ServiceDependency) bool {
	return dep.Type == domain.DependencyCritical ||
		dep.Type == domain.DependencySync ||
		dep.Weight > affectedWeightCutoff
}

// ServiceCountFactor grows with the number of affected services, saturating at ten
func ServiceCountFactor(affected int) float64 {
	if affected <= 0 {
		return 0
	}
	f := float64(affected) / 10
	if f > 1 {
		return 1
	}
	return f
}

// CriticalityFactor is the share of the critical set that is affected
func CriticalityFactor(criticalAffected, criticalSetSize int) float64 {
	if criticalSetSize <= 0 || criticalAffected <= 0 {
		return 0
	}
	if criticalAffected >= criticalSetSize {
		return 1
	}
	return float64(criticalAffected) / float64(criticalSetSize)
}

// RiskScore combines root health with blast radius, clamped to [0,1].
// The criticality term divides by the critical-set size rather than the
// affected count so that risk never drops when a service joins the affected set.
func RiskScore(rootHealth float64, affected, criticalAffected, criticalSetSize int) float64 {
	if affected <= 0 {
		return 0
	}
	h := clampUnit(rootHealth)
	risk := (1 - h) * (1 + ServiceCountFactor(affected) + CriticalityFactor(criticalAffected, criticalSetSize)) / 3
	return clampUnit(risk)
}

// DetermineImpact grades the affected set
func DetermineImpact(affected []string, critical, important map[string]bool) domain.ImpactLevel {
	importantHit := 0
	for _, svc := range affected {
		if critical[svc] {
			return domain.ImpactCritical
		}
		if important[svc] {
			importantHit++
		}
	}
	switch {
	case importantHit > 1:
		return domain.ImpactHigh
	case importantHit == 1:
		return domain.ImpactMedium
	default:
		return domain.ImpactLow
	}
}

// EstimateDowntime returns the expected outage in seconds, capped at thirty minutes
func EstimateDowntime(root string, affected int, base map[string]int) int {
	b, ok := base[root]
	if !ok {
		b = defaultBaseDowntime
	}
	total := b + downtimePerService*affected + recoveryBuffer
	if total > maxEstimatedDowntime {
		return maxEstimatedDowntime
	}
	return total
}

// MitigationActions lists the rule-based mitigations for a root failure
func MitigationActions(root string, affected int, risk float64) []string {
	actions := []string{"activate_circuit_breakers"}
	if affected > isolationServiceLimit {
		actions = append(actions, "isolate_failing_service")
	}
	switch root {
	case "api", "webui":
		actions = append(actions, "redirect_traffic_to_backup")
	case "postgres":
		actions = append(actions, "enable_read_replica_failover")
	case "redis":
		actions = append(actions, "enable_local_cache_fallback")
	}
	if risk > rollbackRiskThreshold {
		actions = append(actions, "prepare_rollback")
	}
	return actions
}

func countIn(items []string, set map[string]bool) int {
	n := 0
	for _, it := range items {
		if set[it] {
			n++
		}
	}
	return n
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// clampUnit maps NaN to 0 along with everything below the range
func clampUnit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
