package monitor

import (
	"sort"
	"time"

	"github.com/zvirb/comandind-sub004/internal/domain"
)

// DependencyStatus is the summary served by the status endpoint
type DependencyStatus struct {
	Services         int                                     `json:"services"`
	Edges            int                                     `json:"edges"`
	EdgesByStatus    map[domain.DependencyStatus]int         `json:"edges_by_status"`
	BreakersByState  map[domain.BreakerState]int             `json:"breakers_by_state"`
	OpenBreakers     []domain.CircuitBreakerState            `json:"open_breakers"`
	FailingEdges     []domain.DependencyHealthCheck          `json:"failing_edges"`
	ActivePrevention int                                     `json:"active_prevention_actions"`
	LatestRisk       *domain.CascadeRisk                     `json:"latest_risk,omitempty"`
	RecentRiskCount  int                                     `json:"recent_risk_count"`
	EmergencyStopped bool                                    `json:"emergency_stopped"`
	Loops            []string                                `json:"loops"`
	LastCheckAt      *time.Time                              `json:"last_check_at,omitempty"`
	Checks           map[string]domain.DependencyHealthCheck `json:"checks"`
}

// GetDependencyStatus summarises edges, breakers, risks and prevention state
func (m *Monitor) GetDependencyStatus() DependencyStatus {
	out := DependencyStatus{
		Services:         len(m.graph.Services()),
		Edges:            len(m.graph.Edges()),
		EdgesByStatus:    make(map[domain.DependencyStatus]int),
		BreakersByState:  make(map[domain.BreakerState]int),
		EmergencyStopped: m.emergencyStopped(),
		Loops:            m.Running(),
		Checks:           make(map[string]domain.DependencyHealthCheck),
	}

	for _, st := range m.bank.States() {
		out.BreakersByState[st.State]++
		if st.State == domain.BreakerOpen {
			out.OpenBreakers = append(out.OpenBreakers, st)
		}
	}
	sort.Slice(out.OpenBreakers, func(i, j int) bool {
		return out.OpenBreakers[i].Key().String() < out.OpenBreakers[j].Key().String()
	})

	m.mu.Lock()
	for key, c := range m.health {
		out.Checks[key.String()] = c
		out.EdgesByStatus[c.Status]++
		if c.Status.IsFailure() {
			out.FailingEdges = append(out.FailingEdges, c)
		}
		if out.LastCheckAt == nil || c.CheckedAt.After(*out.LastCheckAt) {
			t := c.CheckedAt
			out.LastCheckAt = &t
		}
	}
	for _, a := range m.actions {
		if a.RecoveryStatus != domain.RecoveryResolved {
			out.ActivePrevention++
		}
	}
	out.RecentRiskCount = len(m.risks)
	if n := len(m.risks); n > 0 {
		latest := m.risks[n-1]
		out.LatestRisk = &latest
	}
	m.mu.Unlock()

	sort.Slice(out.FailingEdges, func(i, j int) bool {
		return out.FailingEdges[i].Key().String() < out.FailingEdges[j].Key().String()
	})
	return out
}

// Topology exports the graph decorated with the latest edge status and
// breaker state. A node's score is the most recent check against it.
func (m *Monitor) Topology() domain.DependencyTopology {
	breakers := m.bank.States()

	m.mu.Lock()
	health := make(map[string]float64)
	seen := make(map[string]time.Time)
	statuses := make(map[domain.EdgeKey]domain.DependencyStatus, len(m.health))
	for key, c := range m.health {
		statuses[key] = c.Status
		if at, ok := seen[c.Dependency]; !ok || c.CheckedAt.After(at) {
			seen[c.Dependency] = c.CheckedAt
			health[c.Dependency] = c.HealthScore
		}
	}
	m.mu.Unlock()

	out := m.graph.Topology(health, m.opts.Scoring.Critical)
	for i := range out.Edges {
		key := domain.EdgeKey{Service: out.Edges[i].Source, Dependency: out.Edges[i].Target}
		out.Edges[i].Status = statuses[key]
		if st, ok := breakers[key]; ok {
			out.Edges[i].BreakerState = st.State
		}
	}
	ts := m.now().Format(time.RFC3339)
	out.Timestamp = &ts
	return out
}
