package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zvirb/comandind-sub004/internal/domain"
)

// AffectedBy returns the dependents a failure of root would reach. A direct
// dependent is affected when its edge to root qualifies; a second-level
// dependent is affected only through an affected direct dependent whose
// edge also qualifies.
func (m *Monitor) AffectedBy(root string) []string {
	affected := make(map[string]bool)
	for _, d := range m.graph.DirectDependents(root) {
		if dep, ok := m.graph.Edge(d, root); ok && WouldBeAffected(dep) {
			affected[d] = true
		}
	}
	if len(affected) == 0 {
		return nil
	}

	direct := sortedKeys(affected)
	for _, candidate := range m.graph.DependentsOf(root) {
		if affected[candidate] {
			continue
		}
		for _, via := range direct {
			if dep, ok := m.graph.Edge(candidate, via); ok && WouldBeAffected(dep) {
				affected[candidate] = true
				break
			}
		}
	}
	return sortedKeys(affected)
}

// Evaluate scores the cascade risk of root failing at the given health.
// It returns nil when no dependent would be affected.
func (m *Monitor) Evaluate(root string, health float64) *domain.CascadeRisk {
	affected := m.AffectedBy(root)
	if len(affected) == 0 {
		return nil
	}

	sc := m.opts.Scoring
	risk := RiskScore(health, len(affected), countIn(affected, sc.Critical), len(sc.Critical))
	return &domain.CascadeRisk{
		RootService:              root,
		RootHealth:               clampUnit(health),
		AffectedServices:         affected,
		RiskScore:                risk,
		ImpactLevel:              DetermineImpact(affected, sc.Critical, sc.Important),
		FailurePath:              m.failurePath(root, affected),
		EstimatedDowntimeSeconds: EstimateDowntime(root, len(affected), sc.BaseDowntime),
		MitigationActions:        MitigationActions(root, len(affected), risk),
		AnalyzedAt:               m.now(),
	}
}

// failurePath is the propagation path to the farthest affected service
func (m *Monitor) failurePath(root string, affected []string) []string {
	var longest []string
	for _, svc := range affected {
		p := m.graph.ShortestPath(root, svc)
		if len(p) > len(longest) {
			longest = p
		}
	}
	return longest
}

// AnalyzeService fetches root's health and runs a cascade analysis
func (m *Monitor) AnalyzeService(ctx context.Context, root string) (*domain.CascadeRisk, error) {
	if !m.graph.Has(root) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownService, root)
	}
	health, err := m.provider.HealthScore(ctx, root)
	if err != nil {
		m.logger.Warn("health score unavailable, assuming zero", zap.String("service", root), zap.Error(err))
		health = 0
	}
	return m.analyze(ctx, root, health)
}

// analyze evaluates root, records the risk and hands high risk to prevention
func (m *Monitor) analyze(ctx context.Context, root string, health float64) (*domain.CascadeRisk, error) {
	risk := m.Evaluate(root, health)
	if risk == nil {
		return nil, nil
	}

	m.mu.Lock()
	m.risks = append(m.risks, *risk)
	if over := len(m.risks) - m.opts.MaxRecentRisks; over > 0 {
		m.risks = append(m.risks[:0:0], m.risks[over:]...)
	}
	m.mu.Unlock()

	m.metrics.RecordCascadeRisk(*risk)
	m.logger.Info("cascade risk analyzed",
		zap.String("root", root),
		zap.Float64("risk_score", risk.RiskScore),
		zap.String("impact", string(risk.ImpactLevel)),
		zap.Strings("affected", risk.AffectedServices),
	)

	if m.events != nil {
		if err := m.events.PublishCascadeRisk(ctx, *risk); err != nil {
			m.logger.Warn("publish cascade event failed", zap.Error(err))
		}
	}

	if risk.RiskScore > m.opts.PreventionThreshold {
		m.OnCascadeRisk(ctx, *risk)
	}
	return risk, nil
}

// Sweep analyses every service whose health is below the sweep threshold.
// Services the provider cannot score are treated as fully unhealthy unless
// the provider does not know them at all.
func (m *Monitor) Sweep(ctx context.Context) ([]domain.CascadeRisk, error) {
	services := m.graph.Services()
	scores := make(map[string]float64, len(services))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, svc := range services {
		g.Go(func() error {
			score, err := m.provider.HealthScore(gctx, svc)
			if errors.Is(err, domain.ErrUnknownService) {
				return nil
			}
			if err != nil {
				m.logger.Debug("sweep health lookup failed", zap.String("service", svc), zap.Error(err))
				score = 0
			}
			mu.Lock()
			scores[svc] = clampUnit(score)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	roots := make([]string, 0, len(scores))
	for svc, score := range scores {
		if score < m.opts.SweepThreshold {
			roots = append(roots, svc)
		}
	}
	sort.Strings(roots)

	var out []domain.CascadeRisk
	for _, root := range roots {
		risk, err := m.analyze(ctx, root, scores[root])
		if err != nil {
			m.logger.Error("cascade analysis failed", zap.String("root", root), zap.Error(err))
			continue
		}
		if risk != nil {
			out = append(out, *risk)
		}
	}
	return out, nil
}

// RecentRisks returns the retained risks, newest last
func (m *Monitor) RecentRisks() []domain.CascadeRisk {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.CascadeRisk, len(m.risks))
	copy(out, m.risks)
	return out
}

func (m *Monitor) latestRisk(root string) (domain.CascadeRisk, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.risks) - 1; i >= 0; i-- {
		if m.risks[i].RootService == root {
			return m.risks[i], true
		}
	}
	return domain.CascadeRisk{}, false
}
