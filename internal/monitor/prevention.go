package monitor

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zvirb/comandind-sub004/internal/cache"
	"github.com/zvirb/comandind-sub004/internal/domain"
)

// RecoveryExecutor performs recovery for a prevention action. The monitor
// records the outcome; what recovery means is up to the implementation.
type RecoveryExecutor interface {
	InitiateRecovery(ctx context.Context, action domain.PreventionAction) error
}

// RollbackRequester asks for a service to be rolled back to a safe snapshot
type RollbackRequester interface {
	TriggerRollback(ctx context.Context, service string, trigger domain.RollbackTrigger, reason string) (*domain.RollbackOperation, error)
}

// EventSink receives monitor events
type EventSink interface {
	PublishBreakerOpened(ctx context.Context, state domain.CircuitBreakerState) error
	PublishCascadeRisk(ctx context.Context, risk domain.CascadeRisk) error
}

// LogRecovery only logs the request. Used when no executor is configured.
type LogRecovery struct {
	Logger *zap.Logger
}

func (l LogRecovery) InitiateRecovery(ctx context.Context, action domain.PreventionAction) error {
	if l.Logger != nil {
		l.Logger.Info("recovery requested",
			zap.String("service", action.Service),
			zap.String("failed_dependency", action.FailedDependency),
			zap.Strings("actions", action.Actions),
		)
	}
	return nil
}

// OnBreakerOpen records a prevention action for an edge whose breaker tripped
func (m *Monitor) OnBreakerOpen(ctx context.Context, dep domain.ServiceDependency) *domain.PreventionAction {
	riskScore := 0.0
	var mitigations []string
	if risk, ok := m.latestRisk(dep.DependsOn); ok {
		riskScore = risk.RiskScore
		mitigations = risk.MitigationActions
	}
	return m.prevent(ctx, dep.Service, dep.DependsOn, domain.PreventionBreakerOpen, riskScore, mitigations)
}

// OnCascadeRisk records a prevention action for every service the risk
// reaches, with the risk's root as the failed dependency
func (m *Monitor) OnCascadeRisk(ctx context.Context, risk domain.CascadeRisk) []*domain.PreventionAction {
	out := make([]*domain.PreventionAction, 0, len(risk.AffectedServices))
	for _, svc := range risk.AffectedServices {
		out = append(out, m.prevent(ctx, svc, risk.RootService, domain.PreventionCascadeRisk, risk.RiskScore, risk.MitigationActions))
	}
	m.maybeRollback(ctx, risk.RootService, risk.RiskScore, fmt.Sprintf(
		"cascade risk %.2f from %s affecting %d services", risk.RiskScore, risk.RootService, len(risk.AffectedServices)))
	return out
}

func (m *Monitor) prevent(ctx context.Context, service, failed string, trigger domain.PreventionTrigger, riskScore float64, mitigations []string) *domain.PreventionAction {
	key := domain.EdgeKey{Service: service, Dependency: failed}
	now := m.now()

	dep, hasEdge := m.graph.Edge(service, failed)
	graceful := hasEdge && (dep.Type == domain.DependencyAsync || dep.Type == domain.DependencyOptional)
	isolate := failed == "postgres" || failed == "redis"

	actions := make([]string, 0, len(mitigations)+2)
	if graceful {
		actions = append(actions, "enable_graceful_degradation")
	}
	if isolate {
		actions = append(actions, "consider_isolation")
	}
	actions = append(actions, mitigations...)

	m.mu.Lock()
	action, exists := m.actions[key]
	if !exists {
		action = &domain.PreventionAction{
			ID:               uuid.NewString(),
			Service:          service,
			FailedDependency: failed,
			CreatedAt:        now,
		}
		m.actions[key] = action
	}
	previous := action.RecoveryStatus
	action.Trigger = trigger
	if riskScore > action.RiskScore || !exists {
		action.RiskScore = riskScore
	}
	action.GracefulDegradation = graceful
	action.IsolationConsidered = isolate
	action.Actions = dedupeStrings(actions)
	action.UpdatedAt = now
	snapshot := *action
	m.mu.Unlock()

	status, recoveryErr := previous, ""
	if previous != domain.RecoveryInitiated {
		status = domain.RecoveryInitiated
		if err := m.recovery.InitiateRecovery(ctx, snapshot); err != nil {
			status = domain.RecoveryFailed
			recoveryErr = err.Error()
			m.logger.Error("recovery initiation failed",
				zap.String("service", service),
				zap.String("failed_dependency", failed),
				zap.Error(err),
			)
		}
		m.metrics.RecordPrevention(trigger, status)
	}

	m.mu.Lock()
	action.RecoveryStatus = status
	action.RecoveryError = recoveryErr
	snapshot = *action
	m.mu.Unlock()

	m.logger.Info("cascade prevention recorded",
		zap.String("id", snapshot.ID),
		zap.String("service", service),
		zap.String("failed_dependency", failed),
		zap.String("trigger", string(trigger)),
		zap.Bool("graceful_degradation", graceful),
		zap.Bool("isolation_considered", isolate),
		zap.String("recovery_status", status),
	)
	m.persist(ctx, cache.PreventionKey(snapshot.ID), snapshot, cache.PreventionTTL)
	return &snapshot
}

// maybeRollback requests a rollback of the failing root when the risk is
// high enough and automation is allowed
func (m *Monitor) maybeRollback(ctx context.Context, root string, riskScore float64, reason string) {
	if m.rollback == nil || !m.opts.AutoRollback || riskScore < m.opts.RollbackThreshold {
		return
	}
	if m.emergencyStopped() {
		m.logger.Warn("rollback request suppressed by emergency stop", zap.String("service", root))
		return
	}
	if m.rollbackRequested(root) {
		return
	}

	op, err := m.rollback.TriggerRollback(ctx, root, domain.TriggerCascadeFailure, reason)
	if err != nil {
		m.logger.Warn("rollback request refused", zap.String("service", root), zap.Error(err))
		return
	}

	m.mu.Lock()
	for key, a := range m.actions {
		if key.Dependency == root {
			a.RollbackRequested = true
		}
	}
	m.mu.Unlock()
	m.logger.Warn("rollback requested",
		zap.String("service", root),
		zap.String("rollback_id", op.RollbackID),
		zap.Float64("risk_score", riskScore),
	)
}

// rollbackRequested reports whether an open action already asked for a
// rollback of root
func (m *Monitor) rollbackRequested(root string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, a := range m.actions {
		if key.Dependency == root && a.RollbackRequested && a.RecoveryStatus != domain.RecoveryResolved {
			return true
		}
	}
	return false
}

// ReviewPreventions resolves actions whose failed dependency has recovered:
// the edge breaker closed, or for edges without a breaker, the latest check
// is no longer failing
func (m *Monitor) ReviewPreventions(ctx context.Context) error {
	now := m.now()
	var resolved []domain.PreventionAction

	m.mu.Lock()
	for key, a := range m.actions {
		if a.RecoveryStatus == domain.RecoveryResolved {
			continue
		}
		if !m.recoveredLocked(key) {
			continue
		}
		a.RecoveryStatus = domain.RecoveryResolved
		a.UpdatedAt = now
		resolved = append(resolved, *a)
	}
	m.mu.Unlock()

	for _, a := range resolved {
		m.metrics.RecordPrevention(a.Trigger, domain.RecoveryResolved)
		m.logger.Info("cascade prevention resolved",
			zap.String("id", a.ID),
			zap.String("service", a.Service),
			zap.String("failed_dependency", a.FailedDependency),
		)
		m.persist(ctx, cache.PreventionKey(a.ID), a, cache.PreventionTTL)
	}
	return nil
}

// recoveredLocked reports whether the edge has recovered; m.mu must be held
func (m *Monitor) recoveredLocked(key domain.EdgeKey) bool {
	if st, ok := m.bank.State(key); ok {
		check, seen := m.health[key]
		return st.State == domain.BreakerClosed && seen && !check.Status.IsFailure()
	}
	check, ok := m.health[key]
	if ok {
		return !check.Status.IsFailure()
	}
	// Indirectly affected services have no edge of their own; they recover
	// once every check against the failed dependency is passing.
	observed := false
	for k, c := range m.health {
		if k.Dependency != key.Dependency {
			continue
		}
		observed = true
		if c.Status.IsFailure() {
			return false
		}
	}
	return observed
}

// PreventionActions returns the recorded actions ordered by service, then dependency
func (m *Monitor) PreventionActions() []domain.PreventionAction {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.PreventionAction, 0, len(m.actions))
	for _, a := range m.actions {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().String() < out[j].Key().String() })
	return out
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
