package rollback

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/zvirb/comandind-sub004/internal/cache"
	"github.com/zvirb/comandind-sub004/internal/domain"
	"github.com/zvirb/comandind-sub004/internal/safety"
)

// EvaluateTriggers checks every scored service and queues a rollback for
// each one that fires a trigger. Nothing is queued during an emergency stop.
func (m *Manager) EvaluateTriggers(ctx context.Context) error {
	if m.esm.IsTriggered() {
		m.logger.Debug("trigger evaluation paused by emergency stop")
		return nil
	}
	scores, err := m.provider.AllHealthScores(ctx)
	if err != nil {
		return fmt.Errorf("health scores: %w", err)
	}

	services := make([]string, 0, len(scores))
	for svc := range scores {
		services = append(services, svc)
	}
	sort.Strings(services)

	for _, svc := range services {
		trigger, reason, fired := m.EvaluateService(ctx, svc, scores)
		if !fired {
			continue
		}
		_, err := m.TriggerRollback(ctx, svc, trigger, reason)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrRollbackActive):
			m.logger.Debug("rollback already active", zap.String("service", svc))
		default:
			m.logger.Warn("rollback not queued",
				zap.String("service", svc),
				zap.String("trigger", string(trigger)),
				zap.Error(err),
			)
		}
	}
	return ctx.Err()
}

// EvaluateService reports which trigger, if any, fires for the service
func (m *Manager) EvaluateService(ctx context.Context, service string, scores map[string]float64) (domain.RollbackTrigger, string, bool) {
	th := m.opts.Thresholds
	health, ok := scores[service]
	if !ok {
		return "", "", false
	}
	if math.IsNaN(health) || health < th.Health {
		return domain.TriggerHealthDegradation,
			fmt.Sprintf("health %.2f below %.2f", health, th.Health), true
	}

	if pred, err := m.provider.Prediction(ctx, service); err == nil && pred.FailureProbability > th.FailureProbability {
		return domain.TriggerPerformanceRegression,
			fmt.Sprintf("predicted failure probability %.2f above %.2f", pred.FailureProbability, th.FailureProbability), true
	}

	if avg, n := m.dependencyHealth(service, scores); n > 0 && avg < th.DependencyHealth {
		return domain.TriggerDependencyFailure,
			fmt.Sprintf("average dependency health %.2f below %.2f", avg, th.DependencyHealth), true
	}
	return "", "", false
}

// dependencyHealth averages the scores of the service's dependencies
func (m *Manager) dependencyHealth(service string, scores map[string]float64) (float64, int) {
	if m.graph == nil {
		return 0, 0
	}
	var vals []float64
	for _, dep := range m.graph.DependenciesOf(service) {
		if s, ok := scores[dep.DependsOn]; ok {
			vals = append(vals, s)
		}
	}
	if len(vals) == 0 {
		return 0, 0
	}
	return stat.Mean(vals, nil), len(vals)
}

// TriggerRollback queues a rollback of one service to its best target.
// A service with an active operation is refused with ErrRollbackActive.
func (m *Manager) TriggerRollback(ctx context.Context, service string, trigger domain.RollbackTrigger, reason string) (*domain.RollbackOperation, error) {
	if err := m.esm.CheckEmergencyStop(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if id, busy := m.active[service]; busy {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s (%s)", domain.ErrRollbackActive, service, id)
	}
	target, err := m.findTargetLocked(service)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	op := m.enqueueLocked(trigger, reason, target.SnapshotID, []string{service})
	m.mu.Unlock()

	m.queued(ctx, op)
	return &op, nil
}

// RequestManualRollback queues a rollback of several services. An empty
// snapshot ID selects the newest safe snapshot. The share of services
// restored at once is capped.
func (m *Manager) RequestManualRollback(ctx context.Context, services []string, snapshotID, reason string) (*domain.RollbackOperation, error) {
	if err := m.esm.CheckEmergencyStop(); err != nil {
		return nil, err
	}
	services = dedupe(services)
	if len(services) == 0 {
		return nil, errors.New("at least one service is required")
	}

	total := 0
	if m.graph != nil {
		for _, svc := range services {
			if !m.graph.Has(svc) {
				return nil, fmt.Errorf("%w: %s", domain.ErrUnknownService, svc)
			}
		}
		total = len(m.graph.Services())
	}
	if err := safety.ValidateBlastRadius(len(services), total, m.opts.MaxManualBlastRadius); err != nil {
		return nil, fmt.Errorf("%d of %d services: %w", len(services), total, err)
	}

	var target string
	if snapshotID != "" {
		snap, err := m.verifiedSnapshot(snapshotID)
		if err != nil {
			return nil, err
		}
		target = snap.SnapshotID
	}

	m.mu.Lock()
	for _, svc := range services {
		if id, busy := m.active[svc]; busy {
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: %s (%s)", domain.ErrRollbackActive, svc, id)
		}
	}
	if target == "" {
		safe := m.sortedSnapshotsLocked(true)
		if len(safe) == 0 {
			m.mu.Unlock()
			return nil, domain.ErrNoRollbackTarget
		}
		target = safe[0].SnapshotID
	}
	if reason == "" {
		reason = "manual request"
	}
	op := m.enqueueLocked(domain.TriggerManual, reason, target, services)
	m.mu.Unlock()

	m.queued(ctx, op)
	return &op, nil
}

// enqueueLocked records a pending operation and marks its services active;
// m.mu must be held
func (m *Manager) enqueueLocked(trigger domain.RollbackTrigger, reason, target string, services []string) domain.RollbackOperation {
	services = orderServices(services)
	op := &domain.RollbackOperation{
		RollbackID:       uuid.NewString(),
		Trigger:          trigger,
		Reason:           reason,
		TargetSnapshotID: target,
		AffectedServices: services,
		Status:           domain.RollbackPending,
		Priority:         OperationPriority(services),
		CreatedAt:        m.now(),
		RollbackSteps:    []domain.RollbackStep{},
	}
	m.operations[op.RollbackID] = op
	m.queue = append(m.queue, op.RollbackID)
	for _, svc := range services {
		m.active[svc] = op.RollbackID
	}
	m.sortQueueLocked()
	m.updateBacklogLocked()
	return *op
}

func (m *Manager) queued(ctx context.Context, op domain.RollbackOperation) {
	m.persist(ctx, cache.OperationKey(op.RollbackID), op, cache.OperationTTL)
	if m.events != nil {
		if err := m.events.PublishRollbackQueued(ctx, op); err != nil {
			m.logger.Warn("publish rollback queued failed", zap.Error(err))
		}
	}
	m.logger.Warn("rollback queued",
		zap.String("rollback_id", op.RollbackID),
		zap.String("trigger", string(op.Trigger)),
		zap.Strings("services", op.AffectedServices),
		zap.String("target_snapshot", op.TargetSnapshotID),
		zap.Int("priority", op.Priority),
		zap.String("reason", op.Reason),
	)
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
