package rollback

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zvirb/comandind-sub004/internal/cache"
	"github.com/zvirb/comandind-sub004/internal/container"
	"github.com/zvirb/comandind-sub004/internal/domain"
)

var errNoRuntime = errors.New("no container runtime configured")

// ExecuteNext runs the most urgent pending operation to completion. Only one
// operation executes at a time; a call made while another is running
// returns immediately.
func (m *Manager) ExecuteNext(ctx context.Context) error {
	if m.esm.IsTriggered() {
		m.logger.Debug("rollback execution paused by emergency stop")
		return nil
	}
	if !m.executing.CompareAndSwap(false, true) {
		return nil
	}
	defer m.executing.Store(false)

	op, ok := m.dequeue()
	if !ok {
		return nil
	}
	m.persist(ctx, cache.OperationKey(op.RollbackID), op, cache.OperationTTL)
	m.logger.Warn("rollback started",
		zap.String("rollback_id", op.RollbackID),
		zap.Strings("services", op.AffectedServices),
		zap.String("target_snapshot", op.TargetSnapshotID),
	)

	snap, err := m.verifiedSnapshot(op.TargetSnapshotID)
	if err != nil {
		for _, svc := range op.AffectedServices {
			op.RollbackSteps = append(op.RollbackSteps, m.runStep(svc, "load_snapshot", func() (map[string]any, error) {
				return map[string]any{"snapshot_id": op.TargetSnapshotID}, err
			}))
		}
		m.finish(ctx, op, domain.RollbackFailed)
		return nil
	}

	restored := 0
	for _, svc := range op.AffectedServices {
		if ctx.Err() != nil {
			break
		}
		steps, ok := m.restoreService(ctx, svc, snap)
		op.RollbackSteps = append(op.RollbackSteps, steps...)
		if ok {
			restored++
		}
		m.update(ctx, op)
	}

	op.SuccessMetrics = m.successMetrics(ctx, op.AffectedServices, restored)
	m.finish(ctx, op, FinalStatus(restored, len(op.AffectedServices)))
	return nil
}

// FinalStatus grades an operation by how many services were restored
func FinalStatus(restored, total int) domain.RollbackStatus {
	switch {
	case total > 0 && restored == total:
		return domain.RollbackCompleted
	case restored > 0:
		return domain.RollbackPartial
	default:
		return domain.RollbackFailed
	}
}

// restoreService replaces the service's container with the one recorded in
// the snapshot and waits for it to become healthy. It stops at the first
// failed step.
func (m *Manager) restoreService(ctx context.Context, service string, snap domain.SystemSnapshot) ([]domain.RollbackStep, bool) {
	var steps []domain.RollbackStep
	run := func(action string, fn func() (map[string]any, error)) bool {
		st := m.runStep(service, action, fn)
		steps = append(steps, st)
		return st.Success
	}

	state, ok := snap.Services[service]
	if !ok {
		run("lookup_snapshot", func() (map[string]any, error) {
			return nil, fmt.Errorf("service %s not captured in snapshot %s", service, snap.SnapshotID)
		})
		return steps, false
	}
	if m.runtime == nil {
		run("lookup_container", func() (map[string]any, error) { return nil, errNoRuntime })
		return steps, false
	}

	current, err := container.FindService(ctx, m.runtime, service)
	switch {
	case err == nil:
		if !run("stop_container", func() (map[string]any, error) {
			return map[string]any{"container": current.Name}, m.runtime.Stop(ctx, current.ID, m.opts.StopTimeout)
		}) {
			return steps, false
		}
		if !run("remove_container", func() (map[string]any, error) {
			return map[string]any{"container": current.Name}, m.runtime.Remove(ctx, current.ID)
		}) {
			return steps, false
		}
	case errors.Is(err, domain.ErrContainerNotFound):
		// Nothing running; start from the snapshot directly
	default:
		run("lookup_container", func() (map[string]any, error) { return nil, err })
		return steps, false
	}

	if current.Image != state.Image {
		if !run("pull_image", func() (map[string]any, error) {
			return map[string]any{"image": state.Image, "previous_image": current.Image}, m.runtime.Pull(ctx, state.Image)
		}) {
			return steps, false
		}
	}

	spec := container.RunSpec{
		Name:    strings.TrimPrefix(state.Name, "/"),
		Image:   state.Image,
		Env:     state.Env,
		Cmd:     state.Cmd,
		Labels:  state.Labels,
		Network: state.Network,
	}
	if spec.Name == "" {
		spec.Name = service
	}
	if spec.Network == "" {
		spec.Network = m.opts.Network
	}
	if !run("start_container", func() (map[string]any, error) {
		id, err := m.runtime.Run(ctx, spec)
		return map[string]any{"container_id": id, "image": spec.Image}, err
	}) {
		return steps, false
	}

	if !run("wait_for_health", func() (map[string]any, error) {
		score, err := m.WaitForServiceHealth(ctx, service, m.opts.Thresholds.Recovered, m.opts.HealthWaitTimeout)
		return map[string]any{"health_score": score}, err
	}) {
		return steps, false
	}
	return steps, true
}

func (m *Manager) runStep(service, action string, fn func() (map[string]any, error)) domain.RollbackStep {
	st := domain.RollbackStep{Service: service, Action: action, StartedAt: m.now()}
	details, err := fn()
	st.CompletedAt = m.now()
	st.Details = details
	st.Success = err == nil
	if err != nil {
		st.Error = err.Error()
		m.logger.Error("rollback step failed",
			zap.String("service", service),
			zap.String("action", action),
			zap.Error(err),
		)
	}
	return st
}

// WaitForServiceHealth polls until the service's health exceeds threshold.
// It returns the context error if ctx ends first and ErrTimeout if the
// timeout elapses.
func (m *Manager) WaitForServiceHealth(ctx context.Context, service string, threshold float64, timeout time.Duration) (float64, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(m.opts.HealthPollInterval)
	defer ticker.Stop()

	last := 0.0
	for {
		score, err := m.provider.HealthScore(waitCtx, service)
		if err == nil {
			last = score
			if score > threshold {
				return score, nil
			}
		}

		select {
		case <-waitCtx.Done():
			if err := ctx.Err(); err != nil {
				return last, err
			}
			return last, fmt.Errorf("%w: %s health %.2f after %s", domain.ErrTimeout, service, last, timeout)
		case <-ticker.C:
		}
	}
}

func (m *Manager) successMetrics(ctx context.Context, services []string, restored int) map[string]float64 {
	out := map[string]float64{"services_restored": float64(restored)}
	if len(services) > 0 {
		out["restored_ratio"] = float64(restored) / float64(len(services))
	}
	for _, svc := range services {
		if score, err := m.provider.HealthScore(ctx, svc); err == nil && !math.IsNaN(score) && !math.IsInf(score, 0) {
			out["health_"+svc] = score
		}
	}
	return out
}

// dequeue pops the most urgent pending operation and marks it in progress
func (m *Manager) dequeue() (domain.RollbackOperation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.queue) == 0 {
		return domain.RollbackOperation{}, false
	}
	id := m.queue[0]
	m.queue = m.queue[1:]
	stored := m.operations[id]
	now := m.now()
	stored.Status = domain.RollbackInProgress
	stored.StartedAt = &now
	m.updateBacklogLocked()
	return cloneOperation(*stored), true
}

// update stores execution progress
func (m *Manager) update(ctx context.Context, op domain.RollbackOperation) {
	m.mu.Lock()
	if stored, ok := m.operations[op.RollbackID]; ok {
		*stored = cloneOperation(op)
	}
	m.mu.Unlock()
	m.persist(ctx, cache.OperationKey(op.RollbackID), op, cache.OperationTTL)
}

// finish moves an operation to history and releases its services
func (m *Manager) finish(ctx context.Context, op domain.RollbackOperation, status domain.RollbackStatus) {
	now := m.now()
	op.Status = status
	op.CompletedAt = &now

	m.mu.Lock()
	delete(m.operations, op.RollbackID)
	for _, svc := range op.AffectedServices {
		if m.active[svc] == op.RollbackID {
			delete(m.active, svc)
		}
	}
	m.history = append(m.history, cloneOperation(op))
	if over := len(m.history) - m.opts.MaxHistory; over > 0 {
		m.history = append(m.history[:0:0], m.history[over:]...)
	}
	m.updateBacklogLocked()
	m.mu.Unlock()

	m.persist(ctx, cache.OperationKey(op.RollbackID), op, cache.OperationTTL)
	m.archiveRollback(ctx, op)
	if m.events != nil {
		if err := m.events.PublishRollbackFinished(ctx, op); err != nil {
			m.logger.Warn("publish rollback finished failed", zap.Error(err))
		}
	}
	m.metrics.RecordRollback(op.Trigger, status, op.Duration().Seconds())

	log := m.logger.Info
	if status != domain.RollbackCompleted && status != domain.RollbackCancelled {
		log = m.logger.Error
	}
	log("rollback finished",
		zap.String("rollback_id", op.RollbackID),
		zap.String("status", string(status)),
		zap.Strings("services", op.AffectedServices),
		zap.Duration("duration", op.Duration()),
	)
}

func cloneOperation(op domain.RollbackOperation) domain.RollbackOperation {
	op.AffectedServices = append([]string(nil), op.AffectedServices...)
	op.RollbackSteps = append([]domain.RollbackStep{}, op.RollbackSteps...)
	return op
}
