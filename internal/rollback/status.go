package rollback

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/zvirb/comandind-sub004/internal/cache"
	"github.com/zvirb/comandind-sub004/internal/domain"
)

const recentHistory = 10

// Status is the summary served by the rollback status endpoint
type Status struct {
	Active           []domain.RollbackOperation `json:"active_rollbacks"`
	Queued           int                        `json:"queued"`
	Executing        bool                       `json:"executing"`
	Snapshots        int                        `json:"snapshots"`
	SafeSnapshots    int                        `json:"safe_snapshots"`
	LatestSnapshotID string                     `json:"latest_snapshot_id,omitempty"`
	LatestSafeID     string                     `json:"latest_safe_snapshot_id,omitempty"`
	Recent           []domain.RollbackOperation `json:"recent_rollbacks"`
	EmergencyStopped bool                       `json:"emergency_stopped"`
	Loops            []string                   `json:"loops"`
}

// GetRollbackStatus summarises snapshots, the queue and recent history
func (m *Manager) GetRollbackStatus() Status {
	out := Status{
		Executing:        m.executing.Load(),
		EmergencyStopped: m.esm.IsTriggered(),
		Loops:            m.Running(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out.Active = m.activeLocked()
	out.Queued = len(m.queue)

	all := m.sortedSnapshotsLocked(false)
	out.Snapshots = len(all)
	if len(all) > 0 {
		out.LatestSnapshotID = all[0].SnapshotID
	}
	for _, s := range all {
		if !s.RollbackSafe {
			continue
		}
		if out.SafeSnapshots == 0 {
			out.LatestSafeID = s.SnapshotID
		}
		out.SafeSnapshots++
	}

	start := len(m.history) - recentHistory
	if start < 0 {
		start = 0
	}
	for i := len(m.history) - 1; i >= start; i-- {
		out.Recent = append(out.Recent, cloneOperation(m.history[i]))
	}
	return out
}

// activeLocked lists non-terminal operations in execution order; m.mu must be held
func (m *Manager) activeLocked() []domain.RollbackOperation {
	out := make([]domain.RollbackOperation, 0, len(m.operations))
	for _, op := range m.operations {
		out = append(out, cloneOperation(*op))
	}
	sort.Slice(out, func(i, j int) bool {
		if (out[i].Status == domain.RollbackInProgress) != (out[j].Status == domain.RollbackInProgress) {
			return out[i].Status == domain.RollbackInProgress
		}
		return runsBefore(&out[i], &out[j])
	})
	return out
}

// Operations returns active operations followed by history, newest first
func (m *Manager) Operations() []domain.RollbackOperation {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.activeLocked()
	for i := len(m.history) - 1; i >= 0; i-- {
		out = append(out, cloneOperation(m.history[i]))
	}
	return out
}

// GetOperation finds an active or historical operation
func (m *Manager) GetOperation(id string) (domain.RollbackOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if op, ok := m.operations[id]; ok {
		return cloneOperation(*op), nil
	}
	for i := len(m.history) - 1; i >= 0; i-- {
		if m.history[i].RollbackID == id {
			return cloneOperation(m.history[i]), nil
		}
	}
	return domain.RollbackOperation{}, fmt.Errorf("%w: %s", domain.ErrRollbackNotFound, id)
}

// CancelRollback cancels a pending operation. Operations already executing
// or finished return ErrRollbackNotCancellable.
func (m *Manager) CancelRollback(ctx context.Context, id string) (domain.RollbackOperation, error) {
	m.mu.Lock()
	stored, ok := m.operations[id]
	if !ok {
		m.mu.Unlock()
		for _, h := range m.Operations() {
			if h.RollbackID == id {
				return h, fmt.Errorf("%w: %s is %s", domain.ErrRollbackNotCancellable, id, h.Status)
			}
		}
		return domain.RollbackOperation{}, fmt.Errorf("%w: %s", domain.ErrRollbackNotFound, id)
	}
	if stored.Status != domain.RollbackPending {
		status := stored.Status
		m.mu.Unlock()
		return domain.RollbackOperation{}, fmt.Errorf("%w: %s is %s", domain.ErrRollbackNotCancellable, id, status)
	}
	for i, qid := range m.queue {
		if qid == id {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			break
		}
	}
	op := cloneOperation(*stored)
	m.mu.Unlock()

	m.finish(ctx, op, domain.RollbackCancelled)
	return m.GetOperation(id)
}

// Maintain drops snapshots past retention, keeping the newest safe one, and
// trims cached operation history
func (m *Manager) Maintain(ctx context.Context) error {
	cutoff := m.now().Add(-m.opts.SnapshotRetention)

	m.mu.Lock()
	keep := ""
	if safe := m.sortedSnapshotsLocked(true); len(safe) > 0 {
		keep = safe[0].SnapshotID
	}
	var expired []string
	for id, s := range m.snapshots {
		if id != keep && s.Timestamp.Before(cutoff) {
			expired = append(expired, id)
			delete(m.snapshots, id)
		}
	}
	if over := len(m.history) - m.opts.MaxHistory; over > 0 {
		m.history = append(m.history[:0:0], m.history[over:]...)
	}
	m.updateBacklogLocked()
	m.mu.Unlock()

	if m.cache != nil {
		for _, id := range expired {
			if err := m.cache.Delete(ctx, cache.SnapshotKey(id)); err != nil {
				m.logger.Warn("cache delete failed", zap.String("snapshot_id", id), zap.Error(err))
			}
		}
	}
	if len(expired) > 0 {
		m.logger.Info("expired snapshots removed", zap.Int("count", len(expired)), zap.String("kept_safe", keep))
	}
	return nil
}
