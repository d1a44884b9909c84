package rollback

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/zvirb/comandind-sub004/internal/cache"
	"github.com/zvirb/comandind-sub004/internal/container"
	"github.com/zvirb/comandind-sub004/internal/domain"
)

// CreateSnapshot captures containers, config hashes, database metadata and
// health, then stores the snapshot. It fails only when the container
// runtime cannot be listed; other sources degrade to empty sections.
func (m *Manager) CreateSnapshot(ctx context.Context) (*domain.SystemSnapshot, error) {
	services, err := m.captureContainers(ctx)
	if err != nil {
		m.logger.Error("snapshot aborted", zap.Error(err))
		return nil, fmt.Errorf("capture containers: %w", err)
	}

	health, err := m.provider.AllHealthScores(ctx)
	if err != nil {
		m.logger.Warn("snapshot health unavailable", zap.Error(err))
		health = map[string]float64{}
	}
	health = m.finiteScores(health)

	snap := &domain.SystemSnapshot{
		SnapshotID:     uuid.NewString(),
		Timestamp:      m.now(),
		Services:       services,
		Configurations: HashFiles(m.opts.ConfigFiles),
		DatabaseState:  m.captureDatabase(ctx),
		HealthScores:   health,
		Metrics:        SnapshotMetrics(health, services),
	}
	snap.RollbackSafe = IsRollbackSafe(health, m.opts.CriticalServices, m.opts.Thresholds)
	snap.Checksum = snap.ComputeChecksum()

	m.mu.Lock()
	m.snapshots[snap.SnapshotID] = snap
	m.mu.Unlock()

	m.persist(ctx, cache.SnapshotKey(snap.SnapshotID), snap, cache.SnapshotTTL)
	m.archiveSnapshot(ctx, *snap)
	m.metrics.RecordSnapshot(snap.RollbackSafe)

	m.logger.Info("snapshot created",
		zap.String("snapshot_id", snap.SnapshotID),
		zap.Int("services", len(services)),
		zap.Int("configurations", len(snap.Configurations)),
		zap.Bool("rollback_safe", snap.RollbackSafe),
	)
	out := *snap
	return &out, nil
}

// finiteScores replaces NaN and infinite scores with 0. JSON cannot encode
// them, so the snapshot could be neither cached nor archived.
func (m *Manager) finiteScores(health map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(health))
	for svc, score := range health {
		if math.IsNaN(score) || math.IsInf(score, 0) {
			m.logger.Warn("non-finite health score recorded as 0",
				zap.String("service", svc), zap.Float64("score", score))
			score = 0
		}
		out[svc] = score
	}
	return out
}

func (m *Manager) captureContainers(ctx context.Context) (map[string]domain.ContainerState, error) {
	out := make(map[string]domain.ContainerState)
	if m.runtime == nil {
		return out, nil
	}
	containers, err := m.runtime.List(ctx)
	if err != nil {
		return nil, err
	}
	for svc, c := range container.ByService(containers) {
		state, err := m.runtime.Inspect(ctx, c.ID)
		if err != nil {
			m.logger.Warn("inspect container failed", zap.String("service", svc), zap.Error(err))
			continue
		}
		state.Service = svc
		out[svc] = state
	}
	return out, nil
}

func (m *Manager) captureDatabase(ctx context.Context) map[string]string {
	if m.database == nil {
		return map[string]string{}
	}
	state, err := m.database.DatabaseState(ctx)
	if err != nil {
		m.logger.Warn("database metadata unavailable", zap.Error(err))
		return map[string]string{"status": "unavailable"}
	}
	return state
}

// HashFiles returns the hex sha256 of each readable file. Unreadable files
// are recorded as "missing" so a later snapshot shows the change.
func HashFiles(paths []string) map[string]string {
	out := make(map[string]string, len(paths))
	for _, p := range paths {
		sum, err := hashFile(p)
		if err != nil {
			out[p] = "missing"
			continue
		}
		out[p] = sum
	}
	return out
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// IsRollbackSafe reports whether a snapshot taken at these scores may be
// restored. Every critical service must be present and healthy, and the
// average must clear the bar.
func IsRollbackSafe(health map[string]float64, critical []string, th Thresholds) bool {
	if len(health) == 0 {
		return false
	}
	for _, svc := range critical {
		if health[svc] < th.SafeCritical {
			return false
		}
	}
	return stat.Mean(values(health), nil) >= th.SafeAverage
}

// SnapshotMetrics summarises health and container state for a snapshot
func SnapshotMetrics(health map[string]float64, services map[string]domain.ContainerState) map[string]float64 {
	out := map[string]float64{
		"services_total":     float64(len(health)),
		"containers_total":   float64(len(services)),
		"containers_running": 0,
	}
	for _, s := range services {
		if s.Status == "running" {
			out["containers_running"]++
		}
	}
	if len(health) == 0 {
		return out
	}
	vals := values(health)
	out["health_mean"] = stat.Mean(vals, nil)
	out["health_min"] = floats.Min(vals)
	if len(vals) > 1 {
		out["health_stddev"] = stat.StdDev(vals, nil)
	}
	return out
}

func values(m map[string]float64) []float64 {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]float64, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}

// Snapshots returns every stored snapshot, newest first
func (m *Manager) Snapshots() []domain.SystemSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedSnapshotsLocked(false)
}

// GetSnapshot returns a stored snapshot by ID
func (m *Manager) GetSnapshot(id string) (domain.SystemSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snapshots[id]
	if !ok {
		return domain.SystemSnapshot{}, fmt.Errorf("%w: %s", domain.ErrSnapshotNotFound, id)
	}
	return *snap, nil
}

// FindRollbackTarget picks the newest safe snapshot in which the service was
// healthy, falling back to the newest safe snapshot
func (m *Manager) FindRollbackTarget(service string) (domain.SystemSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findTargetLocked(service)
}

func (m *Manager) findTargetLocked(service string) (domain.SystemSnapshot, error) {
	safe := m.sortedSnapshotsLocked(true)
	if len(safe) == 0 {
		return domain.SystemSnapshot{}, domain.ErrNoRollbackTarget
	}
	for _, snap := range safe {
		if score, ok := snap.HealthScores[service]; ok && score > m.opts.Thresholds.TargetHealth {
			return snap, nil
		}
	}
	return safe[0], nil
}

// sortedSnapshotsLocked lists snapshots newest first; m.mu must be held
func (m *Manager) sortedSnapshotsLocked(safeOnly bool) []domain.SystemSnapshot {
	out := make([]domain.SystemSnapshot, 0, len(m.snapshots))
	for _, s := range m.snapshots {
		if safeOnly && !s.RollbackSafe {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].SnapshotID > out[j].SnapshotID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// verifiedSnapshot returns a snapshot that passes checksum verification
func (m *Manager) verifiedSnapshot(id string) (domain.SystemSnapshot, error) {
	snap, err := m.GetSnapshot(id)
	if err != nil {
		return snap, err
	}
	if err := snap.VerifyChecksum(); err != nil {
		return snap, fmt.Errorf("snapshot %s: %w", id, err)
	}
	return snap, nil
}
