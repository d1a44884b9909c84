package rollback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zvirb/comandind-sub004/internal/cache"
	"github.com/zvirb/comandind-sub004/internal/domain"
)

func snapshotServices(images map[string]string) map[string]domain.ContainerState {
	out := make(map[string]domain.ContainerState, len(images))
	for svc, image := range images {
		out[svc] = domain.ContainerState{
			Service: svc,
			Name:    "/" + svc,
			Image:   image,
			Status:  "running",
			Env:     []string{"SERVICE=" + svc},
		}
	}
	return out
}

func actions(steps []domain.RollbackStep) []string {
	out := make([]string, 0, len(steps))
	for _, s := range steps {
		out = append(out, s.Service+":"+s.Action)
	}
	return out
}

func TestExecuteNextRestoresService(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.runtime.add("api", "api:v3")
	f.addSnapshot(time.Hour, healthy(), true, snapshotServices(map[string]string{"api": "api:v2"}))

	op, err := f.m.TriggerRollback(ctx, "api", domain.TriggerHealthDegradation, "")
	require.NoError(t, err)
	require.NoError(t, f.m.ExecuteNext(ctx))

	done, err := f.m.GetOperation(op.RollbackID)
	require.NoError(t, err)
	assert.Equal(t, domain.RollbackCompleted, done.Status)
	assert.Equal(t, []string{
		"api:stop_container",
		"api:remove_container",
		"api:pull_image",
		"api:start_container",
		"api:wait_for_health",
	}, actions(done.RollbackSteps))
	for _, s := range done.RollbackSteps {
		assert.True(t, s.Success, s.Action)
	}
	require.NotNil(t, done.StartedAt)
	require.NotNil(t, done.CompletedAt)
	assert.Equal(t, 1.0, done.SuccessMetrics["restored_ratio"])

	assert.Equal(t, []string{"stop api", "remove api", "pull api:v2", "run api"}, f.runtime.Calls())

	// The service is free for a new rollback
	_, err = f.m.TriggerRollback(ctx, "api", domain.TriggerManual, "")
	assert.NoError(t, err)

	assert.Equal(t, []domain.RollbackStatus{domain.RollbackCompleted}, f.events.finished)
	require.Len(t, f.archive.rollbacks, 1, "archive failures are logged, not fatal")

	var cached domain.RollbackOperation
	require.NoError(t, cache.GetJSON(ctx, f.store, cache.OperationKey(op.RollbackID), &cached))
	assert.Equal(t, domain.RollbackCompleted, cached.Status)
}

func TestExecuteNextSkipsPullForSameImage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.runtime.add("redis", "redis:7")
	f.addSnapshot(time.Hour, healthy(), true, snapshotServices(map[string]string{"redis": "redis:7"}))

	_, err := f.m.TriggerRollback(ctx, "redis", domain.TriggerManual, "")
	require.NoError(t, err)
	require.NoError(t, f.m.ExecuteNext(ctx))

	assert.Equal(t, []string{"stop redis", "remove redis", "run redis"}, f.runtime.Calls())
}

func TestExecuteNextPriorityOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.addSnapshot(time.Hour, healthy(), true, snapshotServices(map[string]string{
		"webui": "webui:1", "postgres": "postgres:16", "api": "api:1",
	}))

	webui, err := f.m.TriggerRollback(ctx, "webui", domain.TriggerManual, "")
	require.NoError(t, err)
	f.now = f.now.Add(time.Second)
	pg, err := f.m.TriggerRollback(ctx, "postgres", domain.TriggerManual, "")
	require.NoError(t, err)
	f.now = f.now.Add(time.Second)
	api, err := f.m.TriggerRollback(ctx, "api", domain.TriggerManual, "")
	require.NoError(t, err)

	var order []string
	for i := 0; i < 3; i++ {
		require.NoError(t, f.m.ExecuteNext(ctx))
		st := f.m.GetRollbackStatus()
		order = append(order, st.Recent[0].RollbackID)
	}
	assert.Equal(t, []string{pg.RollbackID, api.RollbackID, webui.RollbackID}, order)

	// Queue drained
	require.NoError(t, f.m.ExecuteNext(ctx))
	assert.Len(t, f.m.GetRollbackStatus().Recent, 3)
}

func TestExecuteNextFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.runtime.add("api", "api:1")
	f.runtime.add("webui", "webui:1")
	f.runtime.fail["run webui"] = errors.New("port in use")
	f.addSnapshot(time.Hour, healthy(), true, snapshotServices(map[string]string{"api": "api:1", "webui": "webui:1"}))

	op, err := f.m.RequestManualRollback(ctx, []string{"api", "webui"}, "", "bad deploy")
	require.NoError(t, err)
	require.NoError(t, f.m.ExecuteNext(ctx))

	done, err := f.m.GetOperation(op.RollbackID)
	require.NoError(t, err)
	assert.Equal(t, domain.RollbackPartial, done.Status)

	last := done.RollbackSteps[len(done.RollbackSteps)-1]
	assert.Equal(t, "webui", last.Service)
	assert.Equal(t, "start_container", last.Action)
	assert.False(t, last.Success)
	assert.Equal(t, "port in use", last.Error)
	assert.Equal(t, 0.5, done.SuccessMetrics["restored_ratio"])
}

func TestExecuteNextServiceMissingFromSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.addSnapshot(time.Hour, healthy(), true, nil)

	op, err := f.m.TriggerRollback(ctx, "api", domain.TriggerManual, "")
	require.NoError(t, err)
	require.NoError(t, f.m.ExecuteNext(ctx))

	done, err := f.m.GetOperation(op.RollbackID)
	require.NoError(t, err)
	assert.Equal(t, domain.RollbackFailed, done.Status)
	assert.Equal(t, []string{"api:lookup_snapshot"}, actions(done.RollbackSteps))
	assert.Empty(t, f.runtime.Calls())
}

func TestExecuteNextUnhealthyAfterRestart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{HealthWaitTimeout: 30 * time.Millisecond})
	f.addSnapshot(time.Hour, healthy(), true, snapshotServices(map[string]string{"qdrant": "qdrant:1"}))
	f.provider.Set("qdrant", 0.4)

	op, err := f.m.TriggerRollback(ctx, "qdrant", domain.TriggerManual, "")
	require.NoError(t, err)
	require.NoError(t, f.m.ExecuteNext(ctx))

	done, err := f.m.GetOperation(op.RollbackID)
	require.NoError(t, err)
	assert.Equal(t, domain.RollbackFailed, done.Status)
	// Nothing was running, so the restore starts directly
	assert.Equal(t, []string{"qdrant:pull_image", "qdrant:start_container", "qdrant:wait_for_health"}, actions(done.RollbackSteps))
	assert.Equal(t, 0.4, done.RollbackSteps[2].Details["health_score"])
}

func TestExecuteNextPausedByEmergencyStop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.addSnapshot(time.Hour, healthy(), true, nil)

	op, err := f.m.TriggerRollback(ctx, "api", domain.TriggerManual, "")
	require.NoError(t, err)
	f.esm.Trigger("operator")
	require.NoError(t, f.m.ExecuteNext(ctx))

	pending, err := f.m.GetOperation(op.RollbackID)
	require.NoError(t, err)
	assert.Equal(t, domain.RollbackPending, pending.Status)
}

func TestExecuteNextTamperedSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	snap := f.addSnapshot(time.Hour, healthy(), true, snapshotServices(map[string]string{"api": "api:1"}))

	op, err := f.m.TriggerRollback(ctx, "api", domain.TriggerManual, "")
	require.NoError(t, err)

	f.m.mu.Lock()
	f.m.snapshots[snap.SnapshotID].HealthScores = map[string]float64{"api": 0.1}
	f.m.mu.Unlock()

	require.NoError(t, f.m.ExecuteNext(ctx))
	done, err := f.m.GetOperation(op.RollbackID)
	require.NoError(t, err)
	assert.Equal(t, domain.RollbackFailed, done.Status)
	assert.Contains(t, done.RollbackSteps[0].Error, domain.ErrChecksumMismatch.Error())
}

func TestWaitForServiceHealth(t *testing.T) {
	f := newFixture(t, Options{})

	score, err := f.m.WaitForServiceHealth(context.Background(), "api", 0.7, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0.9, score)

	f.provider.Set("api", 0.5)
	score, err = f.m.WaitForServiceHealth(context.Background(), "api", 0.7, 20*time.Millisecond)
	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.Equal(t, 0.5, score)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.m.WaitForServiceHealth(ctx, "api", 0.7, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWaitForServiceHealthRecovers(t *testing.T) {
	f := newFixture(t, Options{})
	f.provider.Set("api", 0.2)

	go func() {
		time.Sleep(20 * time.Millisecond)
		f.provider.Set("api", 0.8)
	}()
	score, err := f.m.WaitForServiceHealth(context.Background(), "api", 0.7, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0.8, score)
}
