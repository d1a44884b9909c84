package probe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zvirb/comandind-sub004/internal/container"
	"github.com/zvirb/comandind-sub004/internal/domain"
)

type fakeRuntime struct {
	containers []container.Info
	states     map[string]domain.ContainerState
}

func (f *fakeRuntime) List(ctx context.Context) ([]container.Info, error) {
	return f.containers, nil
}

func (f *fakeRuntime) Inspect(ctx context.Context, nameOrID string) (domain.ContainerState, error) {
	st, ok := f.states[nameOrID]
	if !ok {
		return domain.ContainerState{}, domain.ErrContainerNotFound
	}
	return st, nil
}

func (f *fakeRuntime) Stop(ctx context.Context, nameOrID string, timeout time.Duration) error {
	return nil
}
func (f *fakeRuntime) Remove(ctx context.Context, nameOrID string) error { return nil }
func (f *fakeRuntime) Pull(ctx context.Context, image string) error      { return nil }
func (f *fakeRuntime) Run(ctx context.Context, spec container.RunSpec) (string, error) {
	return "new-id", nil
}

func TestDockerProbeByService(t *testing.T) {
	rt := &fakeRuntime{
		containers: []container.Info{
			{ID: "abc123", Name: "stack-postgres-1", Service: "postgres", State: "running"},
		},
		states: map[string]domain.ContainerState{
			"abc123": {Name: "stack-postgres-1", Image: "postgres:16", Status: "running", Health: "healthy"},
		},
	}

	p := NewDockerProbe(DockerProbeConfig{Name: "pg", Service: "postgres", Runtime: rt})
	assert.Equal(t, "docker", p.Type())

	result, err := p.Execute(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Equal(t, 1.0, result.Score)
	assert.Equal(t, "postgres:16", result.Detail["image"])
}

func TestDockerProbeExplicitContainer(t *testing.T) {
	rt := &fakeRuntime{
		states: map[string]domain.ContainerState{
			"redis": {Name: "redis", Status: "running", Health: "unhealthy"},
		},
	}

	p := NewDockerProbe(DockerProbeConfig{Name: "redis", Service: "redis", Container: "redis", Runtime: rt})
	result, err := p.Execute(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Equal(t, 0.2, result.Score)
}

func TestDockerProbeMissingContainer(t *testing.T) {
	p := NewDockerProbe(DockerProbeConfig{Name: "ghost", Service: "ghost", Runtime: &fakeRuntime{}})
	_, err := p.Execute(context.Background())
	assert.ErrorIs(t, err, domain.ErrContainerNotFound)

	p = NewDockerProbe(DockerProbeConfig{Name: "no-runtime", Service: "api"})
	result := SafeExecute(context.Background(), p, nil)
	assert.Equal(t, 0.0, result.Score)
}

func TestContainerScore(t *testing.T) {
	tests := []struct {
		status string
		health string
		want   float64
	}{
		{"running", "", 1.0},
		{"running", "healthy", 1.0},
		{"running", "starting", 0.5},
		{"running", "unhealthy", 0.2},
		{"restarting", "", 0.3},
		{"paused", "", 0.1},
		{"exited", "", 0},
		{"dead", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.status+"/"+tt.health, func(t *testing.T) {
			assert.Equal(t, tt.want, ContainerScore(tt.status, tt.health))
		})
	}
}
