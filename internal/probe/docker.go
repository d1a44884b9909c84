package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/zvirb/comandind-sub004/internal/container"
)

// DockerProbe scores a service by the state of its container
type DockerProbe struct {
	name      string
	service   string
	container string
	runtime   container.Runtime
}

// DockerProbeConfig holds construction parameters for DockerProbe.
// When Container is empty the container is located by service label.
type DockerProbeConfig struct {
	Name      string
	Service   string
	Container string
	Runtime   container.Runtime
}

// NewDockerProbe creates a container state probe
func NewDockerProbe(cfg DockerProbeConfig) *DockerProbe {
	return &DockerProbe{
		name:      cfg.Name,
		service:   cfg.Service,
		container: cfg.Container,
		runtime:   cfg.Runtime,
	}
}

func (p *DockerProbe) Name() string    { return p.name }
func (p *DockerProbe) Type() string    { return "docker" }
func (p *DockerProbe) Service() string { return p.service }

func (p *DockerProbe) Execute(ctx context.Context) (*ProbeResult, error) {
	if p.runtime == nil {
		return nil, fmt.Errorf("docker probe %s: no container runtime configured", p.name)
	}

	target := p.container
	if target == "" {
		info, err := container.FindService(ctx, p.runtime, p.service)
		if err != nil {
			return nil, fmt.Errorf("find container for %s: %w", p.service, err)
		}
		target = info.ID
	}

	state, err := p.runtime.Inspect(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("inspect container %s: %w", target, err)
	}

	score := ContainerScore(state.Status, state.Health)
	return &ProbeResult{
		ProbeName: p.name,
		ProbeType: "docker",
		Service:   p.service,
		Passed:    score >= 1,
		Score:     score,
		Detail: map[string]any{
			"container": state.Name,
			"image":     state.Image,
			"status":    state.Status,
			"health":    state.Health,
		},
		ExecutedAt: time.Now().UTC(),
	}, nil
}

// ContainerScore maps a container state and healthcheck status to a score
func ContainerScore(status, health string) float64 {
	switch status {
	case "running":
		switch health {
		case "unhealthy":
			return 0.2
		case "starting":
			return 0.5
		default:
			return 1.0
		}
	case "restarting":
		return 0.3
	case "paused":
		return 0.1
	default:
		return 0
	}
}
