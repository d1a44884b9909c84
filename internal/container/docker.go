package container

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/zvirb/comandind-sub004/internal/domain"
)

// dockerAPI is the subset of the Docker client used here
type dockerAPI interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	Close() error
}

// Docker implements Runtime against the Docker Engine API
type Docker struct {
	cli dockerAPI
}

// NewDocker connects using the standard DOCKER_* environment variables
func NewDocker() (*Docker, error) {
	cli, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Docker{cli: cli}, nil
}

func (d *Docker) List(ctx context.Context) ([]Info, error) {
	summaries, err := d.cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	out := make([]Info, 0, len(summaries))
	for _, s := range summaries {
		name := ""
		if len(s.Names) > 0 {
			name = strings.TrimPrefix(s.Names[0], "/")
		}
		out = append(out, Info{
			ID:      s.ID,
			Name:    name,
			Service: ServiceName(name, s.Labels),
			Image:   s.Image,
			State:   string(s.State),
			Status:  s.Status,
			Labels:  s.Labels,
		})
	}
	return out, nil
}

func (d *Docker) Inspect(ctx context.Context, nameOrID string) (domain.ContainerState, error) {
	resp, err := d.cli.ContainerInspect(ctx, nameOrID)
	if err != nil {
		return domain.ContainerState{}, wrapNotFound(err, nameOrID)
	}
	if resp.ContainerJSONBase == nil {
		return domain.ContainerState{}, fmt.Errorf("inspect %s: empty response", nameOrID)
	}

	name := strings.TrimPrefix(resp.Name, "/")
	state := domain.ContainerState{
		ContainerID: resp.ID,
		Name:        name,
	}
	if resp.State != nil {
		state.Status = string(resp.State.Status)
		if resp.State.Health != nil {
			state.Health = string(resp.State.Health.Status)
		}
	}
	if resp.HostConfig != nil {
		state.Network = string(resp.HostConfig.NetworkMode)
	}
	if resp.Config != nil {
		state.Image = resp.Config.Image
		state.Env = resp.Config.Env
		state.Cmd = []string(resp.Config.Cmd)
		state.Labels = resp.Config.Labels
	}
	state.Service = ServiceName(name, state.Labels)
	return state, nil
}

func (d *Docker) Stop(ctx context.Context, nameOrID string, timeout time.Duration) error {
	secs := int(timeout.Seconds())
	if err := d.cli.ContainerStop(ctx, nameOrID, container.StopOptions{Timeout: &secs}); err != nil {
		return wrapNotFound(err, nameOrID)
	}
	return nil
}

func (d *Docker) Remove(ctx context.Context, nameOrID string) error {
	if err := d.cli.ContainerRemove(ctx, nameOrID, container.RemoveOptions{Force: true}); err != nil {
		return wrapNotFound(err, nameOrID)
	}
	return nil
}

func (d *Docker) Pull(ctx context.Context, ref string) error {
	rc, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull %s: %w", ref, err)
	}
	defer rc.Close()

	// The pull only completes once the progress stream is drained
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("pull %s: %w", ref, err)
	}
	return nil
}

func (d *Docker) Run(ctx context.Context, spec RunSpec) (string, error) {
	hostConfig := &container.HostConfig{
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
	}
	var netConfig *network.NetworkingConfig
	if spec.Network != "" {
		hostConfig.NetworkMode = container.NetworkMode(spec.Network)
		if !isBuiltinNetwork(spec.Network) {
			netConfig = &network.NetworkingConfig{
				EndpointsConfig: map[string]*network.EndpointSettings{spec.Network: {}},
			}
		}
	}

	created, err := d.cli.ContainerCreate(ctx, &container.Config{
		Image:  spec.Image,
		Env:    spec.Env,
		Cmd:    spec.Cmd,
		Labels: spec.Labels,
	}, hostConfig, netConfig, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", spec.Name, err)
	}

	if err := d.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return created.ID, fmt.Errorf("start %s: %w", spec.Name, err)
	}
	return created.ID, nil
}

// Close releases the client connection
func (d *Docker) Close() error {
	return d.cli.Close()
}

func isBuiltinNetwork(mode string) bool {
	switch mode {
	case "default", "bridge", "host", "none":
		return true
	}
	return strings.HasPrefix(mode, "container:")
}

func wrapNotFound(err error, name string) error {
	if cerrdefs.IsNotFound(err) {
		return fmt.Errorf("%s: %w", name, domain.ErrContainerNotFound)
	}
	return fmt.Errorf("%s: %w", name, err)
}
