package container

import (
	"context"
	"strings"
	"time"

	"github.com/zvirb/comandind-sub004/internal/domain"
)

// ComposeServiceLabel identifies the compose service a container belongs to
const ComposeServiceLabel = "com.docker.compose.service"

// Info is the summary of a container as listed by the runtime
type Info struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Service string            `json:"service"`
	Image   string            `json:"image"`
	State   string            `json:"state"`
	Status  string            `json:"status"`
	Labels  map[string]string `json:"labels,omitempty"`
}

// RunSpec describes a container to create and start
type RunSpec struct {
	Name    string
	Image   string
	Env     []string
	Cmd     []string
	Labels  map[string]string
	Network string
}

// Runtime is the container operations the rollback manager and probes need
type Runtime interface {
	List(ctx context.Context) ([]Info, error)
	Inspect(ctx context.Context, nameOrID string) (domain.ContainerState, error)
	Stop(ctx context.Context, nameOrID string, timeout time.Duration) error
	Remove(ctx context.Context, nameOrID string) error
	Pull(ctx context.Context, image string) error
	Run(ctx context.Context, spec RunSpec) (string, error)
}

// ServiceName derives the logical service from labels, falling back to the container name
func ServiceName(name string, labels map[string]string) string {
	if svc := labels[ComposeServiceLabel]; svc != "" {
		return svc
	}
	return strings.TrimPrefix(name, "/")
}

// FindService returns the container backing a service
func FindService(ctx context.Context, rt Runtime, service string) (Info, error) {
	containers, err := rt.List(ctx)
	if err != nil {
		return Info{}, err
	}
	for _, c := range containers {
		if c.Service == service || c.Name == service {
			return c, nil
		}
	}
	return Info{}, domain.ErrContainerNotFound
}

// ByService indexes containers by their service name. When several
// containers share a service the running one wins.
func ByService(containers []Info) map[string]Info {
	out := make(map[string]Info, len(containers))
	for _, c := range containers {
		if prev, ok := out[c.Service]; ok && prev.State == "running" {
			continue
		}
		out[c.Service] = c
	}
	return out
}
