package probe

import (
	"fmt"
	"strconv"
	"time"

	"k8s.io/client-go/kubernetes"

	"github.com/zvirb/comandind-sub004/internal/container"
	"github.com/zvirb/comandind-sub004/internal/domain"
)

// Clients carries the optional backends probes talk to. A nil backend makes
// probes of that type fail at execution time rather than at build time.
type Clients struct {
	Runtime      container.Runtime
	Kubernetes   kubernetes.Interface
	K8sNamespace string
	AWS          *AWSClients
}

// Build creates a probe for a service from its declarative config
func Build(service string, cfg domain.ProbeConfig, clients Clients) (Probe, error) {
	props := properties(cfg.Properties)
	name := cfg.Name
	if name == "" {
		name = fmt.Sprintf("%s-%s", service, cfg.Type)
	}

	switch cfg.Type {
	case domain.ProbeTypeHTTP:
		return NewHTTPProbe(HTTPProbeConfig{
			Name:           name,
			Service:        service,
			URL:            props.String("url"),
			Method:         props.String("method"),
			ExpectedStatus: props.Int("expected_status"),
			Timeout:        props.Seconds("timeout_seconds"),
			SlowAfter:      props.Seconds("slow_after_seconds"),
			BodyPattern:    props.String("body_pattern"),
			Headers:        props.StringMap("headers"),
		})
	case domain.ProbeTypeCmd:
		command := props.String("command")
		if command == "" {
			return nil, fmt.Errorf("cmd probe %s: command is required", name)
		}
		return NewCmdProbe(CmdProbeConfig{
			Name:             name,
			Service:          service,
			Command:          command,
			Env:              props.StringMap("env"),
			ExpectedExitCode: props.Int("expected_exit_code"),
			OutputContains:   props.String("output_contains"),
			Timeout:          props.Seconds("timeout_seconds"),
		}), nil
	case domain.ProbeTypePrometheus:
		return NewPromProbe(PromProbeConfig{
			Name:       name,
			Service:    service,
			Endpoint:   props.String("endpoint"),
			Query:      props.String("query"),
			Comparator: props.String("comparator"),
			Threshold:  props.Float("threshold"),
			Aggregate:  props.String("aggregate"),
			Normalize:  props.Bool("normalize"),
			Timeout:    props.Seconds("timeout_seconds"),
		}), nil
	case domain.ProbeTypeK8s:
		namespace := props.String("namespace")
		if namespace == "" {
			namespace = clients.K8sNamespace
		}
		return NewK8sProbe(K8sProbeConfig{
			Name:          name,
			Service:       service,
			Clientset:     clients.Kubernetes,
			Namespace:     namespace,
			ResourceKind:  props.String("resource_kind"),
			ResourceName:  props.String("resource_name"),
			LabelSelector: props.String("label_selector"),
			ExpectedValue: props.String("expected_value"),
		}), nil
	case domain.ProbeTypeDocker:
		return NewDockerProbe(DockerProbeConfig{
			Name:      name,
			Service:   service,
			Container: props.String("container"),
			Runtime:   clients.Runtime,
		}), nil
	case domain.ProbeTypeAWS:
		id := props.String("resource_id")
		if id == "" {
			return nil, fmt.Errorf("aws probe %s: resource_id is required", name)
		}
		return NewAWSProbe(AWSProbeConfig{
			Name:         name,
			Service:      service,
			ResourceKind: props.String("resource_kind"),
			ResourceID:   id,
			Clients:      clients.AWS,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported probe type: %q", cfg.Type)
	}
}

// BuildAll creates every probe declared for a service
func BuildAll(service string, cfgs []domain.ProbeConfig, clients Clients) ([]Probe, error) {
	out := make([]Probe, 0, len(cfgs))
	for _, cfg := range cfgs {
		p, err := Build(service, cfg, clients)
		if err != nil {
			return nil, fmt.Errorf("build probe for %s: %w", service, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// properties reads loosely typed YAML/JSON values
type properties map[string]any

func (p properties) String(key string) string {
	switch v := p[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func (p properties) Float(key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	default:
		return 0
	}
}

func (p properties) Int(key string) int {
	return int(p.Float(key))
}

func (p properties) Bool(key string) bool {
	switch v := p[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	default:
		return false
	}
}

func (p properties) Seconds(key string) time.Duration {
	return time.Duration(p.Float(key) * float64(time.Second))
}

func (p properties) StringMap(key string) map[string]string {
	raw, ok := p[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[k] = fmt.Sprint(v)
	}
	return out
}
