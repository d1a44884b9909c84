package domain

// ProbeType identifies the health source implementation
type ProbeType string

const (
	ProbeTypeHTTP       ProbeType = "http"
	ProbeTypeCmd        ProbeType = "cmd"
	ProbeTypeK8s        ProbeType = "k8s"
	ProbeTypePrometheus ProbeType = "prometheus"
	ProbeTypeDocker     ProbeType = "docker"
	ProbeTypeAWS        ProbeType = "aws"
)

// ProbeConfig declares one health source for a service
type ProbeConfig struct {
	Name       string         `json:"name" yaml:"name"`
	Type       ProbeType      `json:"type" yaml:"type"`
	Properties map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// TopologyNode is a service in the exported dependency graph
type TopologyNode struct {
	ID          string   `json:"id"`
	HealthScore *float64 `json:"health_score,omitempty"`
	Critical    bool     `json:"critical"`
	Dependents  int      `json:"dependents"`
}

// TopologyEdge is a dependency edge in the exported graph
type TopologyEdge struct {
	Source       string           `json:"source"`
	Target       string           `json:"target"`
	Type         DependencyType   `json:"dependency_type"`
	Weight       float64          `json:"weight"`
	Status       DependencyStatus `json:"status,omitempty"`
	BreakerState BreakerState     `json:"breaker_state,omitempty"`
}

// DependencyTopology is the full service graph
type DependencyTopology struct {
	Nodes     []TopologyNode `json:"nodes"`
	Edges     []TopologyEdge `json:"edges"`
	Timestamp *string        `json:"timestamp,omitempty"`
}
