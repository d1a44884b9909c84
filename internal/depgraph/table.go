package depgraph

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/zvirb/comandind-sub004/internal/domain"
)

// Defaults applied to edges that omit the field
const (
	DefaultHealthThreshold = 0.7
	DefaultRetryCount      = 3
	DefaultTimeoutSeconds  = 30
)

//go:embed default_table.yaml
var defaultTable []byte

var tableValidate = validator.New()

// EdgeSpec is one dependency entry as written in the table file
type EdgeSpec struct {
	DependsOn       string                `yaml:"depends_on" validate:"required"`
	Type            domain.DependencyType `yaml:"type" validate:"required,oneof=sync async optional critical"`
	Weight          float64               `yaml:"weight" validate:"gte=0,lte=1"`
	HealthThreshold *float64              `yaml:"health_threshold" validate:"omitempty,gte=0,lte=1"`
	CircuitBreaker  *bool                 `yaml:"circuit_breaker"`
	RetryCount      *int                  `yaml:"retry_count" validate:"omitempty,gte=1,lte=100"`
	TimeoutSeconds  *int                  `yaml:"timeout_seconds" validate:"omitempty,gte=1,lte=600"`
}

// Table is the static declarative dependency table
type Table struct {
	Dependencies  map[string][]EdgeSpec           `yaml:"dependencies"`
	HealthSources map[string][]domain.ProbeConfig `yaml:"health_sources"`
}

// DefaultTable returns the table compiled into the binary
func DefaultTable() (*Table, error) {
	return ParseTable(defaultTable)
}

// LoadTable reads a table from disk. An empty path selects the embedded default.
func LoadTable(path string) (*Table, error) {
	if path == "" {
		return DefaultTable()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dependency table %s: %w", path, err)
	}
	return ParseTable(data)
}

// ParseTable decodes and validates a YAML table
func ParseTable(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse dependency table: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Validate checks every edge and rejects self-loops and duplicates.
// Cycles spanning several services are detected when the graph is built.
func (t *Table) Validate() error {
	if len(t.Dependencies) == 0 {
		return fmt.Errorf("%w: table declares no dependencies", domain.ErrInvalidDependency)
	}
	for service, specs := range t.Dependencies {
		if service == "" {
			return fmt.Errorf("%w: empty service name", domain.ErrInvalidDependency)
		}
		seen := make(map[string]bool, len(specs))
		for _, spec := range specs {
			if err := tableValidate.Struct(spec); err != nil {
				return fmt.Errorf("%w: %s -> %s: %v", domain.ErrInvalidDependency, service, spec.DependsOn, err)
			}
			if spec.DependsOn == service {
				return fmt.Errorf("%w: %s depends on itself", domain.ErrCyclicDependency, service)
			}
			if seen[spec.DependsOn] {
				return fmt.Errorf("%w: duplicate edge %s -> %s", domain.ErrInvalidDependency, service, spec.DependsOn)
			}
			seen[spec.DependsOn] = true
		}
	}
	return nil
}

// Edges expands the table into fully defaulted edges ordered by service, then dependency
func (t *Table) Edges() []domain.ServiceDependency {
	var edges []domain.ServiceDependency
	for service, specs := range t.Dependencies {
		for _, spec := range specs {
			edges = append(edges, spec.toDependency(service))
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Service != edges[j].Service {
			return edges[i].Service < edges[j].Service
		}
		return edges[i].DependsOn < edges[j].DependsOn
	})
	return edges
}

func (s EdgeSpec) toDependency(service string) domain.ServiceDependency {
	dep := domain.ServiceDependency{
		Service:               service,
		DependsOn:             s.DependsOn,
		Type:                  s.Type,
		Weight:                s.Weight,
		HealthThreshold:       DefaultHealthThreshold,
		CircuitBreakerEnabled: true,
		RetryCount:            DefaultRetryCount,
		TimeoutSeconds:        DefaultTimeoutSeconds,
	}
	if s.HealthThreshold != nil {
		dep.HealthThreshold = *s.HealthThreshold
	}
	if s.CircuitBreaker != nil {
		dep.CircuitBreakerEnabled = *s.CircuitBreaker
	}
	if s.RetryCount != nil {
		dep.RetryCount = *s.RetryCount
	}
	if s.TimeoutSeconds != nil {
		dep.TimeoutSeconds = *s.TimeoutSeconds
	}
	return dep
}
