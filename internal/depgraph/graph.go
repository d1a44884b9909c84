package depgraph

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/zvirb/comandind-sub004/internal/domain"
)

// Graph is the immutable service dependency graph. Edges point from a
// service to what it depends on; a reversed copy answers "who is hit when
// this fails". Built once, read concurrently without locking.
type Graph struct {
	ids      map[string]int64
	names    map[int64]string
	forward  *simple.WeightedDirectedGraph
	reversed *simple.DirectedGraph
	edges    map[domain.EdgeKey]domain.ServiceDependency
	ordered  []domain.ServiceDependency
}

// New builds a graph from a validated table. Tables containing a cycle are rejected.
func New(t *Table) (*Graph, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return FromEdges(t.Edges())
}

// FromEdges builds a graph from already expanded edges
func FromEdges(edges []domain.ServiceDependency) (*Graph, error) {
	g := &Graph{
		ids:      make(map[string]int64),
		names:    make(map[int64]string),
		forward:  simple.NewWeightedDirectedGraph(0, math.Inf(1)),
		reversed: simple.NewDirectedGraph(),
		edges:    make(map[domain.EdgeKey]domain.ServiceDependency, len(edges)),
	}

	for _, dep := range edges {
		if dep.Service == dep.DependsOn {
			return nil, fmt.Errorf("%w: %s depends on itself", domain.ErrCyclicDependency, dep.Service)
		}
		if _, dup := g.edges[dep.Key()]; dup {
			return nil, fmt.Errorf("%w: duplicate edge %s", domain.ErrInvalidDependency, dep.Key())
		}
		from := g.node(dep.Service)
		to := g.node(dep.DependsOn)
		g.forward.SetWeightedEdge(g.forward.NewWeightedEdge(simple.Node(from), simple.Node(to), dep.Weight))
		g.reversed.SetEdge(g.reversed.NewEdge(simple.Node(to), simple.Node(from)))
		g.edges[dep.Key()] = dep
		g.ordered = append(g.ordered, dep)
	}

	if cycles := topo.DirectedCyclesIn(g.forward); len(cycles) > 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrCyclicDependency, g.describe(cycles[0]))
	}
	return g, nil
}

func (g *Graph) node(name string) int64 {
	if id, ok := g.ids[name]; ok {
		return id
	}
	id := int64(len(g.ids))
	g.ids[name] = id
	g.names[id] = name
	g.forward.AddNode(simple.Node(id))
	g.reversed.AddNode(simple.Node(id))
	return id
}

func (g *Graph) describe(nodes []graph.Node) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = g.names[n.ID()]
	}
	return strings.Join(parts, " -> ")
}

// Services returns every service named in the table, sorted
func (g *Graph) Services() []string {
	out := make([]string, 0, len(g.ids))
	for name := range g.ids {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Has reports whether the service appears in the graph
func (g *Graph) Has(service string) bool {
	_, ok := g.ids[service]
	return ok
}

// Edges returns all edges ordered by service, then dependency
func (g *Graph) Edges() []domain.ServiceDependency {
	out := make([]domain.ServiceDependency, len(g.ordered))
	copy(out, g.ordered)
	return out
}

// EnabledEdges returns the edges that carry a circuit breaker
func (g *Graph) EnabledEdges() []domain.ServiceDependency {
	var out []domain.ServiceDependency
	for _, dep := range g.ordered {
		if dep.CircuitBreakerEnabled {
			out = append(out, dep)
		}
	}
	return out
}

// Edge looks up the edge service -> dependency
func (g *Graph) Edge(service, dependency string) (domain.ServiceDependency, bool) {
	dep, ok := g.edges[domain.EdgeKey{Service: service, Dependency: dependency}]
	return dep, ok
}

// DependenciesOf returns the outgoing edges of a service
func (g *Graph) DependenciesOf(service string) []domain.ServiceDependency {
	var out []domain.ServiceDependency
	for _, dep := range g.ordered {
		if dep.Service == service {
			out = append(out, dep)
		}
	}
	return out
}

// DirectDependents returns services with an edge into service, sorted
func (g *Graph) DirectDependents(service string) []string {
	id, ok := g.ids[service]
	if !ok {
		return nil
	}
	var out []string
	nodes := g.forward.To(id)
	for nodes.Next() {
		out = append(out, g.names[nodes.Node().ID()])
	}
	sort.Strings(out)
	return out
}

// DependentsOf returns direct dependents plus the dependents of those,
// deduplicated and excluding service itself. Deeper levels are not followed.
func (g *Graph) DependentsOf(service string) []string {
	direct := g.DirectDependents(service)
	if len(direct) == 0 {
		return nil
	}

	seen := map[string]bool{service: true}
	var out []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, d := range direct {
		add(d)
	}
	for _, d := range direct {
		for _, indirect := range g.DirectDependents(d) {
			add(indirect)
		}
	}
	sort.Strings(out)
	return out
}

// ShortestPath returns the propagation path from a failing root to target,
// walking dependency edges backwards. Falls back to [root, target] when no
// path exists or either end is unknown.
func (g *Graph) ShortestPath(root, target string) []string {
	fallback := []string{root, target}
	rootID, ok := g.ids[root]
	if !ok {
		return fallback
	}
	targetID, ok := g.ids[target]
	if !ok {
		return fallback
	}

	shortest := path.DijkstraFrom(g.reversed.Node(rootID), g.reversed)
	nodes, _ := shortest.To(targetID)
	if len(nodes) == 0 {
		return fallback
	}

	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = g.names[n.ID()]
	}
	return out
}

// Topology exports nodes and edges. Scores missing from health leave the
// node score unset.
func (g *Graph) Topology(health map[string]float64, critical map[string]bool) domain.DependencyTopology {
	services := g.Services()
	out := domain.DependencyTopology{
		Nodes: make([]domain.TopologyNode, 0, len(services)),
		Edges: make([]domain.TopologyEdge, 0, len(g.ordered)),
	}
	for _, svc := range services {
		node := domain.TopologyNode{
			ID:         svc,
			Critical:   critical[svc],
			Dependents: len(g.DirectDependents(svc)),
		}
		if score, ok := health[svc]; ok {
			node.HealthScore = &score
		}
		out.Nodes = append(out.Nodes, node)
	}
	for _, dep := range g.ordered {
		out.Edges = append(out.Edges, domain.TopologyEdge{
			Source: dep.Service,
			Target: dep.DependsOn,
			Type:   dep.Type,
			Weight: dep.Weight,
		})
	}
	return out
}
