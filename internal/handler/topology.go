package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zvirb/comandind-sub004/internal/depgraph"
	"github.com/zvirb/comandind-sub004/internal/monitor"
)

// TopologyHandler serves the dependency graph
type TopologyHandler struct {
	graph   *depgraph.Graph
	monitor *monitor.Monitor
}

// NewTopologyHandler creates a new TopologyHandler
func NewTopologyHandler(graph *depgraph.Graph, mon *monitor.Monitor) *TopologyHandler {
	return &TopologyHandler{graph: graph, monitor: mon}
}

// GetTopology returns nodes and edges decorated with live health and
// breaker state
func (h *TopologyHandler) GetTopology(c *gin.Context) {
	c.JSON(http.StatusOK, h.monitor.Topology())
}

// GetPath returns the path a failure of "from" takes to reach "to"
func (h *TopologyHandler) GetPath(c *gin.Context) {
	from := c.Query("from")
	to := c.Query("to")
	if from == "" || to == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "from and to are required"})
		return
	}
	for _, s := range []string{from, to} {
		if !h.graph.Has(s) {
			c.JSON(http.StatusNotFound, gin.H{"detail": "unknown service: " + s})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"from": from, "to": to, "path": h.graph.ShortestPath(from, to)})
}

// GetService returns one service's edges in both directions
func (h *TopologyHandler) GetService(c *gin.Context) {
	service := c.Param("service")
	if !h.graph.Has(service) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "unknown service: " + service})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"service":           service,
		"dependencies":      h.graph.DependenciesOf(service),
		"direct_dependents": nonNil(h.graph.DirectDependents(service)),
		"affected_if_down":  nonNil(h.monitor.AffectedBy(service)),
	})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
