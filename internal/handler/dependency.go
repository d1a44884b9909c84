package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zvirb/comandind-sub004/internal/domain"
	"github.com/zvirb/comandind-sub004/internal/monitor"
)

// DependencyHandler serves dependency health and cascade analysis
type DependencyHandler struct {
	monitor *monitor.Monitor
}

// NewDependencyHandler creates a new DependencyHandler
func NewDependencyHandler(mon *monitor.Monitor) *DependencyHandler {
	return &DependencyHandler{monitor: mon}
}

// GetStatus returns the aggregated dependency status
func (h *DependencyHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.monitor.GetDependencyStatus())
}

// GetCascadeRisks returns recent cascade analyses and active prevention
func (h *DependencyHandler) GetCascadeRisks(c *gin.Context) {
	risks := h.monitor.RecentRisks()
	if risks == nil {
		risks = []domain.CascadeRisk{}
	}
	actions := h.monitor.PreventionActions()
	if actions == nil {
		actions = []domain.PreventionAction{}
	}
	c.JSON(http.StatusOK, gin.H{
		"recent_risks":       risks,
		"prevention_actions": actions,
	})
}

// AnalyzeCascade runs a cascade analysis for one service on demand
func (h *DependencyHandler) AnalyzeCascade(c *gin.Context) {
	service := c.Param("service")

	risk, err := h.monitor.AnalyzeService(c.Request.Context(), service)
	if errors.Is(err, domain.ErrUnknownService) {
		c.JSON(http.StatusNotFound, gin.H{"detail": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	if risk == nil {
		c.JSON(http.StatusOK, gin.H{
			"root_service":      service,
			"affected_services": []string{},
			"risk_score":        0,
			"detail":            "no dependent services",
		})
		return
	}
	c.JSON(http.StatusOK, risk)
}
