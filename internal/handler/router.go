package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/zvirb/comandind-sub004/internal/observability"
	"github.com/zvirb/comandind-sub004/internal/safety"
)

// RouterConfig collects the handlers and shared components of the router
type RouterConfig struct {
	Dependencies  *DependencyHandler
	Topology      *TopologyHandler
	Rollbacks     *RollbackHandler
	EmergencyStop *safety.EmergencyStopManager
	Metrics       *observability.Metrics
	Gatherer      prometheus.Gatherer
	Logger        *zap.Logger
	CORSOrigin    string
}

// EmergencyStopRequest is the optional body of POST /emergency-stop
type EmergencyStopRequest struct {
	Reason string `json:"reason"`
}

// SetupRouter configures all API routes
func SetupRouter(cfg RouterConfig) *gin.Engine {
	esm := cfg.EmergencyStop
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(RequestLogger(cfg.Logger))
	r.Use(CORSMiddleware(cfg.CORSOrigin))
	r.Use(PrometheusMiddleware(cfg.Metrics))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":         "healthy",
			"emergency_stop": esm.Status(),
		})
	})

	// Prometheus metrics
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// Emergency stop
	r.POST("/emergency-stop", func(c *gin.Context) {
		var req EmergencyStopRequest
		// The body is optional
		_ = c.ShouldBindJSON(&req)
		if req.Reason == "" {
			req.Reason = "manual"
		}
		esm.Trigger(req.Reason)
		c.JSON(http.StatusOK, gin.H{"status": "emergency_stop_triggered", "emergency_stop": esm.Status()})
	})
	r.POST("/emergency-stop/reset", func(c *gin.Context) {
		esm.Reset()
		c.JSON(http.StatusOK, gin.H{"status": "emergency_stop_reset"})
	})

	// Dependency endpoints
	depGroup := r.Group("/api/dependencies")
	{
		depGroup.GET("", cfg.Dependencies.GetStatus)
		depGroup.GET("/topology", cfg.Topology.GetTopology)
		depGroup.GET("/path", cfg.Topology.GetPath)
		depGroup.GET("/services/:service", cfg.Topology.GetService)
		depGroup.GET("/cascade", cfg.Dependencies.GetCascadeRisks)
		depGroup.POST("/cascade/:service", cfg.Dependencies.AnalyzeCascade)
	}

	// Rollback endpoints
	rbGroup := r.Group("/api/rollbacks")
	{
		rbGroup.GET("", cfg.Rollbacks.ListRollbacks)
		rbGroup.POST("", cfg.Rollbacks.CreateRollback)
		rbGroup.GET("/:rollback_id", cfg.Rollbacks.GetRollback)
		rbGroup.POST("/:rollback_id/cancel", cfg.Rollbacks.CancelRollback)
	}

	snapGroup := r.Group("/api/snapshots")
	{
		snapGroup.GET("", cfg.Rollbacks.ListSnapshots)
		snapGroup.POST("", cfg.Rollbacks.CreateSnapshot)
		snapGroup.GET("/:snapshot_id", cfg.Rollbacks.GetSnapshot)
	}

	return r
}
