package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/zvirb/comandind-sub004/internal/domain"
	"github.com/zvirb/comandind-sub004/internal/rollback"
)

// RollbackLister reads archived rollback history
type RollbackLister interface {
	ListRollbacks(ctx context.Context, limit int) ([]domain.RollbackOperation, error)
}

// RollbackRequest is the body of a manual rollback request. An empty
// snapshot ID selects the newest rollback-safe snapshot.
type RollbackRequest struct {
	Services   []string `json:"services" binding:"required,min=1,dive,required"`
	SnapshotID string   `json:"snapshot_id"`
	Reason     string   `json:"reason"`
}

// RollbackHandler serves snapshots and rollback operations
type RollbackHandler struct {
	manager *rollback.Manager
	archive RollbackLister
}

// NewRollbackHandler creates a new RollbackHandler. archive may be nil.
func NewRollbackHandler(manager *rollback.Manager, archive RollbackLister) *RollbackHandler {
	return &RollbackHandler{manager: manager, archive: archive}
}

// ListRollbacks returns the manager status and known operations. With
// archived=true it reads the durable archive instead.
func (h *RollbackHandler) ListRollbacks(c *gin.Context) {
	if c.Query("archived") == "true" {
		if h.archive == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"detail": "Archive not available"})
			return
		}
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		ops, err := h.archive.ListRollbacks(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"operations": ops})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     h.manager.GetRollbackStatus(),
		"operations": h.manager.Operations(),
	})
}

// CreateRollback queues a manual rollback
func (h *RollbackHandler) CreateRollback(c *gin.Context) {
	var req RollbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	op, err := h.manager.RequestManualRollback(c.Request.Context(), req.Services, req.SnapshotID, req.Reason)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, op)
}

// GetRollback returns one operation
func (h *RollbackHandler) GetRollback(c *gin.Context) {
	op, err := h.manager.GetOperation(c.Param("rollback_id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, op)
}

// CancelRollback cancels a pending operation
func (h *RollbackHandler) CancelRollback(c *gin.Context) {
	op, err := h.manager.CancelRollback(c.Request.Context(), c.Param("rollback_id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, op)
}

// ListSnapshots returns stored snapshots, newest first
func (h *RollbackHandler) ListSnapshots(c *gin.Context) {
	snaps := h.manager.Snapshots()
	if c.Query("safe") == "true" {
		safe := snaps[:0:0]
		for _, s := range snaps {
			if s.RollbackSafe {
				safe = append(safe, s)
			}
		}
		snaps = safe
	}
	if snaps == nil {
		snaps = []domain.SystemSnapshot{}
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snaps, "total": len(snaps)})
}

// GetSnapshot returns one snapshot
func (h *RollbackHandler) GetSnapshot(c *gin.Context) {
	snap, err := h.manager.GetSnapshot(c.Param("snapshot_id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// CreateSnapshot captures a snapshot immediately
func (h *RollbackHandler) CreateSnapshot(c *gin.Context) {
	snap, err := h.manager.CreateSnapshot(c.Request.Context())
	if err != nil {
		c.JSON(statusFor(err), gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, snap)
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrEmergencyStop):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrBlastRadiusExceeded):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnknownService),
		errors.Is(err, domain.ErrSnapshotNotFound),
		errors.Is(err, domain.ErrRollbackNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRollbackActive),
		errors.Is(err, domain.ErrRollbackNotCancellable),
		errors.Is(err, domain.ErrNoRollbackTarget),
		errors.Is(err, domain.ErrChecksumMismatch):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
