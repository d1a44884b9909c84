package safety

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/zvirb/comandind-sub004/internal/domain"
)

// EmergencyStopStatus describes the kill switch for status endpoints
type EmergencyStopStatus struct {
	Active bool       `json:"active"`
	Reason string     `json:"reason,omitempty"`
	Since  *time.Time `json:"since,omitempty"`
}

// EmergencyStopManager holds the operator kill switch that pauses automated
// prevention and rollback actions. Readers on the hot path only touch the
// atomic flag.
type EmergencyStopManager struct {
	triggered atomic.Bool

	mu     sync.Mutex
	reason string
	since  time.Time

	logger *zap.Logger
	now    func() time.Time
}

// NewEmergencyStopManager creates a new EmergencyStopManager
func NewEmergencyStopManager(logger *zap.Logger) *EmergencyStopManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmergencyStopManager{logger: logger, now: time.Now}
}

// Trigger activates the emergency stop. Triggering an active stop keeps the
// original time and reason.
func (esm *EmergencyStopManager) Trigger(reason string) {
	esm.mu.Lock()
	defer esm.mu.Unlock()
	if esm.triggered.Load() {
		return
	}
	esm.reason = reason
	esm.since = esm.now().UTC()
	esm.triggered.Store(true)
	esm.logger.Warn("EMERGENCY STOP TRIGGERED", zap.String("reason", reason))
}

// Reset clears the emergency stop, allowing automated actions again
func (esm *EmergencyStopManager) Reset() {
	esm.mu.Lock()
	defer esm.mu.Unlock()
	if !esm.triggered.Load() {
		return
	}
	esm.triggered.Store(false)
	esm.logger.Info("emergency stop reset",
		zap.String("reason", esm.reason),
		zap.Duration("active_for", esm.now().Sub(esm.since)),
	)
	esm.reason = ""
	esm.since = time.Time{}
}

// IsTriggered returns whether emergency stop is active
func (esm *EmergencyStopManager) IsTriggered() bool {
	if esm == nil {
		return false
	}
	return esm.triggered.Load()
}

// CheckEmergencyStop returns ErrEmergencyStop if triggered
func (esm *EmergencyStopManager) CheckEmergencyStop() error {
	if esm.IsTriggered() {
		return domain.ErrEmergencyStop
	}
	return nil
}

// Status reports whether the stop is active, and since when
func (esm *EmergencyStopManager) Status() EmergencyStopStatus {
	if esm == nil {
		return EmergencyStopStatus{}
	}
	esm.mu.Lock()
	defer esm.mu.Unlock()
	if !esm.triggered.Load() {
		return EmergencyStopStatus{}
	}
	since := esm.since
	return EmergencyStopStatus{Active: true, Reason: esm.reason, Since: &since}
}

// ValidateBlastRadius checks that the affected ratio does not exceed the limit
func ValidateBlastRadius(affected, total int, maxRatio float64) error {
	if total == 0 {
		return nil
	}
	ratio := float64(affected) / float64(total)
	if ratio > maxRatio {
		return fmt.Errorf("%d of %d services (%.0f%%) over the %.0f%% limit: %w",
			affected, total, ratio*100, maxRatio*100, domain.ErrBlastRadiusExceeded)
	}
	return nil
}
