package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"time"
)

// ContainerState is the restorable metadata of one service container
type ContainerState struct {
	Service     string            `json:"service"`
	ContainerID string            `json:"container_id"`
	Name        string            `json:"name"`
	Image       string            `json:"image"`
	Status      string            `json:"status"`
	Health      string            `json:"health,omitempty"`
	Env         []string          `json:"env,omitempty"`
	Cmd         []string          `json:"cmd,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	Network     string            `json:"network,omitempty"`
}

// SystemSnapshot captures the state needed to restore services later
type SystemSnapshot struct {
	SnapshotID     string                    `json:"snapshot_id"`
	Timestamp      time.Time                 `json:"timestamp"`
	Services       map[string]ContainerState `json:"services"`
	Configurations map[string]string         `json:"configurations"`
	DatabaseState  map[string]string         `json:"database_state"`
	HealthScores   map[string]float64        `json:"health_scores"`
	Metrics        map[string]float64        `json:"metrics"`
	Checksum       string                    `json:"checksum"`
	RollbackSafe   bool                      `json:"rollback_safe"`
}

// checksumPayload fixes the field set and timestamp encoding hashed into a checksum
type checksumPayload struct {
	SnapshotID     string                    `json:"snapshot_id"`
	Timestamp      string                    `json:"timestamp"`
	Services       map[string]ContainerState `json:"services"`
	Configurations map[string]string         `json:"configurations"`
	DatabaseState  map[string]string         `json:"database_state"`
	HealthScores   map[string]float64        `json:"health_scores"`
	Metrics        map[string]float64        `json:"metrics"`
}

// ComputeChecksum returns the hex sha256 of the snapshot content.
// encoding/json sorts map keys, so the digest is stable across round-trips.
// Non-finite scores hash as 0.
func (s *SystemSnapshot) ComputeChecksum() string {
	data, err := json.Marshal(checksumPayload{
		SnapshotID:     s.SnapshotID,
		Timestamp:      s.Timestamp.UTC().Format(time.RFC3339Nano),
		Services:       s.Services,
		Configurations: s.Configurations,
		DatabaseState:  s.DatabaseState,
		HealthScores:   finite(s.HealthScores),
		Metrics:        finite(s.Metrics),
	})
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// finite returns m unchanged unless it holds NaN or an infinity, which JSON
// cannot encode
func finite(m map[string]float64) map[string]float64 {
	for _, v := range m {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			clean := make(map[string]float64, len(m))
			for k, v := range m {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					v = 0
				}
				clean[k] = v
			}
			return clean
		}
	}
	return m
}

// VerifyChecksum returns ErrChecksumMismatch when the stored checksum is stale
func (s *SystemSnapshot) VerifyChecksum() error {
	if s.Checksum == "" || s.Checksum != s.ComputeChecksum() {
		return ErrChecksumMismatch
	}
	return nil
}

// RollbackTrigger names why a rollback was requested
type RollbackTrigger string

const (
	TriggerHealthDegradation     RollbackTrigger = "health_degradation"
	TriggerPerformanceRegression RollbackTrigger = "performance_regression"
	TriggerErrorRateSpike        RollbackTrigger = "error_rate_spike"
	TriggerDependencyFailure     RollbackTrigger = "dependency_failure"
	TriggerManual                RollbackTrigger = "manual"
	TriggerScheduled             RollbackTrigger = "scheduled"
	TriggerCascadeFailure        RollbackTrigger = "cascade_failure"
	TriggerSecurityIncident      RollbackTrigger = "security_incident"
)

// RollbackStatus is the lifecycle state of a rollback operation
type RollbackStatus string

const (
	RollbackPending    RollbackStatus = "pending"
	RollbackInProgress RollbackStatus = "in_progress"
	RollbackCompleted  RollbackStatus = "completed"
	RollbackFailed     RollbackStatus = "failed"
	RollbackPartial    RollbackStatus = "partial"
	RollbackCancelled  RollbackStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are possible
func (s RollbackStatus) IsTerminal() bool {
	switch s {
	case RollbackCompleted, RollbackFailed, RollbackPartial, RollbackCancelled:
		return true
	}
	return false
}

// RollbackStep records one action taken while restoring a service
type RollbackStep struct {
	Service     string         `json:"service"`
	Action      string         `json:"action"`
	Success     bool           `json:"success"`
	Error       string         `json:"error,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
}

// RollbackOperation is one queued or executed restore of services to a snapshot
type RollbackOperation struct {
	RollbackID       string             `json:"rollback_id"`
	Trigger          RollbackTrigger    `json:"trigger"`
	Reason           string             `json:"reason,omitempty"`
	TargetSnapshotID string             `json:"target_snapshot_id"`
	AffectedServices []string           `json:"affected_services"`
	Status           RollbackStatus     `json:"status"`
	Priority         int                `json:"priority"`
	CreatedAt        time.Time          `json:"created_at"`
	StartedAt        *time.Time         `json:"started_at,omitempty"`
	CompletedAt      *time.Time         `json:"completed_at,omitempty"`
	RollbackSteps    []RollbackStep     `json:"rollback_steps"`
	SuccessMetrics   map[string]float64 `json:"success_metrics,omitempty"`
}

// Duration returns how long execution took, or zero when not finished
func (o *RollbackOperation) Duration() time.Duration {
	if o.StartedAt == nil || o.CompletedAt == nil {
		return 0
	}
	return o.CompletedAt.Sub(*o.StartedAt)
}
