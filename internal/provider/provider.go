// Package provider supplies per-service health scores in [0,1] and short
// horizon failure predictions to the dependency monitor and rollback manager.
package provider

import (
	"context"
	"math"
	"time"
)

// Prediction is a forecast of a service's health
type Prediction struct {
	Service            string    `json:"service"`
	FailureProbability float64   `json:"failure_probability"`
	Trend              float64   `json:"trend"`
	Confidence         float64   `json:"confidence"`
	Samples            int       `json:"samples"`
	PredictedAt        time.Time `json:"predicted_at"`
}

// HealthScoreProvider is the source of health scores
type HealthScoreProvider interface {
	// HealthScore returns the current score of a service
	HealthScore(ctx context.Context, service string) (float64, error)
	// Prediction returns the failure forecast of a service
	Prediction(ctx context.Context, service string) (Prediction, error)
	// AllHealthScores returns the current score of every known service
	AllHealthScores(ctx context.Context) (map[string]float64, error)
}

// clamp maps NaN to 0 along with everything below the range
func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
