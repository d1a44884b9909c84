package probe

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
)

// ProbeResult holds the outcome of a single probe execution.
// Score is the normalised health contribution in [0,1].
type ProbeResult struct {
	ProbeName  string         `json:"probe_name"`
	ProbeType  string         `json:"probe_type"`
	Service    string         `json:"service"`
	Passed     bool           `json:"passed"`
	Score      float64        `json:"score"`
	Detail     map[string]any `json:"detail,omitempty"`
	Error      *string        `json:"error,omitempty"`
	ExecutedAt time.Time      `json:"executed_at"`
}

// Probe is the interface all probe implementations must satisfy
type Probe interface {
	// Execute runs the probe and returns the result
	Execute(ctx context.Context) (*ProbeResult, error)
	// Name returns the probe's identifier
	Name() string
	// Type returns the probe type (http, cmd, k8s, prometheus, docker, aws)
	Type() string
	// Service returns the service whose health this probe measures
	Service() string
}

// SafeExecute runs a probe with error handling; it never returns an error.
// A probe that errors contributes a score of zero.
func SafeExecute(ctx context.Context, p Probe, logger *zap.Logger) *ProbeResult {
	result, err := p.Execute(ctx)
	if err != nil {
		if logger != nil {
			logger.Warn("probe failed",
				zap.String("probe", p.Name()),
				zap.String("service", p.Service()),
				zap.Error(err),
			)
		}
		errStr := err.Error()
		return &ProbeResult{
			ProbeName:  p.Name(),
			ProbeType:  p.Type(),
			Service:    p.Service(),
			Passed:     false,
			Score:      0,
			Error:      &errStr,
			ExecutedAt: time.Now().UTC(),
		}
	}
	result.Score = clamp(result.Score)
	return result
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

func passScore(passed bool) float64 {
	if passed {
		return 1
	}
	return 0
}
