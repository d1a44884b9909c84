package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zvirb/comandind-sub004/internal/domain"
)

// Static serves fixed scores. Used for dry runs and tests.
type Static struct {
	mu          sync.RWMutex
	scores      map[string]float64
	predictions map[string]float64
	errs        map[string]error
}

// NewStatic creates a provider with the given scores
func NewStatic(scores map[string]float64) *Static {
	s := &Static{
		scores:      make(map[string]float64, len(scores)),
		predictions: make(map[string]float64),
		errs:        make(map[string]error),
	}
	for k, v := range scores {
		s.scores[k] = v
	}
	return s
}

// Set replaces the score of a service
func (s *Static) Set(service string, score float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores[service] = score
	delete(s.errs, service)
}

// SetFailureProbability fixes the predicted failure probability of a service
func (s *Static) SetFailureProbability(service string, p float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.predictions[service] = p
}

// SetError makes lookups for a service fail
func (s *Static) SetError(service string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[service] = err
}

func (s *Static) HealthScore(ctx context.Context, service string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.errs[service]; err != nil {
		return 0, err
	}
	score, ok := s.scores[service]
	if !ok {
		return 0, fmt.Errorf("%w: %s", domain.ErrUnknownService, service)
	}
	return score, nil
}

func (s *Static) Prediction(ctx context.Context, service string) (Prediction, error) {
	score, err := s.HealthScore(ctx, service)
	if err != nil {
		return Prediction{}, err
	}

	s.mu.RLock()
	p, ok := s.predictions[service]
	s.mu.RUnlock()
	if !ok {
		p = clamp(1 - score)
	}
	return Prediction{
		Service:            service,
		FailureProbability: p,
		Confidence:         1,
		Samples:            1,
		PredictedAt:        time.Now().UTC(),
	}, nil
}

func (s *Static) AllHealthScores(ctx context.Context) (map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]float64, len(s.scores))
	for k, v := range s.scores {
		if s.errs[k] != nil {
			continue
		}
		out[k] = v
	}
	return out, nil
}
