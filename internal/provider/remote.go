package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/zvirb/comandind-sub004/internal/domain"
)

// RemoteConfig holds construction parameters for RemoteProvider
type RemoteConfig struct {
	BaseURL string
	Timeout time.Duration
	// RequestsPerSecond caps outbound calls; zero means unlimited
	RequestsPerSecond float64
	Burst             int
	// FailureThreshold consecutive failures open the client breaker
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// RemoteProvider queries an external health-score service over HTTP
type RemoteProvider struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewRemoteProvider creates a client for the health-score service
func NewRemoteProvider(cfg RemoteConfig, logger *zap.Logger) (*RemoteProvider, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("remote provider: base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("remote provider: invalid base url: %w", err)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	threshold := cfg.FailureThreshold
	r := &RemoteProvider{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "health-score-service",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrUnknownService)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Info("health score client breaker changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return r, nil
}

func (r *RemoteProvider) HealthScore(ctx context.Context, service string) (float64, error) {
	var body struct {
		HealthScore *float64 `json:"health_score"`
	}
	if err := r.get(ctx, "/api/health/score/"+url.PathEscape(service), &body); err != nil {
		return 0, err
	}
	if body.HealthScore == nil {
		return 0, fmt.Errorf("%w: no score for %s", domain.ErrUnknownService, service)
	}
	return clamp(*body.HealthScore), nil
}

func (r *RemoteProvider) Prediction(ctx context.Context, service string) (Prediction, error) {
	var pred Prediction
	if err := r.get(ctx, "/api/health/prediction/"+url.PathEscape(service), &pred); err != nil {
		return Prediction{}, err
	}
	pred.Service = service
	pred.FailureProbability = clamp(pred.FailureProbability)
	if pred.PredictedAt.IsZero() {
		pred.PredictedAt = time.Now().UTC()
	}
	return pred, nil
}

func (r *RemoteProvider) AllHealthScores(ctx context.Context) (map[string]float64, error) {
	var body struct {
		Scores map[string]float64 `json:"scores"`
	}
	if err := r.get(ctx, "/api/health/scores", &body); err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(body.Scores))
	for k, v := range body.Scores {
		out[k] = clamp(v)
	}
	return out, nil
}

// get performs a rate limited, breaker guarded GET and decodes the JSON body
func (r *RemoteProvider) get(ctx context.Context, path string, out any) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	_, err := r.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+path, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := r.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("health score request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", domain.ErrUnknownService, path)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("health score service returned %d", resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return nil, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	return err
}

// BreakerState reports the client breaker state
func (r *RemoteProvider) BreakerState() gobreaker.State {
	return r.breaker.State()
}
