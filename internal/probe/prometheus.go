package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Series aggregations
const (
	AggregateMin  = "min"
	AggregateMean = "mean"
	AggregateMax  = "max"
)

var comparators = map[string]func(v, t float64) bool{
	">":  func(v, t float64) bool { return v > t },
	">=": func(v, t float64) bool { return v >= t },
	"<":  func(v, t float64) bool { return v < t },
	"<=": func(v, t float64) bool { return v <= t },
	"==": func(v, t float64) bool { return v == t },
	"!=": func(v, t float64) bool { return v != t },
}

// PromProbe scores a service from a PromQL instant query. Every series in the
// result vector is folded into one value (the worst one by default), which is
// either compared against Threshold or, with Normalize, used as the score.
type PromProbe struct {
	name      string
	service   string
	queryURL  string
	query     string
	compare   func(v, t float64) bool
	operator  string
	threshold float64
	aggregate string
	normalize bool
	client    *http.Client
}

// PromProbeConfig holds construction parameters for PromProbe
type PromProbeConfig struct {
	Name       string
	Service    string
	Endpoint   string
	Query      string
	Comparator string
	Threshold  float64
	Aggregate  string
	Normalize  bool
	Timeout    time.Duration
}

// NewPromProbe creates a Prometheus query probe. An unknown comparator never
// passes.
func NewPromProbe(cfg PromProbeConfig) *PromProbe {
	if cfg.Comparator == "" {
		cfg.Comparator = ">"
	}
	if cfg.Aggregate == "" {
		cfg.Aggregate = AggregateMin
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	cmp, ok := comparators[cfg.Comparator]
	if !ok {
		cmp = func(float64, float64) bool { return false }
	}
	return &PromProbe{
		name:      cfg.Name,
		service:   cfg.Service,
		queryURL:  strings.TrimRight(cfg.Endpoint, "/") + "/api/v1/query",
		query:     cfg.Query,
		compare:   cmp,
		operator:  cfg.Comparator,
		threshold: cfg.Threshold,
		aggregate: cfg.Aggregate,
		normalize: cfg.Normalize,
		client:    &http.Client{Timeout: cfg.Timeout},
	}
}

func (p *PromProbe) Name() string    { return p.name }
func (p *PromProbe) Type() string    { return "prometheus" }
func (p *PromProbe) Service() string { return p.service }

func (p *PromProbe) Execute(ctx context.Context) (*ProbeResult, error) {
	samples, err := p.instantQuery(ctx)
	if err != nil {
		return nil, err
	}

	result := &ProbeResult{
		ProbeName:  p.name,
		ProbeType:  p.Type(),
		Service:    p.service,
		ExecutedAt: time.Now().UTC(),
		Detail: map[string]any{
			"query":  p.query,
			"series": len(samples),
		},
	}
	if len(samples) == 0 {
		// An absent series reads as an unhealthy target
		result.Detail["error"] = "empty result vector"
		return result, nil
	}
	if samples = dropNaN(samples); len(samples) == 0 {
		// 0/0 style expressions yield NaN when there is no traffic to judge
		result.Detail["error"] = "no numeric samples"
		return result, nil
	}

	value := p.fold(samples)
	result.Passed = p.compare(value, p.threshold)
	result.Score = passScore(result.Passed)
	if p.normalize {
		result.Score = clamp(value)
	}
	result.Detail["value"] = value
	result.Detail["aggregate"] = p.aggregate
	result.Detail["comparator"] = p.operator
	result.Detail["threshold"] = p.threshold
	return result, nil
}

// instantQuery returns the sample value of every series in the result vector
func (p *PromProbe) instantQuery(ctx context.Context) ([]float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.queryURL+"?query="+url.QueryEscape(p.query), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("prometheus request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var body struct {
		Status    string `json:"status"`
		ErrorType string `json:"errorType"`
		Error     string `json:"error"`
		Data      struct {
			Result []struct {
				Value [2]json.RawMessage `json:"value"`
			} `json:"result"`
		} `json:"data"`
	}
	if resp.StatusCode != http.StatusOK {
		// Query errors still carry a JSON body worth surfacing
		if json.NewDecoder(resp.Body).Decode(&body) == nil && body.Error != "" {
			return nil, fmt.Errorf("prometheus returned %d: %s: %s", resp.StatusCode, body.ErrorType, body.Error)
		}
		return nil, fmt.Errorf("prometheus returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if body.Status == "error" {
		return nil, fmt.Errorf("prometheus query failed: %s: %s", body.ErrorType, body.Error)
	}

	samples := make([]float64, 0, len(body.Data.Result))
	for i, series := range body.Data.Result {
		// value is [timestamp, "string value"]
		var raw string
		if err := json.Unmarshal(series.Value[1], &raw); err != nil {
			return nil, fmt.Errorf("series %d: parse value: %w", i, err)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("series %d: parse float value: %w", i, err)
		}
		samples = append(samples, v)
	}
	return samples, nil
}

func dropNaN(samples []float64) []float64 {
	out := samples[:0]
	for _, v := range samples {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

func (p *PromProbe) fold(samples []float64) float64 {
	switch p.aggregate {
	case AggregateMax:
		return floats.Max(samples)
	case AggregateMean:
		return stat.Mean(samples, nil)
	default:
		return floats.Min(samples)
	}
}
