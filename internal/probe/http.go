package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"
)

// Partial scores for reachable endpoints that answer incorrectly
const (
	httpBodyMismatchScore = 0.4
	httpClientErrorScore  = 0.2
	httpServerErrorScore  = 0.1
	httpMaxLatencyPenalty = 0.3
)

// HTTPProbe validates that an HTTP endpoint returns the expected status code
// and optionally matches a pattern in the response body
type HTTPProbe struct {
	name           string
	service        string
	url            string
	method         string
	expectedStatus int
	timeout        time.Duration
	slowAfter      time.Duration
	bodyPattern    *regexp.Regexp
	headers        map[string]string
	client         *http.Client
}

// HTTPProbeConfig holds construction parameters for HTTPProbe
type HTTPProbeConfig struct {
	Name           string
	Service        string
	URL            string
	Method         string
	ExpectedStatus int
	Timeout        time.Duration
	SlowAfter      time.Duration
	BodyPattern    string
	Headers        map[string]string
}

// NewHTTPProbe creates an HTTP probe from config
func NewHTTPProbe(cfg HTTPProbeConfig) (*HTTPProbe, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("http probe %s: url is required", cfg.Name)
	}
	if cfg.Method == "" {
		cfg.Method = "GET"
	}
	if cfg.ExpectedStatus == 0 {
		cfg.ExpectedStatus = 200
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.SlowAfter == 0 || cfg.SlowAfter > cfg.Timeout {
		cfg.SlowAfter = cfg.Timeout / 5
	}

	var pat *regexp.Regexp
	if cfg.BodyPattern != "" {
		var err error
		pat, err = regexp.Compile(cfg.BodyPattern)
		if err != nil {
			return nil, fmt.Errorf("invalid body pattern: %w", err)
		}
	}

	return &HTTPProbe{
		name:           cfg.Name,
		service:        cfg.Service,
		url:            cfg.URL,
		method:         cfg.Method,
		expectedStatus: cfg.ExpectedStatus,
		timeout:        cfg.Timeout,
		slowAfter:      cfg.SlowAfter,
		bodyPattern:    pat,
		headers:        cfg.Headers,
		client:         &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (p *HTTPProbe) Name() string    { return p.name }
func (p *HTTPProbe) Type() string    { return "http" }
func (p *HTTPProbe) Service() string { return p.service }

func (p *HTTPProbe) Execute(ctx context.Context) (*ProbeResult, error) {
	req, err := http.NewRequestWithContext(ctx, p.method, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("HTTP request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	statusOK := resp.StatusCode == p.expectedStatus
	bodyOK := true

	if p.bodyPattern != nil && statusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		bodyOK = p.bodyPattern.Match(body)
	}

	var score float64
	switch {
	case statusOK && bodyOK:
		score = 1 - p.latencyPenalty(elapsed)
	case statusOK:
		score = httpBodyMismatchScore
	case resp.StatusCode >= 500:
		score = httpServerErrorScore
	default:
		score = httpClientErrorScore
	}

	return &ProbeResult{
		ProbeName: p.name,
		ProbeType: "http",
		Service:   p.service,
		Passed:    statusOK && bodyOK,
		Score:     score,
		Detail: map[string]any{
			"url":              p.url,
			"status_code":      resp.StatusCode,
			"expected_status":  p.expectedStatus,
			"body_match":       bodyOK,
			"response_time_ms": elapsed.Milliseconds(),
		},
		ExecutedAt: time.Now().UTC(),
	}, nil
}

// latencyPenalty grows linearly from zero at slowAfter to the maximum at the timeout
func (p *HTTPProbe) latencyPenalty(elapsed time.Duration) float64 {
	if elapsed <= p.slowAfter {
		return 0
	}
	window := p.timeout - p.slowAfter
	if window <= 0 {
		return httpMaxLatencyPenalty
	}
	frac := float64(elapsed-p.slowAfter) / float64(window)
	if frac > 1 {
		frac = 1
	}
	return frac * httpMaxLatencyPenalty
}
