package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/zvirb/comandind-sub004/internal/domain"
	"github.com/zvirb/comandind-sub004/internal/probe"
)

const (
	defaultHistorySize       = 20
	defaultPredictionHorizon = 5 * time.Minute
	defaultConcurrency       = 8
)

type sample struct {
	at    time.Time
	score float64
}

// ProbeProvider scores services by running their configured probes and
// averaging the results. Each score is kept in a bounded history from which
// predictions are derived by least-squares trend.
type ProbeProvider struct {
	mu       sync.Mutex
	probes   map[string][]probe.Probe
	history  map[string][]sample
	fallback func(service string) probe.Probe
	services []string

	historySize int
	horizon     time.Duration
	concurrency int
	now         func() time.Time
	logger      *zap.Logger
}

// ProbeOption configures a ProbeProvider
type ProbeOption func(*ProbeProvider)

// WithFallback builds a probe for services that declare no health source
func WithFallback(fn func(service string) probe.Probe) ProbeOption {
	return func(p *ProbeProvider) { p.fallback = fn }
}

// WithServices adds services to the set reported by AllHealthScores
func WithServices(services ...string) ProbeOption {
	return func(p *ProbeProvider) { p.services = append(p.services, services...) }
}

// WithHistorySize bounds the per-service sample history
func WithHistorySize(n int) ProbeOption {
	return func(p *ProbeProvider) {
		if n > 1 {
			p.historySize = n
		}
	}
}

// WithHorizon sets how far ahead predictions project the trend
func WithHorizon(d time.Duration) ProbeOption {
	return func(p *ProbeProvider) { p.horizon = d }
}

// WithNow overrides the time source
func WithNow(now func() time.Time) ProbeOption {
	return func(p *ProbeProvider) { p.now = now }
}

// NewProbeProvider creates a provider over prebuilt probes, keyed by service
func NewProbeProvider(probes map[string][]probe.Probe, logger *zap.Logger, opts ...ProbeOption) *ProbeProvider {
	p := &ProbeProvider{
		probes:      make(map[string][]probe.Probe, len(probes)),
		history:     make(map[string][]sample),
		historySize: defaultHistorySize,
		horizon:     defaultPredictionHorizon,
		concurrency: defaultConcurrency,
		now:         time.Now,
		logger:      logger,
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	for svc, list := range probes {
		p.probes[svc] = list
		p.services = append(p.services, svc)
	}
	for _, opt := range opts {
		opt(p)
	}
	p.services = dedupe(p.services)
	return p
}

// NewProbeProviderFromSources builds probes from the health source table.
// Services without a declared source are probed through their container
// when a runtime is available.
func NewProbeProviderFromSources(sources map[string][]domain.ProbeConfig, clients probe.Clients, logger *zap.Logger, opts ...ProbeOption) (*ProbeProvider, error) {
	probes := make(map[string][]probe.Probe, len(sources))
	for svc, cfgs := range sources {
		list, err := probe.BuildAll(svc, cfgs, clients)
		if err != nil {
			return nil, err
		}
		probes[svc] = list
	}

	if clients.Runtime != nil {
		rt := clients.Runtime
		opts = append([]ProbeOption{WithFallback(func(service string) probe.Probe {
			return probe.NewDockerProbe(probe.DockerProbeConfig{
				Name:    service + "-container",
				Service: service,
				Runtime: rt,
			})
		})}, opts...)
	}
	return NewProbeProvider(probes, logger, opts...), nil
}

func (p *ProbeProvider) probesFor(service string) ([]probe.Probe, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if list, ok := p.probes[service]; ok && len(list) > 0 {
		return list, nil
	}
	if p.fallback == nil {
		return nil, fmt.Errorf("%w: no health source for %s", domain.ErrUnknownService, service)
	}
	list := []probe.Probe{p.fallback(service)}
	p.probes[service] = list
	return list, nil
}

// HealthScore runs every probe of the service and returns their mean
func (p *ProbeProvider) HealthScore(ctx context.Context, service string) (float64, error) {
	probes, err := p.probesFor(service)
	if err != nil {
		return 0, err
	}

	scores := make([]float64, len(probes))
	for i, pr := range probes {
		scores[i] = probe.SafeExecute(ctx, pr, p.logger).Score
	}
	score := clamp(stat.Mean(scores, nil))
	p.record(service, score)
	return score, nil
}

func (p *ProbeProvider) record(service string, score float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	h := append(p.history[service], sample{at: p.now(), score: score})
	if len(h) > p.historySize {
		h = h[len(h)-p.historySize:]
	}
	p.history[service] = h
}

// History returns the recorded scores of a service, oldest first
func (p *ProbeProvider) History(service string) []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	h := p.history[service]
	out := make([]float64, len(h))
	for i, s := range h {
		out[i] = s.score
	}
	return out
}

// Prediction projects the score trend over the horizon. A fresh score is
// taken first so a prediction always reflects at least one sample.
func (p *ProbeProvider) Prediction(ctx context.Context, service string) (Prediction, error) {
	if _, err := p.HealthScore(ctx, service); err != nil {
		return Prediction{}, err
	}

	p.mu.Lock()
	h := make([]sample, len(p.history[service]))
	copy(h, p.history[service])
	size := p.historySize
	p.mu.Unlock()

	pred := predict(h, p.horizon, size)
	pred.Service = service
	pred.PredictedAt = p.now().UTC()
	return pred, nil
}

// predict fits a line through the samples and converts the projected score
// at horizon past the last sample into a failure probability
func predict(samples []sample, horizon time.Duration, historySize int) Prediction {
	n := len(samples)
	if n == 0 {
		return Prediction{FailureProbability: 1}
	}
	last := samples[n-1].score
	if n < 2 || historySize <= 0 {
		return Prediction{
			FailureProbability: clamp(1 - last),
			Samples:            n,
			Confidence:         confidence(n, historySize),
		}
	}

	origin := samples[0].at
	xs := make([]float64, n)
	ys := make([]float64, n)
	for i, s := range samples {
		xs[i] = s.at.Sub(origin).Seconds()
		ys[i] = s.score
	}
	if xs[n-1] == xs[0] {
		return Prediction{
			FailureProbability: clamp(1 - stat.Mean(ys, nil)),
			Samples:            n,
			Confidence:         confidence(n, historySize),
		}
	}

	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	projected := alpha + beta*(xs[n-1]+horizon.Seconds())
	return Prediction{
		FailureProbability: clamp(1 - projected),
		Trend:              beta * 60,
		Samples:            n,
		Confidence:         confidence(n, historySize),
	}
}

func confidence(n, size int) float64 {
	if size <= 0 {
		return 0
	}
	return clamp(float64(n) / float64(size))
}

// AllHealthScores scores every known service concurrently. Services whose
// probes cannot be built are omitted.
func (p *ProbeProvider) AllHealthScores(ctx context.Context) (map[string]float64, error) {
	p.mu.Lock()
	services := make([]string, len(p.services))
	copy(services, p.services)
	p.mu.Unlock()

	var mu sync.Mutex
	out := make(map[string]float64, len(services))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, svc := range services {
		g.Go(func() error {
			score, err := p.HealthScore(gctx, svc)
			if err != nil {
				p.logger.Debug("skipping service without health source", zap.String("service", svc), zap.Error(err))
				return nil
			}
			mu.Lock()
			out[svc] = score
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
