// Package monitor watches the service dependency graph: it polls health for
// every edge, drives the per-edge circuit breakers, scores cascade risk when a
// dependency fails and records prevention actions.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zvirb/comandind-sub004/internal/breaker"
	"github.com/zvirb/comandind-sub004/internal/cache"
	"github.com/zvirb/comandind-sub004/internal/depgraph"
	"github.com/zvirb/comandind-sub004/internal/domain"
	"github.com/zvirb/comandind-sub004/internal/observability"
	"github.com/zvirb/comandind-sub004/internal/provider"
	"github.com/zvirb/comandind-sub004/internal/safety"
)

// Options tunes loop intervals and thresholds. Zero values take defaults.
type Options struct {
	HealthCheckInterval time.Duration
	CascadeInterval     time.Duration
	BreakerInterval     time.Duration
	PreventionInterval  time.Duration
	MaintenanceInterval time.Duration

	// SweepThreshold selects services for the periodic cascade sweep
	SweepThreshold float64
	// PreventionThreshold is the risk above which prevention actions are recorded
	PreventionThreshold float64
	// RollbackThreshold is the risk at or above which a rollback is requested
	RollbackThreshold float64
	AutoRollback      bool
	MaxRecentRisks    int

	Scoring  Scoring
	Breakers []breaker.Option
	Now      func() time.Time
}

func (o *Options) applyDefaults() {
	if o.HealthCheckInterval <= 0 {
		o.HealthCheckInterval = 30 * time.Second
	}
	if o.CascadeInterval <= 0 {
		o.CascadeInterval = 60 * time.Second
	}
	if o.BreakerInterval <= 0 {
		o.BreakerInterval = 10 * time.Second
	}
	if o.PreventionInterval <= 0 {
		o.PreventionInterval = 30 * time.Second
	}
	if o.MaintenanceInterval <= 0 {
		o.MaintenanceInterval = 5 * time.Minute
	}
	if o.SweepThreshold <= 0 {
		o.SweepThreshold = 0.6
	}
	if o.PreventionThreshold <= 0 {
		o.PreventionThreshold = 0.6
	}
	if o.RollbackThreshold <= 0 {
		o.RollbackThreshold = 0.8
	}
	if o.MaxRecentRisks <= 0 {
		o.MaxRecentRisks = 20
	}
	if o.Scoring.Critical == nil {
		o.Scoring = DefaultScoring()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Deps are the collaborators of the monitor. Graph and Provider are required.
type Deps struct {
	Graph         *depgraph.Graph
	Provider      provider.HealthScoreProvider
	Cache         cache.Store
	Recovery      RecoveryExecutor
	Rollback      RollbackRequester
	Events        EventSink
	EmergencyStop *safety.EmergencyStopManager
	Metrics       *observability.Metrics
	Logger        *zap.Logger
}

// Monitor is the dependency monitor. Construct once with New, call
// Initialize, then Start; Stop on shutdown.
type Monitor struct {
	graph    *depgraph.Graph
	provider provider.HealthScoreProvider
	cache    cache.Store
	recovery RecoveryExecutor
	rollback RollbackRequester
	events   EventSink
	esm      *safety.EmergencyStopManager
	metrics  *observability.Metrics
	logger   *zap.Logger
	opts     Options

	bank *breaker.Bank

	mu      sync.Mutex
	health  map[domain.EdgeKey]domain.DependencyHealthCheck
	risks   []domain.CascadeRisk
	actions map[domain.EdgeKey]*domain.PreventionAction

	loops safety.LoopGroup
}

// New wires a monitor over the graph
func New(deps Deps, opts Options) (*Monitor, error) {
	if deps.Graph == nil {
		return nil, errors.New("monitor: dependency graph is required")
	}
	if deps.Provider == nil {
		return nil, errors.New("monitor: health score provider is required")
	}
	opts.applyDefaults()

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	recovery := deps.Recovery
	if recovery == nil {
		recovery = LogRecovery{Logger: logger}
	}

	bankOpts := append([]breaker.Option{breaker.WithClock(opts.Now)}, opts.Breakers...)
	m := &Monitor{
		graph:    deps.Graph,
		provider: deps.Provider,
		cache:    deps.Cache,
		recovery: recovery,
		rollback: deps.Rollback,
		events:   deps.Events,
		esm:      deps.EmergencyStop,
		metrics:  deps.Metrics,
		logger:   logger.Named("monitor"),
		opts:     opts,
		bank:     breaker.NewBank(deps.Graph.EnabledEdges(), bankOpts...),
		health:   make(map[domain.EdgeKey]domain.DependencyHealthCheck),
		actions:  make(map[domain.EdgeKey]*domain.PreventionAction),
	}
	return m, nil
}

// Initialize restores breaker and health state from the cache. Missing or
// expired entries leave the defaults in place.
func (m *Monitor) Initialize(ctx context.Context) error {
	if m.cache == nil {
		return nil
	}

	restoredBreakers, restoredHealth := 0, 0
	for _, dep := range m.graph.Edges() {
		key := dep.Key()

		if dep.CircuitBreakerEnabled {
			var st domain.CircuitBreakerState
			err := cache.GetJSON(ctx, m.cache, cache.BreakerKey(key.Service, key.Dependency), &st)
			switch {
			case err == nil:
				if m.bank.Restore(st) {
					restoredBreakers++
				}
			case errors.Is(err, domain.ErrCacheMiss):
			default:
				if ctx.Err() != nil {
					return ctx.Err()
				}
				m.logger.Warn("restore breaker state failed", zap.String("edge", key.String()), zap.Error(err))
			}
		}

		var check domain.DependencyHealthCheck
		err := cache.GetJSON(ctx, m.cache, cache.HealthKey(key.Service, key.Dependency), &check)
		if err == nil && check.Key() == key {
			m.mu.Lock()
			m.health[key] = check
			m.mu.Unlock()
			restoredHealth++
		}
	}

	m.logger.Info("dependency monitor initialized",
		zap.Int("edges", len(m.graph.Edges())),
		zap.Int("breakers", m.bank.Len()),
		zap.Int("restored_breakers", restoredBreakers),
		zap.Int("restored_health", restoredHealth),
	)
	return nil
}

// Start launches the health check, cascade sweep, breaker management,
// prevention review and maintenance loops
func (m *Monitor) Start(ctx context.Context) {
	m.loops = safety.LoopGroup{
		safety.NewLoop("health-check", m.opts.HealthCheckInterval, func(ctx context.Context) error {
			_, err := m.CheckAll(ctx)
			return err
		}, m.logger).RunImmediately(),
		safety.NewLoop("cascade-sweep", m.opts.CascadeInterval, func(ctx context.Context) error {
			_, err := m.Sweep(ctx)
			return err
		}, m.logger),
		safety.NewLoop("breaker-management", m.opts.BreakerInterval, m.ManageBreakers, m.logger),
		safety.NewLoop("prevention-review", m.opts.PreventionInterval, m.ReviewPreventions, m.logger),
		safety.NewLoop("maintenance", m.opts.MaintenanceInterval, m.Maintain, m.logger),
	}
	m.loops.Start(ctx)
	m.logger.Info("dependency monitor started", zap.Strings("loops", m.loops.Running()))
}

// Stop halts every loop and waits for in-flight iterations
func (m *Monitor) Stop() {
	m.loops.Stop()
	m.logger.Info("dependency monitor stopped")
}

// Running lists the loops currently running
func (m *Monitor) Running() []string {
	return m.loops.Running()
}

// Breakers exposes the breaker bank
func (m *Monitor) Breakers() *breaker.Bank {
	return m.bank
}

func (m *Monitor) now() time.Time {
	return m.opts.Now().UTC()
}

func (m *Monitor) emergencyStopped() bool {
	return m.esm.IsTriggered()
}

// persist writes a cache entry, logging instead of failing
func (m *Monitor) persist(ctx context.Context, key string, v any, ttl time.Duration) {
	if m.cache == nil {
		return
	}
	if err := cache.SetJSON(ctx, m.cache, key, v, ttl); err != nil {
		m.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (m *Monitor) persistBreaker(ctx context.Context, key domain.EdgeKey) {
	st, ok := m.bank.State(key)
	if !ok {
		return
	}
	m.persist(ctx, cache.BreakerKey(key.Service, key.Dependency), st, cache.BreakerTTL)
}

// ManageBreakers moves due open breakers to half-open and persists them
func (m *Monitor) ManageBreakers(ctx context.Context) error {
	for _, tr := range m.bank.Manage() {
		m.metrics.RecordBreakerTransition(tr.Key, tr.From, tr.To)
		m.logger.Info("circuit breaker half-open",
			zap.String("service", tr.Key.Service),
			zap.String("dependency", tr.Key.Dependency),
		)
		m.persistBreaker(ctx, tr.Key)
	}
	return nil
}

// Maintain refreshes persisted breaker state and prunes stale in-memory entries
func (m *Monitor) Maintain(ctx context.Context) error {
	for key := range m.bank.States() {
		m.persistBreaker(ctx, key)
	}

	now := m.now()
	m.mu.Lock()
	prunedActions := 0
	for key, a := range m.actions {
		age := now.Sub(a.UpdatedAt)
		if age > cache.PreventionTTL || (a.RecoveryStatus == domain.RecoveryResolved && age > m.opts.MaintenanceInterval) {
			delete(m.actions, key)
			prunedActions++
		}
	}
	kept := m.risks[:0]
	for _, r := range m.risks {
		if now.Sub(r.AnalyzedAt) <= cache.PreventionTTL {
			kept = append(kept, r)
		}
	}
	prunedRisks := len(m.risks) - len(kept)
	m.risks = kept
	m.mu.Unlock()

	if prunedActions > 0 || prunedRisks > 0 {
		m.logger.Debug("maintenance pruned entries",
			zap.Int("prevention_actions", prunedActions),
			zap.Int("cascade_risks", prunedRisks),
		)
	}
	return nil
}
