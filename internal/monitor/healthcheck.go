package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zvirb/comandind-sub004/internal/breaker"
	"github.com/zvirb/comandind-sub004/internal/cache"
	"github.com/zvirb/comandind-sub004/internal/domain"
)

// CheckAll checks every edge concurrently and returns the checks performed.
// Edges behind an open breaker are skipped. One edge failing never stops
// the others.
func (m *Monitor) CheckAll(ctx context.Context) ([]domain.DependencyHealthCheck, error) {
	start := time.Now()
	edges := m.graph.Edges()

	var mu sync.Mutex
	checks := make([]domain.DependencyHealthCheck, 0, len(edges))

	g, gctx := errgroup.WithContext(ctx)
	for _, dep := range edges {
		g.Go(func() error {
			check, ok := m.CheckEdge(gctx, dep)
			if !ok {
				return nil
			}
			mu.Lock()
			checks = append(checks, check)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(checks, func(i, j int) bool { return checks[i].Key().String() < checks[j].Key().String() })
	m.metrics.RecordCheckCycle(time.Since(start).Seconds())
	return checks, ctx.Err()
}

// CheckEdge polls the dependency's health and applies the outcome to the
// edge's breaker. It reports false when the breaker is open and the check
// was skipped.
func (m *Monitor) CheckEdge(ctx context.Context, dep domain.ServiceDependency) (domain.DependencyHealthCheck, bool) {
	key := dep.Key()
	if !m.bank.Allow(key) {
		m.metrics.RecordSkippedCheck(key)
		return domain.DependencyHealthCheck{}, false
	}

	checkCtx, cancel := context.WithTimeout(ctx, dep.Timeout())
	start := time.Now()
	score, err := m.provider.HealthScore(checkCtx, dep.DependsOn)
	elapsed := time.Since(start)
	cancel()

	check := domain.DependencyHealthCheck{
		Service:        dep.Service,
		Dependency:     dep.DependsOn,
		ResponseTimeMS: float64(elapsed.Microseconds()) / 1000,
		CheckedAt:      m.now(),
	}
	if err != nil {
		check.Status = domain.StatusUnavailable
		check.HealthScore = 0
		check.ErrorMessage = err.Error()
	} else {
		check.HealthScore = clampUnit(score)
		check.Status = ClassifyStatus(check.HealthScore, dep.HealthThreshold)
	}

	failed := check.Status.IsFailure()

	// Single read-modify-write of the running failure count
	m.mu.Lock()
	if failed {
		check.FailureCount = m.health[key].FailureCount + 1
	}
	m.health[key] = check
	m.mu.Unlock()

	m.persist(ctx, cache.HealthKey(key.Service, key.Dependency), check, cache.HealthTTL)
	m.metrics.RecordHealthCheck(check)

	if failed {
		m.logger.Warn("dependency check failed",
			zap.String("service", dep.Service),
			zap.String("dependency", dep.DependsOn),
			zap.String("status", string(check.Status)),
			zap.Float64("health_score", check.HealthScore),
			zap.Int("failure_count", check.FailureCount),
			zap.String("error", check.ErrorMessage),
		)
	}

	m.applyOutcome(ctx, dep, failed)

	if check.Status.TriggersCascadeAnalysis() {
		if _, err := m.analyze(ctx, dep.DependsOn, check.HealthScore); err != nil {
			m.logger.Error("cascade analysis failed", zap.String("root", dep.DependsOn), zap.Error(err))
		}
	}
	return check, true
}

// applyOutcome feeds a check result into the breaker
func (m *Monitor) applyOutcome(ctx context.Context, dep domain.ServiceDependency, failed bool) {
	if !dep.CircuitBreakerEnabled {
		return
	}
	key := dep.Key()

	var tr breaker.Transition
	if failed {
		tr = m.bank.RecordFailure(key)
	} else {
		tr = m.bank.RecordSuccess(key)
	}
	if !tr.Changed() {
		if failed {
			m.persistBreaker(ctx, key)
		}
		return
	}

	m.metrics.RecordBreakerTransition(key, tr.From, tr.To)
	m.persistBreaker(ctx, key)
	m.logger.Info("circuit breaker transition",
		zap.String("service", key.Service),
		zap.String("dependency", key.Dependency),
		zap.String("from", string(tr.From)),
		zap.String("to", string(tr.To)),
	)

	if tr.Opened() {
		if st, ok := m.bank.State(key); ok && m.events != nil {
			if err := m.events.PublishBreakerOpened(ctx, st); err != nil {
				m.logger.Warn("publish breaker event failed", zap.Error(err))
			}
		}
		m.OnBreakerOpen(ctx, dep)
	}
}

// HealthOf returns the latest check for an edge
func (m *Monitor) HealthOf(key domain.EdgeKey) (domain.DependencyHealthCheck, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.health[key]
	return c, ok
}
