package breaker

import (
	"sort"
	"sync"
	"time"

	"github.com/zvirb/comandind-sub004/internal/domain"
)

const (
	defaultOpenCooldown     = 60 * time.Second
	defaultHalfOpenCooldown = 120 * time.Second
	defaultCloseThreshold   = 2
)

// Transition describes a state change produced by a recorded outcome
type Transition struct {
	Key  domain.EdgeKey
	From domain.BreakerState
	To   domain.BreakerState
}

// Changed reports whether the state actually moved
func (t Transition) Changed() bool { return t.From != t.To }

// Opened reports whether the breaker tripped open
func (t Transition) Opened() bool { return t.Changed() && t.To == domain.BreakerOpen }

// Option configures a Bank
type Option func(*Bank)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(b *Bank) { b.now = now }
}

// WithCooldowns overrides how long a breaker stays open after tripping from
// closed and after failing a half-open probe
func WithCooldowns(open, halfOpen time.Duration) Option {
	return func(b *Bank) {
		b.openCooldown = open
		b.halfOpenCooldown = halfOpen
	}
}

// WithCloseThreshold sets the consecutive half-open successes needed to close
func WithCloseThreshold(n int) Option {
	return func(b *Bank) { b.closeThreshold = n }
}

type entry struct {
	retryCount int
	state      domain.CircuitBreakerState
}

// Bank holds one circuit breaker per breaker-enabled dependency edge
type Bank struct {
	mu       sync.Mutex
	breakers map[domain.EdgeKey]*entry

	now              func() time.Time
	openCooldown     time.Duration
	halfOpenCooldown time.Duration
	closeThreshold   int
}

// NewBank creates closed breakers for every edge with circuit breaking enabled
func NewBank(edges []domain.ServiceDependency, opts ...Option) *Bank {
	b := &Bank{
		breakers:         make(map[domain.EdgeKey]*entry),
		now:              time.Now,
		openCooldown:     defaultOpenCooldown,
		halfOpenCooldown: defaultHalfOpenCooldown,
		closeThreshold:   defaultCloseThreshold,
	}
	for _, opt := range opts {
		opt(b)
	}

	for _, dep := range edges {
		if !dep.CircuitBreakerEnabled {
			continue
		}
		retries := dep.RetryCount
		if retries < 1 {
			retries = 1
		}
		b.breakers[dep.Key()] = &entry{
			retryCount: retries,
			state: domain.CircuitBreakerState{
				Service:    dep.Service,
				Dependency: dep.DependsOn,
				State:      domain.BreakerClosed,
			},
		}
	}
	return b
}

// Allow reports whether a health check may run for the edge.
// Edges without a breaker are always allowed.
func (b *Bank) Allow(key domain.EdgeKey) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.breakers[key]
	if !ok {
		return true
	}
	return e.state.State != domain.BreakerOpen
}

// RecordSuccess registers a healthy check for the edge
func (b *Bank) RecordSuccess(key domain.EdgeKey) Transition {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.breakers[key]
	if !ok {
		return Transition{Key: key}
	}
	from := e.state.State

	switch from {
	case domain.BreakerClosed:
		e.state.FailureCount = 0
	case domain.BreakerHalfOpen:
		e.state.SuccessCount++
		if e.state.SuccessCount >= b.closeThreshold {
			e.state.State = domain.BreakerClosed
			e.state.FailureCount = 0
			e.state.SuccessCount = 0
			e.state.NextAttemptTime = nil
		}
	}
	return Transition{Key: key, From: from, To: e.state.State}
}

// RecordFailure registers a failed check for the edge
func (b *Bank) RecordFailure(key domain.EdgeKey) Transition {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.breakers[key]
	if !ok {
		return Transition{Key: key}
	}
	from := e.state.State
	now := b.now()

	switch from {
	case domain.BreakerClosed:
		e.state.FailureCount++
		e.state.LastFailureTime = &now
		if e.state.FailureCount >= e.retryCount {
			next := now.Add(b.openCooldown)
			e.state.State = domain.BreakerOpen
			e.state.NextAttemptTime = &next
		}
	case domain.BreakerHalfOpen:
		next := now.Add(b.halfOpenCooldown)
		e.state.FailureCount++
		e.state.SuccessCount = 0
		e.state.LastFailureTime = &now
		e.state.State = domain.BreakerOpen
		e.state.NextAttemptTime = &next
	}
	return Transition{Key: key, From: from, To: e.state.State}
}

// Manage moves every open breaker whose cooldown has elapsed to half-open
// and returns the transitions made
func (b *Bank) Manage() []Transition {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	var out []Transition
	for key, e := range b.breakers {
		if e.state.State != domain.BreakerOpen || e.state.NextAttemptTime == nil {
			continue
		}
		if now.Before(*e.state.NextAttemptTime) {
			continue
		}
		e.state.State = domain.BreakerHalfOpen
		e.state.SuccessCount = 0
		out = append(out, Transition{Key: key, From: domain.BreakerOpen, To: domain.BreakerHalfOpen})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

// State returns a copy of the breaker state for an edge
func (b *Bank) State(key domain.EdgeKey) (domain.CircuitBreakerState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.breakers[key]
	if !ok {
		return domain.CircuitBreakerState{}, false
	}
	return e.state, true
}

// States returns copies of all breaker states
func (b *Bank) States() map[domain.EdgeKey]domain.CircuitBreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[domain.EdgeKey]domain.CircuitBreakerState, len(b.breakers))
	for key, e := range b.breakers {
		out[key] = e.state
	}
	return out
}

// Restore replaces the state of a known edge, typically from the cache at startup.
// Unknown edges and unknown states are ignored.
func (b *Bank) Restore(state domain.CircuitBreakerState) bool {
	switch state.State {
	case domain.BreakerClosed, domain.BreakerOpen, domain.BreakerHalfOpen:
	default:
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.breakers[state.Key()]
	if !ok {
		return false
	}
	if state.State == domain.BreakerOpen && state.NextAttemptTime == nil {
		next := b.now().Add(b.openCooldown)
		state.NextAttemptTime = &next
	}
	e.state = state
	return true
}

// Len returns the number of breakers in the bank
func (b *Bank) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.breakers)
}
