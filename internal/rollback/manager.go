// Package rollback snapshots service state, watches rollback triggers and
// restores services to a rollback-safe snapshot one operation at a time.
package rollback

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/zvirb/comandind-sub004/internal/cache"
	"github.com/zvirb/comandind-sub004/internal/container"
	"github.com/zvirb/comandind-sub004/internal/depgraph"
	"github.com/zvirb/comandind-sub004/internal/domain"
	"github.com/zvirb/comandind-sub004/internal/observability"
	"github.com/zvirb/comandind-sub004/internal/provider"
	"github.com/zvirb/comandind-sub004/internal/safety"
)

// Archive keeps a durable copy of snapshots and finished operations
type Archive interface {
	ArchiveSnapshot(ctx context.Context, snap domain.SystemSnapshot) error
	ArchiveRollback(ctx context.Context, op domain.RollbackOperation) error
}

// EventSink receives rollback lifecycle events
type EventSink interface {
	PublishRollbackQueued(ctx context.Context, op domain.RollbackOperation) error
	PublishRollbackFinished(ctx context.Context, op domain.RollbackOperation) error
}

// DatabaseInspector reports database metadata for snapshots. Only metadata
// is captured, never data.
type DatabaseInspector interface {
	DatabaseState(ctx context.Context) (map[string]string, error)
}

// Thresholds for automatic rollback triggers
type Thresholds struct {
	// Health below this fires health_degradation
	Health float64
	// Predicted failure probability above this fires performance_regression
	FailureProbability float64
	// Average dependency health below this fires dependency_failure
	DependencyHealth float64
	// A restored service must exceed this health to count as recovered
	Recovered float64
	// Snapshot eligibility
	SafeCritical float64
	SafeAverage  float64
	// Preferred targets had the service above this health
	TargetHealth float64
}

// DefaultThresholds returns the stock trigger and safety thresholds
func DefaultThresholds() Thresholds {
	return Thresholds{
		Health:             0.3,
		FailureProbability: 0.9,
		DependencyHealth:   0.4,
		Recovered:          0.7,
		SafeCritical:       0.8,
		SafeAverage:        0.7,
		TargetHealth:       0.8,
	}
}

// Options tunes the manager. Zero values take defaults.
type Options struct {
	SnapshotInterval    time.Duration
	TriggerInterval     time.Duration
	ExecutionInterval   time.Duration
	MaintenanceInterval time.Duration
	SnapshotRetention   time.Duration
	HealthWaitTimeout   time.Duration
	HealthPollInterval  time.Duration
	StopTimeout         time.Duration

	CriticalServices     []string
	ConfigFiles          []string
	Network              string
	MaxManualBlastRadius float64
	MaxHistory           int
	Thresholds           Thresholds

	Now func() time.Time
}

func (o *Options) applyDefaults() {
	if o.SnapshotInterval <= 0 {
		o.SnapshotInterval = 30 * time.Minute
	}
	if o.TriggerInterval <= 0 {
		o.TriggerInterval = 30 * time.Second
	}
	if o.ExecutionInterval <= 0 {
		o.ExecutionInterval = 15 * time.Second
	}
	if o.MaintenanceInterval <= 0 {
		o.MaintenanceInterval = time.Hour
	}
	if o.SnapshotRetention <= 0 {
		o.SnapshotRetention = cache.SnapshotTTL
	}
	if o.HealthWaitTimeout <= 0 {
		o.HealthWaitTimeout = 120 * time.Second
	}
	if o.HealthPollInterval <= 0 {
		o.HealthPollInterval = 5 * time.Second
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = 30 * time.Second
	}
	if len(o.CriticalServices) == 0 {
		o.CriticalServices = []string{"postgres", "redis", "api"}
	}
	if o.MaxManualBlastRadius <= 0 {
		o.MaxManualBlastRadius = 0.5
	}
	if o.MaxHistory <= 0 {
		o.MaxHistory = 100
	}
	if o.Thresholds == (Thresholds{}) {
		o.Thresholds = DefaultThresholds()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Deps are the collaborators of the manager. Provider is required.
type Deps struct {
	Runtime       container.Runtime
	Provider      provider.HealthScoreProvider
	Graph         *depgraph.Graph
	Cache         cache.Store
	Database      DatabaseInspector
	Archives      []Archive
	Events        EventSink
	EmergencyStop *safety.EmergencyStopManager
	Metrics       *observability.Metrics
	Logger        *zap.Logger
}

// Manager owns snapshots and rollback operations
type Manager struct {
	runtime  container.Runtime
	provider provider.HealthScoreProvider
	graph    *depgraph.Graph
	cache    cache.Store
	database DatabaseInspector
	archives []Archive
	events   EventSink
	esm      *safety.EmergencyStopManager
	metrics  *observability.Metrics
	logger   *zap.Logger
	opts     Options

	mu         sync.Mutex
	snapshots  map[string]*domain.SystemSnapshot
	operations map[string]*domain.RollbackOperation
	queue      []string
	active     map[string]string
	history    []domain.RollbackOperation

	executing atomic.Bool
	loops     safety.LoopGroup
}

// New creates a manager with no snapshots and an empty queue
func New(deps Deps, opts Options) (*Manager, error) {
	if deps.Provider == nil {
		return nil, errors.New("rollback: health score provider is required")
	}
	opts.applyDefaults()

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		runtime:    deps.Runtime,
		provider:   deps.Provider,
		graph:      deps.Graph,
		cache:      deps.Cache,
		database:   deps.Database,
		archives:   deps.Archives,
		events:     deps.Events,
		esm:        deps.EmergencyStop,
		metrics:    deps.Metrics,
		logger:     logger.Named("rollback"),
		opts:       opts,
		snapshots:  make(map[string]*domain.SystemSnapshot),
		operations: make(map[string]*domain.RollbackOperation),
		active:     make(map[string]string),
	}, nil
}

// Initialize reloads cached snapshots. Entries failing checksum
// verification are dropped.
func (m *Manager) Initialize(ctx context.Context) error {
	if m.cache == nil {
		return nil
	}
	keys, err := m.cache.Keys(ctx, cache.SnapshotPrefix)
	if err != nil {
		return err
	}

	loaded, rejected := 0, 0
	for _, key := range keys {
		var snap domain.SystemSnapshot
		if err := cache.GetJSON(ctx, m.cache, key, &snap); err != nil {
			if !errors.Is(err, domain.ErrCacheMiss) {
				m.logger.Warn("load snapshot failed", zap.String("key", key), zap.Error(err))
			}
			continue
		}
		if err := snap.VerifyChecksum(); err != nil {
			m.logger.Warn("discarding snapshot", zap.String("snapshot_id", snap.SnapshotID), zap.Error(err))
			rejected++
			continue
		}
		m.mu.Lock()
		m.snapshots[snap.SnapshotID] = &snap
		m.mu.Unlock()
		loaded++
	}

	m.logger.Info("rollback manager initialized",
		zap.Int("snapshots", loaded),
		zap.Int("rejected", rejected),
		zap.Bool("runtime", m.runtime != nil),
	)
	return nil
}

// Start launches the snapshot, trigger, execution and maintenance loops
func (m *Manager) Start(ctx context.Context) {
	m.loops = safety.LoopGroup{
		safety.NewLoop("snapshot", m.opts.SnapshotInterval, func(ctx context.Context) error {
			_, err := m.CreateSnapshot(ctx)
			return err
		}, m.logger).RunImmediately(),
		safety.NewLoop("rollback-triggers", m.opts.TriggerInterval, m.EvaluateTriggers, m.logger),
		safety.NewLoop("rollback-execution", m.opts.ExecutionInterval, m.ExecuteNext, m.logger),
		safety.NewLoop("rollback-maintenance", m.opts.MaintenanceInterval, m.Maintain, m.logger),
	}
	m.loops.Start(ctx)
	m.logger.Info("rollback manager started", zap.Strings("loops", m.loops.Running()))
}

// Stop halts every loop and waits for in-flight iterations
func (m *Manager) Stop() {
	m.loops.Stop()
	m.logger.Info("rollback manager stopped")
}

// Running lists the loops currently running
func (m *Manager) Running() []string {
	return m.loops.Running()
}

func (m *Manager) now() time.Time {
	return m.opts.Now().UTC()
}

func (m *Manager) persist(ctx context.Context, key string, v any, ttl time.Duration) {
	if m.cache == nil {
		return
	}
	if err := cache.SetJSON(ctx, m.cache, key, v, ttl); err != nil {
		m.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (m *Manager) archiveSnapshot(ctx context.Context, snap domain.SystemSnapshot) {
	for _, a := range m.archives {
		if err := a.ArchiveSnapshot(ctx, snap); err != nil {
			m.logger.Warn("snapshot archive failed", zap.String("snapshot_id", snap.SnapshotID), zap.Error(err))
		}
	}
}

func (m *Manager) archiveRollback(ctx context.Context, op domain.RollbackOperation) {
	for _, a := range m.archives {
		if err := a.ArchiveRollback(ctx, op); err != nil {
			m.logger.Warn("rollback archive failed", zap.String("rollback_id", op.RollbackID), zap.Error(err))
		}
	}
}

// updateBacklogLocked publishes queue gauges; m.mu must be held
func (m *Manager) updateBacklogLocked() {
	ops := make(map[string]bool, len(m.active))
	for _, id := range m.active {
		ops[id] = true
	}
	m.metrics.SetRollbackBacklog(len(ops), len(m.queue))
}
