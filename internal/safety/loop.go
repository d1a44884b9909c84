package safety

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// LoopFunc is one iteration of a periodic loop
type LoopFunc func(ctx context.Context) error

// Loop runs a function on a fixed interval until stopped. Errors and panics
// from an iteration are logged and the schedule continues.
type Loop struct {
	name     string
	interval time.Duration
	fn       LoopFunc
	logger   *zap.Logger

	// runImmediately executes one iteration before the first tick
	runImmediately bool

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	runs    int
	lastErr error
}

// NewLoop creates a stopped loop
func NewLoop(name string, interval time.Duration, fn LoopFunc, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		name:     name,
		interval: interval,
		fn:       fn,
		logger:   logger.With(zap.String("loop", name)),
	}
}

// RunImmediately makes the loop execute once on start instead of waiting a full interval
func (l *Loop) RunImmediately() *Loop {
	l.runImmediately = true
	return l
}

// Name returns the loop name
func (l *Loop) Name() string { return l.name }

// Start begins the loop in a goroutine. The loop stops when ctx is cancelled or Stop is called.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true

	loopCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	done := l.done
	l.mu.Unlock()

	l.logger.Info("loop started", zap.Duration("interval", l.interval))
	go l.run(loopCtx, done)
}

// Stop halts the loop and waits for an in-flight iteration to return
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	cancel, done := l.cancel, l.done
	l.mu.Unlock()

	cancel()
	<-done
	l.logger.Info("loop stopped")
}

// IsRunning returns whether the loop is currently active
func (l *Loop) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Runs returns how many iterations have completed
func (l *Loop) Runs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.runs
}

// LastError returns the error of the most recent iteration
func (l *Loop) LastError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	if l.runImmediately {
		l.iterate(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			l.mu.Lock()
			l.running = false
			l.mu.Unlock()
			return
		case <-ticker.C:
			l.iterate(ctx)
		}
	}
}

func (l *Loop) iterate(ctx context.Context) {
	err := l.safeCall(ctx)
	if err != nil && ctx.Err() == nil {
		l.logger.Error("loop iteration failed", zap.Error(err))
	}

	l.mu.Lock()
	l.runs++
	l.lastErr = err
	l.mu.Unlock()
}

func (l *Loop) safeCall(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in loop %s: %v", l.name, r)
		}
	}()
	return l.fn(ctx)
}

// LoopGroup starts and stops a set of loops together
type LoopGroup []*Loop

func (g LoopGroup) Start(ctx context.Context) {
	for _, l := range g {
		l.Start(ctx)
	}
}

func (g LoopGroup) Stop() {
	for _, l := range g {
		l.Stop()
	}
}

// Running returns the names of running loops
func (g LoopGroup) Running() []string {
	var out []string
	for _, l := range g {
		if l.IsRunning() {
			out = append(out, l.Name())
		}
	}
	return out
}
