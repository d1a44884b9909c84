package safety

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoopStartStop(t *testing.T) {
	var calls atomic.Int32
	l := NewLoop("test", 100*time.Millisecond, func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}, nil)

	assert.False(t, l.IsRunning())

	l.Start(context.Background())
	assert.True(t, l.IsRunning())

	// Starting again should be a no-op
	l.Start(context.Background())
	assert.True(t, l.IsRunning())

	l.Stop()
	assert.False(t, l.IsRunning())

	// Stopping again should be a no-op
	l.Stop()
}

func TestLoopRunsOnInterval(t *testing.T) {
	var calls atomic.Int32
	l := NewLoop("ticker", 30*time.Millisecond, func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}, nil)

	l.Start(context.Background())
	time.Sleep(200 * time.Millisecond)
	l.Stop()

	assert.GreaterOrEqual(t, int(calls.Load()), 3)
	assert.Equal(t, int(calls.Load()), l.Runs())
}

func TestLoopContinuesAfterErrorsAndPanics(t *testing.T) {
	var calls atomic.Int32
	l := NewLoop("flaky", 20*time.Millisecond, func(ctx context.Context) error {
		n := calls.Add(1)
		if n == 1 {
			panic("boom")
		}
		return errors.New("still failing")
	}, nil)

	l.Start(context.Background())
	time.Sleep(150 * time.Millisecond)

	assert.True(t, l.IsRunning(), "errors must not stop the loop")
	l.Stop()

	assert.GreaterOrEqual(t, int(calls.Load()), 3)
	assert.EqualError(t, l.LastError(), "still failing")
}

func TestLoopRunImmediately(t *testing.T) {
	ran := make(chan struct{}, 1)
	l := NewLoop("eager", time.Hour, func(ctx context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}, nil).RunImmediately()

	l.Start(context.Background())
	defer l.Stop()

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("loop did not run on start")
	}
}

func TestLoopStopsWithParentContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := NewLoop("parent", 10*time.Millisecond, func(ctx context.Context) error { return nil }, nil)

	l.Start(ctx)
	cancel()

	assert.Eventually(t, func() bool { return !l.IsRunning() }, time.Second, 10*time.Millisecond)
}

func TestLoopGroup(t *testing.T) {
	noop := func(ctx context.Context) error { return nil }
	g := LoopGroup{
		NewLoop("a", time.Hour, noop, nil),
		NewLoop("b", time.Hour, noop, nil),
	}

	g.Start(context.Background())
	assert.ElementsMatch(t, []string{"a", "b"}, g.Running())

	g.Stop()
	assert.Empty(t, g.Running())
}
