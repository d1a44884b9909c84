package probe

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zvirb/comandind-sub004/internal/domain"
)

func TestCmdProbeScores(t *testing.T) {
	tests := []struct {
		name     string
		cfg      CmdProbeConfig
		passed   bool
		score    float64
		exitCode int
	}{
		{
			name:   "healthy",
			cfg:    CmdProbeConfig{Command: "echo PONG", OutputContains: "PONG"},
			passed: true, score: 1,
		},
		{
			name:   "non-zero exit",
			cfg:    CmdProbeConfig{Command: "exit 2"},
			passed: false, score: 0, exitCode: 2,
		},
		{
			name:   "expected non-zero exit",
			cfg:    CmdProbeConfig{Command: "false", ExpectedExitCode: 1},
			passed: true, score: 1, exitCode: 1,
		},
		{
			name:   "output mismatch",
			cfg:    CmdProbeConfig{Command: "echo 'no response'", OutputContains: "accepting connections"},
			passed: false, score: cmdOutputMismatchScore,
		},
		{
			name:   "stderr counts as output",
			cfg:    CmdProbeConfig{Command: "echo ready >&2", OutputContains: "ready"},
			passed: true, score: 1,
		},
		{
			name:   "env passed through",
			cfg:    CmdProbeConfig{Command: "echo $PROBE_TARGET", Env: map[string]string{"PROBE_TARGET": "redis:6379"}, OutputContains: "redis:6379"},
			passed: true, score: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Name = "cmd-" + tt.name
			tt.cfg.Service = "redis"
			p := NewCmdProbe(tt.cfg)

			result, err := p.Execute(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.passed, result.Passed)
			assert.Equal(t, tt.score, result.Score)
			assert.Equal(t, tt.exitCode, result.Detail["exit_code"])
			assert.Equal(t, "redis", result.Service)
		})
	}
}

func TestCmdProbeIdentity(t *testing.T) {
	p := NewCmdProbe(CmdProbeConfig{Name: "pg-ready", Service: "postgres", Command: "true"})
	assert.Equal(t, "pg-ready", p.Name())
	assert.Equal(t, "cmd", p.Type())
	assert.Equal(t, "postgres", p.Service())
	assert.Equal(t, 10*time.Second, p.timeout)
}

func TestCmdProbeTimeout(t *testing.T) {
	p := NewCmdProbe(CmdProbeConfig{
		Name:    "slow-cmd",
		Service: "api",
		Command: "sleep 10",
		Timeout: 200 * time.Millisecond,
	})

	_, err := p.Execute(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTimeout)

	result := SafeExecute(context.Background(), p, nil)
	assert.Zero(t, result.Score)
	require.NotNil(t, result.Error)
}

func TestCmdProbeKeepsOutputTail(t *testing.T) {
	long := strings.Repeat("x", 2000) + "END"
	assert.Equal(t, "END", tail(long, 3))
	assert.Equal(t, "short", tail("short", 10))

	p := NewCmdProbe(CmdProbeConfig{Name: "noisy", Service: "api", Command: "printf '%0600d' 0; echo DONE"})
	result, err := p.Execute(context.Background())
	require.NoError(t, err)
	out := result.Detail["output"].(string)
	assert.Len(t, out, cmdOutputTail)
	assert.True(t, strings.HasSuffix(out, "DONE\n"))
}
