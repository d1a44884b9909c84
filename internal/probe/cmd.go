package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/zvirb/comandind-sub004/internal/domain"
)

const (
	cmdOutputMismatchScore = 0.5
	cmdOutputTail          = 512
)

// CmdProbe scores a service from a shell health command such as
// "pg_isready -h postgres" or "redis-cli -h redis ping". The expected exit
// code is full health; the right exit code with unexpected output is half.
type CmdProbe struct {
	name         string
	service      string
	command      string
	env          []string
	expectedExit int
	expectOutput string
	timeout      time.Duration
}

// CmdProbeConfig holds construction parameters for CmdProbe
type CmdProbeConfig struct {
	Name             string
	Service          string
	Command          string
	Env              map[string]string
	ExpectedExitCode int
	OutputContains   string
	Timeout          time.Duration
}

// NewCmdProbe creates a command probe from config
func NewCmdProbe(cfg CmdProbeConfig) *CmdProbe {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	env := make([]string, 0, len(cfg.Env))
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}
	return &CmdProbe{
		name:         cfg.Name,
		service:      cfg.Service,
		command:      cfg.Command,
		env:          env,
		expectedExit: cfg.ExpectedExitCode,
		expectOutput: cfg.OutputContains,
		timeout:      cfg.Timeout,
	}
}

func (p *CmdProbe) Name() string    { return p.name }
func (p *CmdProbe) Type() string    { return "cmd" }
func (p *CmdProbe) Service() string { return p.service }

// Execute returns an error wrapping domain.ErrTimeout when the command
// outlives the probe timeout
func (p *CmdProbe) Execute(ctx context.Context) (*ProbeResult, error) {
	exitCode, output, err := p.run(ctx)
	if err != nil {
		return nil, err
	}

	exitOK := exitCode == p.expectedExit
	outputOK := p.expectOutput == "" || strings.Contains(output, p.expectOutput)

	score := 0.0
	switch {
	case exitOK && outputOK:
		score = 1
	case exitOK:
		score = cmdOutputMismatchScore
	}

	return &ProbeResult{
		ProbeName: p.name,
		ProbeType: p.Type(),
		Service:   p.service,
		Passed:    exitOK && outputOK,
		Score:     score,
		Detail: map[string]any{
			"command":            p.command,
			"exit_code":          exitCode,
			"expected_exit_code": p.expectedExit,
			"output":             tail(output, cmdOutputTail),
			"output_match":       outputOK,
		},
		ExecutedAt: time.Now().UTC(),
	}, nil
}

func (p *CmdProbe) run(ctx context.Context) (int, string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, "sh", "-c", p.command)
	cmd.Stdout = &out
	cmd.Stderr = &out
	if len(p.env) > 0 {
		cmd.Env = append(cmd.Environ(), p.env...)
	}

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return 0, "", fmt.Errorf("command %q after %v: %w", p.command, p.timeout, domain.ErrTimeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return 0, "", fmt.Errorf("run command: %w", err)
		}
		return exitErr.ExitCode(), out.String(), nil
	}
	return 0, out.String(), nil
}

// tail keeps the last n bytes, where health commands print their verdict
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
