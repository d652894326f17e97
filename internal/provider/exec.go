package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-cloudlink/internal/process"
)

// execGracefulTimeout is the wait between SIGTERM and SIGKILL once a call
// outlives its context.
const execGracefulTimeout = 500 * time.Millisecond

// Exec invokes an executable once per call as `binary <method> <payload>`.
// Standard output, without trailing newlines, is the response; empty output
// means no response.
type Exec struct {
	binary string
	runner *process.Runner
	logger Logger
}

// NewExec returns a provider for binary. The binary is checked on every
// call rather than here, so one installed after startup is picked up.
func NewExec(binary string) (*Exec, error) {
	if binary == "" {
		return nil, fmt.Errorf("%w: no executable configured", ErrScriptUnreadable)
	}

	return &Exec{
		binary: binary,
		runner: process.NewRunner(),
		logger: noopLogger{},
	}, nil
}

// SetLogger sets the logger for handler diagnostics.
func (p *Exec) SetLogger(logger Logger) {
	p.logger = logger
	p.runner.SetLogger(logger)
}

// Check reports whether the binary exists and is executable.
func (p *Exec) Check() error {
	info, err := os.Stat(p.binary)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrScriptUnreadable, err)
	}
	if info.IsDir() || info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("%w: %s is not executable", ErrScriptUnreadable, p.binary)
	}
	return nil
}

// Invoke runs the executable with method and payload as arguments.
func (p *Exec) Invoke(ctx context.Context, method, payload string) (string, error) {
	if err := p.Check(); err != nil {
		return "", err
	}

	res, err := p.runner.Run(ctx, process.Config{
		Name:            "provider:" + method,
		Binary:          p.binary,
		Args:            []string{method, payload},
		GracefulTimeout: execGracefulTimeout,
	})
	if err != nil {
		if errors.Is(err, process.ErrCancelled) {
			return "", fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		if errors.Is(err, process.ErrOutputTooLarge) {
			p.logger.Warn("provider output truncated", "method", method)
		}
		return "", fmt.Errorf("%w: %w", ErrScript, err)
	}

	out := strings.TrimRight(string(res.Stdout), "\r\n")
	if out == "" {
		return "", ErrNoResponse
	}
	return out, nil
}
