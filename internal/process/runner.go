package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

const (
	// defaultGracefulTimeout is the wait between SIGTERM and SIGKILL.
	defaultGracefulTimeout = time.Second

	// defaultMaxOutput bounds captured stdout.
	defaultMaxOutput = 1 << 20

	// stderrBufferSize bounds captured stderr, which is only logged.
	stderrBufferSize = 4096
)

// Config describes a single program invocation.
type Config struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Binary is the path to the executable.
	Binary string

	// Args are command-line arguments to pass to the binary.
	Args []string

	// Env are additional environment variables (key=value format).
	// If nil, inherits from parent process.
	Env []string

	// WorkDir is the working directory for the process.
	// If empty, inherits from parent process.
	WorkDir string

	// GracefulTimeout is how long to wait after SIGTERM before SIGKILL
	// once the context is done. Default: 1s.
	GracefulTimeout time.Duration

	// MaxOutput limits captured stdout in bytes. Default: 1MB.
	MaxOutput int
}

// Result is the outcome of a completed invocation.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// Logger defines the logging interface for the runner.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Runner starts programs and waits for them. A Runner has no per-call state
// and may be shared.
type Runner struct {
	logger Logger
}

// NewRunner creates a runner with a no-op logger.
func NewRunner() *Runner {
	return &Runner{logger: noopLogger{}}
}

// SetLogger sets the logger for the runner.
func (r *Runner) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.logger = logger
}

// Run starts the program and waits for it to exit.
//
// The program runs in its own process group. When ctx ends first, the whole
// group receives SIGTERM and, after GracefulTimeout, SIGKILL.
//
// Returns:
//   - Result: captured output, also populated on ErrExitStatus
//   - error: ErrStart, ErrExitStatus, ErrCancelled or ErrOutputTooLarge
func (r *Runner) Run(ctx context.Context, cfg Config) (Result, error) {
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = defaultGracefulTimeout
	}
	if cfg.MaxOutput <= 0 {
		cfg.MaxOutput = defaultMaxOutput
	}

	cmd := exec.CommandContext(ctx, cfg.Binary, cfg.Args...) //nolint:gosec // binary path comes from operator configuration

	// Create a new process group so we can signal all children on cancellation
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if cfg.Env != nil {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}
	if cfg.WorkDir != "" {
		cmd.Dir = cfg.WorkDir
	}

	stdout := &limitedBuffer{limit: cfg.MaxOutput}
	stderr := &limitedBuffer{limit: stderrBufferSize}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	exited := make(chan struct{})
	cmd.Cancel = func() error {
		r.terminate(cmd, cfg, exited)
		return nil
	}
	// Children that inherited the pipes may outlive the group kill.
	cmd.WaitDelay = 2 * cfg.GracefulTimeout

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("%w: %s: %w", ErrStart, cfg.Name, err)
	}
	r.logger.Debug("process started", "name", cfg.Name, "pid", cmd.Process.Pid)

	waitErr := cmd.Wait()
	close(exited)

	res := Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: cmd.ProcessState.ExitCode(),
		Duration: time.Since(start),
	}
	if len(res.Stderr) > 0 {
		r.logger.Debug("process output",
			"name", cfg.Name,
			"stream", "stderr",
			"output", string(res.Stderr),
		)
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, fmt.Errorf("%w: %s: %w", ErrCancelled, cfg.Name, ctxErr)
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return res, fmt.Errorf("%w: %s exited with code %d", ErrExitStatus, cfg.Name, res.ExitCode)
		}
		return res, fmt.Errorf("%s: %w", cfg.Name, waitErr)
	}
	if stdout.Truncated() {
		return res, fmt.Errorf("%w: %s wrote more than %d bytes", ErrOutputTooLarge, cfg.Name, cfg.MaxOutput)
	}

	return res, nil
}

// terminate sends SIGTERM to the process group and SIGKILL after the grace
// period unless the process has exited.
func (r *Runner) terminate(cmd *exec.Cmd, cfg Config, exited <-chan struct{}) {
	pid := cmd.Process.Pid

	// Use negative PID to signal the process group (created via Setpgid)
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		r.logger.Warn("failed to send SIGTERM to process group", "name", cfg.Name, "error", err)
	}

	go func() {
		select {
		case <-exited:
		case <-time.After(cfg.GracefulTimeout):
			r.logger.Warn("graceful shutdown timeout, sending SIGKILL",
				"name", cfg.Name,
				"timeout", cfg.GracefulTimeout,
			)
			if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
				r.logger.Warn("failed to kill process group", "name", cfg.Name, "error", err)
			}
		}
	}()
}

// limitedBuffer keeps the first limit bytes written and discards the rest.
// Writes never fail so the child is not killed by SIGPIPE.
type limitedBuffer struct {
	mu        sync.Mutex
	buf       []byte
	limit     int
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	room := b.limit - len(b.buf)
	if room < len(p) {
		b.truncated = true
		if room > 0 {
			b.buf = append(b.buf, p[:room]...)
		}
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *limitedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf...)
}

func (b *limitedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
