// Package process runs external media tools with a hard time limit.
//
// Every child is started in its own process group. On timeout or when the
// caller's context is cancelled the whole group is killed, so a tool that
// forks helpers never leaves orphans behind.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/romariotrain/media-derivatives/internal/media/models"
	"github.com/romariotrain/media-derivatives/internal/metrics"
)

const (
	DefaultTimeout   = 30 * time.Minute
	defaultTailBytes = 4096
	defaultWaitDelay = 5 * time.Second
)

// Runner abstracts process execution so consumers can be tested with fakes.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// Result is what a finished tool left behind.
type Result struct {
	ExitCode int
	Stdout   []byte
	Tail     string
	Duration time.Duration
}

// ExitError reports a tool that exited nonzero or could not be started.
// It matches models.ErrProcessFailed with errors.Is.
type ExitError struct {
	Tool       string
	ExitCode   int
	OutputTail string
	Err        error
}

func (e *ExitError) Error() string {
	if e.OutputTail == "" {
		return fmt.Sprintf("%s exited with code %d", e.Tool, e.ExitCode)
	}
	return fmt.Sprintf("%s exited with code %d: %s", e.Tool, e.ExitCode, e.OutputTail)
}

func (e *ExitError) Is(target error) bool { return target == models.ErrProcessFailed }

func (e *ExitError) Unwrap() error { return e.Err }

type ExecConfig struct {
	Timeout   time.Duration
	TailBytes int
	WaitDelay time.Duration
	Logger    zerolog.Logger
}

// Exec is the os/exec backed Runner.
type Exec struct {
	timeout   time.Duration
	tailBytes int
	waitDelay time.Duration
	logger    zerolog.Logger
}

func NewExec(cfg ExecConfig) *Exec {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.TailBytes <= 0 {
		cfg.TailBytes = defaultTailBytes
	}
	if cfg.WaitDelay <= 0 {
		cfg.WaitDelay = defaultWaitDelay
	}
	return &Exec{
		timeout:   cfg.Timeout,
		tailBytes: cfg.TailBytes,
		waitDelay: cfg.WaitDelay,
		logger:    cfg.Logger.With().Str("component", "process_runner").Logger(),
	}
}

// Run blocks until the tool exits, the timeout fires or ctx is cancelled.
func (e *Exec) Run(ctx context.Context, name string, args ...string) (Result, error) {
	tool := filepath.Base(name)
	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var stdout bytes.Buffer
	stderr := newTailBuffer(e.tailBytes)

	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = stderr
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = e.waitDelay

	e.logger.Debug().Str("tool", tool).Strs("args", args).Msg("starting process")

	start := time.Now()
	err := cmd.Run()
	res := Result{
		ExitCode: -1,
		Stdout:   stdout.Bytes(),
		Tail:     stderr.String(),
		Duration: time.Since(start),
	}
	if res.Tail == "" {
		res.Tail = tailOf(stdout.Bytes(), e.tailBytes)
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	metrics.ProcessDuration.WithLabelValues(tool).Observe(res.Duration.Seconds())

	if err == nil {
		metrics.ProcessRunsTotal.WithLabelValues(tool, "ok").Inc()
		return res, nil
	}

	// helpers the tool forked may still hold the group
	if runCtx.Err() != nil {
		_ = killProcessGroup(cmd)
	}

	switch {
	case ctx.Err() != nil:
		metrics.ProcessRunsTotal.WithLabelValues(tool, "cancelled").Inc()
		return res, fmt.Errorf("%s: %w", tool, ctx.Err())
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		metrics.ProcessRunsTotal.WithLabelValues(tool, "timeout").Inc()
		e.logger.Error().
			Str("tool", tool).
			Dur("timeout", e.timeout).
			Str("output_tail", res.Tail).
			Msg("process timed out, group killed")
		return res, fmt.Errorf("%s after %s: %w", tool, e.timeout, models.ErrProcessTimeout)
	}

	metrics.ProcessRunsTotal.WithLabelValues(tool, "failed").Inc()
	exitErr := &ExitError{Tool: tool, ExitCode: res.ExitCode, OutputTail: res.Tail, Err: err}
	var ee *exec.ExitError
	if !errors.As(err, &ee) {
		// never started
		exitErr.OutputTail = err.Error()
	}
	e.logger.Error().
		Str("tool", tool).
		Int("exit_code", exitErr.ExitCode).
		Str("output_tail", exitErr.OutputTail).
		Msg("process failed")
	return res, exitErr
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > 2*t.max {
		t.buf = append(t.buf[:0], t.buf[len(t.buf)-t.max:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return tailOf(t.buf, t.max)
}

func tailOf(b []byte, max int) string {
	b = bytes.TrimSpace(b)
	if len(b) > max {
		b = b[len(b)-max:]
	}
	return string(b)
}
