// Package process runs the external certificate engines as child processes
// and turns their failures into typed errors.
package process

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"time"

	"github.com/vyrodovalexey/dynamic-certs/internal/observability"
)

// DefaultWaitDelay bounds how long Wait blocks on output pipes after the
// child has been killed.
const DefaultWaitDelay = 5 * time.Second

// Result is the outcome of one finished invocation.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Runner executes invocations synchronously.
type Runner interface {
	// Run blocks until the child exits. A non-zero exit yields a
	// *CommandFailureError, a launch or wait failure a *RunnerError.
	Run(ctx context.Context, inv Invocation) (*Result, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, inv Invocation) (*Result, error)

// Run calls f(ctx, inv).
func (f RunnerFunc) Run(ctx context.Context, inv Invocation) (*Result, error) {
	return f(ctx, inv)
}

// ExecRunner runs invocations with os/exec, capturing both output streams.
type ExecRunner struct {
	logger    observability.Logger
	timeout   time.Duration
	waitDelay time.Duration
}

// ExecRunnerOption configures an ExecRunner.
type ExecRunnerOption func(*ExecRunner)

// WithTimeout bounds every invocation. Zero means no limit.
func WithTimeout(timeout time.Duration) ExecRunnerOption {
	return func(r *ExecRunner) {
		r.timeout = timeout
	}
}

// WithWaitDelay overrides DefaultWaitDelay.
func WithWaitDelay(delay time.Duration) ExecRunnerOption {
	return func(r *ExecRunner) {
		r.waitDelay = delay
	}
}

// NewExecRunner creates an ExecRunner.
func NewExecRunner(logger observability.Logger, opts ...ExecRunnerOption) *ExecRunner {
	if logger == nil {
		logger = observability.NopLogger()
	}
	r := &ExecRunner{
		logger:    logger,
		waitDelay: DefaultWaitDelay,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run implements Runner. The child is killed when ctx is done or the
// timeout elapses, and Wait always reaps it.
func (r *ExecRunner) Run(ctx context.Context, inv Invocation) (*Result, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	logger := r.logger.WithContext(ctx).With(observability.String("command", inv.String()))

	cmd := exec.CommandContext(ctx, inv.Name(), inv.Args()...)
	if env := inv.Env(); len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
		logger = logger.With(observability.Strings("env", inv.EnvKeys()))
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = r.waitDelay

	logger.Debug("running command")

	start := time.Now()
	if err := cmd.Start(); err != nil {
		logger.Error("failed to start command", observability.Error(err))
		return nil, NewRunnerError(inv, err)
	}

	waitErr := cmd.Wait()

	result := &Result{
		ExitCode: -1,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	r.logOutput(logger, result)

	if waitErr == nil {
		return result, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, NewRunnerError(inv, ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) && result.ExitCode > 0 {
		return result, NewCommandFailureError(inv, result.ExitCode, result.Stderr)
	}

	return result, NewRunnerError(inv, waitErr)
}

// logOutput logs stdout at info and stderr at error when the stream is
// non-empty or the exit code is non-zero.
func (r *ExecRunner) logOutput(logger observability.Logger, result *Result) {
	fields := []observability.Field{
		observability.Int("exit_code", result.ExitCode),
		observability.Duration("duration", result.Duration),
	}

	if result.Stdout != "" {
		logger.Info("command output", append(fields, observability.String("stdout", result.Stdout))...)
	}
	if result.Stderr != "" || result.ExitCode != 0 {
		logger.Error("command error output", append(fields, observability.String("stderr", result.Stderr))...)
	}
	if result.Stdout == "" && result.Stderr == "" && result.ExitCode == 0 {
		logger.Debug("command finished", fields...)
	}
}
