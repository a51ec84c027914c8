package process

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors matched by the typed errors below.
var (
	// ErrCommandFailed matches any *CommandFailureError.
	ErrCommandFailed = errors.New("command failed")

	// ErrRunnerFailed matches any *RunnerError.
	ErrRunnerFailed = errors.New("command could not be run")
)

// maxStderrInError caps the stderr excerpt carried in error messages.
const maxStderrInError = 512

// CommandFailureError reports a child that exited with a non-zero code.
type CommandFailureError struct {
	Command  string
	ExitCode int
	Stderr   string
}

// Error implements the error interface.
func (e *CommandFailureError) Error() string {
	msg := fmt.Sprintf("command %q exited with code %d", e.Command, e.ExitCode)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		if len(stderr) > maxStderrInError {
			stderr = stderr[:maxStderrInError] + "..."
		}
		msg += ": " + stderr
	}
	return msg
}

// Is checks if the error matches the target.
func (e *CommandFailureError) Is(target error) bool {
	if target == ErrCommandFailed {
		return true
	}
	_, ok := target.(*CommandFailureError)
	return ok
}

// NewCommandFailureError creates a new CommandFailureError.
func NewCommandFailureError(inv Invocation, exitCode int, stderr string) *CommandFailureError {
	return &CommandFailureError{Command: inv.String(), ExitCode: exitCode, Stderr: stderr}
}

// RunnerError reports a child that could not be launched or waited on.
type RunnerError struct {
	Command string
	Cause   error
}

// Error implements the error interface.
func (e *RunnerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("failed to run %q: %v", e.Command, e.Cause)
	}
	return fmt.Sprintf("failed to run %q", e.Command)
}

// Unwrap returns the underlying error.
func (e *RunnerError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *RunnerError) Is(target error) bool {
	if target == ErrRunnerFailed {
		return true
	}
	_, ok := target.(*RunnerError)
	return ok || errors.Is(e.Cause, target)
}

// NewRunnerError creates a new RunnerError.
func NewRunnerError(inv Invocation, cause error) *RunnerError {
	return &RunnerError{Command: inv.String(), Cause: cause}
}
