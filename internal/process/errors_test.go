package process

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommandFailureError(t *testing.T) {
	t.Parallel()

	inv := NewInvocation("openssl", "ca", "-batch")

	tests := []struct {
		name   string
		stderr string
		want   string
	}{
		{name: "without stderr", want: `command "openssl ca -batch" exited with code 1`},
		{name: "with stderr", stderr: " unable to load CA \n", want: `command "openssl ca -batch" exited with code 1: unable to load CA`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := NewCommandFailureError(inv, 1, tt.stderr)
			assert.Equal(t, tt.want, err.Error())
			assert.True(t, errors.Is(err, ErrCommandFailed))
			assert.True(t, errors.Is(err, &CommandFailureError{}))
			assert.False(t, errors.Is(err, &RunnerError{}))
		})
	}
}

func TestCommandFailureError_TruncatesStderr(t *testing.T) {
	t.Parallel()

	err := NewCommandFailureError(NewInvocation("x"), 1, strings.Repeat("e", 2*maxStderrInError))
	assert.True(t, strings.HasSuffix(err.Error(), "..."))
	assert.Less(t, len(err.Error()), 2*maxStderrInError)
}

func TestRunnerError(t *testing.T) {
	t.Parallel()

	cause := errors.New("exec: not found")
	err := NewRunnerError(NewInvocation("openssl", "version"), cause)

	assert.Equal(t, `failed to run "openssl version": exec: not found`, err.Error())
	assert.Equal(t, cause, errors.Unwrap(err))
	assert.True(t, errors.Is(err, cause))
	assert.True(t, errors.Is(err, ErrRunnerFailed))
	assert.True(t, errors.Is(err, &RunnerError{}))

	bare := &RunnerError{Command: "x"}
	assert.Equal(t, `failed to run "x"`, bare.Error())
}
