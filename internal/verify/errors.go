package verify

import (
	"errors"
	"fmt"
)

// Sentinel errors for verification failures.
var (
	// ErrVerificationFailed matches every VerificationError.
	ErrVerificationFailed = errors.New("artifact verification failed")

	// ErrMissingArtifact indicates an expected file does not exist.
	ErrMissingArtifact = errors.New("artifact missing")

	// ErrInsecureMode indicates a secret file is group or other accessible.
	ErrInsecureMode = errors.New("insecure file mode")
)

// VerificationError describes one failed check on one artifact.
type VerificationError struct {
	Path    string
	Check   string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *VerificationError) Error() string {
	msg := fmt.Sprintf("verification of %s failed: %s: %s", e.Path, e.Check, e.Message)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *VerificationError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is ErrVerificationFailed, any
// *VerificationError or matches the cause.
func (e *VerificationError) Is(target error) bool {
	if target == ErrVerificationFailed {
		return true
	}
	if _, ok := target.(*VerificationError); ok {
		return true
	}
	return errors.Is(e.Cause, target)
}

// NewVerificationError creates a new VerificationError.
func NewVerificationError(path, check, message string) *VerificationError {
	return &VerificationError{Path: path, Check: check, Message: message}
}

// NewVerificationErrorWithCause creates a new VerificationError with a cause.
func NewVerificationErrorWithCause(path, check, message string, cause error) *VerificationError {
	return &VerificationError{Path: path, Check: check, Message: message, Cause: cause}
}
