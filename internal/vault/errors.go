// Package vault provides the HashiCorp Vault access used to resolve run
// secrets: authentication and KV reads.
package vault

import (
	"errors"
	"fmt"
)

// Common errors for Vault operations.
var (
	// ErrSecretNotFound indicates the secret was not found.
	ErrSecretNotFound = errors.New("vault: secret not found")

	// ErrAuthenticationFailed indicates authentication failed.
	ErrAuthenticationFailed = errors.New("vault: authentication failed")

	// ErrNotAuthenticated indicates an operation before Authenticate.
	ErrNotAuthenticated = errors.New("vault: client not authenticated")

	// ErrClientClosed indicates the client was closed.
	ErrClientClosed = errors.New("vault: client closed")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("vault: invalid configuration")
)

// VaultError represents a Vault operation failure.
type VaultError struct {
	Op      string
	Path    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *VaultError) Error() string {
	msg := "vault " + e.Op
	if e.Path != "" {
		msg += " on " + e.Path
	}
	msg += ": " + e.Message
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *VaultError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a *VaultError.
func (e *VaultError) Is(target error) bool {
	_, ok := target.(*VaultError)
	return ok
}

// NewVaultError creates a new VaultError.
func NewVaultError(op, path, message string) *VaultError {
	return &VaultError{Op: op, Path: path, Message: message}
}

// NewVaultErrorWithCause creates a new VaultError wrapping cause.
func NewVaultErrorWithCause(op, path, message string, cause error) *VaultError {
	return &VaultError{Op: op, Path: path, Message: message, Cause: cause}
}

// ConfigurationError represents an invalid client configuration.
type ConfigurationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("vault configuration error: %s: %s", e.Field, e.Message)
	}
	return "vault configuration error: " + e.Message
}

// Is matches ErrInvalidConfig.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// NewConfigurationError creates a new ConfigurationError.
func NewConfigurationError(field, message string) *ConfigurationError {
	return &ConfigurationError{Field: field, Message: message}
}
