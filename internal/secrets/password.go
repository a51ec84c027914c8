package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vyrodovalexey/dynamic-certs/internal/config"
	"github.com/vyrodovalexey/dynamic-certs/internal/vault"
)

// ResolvePassword reads the value under key in the secret at path. Any
// failure, including an empty value, is reported as a configuration error
// for the export.passwordSecret field.
func ResolvePassword(ctx context.Context, provider Provider, path, key string) (string, error) {
	if provider == nil {
		return "", config.NewConfigurationErrorWithCause("export.passwordSecret",
			"no secrets provider", ErrProviderNotConfigured)
	}
	if key == "" {
		key = "value"
	}

	secret, err := provider.GetSecret(ctx, path)
	if err != nil {
		return "", config.NewConfigurationErrorWithCause("export.passwordSecret",
			fmt.Sprintf("failed to resolve %s from %s provider", path, provider.Type()), err)
	}

	password, ok := secret.GetString(key)
	if !ok {
		return "", config.NewConfigurationErrorWithCause("export.passwordSecret",
			fmt.Sprintf("secret %s has no key %q", path, key), ErrKeyNotFound)
	}
	if strings.TrimSpace(password) == "" {
		return "", config.NewConfigurationError("export.passwordSecret",
			fmt.Sprintf("secret %s key %q is empty", path, key))
	}
	return password, nil
}

// IsTransient reports whether a ResolvePassword failure may go away on a
// later attempt: the store was unreachable or the secret does not exist yet.
// Malformed paths, missing keys, empty values and rejected credentials are
// permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	for _, permanent := range []error{
		ErrKeyNotFound,
		ErrInvalidPath,
		ErrProviderNotConfigured,
		ErrInvalidProviderType,
		vault.ErrAuthenticationFailed,
		vault.ErrInvalidConfig,
		context.Canceled,
		context.DeadlineExceeded,
	} {
		if errors.Is(err, permanent) {
			return false
		}
	}

	var cfgErr *config.ConfigurationError
	if errors.As(err, &cfgErr) && cfgErr.Cause == nil {
		return false
	}
	return true
}
