package vault

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	vaultapi "github.com/hashicorp/vault/api"

	"github.com/vyrodovalexey/dynamic-certs/internal/observability"
)

// Client reads secrets from Vault. A run is short-lived, so the token is
// obtained once and never renewed.
type Client struct {
	config *Config
	api    *vaultapi.Client
	logger observability.Logger

	mu            sync.RWMutex
	authenticated bool
	closed        bool
}

// New creates a new Vault client. It does not contact Vault.
func New(cfg *Config, logger observability.Logger) (*Client, error) {
	if cfg == nil {
		return nil, NewConfigurationError("", "configuration is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	apiConfig := vaultapi.DefaultConfig()
	apiConfig.Address = cfg.Address
	apiConfig.Timeout = cfg.timeout()

	api, err := vaultapi.NewClient(apiConfig)
	if err != nil {
		return nil, NewVaultErrorWithCause("init", "", "failed to create vault client", err)
	}
	// Never pick up VAULT_TOKEN implicitly.
	api.ClearToken()

	if cfg.Namespace != "" {
		api.SetNamespace(cfg.Namespace)
	}

	return &Client{
		config: cfg,
		api:    api,
		logger: logger.With(observability.String("component", "vault")),
	}, nil
}

// Authenticate obtains a client token with the configured method.
func (c *Client) Authenticate(ctx context.Context) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrClientClosed
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	var err error
	switch c.config.AuthMethod {
	case AuthMethodToken:
		err = c.authenticateWithToken(ctx)
	case AuthMethodKubernetes:
		err = c.authenticateWithKubernetes(ctx)
	case AuthMethodAppRole:
		err = c.authenticateWithAppRole(ctx)
	default:
		err = NewConfigurationError("authMethod", "unsupported auth method: "+string(c.config.AuthMethod))
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.authenticated = true
	c.mu.Unlock()

	c.logger.Info("authenticated with vault",
		observability.String("method", string(c.config.AuthMethod)),
		observability.Duration("duration", time.Since(start)),
	)
	return nil
}

// IsAuthenticated reports whether Authenticate succeeded.
func (c *Client) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated && !c.closed
}

// ReadKV reads a KV v2 secret below the configured mount. KV v1 responses
// are accepted as well.
func (c *Client) ReadKV(ctx context.Context, path string) (map[string]interface{}, error) {
	if !c.IsAuthenticated() {
		c.mu.RLock()
		closed := c.closed
		c.mu.RUnlock()
		if closed {
			return nil, ErrClientClosed
		}
		return nil, ErrNotAuthenticated
	}

	path = strings.Trim(path, "/")
	if path == "" {
		return nil, NewVaultError("kv_read", "", "path is required")
	}

	fullPath := c.config.kvMount() + "/data/" + path

	secret, err := c.api.Logical().ReadWithContext(ctx, fullPath)
	if err != nil {
		return nil, NewVaultErrorWithCause("kv_read", fullPath, "failed to read secret", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, NewVaultErrorWithCause("kv_read", fullPath, "no data", ErrSecretNotFound)
	}

	// KV v2 wraps the payload in "data"; a soft-deleted secret has data: null.
	raw, hasData := secret.Data["data"]
	if hasData && raw == nil {
		return nil, NewVaultErrorWithCause("kv_read", fullPath, "secret deleted", ErrSecretNotFound)
	}
	data, ok := raw.(map[string]interface{})
	if !ok {
		data = secret.Data
	}

	c.logger.Debug("secret read", observability.String("path", fullPath))
	return data, nil
}

// Close releases the client.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.api.ClearToken()
	return nil
}

func (c *Client) authenticateWithToken(ctx context.Context) error {
	c.api.SetToken(c.config.Token)
	if _, err := c.api.Auth().Token().LookupSelfWithContext(ctx); err != nil {
		c.api.ClearToken()
		return NewVaultErrorWithCause("authenticate", "", "token lookup failed",
			joinAuthError(err))
	}
	return nil
}

func (c *Client) authenticateWithKubernetes(ctx context.Context) error {
	jwt, err := os.ReadFile(c.config.tokenPath())
	if err != nil {
		return NewVaultErrorWithCause("authenticate", c.config.tokenPath(),
			"failed to read service account token", err)
	}
	return c.login(ctx, map[string]interface{}{
		"role": c.config.Role,
		"jwt":  strings.TrimSpace(string(jwt)),
	})
}

func (c *Client) authenticateWithAppRole(ctx context.Context) error {
	return c.login(ctx, map[string]interface{}{
		"role_id":   c.config.RoleID,
		"secret_id": c.config.SecretID,
	})
}

// login posts to auth/<mount>/login and adopts the returned token.
func (c *Client) login(ctx context.Context, data map[string]interface{}) error {
	path := "auth/" + c.config.authMount() + "/login"

	secret, err := c.api.Logical().WriteWithContext(ctx, path, data)
	if err != nil {
		return NewVaultErrorWithCause("authenticate", path, "login failed", joinAuthError(err))
	}
	if secret == nil || secret.Auth == nil || secret.Auth.ClientToken == "" {
		return NewVaultErrorWithCause("authenticate", path, "no client token in response", ErrAuthenticationFailed)
	}

	c.api.SetToken(secret.Auth.ClientToken)
	return nil
}

// authError keeps both the API error and ErrAuthenticationFailed reachable
// through errors.Is.
type authError struct {
	err error
}

func (e *authError) Error() string { return e.err.Error() }

func (e *authError) Unwrap() []error { return []error{ErrAuthenticationFailed, e.err} }

func joinAuthError(err error) error {
	return &authError{err: err}
}
