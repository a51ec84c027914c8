package vault

import "time"

// AuthMethod specifies the Vault authentication method.
type AuthMethod string

// Authentication method constants.
const (
	// AuthMethodToken uses direct token authentication.
	AuthMethodToken AuthMethod = "token"

	// AuthMethodKubernetes uses Kubernetes ServiceAccount JWT authentication.
	AuthMethodKubernetes AuthMethod = "kubernetes"

	// AuthMethodAppRole uses AppRole authentication with RoleID and SecretID.
	AuthMethodAppRole AuthMethod = "approle"
)

// Defaults.
const (
	// DefaultServiceAccountTokenPath is the standard projected token location.
	//nolint:gosec // G101: file path, not a credential
	DefaultServiceAccountTokenPath = "/var/run/secrets/kubernetes.io/serviceaccount/token"

	DefaultKubernetesMountPath = "kubernetes"
	DefaultAppRoleMountPath    = "approle"
	DefaultKVMount             = "secret"
	DefaultTimeout             = 30 * time.Second
)

// IsValid returns true if the auth method is known.
func (m AuthMethod) IsValid() bool {
	switch m {
	case AuthMethodToken, AuthMethodKubernetes, AuthMethodAppRole:
		return true
	default:
		return false
	}
}

// Config represents Vault client configuration.
type Config struct {
	Address    string
	Namespace  string
	AuthMethod AuthMethod

	// Token for token authentication.
	Token string

	// Role and TokenPath for Kubernetes authentication.
	Role      string
	TokenPath string

	// RoleID and SecretID for AppRole authentication.
	RoleID   string
	SecretID string

	// AuthMount overrides the auth method mount path.
	AuthMount string

	// KVMount is the KV v2 engine mount.
	KVMount string

	Timeout time.Duration
}

// Validate checks the configuration for the selected auth method.
func (c *Config) Validate() error {
	if c.Address == "" {
		return NewConfigurationError("address", "address is required")
	}
	if !c.AuthMethod.IsValid() {
		return NewConfigurationError("authMethod", "unsupported auth method: "+string(c.AuthMethod))
	}

	switch c.AuthMethod {
	case AuthMethodToken:
		if c.Token == "" {
			return NewConfigurationError("token", "token is required for token authentication")
		}
	case AuthMethodKubernetes:
		if c.Role == "" {
			return NewConfigurationError("role", "role is required for kubernetes authentication")
		}
	case AuthMethodAppRole:
		if c.RoleID == "" || c.SecretID == "" {
			return NewConfigurationError("roleID", "roleID and secretID are required for approle authentication")
		}
	}
	return nil
}

func (c *Config) kvMount() string {
	if c.KVMount == "" {
		return DefaultKVMount
	}
	return c.KVMount
}

func (c *Config) authMount() string {
	if c.AuthMount != "" {
		return c.AuthMount
	}
	if c.AuthMethod == AuthMethodAppRole {
		return DefaultAppRoleMountPath
	}
	return DefaultKubernetesMountPath
}

func (c *Config) tokenPath() string {
	if c.TokenPath == "" {
		return DefaultServiceAccountTokenPath
	}
	return c.TokenPath
}

func (c *Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}
