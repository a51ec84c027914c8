package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vyrodovalexey/dynamic-certs/internal/identity"
)

// Secrets provider names.
const (
	SecretsProviderEnv        = "env"
	SecretsProviderLocal      = "local"
	SecretsProviderVault      = "vault"
	SecretsProviderKubernetes = "kubernetes"
	SecretsProviderNoop       = "noop"
)

// Vault auth method names.
const (
	VaultAuthToken      = "token"
	VaultAuthKubernetes = "kubernetes"
	VaultAuthAppRole    = "approle"
)

// Config is the resolved configuration of one provisioning run.
// It is built once at startup and treated as read-only afterwards.
type Config struct {
	// UseOpenSSL selects the OpenSSL backend instead of the cockroach CLI.
	UseOpenSSL bool `yaml:"useOpenSSL" json:"useOpenSSL"`

	// NodeAlternativeNames is the raw whitespace-separated list of node SANs.
	NodeAlternativeNames string `yaml:"nodeAlternativeNames" json:"nodeAlternativeNames"`

	// ClientUsername is the primary client identity. Blank means root.
	ClientUsername string `yaml:"clientUsername" json:"clientUsername"`

	Directories DirectoriesConfig `yaml:"directories" json:"directories"`
	OpenSSL     OpenSSLConfig     `yaml:"openssl" json:"openssl"`
	Cockroach   CockroachConfig   `yaml:"cockroach" json:"cockroach"`
	Export      ExportConfig      `yaml:"export" json:"export"`
	Secrets     SecretsConfig     `yaml:"secrets" json:"secrets"`
	Vault       VaultConfig       `yaml:"vault" json:"vault"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics" json:"metrics"`
	Tracing     TracingConfig     `yaml:"tracing" json:"tracing"`

	// StepTimeout bounds each external command. Zero disables the limit.
	StepTimeout Duration `yaml:"stepTimeout" json:"stepTimeout"`

	// VerifyArtifacts enables post-run verification of the produced files.
	VerifyArtifacts bool `yaml:"verifyArtifacts" json:"verifyArtifacts"`
}

// DirectoriesConfig holds the two output roots.
type DirectoriesConfig struct {
	// Internal holds secret material: the CA key and CSR intermediates.
	Internal string `yaml:"internal" json:"internal"`

	// External holds material shared with the database cluster.
	External string `yaml:"external" json:"external"`
}

// OpenSSLConfig configures the OpenSSL backend.
type OpenSSLConfig struct {
	Binary           string `yaml:"binary" json:"binary"`
	CAConfig         string `yaml:"caConfig" json:"caConfig"`
	CSRConfig        string `yaml:"csrConfig" json:"csrConfig"`
	StateDir         string `yaml:"stateDir" json:"stateDir"`
	Organization     string `yaml:"organization" json:"organization"`
	CAValidityDays   int    `yaml:"caValidityDays" json:"caValidityDays"`
	KeyBits          int    `yaml:"keyBits" json:"keyBits"`
	SigningPolicy    string `yaml:"signingPolicy" json:"signingPolicy"`
	NodeExtensions   string `yaml:"nodeExtensions" json:"nodeExtensions"`
	ClientExtensions string `yaml:"clientExtensions" json:"clientExtensions"`
}

// CockroachConfig configures the cockroach CLI backend.
type CockroachConfig struct {
	Binary string `yaml:"binary" json:"binary"`

	// Overwrite passes --overwrite and --allow-ca-key-reuse so that re-runs
	// against populated directories succeed.
	Overwrite bool `yaml:"overwrite" json:"overwrite"`

	CALifetime   string `yaml:"caLifetime,omitempty" json:"caLifetime,omitempty"`
	CertLifetime string `yaml:"certLifetime,omitempty" json:"certLifetime,omitempty"`
}

// ExportConfig controls the client interchange formats (OpenSSL backend).
type ExportConfig struct {
	PKCS8  bool `yaml:"pkcs8" json:"pkcs8"`
	PKCS12 bool `yaml:"pkcs12" json:"pkcs12"`

	// PasswordSecret is the secret path holding the PKCS#12 password.
	PasswordSecret string `yaml:"passwordSecret" json:"passwordSecret"`

	// PasswordKey is the key inside PasswordSecret.
	PasswordKey string `yaml:"passwordKey" json:"passwordKey"`
}

// SecretsConfig selects and configures the secrets provider.
type SecretsConfig struct {
	Provider  string `yaml:"provider" json:"provider"`
	EnvPrefix string `yaml:"envPrefix" json:"envPrefix"`
	LocalPath string `yaml:"localPath" json:"localPath"`
	Namespace string `yaml:"namespace" json:"namespace"`

	// Retries is the number of extra attempts when the secret store is
	// unavailable or the secret does not exist yet.
	Retries      int      `yaml:"retries" json:"retries"`
	RetryBackoff Duration `yaml:"retryBackoff" json:"retryBackoff"`
}

// VaultConfig configures the vault secrets provider.
type VaultConfig struct {
	Address    string `yaml:"address" json:"address"`
	Namespace  string `yaml:"namespace,omitempty" json:"namespace,omitempty"`
	AuthMethod string `yaml:"authMethod" json:"authMethod"`
	Token      string `yaml:"token,omitempty" json:"-"`
	Role       string `yaml:"role,omitempty" json:"role,omitempty"`
	AuthMount  string `yaml:"authMount,omitempty" json:"authMount,omitempty"`
	RoleID     string `yaml:"roleID,omitempty" json:"roleID,omitempty"`
	SecretID   string `yaml:"secretID,omitempty" json:"-"`
	KVMount    string `yaml:"kvMount" json:"kvMount"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// MetricsConfig configures the metric sinks. Both are optional.
type MetricsConfig struct {
	Textfile       string `yaml:"textfile,omitempty" json:"textfile,omitempty"`
	PushgatewayURL string `yaml:"pushgatewayURL,omitempty" json:"pushgatewayURL,omitempty"`
	Job            string `yaml:"job" json:"job"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	OTLPEndpoint string `yaml:"otlpEndpoint,omitempty" json:"otlpEndpoint,omitempty"`
	Insecure     bool   `yaml:"insecure" json:"insecure"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() *Config {
	return &Config{
		ClientUsername: identity.DefaultSuperuser,
		Directories: DirectoriesConfig{
			Internal: "/.cockroach-internal",
			External: "/.cockroach-certs",
		},
		OpenSSL: OpenSSLConfig{
			Binary:           "openssl",
			CAConfig:         "/config/ca.cnf",
			CSRConfig:        "/config/csr.cnf",
			StateDir:         "/config",
			Organization:     "Cockroach",
			CAValidityDays:   365,
			KeyBits:          2048,
			SigningPolicy:    "signing_policy",
			NodeExtensions:   "signing_node_req",
			ClientExtensions: "signing_node_req",
		},
		Cockroach: CockroachConfig{
			Binary: "/cockroach",
		},
		Export: ExportConfig{
			PKCS8:          true,
			PKCS12:         true,
			PasswordSecret: "pkcs12-password",
			PasswordKey:    "value",
		},
		Secrets: SecretsConfig{
			Provider:     SecretsProviderEnv,
			EnvPrefix:    "DYNAMIC_CERTS_SECRET_",
			LocalPath:    "/etc/dynamic-certs/secrets",
			Namespace:    "default",
			Retries:      3,
			RetryBackoff: Duration(500 * time.Millisecond),
		},
		Vault: VaultConfig{
			AuthMethod: VaultAuthToken,
			KVMount:    "secret",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Job: "dynamic-certs",
		},
		VerifyArtifacts: true,
	}
}

// Backend returns the name of the selected generation backend.
func (c *Config) Backend() string {
	if c.UseOpenSSL {
		return "openssl"
	}
	return "cockroach"
}

// NeedsPKCS12Password reports whether the run will export PKCS#12 bundles
// and therefore needs a password secret.
func (c *Config) NeedsPKCS12Password() bool {
	return c.UseOpenSSL && c.Export.PKCS12
}

var (
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats = map[string]bool{"json": true, "console": true}
	validProviders  = map[string]bool{
		SecretsProviderEnv:        true,
		SecretsProviderLocal:      true,
		SecretsProviderVault:      true,
		SecretsProviderKubernetes: true,
		SecretsProviderNoop:       true,
	}
	validVaultAuth = map[string]bool{
		VaultAuthToken:      true,
		VaultAuthKubernetes: true,
		VaultAuthAppRole:    true,
	}
)

// Validate checks the configuration and returns a *ConfigurationError
// describing every problem found.
func (c *Config) Validate() error {
	var errs ValidationErrors

	add := func(path, format string, args ...interface{}) {
		errs = append(errs, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(c.NodeAlternativeNames) == "" {
		add("nodeAlternativeNames", "node alternative names are required")
	}
	if strings.TrimSpace(c.Directories.Internal) == "" {
		add("directories.internal", "internal directory is required")
	}
	if strings.TrimSpace(c.Directories.External) == "" {
		add("directories.external", "external directory is required")
	}
	if c.StepTimeout < 0 {
		add("stepTimeout", "must not be negative")
	}

	if c.UseOpenSSL {
		c.validateOpenSSL(add)
	} else if c.Cockroach.Binary == "" {
		add("cockroach.binary", "cockroach binary is required")
	}

	if !validLogLevels[c.Logging.Level] {
		add("logging.level", "invalid log level %q", c.Logging.Level)
	}
	if !validLogFormats[c.Logging.Format] {
		add("logging.format", "invalid log format %q", c.Logging.Format)
	}

	c.validateSecrets(add)

	if errs.HasErrors() {
		return NewConfigurationErrorWithCause("", "invalid configuration", errs)
	}
	return nil
}

func (c *Config) validateOpenSSL(add func(path, format string, args ...interface{})) {
	o := c.OpenSSL
	required := map[string]string{
		"openssl.binary":           o.Binary,
		"openssl.caConfig":         o.CAConfig,
		"openssl.csrConfig":        o.CSRConfig,
		"openssl.stateDir":         o.StateDir,
		"openssl.organization":     o.Organization,
		"openssl.signingPolicy":    o.SigningPolicy,
		"openssl.nodeExtensions":   o.NodeExtensions,
		"openssl.clientExtensions": o.ClientExtensions,
	}
	for _, path := range sortedKeys(required) {
		if strings.TrimSpace(required[path]) == "" {
			add(path, "is required")
		}
	}

	if o.CAValidityDays <= 0 {
		add("openssl.caValidityDays", "must be positive, got %d", o.CAValidityDays)
	}
	if o.KeyBits < 2048 {
		add("openssl.keyBits", "must be at least 2048, got %d", o.KeyBits)
	}
	if c.Export.PKCS12 {
		if c.Export.PasswordSecret == "" {
			add("export.passwordSecret", "is required when pkcs12 export is enabled")
		}
		if c.Secrets.Provider == SecretsProviderNoop {
			add("secrets.provider", "noop provider cannot supply the pkcs12 password")
		}
	}
}

func (c *Config) validateSecrets(add func(path, format string, args ...interface{})) {
	if c.Secrets.Retries < 0 {
		add("secrets.retries", "must not be negative, got %d", c.Secrets.Retries)
	}
	if c.Secrets.RetryBackoff < 0 {
		add("secrets.retryBackoff", "must not be negative")
	}

	if !validProviders[c.Secrets.Provider] {
		add("secrets.provider", "unknown secrets provider %q", c.Secrets.Provider)
		return
	}

	switch c.Secrets.Provider {
	case SecretsProviderLocal:
		if c.Secrets.LocalPath == "" {
			add("secrets.localPath", "is required for the local provider")
		}
	case SecretsProviderKubernetes:
		if c.Secrets.Namespace == "" {
			add("secrets.namespace", "is required for the kubernetes provider")
		}
	case SecretsProviderVault:
		c.validateVault(add)
	}
}

func (c *Config) validateVault(add func(path, format string, args ...interface{})) {
	v := c.Vault
	if v.Address == "" {
		add("vault.address", "is required for the vault provider")
	}
	if !validVaultAuth[v.AuthMethod] {
		add("vault.authMethod", "unknown auth method %q", v.AuthMethod)
		return
	}

	switch v.AuthMethod {
	case VaultAuthToken:
		if v.Token == "" {
			add("vault.token", "is required for token auth")
		}
	case VaultAuthKubernetes:
		if v.Role == "" {
			add("vault.role", "is required for kubernetes auth")
		}
	case VaultAuthAppRole:
		if v.RoleID == "" || v.SecretID == "" {
			add("vault.roleID", "roleID and secretID are required for approle auth")
		}
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
