package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Environment variables read by ApplyEnv. The first three keep the names
// the container images have always used.
const (
	EnvUseOpenSSL           = "USE_OPENSSL"
	EnvNodeAlternativeNames = "NODE_ALTERNATIVE_NAMES"
	EnvClientUsername       = "CLIENT_USERNAME"

	EnvInternalDir = "CERTS_INTERNAL_DIR"
	EnvExternalDir = "CERTS_EXTERNAL_DIR"

	EnvOpenSSLBin       = "OPENSSL_BIN"
	EnvOpenSSLCAConfig  = "OPENSSL_CA_CONFIG"
	EnvOpenSSLCSRConfig = "OPENSSL_CSR_CONFIG"
	EnvOpenSSLStateDir  = "OPENSSL_STATE_DIR"
	EnvOrganization     = "CERT_ORGANIZATION"
	EnvCAValidityDays   = "CA_VALIDITY_DAYS"
	EnvRSAKeyBits       = "RSA_KEY_BITS"

	EnvCockroachBin       = "COCKROACH_BIN"
	EnvCockroachOverwrite = "COCKROACH_OVERWRITE"
	EnvCALifetime         = "CA_LIFETIME"
	EnvCertLifetime       = "CERT_LIFETIME"

	EnvExportPKCS8          = "EXPORT_PKCS8"
	EnvExportPKCS12         = "EXPORT_PKCS12"
	EnvPKCS12PasswordSecret = "PKCS12_PASSWORD_SECRET"
	EnvPKCS12PasswordKey    = "PKCS12_PASSWORD_KEY"

	EnvSecretsProvider  = "SECRETS_PROVIDER"
	EnvSecretsEnvPrefix = "SECRETS_ENV_PREFIX"
	EnvSecretsLocalPath = "SECRETS_LOCAL_PATH"
	EnvSecretsNamespace = "SECRETS_NAMESPACE"
	EnvSecretsRetries   = "SECRETS_RETRIES"
	EnvSecretsBackoff   = "SECRETS_RETRY_BACKOFF"

	EnvVaultAddr       = "VAULT_ADDR"
	EnvVaultNamespace  = "VAULT_NAMESPACE"
	EnvVaultAuthMethod = "VAULT_AUTH_METHOD"
	EnvVaultToken      = "VAULT_TOKEN"
	EnvVaultRole       = "VAULT_ROLE"
	EnvVaultAuthMount  = "VAULT_AUTH_MOUNT"
	EnvVaultRoleID     = "VAULT_ROLE_ID"
	EnvVaultSecretID   = "VAULT_SECRET_ID"
	EnvVaultKVMount    = "VAULT_KV_MOUNT"

	EnvStepTimeout     = "STEP_TIMEOUT"
	EnvVerifyArtifacts = "VERIFY_ARTIFACTS"

	EnvLogLevel  = "LOG_LEVEL"
	EnvLogFormat = "LOG_FORMAT"

	EnvMetricsTextfile    = "METRICS_TEXTFILE"
	EnvMetricsPushgateway = "METRICS_PUSHGATEWAY_URL"

	EnvTracingEnabled = "TRACING_ENABLED"
	EnvOTLPEndpoint   = "OTEL_EXPORTER_OTLP_ENDPOINT"
	EnvOTLPInsecure   = "OTEL_EXPORTER_OTLP_INSECURE"
)

// LookupFunc looks up an environment variable.
type LookupFunc func(key string) (string, bool)

// LoadFromEnv returns DefaultConfig with the process environment applied.
func LoadFromEnv() (*Config, error) {
	cfg := DefaultConfig()
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with every variable that lookup reports as set and
// non-empty. Other variables leave the current value untouched. Unparseable values
// produce a *ConfigurationError naming the variable.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	e := &envReader{lookup: lookup}

	e.boolVar(&cfg.UseOpenSSL, EnvUseOpenSSL)
	e.stringVar(&cfg.NodeAlternativeNames, EnvNodeAlternativeNames)
	e.stringVar(&cfg.ClientUsername, EnvClientUsername)

	e.stringVar(&cfg.Directories.Internal, EnvInternalDir)
	e.stringVar(&cfg.Directories.External, EnvExternalDir)

	e.stringVar(&cfg.OpenSSL.Binary, EnvOpenSSLBin)
	e.stringVar(&cfg.OpenSSL.CAConfig, EnvOpenSSLCAConfig)
	e.stringVar(&cfg.OpenSSL.CSRConfig, EnvOpenSSLCSRConfig)
	e.stringVar(&cfg.OpenSSL.StateDir, EnvOpenSSLStateDir)
	e.stringVar(&cfg.OpenSSL.Organization, EnvOrganization)
	e.intVar(&cfg.OpenSSL.CAValidityDays, EnvCAValidityDays)
	e.intVar(&cfg.OpenSSL.KeyBits, EnvRSAKeyBits)

	e.stringVar(&cfg.Cockroach.Binary, EnvCockroachBin)
	e.boolVar(&cfg.Cockroach.Overwrite, EnvCockroachOverwrite)
	e.stringVar(&cfg.Cockroach.CALifetime, EnvCALifetime)
	e.stringVar(&cfg.Cockroach.CertLifetime, EnvCertLifetime)

	e.boolVar(&cfg.Export.PKCS8, EnvExportPKCS8)
	e.boolVar(&cfg.Export.PKCS12, EnvExportPKCS12)
	e.stringVar(&cfg.Export.PasswordSecret, EnvPKCS12PasswordSecret)
	e.stringVar(&cfg.Export.PasswordKey, EnvPKCS12PasswordKey)

	e.stringVar(&cfg.Secrets.Provider, EnvSecretsProvider)
	e.stringVar(&cfg.Secrets.EnvPrefix, EnvSecretsEnvPrefix)
	e.stringVar(&cfg.Secrets.LocalPath, EnvSecretsLocalPath)
	e.stringVar(&cfg.Secrets.Namespace, EnvSecretsNamespace)
	e.intVar(&cfg.Secrets.Retries, EnvSecretsRetries)
	e.durationVar(&cfg.Secrets.RetryBackoff, EnvSecretsBackoff)

	e.stringVar(&cfg.Vault.Address, EnvVaultAddr)
	e.stringVar(&cfg.Vault.Namespace, EnvVaultNamespace)
	e.stringVar(&cfg.Vault.AuthMethod, EnvVaultAuthMethod)
	e.stringVar(&cfg.Vault.Token, EnvVaultToken)
	e.stringVar(&cfg.Vault.Role, EnvVaultRole)
	e.stringVar(&cfg.Vault.AuthMount, EnvVaultAuthMount)
	e.stringVar(&cfg.Vault.RoleID, EnvVaultRoleID)
	e.stringVar(&cfg.Vault.SecretID, EnvVaultSecretID)
	e.stringVar(&cfg.Vault.KVMount, EnvVaultKVMount)

	e.durationVar(&cfg.StepTimeout, EnvStepTimeout)
	e.boolVar(&cfg.VerifyArtifacts, EnvVerifyArtifacts)

	e.stringVar(&cfg.Logging.Level, EnvLogLevel)
	e.stringVar(&cfg.Logging.Format, EnvLogFormat)

	e.stringVar(&cfg.Metrics.Textfile, EnvMetricsTextfile)
	e.stringVar(&cfg.Metrics.PushgatewayURL, EnvMetricsPushgateway)

	e.boolVar(&cfg.Tracing.Enabled, EnvTracingEnabled)
	e.stringVar(&cfg.Tracing.OTLPEndpoint, EnvOTLPEndpoint)
	e.boolVar(&cfg.Tracing.Insecure, EnvOTLPInsecure)

	if e.errs.HasErrors() {
		return NewConfigurationErrorWithCause("", "invalid environment", e.errs)
	}
	return nil
}

// envReader applies variables and collects parse failures.
type envReader struct {
	lookup LookupFunc
	errs   ValidationErrors
}

func (e *envReader) get(key string) (string, bool) {
	value, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(value), true
}

// stringVar treats an empty value as unset.
func (e *envReader) stringVar(dst *string, key string) {
	if value, ok := e.get(key); ok && value != "" {
		*dst = value
	}
}

func (e *envReader) boolVar(dst *bool, key string) {
	value, ok := e.get(key)
	if !ok || value == "" {
		return
	}
	parsed, err := parseBool(value)
	if err != nil {
		e.errs = append(e.errs, ValidationError{Path: key, Message: err.Error()})
		return
	}
	*dst = parsed
}

func (e *envReader) intVar(dst *int, key string) {
	value, ok := e.get(key)
	if !ok || value == "" {
		return
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		e.errs = append(e.errs, ValidationError{Path: key, Message: "not an integer: " + value})
		return
	}
	*dst = parsed
}

func (e *envReader) durationVar(dst *Duration, key string) {
	value, ok := e.get(key)
	if !ok || value == "" {
		return
	}
	parsed, err := ParseDuration(value)
	if err != nil {
		e.errs = append(e.errs, ValidationError{Path: key, Message: err.Error()})
		return
	}
	*dst = parsed
}

// parseBool accepts "true", "1", "yes", "on" and their negatives,
// case-insensitively.
func parseBool(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("not a boolean: %q", value)
	}
}
