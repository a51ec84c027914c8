package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/vyrodovalexey/dynamic-certs/internal/observability"
)

// DefaultEnvPrefix is the default prefix for environment variable secrets
const DefaultEnvPrefix = "DYNAMIC_CERTS_SECRET_"

// EnvProviderConfig holds configuration for the environment variable secrets provider
type EnvProviderConfig struct {
	// Prefix is the prefix for environment variables.
	// Default: "DYNAMIC_CERTS_SECRET_"
	Prefix string
	// Lookup reads a variable. Default: os.LookupEnv
	Lookup func(string) (string, bool)
	Logger observability.Logger
	// Metrics is optional
	Metrics *Metrics
}

// EnvProvider reads secrets from environment variables.
// Path format: "secret-name" maps to env var "{PREFIX}SECRET_NAME".
// A JSON object value is split into keys; any other value is stored under
// the key "value".
type EnvProvider struct {
	prefix  string
	lookup  func(string) (string, bool)
	logger  observability.Logger
	metrics *Metrics
}

// NewEnvProvider creates a new environment variable secrets provider
func NewEnvProvider(cfg *EnvProviderConfig) (*EnvProvider, error) {
	if cfg == nil {
		cfg = &EnvProviderConfig{}
	}

	p := &EnvProvider{
		prefix:  cfg.Prefix,
		lookup:  cfg.Lookup,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
	if p.prefix == "" {
		p.prefix = DefaultEnvPrefix
	}
	if p.lookup == nil {
		p.lookup = os.LookupEnv
	}
	if p.logger == nil {
		p.logger = observability.NopLogger()
	}
	return p, nil
}

// Type returns the provider type
func (p *EnvProvider) Type() ProviderType {
	return ProviderTypeEnv
}

// EnvName returns the variable name a path maps to: upper-cased, with
// dashes, dots and slashes replaced by underscores, prefixed.
func (p *EnvProvider) EnvName(path string) string {
	name := strings.ToUpper(path)
	name = strings.NewReplacer("-", "_", ".", "_", "/", "_").Replace(name)
	return p.prefix + name
}

// GetSecret retrieves a secret from environment variables
func (p *EnvProvider) GetSecret(_ context.Context, path string) (secret *Secret, err error) {
	start := time.Now()
	defer func() {
		p.metrics.RecordOperation(p.Type(), "get", time.Since(start), err)
	}()

	if path == "" {
		return nil, ErrInvalidPath
	}

	envName := p.EnvName(path)
	p.logger.Debug("getting secret from environment variable",
		observability.String("path", path),
		observability.String("env_var", envName),
	)

	value, exists := p.lookup(envName)
	if !exists {
		return nil, fmt.Errorf("%w: environment variable %s not set", ErrSecretNotFound, envName)
	}

	var data map[string][]byte
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(value), &doc); err == nil {
		data = stringData(doc, json.Marshal)
	} else {
		data = map[string][]byte{"value": []byte(value)}
	}

	return &Secret{
		Name: path,
		Data: data,
		Metadata: map[string]string{
			"source":  "environment",
			"env_var": envName,
		},
	}, nil
}

// HealthCheck always succeeds; the environment is always readable.
func (p *EnvProvider) HealthCheck(context.Context) error {
	p.metrics.RecordHealthStatus(p.Type(), true)
	return nil
}

// Close cleans up provider resources
func (p *EnvProvider) Close() error {
	return nil
}
