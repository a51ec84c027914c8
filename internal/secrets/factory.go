package secrets

import (
	"context"
	"fmt"

	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/vyrodovalexey/dynamic-certs/internal/config"
	"github.com/vyrodovalexey/dynamic-certs/internal/observability"
	"github.com/vyrodovalexey/dynamic-certs/internal/vault"
)

// ProviderConfig holds configuration for creating providers
type ProviderConfig struct {
	// Type is the provider type
	Type ProviderType
	// KubeClient is the Kubernetes client (required for kubernetes provider)
	KubeClient client.Client
	// Namespace is the default namespace for Kubernetes secrets
	Namespace string
	// LocalBasePath is the base path for local file secrets
	LocalBasePath string
	// EnvPrefix is the prefix for environment variable secrets
	EnvPrefix string
	// VaultConfig holds Vault-specific configuration
	VaultConfig *vault.Config
	Logger      observability.Logger
	Metrics     *Metrics
}

// NewProvider creates a new secrets provider based on config
func NewProvider(ctx context.Context, cfg *ProviderConfig) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", ErrProviderNotConfigured)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	logger = logger.With(observability.String("component", "secrets"))

	switch cfg.Type {
	case ProviderTypeKubernetes:
		return NewKubernetesProvider(&KubernetesProviderConfig{
			Client:           cfg.KubeClient,
			DefaultNamespace: cfg.Namespace,
			Logger:           logger,
			Metrics:          cfg.Metrics,
		})

	case ProviderTypeVault:
		if cfg.VaultConfig == nil {
			return nil, fmt.Errorf("%w: vault config is required for vault provider", ErrProviderNotConfigured)
		}
		return NewVaultProvider(ctx, cfg.VaultConfig, logger, cfg.Metrics)

	case ProviderTypeLocal:
		return NewLocalProvider(&LocalProviderConfig{
			BasePath: cfg.LocalBasePath,
			Logger:   logger,
			Metrics:  cfg.Metrics,
		})

	case ProviderTypeEnv:
		return NewEnvProvider(&EnvProviderConfig{
			Prefix:  cfg.EnvPrefix,
			Logger:  logger,
			Metrics: cfg.Metrics,
		})

	case ProviderTypeNoop:
		return NewNoopProvider(logger), nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidProviderType, cfg.Type)
	}
}

// VaultConfigFrom maps the run configuration onto a Vault client config.
func VaultConfigFrom(cfg *config.Config) *vault.Config {
	v := cfg.Vault
	return &vault.Config{
		Address:    v.Address,
		Namespace:  v.Namespace,
		AuthMethod: vault.AuthMethod(v.AuthMethod),
		Token:      v.Token,
		Role:       v.Role,
		RoleID:     v.RoleID,
		SecretID:   v.SecretID,
		AuthMount:  v.AuthMount,
		KVMount:    v.KVMount,
	}
}

// NewProviderFromConfig creates the provider selected by the run
// configuration. kubeClient is only used by the kubernetes provider.
func NewProviderFromConfig(
	ctx context.Context,
	cfg *config.Config,
	kubeClient client.Client,
	logger observability.Logger,
	metrics *Metrics,
) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", ErrProviderNotConfigured)
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	providerType, err := ValidateProviderType(cfg.Secrets.Provider)
	if err != nil {
		return nil, err
	}

	logger.Info("creating secrets provider", observability.String("type", string(providerType)))

	providerCfg := &ProviderConfig{
		Type:          providerType,
		KubeClient:    kubeClient,
		Namespace:     cfg.Secrets.Namespace,
		LocalBasePath: cfg.Secrets.LocalPath,
		EnvPrefix:     cfg.Secrets.EnvPrefix,
		Logger:        logger,
		Metrics:       metrics,
	}
	if providerType == ProviderTypeVault {
		providerCfg.VaultConfig = VaultConfigFrom(cfg)
	}

	return NewProvider(ctx, providerCfg)
}

// NoopProvider never returns a secret. It is used when no secret is needed.
type NoopProvider struct {
	logger observability.Logger
}

// NewNoopProvider creates a new no-op provider
func NewNoopProvider(logger observability.Logger) *NoopProvider {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &NoopProvider{logger: logger}
}

// Type returns the provider type
func (p *NoopProvider) Type() ProviderType {
	return ProviderTypeNoop
}

// GetSecret always returns not found
func (p *NoopProvider) GetSecret(_ context.Context, path string) (*Secret, error) {
	p.logger.Debug("noop provider asked for secret", observability.String("path", path))
	return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, path)
}

// HealthCheck always returns nil
func (p *NoopProvider) HealthCheck(context.Context) error {
	return nil
}

// Close does nothing
func (p *NoopProvider) Close() error {
	return nil
}

// Ensure implementations satisfy the interface.
var (
	_ Provider = (*EnvProvider)(nil)
	_ Provider = (*LocalProvider)(nil)
	_ Provider = (*KubernetesProvider)(nil)
	_ Provider = (*VaultProvider)(nil)
	_ Provider = (*NoopProvider)(nil)
)
