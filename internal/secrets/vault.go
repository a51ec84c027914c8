package secrets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vyrodovalexey/dynamic-certs/internal/observability"
	"github.com/vyrodovalexey/dynamic-certs/internal/vault"
)

// VaultProvider reads secrets from a Vault KV engine.
type VaultProvider struct {
	client  *vault.Client
	logger  observability.Logger
	metrics *Metrics
}

// NewVaultProvider authenticates a client for cfg and wraps it.
func NewVaultProvider(
	ctx context.Context,
	cfg *vault.Config,
	logger observability.Logger,
	metrics *Metrics,
) (*VaultProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: vault config is required", ErrProviderNotConfigured)
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	client, err := vault.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderNotConfigured, err)
	}
	if err := client.Authenticate(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to authenticate with vault: %w", err)
	}

	logger.Info("vault secrets provider initialized",
		observability.String("address", cfg.Address),
		observability.String("auth_method", string(cfg.AuthMethod)),
	)

	return newVaultProviderWithClient(client, logger, metrics), nil
}

func newVaultProviderWithClient(client *vault.Client, logger observability.Logger, metrics *Metrics) *VaultProvider {
	return &VaultProvider{client: client, logger: logger, metrics: metrics}
}

// Type returns the provider type
func (p *VaultProvider) Type() ProviderType {
	return ProviderTypeVault
}

// GetSecret retrieves a secret from Vault. Only string values are kept.
func (p *VaultProvider) GetSecret(ctx context.Context, path string) (secret *Secret, err error) {
	start := time.Now()
	defer func() {
		p.metrics.RecordOperation(p.Type(), "get", time.Since(start), err)
	}()

	if path == "" {
		return nil, ErrInvalidPath
	}

	raw, err := p.client.ReadKV(ctx, path)
	if err != nil {
		if errors.Is(err, vault.ErrSecretNotFound) {
			return nil, fmt.Errorf("%w: %s: %w", ErrSecretNotFound, path, err)
		}
		return nil, fmt.Errorf("failed to read secret from vault: %w", err)
	}

	data := make(map[string][]byte, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			data[k] = []byte(s)
		}
	}

	p.logger.Debug("retrieved secret from vault",
		observability.String("path", path),
		observability.Int("keys", len(data)),
	)

	return &Secret{
		Name:     path,
		Data:     data,
		Metadata: map[string]string{"source": "vault"},
	}, nil
}

// HealthCheck reports whether the client still holds a token.
func (p *VaultProvider) HealthCheck(context.Context) error {
	if !p.client.IsAuthenticated() {
		p.metrics.RecordHealthStatus(p.Type(), false)
		return vault.ErrNotAuthenticated
	}
	p.metrics.RecordHealthStatus(p.Type(), true)
	return nil
}

// Close releases the Vault client.
func (p *VaultProvider) Close() error {
	return p.client.Close()
}
