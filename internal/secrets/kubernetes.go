package secrets

import (
	"context"
	"fmt"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/vyrodovalexey/dynamic-certs/internal/observability"
)

// KubernetesProviderConfig holds configuration for the Kubernetes secrets provider
type KubernetesProviderConfig struct {
	// Client is the Kubernetes client
	Client client.Client
	// DefaultNamespace is the default namespace for secrets without explicit namespace
	DefaultNamespace string
	Logger           observability.Logger
	// Metrics is optional
	Metrics *Metrics
}

// KubernetesProvider reads Kubernetes Secrets.
type KubernetesProvider struct {
	client           client.Client
	defaultNamespace string
	logger           observability.Logger
	metrics          *Metrics
}

// NewKubernetesProvider creates a new Kubernetes secrets provider
func NewKubernetesProvider(cfg *KubernetesProviderConfig) (*KubernetesProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", ErrProviderNotConfigured)
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("%w: kubernetes client is required", ErrProviderNotConfigured)
	}

	defaultNs := cfg.DefaultNamespace
	if defaultNs == "" {
		defaultNs = "default"
	}

	logger := cfg.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &KubernetesProvider{
		client:           cfg.Client,
		defaultNamespace: defaultNs,
		logger:           logger,
		metrics:          cfg.Metrics,
	}, nil
}

// Type returns the provider type
func (p *KubernetesProvider) Type() ProviderType {
	return ProviderTypeKubernetes
}

// parsePath splits "namespace/name" or "name" (default namespace).
func (p *KubernetesProvider) parsePath(path string) (namespace, name string, err error) {
	if path == "" {
		return "", "", ErrInvalidPath
	}

	parts := strings.SplitN(path, "/", 2)
	if len(parts) == 1 {
		return p.defaultNamespace, parts[0], nil
	}
	if parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: invalid path format: %s", ErrInvalidPath, path)
	}
	return parts[0], parts[1], nil
}

// GetSecret retrieves a secret by path
func (p *KubernetesProvider) GetSecret(ctx context.Context, path string) (result *Secret, err error) {
	start := time.Now()
	defer func() {
		p.metrics.RecordOperation(p.Type(), "get", time.Since(start), err)
	}()

	namespace, name, err := p.parsePath(path)
	if err != nil {
		return nil, err
	}

	logger := p.logger.With(
		observability.String("namespace", namespace),
		observability.String("name", name),
	)
	logger.Debug("getting kubernetes secret")

	secret := &corev1.Secret{}
	if err := p.client.Get(ctx, client.ObjectKey{Namespace: namespace, Name: name}, secret); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrSecretNotFound, namespace, name)
		}
		logger.Error("failed to get secret", observability.Error(err))
		return nil, fmt.Errorf("failed to get secret %s/%s: %w", namespace, name, err)
	}

	result = &Secret{
		Name:      name,
		Namespace: namespace,
		Data:      secret.Data,
		Metadata:  make(map[string]string, len(secret.Labels)),
		Version:   secret.ResourceVersion,
	}
	for k, v := range secret.Labels {
		result.Metadata["label."+k] = v
	}

	logger.Debug("retrieved kubernetes secret", observability.Int("keys", len(result.Data)))
	return result, nil
}

// HealthCheck checks that secrets in the default namespace can be listed.
func (p *KubernetesProvider) HealthCheck(ctx context.Context) error {
	list := &corev1.SecretList{}
	if err := p.client.List(ctx, list, client.InNamespace(p.defaultNamespace), client.Limit(1)); err != nil {
		p.metrics.RecordHealthStatus(p.Type(), false)
		return fmt.Errorf("kubernetes API health check failed: %w", err)
	}
	p.metrics.RecordHealthStatus(p.Type(), true)
	return nil
}

// Close cleans up provider resources
func (p *KubernetesProvider) Close() error {
	return nil
}
