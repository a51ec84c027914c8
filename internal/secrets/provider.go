// Package secrets resolves run secrets, such as the PKCS#12 bundle password,
// from Kubernetes Secrets, Vault, local files or environment variables.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ProviderType represents the type of secrets provider
type ProviderType string

const (
	// ProviderTypeKubernetes uses Kubernetes Secrets as the backend
	ProviderTypeKubernetes ProviderType = "kubernetes"
	// ProviderTypeVault uses HashiCorp Vault as the backend
	ProviderTypeVault ProviderType = "vault"
	// ProviderTypeLocal uses local files as the backend
	ProviderTypeLocal ProviderType = "local"
	// ProviderTypeEnv uses environment variables as the backend
	ProviderTypeEnv ProviderType = "env"
	// ProviderTypeNoop never returns a secret
	ProviderTypeNoop ProviderType = "noop"
)

// Common errors for secrets providers
var (
	// ErrSecretNotFound is returned when a secret is not found
	ErrSecretNotFound = errors.New("secret not found")
	// ErrKeyNotFound is returned when a secret exists but lacks the key
	ErrKeyNotFound = errors.New("secret key not found")
	// ErrProviderNotConfigured is returned when the provider is not properly configured
	ErrProviderNotConfigured = errors.New("provider not configured")
	// ErrInvalidPath is returned when the secret path is invalid
	ErrInvalidPath = errors.New("invalid secret path")
	// ErrInvalidProviderType is returned when an unknown provider type is specified
	ErrInvalidProviderType = errors.New("invalid provider type")
)

// Secret represents a secret with key-value data
type Secret struct {
	// Name is the name of the secret
	Name string
	// Namespace is the namespace of the secret (if applicable)
	Namespace string
	// Data contains the secret key-value pairs
	Data map[string][]byte
	// Metadata contains additional metadata about the secret
	Metadata map[string]string
	// Version is the version of the secret (if supported by the provider)
	Version string
}

// GetString returns a string value from the secret data
func (s *Secret) GetString(key string) (string, bool) {
	v, ok := s.GetBytes(key)
	if !ok {
		return "", false
	}
	return string(v), true
}

// GetBytes returns a byte slice value from the secret data
func (s *Secret) GetBytes(key string) ([]byte, bool) {
	if s == nil || s.Data == nil {
		return nil, false
	}
	v, ok := s.Data[key]
	return v, ok
}

// Provider is the read-only interface of a secrets backend.
type Provider interface {
	// Type returns the provider type
	Type() ProviderType

	// GetSecret retrieves a secret by path/name
	// Path format depends on the provider:
	// - kubernetes: "namespace/secret-name" or "secret-name" (uses default namespace)
	// - vault: "path/to/secret" below the KV mount
	// - local: "secret-name" (maps to base-path/secret-name/ or a .yaml/.json file)
	// - env: "secret-name" (maps to env var with configured prefix)
	GetSecret(ctx context.Context, path string) (*Secret, error)

	// HealthCheck checks provider connectivity
	HealthCheck(ctx context.Context) error

	// Close cleans up provider resources
	Close() error
}

// Metrics records secrets provider operations.
type Metrics struct {
	operationDuration *prometheus.HistogramVec
	operationTotal    *prometheus.CounterVec
	providerHealthy   *prometheus.GaugeVec
}

// NewMetrics creates the provider metrics and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "dynamic_certs"
	}

	m := &Metrics{
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "secrets",
				Name:      "operation_duration_seconds",
				Help:      "Duration of secrets provider operations in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"provider", "operation", "result"},
		),
		operationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "secrets",
				Name:      "operation_total",
				Help:      "Total number of secrets provider operations",
			},
			[]string{"provider", "operation", "result"},
		),
		providerHealthy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "secrets",
				Name:      "provider_healthy",
				Help:      "Whether the secrets provider is healthy (1) or not (0)",
			},
			[]string{"provider"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.operationDuration, m.operationTotal, m.providerHealthy)
	}
	return m
}

// RecordOperation records metrics for a secrets provider operation.
// It is safe on a nil receiver.
func (m *Metrics) RecordOperation(provider ProviderType, operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	providerStr := string(provider)
	m.operationDuration.WithLabelValues(providerStr, operation, result).Observe(duration.Seconds())
	m.operationTotal.WithLabelValues(providerStr, operation, result).Inc()
}

// RecordHealthStatus records the health status of a provider.
// It is safe on a nil receiver.
func (m *Metrics) RecordHealthStatus(provider ProviderType, healthy bool) {
	if m == nil {
		return
	}
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.providerHealthy.WithLabelValues(string(provider)).Set(value)
}

// ValidateProviderType validates that the given string is a valid provider type
func ValidateProviderType(providerType string) (ProviderType, error) {
	switch ProviderType(providerType) {
	case ProviderTypeKubernetes, ProviderTypeVault, ProviderTypeLocal, ProviderTypeEnv, ProviderTypeNoop:
		return ProviderType(providerType), nil
	default:
		return "", fmt.Errorf("%w: %s, must be one of: kubernetes, vault, local, env, noop",
			ErrInvalidProviderType, providerType)
	}
}

// stringData converts decoded document values to secret data. Strings are
// kept as is and everything else is JSON encoded.
func stringData(raw map[string]interface{}, marshal func(interface{}) ([]byte, error)) map[string][]byte {
	data := make(map[string][]byte, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			data[k] = []byte(val)
		case []byte:
			data[k] = val
		default:
			b, err := marshal(val)
			if err != nil {
				continue
			}
			data[k] = b
		}
	}
	return data
}
