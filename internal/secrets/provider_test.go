package secrets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/dynamic-certs/internal/config"
	"github.com/vyrodovalexey/dynamic-certs/internal/vault"
)

func TestValidateProviderType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    ProviderType
		wantErr bool
	}{
		{input: "kubernetes", want: ProviderTypeKubernetes},
		{input: "vault", want: ProviderTypeVault},
		{input: "local", want: ProviderTypeLocal},
		{input: "env", want: ProviderTypeEnv},
		{input: "noop", want: ProviderTypeNoop},
		{input: "", wantErr: true},
		{input: "aws", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got, err := ValidateProviderType(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidProviderType)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSecret_Get(t *testing.T) {
	t.Parallel()

	s := &Secret{Data: map[string][]byte{"value": []byte("pw")}}

	v, ok := s.GetString("value")
	assert.True(t, ok)
	assert.Equal(t, "pw", v)

	_, ok = s.GetString("other")
	assert.False(t, ok)

	var nilSecret *Secret
	_, ok = nilSecret.GetBytes("value")
	assert.False(t, ok)
	_, ok = (&Secret{}).GetString("value")
	assert.False(t, ok)
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	m.RecordOperation(ProviderTypeEnv, "get", 10*time.Millisecond, nil)
	m.RecordOperation(ProviderTypeEnv, "get", time.Millisecond, ErrSecretNotFound)
	m.RecordHealthStatus(ProviderTypeEnv, true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationTotal.WithLabelValues("env", "get", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationTotal.WithLabelValues("env", "get", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.providerHealthy.WithLabelValues("env")))

	count, err := testutil.GatherAndCount(reg, "test_secrets_operation_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	var nilMetrics *Metrics
	assert.NotPanics(t, func() {
		nilMetrics.RecordOperation(ProviderTypeEnv, "get", time.Second, nil)
		nilMetrics.RecordHealthStatus(ProviderTypeEnv, false)
	})
}

// stubProvider returns a fixed secret or error.
type stubProvider struct {
	secret *Secret
	err    error
}

func (s *stubProvider) Type() ProviderType { return "stub" }

func (s *stubProvider) GetSecret(context.Context, string) (*Secret, error) {
	return s.secret, s.err
}

func (s *stubProvider) HealthCheck(context.Context) error { return nil }

func (s *stubProvider) Close() error { return nil }

func TestResolvePassword(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		provider Provider
		key      string
		want     string
		wantIs   error
	}{
		{
			name:     "default key",
			provider: &stubProvider{secret: &Secret{Data: map[string][]byte{"value": []byte("changeit")}}},
			want:     "changeit",
		},
		{
			name:     "custom key",
			provider: &stubProvider{secret: &Secret{Data: map[string][]byte{"password": []byte("p@ss")}}},
			key:      "password",
			want:     "p@ss",
		},
		{
			name:     "not found",
			provider: &stubProvider{err: ErrSecretNotFound},
			wantIs:   ErrSecretNotFound,
		},
		{
			name:     "missing key",
			provider: &stubProvider{secret: &Secret{Data: map[string][]byte{"other": []byte("x")}}},
			wantIs:   ErrKeyNotFound,
		},
		{
			name:     "blank value",
			provider: &stubProvider{secret: &Secret{Data: map[string][]byte{"value": []byte("  ")}}},
			wantIs:   config.ErrInvalidConfig,
		},
		{
			name:   "nil provider",
			wantIs: ErrProviderNotConfigured,
		},
		{
			name:     "noop provider",
			provider: NewNoopProvider(nil),
			wantIs:   ErrSecretNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ResolvePassword(context.Background(), tt.provider, "pkcs12-password", tt.key)
			if tt.wantIs != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantIs)

				var cfgErr *config.ConfigurationError
				require.True(t, errors.As(err, &cfgErr))
				assert.Equal(t, "export.passwordSecret", cfgErr.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	resolve := func(p Provider) error {
		_, err := ResolvePassword(context.Background(), p, "pkcs12-password", "")
		return err
	}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"not found yet", resolve(&stubProvider{err: ErrSecretNotFound}), true},
		{"store unreachable", resolve(&stubProvider{err: errors.New("dial tcp 10.0.0.1:8200: connection refused")}), true},
		{"missing key", resolve(&stubProvider{secret: &Secret{Data: map[string][]byte{}}}), false},
		{"blank value", resolve(&stubProvider{secret: &Secret{Data: map[string][]byte{"value": nil}}}), false},
		{"bad path", resolve(&stubProvider{err: ErrInvalidPath}), false},
		{"nil provider", resolve(nil), false},
		{"rejected credentials", resolve(&stubProvider{err: vault.ErrAuthenticationFailed}), false},
		{"canceled", resolve(&stubProvider{err: context.Canceled}), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}
