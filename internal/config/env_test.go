package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapLookup(m map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	err := ApplyEnv(cfg, mapLookup(map[string]string{
		EnvUseOpenSSL:           "true",
		EnvNodeAlternativeNames: " db1 10.0.0.9 ",
		EnvClientUsername:       "app",
		EnvInternalDir:          "/tmp/internal",
		EnvExternalDir:          "/tmp/external",
		EnvCAValidityDays:       "30",
		EnvRSAKeyBits:           "4096",
		EnvExportPKCS8:          "no",
		EnvCockroachOverwrite:   "1",
		EnvStepTimeout:          "45s",
		EnvVerifyArtifacts:      "off",
		EnvSecretsProvider:      "vault",
		EnvVaultAddr:            "http://vault:8200",
		EnvSecretsRetries:       "5",
		EnvSecretsBackoff:       "2s",
		EnvLogLevel:             "debug",
		EnvTracingEnabled:       "yes",
		EnvOTLPEndpoint:         "otel:4317",
	}))
	require.NoError(t, err)

	assert.True(t, cfg.UseOpenSSL)
	assert.Equal(t, "db1 10.0.0.9", cfg.NodeAlternativeNames)
	assert.Equal(t, "app", cfg.ClientUsername)
	assert.Equal(t, "/tmp/internal", cfg.Directories.Internal)
	assert.Equal(t, "/tmp/external", cfg.Directories.External)
	assert.Equal(t, 30, cfg.OpenSSL.CAValidityDays)
	assert.Equal(t, 4096, cfg.OpenSSL.KeyBits)
	assert.False(t, cfg.Export.PKCS8)
	assert.True(t, cfg.Export.PKCS12)
	assert.True(t, cfg.Cockroach.Overwrite)
	assert.Equal(t, 45*time.Second, cfg.StepTimeout.Duration())
	assert.False(t, cfg.VerifyArtifacts)
	assert.Equal(t, "vault", cfg.Secrets.Provider)
	assert.Equal(t, "http://vault:8200", cfg.Vault.Address)
	assert.Equal(t, 5, cfg.Secrets.Retries)
	assert.Equal(t, 2*time.Second, cfg.Secrets.RetryBackoff.Duration())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, "otel:4317", cfg.Tracing.OTLPEndpoint)
}

func TestApplyEnv_EmptyValuesKeepDefaults(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	err := ApplyEnv(cfg, mapLookup(map[string]string{
		EnvClientUsername:  "",
		EnvUseOpenSSL:      "",
		EnvSecretsProvider: "  ",
	}))
	require.NoError(t, err)

	assert.Equal(t, DefaultConfig(), cfg)
}

func TestApplyEnv_InvalidValues(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	err := ApplyEnv(cfg, mapLookup(map[string]string{
		EnvUseOpenSSL:     "maybe",
		EnvCAValidityDays: "a year",
		EnvStepTimeout:    "soon",
	}))
	require.Error(t, err)

	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.True(t, verrs.HasPath(EnvUseOpenSSL))
	assert.True(t, verrs.HasPath(EnvCAValidityDays))
	assert.True(t, verrs.HasPath(EnvStepTimeout))
}

func TestParseBool(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    bool
		wantErr bool
	}{
		{in: "true", want: true},
		{in: "TRUE", want: true},
		{in: "1", want: true},
		{in: "yes", want: true},
		{in: "on", want: true},
		{in: "false"},
		{in: "0"},
		{in: "No"},
		{in: "off"},
		{in: "y", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()

			got, err := parseBool(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv(EnvNodeAlternativeNames, "db1")
	t.Setenv(EnvUseOpenSSL, "true")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.True(t, cfg.UseOpenSSL)
	assert.Equal(t, "db1", cfg.NodeAlternativeNames)
}
