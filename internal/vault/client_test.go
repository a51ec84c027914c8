package vault

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/dynamic-certs/internal/observability"
)

// fakeVault serves the subset of the Vault HTTP API used by Client.
type fakeVault struct {
	token   string
	secrets map[string]map[string]interface{}
	logins  map[string]map[string]interface{}
}

func (f *fakeVault) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.URL.Path == "/v1/auth/token/lookup-self":
		if r.Header.Get("X-Vault-Token") != f.token {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"errors":["permission denied"]}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":{"ttl":3600}}`))

	case strings.HasPrefix(r.URL.Path, "/v1/auth/") && strings.HasSuffix(r.URL.Path, "/login"):
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		want, ok := f.logins[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		for k, v := range want {
			if body[k] != v {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"errors":["invalid credentials"]}`))
				return
			}
		}
		_, _ = w.Write([]byte(`{"auth":{"client_token":"` + f.token + `","lease_duration":60}}`))

	default:
		if r.Header.Get("X-Vault-Token") != f.token {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"errors":["permission denied"]}`))
			return
		}
		data, ok := f.secrets[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[]}`))
			return
		}
		resp, _ := json.Marshal(map[string]interface{}{"data": data})
		_, _ = w.Write(resp)
	}
}

func newFakeVault(t *testing.T) (*fakeVault, *httptest.Server) {
	t.Helper()
	f := &fakeVault{
		token: "s.test",
		secrets: map[string]map[string]interface{}{
			"/v1/secret/data/pkcs12-password": {
				"data": map[string]interface{}{"value": "changeit"},
			},
			"/v1/secret/data/deleted": {
				"data": nil,
			},
			"/v1/kv1/data/flat": {
				"value": "flat-value",
			},
		},
		logins: map[string]map[string]interface{}{
			"/v1/auth/approle/login":    {"role_id": "rid", "secret_id": "sid"},
			"/v1/auth/kubernetes/login": {"role": "certs", "jwt": "jwt-token"},
		},
	}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "token ok", cfg: Config{Address: "http://v", AuthMethod: AuthMethodToken, Token: "t"}},
		{name: "missing address", cfg: Config{AuthMethod: AuthMethodToken, Token: "t"}, wantErr: "address"},
		{name: "bad method", cfg: Config{Address: "http://v", AuthMethod: "ldap"}, wantErr: "unsupported"},
		{name: "missing token", cfg: Config{Address: "http://v", AuthMethod: AuthMethodToken}, wantErr: "token"},
		{name: "missing role", cfg: Config{Address: "http://v", AuthMethod: AuthMethodKubernetes}, wantErr: "role"},
		{name: "missing secret id", cfg: Config{Address: "http://v", AuthMethod: AuthMethodAppRole, RoleID: "r"}, wantErr: "secretID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNew_NilConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestClient_TokenAuthAndRead(t *testing.T) {
	t.Parallel()

	f, srv := newFakeVault(t)
	client, err := New(&Config{Address: srv.URL, AuthMethod: AuthMethodToken, Token: f.token}, observability.NopLogger())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	_, err = client.ReadKV(context.Background(), "pkcs12-password")
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	require.NoError(t, client.Authenticate(context.Background()))
	assert.True(t, client.IsAuthenticated())

	data, err := client.ReadKV(context.Background(), "/pkcs12-password/")
	require.NoError(t, err)
	assert.Equal(t, "changeit", data["value"])
}

func TestClient_TokenAuthRejected(t *testing.T) {
	t.Parallel()

	_, srv := newFakeVault(t)
	client, err := New(&Config{Address: srv.URL, AuthMethod: AuthMethodToken, Token: "wrong"}, nil)
	require.NoError(t, err)

	err = client.Authenticate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.False(t, client.IsAuthenticated())
}

func TestClient_AppRoleAuth(t *testing.T) {
	t.Parallel()

	_, srv := newFakeVault(t)

	client, err := New(&Config{Address: srv.URL, AuthMethod: AuthMethodAppRole, RoleID: "rid", SecretID: "sid"}, nil)
	require.NoError(t, err)
	require.NoError(t, client.Authenticate(context.Background()))

	data, err := client.ReadKV(context.Background(), "pkcs12-password")
	require.NoError(t, err)
	assert.Equal(t, "changeit", data["value"])

	bad, err := New(&Config{Address: srv.URL, AuthMethod: AuthMethodAppRole, RoleID: "rid", SecretID: "nope"}, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, bad.Authenticate(context.Background()), ErrAuthenticationFailed)
}

func TestClient_KubernetesAuth(t *testing.T) {
	t.Parallel()

	_, srv := newFakeVault(t)
	tokenPath := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(tokenPath, []byte("jwt-token\n"), 0o600))

	client, err := New(&Config{
		Address:    srv.URL,
		AuthMethod: AuthMethodKubernetes,
		Role:       "certs",
		TokenPath:  tokenPath,
	}, nil)
	require.NoError(t, err)
	require.NoError(t, client.Authenticate(context.Background()))
	assert.True(t, client.IsAuthenticated())

	missing, err := New(&Config{
		Address:    srv.URL,
		AuthMethod: AuthMethodKubernetes,
		Role:       "certs",
		TokenPath:  filepath.Join(t.TempDir(), "absent"),
	}, nil)
	require.NoError(t, err)
	err = missing.Authenticate(context.Background())
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestClient_ReadKV_NotFound(t *testing.T) {
	t.Parallel()

	f, srv := newFakeVault(t)
	client, err := New(&Config{Address: srv.URL, AuthMethod: AuthMethodToken, Token: f.token}, nil)
	require.NoError(t, err)
	require.NoError(t, client.Authenticate(context.Background()))

	tests := []string{"absent", "deleted"}
	for _, path := range tests {
		_, err := client.ReadKV(context.Background(), path)
		require.Error(t, err, path)
		assert.ErrorIs(t, err, ErrSecretNotFound, path)

		var vaultErr *VaultError
		assert.True(t, errors.As(err, &vaultErr), path)
	}

	_, err = client.ReadKV(context.Background(), "")
	assert.Error(t, err)
}

func TestClient_ReadKV_V1Layout(t *testing.T) {
	t.Parallel()

	f, srv := newFakeVault(t)
	client, err := New(&Config{Address: srv.URL, AuthMethod: AuthMethodToken, Token: f.token, KVMount: "kv1"}, nil)
	require.NoError(t, err)
	require.NoError(t, client.Authenticate(context.Background()))

	data, err := client.ReadKV(context.Background(), "flat")
	require.NoError(t, err)
	assert.Equal(t, "flat-value", data["value"])
}

func TestClient_Close(t *testing.T) {
	t.Parallel()

	f, srv := newFakeVault(t)
	client, err := New(&Config{Address: srv.URL, AuthMethod: AuthMethodToken, Token: f.token}, nil)
	require.NoError(t, err)
	require.NoError(t, client.Authenticate(context.Background()))

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())
	assert.False(t, client.IsAuthenticated())

	_, err = client.ReadKV(context.Background(), "pkcs12-password")
	assert.ErrorIs(t, err, ErrClientClosed)
	assert.ErrorIs(t, client.Authenticate(context.Background()), ErrClientClosed)
}

func TestVaultError(t *testing.T) {
	t.Parallel()

	err := NewVaultErrorWithCause("kv_read", "secret/data/x", "failed to read secret", ErrSecretNotFound)
	assert.Equal(t, "vault kv_read on secret/data/x: failed to read secret: vault: secret not found", err.Error())
	assert.ErrorIs(t, err, ErrSecretNotFound)
	assert.True(t, errors.Is(err, &VaultError{}))

	assert.Equal(t, "vault init: boom", NewVaultError("init", "", "boom").Error())
}
