package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/dynamic-certs/internal/artifacts"
	"github.com/vyrodovalexey/dynamic-certs/internal/config"
	"github.com/vyrodovalexey/dynamic-certs/internal/identity"
	"github.com/vyrodovalexey/dynamic-certs/internal/process"
)

func newTestCockroach(t *testing.T, cfg CockroachConfig, rec *process.Recorder) (*CockroachBackend, artifacts.Paths) {
	t.Helper()
	paths := testPaths(t)
	if rec.Hook == nil {
		rec.Hook = cockroachHook
	}
	b, err := NewCockroachBackend(cfg, paths, rec)
	require.NoError(t, err)
	return b, paths
}

func TestCockroachBackend_Metadata(t *testing.T) {
	t.Parallel()

	b, _ := newTestCockroach(t, CockroachConfig{Binary: "/cockroach"}, process.NewRecorder())
	assert.Equal(t, BackendCockroach, b.Name())
	assert.Equal(t, artifacts.LayoutCockroach, b.Layout())
}

func TestCockroachBackend_Invocations(t *testing.T) {
	t.Parallel()

	rec := process.NewRecorder()
	b, paths := newTestCockroach(t, CockroachConfig{Binary: "/cockroach"}, rec)

	require.NoError(t, b.Generate(context.Background(), identity.Build("db1 10.0.0.9", "app")))

	in, out := paths.Internal, paths.External
	assert.Equal(t, [][]string{
		{"/cockroach", "cert", "create-ca", "--certs-dir", out, "--ca-key", in + "/ca.key"},
		{"/cockroach", "cert", "create-client", "app", "--certs-dir", out, "--ca-key", in + "/ca.key",
			"--also-generate-pkcs8-key"},
		{"/cockroach", "cert", "create-client", "root", "--certs-dir", out, "--ca-key", in + "/ca.key",
			"--also-generate-pkcs8-key"},
		{"/cockroach", "cert", "create-node", "db1", "node", "10.0.0.9", "--certs-dir", out,
			"--ca-key", in + "/ca.key"},
	}, rec.Commands())
}

func TestCockroachBackend_CallCounts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		nodes     string
		username  string
		wantUsers int
	}{
		{name: "root only", nodes: "db1", username: "", wantUsers: 1},
		{name: "root explicit", nodes: "db1 db2", username: "root", wantUsers: 1},
		{name: "app and root", nodes: "db1 10.0.0.9", username: "app", wantUsers: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := process.NewRecorder()
			b, _ := newTestCockroach(t, CockroachConfig{Binary: "/cockroach"}, rec)
			set := identity.Build(tt.nodes, tt.username)

			require.NoError(t, b.Generate(context.Background(), set))

			counts := map[string]int{}
			for _, cmd := range rec.Commands() {
				counts[cmd[2]]++
			}
			assert.Equal(t, 1, counts["create-ca"])
			assert.Equal(t, tt.wantUsers, counts["create-client"])
			assert.Equal(t, 1, counts["create-node"])
			assert.Equal(t, "create-ca", rec.Commands()[0][2])

			last := rec.Commands()[len(rec.Commands())-1]
			for _, host := range set.Node.SubjectAltNames.Hosts() {
				assert.Contains(t, last, host)
			}
		})
	}
}

func TestCockroachBackend_OverwriteAndLifetime(t *testing.T) {
	t.Parallel()

	rec := process.NewRecorder()
	b, _ := newTestCockroach(t, CockroachConfig{
		Binary:       "/cockroach",
		Overwrite:    true,
		CALifetime:   "87600h",
		CertLifetime: "8760h",
	}, rec)
	set := identity.Build("db1", "")

	require.NoError(t, b.Generate(context.Background(), set))
	require.NoError(t, b.Generate(context.Background(), set), "re-run over restricted keys")

	cmds := rec.Commands()
	assert.Equal(t, []string{"--lifetime", "87600h", "--allow-ca-key-reuse", "--overwrite"}, cmds[0][len(cmds[0])-4:])
	assert.Equal(t, []string{"--lifetime", "8760h", "--overwrite"}, cmds[1][len(cmds[1])-3:])
	assert.Equal(t, []string{"--lifetime", "8760h", "--overwrite"}, cmds[2][len(cmds[2])-3:])
}

func TestCockroachBackend_Permissions(t *testing.T) {
	t.Parallel()

	b, paths := newTestCockroach(t, CockroachConfig{Binary: "/cockroach"}, process.NewRecorder())

	require.NoError(t, b.Generate(context.Background(), identity.Build("db1", "app")))

	requireMode(t, paths.CAKey(), artifacts.KeyMode)
	requireMode(t, paths.Node(artifacts.LayoutCockroach).Key, artifacts.KeyMode)
	for _, u := range []string{"app", "root"} {
		files := paths.Client(u, artifacts.LayoutCockroach)
		requireMode(t, files.Key, artifacts.KeyMode)
		requireMode(t, files.PKCS8, artifacts.KeyMode)
	}
}

func TestCockroachBackend_HaltsOnFailure(t *testing.T) {
	t.Parallel()

	rec := process.NewRecorder().FailAt(0, 1, "ERROR: CA key exists")
	b, _ := newTestCockroach(t, CockroachConfig{Binary: "/cockroach"}, rec)

	err := b.Generate(context.Background(), identity.Build("db1", "app"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, process.ErrCommandFailed))
	assert.Len(t, rec.Invocations(), 1)
}

func TestNewCockroachBackend_RequiresBinary(t *testing.T) {
	t.Parallel()

	_, err := NewCockroachBackend(CockroachConfig{}, artifacts.New("/in", "/out"), process.NewRecorder())
	var cfgErr *config.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestNew_SelectsBackend(t *testing.T) {
	t.Parallel()

	paths := artifacts.New("/in", "/out")

	cfg := config.DefaultConfig()
	b, err := New(cfg, paths, process.NewRecorder(), "")
	require.NoError(t, err)
	assert.Equal(t, BackendCockroach, b.Name())

	cfg.UseOpenSSL = true
	b, err = New(cfg, paths, process.NewRecorder(), "pw")
	require.NoError(t, err)
	assert.Equal(t, BackendOpenSSL, b.Name())

	b, err = New(cfg, paths, process.NewRecorder(), "")
	require.Error(t, err)
	assert.Nil(t, b)
}

func TestConfigFrom(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Cockroach.Overwrite = true
	cfg.Export.PKCS8 = false

	c := CockroachConfigFrom(cfg)
	assert.Equal(t, "/cockroach", c.Binary)
	assert.True(t, c.Overwrite)

	o := OpenSSLConfigFrom(cfg, "pw")
	assert.Equal(t, "openssl", o.Binary)
	assert.Equal(t, "signing_node_req", o.ClientExtensions)
	assert.False(t, o.ExportPKCS8)
	assert.True(t, o.ExportPKCS12)
	assert.Equal(t, "pw", o.PKCS12Password)
}
