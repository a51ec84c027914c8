package engine

import (
	"context"

	"github.com/vyrodovalexey/dynamic-certs/internal/artifacts"
	"github.com/vyrodovalexey/dynamic-certs/internal/config"
	"github.com/vyrodovalexey/dynamic-certs/internal/identity"
	"github.com/vyrodovalexey/dynamic-certs/internal/process"
)

// Cockroach CLI step names.
const (
	StepCreateCA     = "create-ca"
	StepCreateClient = "create-client"
	StepCreateNode   = "create-node"
)

// CockroachConfig configures the cockroach CLI backend.
type CockroachConfig struct {
	Binary       string
	Overwrite    bool
	CALifetime   string
	CertLifetime string
}

// CockroachConfigFrom extracts the backend settings from the run config.
func CockroachConfigFrom(cfg *config.Config) CockroachConfig {
	return CockroachConfig{
		Binary:       cfg.Cockroach.Binary,
		Overwrite:    cfg.Cockroach.Overwrite,
		CALifetime:   cfg.Cockroach.CALifetime,
		CertLifetime: cfg.Cockroach.CertLifetime,
	}
}

// CockroachBackend generates the PKI with `cockroach cert`: create-ca, then
// create-client per username, then one create-node carrying every SAN.
type CockroachBackend struct {
	base
	cfg CockroachConfig
}

// NewCockroachBackend creates a CockroachBackend.
func NewCockroachBackend(
	cfg CockroachConfig,
	paths artifacts.Paths,
	runner process.Runner,
	opts ...Option,
) (*CockroachBackend, error) {
	if cfg.Binary == "" {
		return nil, config.NewConfigurationError("cockroach.binary", "cockroach binary is required")
	}
	return &CockroachBackend{
		base: newBase(paths, runner, opts),
		cfg:  cfg,
	}, nil
}

// Name implements Backend.
func (b *CockroachBackend) Name() string { return BackendCockroach }

// Layout implements Backend.
func (b *CockroachBackend) Layout() artifacts.Layout { return artifacts.LayoutCockroach }

// Generate implements Backend.
func (b *CockroachBackend) Generate(ctx context.Context, set identity.IdentitySet) error {
	caKey := b.paths.CAKey()

	if err := b.step(ctx, StepCreateCA, subjectCA, func(ctx context.Context) error {
		return b.create(ctx, b.createCAInvocation(), caKey)
	}); err != nil {
		return err
	}

	for _, client := range set.Clients {
		files := b.paths.Client(client.Username, artifacts.LayoutCockroach)
		if err := b.step(ctx, StepCreateClient, clientSubject(client.Username), func(ctx context.Context) error {
			return b.create(ctx, b.createClientInvocation(client.Username), files.Keys()...)
		}); err != nil {
			return err
		}
	}

	node := b.paths.Node(artifacts.LayoutCockroach)
	return b.step(ctx, StepCreateNode, subjectNode, func(ctx context.Context) error {
		return b.create(ctx, b.createNodeInvocation(set.Node.SubjectAltNames), node.Key)
	})
}

// create runs one CLI command and restricts the keys it wrote.
func (b *CockroachBackend) create(ctx context.Context, inv process.Invocation, keys ...string) error {
	if b.cfg.Overwrite {
		if err := b.prepareOverwrite(keys...); err != nil {
			return err
		}
	}
	if err := b.run(ctx, inv); err != nil {
		return err
	}
	for _, key := range keys {
		if err := b.restrictKey(key); err != nil {
			return err
		}
	}
	return nil
}

func (b *CockroachBackend) createCAInvocation() process.Invocation {
	args := append([]string{"cert", "create-ca"}, b.commonArgs()...)
	if b.cfg.CALifetime != "" {
		args = append(args, "--lifetime", b.cfg.CALifetime)
	}
	if b.cfg.Overwrite {
		args = append(args, "--allow-ca-key-reuse", "--overwrite")
	}
	return process.NewInvocation(b.cfg.Binary, args...)
}

func (b *CockroachBackend) createClientInvocation(username string) process.Invocation {
	args := append([]string{"cert", "create-client", username}, b.commonArgs()...)
	args = append(args, "--also-generate-pkcs8-key")
	return process.NewInvocation(b.cfg.Binary, b.leafArgs(args)...)
}

// createNodeInvocation passes the SAN values as positional hosts.
func (b *CockroachBackend) createNodeInvocation(sans identity.SubjectAltNames) process.Invocation {
	args := append([]string{"cert", "create-node"}, sans.Hosts()...)
	args = append(args, b.commonArgs()...)
	return process.NewInvocation(b.cfg.Binary, b.leafArgs(args)...)
}

func (b *CockroachBackend) commonArgs() []string {
	return []string{"--certs-dir", b.paths.External, "--ca-key", b.paths.CAKey()}
}

func (b *CockroachBackend) leafArgs(args []string) []string {
	if b.cfg.CertLifetime != "" {
		args = append(args, "--lifetime", b.cfg.CertLifetime)
	}
	if b.cfg.Overwrite {
		args = append(args, "--overwrite")
	}
	return args
}
