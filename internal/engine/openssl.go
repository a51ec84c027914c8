package engine

import (
	"context"
	"strconv"

	"github.com/vyrodovalexey/dynamic-certs/internal/artifacts"
	"github.com/vyrodovalexey/dynamic-certs/internal/config"
	"github.com/vyrodovalexey/dynamic-certs/internal/identity"
	"github.com/vyrodovalexey/dynamic-certs/internal/process"
)

// PKCS12PasswordEnv carries the bundle password to `openssl pkcs12` so that
// it never appears on a command line.
const PKCS12PasswordEnv = "DYNAMIC_CERTS_P12_PASSWORD"

// OpenSSL step names.
const (
	StepGenerateCAKey      = "generate-ca-key"
	StepGenerateCACert     = "generate-ca-cert"
	StepResetSerialIndex   = "reset-serial-index"
	StepGenerateNodeKey    = "generate-node-key"
	StepGenerateNodeCSR    = "generate-node-csr"
	StepSignNodeCert       = "sign-node-cert"
	StepGenerateClientKey  = "generate-client-key"
	StepGenerateClientCSR  = "generate-client-csr"
	StepSignClientCert     = "sign-client-cert"
	StepExportClientPKCS8  = "export-client-pkcs8"
	StepExportClientPKCS12 = "export-client-pkcs12"
)

const (
	subjectCA   = "ca"
	subjectNode = "node"
)

// OpenSSLConfig configures the OpenSSL backend.
type OpenSSLConfig struct {
	Binary           string
	CAConfig         string
	CSRConfig        string
	StateDir         string
	Organization     string
	CAValidityDays   int
	KeyBits          int
	SigningPolicy    string
	NodeExtensions   string
	ClientExtensions string
	ExportPKCS8      bool
	ExportPKCS12     bool
	PKCS12Password   string
}

// OpenSSLConfigFrom extracts the backend settings from the run config.
func OpenSSLConfigFrom(cfg *config.Config, pkcs12Password string) OpenSSLConfig {
	o := cfg.OpenSSL
	return OpenSSLConfig{
		Binary:           o.Binary,
		CAConfig:         o.CAConfig,
		CSRConfig:        o.CSRConfig,
		StateDir:         o.StateDir,
		Organization:     o.Organization,
		CAValidityDays:   o.CAValidityDays,
		KeyBits:          o.KeyBits,
		SigningPolicy:    o.SigningPolicy,
		NodeExtensions:   o.NodeExtensions,
		ClientExtensions: o.ClientExtensions,
		ExportPKCS8:      cfg.Export.PKCS8,
		ExportPKCS12:     cfg.Export.PKCS12,
		PKCS12Password:   pkcs12Password,
	}
}

// OpenSSLBackend generates the PKI with the openssl toolkit:
// CA key, CA cert, serial reset, node key/CSR/cert, then key/CSR/cert and
// exports for each client.
type OpenSSLBackend struct {
	base
	cfg OpenSSLConfig
}

// NewOpenSSLBackend creates an OpenSSLBackend. PKCS#12 export requires a
// non-empty password.
func NewOpenSSLBackend(
	cfg OpenSSLConfig,
	paths artifacts.Paths,
	runner process.Runner,
	opts ...Option,
) (*OpenSSLBackend, error) {
	if cfg.ExportPKCS12 && cfg.PKCS12Password == "" {
		return nil, config.NewConfigurationError("export.passwordSecret", "pkcs12 export requires a password")
	}
	return &OpenSSLBackend{
		base: newBase(paths, runner, opts),
		cfg:  cfg,
	}, nil
}

// Name implements Backend.
func (b *OpenSSLBackend) Name() string { return BackendOpenSSL }

// Layout implements Backend.
func (b *OpenSSLBackend) Layout() artifacts.Layout { return artifacts.LayoutOpenSSL }

// Generate implements Backend.
func (b *OpenSSLBackend) Generate(ctx context.Context, set identity.IdentitySet) error {
	if err := b.generateCA(ctx); err != nil {
		return err
	}
	if err := b.generateNode(ctx, set.Node); err != nil {
		return err
	}
	for _, client := range set.Clients {
		if err := b.generateClient(ctx, client); err != nil {
			return err
		}
	}
	return nil
}

func (b *OpenSSLBackend) generateCA(ctx context.Context) error {
	caKey := b.paths.CAKey()

	if err := b.step(ctx, StepGenerateCAKey, subjectCA, func(ctx context.Context) error {
		return b.generateKey(ctx, caKey)
	}); err != nil {
		return err
	}

	if err := b.step(ctx, StepGenerateCACert, subjectCA, func(ctx context.Context) error {
		return b.run(ctx, b.caCertInvocation())
	}); err != nil {
		return err
	}

	return b.step(ctx, StepResetSerialIndex, subjectCA, func(context.Context) error {
		if b.dryRun {
			return nil
		}
		return ResetSerialIndex(b.cfg.StateDir)
	})
}

func (b *OpenSSLBackend) generateNode(ctx context.Context, node identity.NodeIdentity) error {
	files := b.paths.Node(artifacts.LayoutOpenSSL)

	if err := b.step(ctx, StepGenerateNodeKey, subjectNode, func(ctx context.Context) error {
		return b.generateKey(ctx, files.Key)
	}); err != nil {
		return err
	}

	if err := b.step(ctx, StepGenerateNodeCSR, subjectNode, func(ctx context.Context) error {
		return b.run(ctx, b.csrInvocation(files, "", node.SubjectAltNames))
	}); err != nil {
		return err
	}

	return b.step(ctx, StepSignNodeCert, subjectNode, func(ctx context.Context) error {
		return b.run(ctx, b.signInvocation(files, b.cfg.NodeExtensions))
	})
}

func (b *OpenSSLBackend) generateClient(ctx context.Context, client identity.ClientIdentity) error {
	files := b.paths.Client(client.Username, artifacts.LayoutOpenSSL)
	subject := clientSubject(client.Username)

	if err := b.step(ctx, StepGenerateClientKey, subject, func(ctx context.Context) error {
		return b.generateKey(ctx, files.Key)
	}); err != nil {
		return err
	}

	if err := b.step(ctx, StepGenerateClientCSR, subject, func(ctx context.Context) error {
		return b.run(ctx, b.csrInvocation(files, client.Username, nil))
	}); err != nil {
		return err
	}

	if err := b.step(ctx, StepSignClientCert, subject, func(ctx context.Context) error {
		return b.run(ctx, b.signInvocation(files, b.cfg.ClientExtensions))
	}); err != nil {
		return err
	}

	return b.export(ctx, subject, files)
}

// export writes the optional interchange formats of one client.
func (b *OpenSSLBackend) export(ctx context.Context, subject string, files artifacts.ArtifactSet) error {
	if b.cfg.ExportPKCS8 {
		if err := b.step(ctx, StepExportClientPKCS8, subject, func(ctx context.Context) error {
			if err := b.prepareOverwrite(files.PKCS8); err != nil {
				return err
			}
			if err := b.run(ctx, b.pkcs8Invocation(files)); err != nil {
				return err
			}
			return b.restrictKey(files.PKCS8)
		}); err != nil {
			return err
		}
	}

	if b.cfg.ExportPKCS12 {
		return b.step(ctx, StepExportClientPKCS12, subject, func(ctx context.Context) error {
			if err := b.run(ctx, b.pkcs12Invocation(files)); err != nil {
				return err
			}
			return b.restrictBundle(files.PKCS12)
		})
	}
	return nil
}

// generateKey writes a PEM RSA key and restricts it before anything else
// can read it.
func (b *OpenSSLBackend) generateKey(ctx context.Context, keyPath string) error {
	if err := b.prepareOverwrite(keyPath); err != nil {
		return err
	}
	if err := b.run(ctx, b.keyInvocation(keyPath)); err != nil {
		return err
	}
	return b.restrictKey(keyPath)
}

func (b *OpenSSLBackend) keyInvocation(keyPath string) process.Invocation {
	return process.NewInvocation(b.cfg.Binary,
		"genpkey", "-quiet",
		"-outform", "PEM",
		"-algorithm", "RSA",
		"-pkeyopt", "rsa_keygen_bits:"+strconv.Itoa(b.cfg.KeyBits),
		"-out", keyPath,
	)
}

func (b *OpenSSLBackend) caCertInvocation() process.Invocation {
	return process.NewInvocation(b.cfg.Binary,
		"req", "-new", "-x509",
		"-config", b.cfg.CAConfig,
		"-key", b.paths.CAKey(),
		"-out", b.paths.CACert(),
		"-days", strconv.Itoa(b.cfg.CAValidityDays),
		"-batch",
	)
}

// csrInvocation builds the request. The common name is set for clients and
// the SAN extension only for the node.
func (b *OpenSSLBackend) csrInvocation(
	files artifacts.ArtifactSet,
	commonName string,
	sans identity.SubjectAltNames,
) process.Invocation {
	subj := "/O=" + b.cfg.Organization
	if commonName != "" {
		subj += "/CN=" + commonName
	}

	args := []string{"req", "-new", "-config", b.cfg.CSRConfig, "-subj", subj}
	if len(sans) > 0 {
		args = append(args, "-addext", "subjectAltName="+sans.Join(","))
	}
	args = append(args, "-key", files.Key, "-out", files.CSR, "-batch")

	return process.NewInvocation(b.cfg.Binary, args...)
}

func (b *OpenSSLBackend) signInvocation(files artifacts.ArtifactSet, extensions string) process.Invocation {
	return process.NewInvocation(b.cfg.Binary,
		"ca",
		"-config", b.cfg.CAConfig,
		"-keyfile", b.paths.CAKey(),
		"-cert", b.paths.CACert(),
		"-policy", b.cfg.SigningPolicy,
		"-extensions", extensions,
		"-out", files.Cert,
		"-outdir", b.paths.External,
		"-in", files.CSR,
		"-batch",
	)
}

func (b *OpenSSLBackend) pkcs8Invocation(files artifacts.ArtifactSet) process.Invocation {
	return process.NewInvocation(b.cfg.Binary,
		"pkcs8", "-topk8",
		"-inform", "PEM",
		"-outform", "DER",
		"-nocrypt",
		"-in", files.Key,
		"-out", files.PKCS8,
	)
}

func (b *OpenSSLBackend) pkcs12Invocation(files artifacts.ArtifactSet) process.Invocation {
	return process.NewInvocation(b.cfg.Binary,
		"pkcs12", "-export",
		"-out", files.PKCS12,
		"-inkey", files.Key,
		"-in", files.Cert,
		"-passout", "env:"+PKCS12PasswordEnv,
	).WithEnv(PKCS12PasswordEnv + "=" + b.cfg.PKCS12Password)
}
