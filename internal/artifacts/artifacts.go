// Package artifacts maps the fixed artifact naming scheme onto the two
// output roots and enforces the file permission contract.
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// File modes of the permission contract.
const (
	// KeyMode is applied to every private key right after it is written.
	KeyMode os.FileMode = 0o400

	// BundleMode is applied to exported PKCS#12 bundles.
	BundleMode os.FileMode = 0o600

	internalDirMode os.FileMode = 0o700
	externalDirMode os.FileMode = 0o755
)

// Layout selects the backend-specific file set.
type Layout int

const (
	// LayoutOpenSSL has CSR intermediates and .der/.p12 exports.
	LayoutOpenSSL Layout = iota

	// LayoutCockroach has no CSRs and a .key.pk8 side artifact.
	LayoutCockroach
)

// String returns the layout name.
func (l Layout) String() string {
	switch l {
	case LayoutOpenSSL:
		return "openssl"
	case LayoutCockroach:
		return "cockroach"
	default:
		return fmt.Sprintf("layout(%d)", int(l))
	}
}

// ArtifactSet lists the files produced for one identity. Empty fields are
// not produced by the layout.
type ArtifactSet struct {
	Key    string
	CSR    string
	Cert   string
	PKCS8  string
	PKCS12 string
}

// Keys returns the private key files of the set.
func (a ArtifactSet) Keys() []string {
	keys := []string{a.Key}
	if a.PKCS8 != "" {
		keys = append(keys, a.PKCS8)
	}
	return keys
}

// Paths resolves artifact names against the internal (secret) root and the
// external (shared with the cluster) root.
type Paths struct {
	Internal string
	External string
}

// New returns Paths for the two roots.
func New(internal, external string) Paths {
	return Paths{
		Internal: filepath.Clean(internal),
		External: filepath.Clean(external),
	}
}

// CAKey is the CA private key. The OpenSSL backend and the CLI backend both
// keep it in the internal root.
func (p Paths) CAKey() string {
	return filepath.Join(p.Internal, "ca.key")
}

// CACert is the CA certificate.
func (p Paths) CACert() string {
	return filepath.Join(p.External, "ca.crt")
}

// Node returns the node artifacts.
func (p Paths) Node(layout Layout) ArtifactSet {
	set := ArtifactSet{
		Key:  filepath.Join(p.External, "node.key"),
		Cert: filepath.Join(p.External, "node.crt"),
	}
	if layout == LayoutOpenSSL {
		set.CSR = filepath.Join(p.Internal, "node.csr")
	}
	return set
}

// Client returns the artifacts of one client. The username is lower-cased
// in file names.
func (p Paths) Client(username string, layout Layout) ArtifactSet {
	base := ClientBaseName(username)

	set := ArtifactSet{
		Key:  filepath.Join(p.External, base+".key"),
		Cert: filepath.Join(p.External, base+".crt"),
	}

	switch layout {
	case LayoutOpenSSL:
		set.CSR = filepath.Join(p.Internal, base+".csr")
		set.PKCS8 = filepath.Join(p.External, base+".der")
		set.PKCS12 = filepath.Join(p.External, base+".p12")
	case LayoutCockroach:
		set.PKCS8 = filepath.Join(p.External, base+".key.pk8")
	}
	return set
}

// ClientBaseName returns "client.<username>" with the username lower-cased.
func ClientBaseName(username string) string {
	return "client." + strings.ToLower(username)
}

// EnsureDirs creates both roots when missing. Existing directories are left
// as they are.
func (p Paths) EnsureDirs() error {
	if err := os.MkdirAll(p.Internal, internalDirMode); err != nil {
		return fmt.Errorf("failed to create internal directory %s: %w", p.Internal, err)
	}
	if err := os.MkdirAll(p.External, externalDirMode); err != nil {
		return fmt.Errorf("failed to create external directory %s: %w", p.External, err)
	}
	return nil
}

// RestrictKey sets KeyMode on a private key file.
func RestrictKey(path string) error {
	return chmod(path, KeyMode)
}

// RestrictBundle sets BundleMode on an exported bundle.
func RestrictBundle(path string) error {
	return chmod(path, BundleMode)
}

func chmod(path string, mode os.FileMode) error {
	if err := os.Chmod(path, mode); err != nil {
		return fmt.Errorf("failed to set mode %04o on %s: %w", mode, path, err)
	}
	return nil
}

// PrepareOverwrite makes an existing key file writable again so that a
// re-run can replace it. Absent files are ignored.
func PrepareOverwrite(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.Mode().Perm()&0o200 != 0 {
		return nil
	}
	return chmod(path, info.Mode().Perm()|0o200)
}
