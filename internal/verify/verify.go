// Package verify checks a generated artifact set after a run: the CA is a
// CA, every leaf chains to it, the node carries its subject alternative
// names, clients carry their usernames, exports decode and secret files are
// not readable by group or others.
package verify

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"

	"software.sslmate.com/src/go-pkcs12"

	"github.com/vyrodovalexey/dynamic-certs/internal/artifacts"
	"github.com/vyrodovalexey/dynamic-certs/internal/identity"
	"github.com/vyrodovalexey/dynamic-certs/internal/observability"
)

// Check names reported in VerificationError.Check.
const (
	CheckExists  = "exists"
	CheckParse   = "parse"
	CheckIsCA    = "is-ca"
	CheckChain   = "chain"
	CheckSAN     = "san"
	CheckCN      = "common-name"
	CheckKeyPair = "key-pair"
	CheckPKCS8   = "pkcs8"
	CheckPKCS12  = "pkcs12"
	CheckMode    = "mode"
)

// secretPermMask are the permission bits a secret file must not carry.
const secretPermMask os.FileMode = 0o077

// Options selects which artifacts are expected.
type Options struct {
	// Layout is the layout of the backend that produced the artifacts.
	Layout artifacts.Layout

	// PKCS8 expects the PKCS#8 side artifact for every client.
	PKCS8 bool

	// PKCS12 expects a bundle for every client, decrypted with
	// PKCS12Password.
	PKCS12         bool
	PKCS12Password string
}

// Verifier checks the artifacts below a Paths pair.
type Verifier struct {
	paths  artifacts.Paths
	opts   Options
	logger observability.Logger
}

// New creates a Verifier.
func New(paths artifacts.Paths, opts Options, logger observability.Logger) *Verifier {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Verifier{
		paths:  paths,
		opts:   opts,
		logger: logger.With(observability.String("component", "verify")),
	}
}

// Verify checks every artifact of set. A CA failure is returned alone;
// otherwise all failures are joined.
func (v *Verifier) Verify(ctx context.Context, set identity.IdentitySet) error {
	logger := v.logger.WithContext(ctx)

	ca, err := v.verifyCA()
	if err != nil {
		logger.Error("CA verification failed", observability.Error(err))
		return err
	}

	roots := x509.NewCertPool()
	roots.AddCert(ca)

	var errs []error
	errs = appendErr(errs, checkSecretMode(v.paths.CAKey()))
	errs = append(errs, v.verifyNode(roots, set.Node)...)

	for _, client := range set.Clients {
		if err := ctx.Err(); err != nil {
			return err
		}
		errs = append(errs, v.verifyClient(roots, client.Username)...)
	}

	for _, e := range errs {
		logger.Error("artifact verification failed", observability.Error(e))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	logger.Info("artifacts verified",
		observability.Int("clients", len(set.Clients)),
		observability.Int("sans", len(set.Node.SubjectAltNames)),
	)
	return nil
}

func (v *Verifier) verifyCA() (*x509.Certificate, error) {
	path := v.paths.CACert()
	ca, err := loadCertificate(path)
	if err != nil {
		return nil, err
	}
	if !ca.IsCA || !ca.BasicConstraintsValid {
		return nil, NewVerificationError(path, CheckIsCA, "certificate is not a CA")
	}
	return ca, nil
}

func (v *Verifier) verifyNode(roots *x509.CertPool, node identity.NodeIdentity) []error {
	files := v.paths.Node(v.opts.Layout)

	cert, err := loadCertificate(files.Cert)
	if err != nil {
		return []error{err}
	}

	var errs []error
	errs = appendErr(errs, verifyChain(files.Cert, cert, roots))
	for _, san := range node.SubjectAltNames {
		if !hasSubjectAltName(cert, san) {
			errs = append(errs, NewVerificationError(files.Cert, CheckSAN, "missing "+san.String()))
		}
	}
	errs = appendErr(errs, verifyKeyPair(files))
	errs = appendErr(errs, checkSecretMode(files.Key))
	return errs
}

func (v *Verifier) verifyClient(roots *x509.CertPool, username string) []error {
	files := v.paths.Client(username, v.opts.Layout)

	cert, err := loadCertificate(files.Cert)
	if err != nil {
		return []error{err}
	}

	var errs []error
	errs = appendErr(errs, verifyChain(files.Cert, cert, roots))
	if cert.Subject.CommonName != username {
		errs = append(errs, NewVerificationError(files.Cert, CheckCN,
			fmt.Sprintf("common name %q, want %q", cert.Subject.CommonName, username)))
	}
	errs = appendErr(errs, verifyKeyPair(files))
	errs = appendErr(errs, checkSecretMode(files.Key))

	if v.opts.PKCS8 && files.PKCS8 != "" {
		errs = appendErr(errs, verifyPKCS8(files.PKCS8))
		errs = appendErr(errs, checkSecretMode(files.PKCS8))
	}
	if v.opts.PKCS12 && files.PKCS12 != "" {
		errs = appendErr(errs, verifyPKCS12(files.PKCS12, v.opts.PKCS12Password, cert))
		errs = appendErr(errs, checkSecretMode(files.PKCS12))
	}
	return errs
}

func loadCertificate(path string) (*x509.Certificate, error) {
	data, err := readArtifact(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, NewVerificationError(path, CheckParse, "no PEM certificate block")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, NewVerificationErrorWithCause(path, CheckParse, "invalid certificate", err)
	}
	return cert, nil
}

func readArtifact(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewVerificationErrorWithCause(path, CheckExists, "file not found", ErrMissingArtifact)
		}
		return nil, NewVerificationErrorWithCause(path, CheckExists, "failed to read", err)
	}
	return data, nil
}

func verifyChain(path string, cert *x509.Certificate, roots *x509.CertPool) error {
	opts := x509.VerifyOptions{
		Roots:     roots,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	if _, err := cert.Verify(opts); err != nil {
		return NewVerificationErrorWithCause(path, CheckChain, "not signed by the CA", err)
	}
	return nil
}

func hasSubjectAltName(cert *x509.Certificate, san identity.SubjectAltName) bool {
	switch san.Kind {
	case identity.KindIP:
		want, err := netip.ParseAddr(san.Value)
		if err != nil {
			return false
		}
		for _, ip := range cert.IPAddresses {
			if got, ok := netip.AddrFromSlice(ip); ok && got.Unmap() == want.Unmap() {
				return true
			}
		}
	case identity.KindDNS:
		for _, name := range cert.DNSNames {
			if strings.EqualFold(name, san.Value) {
				return true
			}
		}
	}
	return false
}

// verifyKeyPair checks that the PEM key belongs to the certificate.
func verifyKeyPair(files artifacts.ArtifactSet) error {
	certPEM, err := readArtifact(files.Cert)
	if err != nil {
		return err
	}
	keyPEM, err := readArtifact(files.Key)
	if err != nil {
		return err
	}
	if _, err := tls.X509KeyPair(certPEM, keyPEM); err != nil {
		return NewVerificationErrorWithCause(files.Key, CheckKeyPair, "key does not match certificate", err)
	}
	return nil
}

func verifyPKCS8(path string) error {
	der, err := readArtifact(path)
	if err != nil {
		return err
	}
	if _, err := x509.ParsePKCS8PrivateKey(der); err != nil {
		return NewVerificationErrorWithCause(path, CheckPKCS8, "not a DER PKCS#8 key", err)
	}
	return nil
}

func verifyPKCS12(path, password string, want *x509.Certificate) error {
	data, err := readArtifact(path)
	if err != nil {
		return err
	}
	_, leaf, _, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return NewVerificationErrorWithCause(path, CheckPKCS12, "failed to decode bundle", err)
	}
	if !leaf.Equal(want) {
		return NewVerificationError(path, CheckPKCS12, "bundle certificate differs from "+want.Subject.CommonName)
	}
	return nil
}

func checkSecretMode(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewVerificationErrorWithCause(path, CheckExists, "file not found", ErrMissingArtifact)
		}
		return NewVerificationErrorWithCause(path, CheckMode, "failed to stat", err)
	}
	if perm := info.Mode().Perm(); perm&secretPermMask != 0 {
		return NewVerificationErrorWithCause(path, CheckMode, fmt.Sprintf("mode %04o", perm), ErrInsecureMode)
	}
	return nil
}

func appendErr(errs []error, err error) []error {
	if err != nil {
		return append(errs, err)
	}
	return errs
}
