package orchestrator

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/vyrodovalexey/dynamic-certs/internal/process"
)

// touchOutput creates the file named by -out, as openssl would.
func touchOutput(inv process.Invocation) error {
	args := inv.Args()
	for i := 0; i < len(args)-1; i++ {
		if args[i] == "-out" {
			return os.WriteFile(args[i+1], []byte("generated"), 0o644)
		}
	}
	return nil
}

// fakeCockroach issues real certificates for `cockroach cert` invocations.
type fakeCockroach struct {
	omitIP bool

	mu     sync.Mutex
	caKey  *ecdsa.PrivateKey
	caCert *x509.Certificate
	serial int64
}

func newFakeCockroach() *fakeCockroach {
	return &fakeCockroach{}
}

func (f *fakeCockroach) hook(inv process.Invocation) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	args := inv.Args()
	var certsDir, caKeyPath string
	var positional []string
	for i := 2; i < len(args); i++ {
		switch args[i] {
		case "--certs-dir":
			certsDir = args[i+1]
			i++
		case "--ca-key":
			caKeyPath = args[i+1]
			i++
		case "--lifetime":
			i++
		default:
			if !strings.HasPrefix(args[i], "--") {
				positional = append(positional, args[i])
			}
		}
	}

	switch args[1] {
	case "create-ca":
		return f.createCA(certsDir, caKeyPath)
	case "create-client":
		base := filepath.Join(certsDir, "client."+strings.ToLower(positional[0]))
		return f.issue(base, positional[0], nil, true)
	case "create-node":
		return f.issue(filepath.Join(certsDir, "node"), "node", positional, false)
	default:
		return fmt.Errorf("unexpected command %s", args[1])
	}
}

func (f *fakeCockroach) createCA(certsDir, keyPath string) error {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return err
	}
	f.serial++
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(f.serial),
		Subject:               pkix.Name{Organization: []string{"Cockroach"}, CommonName: "Cockroach CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return err
	}
	if f.caCert, err = x509.ParseCertificate(der); err != nil {
		return err
	}
	f.caKey = key

	if err := writePEM(filepath.Join(certsDir, "ca.crt"), "CERTIFICATE", der); err != nil {
		return err
	}
	return writeKey(keyPath, key)
}

func (f *fakeCockroach) issue(base, cn string, hosts []string, pkcs8 bool) error {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return err
	}
	f.serial++
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(f.serial),
		Subject:      pkix.Name{Organization: []string{"Cockroach"}, CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(12 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			if !f.omitIP {
				tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
			}
			continue
		}
		tmpl.DNSNames = append(tmpl.DNSNames, h)
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, f.caCert, &key.PublicKey, f.caKey)
	if err != nil {
		return err
	}
	if err := writePEM(base+".crt", "CERTIFICATE", der); err != nil {
		return err
	}
	if err := writeKey(base+".key", key); err != nil {
		return err
	}
	if !pkcs8 {
		return nil
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return err
	}
	return os.WriteFile(base+".key.pk8", keyDER, 0o600)
}

func writeKey(path string, key *ecdsa.PrivateKey) error {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return err
	}
	return os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), 0o600)
}

func writePEM(path, blockType string, der []byte) error {
	return os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der}), 0o644)
}
