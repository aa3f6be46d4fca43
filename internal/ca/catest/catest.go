// Package catest builds throwaway issuing CAs and CSRs for tests.
package catest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/youmark/pkcs8"

	"github.com/adamscao/pkiserver/internal/ca"
)

// KeyPassword protects the fixture's intermediate key on disk
const KeyPassword = "fixture-password"

// Fixture is a root and intermediate CA written to a temp dir
type Fixture struct {
	Dir       string
	CertPath  string
	KeyPath   string
	ChainPath string

	Root         *x509.Certificate
	Intermediate *x509.Certificate
	Key          *ecdsa.PrivateKey
	ChainPEM     []byte

	Authority *ca.Authority
}

// New generates a two-level CA, writes it out with an encrypted PKCS#8 key
// and loads it.
func New(t testing.TB) *Fixture {
	t.Helper()

	rootKey := newKey(t)
	root := createCert(t, &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test Root CA", Organization: []string{"Test"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}, nil, &rootKey.PublicKey, rootKey)

	key := newKey(t)
	intermediate := createCert(t, &x509.Certificate{
		SerialNumber:          big.NewInt(2),
		Subject:               pkix.Name{CommonName: "Test Intermediate CA", Organization: []string{"Test"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(5 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLenZero:        true,
	}, root, &key.PublicKey, rootKey)

	encrypted, err := pkcs8.MarshalPrivateKey(key, []byte(KeyPassword), nil)
	require.NoError(t, err)

	f := &Fixture{
		Dir:          t.TempDir(),
		Root:         root,
		Intermediate: intermediate,
		Key:          key,
		ChainPEM:     append(EncodeCert(intermediate), EncodeCert(root)...),
	}
	f.CertPath = filepath.Join(f.Dir, "intermediate_ca.crt")
	f.KeyPath = filepath.Join(f.Dir, "intermediate_ca_key")
	f.ChainPath = filepath.Join(f.Dir, "ca_chain.crt")

	require.NoError(t, os.WriteFile(f.CertPath, EncodeCert(intermediate), 0644))
	require.NoError(t, os.WriteFile(f.KeyPath, pem.EncodeToMemory(&pem.Block{Type: "ENCRYPTED PRIVATE KEY", Bytes: encrypted}), 0600))
	require.NoError(t, os.WriteFile(f.ChainPath, f.ChainPEM, 0644))

	f.Authority, err = ca.LoadCA(f.CertPath, f.KeyPath, KeyPassword, f.ChainPath)
	require.NoError(t, err)
	return f
}

// Pool returns a root pool and intermediate pool for chain verification
func (f *Fixture) Pool() (roots, intermediates *x509.CertPool) {
	roots = x509.NewCertPool()
	roots.AddCert(f.Root)
	intermediates = x509.NewCertPool()
	intermediates.AddCert(f.Intermediate)
	return roots, intermediates
}

// CSROptions describes a device CSR
type CSROptions struct {
	CommonName string
	OU         []string
	IPs        []string
	DNS        []string
}

// NewCSR returns a PEM CSR signed by a fresh P-256 key
func NewCSR(t testing.TB, opts CSROptions) string {
	t.Helper()

	tmpl := &x509.CertificateRequest{
		Subject: pkix.Name{
			CommonName:         opts.CommonName,
			Organization:       []string{"Field Devices"},
			OrganizationalUnit: opts.OU,
		},
		DNSNames: opts.DNS,
	}
	for _, ip := range opts.IPs {
		tmpl.IPAddresses = append(tmpl.IPAddresses, net.ParseIP(ip))
	}

	der, err := x509.CreateCertificateRequest(rand.Reader, tmpl, newKey(t))
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der}))
}

// TamperCSR flips the last byte of the CSR signature. The result still
// parses but no longer verifies.
func TamperCSR(t testing.TB, csrPEM string) string {
	t.Helper()
	block, _ := pem.Decode([]byte(csrPEM))
	require.NotNil(t, block)
	der := append([]byte(nil), block.Bytes...)
	der[len(der)-1] ^= 0xFF
	return string(pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: der}))
}

// ParseCert decodes a PEM certificate
func ParseCert(t testing.TB, certPEM string) *x509.Certificate {
	t.Helper()
	block, _ := pem.Decode([]byte(certPEM))
	require.NotNil(t, block, "no PEM block")
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	return cert
}

// EncodeCert encodes cert as PEM
func EncodeCert(cert *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
}

func newKey(t testing.TB) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return key
}

func createCert(t testing.TB, tmpl, parent *x509.Certificate, pub *ecdsa.PublicKey, signer *ecdsa.PrivateKey) *x509.Certificate {
	t.Helper()
	if parent == nil {
		parent = tmpl
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, pub, signer)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}
