package ca

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/adamscao/pkiserver/internal/apperr"
)

// Authority is the loaded issuing CA: its certificate, signing key and the
// chain bundle handed to devices.
type Authority struct {
	cert     *x509.Certificate
	certPEM  string
	key      crypto.Signer
	chain    []*x509.Certificate
	chainPEM string
	now      func() time.Time
}

// Info summarizes the issuing CA
type Info struct {
	Subject         string    `json:"subject"`
	Issuer          string    `json:"issuer"`
	SerialNumber    string    `json:"serial_number"`
	NotBefore       time.Time `json:"not_before"`
	NotAfter        time.Time `json:"not_after"`
	DaysUntilExpiry int       `json:"days_until_expiry"`
}

// LoadCA reads the issuer certificate, its (optionally encrypted) key and
// the chain bundle from disk.
func LoadCA(certPath, keyPath, keyPassword, chainPath string) (*Authority, error) {
	const op = "ca.LoadCA"

	certData, err := os.ReadFile(certPath)
	if err != nil {
		return nil, apperr.Config(op, err, "failed to read CA certificate %s", certPath)
	}
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, apperr.Config(op, err, "failed to read CA key %s", keyPath)
	}
	chainData, err := os.ReadFile(chainPath)
	if err != nil {
		return nil, apperr.Config(op, err, "failed to read CA chain %s", chainPath)
	}

	certs, err := parseCertificates(certData)
	if err != nil {
		return nil, apperr.Config(op, err, "failed to parse CA certificate %s", certPath)
	}

	key, err := decodePrivateKey(keyData, keyPassword)
	if err != nil {
		return nil, apperr.Config(op, err, "failed to load CA key %s", keyPath)
	}

	a, err := New(certs[0], key, chainData)
	if err != nil {
		return nil, apperr.Config(op, err, "invalid CA material")
	}
	return a, nil
}

// New builds an Authority from already-decoded material
func New(cert *x509.Certificate, key crypto.Signer, chainPEM []byte) (*Authority, error) {
	if !keyMatches(key, cert.PublicKey) {
		return nil, errors.New("CA key does not match CA certificate")
	}
	if _, err := signatureAlgorithm(key); err != nil {
		return nil, err
	}

	chain, err := parseCertificates(chainPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CA chain: %w", err)
	}

	return &Authority{
		cert:     cert,
		certPEM:  string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})),
		key:      key,
		chain:    chain,
		chainPEM: string(chainPEM),
		now:      time.Now,
	}, nil
}

// Certificate returns the issuer certificate
func (a *Authority) Certificate() *x509.Certificate {
	return a.cert
}

// CertificatePEM returns the issuer certificate in PEM form
func (a *Authority) CertificatePEM() string {
	return a.certPEM
}

// Chain returns the chain bundle exactly as loaded
func (a *Authority) Chain() string {
	return a.chainPEM
}

// Info returns a summary of the issuer certificate
func (a *Authority) Info() Info {
	return Info{
		Subject:         a.cert.Subject.String(),
		Issuer:          a.cert.Issuer.String(),
		SerialNumber:    serialHex(a.cert),
		NotBefore:       a.cert.NotBefore,
		NotAfter:        a.cert.NotAfter,
		DaysUntilExpiry: int(a.cert.NotAfter.Sub(a.now()).Hours() / 24),
	}
}

// bundleCerts returns the certificates shipped alongside a leaf in PKCS#12
// archives: the chain, led by the issuer when the chain omits it.
func (a *Authority) bundleCerts() []*x509.Certificate {
	for _, c := range a.chain {
		if c.Equal(a.cert) {
			return a.chain
		}
	}
	return append([]*x509.Certificate{a.cert}, a.chain...)
}

// parseCertificates decodes every CERTIFICATE block in data
func parseCertificates(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, errors.New("no certificate found")
	}
	return certs, nil
}

func serialHex(cert *x509.Certificate) string {
	return strings.ToUpper(cert.SerialNumber.Text(16))
}
