package ca

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"strings"
	"time"

	"software.sslmate.com/src/go-pkcs12"

	"github.com/adamscao/pkiserver/internal/apperr"
)

// ClientCertRequest describes an operator client certificate
type ClientCertRequest struct {
	CommonName   string
	ValidityDays int
	Email        string
	Role         string // becomes the subject OU
}

// ClientBundle is a server-generated client certificate with its key
type ClientBundle struct {
	CertPEM        string
	KeyPEM         string
	SerialNumber   string
	NotBefore      time.Time
	NotAfter       time.Time
	PKCS12Base64   string
	PKCS12Password string
}

// GenerateClientCertificate creates a fresh P-256 key and a clientAuth-only
// certificate for it, packaged as PEM and as a password-protected PKCS#12.
func (a *Authority) GenerateClientCertificate(req ClientCertRequest) (*ClientBundle, error) {
	const op = "ca.GenerateClientCertificate"

	if strings.TrimSpace(req.CommonName) == "" {
		return nil, apperr.Validation(op, "common name is required")
	}
	if req.ValidityDays <= 0 {
		return nil, apperr.Validation(op, "validity_days must be positive, got %d", req.ValidityDays)
	}
	if req.Role == "" {
		return nil, apperr.Validation(op, "role is required")
	}

	key, err := generateClientKey()
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrSigning, op, err, "key generation failed")
	}

	subject := pkix.Name{
		CommonName:         req.CommonName,
		OrganizationalUnit: []string{req.Role},
	}
	if req.Email != "" {
		subject.ExtraNames = append(subject.ExtraNames, pkix.AttributeTypeAndValue{
			Type:  oidEmailAddress,
			Value: req.Email,
		})
	}

	sigAlg, err := signatureAlgorithm(a.key)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrSigning, op, err, "unsupported CA key")
	}
	serial, err := randomSerial()
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrSigning, op, err, "failed to generate serial number")
	}

	now := a.now().UTC().Truncate(time.Second)
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               subject,
		NotBefore:             now,
		NotAfter:              now.Add(time.Duration(req.ValidityDays) * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		AuthorityKeyId:        a.cert.SubjectKeyId,
		SignatureAlgorithm:    sigAlg,
	}

	signed, err := a.issue(op, template, &key.PublicKey)
	if err != nil {
		return nil, err
	}

	keyPEM, err := encodePrivateKeyPEM(key)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrSigning, op, err, "failed to encode key")
	}

	p12, password, err := a.EncodePKCS12(signed.CertPEM, keyPEM)
	if err != nil {
		return nil, err
	}

	return &ClientBundle{
		CertPEM:        signed.CertPEM,
		KeyPEM:         keyPEM,
		SerialNumber:   signed.SerialNumber,
		NotBefore:      signed.NotBefore,
		NotAfter:       signed.NotAfter,
		PKCS12Base64:   p12,
		PKCS12Password: password,
	}, nil
}

// EncodePKCS12 packages a leaf, its key and the CA chain into a PKCS#12
// archive protected by a fresh random password. The archive is returned
// base64-encoded.
func (a *Authority) EncodePKCS12(certPEM, keyPEM string) (archive, password string, err error) {
	const op = "ca.EncodePKCS12"

	certs, err := parseCertificates([]byte(certPEM))
	if err != nil {
		return "", "", apperr.Wrap(apperr.ErrValidation, op, err, "invalid certificate")
	}
	key, err := decodePrivateKey([]byte(keyPEM), "")
	if err != nil {
		return "", "", apperr.Wrap(apperr.ErrValidation, op, err, "invalid private key")
	}

	password, err = randomPassword()
	if err != nil {
		return "", "", apperr.Wrap(apperr.ErrSigning, op, err, "failed to generate PKCS#12 password")
	}

	der, err := pkcs12.Modern.Encode(key, certs[0], a.bundleCerts(), password)
	if err != nil {
		return "", "", apperr.Wrap(apperr.ErrSigning, op, err, "failed to encode PKCS#12")
	}

	return base64.StdEncoding.EncodeToString(der), password, nil
}
