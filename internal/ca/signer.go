package ca

import (
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"math/big"
	"time"

	"github.com/adamscao/pkiserver/internal/apperr"
	"github.com/adamscao/pkiserver/internal/models"
)

var (
	oidOrganizationalUnit = asn1.ObjectIdentifier{2, 5, 4, 11}
	oidEmailAddress       = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 1}

	serialLimit = new(big.Int).Lsh(big.NewInt(1), 128)
)

// SignRequest carries everything needed to issue a leaf from a CSR
type SignRequest struct {
	CSRPEM       string
	ValidityDays int
	CertType     models.CertType
	DeviceType   string // becomes the subject OU
	ExtraIPs     []string
	ExtraDNS     []string
}

// SignedCertificate is an issued leaf
type SignedCertificate struct {
	CertPEM      string
	SerialNumber string
	CommonName   string
	NotBefore    time.Time
	NotAfter     time.Time
}

// SignCSR issues a certificate for the CSR's public key. The subject is the
// CSR subject with every OU replaced by DeviceType; SANs are the CSR SANs
// plus the extras, de-duplicated.
func (a *Authority) SignCSR(req SignRequest) (*SignedCertificate, error) {
	const op = "ca.SignCSR"

	if req.ValidityDays <= 0 {
		return nil, apperr.Validation(op, "validity_days must be positive, got %d", req.ValidityDays)
	}
	if req.DeviceType == "" {
		return nil, apperr.Validation(op, "device type is required")
	}
	keyUsage, extKeyUsage, err := usageFor(req.CertType)
	if err != nil {
		return nil, err
	}

	csr, err := decodeCSR(req.CSRPEM)
	if err != nil {
		return nil, err
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, apperr.Wrap(apperr.ErrSignature, op, err, "CSR signature verification failed")
	}

	subject, err := replaceOU(csr.RawSubject, req.DeviceType)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrValidation, op, err, "invalid CSR subject")
	}

	sans, err := csrSANs(csr)
	if err != nil {
		return nil, err
	}
	for _, ip := range req.ExtraIPs {
		if sans, err = sans.AddIP(ip); err != nil {
			return nil, err
		}
	}
	for _, name := range req.ExtraDNS {
		if sans, err = sans.AddDNS(name); err != nil {
			return nil, err
		}
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
		RawSubject:            subject,
		NotBefore:             now,
		NotAfter:              now.Add(time.Duration(req.ValidityDays) * 24 * time.Hour),
		KeyUsage:              keyUsage,
		ExtKeyUsage:           extKeyUsage,
		BasicConstraintsValid: true,
		IsCA:                  false,
		IPAddresses:           sans.IPs(),
		DNSNames:              sans.DNSNames(),
		AuthorityKeyId:        a.cert.SubjectKeyId,
		SignatureAlgorithm:    sigAlg,
	}

	return a.issue(op, template, csr.PublicKey)
}

// issue signs template for pub and reads the result back
func (a *Authority) issue(op string, template *x509.Certificate, pub any) (*SignedCertificate, error) {
	der, err := x509.CreateCertificate(rand.Reader, template, a.cert, pub, a.key)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrSigning, op, err, "failed to sign certificate")
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrSigning, op, err, "failed to parse issued certificate")
	}

	return &SignedCertificate{
		CertPEM:      string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})),
		SerialNumber: serialHex(cert),
		CommonName:   cert.Subject.CommonName,
		NotBefore:    cert.NotBefore,
		NotAfter:     cert.NotAfter,
	}, nil
}

// usageFor maps a certificate type to its key usage profile
func usageFor(t models.CertType) (x509.KeyUsage, []x509.ExtKeyUsage, error) {
	switch t {
	case models.CertTypeServer, "":
		return x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
			[]x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth}, nil
	case models.CertTypeClient:
		return x509.KeyUsageDigitalSignature,
			[]x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}, nil
	case models.CertTypeBoth:
		return x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
			[]x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth}, nil
	default:
		return 0, nil, apperr.Validation("ca.SignCSR", "unknown cert_type %q", t)
	}
}

// replaceOU drops every OU attribute from a DER subject and appends ou as
// the last RDN. Other attributes keep their order and encoding.
func replaceOU(rawSubject []byte, ou string) ([]byte, error) {
	var rdns pkix.RDNSequence
	rest, err := asn1.Unmarshal(rawSubject, &rdns)
	if err != nil {
		return nil, err
	}
	if len(rest) > 0 {
		return nil, asn1.SyntaxError{Msg: "trailing data after subject"}
	}

	out := make(pkix.RDNSequence, 0, len(rdns)+1)
	for _, rdn := range rdns {
		var kept pkix.RelativeDistinguishedNameSET
		for _, atv := range rdn {
			if !atv.Type.Equal(oidOrganizationalUnit) {
				kept = append(kept, atv)
			}
		}
		if len(kept) > 0 {
			out = append(out, kept)
		}
	}
	out = append(out, pkix.RelativeDistinguishedNameSET{
		{Type: oidOrganizationalUnit, Value: ou},
	})

	return asn1.Marshal(out)
}

func randomSerial() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, serialLimit)
	if err != nil {
		return nil, err
	}
	if serial.Sign() == 0 {
		serial.SetInt64(1)
	}
	return serial, nil
}
