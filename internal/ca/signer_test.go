package ca_test

import (
	"crypto/x509"
	"encoding/asn1"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamscao/pkiserver/internal/apperr"
	"github.com/adamscao/pkiserver/internal/ca"
	"github.com/adamscao/pkiserver/internal/ca/catest"
	"github.com/adamscao/pkiserver/internal/models"
)

func TestParseCSR(t *testing.T) {
	csrPEM := catest.NewCSR(t, catest.CSROptions{
		CommonName: "TIANSHAN-01",
		IPs:        []string{"192.168.1.100"},
		DNS:        []string{"tianshan-01.local"},
	})

	info, err := ca.ParseCSR(csrPEM)
	require.NoError(t, err)
	assert.Equal(t, "TIANSHAN-01", info.CommonName)
	assert.Equal(t, []string{"192.168.1.100"}, info.SANIPs)
	assert.Equal(t, []string{"tianshan-01.local"}, info.SANDNS)
	assert.True(t, info.SignatureValid)
	assert.Equal(t, "ECDSA P-256", info.PublicKeyKind)

	info, err = ca.ParseCSR(catest.TamperCSR(t, csrPEM))
	require.NoError(t, err)
	assert.False(t, info.SignatureValid)
}

func TestParseCSRRejectsGarbage(t *testing.T) {
	for _, input := range []string{
		"",
		"hello",
		"-----BEGIN CERTIFICATE REQUEST-----\nAAAA\n-----END CERTIFICATE REQUEST-----\n",
		"-----BEGIN PUBLIC KEY-----\nAAAA\n-----END PUBLIC KEY-----\n",
	} {
		_, err := ca.ParseCSR(input)
		assert.ErrorIs(t, err, apperr.ErrValidation, "input %q", input)
	}
}

func TestParseCSRRejectsMalformedDNSNames(t *testing.T) {
	for _, name := range []string{"a.example,evil.example", "a example", "a/b"} {
		_, err := ca.ParseCSR(catest.NewCSR(t, catest.CSROptions{CommonName: "TIANSHAN-01", DNS: []string{name}}))
		assert.ErrorIs(t, err, apperr.ErrValidation, "dns %q", name)
	}
}

func TestSignCSRServerCertificate(t *testing.T) {
	f := catest.New(t)
	csrPEM := catest.NewCSR(t, catest.CSROptions{
		CommonName: "TIANSHAN-01",
		OU:         []string{"Requested", "Another"},
		IPs:        []string{"192.168.1.100"},
	})

	signed, err := f.Authority.SignCSR(ca.SignRequest{
		CSRPEM:       csrPEM,
		ValidityDays: 365,
		CertType:     models.CertTypeServer,
		DeviceType:   "Device",
		ExtraIPs:     []string{"192.168.1.100", "10.0.0.5"},
		ExtraDNS:     []string{"tianshan-01.local"},
	})
	require.NoError(t, err)

	cert := catest.ParseCert(t, signed.CertPEM)
	assert.Equal(t, "TIANSHAN-01", cert.Subject.CommonName)
	assert.Equal(t, []string{"Field Devices"}, cert.Subject.Organization)
	assert.Equal(t, []string{"Device"}, cert.Subject.OrganizationalUnit)

	var ips []string
	for _, ip := range cert.IPAddresses {
		ips = append(ips, ip.String())
	}
	assert.Equal(t, []string{"192.168.1.100", "10.0.0.5"}, ips)
	assert.Equal(t, []string{"tianshan-01.local"}, cert.DNSNames)

	assert.Equal(t, 365*24*time.Hour, cert.NotAfter.Sub(cert.NotBefore))
	assert.Equal(t, signed.NotBefore, cert.NotBefore)
	assert.Equal(t, signed.NotAfter, cert.NotAfter)
	assert.Equal(t, "TIANSHAN-01", signed.CommonName)

	assert.Regexp(t, `^[0-9A-F]+$`, signed.SerialNumber)
	assert.Equal(t, signed.SerialNumber, upperHex(cert))

	assert.False(t, cert.IsCA)
	assert.True(t, cert.BasicConstraintsValid)
	assert.Equal(t, x509.KeyUsageDigitalSignature|x509.KeyUsageKeyEncipherment, cert.KeyUsage)
	assert.ElementsMatch(t, []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth}, cert.ExtKeyUsage)
	assert.Equal(t, f.Intermediate.SubjectKeyId, cert.AuthorityKeyId)
	assert.Equal(t, x509.ECDSAWithSHA256, cert.SignatureAlgorithm)

	roots, intermediates := f.Pool()
	_, err = cert.Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	})
	assert.NoError(t, err)
}

func upperHex(cert *x509.Certificate) string {
	return strings.ToUpper(cert.SerialNumber.Text(16))
}

func TestSignCSRKeyUsageByType(t *testing.T) {
	f := catest.New(t)
	csrPEM := catest.NewCSR(t, catest.CSROptions{CommonName: "OPS-LAPTOP"})

	tests := []struct {
		certType models.CertType
		usage    x509.KeyUsage
		ext      []x509.ExtKeyUsage
	}{
		{models.CertTypeClient, x509.KeyUsageDigitalSignature, []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}},
		{models.CertTypeBoth, x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
			[]x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth}},
	}

	for _, tt := range tests {
		t.Run(string(tt.certType), func(t *testing.T) {
			signed, err := f.Authority.SignCSR(ca.SignRequest{
				CSRPEM:       csrPEM,
				ValidityDays: 30,
				CertType:     tt.certType,
				DeviceType:   "Operator",
			})
			require.NoError(t, err)

			cert := catest.ParseCert(t, signed.CertPEM)
			assert.Equal(t, tt.usage, cert.KeyUsage)
			assert.ElementsMatch(t, tt.ext, cert.ExtKeyUsage)
			assert.Equal(t, []string{"Operator"}, cert.Subject.OrganizationalUnit)
		})
	}
}

func TestSignCSRFixedClock(t *testing.T) {
	f := catest.New(t)
	now := time.Date(2026, 3, 1, 12, 30, 45, 999, time.UTC)
	f.Authority.SetClock(func() time.Time { return now })

	signed, err := f.Authority.SignCSR(ca.SignRequest{
		CSRPEM:       catest.NewCSR(t, catest.CSROptions{CommonName: "KUNLUN-02"}),
		ValidityDays: 7,
		CertType:     models.CertTypeServer,
		DeviceType:   "Device",
	})
	require.NoError(t, err)

	assert.True(t, now.Truncate(time.Second).Equal(signed.NotBefore), "not before %s", signed.NotBefore)
	assert.True(t, now.Truncate(time.Second).Add(7*24*time.Hour).Equal(signed.NotAfter), "not after %s", signed.NotAfter)
}

func TestSignCSRSerialsAreUnique(t *testing.T) {
	f := catest.New(t)
	csrPEM := catest.NewCSR(t, catest.CSROptions{CommonName: "TIANSHAN-01"})

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		signed, err := f.Authority.SignCSR(ca.SignRequest{CSRPEM: csrPEM, ValidityDays: 1, DeviceType: "Device"})
		require.NoError(t, err)
		assert.False(t, seen[signed.SerialNumber], "duplicate serial %s", signed.SerialNumber)
		seen[signed.SerialNumber] = true
	}
}

func TestSignCSRErrors(t *testing.T) {
	f := catest.New(t)
	csrPEM := catest.NewCSR(t, catest.CSROptions{CommonName: "TIANSHAN-01"})
	commaPEM := catest.NewCSR(t, catest.CSROptions{CommonName: "TIANSHAN-01", DNS: []string{"a.example,evil.example"}})

	tests := []struct {
		name string
		req  ca.SignRequest
		kind error
	}{
		{"tampered signature", ca.SignRequest{CSRPEM: catest.TamperCSR(t, csrPEM), ValidityDays: 30, DeviceType: "Device"}, apperr.ErrSignature},
		{"garbage csr", ca.SignRequest{CSRPEM: "nope", ValidityDays: 30, DeviceType: "Device"}, apperr.ErrValidation},
		{"zero validity", ca.SignRequest{CSRPEM: csrPEM, ValidityDays: 0, DeviceType: "Device"}, apperr.ErrValidation},
		{"bad extra ip", ca.SignRequest{CSRPEM: csrPEM, ValidityDays: 30, DeviceType: "Device", ExtraIPs: []string{"300.1.1.1"}}, apperr.ErrValidation},
		{"bad extra dns", ca.SignRequest{CSRPEM: csrPEM, ValidityDays: 30, DeviceType: "Device", ExtraDNS: []string{"a b"}}, apperr.ErrValidation},
		{"comma in csr dns", ca.SignRequest{CSRPEM: commaPEM, ValidityDays: 30, DeviceType: "Device"}, apperr.ErrValidation},
		{"unknown type", ca.SignRequest{CSRPEM: csrPEM, ValidityDays: 30, DeviceType: "Device", CertType: "ca"}, apperr.ErrValidation},
		{"missing device type", ca.SignRequest{CSRPEM: csrPEM, ValidityDays: 30}, apperr.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.Authority.SignCSR(tt.req)
			assert.ErrorIs(t, err, tt.kind)
		})
	}
}

func TestSignCSRBasicConstraintsCritical(t *testing.T) {
	f := catest.New(t)

	signed, err := f.Authority.SignCSR(ca.SignRequest{
		CSRPEM:       catest.NewCSR(t, catest.CSROptions{CommonName: "EVIL"}),
		ValidityDays: 30,
		DeviceType:   "Device",
	})
	require.NoError(t, err)

	cert := catest.ParseCert(t, signed.CertPEM)
	assert.False(t, cert.IsCA)
	for _, ext := range cert.Extensions {
		if ext.Id.Equal(asn1.ObjectIdentifier{2, 5, 29, 19}) {
			assert.True(t, ext.Critical)
		}
	}
}

func TestSANList(t *testing.T) {
	var l ca.SANList
	l, err := l.AddIP("10.0.0.1")
	require.NoError(t, err)
	l, err = l.AddIP(" 10.0.0.1 ")
	require.NoError(t, err)
	l, err = l.AddDNS("device.local")
	require.NoError(t, err)
	l = l.Add(ca.SAN{Kind: ca.SANDNS, Value: "device.local"})

	assert.Len(t, l, 2)
	assert.Equal(t, []string{"device.local"}, l.DNSNames())
	require.Len(t, l.IPs(), 1)
	assert.Equal(t, "10.0.0.1", l.IPs()[0].String())

	_, err = l.AddIP("not-an-ip")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
