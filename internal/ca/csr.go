package ca

import (
	"crypto/x509"
	"encoding/pem"
	"net"
	"strings"

	"github.com/adamscao/pkiserver/internal/apperr"
)

// SANKind tags a subject alternative name
type SANKind int

const (
	SANIP SANKind = iota + 1
	SANDNS
)

// SAN is a single subject alternative name
type SAN struct {
	Kind  SANKind
	Value string
}

// SANList is an ordered set of SANs; Add drops duplicates.
type SANList []SAN

// Add appends san unless an equal entry is present
func (l SANList) Add(san SAN) SANList {
	for _, existing := range l {
		if existing == san {
			return l
		}
	}
	return append(l, san)
}

// AddIP parses and appends an IP SAN
func (l SANList) AddIP(value string) (SANList, error) {
	ip := net.ParseIP(strings.TrimSpace(value))
	if ip == nil {
		return l, apperr.Validation("ca.SAN", "invalid IP address %q", value)
	}
	return l.Add(SAN{Kind: SANIP, Value: ip.String()}), nil
}

// AddDNS validates and appends a DNS SAN
func (l SANList) AddDNS(value string) (SANList, error) {
	name := strings.TrimSpace(value)
	if !validDNSName(name) {
		return l, apperr.Validation("ca.SAN", "invalid DNS name %q", value)
	}
	return l.Add(SAN{Kind: SANDNS, Value: name}), nil
}

// validDNSName rejects names that cannot round-trip through the request
// store, which keeps SANs as comma-joined text.
func validDNSName(name string) bool {
	return name != "" && !strings.ContainsAny(name, " \t\r\n,/")
}

// IPs returns the IP entries in order
func (l SANList) IPs() []net.IP {
	var ips []net.IP
	for _, s := range l {
		if s.Kind == SANIP {
			ips = append(ips, net.ParseIP(s.Value))
		}
	}
	return ips
}

// DNSNames returns the DNS entries in order
func (l SANList) DNSNames() []string {
	var names []string
	for _, s := range l {
		if s.Kind == SANDNS {
			names = append(names, s.Value)
		}
	}
	return names
}

// CSRInfo is what a CSR declares about its subject
type CSRInfo struct {
	CommonName     string   `json:"common_name"`
	SANIPs         []string `json:"san_ips"`
	SANDNS         []string `json:"san_dns"`
	SignatureValid bool     `json:"signature_valid"`
	PublicKeyKind  string   `json:"public_key_kind"`
}

// ParseCSR decodes a PEM certificate request and reports its subject, SANs
// and whether its self-signature verifies.
func ParseCSR(csrPEM string) (*CSRInfo, error) {
	csr, err := decodeCSR(csrPEM)
	if err != nil {
		return nil, err
	}

	sans, err := csrSANs(csr)
	if err != nil {
		return nil, err
	}

	info := &CSRInfo{
		CommonName:     csr.Subject.CommonName,
		SANDNS:         sans.DNSNames(),
		SignatureValid: csr.CheckSignature() == nil,
		PublicKeyKind:  publicKeyKind(csr.PublicKey),
	}
	for _, ip := range sans.IPs() {
		info.SANIPs = append(info.SANIPs, ip.String())
	}
	return info, nil
}

// csrSANs collects the SANs a CSR declares. DNS names are taken verbatim and
// must already be well formed.
func csrSANs(csr *x509.CertificateRequest) (SANList, error) {
	var sans SANList
	for _, ip := range csr.IPAddresses {
		sans = sans.Add(SAN{Kind: SANIP, Value: ip.String()})
	}
	for _, name := range csr.DNSNames {
		if !validDNSName(name) {
			return nil, apperr.Validation("ca.ParseCSR", "invalid DNS name %q in CSR", name)
		}
		sans = sans.Add(SAN{Kind: SANDNS, Value: name})
	}
	return sans, nil
}

func decodeCSR(csrPEM string) (*x509.CertificateRequest, error) {
	const op = "ca.ParseCSR"

	block, _ := pem.Decode([]byte(strings.TrimSpace(csrPEM)))
	if block == nil {
		return nil, apperr.Validation(op, "invalid CSR: no PEM block found")
	}
	if block.Type != "CERTIFICATE REQUEST" && block.Type != "NEW CERTIFICATE REQUEST" {
		return nil, apperr.Validation(op, "invalid CSR: unexpected PEM block %q", block.Type)
	}

	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return nil, apperr.New(apperr.ErrValidation, op, "invalid CSR: %v", err)
	}
	return csr, nil
}
