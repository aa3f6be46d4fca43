package ca

import (
	"encoding/pem"

	"github.com/adamscao/pkiserver/internal/apperr"
)

// CertificateDER converts a PEM certificate to DER
func CertificateDER(certPEM string) ([]byte, error) {
	block, _ := pem.Decode([]byte(certPEM))
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, apperr.Validation("ca.CertificateDER", "no certificate PEM block found")
	}
	return block.Bytes, nil
}
