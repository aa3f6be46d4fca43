package ca

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/youmark/pkcs8"
)

const (
	pemTypeEncryptedPKCS8 = "ENCRYPTED PRIVATE KEY"
	pemTypePKCS8          = "PRIVATE KEY"
	pemTypeEC             = "EC PRIVATE KEY"
	pemTypeRSA            = "RSA PRIVATE KEY"

	passwordLength = 12 // bytes; 16 base64url characters
)

// decodePrivateKey decodes an issuer key in any of the PEM encodings step-ca
// and openssl produce: encrypted PKCS#8, legacy encrypted PEM, or plain.
func decodePrivateKey(data []byte, password string) (crypto.Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	var (
		parsed any
		err    error
	)
	switch {
	case block.Type == pemTypeEncryptedPKCS8:
		if password == "" {
			return nil, errors.New("key is encrypted but no password was configured")
		}
		parsed, err = pkcs8.ParsePKCS8PrivateKey(block.Bytes, []byte(password))
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt PKCS#8 key: %w", err)
		}
	case x509.IsEncryptedPEMBlock(block): //nolint:staticcheck // legacy openssl keys
		der, err := x509.DecryptPEMBlock(block, []byte(password)) //nolint:staticcheck
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt PEM key: %w", err)
		}
		parsed, err = parseKeyDER(block.Type, der)
		if err != nil {
			return nil, err
		}
	default:
		parsed, err = parseKeyDER(block.Type, block.Bytes)
		if err != nil {
			return nil, err
		}
	}

	signer, ok := parsed.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("unsupported private key type %T", parsed)
	}
	return signer, nil
}

func parseKeyDER(pemType string, der []byte) (any, error) {
	switch pemType {
	case pemTypeEC:
		return x509.ParseECPrivateKey(der)
	case pemTypeRSA:
		return x509.ParsePKCS1PrivateKey(der)
	case pemTypePKCS8:
		return x509.ParsePKCS8PrivateKey(der)
	default:
		return nil, fmt.Errorf("unsupported PEM block type %q", pemType)
	}
}

// keyMatches reports whether signer is the private half of pub
func keyMatches(signer crypto.Signer, pub crypto.PublicKey) bool {
	type equaler interface {
		Equal(crypto.PublicKey) bool
	}
	eq, ok := signer.Public().(equaler)
	return ok && eq.Equal(pub)
}

// signatureAlgorithm picks the SHA-256 variant matching the issuer key
func signatureAlgorithm(signer crypto.Signer) (x509.SignatureAlgorithm, error) {
	switch signer.Public().(type) {
	case *ecdsa.PublicKey:
		return x509.ECDSAWithSHA256, nil
	case *rsa.PublicKey:
		return x509.SHA256WithRSA, nil
	case ed25519.PublicKey:
		return x509.PureEd25519, nil
	default:
		return x509.UnknownSignatureAlgorithm, fmt.Errorf("unsupported issuer key type %T", signer.Public())
	}
}

// publicKeyKind describes a public key for display
func publicKeyKind(pub any) string {
	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		return "ECDSA " + k.Curve.Params().Name
	case *rsa.PublicKey:
		return fmt.Sprintf("RSA %d", k.N.BitLen())
	case ed25519.PublicKey:
		return "Ed25519"
	default:
		return fmt.Sprintf("%T", pub)
	}
}

// generateClientKey generates the P-256 key pair for a client certificate
func generateClientKey() (*ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ECDSA key pair: %w", err)
	}
	return key, nil
}

// encodePrivateKeyPEM encodes key as unencrypted PKCS#8 PEM
func encodePrivateKeyPEM(key any) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", fmt.Errorf("failed to marshal private key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: pemTypePKCS8, Bytes: der})), nil
}

// randomPassword returns a URL-safe random password
func randomPassword() (string, error) {
	b := make([]byte, passwordLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
