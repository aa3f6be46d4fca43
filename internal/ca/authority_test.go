package ca_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamscao/pkiserver/internal/apperr"
	"github.com/adamscao/pkiserver/internal/ca"
	"github.com/adamscao/pkiserver/internal/ca/catest"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0600))
	return path
}

func TestLoadCAEncryptedPKCS8(t *testing.T) {
	f := catest.New(t)

	info := f.Authority.Info()
	assert.Contains(t, info.Subject, "CN=Test Intermediate CA")
	assert.Contains(t, info.Issuer, "CN=Test Root CA")
	assert.Equal(t, "2", info.SerialNumber)
	assert.Greater(t, info.DaysUntilExpiry, 365)
	assert.Equal(t, string(f.ChainPEM), f.Authority.Chain())
	assert.True(t, f.Authority.Certificate().Equal(f.Intermediate))
}

func TestLoadCAWrongPassword(t *testing.T) {
	f := catest.New(t)

	_, err := ca.LoadCA(f.CertPath, f.KeyPath, "not-the-password", f.ChainPath)
	assert.ErrorIs(t, err, apperr.ErrConfig)

	_, err = ca.LoadCA(f.CertPath, f.KeyPath, "", f.ChainPath)
	assert.ErrorIs(t, err, apperr.ErrConfig)
}

func TestLoadCAMissingFiles(t *testing.T) {
	f := catest.New(t)
	missing := filepath.Join(t.TempDir(), "missing")

	for name, paths := range map[string][3]string{
		"cert":  {missing, f.KeyPath, f.ChainPath},
		"key":   {f.CertPath, missing, f.ChainPath},
		"chain": {f.CertPath, f.KeyPath, missing},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ca.LoadCA(paths[0], paths[1], catest.KeyPassword, paths[2])
			assert.ErrorIs(t, err, apperr.ErrConfig)
		})
	}
}

func TestLoadCAKeyMismatch(t *testing.T) {
	f := catest.New(t)

	other, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalECPrivateKey(other)
	require.NoError(t, err)
	keyPath := writeFile(t, t.TempDir(), "other.key", pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}))

	_, err = ca.LoadCA(f.CertPath, keyPath, "", f.ChainPath)
	assert.ErrorIs(t, err, apperr.ErrConfig)
	assert.ErrorContains(t, err, "does not match")
}

func TestLoadCAPlainAndLegacyKeys(t *testing.T) {
	f := catest.New(t)
	dir := t.TempDir()

	der, err := x509.MarshalECPrivateKey(f.Key)
	require.NoError(t, err)
	plain := writeFile(t, dir, "plain.key", pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}))

	_, err = ca.LoadCA(f.CertPath, plain, "", f.ChainPath)
	require.NoError(t, err)

	//nolint:staticcheck // exercising legacy openssl encryption
	block, err := x509.EncryptPEMBlock(rand.Reader, "EC PRIVATE KEY", der, []byte("legacy"), x509.PEMCipherAES256)
	require.NoError(t, err)
	legacy := writeFile(t, dir, "legacy.key", pem.EncodeToMemory(block))

	_, err = ca.LoadCA(f.CertPath, legacy, "legacy", f.ChainPath)
	require.NoError(t, err)

	_, err = ca.LoadCA(f.CertPath, legacy, "wrong", f.ChainPath)
	assert.ErrorIs(t, err, apperr.ErrConfig)
}

func TestLoadCAGarbageChain(t *testing.T) {
	f := catest.New(t)
	chain := writeFile(t, t.TempDir(), "chain.crt", []byte("not a certificate"))

	_, err := ca.LoadCA(f.CertPath, f.KeyPath, catest.KeyPassword, chain)
	assert.ErrorIs(t, err, apperr.ErrConfig)
}

func TestInfoDaysUntilExpiry(t *testing.T) {
	f := catest.New(t)
	f.Authority.SetClock(func() time.Time {
		return f.Intermediate.NotAfter.Add(-10*24*time.Hour - time.Minute)
	})

	assert.Equal(t, 10, f.Authority.Info().DaysUntilExpiry)
}
