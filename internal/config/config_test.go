package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /tmp/pki.db
ca:
  key_password: secret
admin:
  password: s3cret
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, "/tmp/pki.db", cfg.DataSource())
	assert.Equal(t, 365, cfg.Policy.DefaultValidityDays)
	assert.True(t, cfg.Policy.RequireDeviceToken)
	assert.False(t, cfg.Policy.AutoSignEnabled)
	assert.Equal(t, "Device", cfg.Policy.DefaultDeviceType)
	assert.Equal(t, 24*time.Hour, cfg.GetSessionTTL())
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad driver", "database:\n  driver: mysql\n", "database.driver"},
		{"postgres without dsn", "database:\n  driver: postgres\n", "database.dsn"},
		{"negative validity", "policy:\n  default_validity_days: -1\n", "policy.default_validity_days"},
		{"max below default", "policy:\n  max_validity_days: 10\n", "policy.max_validity_days"},
		{"bad ttl", "admin:\n  session_ttl: forever\n", "admin.session_ttl"},
		{"bad log format", "logging:\n  format: xml\n", "logging.format"},
		{"bad trusted proxy", "server:\n  trusted_proxies: [\"proxy.local\"]\n", "server.trusted_proxies"},
		{"password too long for bcrypt", "admin:\n  password: " + strings.Repeat("x", 73) + "\n", "admin.password must be at most 72 bytes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestLoadWithEnvOverrides(t *testing.T) {
	path := writeConfig(t, "admin:\n  password: from-file\n")

	t.Setenv("PKI_DB_PATH", "/data/override.db")
	t.Setenv("PKI_ADMIN_PASSWORD", "from-env")
	t.Setenv("PKI_CA_KEY_PASSWORD", "key-pass")
	t.Setenv("PKI_AUTO_SIGN", "true")
	t.Setenv("PKI_REQUIRE_DEVICE_TOKEN", "false")
	t.Setenv("PKI_TRUSTED_PROXIES", "10.0.0.0/8,192.168.1.1")

	cfg, err := LoadWithEnv(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/override.db", cfg.Database.Path)
	assert.Equal(t, "from-env", cfg.Admin.Password)
	assert.Equal(t, "key-pass", cfg.CA.KeyPassword)
	assert.True(t, cfg.Policy.AutoSignEnabled)
	assert.False(t, cfg.Policy.RequireDeviceToken)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.1"}, cfg.Server.TrustedProxies)
	// untouched
	assert.Equal(t, ":8443", cfg.Server.ListenAddr)
}

func TestLoadWithEnvRejectsBadBool(t *testing.T) {
	path := writeConfig(t, "admin:\n  password: x\n")
	t.Setenv("PKI_AUTO_SIGN", "maybe")

	_, err := LoadWithEnv(path)
	assert.ErrorContains(t, err, "environment overrides")
}
