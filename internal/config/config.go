package config

import (
	"fmt"
	"net"
	"os"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	CA       CAConfig       `yaml:"ca"`
	Policy   PolicyConfig   `yaml:"policy"`
	Admin    AdminConfig    `yaml:"admin"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains server configuration
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`

	// TrustedProxies are addresses or CIDRs whose X-Forwarded-For is honored
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// DatabaseConfig contains database configuration
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite3 or postgres
	Path   string `yaml:"path"`   // sqlite3 file path
	DSN    string `yaml:"dsn"`    // postgres connection string
}

// CAConfig contains issuer certificate configuration
type CAConfig struct {
	CertPath    string `yaml:"cert_path"`
	KeyPath     string `yaml:"key_path"`
	KeyPassword string `yaml:"key_password"`
	ChainPath   string `yaml:"chain_path"`
}

// PolicyConfig contains certificate signing policy
type PolicyConfig struct {
	DefaultValidityDays int    `yaml:"default_validity_days"`
	MaxValidityDays     int    `yaml:"max_validity_days"`
	AutoSignEnabled     bool   `yaml:"auto_sign_enabled"`
	RequireDeviceToken  bool   `yaml:"require_device_token"`
	DefaultDeviceType   string `yaml:"default_device_type"`
	ExpiringWindowDays  int    `yaml:"expiring_window_days"`
}

// AdminConfig contains admin configuration
type AdminConfig struct {
	Password   string `yaml:"password"`
	TOTPSecret string `yaml:"totp_secret"`
	SessionTTL string `yaml:"session_ttl"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

const (
	defaultAdminPassword = "change-me"

	// bcrypt rejects longer secrets
	maxAdminPasswordBytes = 72
)

// Default returns a configuration with every optional field populated
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8443",
		},
		Database: DatabaseConfig{
			Driver: "sqlite3",
			Path:   "/var/lib/pki-server/pki.db",
		},
		CA: CAConfig{
			CertPath:  "/etc/pki-server/intermediate_ca.crt",
			KeyPath:   "/etc/pki-server/intermediate_ca_key",
			ChainPath: "/etc/pki-server/ca_chain.crt",
		},
		Policy: PolicyConfig{
			DefaultValidityDays: 365,
			MaxValidityDays:     3650,
			AutoSignEnabled:     false,
			RequireDeviceToken:  true,
			DefaultDeviceType:   "Device",
			ExpiringWindowDays:  30,
		},
		Admin: AdminConfig{
			Password:   defaultAdminPassword,
			SessionTTL: "24h",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Server validation
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	for _, p := range c.Server.TrustedProxies {
		if net.ParseIP(p) == nil {
			if _, _, err := net.ParseCIDR(p); err != nil {
				return fmt.Errorf("server.trusted_proxies: %q is not an IP address or CIDR", p)
			}
		}
	}

	// Database validation
	switch c.Database.Driver {
	case "sqlite3":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite3")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("database.driver must be 'sqlite3' or 'postgres'")
	}

	// CA validation
	if c.CA.CertPath == "" {
		return fmt.Errorf("ca.cert_path is required")
	}
	if c.CA.KeyPath == "" {
		return fmt.Errorf("ca.key_path is required")
	}
	if c.CA.ChainPath == "" {
		return fmt.Errorf("ca.chain_path is required")
	}

	// Policy validation
	if c.Policy.DefaultValidityDays <= 0 {
		return fmt.Errorf("policy.default_validity_days must be positive")
	}
	if c.Policy.MaxValidityDays < c.Policy.DefaultValidityDays {
		return fmt.Errorf("policy.max_validity_days must be >= policy.default_validity_days")
	}
	if c.Policy.DefaultDeviceType == "" {
		return fmt.Errorf("policy.default_device_type is required")
	}
	if c.Policy.ExpiringWindowDays < 0 {
		return fmt.Errorf("policy.expiring_window_days must not be negative")
	}

	// Admin validation
	if c.Admin.Password == "" {
		return fmt.Errorf("admin.password is required")
	}
	if len(c.Admin.Password) > maxAdminPasswordBytes {
		return fmt.Errorf("admin.password must be at most %d bytes", maxAdminPasswordBytes)
	}
	if c.Admin.Password == defaultAdminPassword {
		fmt.Fprintf(os.Stderr, "WARNING: Using default admin password. Please change it in production!\n")
	}
	if _, err := time.ParseDuration(c.Admin.SessionTTL); err != nil {
		return fmt.Errorf("admin.session_ttl is invalid: %w", err)
	}

	// Logging validation
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console'")
	}

	return nil
}

// GetSessionTTL returns the admin session lifetime as time.Duration
func (c *Config) GetSessionTTL() time.Duration {
	d, _ := time.ParseDuration(c.Admin.SessionTTL)
	return d
}

// DataSource returns the driver-specific connection string
func (c *Config) DataSource() string {
	if c.Database.Driver == "postgres" {
		return c.Database.DSN
	}
	return c.Database.Path
}
