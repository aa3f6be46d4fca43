package config

import (
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// envPrefix namespaces environment overrides, e.g. PKI_DB_PATH
const envPrefix = "PKI"

// envOverrides lists the settings that may be replaced from the environment.
// Pointer fields stay nil when the variable is unset.
type envOverrides struct {
	DBDriver           *string  `envconfig:"DB_DRIVER"`
	DBPath             *string  `envconfig:"DB_PATH"`
	DBDSN              *string  `envconfig:"DB_DSN"`
	CACert             *string  `envconfig:"CA_CERT"`
	CAKey              *string  `envconfig:"CA_KEY"`
	CAKeyPassword      *string  `envconfig:"CA_KEY_PASSWORD"`
	CAChain            *string  `envconfig:"CA_CHAIN"`
	AdminPassword      *string  `envconfig:"ADMIN_PASSWORD"`
	AdminTOTPSecret    *string  `envconfig:"ADMIN_TOTP_SECRET"`
	ListenAddr         *string  `envconfig:"LISTEN_ADDR"`
	TrustedProxies     []string `envconfig:"TRUSTED_PROXIES"`
	AutoSign           *bool    `envconfig:"AUTO_SIGN"`
	RequireDeviceToken *bool    `envconfig:"REQUIRE_DEVICE_TOKEN"`
	LogLevel           *string  `envconfig:"LOG_LEVEL"`
}

// Load loads configuration from a YAML file on top of Default()
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadWithEnv loads configuration from a file and applies environment variable overrides
func LoadWithEnv(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}

	// Validate again after env overrides
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration after env overrides: %w", err)
	}

	return cfg, nil
}

// ApplyEnv copies every PKI_* variable that is set into cfg
func ApplyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process(envPrefix, &env); err != nil {
		return fmt.Errorf("failed to read environment overrides: %w", err)
	}

	setString(&cfg.Database.Driver, env.DBDriver)
	setString(&cfg.Database.Path, env.DBPath)
	setString(&cfg.Database.DSN, env.DBDSN)
	setString(&cfg.CA.CertPath, env.CACert)
	setString(&cfg.CA.KeyPath, env.CAKey)
	setString(&cfg.CA.KeyPassword, env.CAKeyPassword)
	setString(&cfg.CA.ChainPath, env.CAChain)
	setString(&cfg.Admin.Password, env.AdminPassword)
	setString(&cfg.Admin.TOTPSecret, env.AdminTOTPSecret)
	setString(&cfg.Server.ListenAddr, env.ListenAddr)
	setString(&cfg.Logging.Level, env.LogLevel)
	if len(env.TrustedProxies) > 0 {
		cfg.Server.TrustedProxies = env.TrustedProxies
	}

	if env.AutoSign != nil {
		cfg.Policy.AutoSignEnabled = *env.AutoSign
	}
	if env.RequireDeviceToken != nil {
		cfg.Policy.RequireDeviceToken = *env.RequireDeviceToken
	}

	return nil
}

func setString(dst *string, v *string) {
	if v != nil && *v != "" {
		*dst = *v
	}
}
