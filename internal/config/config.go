// Package config loads the host bootstrap configuration: which engine
// options to construct with. It never parses the policy bundle itself,
// which is wire-exact JSON handled by pkg/bundle.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all bootstrap configuration for constructing an engine.
type Config struct {
	Policy     PolicyConfig     `mapstructure:"policy"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// PolicyConfig locates the policy bundle and, optionally, its signing
// secret.
type PolicyConfig struct {
	BundlePath    string `mapstructure:"bundle_path"`
	SecretEnvVar  string `mapstructure:"secret_env_var"`
	BaseDir       string `mapstructure:"base_dir"`
}

// EngineConfig holds the non-plugin engine options.
type EngineConfig struct {
	DefaultEnvironment string `mapstructure:"default_environment"`
	DefaultOwner       string `mapstructure:"default_owner"`
	ApprovalTimeoutMs  int    `mapstructure:"approval_timeout_ms"`
	MaxAuditLogSize    int    `mapstructure:"max_audit_log_size"`
}

// PostgresConfig enables the optional kill-switch persistence adapter.
type PostgresConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

// TelemetryConfig enables the optional OTEL metrics provider.
type TelemetryConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
}

// Load reads configuration from path (if non-empty), standard config
// locations otherwise, then environment variables prefixed AGENTGUARD_.
// A config file that does not exist leaves the defaults in place.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("agentguard")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/agentguard")
		v.AddConfigPath("$HOME/.agentguard")

		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("AGENTGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("policy.bundle_path", "./policy.json")
	v.SetDefault("policy.secret_env_var", "AGENTGUARD_POLICY_SECRET")

	v.SetDefault("engine.default_environment", "production")
	v.SetDefault("engine.approval_timeout_ms", 30000)
	v.SetDefault("engine.max_audit_log_size", 10000)

	v.SetDefault("postgres.enabled", false)
	v.SetDefault("postgres.sslmode", "disable")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "agentguard")
}
