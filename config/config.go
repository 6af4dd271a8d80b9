package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sagarc03/sitehost/database"
	sitehosthttp "github.com/sagarc03/sitehost/http"
	"github.com/sagarc03/sitehost/keybackend"
)

// configKey is the context key for storing the loaded configuration.
type configKey struct{}

// WithContext returns a new context with the config stored.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// FromContext retrieves the config from context.
// Returns an error if config is not found.
func FromContext(ctx context.Context) (*Config, error) {
	cfg, ok := ctx.Value(configKey{}).(*Config)
	if !ok || cfg == nil {
		return nil, errors.New("config not found in context")
	}
	return cfg, nil
}

// Config is the root configuration struct for sitehost.
type Config struct {
	Env       string                  `mapstructure:"env" validate:"oneof=dev prod"`
	Server    ServerConfig            `mapstructure:"server"`
	Service   ServiceConfig           `mapstructure:"service"`
	Database  database.Config         `mapstructure:"database"`
	Storage   StorageConfig           `mapstructure:"storage"`
	RateLimit RateLimitConfig         `mapstructure:"ratelimit"`
	Proxy     ProxyConfig             `mapstructure:"proxy"`
	Auth      AuthConfig              `mapstructure:"auth"`
	CORS      sitehosthttp.CORSConfig `mapstructure:"cors"`
	Log       LogConfig               `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,min=1,max=65535"`
	MaxUploadSize   int64         `mapstructure:"max_upload_size" validate:"min=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ServiceConfig holds service-level configuration.
type ServiceConfig struct {
	CleanupTimeout int `mapstructure:"cleanup_timeout" validate:"min=1"`
	BcryptCost     int `mapstructure:"bcrypt_cost" validate:"omitempty,min=4,max=31"`
}

// StorageConfig holds file storage configuration.
type StorageConfig struct {
	Path         string `mapstructure:"path" validate:"required"`
	DefaultQuota int64  `mapstructure:"default_quota" validate:"required,min=1"`
}

// RateLimitConfig holds the admission limiter configuration.
type RateLimitConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Window         time.Duration `mapstructure:"window"`
	MaxRequests    int           `mapstructure:"max_requests" validate:"min=0"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	Shards         int           `mapstructure:"shards" validate:"min=0"`
	TrustedProxies []string      `mapstructure:"trusted_proxies" validate:"dive,cidr|ip"`
}

// ProxyConfig holds reverse proxy configuration.
type ProxyConfig struct {
	Driver   string        `mapstructure:"driver" validate:"required,oneof=caddy memory"`
	Strategy string        `mapstructure:"strategy" validate:"required,oneof=declarative incremental"`
	AdminURL string        `mapstructure:"admin_url" validate:"required_if=Driver caddy"`
	Server   string        `mapstructure:"server" validate:"required"`
	Domain   string        `mapstructure:"domain" validate:"required,hostname_rfc1123"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// AuthConfig holds management API authentication configuration.
type AuthConfig struct {
	Required bool                  `mapstructure:"required"`
	Keys     keybackend.KeysConfig `mapstructure:",squash"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
}

// flagToViperKey maps CLI flag names to viper configuration keys.
var flagToViperKey = map[string]string{
	"db-type":      "database.type",
	"db-dsn":       "database.dsn",
	"storage-path": "storage.path",
	"port":         "server.port",
	"domain":       "proxy.domain",
	"proxy-driver": "proxy.driver",
	"admin-url":    "proxy.admin_url",
	"migrate":      "database.auto_migrate",
}

// bindFlags binds CLI flags to viper keys with custom name mapping.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		// Use custom mapping if it exists, otherwise use flag name as-is
		viperKey := f.Name
		if mapped, ok := flagToViperKey[viperKey]; ok {
			viperKey = mapped
		}

		// Only bind if the flag was explicitly set
		if f.Changed {
			_ = v.BindPFlag(viperKey, f)
		}
	})
}

// setDefaults configures default values on the viper instance.
func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "dev")

	v.SetDefault("server.port", 5709)
	v.SetDefault("server.max_upload_size", 0) // 0 means no limit
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("service.cleanup_timeout", 30) // seconds
	v.SetDefault("service.bcrypt_cost", 0)

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "sitehost.db")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.tables.sites", "sitehost_sites")

	v.SetDefault("storage.path", "./sites")
	v.SetDefault("storage.default_quota", 100<<20)

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.window", "1m")
	v.SetDefault("ratelimit.max_requests", 60)
	v.SetDefault("ratelimit.sweep_interval", "1m")
	v.SetDefault("ratelimit.shards", 64)
	v.SetDefault("ratelimit.trusted_proxies", []string{})

	v.SetDefault("proxy.driver", "caddy")
	v.SetDefault("proxy.strategy", "declarative")
	v.SetDefault("proxy.admin_url", "http://localhost:2019")
	v.SetDefault("proxy.server", "srv0")
	v.SetDefault("proxy.domain", "localhost.localdomain")
	v.SetDefault("proxy.timeout", "10s")

	v.SetDefault("auth.required", true)
	v.SetDefault("auth.keys_file", "")

	v.SetDefault("log.level", "info")
}

// Load reads configuration and returns a validated Config struct.
// Order of precedence (highest to lowest): flags > env > config files > defaults
//
// Parameters:
//   - configFiles: list of config file paths (later files override earlier ones)
//   - flags: cobra flag set for flag binding (can be nil)
func Load(configFiles []string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// 1. Set defaults
	setDefaults(v)

	// 2. Read config files
	if len(configFiles) > 0 {
		v.SetConfigFile(configFiles[0])
		if err := v.ReadInConfig(); err != nil {
			slog.Warn("error reading config file", "file", configFiles[0], "err", err)
		}

		for _, cf := range configFiles[1:] {
			v.SetConfigFile(cf)
			if err := v.MergeInConfig(); err != nil {
				slog.Warn("error merging config file", "file", cf, "err", err)
			}
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")

		if err := v.ReadInConfig(); err != nil {
			var configNotFound viper.ConfigFileNotFoundError
			if !errors.As(err, &configNotFound) {
				slog.Warn("error reading config file", "err", err)
			}
		}
	}

	// 3. Bind environment variables
	v.SetEnvPrefix("SITEHOST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Bind flags (if provided)
	if flags != nil {
		bindFlags(v, flags)
	}

	// 5. Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// 6. Validate using go-playground/validator
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	if err := cfg.Database.Tables.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}
