package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envConfigDefaultPath = "WIREGATE_CONFIG_DEFAULT_PATH"
	defaultConfigName    = "config.yaml"
)

// Load builds configuration from defaults, optional config file, env vars, and returns the resolved path.
// Precedence: defaults < config file < env vars < caller overrides.
func Load(logger *zerolog.Logger, explicitPath string) (Config, string, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, cfg)

	v.SetEnvPrefix("WIREGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath := resolveConfigPath(explicitPath)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			if writeErr := writeDefaultConfig(configPath, cfg); writeErr != nil && logger != nil {
				logger.Warn().Err(writeErr).Str("path", configPath).Msg("failed to write default config")
			} else if logger != nil {
				logger.Info().Str("path", configPath).Msg("created default config")
			}
			// try reading again in case it was just written
			if readErr := v.ReadInConfig(); readErr != nil && logger != nil {
				logger.Warn().Err(readErr).Str("path", configPath).Msg("failed to read config after writing default")
			}
		} else {
			return cfg, configPath, fmt.Errorf("read config: %w", err)
		}
	}

	// Defaults are already seeded into v. Decoding into a zero value keeps
	// file lists from being merged over the default slices.
	var out Config
	if err := v.Unmarshal(&out); err != nil {
		return cfg, configPath, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := out.Validate(); err != nil {
		return out, configPath, err
	}

	return out, configPath, nil
}

// Validate rejects configurations the gateway cannot start with.
func (c Config) Validate() error {
	switch c.Users.Driver {
	case "sqlite3", "postgres", "":
	default:
		return fmt.Errorf("unsupported users.driver %q", c.Users.Driver)
	}
	for i, l := range c.Throttler.Limits {
		if l.Interval <= 0 || l.Max <= 0 || l.Penalty < 0 {
			return fmt.Errorf("throttler.limits[%d]: interval and max must be positive", i)
		}
	}
	if c.FreeSWITCH.Enabled && c.FreeSWITCH.Host == "" {
		return errors.New("freeswitch.host is required when freeswitch is enabled")
	}
	return nil
}

// env vars only override keys viper already knows about, so every leaf gets a default.
func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("addr", cfg.Addr)
	v.SetDefault("read_header_timeout", cfg.ReadHeaderTimeout)
	v.SetDefault("shutdown_timeout", cfg.ShutdownTimeout)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("notify_addr", cfg.NotifyAddr)

	v.SetDefault("memcached.servers", cfg.Memcached.Servers)
	v.SetDefault("memcached.timeout", cfg.Memcached.Timeout)

	v.SetDefault("users.driver", cfg.Users.Driver)
	v.SetDefault("users.dsn", cfg.Users.DSN)

	v.SetDefault("jwt.secret", cfg.JWT.Secret)
	v.SetDefault("jwt.issuer", cfg.JWT.Issuer)
	v.SetDefault("jwt.audience", cfg.JWT.Audience)

	v.SetDefault("throttler.max_age", cfg.Throttler.MaxAge)
	v.SetDefault("throttler.logging", cfg.Throttler.Logging)
	v.SetDefault("throttler.limits", cfg.Throttler.Limits)

	v.SetDefault("freeswitch.enabled", cfg.FreeSWITCH.Enabled)
	v.SetDefault("freeswitch.host", cfg.FreeSWITCH.Host)
	v.SetDefault("freeswitch.port", cfg.FreeSWITCH.Port)
	v.SetDefault("freeswitch.password", cfg.FreeSWITCH.Password)
	v.SetDefault("freeswitch.reconnect_timeout", cfg.FreeSWITCH.ReconnectTimeout)
	v.SetDefault("freeswitch.login_timeout", cfg.FreeSWITCH.LoginTimeout)
	v.SetDefault("freeswitch.api_timeout", cfg.FreeSWITCH.APITimeout)
}

func resolveConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}

	if base := os.Getenv(envConfigDefaultPath); base != "" {
		if err := os.MkdirAll(base, 0o755); err == nil {
			return filepath.Join(base, defaultConfigName)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return defaultConfigName
	}
	return filepath.Join(cwd, defaultConfigName)
}

func writeDefaultConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
