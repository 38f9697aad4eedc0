package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	NotifyAddr        string        `mapstructure:"notify_addr" yaml:"notify_addr"`

	Memcached  MemcachedConfig  `mapstructure:"memcached" yaml:"memcached"`
	Users      UsersConfig      `mapstructure:"users" yaml:"users"`
	JWT        JWTConfig        `mapstructure:"jwt" yaml:"jwt"`
	Throttler  ThrottlerConfig  `mapstructure:"throttler" yaml:"throttler"`
	FreeSWITCH FreeSWITCHConfig `mapstructure:"freeswitch" yaml:"freeswitch"`
}

// MemcachedConfig points at the session cache shared with the web application.
type MemcachedConfig struct {
	Servers []string      `mapstructure:"servers" yaml:"servers"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// UsersConfig selects the relational user store. Driver is "sqlite3" or "postgres".
type UsersConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	DSN    string `mapstructure:"dsn" yaml:"dsn"`
}

// JWTConfig enables bearer token identities when Secret is set.
type JWTConfig struct {
	Secret   string `mapstructure:"secret" yaml:"secret"`
	Issuer   string `mapstructure:"issuer" yaml:"issuer"`
	Audience string `mapstructure:"audience" yaml:"audience"`
}

// ThrottlerConfig is the rate limiter window table.
type ThrottlerConfig struct {
	MaxAge  time.Duration `mapstructure:"max_age" yaml:"max_age"`
	Logging bool          `mapstructure:"logging" yaml:"logging"`
	Limits  []LimitConfig `mapstructure:"limits" yaml:"limits"`
}

// LimitConfig is one throttling window.
type LimitConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	Max      int           `mapstructure:"max" yaml:"max"`
	Penalty  time.Duration `mapstructure:"penalty" yaml:"penalty"`
}

// FreeSWITCHConfig configures the event socket bridge.
type FreeSWITCHConfig struct {
	Enabled          bool          `mapstructure:"enabled" yaml:"enabled"`
	Host             string        `mapstructure:"host" yaml:"host"`
	Port             int           `mapstructure:"port" yaml:"port"`
	Password         string        `mapstructure:"password" yaml:"password"`
	ReconnectTimeout time.Duration `mapstructure:"reconnect_timeout" yaml:"reconnect_timeout"`
	LoginTimeout     time.Duration `mapstructure:"login_timeout" yaml:"login_timeout"`
	APITimeout       time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		NotifyAddr:        "127.0.0.1:9010",
		Memcached: MemcachedConfig{
			Servers: []string{"127.0.0.1:11211"},
			Timeout: 500 * time.Millisecond,
		},
		Users: UsersConfig{
			Driver: "sqlite3",
			DSN:    "wiregate.db",
		},
		Throttler: ThrottlerConfig{
			MaxAge:  10 * time.Minute,
			Logging: true,
			Limits: []LimitConfig{
				{Interval: 20 * time.Second, Max: 5, Penalty: time.Second},
				{Interval: 5 * time.Minute, Max: 60, Penalty: 5 * time.Second},
			},
		},
		FreeSWITCH: FreeSWITCHConfig{
			Enabled:          false,
			Host:             "localhost",
			Port:             8021,
			Password:         "ClueCon",
			ReconnectTimeout: 5 * time.Second,
			LoginTimeout:     time.Second,
			APITimeout:       time.Second,
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.NotifyAddr != "" {
		c.NotifyAddr = other.NotifyAddr
	}
}
