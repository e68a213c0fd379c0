// Package config loads the service configuration from an optional YAML
// file with environment-variable overrides.
package config

import (
	"errors"
	"time"
)

// HTTPCfg configures the public API listener.
type HTTPCfg struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	OpsAddr         string        `mapstructure:"ops_addr"`
}

// DBCfg configures the Postgres user store.
type DBCfg struct {
	DSN               string        `mapstructure:"dsn"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	QueryTimeout      time.Duration `mapstructure:"query_timeout"`
}

// RedisCfg configures the shared Redis backend used by the refresh
// registry, reset store, and rate limiter.
type RedisCfg struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTCfg configures token signing and lifetimes.
type JWTCfg struct {
	Secret     string        `mapstructure:"secret"`
	AccessTTL  time.Duration `mapstructure:"access_ttl"`
	RefreshTTL time.Duration `mapstructure:"refresh_ttl"`
	Issuer     string        `mapstructure:"issuer"`
	Leeway     time.Duration `mapstructure:"leeway"`
}

// ResetCfg configures password-reset tokens.
type ResetCfg struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// RateWindowCfg is one fixed-window ceiling.
type RateWindowCfg struct {
	Max    int           `mapstructure:"max"`
	Period time.Duration `mapstructure:"period"`
}

// RateCfg configures the per-scope throttle windows.
type RateCfg struct {
	Login         RateWindowCfg `mapstructure:"login"`
	PasswordReset RateWindowCfg `mapstructure:"password_reset"`
	Critical      RateWindowCfg `mapstructure:"critical"`
	Anon          RateWindowCfg `mapstructure:"anon"`
}

// Config is the full service configuration.
type Config struct {
	Env      string   `mapstructure:"env"`
	LogLevel string   `mapstructure:"log_level"`
	DevMode  bool     `mapstructure:"dev_mode"`
	HTTP     HTTPCfg  `mapstructure:"http"`
	DB       DBCfg    `mapstructure:"db"`
	Redis    RedisCfg `mapstructure:"redis"`
	JWT      JWTCfg   `mapstructure:"jwt"`
	Reset    ResetCfg `mapstructure:"reset"`
	Rate     RateCfg  `mapstructure:"rate"`
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return errors.New("jwt.secret is required")
	}
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 {
		return errors.New("jwt TTLs must be positive")
	}
	if c.Reset.TTL <= 0 {
		return errors.New("reset.ttl must be positive")
	}
	return nil
}
