package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "LINKSTASH"

// DevJWTSecret is used when no secret is configured outside release mode
const DevJWTSecret = "linkstash-dev-secret-change-in-production"

// Config holds server configuration
type Config struct {
	Port     string
	GinMode  string
	LogLevel string
	// LogFormat is "json" or "console"
	LogFormat string

	DatabaseDriver  string
	DatabaseDSN     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	JWTSecret string
	TokenTTL  time.Duration

	ScraperTimeout      time.Duration
	ScraperUserAgent    string
	ScraperMaxBodyBytes int64
	// ScraperAllowPrivateNetworks lets the scraper fetch internal addresses
	ScraperAllowPrivateNetworks bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("GIN_MODE", "debug")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("DATABASE_DRIVER", "sqlite")
	v.SetDefault("DATABASE_DSN", "linkstash.db")
	v.SetDefault("DATABASE_MAX_OPEN_CONNS", 10)
	v.SetDefault("DATABASE_MAX_IDLE_CONNS", 5)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", "30m")

	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("TOKEN_TTL", "168h")

	v.SetDefault("SCRAPER_TIMEOUT", "8s")
	v.SetDefault("SCRAPER_USER_AGENT", "Mozilla/5.0 (compatible; Linkstash/1.0; +https://github.com/mikepea/linkstash)")
	v.SetDefault("SCRAPER_MAX_BODY_BYTES", 2<<20)
	v.SetDefault("SCRAPER_ALLOW_PRIVATE_NETWORKS", false)
}

// Load reads configuration from an optional .env file and the environment.
// Variables are read with the LINKSTASH_ prefix, e.g. LINKSTASH_PORT.
// The unprefixed PORT is honored as a fallback for hosting platforms.
func Load() (*Config, error) {
	// .env is optional and never overrides variables already set
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	_ = v.BindEnv("PORT", envPrefix+"_PORT", "PORT")

	cfg := &Config{
		Port:      v.GetString("PORT"),
		GinMode:   v.GetString("GIN_MODE"),
		LogLevel:  v.GetString("LOG_LEVEL"),
		LogFormat: v.GetString("LOG_FORMAT"),

		DatabaseDriver:  strings.ToLower(v.GetString("DATABASE_DRIVER")),
		DatabaseDSN:     v.GetString("DATABASE_DSN"),
		MaxOpenConns:    v.GetInt("DATABASE_MAX_OPEN_CONNS"),
		MaxIdleConns:    v.GetInt("DATABASE_MAX_IDLE_CONNS"),
		ConnMaxLifetime: v.GetDuration("DATABASE_CONN_MAX_LIFETIME"),

		JWTSecret: v.GetString("JWT_SECRET"),
		TokenTTL:  v.GetDuration("TOKEN_TTL"),

		ScraperTimeout:      v.GetDuration("SCRAPER_TIMEOUT"),
		ScraperUserAgent:    v.GetString("SCRAPER_USER_AGENT"),
		ScraperMaxBodyBytes: v.GetInt64("SCRAPER_MAX_BODY_BYTES"),

		ScraperAllowPrivateNetworks: v.GetBool("SCRAPER_ALLOW_PRIVATE_NETWORKS"),
	}

	if cfg.JWTSecret == "" && cfg.GinMode != "release" {
		cfg.JWTSecret = DevJWTSecret
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the server cannot start with
func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("port must not be empty"))
	}
	switch c.DatabaseDriver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver %q", c.DatabaseDriver))
	}
	if c.DatabaseDSN == "" {
		errs = append(errs, errors.New("database DSN must not be empty"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT secret must be set in release mode"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("token TTL must be positive"))
	}
	if c.ScraperTimeout <= 0 {
		errs = append(errs, errors.New("scraper timeout must be positive"))
	}
	return errors.Join(errs...)
}

// Addr returns the listen address for the HTTP server
func (c *Config) Addr() string {
	return ":" + c.Port
}
