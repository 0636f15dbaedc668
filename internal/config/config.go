// Package config loads application settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"go.uber.org/multierr"
)

// Storage and session drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
	DriverRedis    = "redis"
)

// Config holds every setting of the application.
type Config struct {
	Env             string        `env:"APP_ENV" envDefault:"development"`
	Port            string        `env:"PORT" envDefault:"3000"`
	DatabaseURL     string        `env:"DATABASE_URL"`
	StorageDriver   string        `env:"STORAGE_DRIVER" envDefault:"postgres"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	HistoryLimit    int           `env:"HISTORY_LIMIT" envDefault:"10"`

	Session struct {
		Secret        string        `env:"SESSION_SECRET,required"`
		Store         string        `env:"SESSION_STORE"`
		TTL           time.Duration `env:"SESSION_TTL" envDefault:"24h"`
		SweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" envDefault:"1h"`
	}

	Weather struct {
		APIKey  string `env:"WEATHER_API_KEY,required"`
		BaseURL string `env:"WEATHER_BASE_URL" envDefault:"https://api.openweathermap.org/data/2.5"`
		Units   string `env:"WEATHER_UNITS" envDefault:"metric"`
		Lang    string `env:"WEATHER_LANG" envDefault:"pt_br"`
	}

	CountryBaseURL  string        `env:"COUNTRY_BASE_URL" envDefault:"https://restcountries.com/v3.1"`
	ProviderTimeout time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"10s"`

	RateLimit struct {
		Max    int           `env:"RATE_LIMIT_MAX" envDefault:"100"`
		Window time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"15m"`
	}

	Log struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
	}

	Redis struct {
		Addr     string `env:"REDIS_ADDR"`
		Password string `env:"REDIS_PASSWORD"`
		DB       int    `env:"REDIS_DB" envDefault:"0"`
	}

	RabbitMQ struct {
		URL   string `env:"RABBITMQ_URL"`
		Queue string `env:"RABBITMQ_QUEUE" envDefault:"search_events"`
	}

	S3 struct {
		Endpoint        string `env:"S3_ENDPOINT"`
		Region          string `env:"S3_REGION" envDefault:"us-east-1"`
		Bucket          string `env:"S3_BUCKET"`
		AccessKeyID     string `env:"S3_ACCESS_KEY_ID"`
		SecretAccessKey string `env:"S3_SECRET_ACCESS_KEY"`
		UseSSL          bool   `env:"S3_USE_SSL"`
	}

	OIDC struct {
		IssuerURL    string `env:"OIDC_ISSUER_URL"`
		ClientID     string `env:"OIDC_CLIENT_ID"`
		ClientSecret string `env:"OIDC_CLIENT_SECRET"`
		RedirectURL  string `env:"OIDC_REDIRECT_URL"`
	}

	Admin struct {
		Name     string `env:"ADMIN_NAME" envDefault:"Admin"`
		Email    string `env:"ADMIN_EMAIL"`
		Password string `env:"ADMIN_PASSWORD"`
	}
}

// Load reads a .env file when one exists, then parses the environment.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.Session.Store == "" {
		cfg.Session.Store = cfg.StorageDriver
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks rules that span several variables.
func (c *Config) Validate() error {
	var err error

	switch c.StorageDriver {
	case DriverPostgres, DriverMemory:
	default:
		err = multierr.Append(err, fmt.Errorf("STORAGE_DRIVER: unknown driver %q", c.StorageDriver))
	}
	switch c.Session.Store {
	case DriverPostgres, DriverMemory, DriverRedis:
	default:
		err = multierr.Append(err, fmt.Errorf("SESSION_STORE: unknown store %q", c.Session.Store))
	}

	if (c.StorageDriver == DriverPostgres || c.Session.Store == DriverPostgres) && c.DatabaseURL == "" {
		err = multierr.Append(err, errors.New("DATABASE_URL is required for the postgres driver"))
	}
	if c.Session.Store == DriverRedis && c.Redis.Addr == "" {
		err = multierr.Append(err, errors.New("REDIS_ADDR is required for the redis session store"))
	}
	if c.Session.Store == DriverPostgres && c.StorageDriver == DriverMemory {
		err = multierr.Append(err, errors.New("SESSION_STORE=postgres needs STORAGE_DRIVER=postgres"))
	}
	if c.Session.TTL <= 0 {
		err = multierr.Append(err, errors.New("SESSION_TTL must be positive"))
	}
	if c.RateLimit.Max <= 0 || c.RateLimit.Window <= 0 {
		err = multierr.Append(err, errors.New("RATE_LIMIT_MAX and RATE_LIMIT_WINDOW must be positive"))
	}
	if c.HistoryLimit <= 0 {
		err = multierr.Append(err, errors.New("HISTORY_LIMIT must be positive"))
	}
	if c.OIDC.IssuerURL != "" && (c.OIDC.ClientID == "" || c.OIDC.RedirectURL == "") {
		err = multierr.Append(err, errors.New("OIDC_CLIENT_ID and OIDC_REDIRECT_URL are required with OIDC_ISSUER_URL"))
	}

	return err
}

// IsProduction reports whether the application runs with APP_ENV=production.
func (c *Config) IsProduction() bool { return c.Env == "production" }

// Addr is the listen address of the HTTP server.
func (c *Config) Addr() string { return ":" + c.Port }

// SSOEnabled reports whether single sign-on is configured.
func (c *Config) SSOEnabled() bool { return c.OIDC.IssuerURL != "" }

// EventsEnabled reports whether search events go to a broker.
func (c *Config) EventsEnabled() bool { return c.RabbitMQ.URL != "" }
