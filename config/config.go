// Package config loads the YAML application configuration with environment variable expansion.
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

// Feed drivers.
const (
	FeedDriverLocal = "local"
	FeedDriverRedis = "redis"
)

type Config struct {
	App      AppConfig      `yaml:"app"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Feed     FeedConfig     `yaml:"feed"`
	Presence PresenceConfig `yaml:"presence"`
}

func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := c.Feed.Validate(); err != nil {
		return fmt.Errorf("feed: %w", err)
	}
	if err := c.Presence.Validate(); err != nil {
		return fmt.Errorf("presence: %w", err)
	}
	return nil
}

type AppConfig struct {
	LogLevel   string `yaml:"log_level"`
	Port       int    `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
}

func (c *AppConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *AppConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.LogLevel, validation.In("debug", "info", "warn", "error")),
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// DatabaseConfig mirrors the user/password/host/port/dbname variables of the .env file.
type DatabaseConfig struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Name     string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	Retries  int    `yaml:"retries"`
}

func (c *DatabaseConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.User, validation.Required),
		validation.Field(&c.Host, validation.Required),
		validation.Field(&c.Port, validation.Required),
		validation.Field(&c.Name, validation.Required),
		validation.Field(&c.SSLMode, validation.In("disable", "require", "verify-ca", "verify-full")),
		validation.Field(&c.Retries, validation.Min(1)),
	)
}

// DSN builds the postgres connection string.
func (c *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   c.Host + ":" + c.Port,
		Path:   "/" + c.Name,
	}
	q := url.Values{}
	q.Set("sslmode", c.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

func (c *AuthConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.JWTSecret, validation.Required),
	)
}

type FeedConfig struct {
	Driver   string `yaml:"driver"`
	RedisURL string `yaml:"redis_url"`
}

func (c *FeedConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Driver, validation.Required, validation.In(FeedDriverLocal, FeedDriverRedis)),
		validation.Field(&c.RedisURL, validation.When(c.Driver == FeedDriverRedis, validation.Required)),
	)
}

// PresenceConfig controls how long session rows count as active and when they are swept.
type PresenceConfig struct {
	FreshnessWindow time.Duration `yaml:"freshness_window"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	Retention       time.Duration `yaml:"retention"`
}

func (c *PresenceConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.FreshnessWindow, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.SweepInterval, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.Retention, validation.Required, validation.Min(c.FreshnessWindow)),
	)
}

func NewDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			LogLevel:   "info",
			Port:       8080,
			CORSOrigin: "*",
		},
		Database: DatabaseConfig{
			Port:    "5432",
			SSLMode: "require",
			Retries: 5,
		},
		Feed: FeedConfig{
			Driver: FeedDriverLocal,
		},
		Presence: PresenceConfig{
			FreshnessWindow: 60 * time.Second,
			SweepInterval:   5 * time.Minute,
			Retention:       time.Hour,
		},
	}
}

// Load reads filename, expands ${VAR} references and decodes it over target.
func Load(filename string, target *Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), target); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}

	if err := target.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}
