// Package config loads engine configuration from a YAML file with
// environment variable overrides for secrets and deploy-specific values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the engine.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
	Tracking  TrackingConfig  `yaml:"tracking"`
	SES       SESConfig       `yaml:"ses"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	LogLevel  string          `yaml:"log_level"`
}

// ServerConfig holds the API server listen settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (c ServerConfig) Addr() string {
	host := c.Host
	if host == "" {
		host = "0.0.0.0"
	}
	return fmt.Sprintf("%s:%d", host, c.Port)
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig holds the Redis connection used by the rate limiter.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// DeliveryConfig holds the sending worker tunables.
type DeliveryConfig struct {
	BatchSize          int    `yaml:"batch_size"`
	SendsPerSecond     int    `yaml:"sends_per_second"`
	Concurrency        int    `yaml:"concurrency"`
	MaxRetries         int    `yaml:"max_retries"`
	BackoffBaseMS      int    `yaml:"backoff_base_ms"`
	BackoffCapMS       int    `yaml:"backoff_cap_ms"`
	SendTimeoutSeconds int    `yaml:"send_timeout_seconds"`
	FromName           string `yaml:"from_name"`
	FromEmail          string `yaml:"from_email"`
	ReplyTo            string `yaml:"reply_to"`
}

func (c DeliveryConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMS) * time.Millisecond
}

func (c DeliveryConfig) BackoffCap() time.Duration {
	return time.Duration(c.BackoffCapMS) * time.Millisecond
}

func (c DeliveryConfig) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSeconds) * time.Second
}

// TrackingConfig holds the public tracking endpoint settings. SigningKey
// signs open/click/unsubscribe URLs and must stay stable across deploys or
// links in already-sent mail go dead.
type TrackingConfig struct {
	BaseURL             string `yaml:"base_url"`
	SigningKey          string `yaml:"signing_key"`
	HardBounceThreshold int    `yaml:"hard_bounce_threshold"`
}

// SESConfig holds AWS SES credentials.
type SESConfig struct {
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
}

// SchedulerConfig holds the polling cadence for campaign pickup.
type SchedulerConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
}

func (c SchedulerConfig) Interval() time.Duration {
	if c.IntervalSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.IntervalSeconds) * time.Second
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Delivery: DeliveryConfig{
			BatchSize:          100,
			SendsPerSecond:     50,
			Concurrency:        10,
			MaxRetries:         3,
			BackoffBaseMS:      1000,
			BackoffCapMS:       30000,
			SendTimeoutSeconds: 15,
		},
		Tracking:  TrackingConfig{HardBounceThreshold: 3},
		SES:       SESConfig{Region: "us-east-1"},
		Scheduler: SchedulerConfig{IntervalSeconds: 15},
		LogLevel:  "info",
	}
}

// Load reads configuration from a YAML file on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// LoadFromEnv loads the YAML file if present, then applies .env and
// environment overrides. A missing file is fine; env alone can configure
// a deployment.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("TRACKING_BASE_URL"); v != "" {
		cfg.Tracking.BaseURL = v
	}
	if v := os.Getenv("TRACKING_SIGNING_KEY"); v != "" {
		cfg.Tracking.SigningKey = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.SES.Region = v
	}
	if v := os.Getenv("FROM_EMAIL"); v != "" {
		cfg.Delivery.FromEmail = v
	}
	if v := os.Getenv("FROM_NAME"); v != "" {
		cfg.Delivery.FromName = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	return cfg, nil
}

// Validate checks the settings a running engine cannot do without.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database url is required")
	}
	if c.Tracking.SigningKey == "" {
		return fmt.Errorf("tracking signing key is required")
	}
	if c.Delivery.FromEmail == "" {
		return fmt.Errorf("from email is required")
	}
	return nil
}
