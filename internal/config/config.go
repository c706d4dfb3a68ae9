// Package config loads the core's configuration from a YAML file with
// environment-variable overrides, and validates it at boot — a
// misconfigured secret should fail the process before it ever accepts
// traffic, not surface as a runtime auth bypass.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Auth          AuthConfig          `yaml:"auth"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Notify        NotifyConfig        `yaml:"notify"`
	Observability ObservabilityConfig `yaml:"observability"`
	SecretManager SecretManagerConfig `yaml:"secret_manager"`
}

type ServerConfig struct {
	Port            string   `yaml:"port"`
	Env             string   `yaml:"env"`
	ReadTimeoutSec  int      `yaml:"read_timeout_sec"`
	WriteTimeoutSec int      `yaml:"write_timeout_sec"`
	ShutdownTimeoutSec int   `yaml:"shutdown_timeout_sec"`
	CORSAllowOrigins []string `yaml:"cors_allow_origins"`
}

type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type AuthConfig struct {
	JWTSecret      string        `yaml:"jwt_secret"`
	AccessTTLSec   int           `yaml:"access_ttl_sec"`
	StepUpTTLSec   int           `yaml:"step_up_ttl_sec"`
	RefreshTTLSec  int           `yaml:"refresh_ttl_sec"`
}

func (a AuthConfig) AccessTTL() time.Duration  { return time.Duration(a.AccessTTLSec) * time.Second }
func (a AuthConfig) StepUpTTL() time.Duration  { return time.Duration(a.StepUpTTLSec) * time.Second }
func (a AuthConfig) RefreshTTL() time.Duration { return time.Duration(a.RefreshTTLSec) * time.Second }

type RateLimitConfig struct {
	WindowSec        int `yaml:"window_sec"`
	SoftThreshold    int `yaml:"soft_threshold"`
	HardThreshold    int `yaml:"hard_threshold"`
	BlockDurationSec int `yaml:"block_duration_sec"`
}

type NotifyConfig struct {
	WebhookTimeoutSec      int    `yaml:"webhook_timeout_sec"`
	GatewayWebhookSecret   string `yaml:"gateway_webhook_secret"`
	PayoutGatewayURL       string `yaml:"payout_gateway_url"`
}

type ObservabilityConfig struct {
	MetricsToken     string `yaml:"metrics_token"`
	SlowQueryMS      int    `yaml:"slow_query_ms"`
}

// SecretManagerConfig describes an external secret-manager integration.
// All three fields are required together, or none — a partially filled
// config (e.g. a region with no secret id) means the deployment is
// mid-migration and must fail loudly rather than silently fall back to
// plaintext config values.
type SecretManagerConfig struct {
	Provider string `yaml:"provider"` // "", "aws", "gcp"
	Region   string `yaml:"region"`
	SecretID string `yaml:"secret_id"`
}

// Load reads path (if present) and applies environment overrides, then
// validates the result. Outside production it first loads a .env file
// (if present) into the process environment, so local development never
// needs real secrets exported in the shell.
func Load(path string) (*Config, error) {
	if env := os.Getenv("OCX_ENV"); env != "production" {
		_ = godotenv.Load()
	}

	cfg := defaults()

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8080", Env: "development",
			ReadTimeoutSec: 15, WriteTimeoutSec: 15, ShutdownTimeoutSec: 30,
			CORSAllowOrigins: []string{"*"},
		},
		Database: DatabaseConfig{MaxOpenConns: 150, MaxIdleConns: 25},
		Redis:    RedisConfig{Addr: "localhost:6379"},
		Auth:     AuthConfig{AccessTTLSec: 900, StepUpTTLSec: 300, RefreshTTLSec: 30 * 24 * 3600},
		RateLimit: RateLimitConfig{
			WindowSec: 60, SoftThreshold: 60, HardThreshold: 120, BlockDurationSec: 300,
		},
		Notify:        NotifyConfig{WebhookTimeoutSec: 10},
		Observability: ObservabilityConfig{SlowQueryMS: 250},
	}
}

func (c *Config) applyEnvOverrides() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.Env = getEnv("OCX_ENV", c.Server.Env)
	if origins := getEnv("CORS_ALLOW_ORIGINS", ""); origins != "" {
		c.Server.CORSAllowOrigins = splitCSV(origins)
	}

	c.Database.DSN = getEnv("DATABASE_DSN", c.Database.DSN)
	if v := getEnvInt("DATABASE_MAX_OPEN_CONNS", 0); v > 0 {
		c.Database.MaxOpenConns = v
	}

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)

	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)

	c.Observability.MetricsToken = getEnv("METRICS_TOKEN", c.Observability.MetricsToken)
	c.Notify.GatewayWebhookSecret = getEnv("GATEWAY_WEBHOOK_SECRET", c.Notify.GatewayWebhookSecret)
	c.Notify.PayoutGatewayURL = getEnv("PAYOUT_GATEWAY_URL", c.Notify.PayoutGatewayURL)

	c.SecretManager.Provider = getEnv("SECRET_MANAGER_PROVIDER", c.SecretManager.Provider)
	c.SecretManager.Region = getEnv("SECRET_MANAGER_REGION", c.SecretManager.Region)
	c.SecretManager.SecretID = getEnv("SECRET_MANAGER_SECRET_ID", c.SecretManager.SecretID)
}

// Validate enforces the boot-time invariants spec §6 calls for: no
// placeholder or undersized JWT secret in production, and no
// partially-specified secret-manager integration.
func (c *Config) Validate() error {
	if c.IsProduction() {
		if err := validateJWTSecret(c.Auth.JWTSecret); err != nil {
			return err
		}
	}
	if err := c.SecretManager.validate(); err != nil {
		return err
	}
	return nil
}

var placeholderSecrets = map[string]bool{
	"change-me": true, "changeme": true, "secret": true, "test": true, "": true,
}

func validateJWTSecret(secret string) error {
	if placeholderSecrets[strings.ToLower(secret)] {
		return fmt.Errorf("config: JWT secret is a placeholder value; set a real secret in production")
	}
	if len(secret) < 32 {
		return fmt.Errorf("config: JWT secret must be at least 32 characters in production, got %d", len(secret))
	}
	return nil
}

func (s SecretManagerConfig) validate() error {
	set := 0
	if s.Provider != "" {
		set++
	}
	if s.Region != "" {
		set++
	}
	if s.SecretID != "" {
		set++
	}
	if set != 0 && set != 3 {
		return fmt.Errorf("config: secret_manager must specify provider, region, and secret_id together, or none")
	}
	return nil
}

func (c *Config) IsProduction() bool { return c.Server.Env == "production" }

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func splitCSV(s string) []string {
	parts := make([]string, 0)
	for _, p := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
