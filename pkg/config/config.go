package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds server configuration.
type Config struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	StoreDriver string `yaml:"store_driver"` // "memory" | "sqlite" | "postgres"
	DatabaseURL string `yaml:"database_url"`

	// Identities. Admin edits the debit allow-list; the engines debit as their callers.
	Admin         string `yaml:"admin"`
	RulesCaller   string `yaml:"rules_caller"`
	StreamsCaller string `yaml:"streams_caller"`
	LedgerVault   string `yaml:"ledger_vault"`
	EscrowVault   string `yaml:"escrow_vault"`

	Secret string `yaml:"secret"`

	RedisAddr      string  `yaml:"redis_addr"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`

	OTelEnabled  bool   `yaml:"otel_enabled"`
	OTelEndpoint string `yaml:"otel_endpoint"`

	Export ExportConfig `yaml:"export"`
}

// ExportConfig selects where journal snapshots are written.
type ExportConfig struct {
	StorageType string `yaml:"storage_type"` // "fs" | "s3" | "gcs"
	Dir         string `yaml:"dir"`
	S3Bucket    string `yaml:"s3_bucket"`
	S3Region    string `yaml:"s3_region"`
	S3Prefix    string `yaml:"s3_prefix"`
	S3Endpoint  string `yaml:"s3_endpoint"` // MinIO, LocalStack
	GCSBucket   string `yaml:"gcs_bucket"`
	GCSPrefix   string `yaml:"gcs_prefix"`
}

// Load reads configuration from environment variables, then applies the
// YAML file named by AGENTPAY_CONFIG, if any.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           env("PORT", "8080"),
		LogLevel:       env("LOG_LEVEL", "INFO"),
		StoreDriver:    env("STORE_DRIVER", "memory"),
		DatabaseURL:    env("DATABASE_URL", "agentpay.db"),
		Admin:          env("AGENTPAY_ADMIN", "admin"),
		RulesCaller:    env("AGENTPAY_RULES_CALLER", "agentpay:rules"),
		StreamsCaller:  env("AGENTPAY_STREAMS_CALLER", "agentpay:streams"),
		LedgerVault:    env("AGENTPAY_LEDGER_VAULT", "agentpay:ledger"),
		EscrowVault:    env("AGENTPAY_ESCROW_VAULT", "agentpay:escrow"),
		Secret:         os.Getenv("AGENTPAY_SECRET"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RateLimitRPS:   envFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst: envInt("RATE_LIMIT_BURST", 40),
		OTelEnabled:    os.Getenv("OTEL_ENABLED") == "true",
		OTelEndpoint:   env("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		Export: ExportConfig{
			StorageType: env("EXPORT_STORAGE_TYPE", "fs"),
			Dir:         env("EXPORT_DIR", "exports"),
			S3Bucket:    os.Getenv("EXPORT_S3_BUCKET"),
			S3Region:    env("EXPORT_S3_REGION", "us-east-1"),
			S3Prefix:    os.Getenv("EXPORT_S3_PREFIX"),
			S3Endpoint:  os.Getenv("EXPORT_S3_ENDPOINT"),
			GCSBucket:   os.Getenv("EXPORT_GCS_BUCKET"),
			GCSPrefix:   os.Getenv("EXPORT_GCS_PREFIX"),
		},
	}

	if path := os.Getenv("AGENTPAY_CONFIG"); path != "" {
		if err := cfg.overlay(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// overlay replaces fields with the values present in the YAML file at path.
func (c *Config) overlay(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown store driver %q", c.StoreDriver)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("config: rate limit must be positive")
	}
	if strings.TrimSpace(c.Admin) == "" {
		return fmt.Errorf("config: admin identity is required")
	}
	return nil
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return def
}
