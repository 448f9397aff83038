package poold

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := strings.TrimSpace(value.Value)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for poold.
type Config struct {
	ListenAddress string            `yaml:"listen"`
	Environment   string            `yaml:"env"`
	PoolConfig    string            `yaml:"pool_config"`
	Timeouts      TimeoutConfig     `yaml:"timeouts"`
	Auth          AuthConfig        `yaml:"auth"`
	RateLimit     RateLimitConfig   `yaml:"rate_limit"`
	Indexer       IndexerConfig     `yaml:"indexer"`
	Reports       ReportsConfig     `yaml:"reports"`
	Idempotency   IdempotencyConfig `yaml:"idempotency"`
	Stream        StreamConfig      `yaml:"stream"`
	Telemetry     TelemetryConfig   `yaml:"telemetry"`
	Log           LogConfig         `yaml:"log"`
}

// TimeoutConfig bounds the HTTP server.
type TimeoutConfig struct {
	Read     Duration `yaml:"read"`
	Write    Duration `yaml:"write"`
	Idle     Duration `yaml:"idle"`
	Shutdown Duration `yaml:"shutdown"`
}

// AuthConfig configures bearer token validation. The token subject is the
// caller address every operation runs as.
type AuthConfig struct {
	HMACSecret    string   `yaml:"hmac_secret"`
	HMACSecretEnv string   `yaml:"hmac_secret_env"`
	Issuer        string   `yaml:"issuer"`
	Audience      string   `yaml:"audience"`
	ClockSkew     Duration `yaml:"clock_skew"`
}

// RateLimitConfig caps requests per caller.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// IndexerConfig selects the record database. Driver is "postgres" or
// "sqlite".
type IndexerConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// ReportsConfig controls solvency report output.
type ReportsConfig struct {
	Dir    string `yaml:"dir"`
	DryRun bool   `yaml:"dry_run"`
}

// IdempotencyConfig controls the Idempotency-Key response cache.
type IdempotencyConfig struct {
	Path string   `yaml:"path"`
	TTL  Duration `yaml:"ttl"`
}

// StreamConfig sizes the live event stream.
type StreamConfig struct {
	Backlog int `yaml:"backlog"`
	Buffer  int `yaml:"buffer"`
}

// TelemetryConfig configures the OTLP exporters.
type TelemetryConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	Headers     string  `yaml:"headers"`
	Traces      bool    `yaml:"traces"`
	Metrics     bool    `yaml:"metrics"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// LogConfig configures the logger and its optional rotating file sink.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// LoadConfig reads configuration from the supplied path.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Auth.normalise(); err != nil {
		return cfg, fmt.Errorf("auth: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	if cfg.PoolConfig == "" {
		cfg.PoolConfig = "pool.toml"
	}
	if cfg.Timeouts.Read.Duration == 0 {
		cfg.Timeouts.Read.Duration = 30 * time.Second
	}
	if cfg.Timeouts.Write.Duration == 0 {
		cfg.Timeouts.Write.Duration = 30 * time.Second
	}
	if cfg.Timeouts.Idle.Duration == 0 {
		cfg.Timeouts.Idle.Duration = 120 * time.Second
	}
	if cfg.Timeouts.Shutdown.Duration == 0 {
		cfg.Timeouts.Shutdown.Duration = 10 * time.Second
	}
	if cfg.Auth.ClockSkew.Duration == 0 {
		cfg.Auth.ClockSkew.Duration = 2 * time.Minute
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = 600
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 20
	}
	if cfg.Indexer.Driver == "" {
		cfg.Indexer.Driver = "sqlite"
	}
	if cfg.Indexer.DSN == "" && cfg.Indexer.Driver == "sqlite" {
		cfg.Indexer.DSN = "file:poold-records.db"
	}
	if cfg.Reports.Dir == "" {
		cfg.Reports.Dir = "omnipool-reports"
	}
	if cfg.Idempotency.Path == "" {
		cfg.Idempotency.Path = "poold-idempotency.db"
	}
	if cfg.Idempotency.TTL.Duration == 0 {
		cfg.Idempotency.TTL.Duration = 24 * time.Hour
	}
	if cfg.Stream.Backlog == 0 {
		cfg.Stream.Backlog = 256
	}
	if cfg.Stream.Buffer == 0 {
		cfg.Stream.Buffer = 64
	}
	cfg.Indexer.Driver = strings.ToLower(strings.TrimSpace(cfg.Indexer.Driver))
}

func (a *AuthConfig) normalise() error {
	if strings.TrimSpace(a.HMACSecret) != "" {
		return nil
	}
	if env := strings.TrimSpace(a.HMACSecretEnv); env != "" {
		value := strings.TrimSpace(os.Getenv(env))
		if value == "" {
			return fmt.Errorf("environment variable %s is empty", env)
		}
		a.HMACSecret = value
	}
	return nil
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		return fmt.Errorf("auth hmac secret required")
	}
	switch cfg.Indexer.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported indexer driver %q", cfg.Indexer.Driver)
	}
	if strings.TrimSpace(cfg.Indexer.DSN) == "" {
		return fmt.Errorf("indexer dsn required")
	}
	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry sample_ratio must be within [0,1]")
	}
	if cfg.Stream.Backlog < 0 || cfg.Stream.Buffer < 0 {
		return fmt.Errorf("stream sizes must not be negative")
	}
	return nil
}
