// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Orphan policies applied when a session switches vehicle category.
const (
	OrphanPreserve = "preserve"
	OrphanPrune    = "prune"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Identity      IdentityConfig      `yaml:"identity"`
	Catalog       CatalogConfig       `yaml:"catalog"`
	Capability    CapabilityConfig    `yaml:"capability"`
	Session       SessionConfig       `yaml:"session"`
	Assets        AssetsConfig        `yaml:"assets"`
	Jobs          JobsConfig          `yaml:"jobs"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// IdentityConfig describes JWT settings. Tokens are verified either against
// a JWKS endpoint or, for the hosted backend's shared-secret tokens, with an
// HMAC secret read from the environment variable named by HMACSecretEnv.
type IdentityConfig struct {
	Issuer        string            `yaml:"issuer"`
	Audience      string            `yaml:"audience"`
	JWKSURL       string            `yaml:"jwks_url"`
	JWKSCacheTTL  time.Duration     `yaml:"jwks_cache_ttl"`
	HMACSecretEnv string            `yaml:"hmac_secret_env"`
	Algorithms    []string          `yaml:"algorithms"`
	ClaimPaths    map[string]string `yaml:"claim_paths"`
}

// CatalogConfig describes where zone and service tables come from. An empty
// Directory uses the tables compiled into the binary.
type CatalogConfig struct {
	Directory string `yaml:"directory"`
}

// CapabilityConfig describes authorization settings.
type CapabilityConfig struct {
	Evaluator        string      `yaml:"evaluator"`
	StaticPolicyFile string      `yaml:"static_policy_file"`
	Cache            CacheConfig `yaml:"cache"`
}

// CacheConfig describes cache settings.
type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// RedisConfig describes a Redis connection. The address is read from the
// environment variable named by AddrEnv.
type RedisConfig struct {
	AddrEnv   string `yaml:"addr_env"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// PostgresConfig describes a PostgreSQL pool. The DSN is read from the
// environment variable named by DSNEnv.
type PostgresConfig struct {
	DSNEnv          string        `yaml:"dsn_env"`
	MaxConns        int32         `yaml:"max_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// SessionConfig describes configurator session settings.
type SessionConfig struct {
	Store         string        `yaml:"store"`
	Redis         RedisConfig   `yaml:"redis"`
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	OrphanPolicy  string        `yaml:"orphan_policy"`
}

// AssetsConfig describes 3D asset resolution and fetching.
type AssetsConfig struct {
	Repository string           `yaml:"repository"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	SeedFile   string           `yaml:"seed_file"`
	Cache      AssetCacheConfig `yaml:"cache"`
	Fetch      FetchConfig      `yaml:"fetch"`
}

// AssetCacheConfig describes the resolved-record cache.
type AssetCacheConfig struct {
	Driver     string        `yaml:"driver"`
	Redis      RedisConfig   `yaml:"redis"`
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// FetchConfig describes model file downloads.
type FetchConfig struct {
	Timeout        time.Duration        `yaml:"timeout"`
	MaxBytes       int64                `yaml:"max_bytes"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig describes circuit breaker settings.
type CircuitBreakerConfig struct {
	FailureThreshold   int           `yaml:"failure_threshold"`
	SuccessThreshold   int           `yaml:"success_threshold"`
	Timeout            time.Duration `yaml:"timeout"`
	ErrorRateThreshold float64       `yaml:"error_rate_threshold"`
	ErrorRateWindow    time.Duration `yaml:"error_rate_window"`
}

// JobsConfig describes how selected zones are written to jobs.
type JobsConfig struct {
	Writer      string            `yaml:"writer"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
}

// IdempotencyConfig describes the commit idempotency store.
type IdempotencyConfig struct {
	Driver     string        `yaml:"driver"`
	Redis      RedisConfig   `yaml:"redis"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type",
					"X-Correlation-Id", "X-Idempotency-Key"},
				MaxAge: 86400,
			},
		},
		Identity: IdentityConfig{
			JWKSCacheTTL: 1 * time.Hour,
			Algorithms:   []string{"RS256"},
			ClaimPaths: map[string]string{
				"subject_id": "sub",
				"tenant_id":  "tenant_id",
				"email":      "email",
				"roles":      "roles",
			},
		},
		Capability: CapabilityConfig{
			Evaluator: "static",
			Cache: CacheConfig{
				TTL:        5 * time.Minute,
				MaxEntries: 10000,
			},
		},
		Session: SessionConfig{
			Store:         "memory",
			Redis:         RedisConfig{AddrEnv: "REDIS_ADDR", KeyPrefix: "configurator:session:"},
			TTL:           2 * time.Hour,
			SweepInterval: 5 * time.Minute,
			OrphanPolicy:  OrphanPreserve,
		},
		Assets: AssetsConfig{
			Repository: "memory",
			Postgres: PostgresConfig{
				DSNEnv:          "DATABASE_URL",
				MaxConns:        10,
				ConnMaxLifetime: 30 * time.Minute,
			},
			Cache: AssetCacheConfig{
				Driver:     "memory",
				Redis:      RedisConfig{AddrEnv: "REDIS_ADDR", KeyPrefix: "configurator:asset:"},
				TTL:        10 * time.Minute,
				MaxEntries: 1000,
			},
			Fetch: FetchConfig{
				Timeout:  20 * time.Second,
				MaxBytes: 64 << 20,
				CircuitBreaker: CircuitBreakerConfig{
					FailureThreshold:   5,
					SuccessThreshold:   2,
					Timeout:            30 * time.Second,
					ErrorRateThreshold: 0.5,
					ErrorRateWindow:    60 * time.Second,
				},
			},
		},
		Jobs: JobsConfig{
			Writer: "memory",
			Postgres: PostgresConfig{
				DSNEnv:          "DATABASE_URL",
				MaxConns:        10,
				ConnMaxLifetime: 30 * time.Minute,
			},
			Idempotency: IdempotencyConfig{
				Driver:     "memory",
				Redis:      RedisConfig{AddrEnv: "REDIS_ADDR", KeyPrefix: "configurator:idem:"},
				DefaultTTL: 24 * time.Hour,
			},
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are skipped; variables already set win.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("config: loading %s: %w", p, err)
		}
	}
	return nil
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Identity.Issuer == "" {
		errs = append(errs, "identity.issuer is required")
	}
	if c.Identity.Audience == "" {
		errs = append(errs, "identity.audience is required")
	}
	if c.Identity.JWKSURL == "" && c.Identity.HMACSecretEnv == "" {
		errs = append(errs, "identity.jwks_url or identity.hmac_secret_env is required")
	}
	if !slices.Contains([]string{OrphanPreserve, OrphanPrune}, c.Session.OrphanPolicy) {
		errs = append(errs, "session.orphan_policy must be preserve or prune")
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, "session.ttl must be positive")
	}
	if !slices.Contains([]string{"memory", "redis"}, c.Session.Store) {
		errs = append(errs, "session.store must be memory or redis")
	}
	if !slices.Contains([]string{"memory", "postgres"}, c.Assets.Repository) {
		errs = append(errs, "assets.repository must be memory or postgres")
	}
	if !slices.Contains([]string{"memory", "redis", "none"}, c.Assets.Cache.Driver) {
		errs = append(errs, "assets.cache.driver must be memory, redis or none")
	}
	if !slices.Contains([]string{"memory", "postgres"}, c.Jobs.Writer) {
		errs = append(errs, "jobs.writer must be memory or postgres")
	}
	if !slices.Contains([]string{"memory", "redis"}, c.Jobs.Idempotency.Driver) {
		errs = append(errs, "jobs.idempotency.driver must be memory or redis")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads CONFIGURATOR_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CONFIGURATOR_SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CONFIGURATOR_IDENTITY_ISSUER"); v != "" {
		cfg.Identity.Issuer = v
	}
	if v := os.Getenv("CONFIGURATOR_IDENTITY_JWKS_URL"); v != "" {
		cfg.Identity.JWKSURL = v
	}
	if v := os.Getenv("CONFIGURATOR_IDENTITY_AUDIENCE"); v != "" {
		cfg.Identity.Audience = v
	}
	if v := os.Getenv("CONFIGURATOR_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("CONFIGURATOR_CATALOG_DIRECTORY"); v != "" {
		cfg.Catalog.Directory = v
	}
	if v := os.Getenv("CONFIGURATOR_SESSION_STORE"); v != "" {
		cfg.Session.Store = v
	}
	if v := os.Getenv("CONFIGURATOR_SESSION_ORPHAN_POLICY"); v != "" {
		cfg.Session.OrphanPolicy = v
	}
	if v := os.Getenv("CONFIGURATOR_ASSETS_REPOSITORY"); v != "" {
		cfg.Assets.Repository = v
	}
}
