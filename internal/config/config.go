// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Identity      IdentityConfig      `yaml:"identity"`
	Registry      RegistryConfig      `yaml:"registry"`
	Store         StoreConfig         `yaml:"store"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Idempotency   IdempotencyConfig   `yaml:"idempotency"`
	Authorization AuthorizationConfig `yaml:"authorization"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// IdentityConfig describes how bearer tokens are verified. Tokens are HS256
// JWTs signed with a shared secret read from SecretEnv.
type IdentityConfig struct {
	Issuer    string        `yaml:"issuer"`
	Audience  string        `yaml:"audience"`
	SecretEnv string        `yaml:"secret_env"`
	Leeway    time.Duration `yaml:"leeway"`
	RoleClaim string        `yaml:"role_claim"`
}

// Secret returns the signing secret named by SecretEnv.
func (c IdentityConfig) Secret() string {
	if c.SecretEnv == "" {
		return ""
	}
	return os.Getenv(c.SecretEnv)
}

// RegistryConfig points at an optional YAML location table. When File is
// empty the built-in table is used.
type RegistryConfig struct {
	File string `yaml:"file"`
}

// StoreConfig describes vehicle and audit persistence settings.
type StoreConfig struct {
	Driver          string        `yaml:"driver"`
	DSNEnv          string        `yaml:"dsn_env"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	EnsureSchema    bool          `yaml:"ensure_schema"`
	SeedFile        string        `yaml:"seed_file"`
}

// NotificationsConfig describes the asynchronous side-effect dispatcher.
type NotificationsConfig struct {
	Driver         string        `yaml:"driver"`
	AddrEnv        string        `yaml:"addr_env"`
	DB             int           `yaml:"db"`
	StreamPrefix   string        `yaml:"stream_prefix"`
	StreamMaxLen   int64         `yaml:"stream_max_len"`
	QueueSize      int           `yaml:"queue_size"`
	Workers        int           `yaml:"workers"`
	MaxAttempts    int           `yaml:"max_attempts"`
	BackoffInitial time.Duration `yaml:"backoff_initial"`
	BackoffMax     time.Duration `yaml:"backoff_max"`

	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown"`

	// MirrorToLog also logs every message delivered to redis.
	MirrorToLog bool `yaml:"mirror_to_log"`
}

// IdempotencyConfig describes idempotency store settings for moves.
type IdempotencyConfig struct {
	Enabled bool                   `yaml:"enabled"`
	Store   IdempotencyStoreConfig `yaml:"store"`
}

// IdempotencyStoreConfig describes idempotency persistence settings.
type IdempotencyStoreConfig struct {
	Driver     string        `yaml:"driver"`
	AddrEnv    string        `yaml:"addr_env"`
	DB         int           `yaml:"db"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// AuthorizationConfig points at the role capability policy. When PolicyFile
// is empty every authenticated caller may perform every operation.
type AuthorizationConfig struct {
	PolicyFile string        `yaml:"policy_file"`
	CacheTTL   time.Duration `yaml:"cache_ttl"`
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
		},
		Identity: IdentityConfig{
			SecretEnv: "VEHICLEFLOW_JWT_SECRET",
			Leeway:    30 * time.Second,
			RoleClaim: "roles",
		},
		Store: StoreConfig{
			Driver:          "memory",
			DSNEnv:          "VEHICLEFLOW_DATABASE_URL",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			EnsureSchema:    true,
		},
		Notifications: NotificationsConfig{
			Driver:         "log",
			AddrEnv:        "VEHICLEFLOW_REDIS_ADDR",
			StreamPrefix:   "vehicleflow:events:",
			StreamMaxLen:   10000,
			QueueSize:      256,
			Workers:        2,
			MaxAttempts:    5,
			BackoffInitial: 100 * time.Millisecond,
			BackoffMax:     5 * time.Second,

			BreakerThreshold: 10,
			BreakerCooldown:  30 * time.Second,
		},
		Idempotency: IdempotencyConfig{
			Store: IdempotencyStoreConfig{
				Driver:     "memory",
				AddrEnv:    "VEHICLEFLOW_REDIS_ADDR",
				DefaultTTL: 24 * time.Hour,
			},
		},
		Authorization: AuthorizationConfig{
			CacheTTL: time.Minute,
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

var (
	storeDrivers       = map[string]bool{"memory": true, "postgres": true}
	notifierDrivers    = map[string]bool{"log": true, "redis": true, "none": true}
	idempotencyDrivers = map[string]bool{"memory": true, "redis": true}
)

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
	if c.Identity.SecretEnv == "" {
		errs = append(errs, "identity.secret_env is required")
	}
	if !storeDrivers[c.Store.Driver] {
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported (memory, postgres)", c.Store.Driver))
	}
	if c.Store.Driver == "postgres" && c.Store.DSNEnv == "" {
		errs = append(errs, "store.dsn_env is required for the postgres driver")
	}
	if !notifierDrivers[c.Notifications.Driver] {
		errs = append(errs, fmt.Sprintf("notifications.driver %q is not supported (log, redis, none)", c.Notifications.Driver))
	}
	if c.Notifications.QueueSize < 1 {
		errs = append(errs, "notifications.queue_size must be positive")
	}
	if c.Notifications.Workers < 1 {
		errs = append(errs, "notifications.workers must be positive")
	}
	if c.Notifications.MaxAttempts < 1 {
		errs = append(errs, "notifications.max_attempts must be positive")
	}
	if c.Idempotency.Enabled && !idempotencyDrivers[c.Idempotency.Store.Driver] {
		errs = append(errs, fmt.Sprintf("idempotency.store.driver %q is not supported (memory, redis)", c.Idempotency.Store.Driver))
	}

	if c.Authorization.CacheTTL < 0 {
		errs = append(errs, "authorization.cache_ttl must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads VEHICLEFLOW_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VEHICLEFLOW_SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("VEHICLEFLOW_IDENTITY_ISSUER"); v != "" {
		cfg.Identity.Issuer = v
	}
	if v := os.Getenv("VEHICLEFLOW_IDENTITY_AUDIENCE"); v != "" {
		cfg.Identity.Audience = v
	}
	if v := os.Getenv("VEHICLEFLOW_REGISTRY_FILE"); v != "" {
		cfg.Registry.File = v
	}
	if v := os.Getenv("VEHICLEFLOW_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("VEHICLEFLOW_AUTHORIZATION_POLICY_FILE"); v != "" {
		cfg.Authorization.PolicyFile = v
	}
	if v := os.Getenv("VEHICLEFLOW_NOTIFICATIONS_DRIVER"); v != "" {
		cfg.Notifications.Driver = v
	}
	if v := os.Getenv("VEHICLEFLOW_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
}
