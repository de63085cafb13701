package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/prizmrun/prizm/pkg/observability"
)

// Cache backends
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheTiered = "tiered"
	CacheNone   = "none"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Cache         CacheConfig         `yaml:"cache"`
	Redis         RedisConfig         `yaml:"redis"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Audit         AuditConfig         `yaml:"audit"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// UserIDHeader carries the authenticated user ID set by the edge proxy
	UserIDHeader string `yaml:"user_id_header"`
}

// DatabaseConfig holds PostgreSQL settings. Permission reads always go to
// this primary so that a read after an invalidation sees the committed write.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// CacheConfig selects and sizes the access cache
type CacheConfig struct {
	Backend string        `yaml:"backend"`
	TTL     time.Duration `yaml:"ttl"`
	// L1 settings apply to the memory backend and the in-process tier of tiered
	L1Size int           `yaml:"l1_size"`
	L1TTL  time.Duration `yaml:"l1_ttl"`
	// StatsSchedule is a cron spec for publishing cache size gauges
	StatsSchedule string `yaml:"stats_schedule"`
}

// RedisConfig holds Redis connection settings for the shared cache
type RedisConfig struct {
	URL        string `yaml:"url"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	MaxRetries int    `yaml:"max_retries"`
	PoolSize   int    `yaml:"pool_size"`
}

// RateLimitConfig limits API requests per user. Counters live in Redis when
// the cache uses Redis, otherwise in process.
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled"`
	RequestsPerWindow int           `yaml:"requests_per_window"`
	Window            time.Duration `yaml:"window"`
	Burst             int           `yaml:"burst"`
}

// AuditConfig selects where membership changes are recorded
type AuditConfig struct {
	// Enabled stores events in the audit_events table and serves them at
	// /workspaces/{workspaceId}/audit
	Enabled bool `yaml:"enabled"`
	// LogEvents also writes each event as a log line
	LogEvents bool `yaml:"log_events"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`

	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"`
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// Level returns the parsed log level
func (o ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLogLevel(o.LogLevel)
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			UserIDHeader:    "X-User-ID",
		},
		Database: DatabaseConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			QueryTimeout:    5 * time.Second,
		},
		Cache: CacheConfig{
			Backend:       CacheMemory,
			TTL:           time.Hour,
			L1Size:        10000,
			L1TTL:         30 * time.Second,
			StatsSchedule: "@every 30s",
		},
		Redis: RedisConfig{
			URL:        "redis://localhost:6379",
			MaxRetries: 3,
			PoolSize:   10,
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: 600,
			Window:            time.Minute,
			Burst:             50,
		},
		Audit: AuditConfig{
			Enabled: true,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "prizm",
			OTelServiceVersion: "dev",
			OTelInsecure:       true,
			OTelSampleRatio:    1,
		},
	}
}

// LoadConfig builds the configuration from defaults, then the YAML file named
// by PRIZM_CONFIG_FILE if set, then PRIZM_* environment variables
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("PRIZM_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnv("PRIZM_HOST", c.Server.Host)
	c.Server.Port = getEnv("PRIZM_PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvDuration("PRIZM_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("PRIZM_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("PRIZM_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("PRIZM_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.UserIDHeader = getEnv("PRIZM_USER_ID_HEADER", c.Server.UserIDHeader)

	c.Database.URL = getEnv("PRIZM_DATABASE_URL", c.Database.URL)
	c.Database.MaxOpenConns = getEnvInt("PRIZM_DATABASE_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = getEnvInt("PRIZM_DATABASE_MAX_IDLE_CONNS", c.Database.MaxIdleConns)
	c.Database.ConnMaxLifetime = getEnvDuration("PRIZM_DATABASE_CONN_MAX_LIFETIME", c.Database.ConnMaxLifetime)
	c.Database.QueryTimeout = getEnvDuration("PRIZM_DATABASE_QUERY_TIMEOUT", c.Database.QueryTimeout)
	c.Database.AutoMigrate = getEnvBool("PRIZM_DATABASE_AUTO_MIGRATE", c.Database.AutoMigrate)

	c.Cache.Backend = strings.ToLower(getEnv("PRIZM_CACHE_BACKEND", c.Cache.Backend))
	c.Cache.TTL = getEnvDuration("PRIZM_CACHE_TTL", c.Cache.TTL)
	c.Cache.L1Size = getEnvInt("PRIZM_CACHE_L1_SIZE", c.Cache.L1Size)
	c.Cache.L1TTL = getEnvDuration("PRIZM_CACHE_L1_TTL", c.Cache.L1TTL)
	c.Cache.StatsSchedule = getEnv("PRIZM_CACHE_STATS_SCHEDULE", c.Cache.StatsSchedule)

	c.Redis.URL = getEnv("PRIZM_REDIS_URL", c.Redis.URL)
	c.Redis.Password = getEnv("PRIZM_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("PRIZM_REDIS_DB", c.Redis.DB)
	c.Redis.MaxRetries = getEnvInt("PRIZM_REDIS_MAX_RETRIES", c.Redis.MaxRetries)
	c.Redis.PoolSize = getEnvInt("PRIZM_REDIS_POOL_SIZE", c.Redis.PoolSize)

	c.RateLimit.Enabled = getEnvBool("PRIZM_RATE_LIMIT_ENABLED", c.RateLimit.Enabled)
	c.RateLimit.RequestsPerWindow = getEnvInt("PRIZM_RATE_LIMIT_REQUESTS", c.RateLimit.RequestsPerWindow)
	c.RateLimit.Window = getEnvDuration("PRIZM_RATE_LIMIT_WINDOW", c.RateLimit.Window)
	c.RateLimit.Burst = getEnvInt("PRIZM_RATE_LIMIT_BURST", c.RateLimit.Burst)

	c.Audit.Enabled = getEnvBool("PRIZM_AUDIT_ENABLED", c.Audit.Enabled)
	c.Audit.LogEvents = getEnvBool("PRIZM_AUDIT_LOG_EVENTS", c.Audit.LogEvents)

	c.Observability.LogLevel = getEnv("PRIZM_LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.MetricsEnabled = getEnvBool("PRIZM_METRICS_ENABLED", c.Observability.MetricsEnabled)
	c.Observability.OTelEnabled = getEnvBool("PRIZM_OTEL_ENABLED", c.Observability.OTelEnabled)
	c.Observability.OTelEndpoint = getEnv("PRIZM_OTEL_ENDPOINT", c.Observability.OTelEndpoint)
	c.Observability.OTelServiceName = getEnv("PRIZM_OTEL_SERVICE_NAME", c.Observability.OTelServiceName)
	c.Observability.OTelServiceVersion = getEnv("PRIZM_OTEL_SERVICE_VERSION", c.Observability.OTelServiceVersion)
	c.Observability.OTelInsecure = getEnvBool("PRIZM_OTEL_INSECURE", c.Observability.OTelInsecure)
	c.Observability.OTelSampleRatio = getEnvFloat("PRIZM_OTEL_SAMPLE_RATIO", c.Observability.OTelSampleRatio)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.UserIDHeader == "" {
		return fmt.Errorf("user id header is required")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}

	switch c.Cache.Backend {
	case CacheNone:
	case CacheMemory, CacheRedis, CacheTiered:
		if c.Cache.TTL <= 0 {
			return fmt.Errorf("cache TTL must be positive")
		}
	default:
		return fmt.Errorf("invalid cache backend: %s (must be memory, redis, tiered, or none)", c.Cache.Backend)
	}

	if c.Cache.Backend == CacheMemory || c.Cache.Backend == CacheTiered {
		if c.Cache.L1Size <= 0 {
			return fmt.Errorf("cache L1 size must be positive")
		}
	}
	if c.Cache.Backend == CacheTiered {
		if c.Cache.L1TTL <= 0 || c.Cache.L1TTL > c.Cache.TTL {
			return fmt.Errorf("cache L1 TTL must be positive and no longer than the cache TTL")
		}
	}
	if (c.Cache.Backend == CacheRedis || c.Cache.Backend == CacheTiered) && c.Redis.URL == "" {
		return fmt.Errorf("redis URL is required for %s cache", c.Cache.Backend)
	}

	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.Window <= 0 || c.RateLimit.Burst < 0) {
		return fmt.Errorf("rate limit needs a positive request count and window")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// Addr returns the listen address of the HTTP server
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
