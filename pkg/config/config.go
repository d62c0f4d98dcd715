package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/trovehq/trove/pkg/errs"
	"github.com/trovehq/trove/pkg/observability"
	"github.com/trovehq/trove/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration (metadata store, blob store, permission cache)
	Storage storage.Config

	// Sweep configuration (blob garbage collection)
	Sweep SweepConfig

	// Webhook delivery configuration
	Webhooks WebhookConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// SweepConfig holds blob garbage-collection settings
type SweepConfig struct {
	// Enabled controls whether the background sweeper runs at all.
	Enabled bool

	// Schedule is a cron expression for sweep runs.
	Schedule string
}

// WebhookConfig holds webhook delivery settings
type WebhookConfig struct {
	// RetryInterval is how often the retry worker scans for due deliveries.
	RetryInterval time.Duration

	// MaxDeliveries bounds the in-memory delivery log.
	MaxDeliveries int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool
}

// LoadConfig builds the configuration in three layers: built-in defaults,
// an optional YAML file named by TROVE_CONFIG_FILE, then TROVE_*
// environment variables. Later layers win.
func LoadConfig() (*Config, error) {
	cfg := defaultConfig()

	if path := getEnv("TROVE_CONFIG_FILE", ""); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns the built-in defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
		},
		Storage: storage.DefaultConfig(),
		Sweep: SweepConfig{
			Enabled:  true,
			Schedule: "0 3 * * *",
		},
		Webhooks: WebhookConfig{
			RetryInterval: 30 * time.Second,
			MaxDeliveries: 1000,
		},
		Observability: ObservabilityConfig{
			LogLevel:       observability.InfoLevel,
			MetricsEnabled: true,
		},
	}
}

// duration decodes YAML strings like "90s" into a time.Duration.
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = duration(parsed)
	return nil
}

// fileConfig mirrors Config for YAML decoding. Pointer fields distinguish
// "absent" from zero values so a file only overrides what it names.
type fileConfig struct {
	Server struct {
		Host            *string   `yaml:"host"`
		Port            *string   `yaml:"port"`
		ReadTimeout     *duration `yaml:"read_timeout"`
		WriteTimeout    *duration `yaml:"write_timeout"`
		IdleTimeout     *duration `yaml:"idle_timeout"`
		ShutdownTimeout *duration `yaml:"shutdown_timeout"`
		HealthPort      *string   `yaml:"health_port"`
	} `yaml:"server"`

	Storage struct {
		Type           *string `yaml:"type"`
		FilesystemRoot *string `yaml:"filesystem_root"`

		PostgresURL      *string   `yaml:"postgres_url"`
		PostgresMaxConns *int      `yaml:"postgres_max_conns"`
		PostgresTimeout  *duration `yaml:"postgres_timeout"`

		BlobBackend *string `yaml:"blob_backend"`
		BlobRoot    *string `yaml:"blob_root"`

		S3Endpoint     *string `yaml:"s3_endpoint"`
		S3Region       *string `yaml:"s3_region"`
		S3Bucket       *string `yaml:"s3_bucket"`
		S3AccessKey    *string `yaml:"s3_access_key"`
		S3SecretKey    *string `yaml:"s3_secret_key"`
		S3UsePathStyle *bool   `yaml:"s3_use_path_style"`

		RedisURL           *string   `yaml:"redis_url"`
		RedisPassword      *string   `yaml:"redis_password"`
		RedisDB            *int      `yaml:"redis_db"`
		PermissionCacheTTL *duration `yaml:"permission_cache_ttl"`
	} `yaml:"storage"`

	Sweep struct {
		Enabled  *bool   `yaml:"enabled"`
		Schedule *string `yaml:"schedule"`
	} `yaml:"sweep"`

	Webhooks struct {
		RetryInterval *duration `yaml:"retry_interval"`
		MaxDeliveries *int      `yaml:"max_deliveries"`
	} `yaml:"webhooks"`

	Observability struct {
		LogLevel       *string `yaml:"log_level"`
		MetricsEnabled *bool   `yaml:"metrics_enabled"`
	} `yaml:"observability"`
}

// applyFile overlays values from a YAML config file.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errs.WrapOperation(err, "failed to read config file %s", path)
	}
	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return errs.NewDataFormat("config file %s is not valid YAML: %v", path, err)
	}

	setString(&c.Server.Host, file.Server.Host)
	setString(&c.Server.Port, file.Server.Port)
	setDuration(&c.Server.ReadTimeout, file.Server.ReadTimeout)
	setDuration(&c.Server.WriteTimeout, file.Server.WriteTimeout)
	setDuration(&c.Server.IdleTimeout, file.Server.IdleTimeout)
	setDuration(&c.Server.ShutdownTimeout, file.Server.ShutdownTimeout)
	setString(&c.Server.HealthPort, file.Server.HealthPort)

	setString(&c.Storage.Type, file.Storage.Type)
	setString(&c.Storage.FilesystemRoot, file.Storage.FilesystemRoot)
	setString(&c.Storage.PostgresURL, file.Storage.PostgresURL)
	setInt(&c.Storage.PostgresMaxConns, file.Storage.PostgresMaxConns)
	setDuration(&c.Storage.PostgresTimeout, file.Storage.PostgresTimeout)
	setString(&c.Storage.BlobBackend, file.Storage.BlobBackend)
	setString(&c.Storage.BlobRoot, file.Storage.BlobRoot)
	setString(&c.Storage.S3Endpoint, file.Storage.S3Endpoint)
	setString(&c.Storage.S3Region, file.Storage.S3Region)
	setString(&c.Storage.S3Bucket, file.Storage.S3Bucket)
	setString(&c.Storage.S3AccessKey, file.Storage.S3AccessKey)
	setString(&c.Storage.S3SecretKey, file.Storage.S3SecretKey)
	setBool(&c.Storage.S3UsePathStyle, file.Storage.S3UsePathStyle)
	setString(&c.Storage.RedisURL, file.Storage.RedisURL)
	setString(&c.Storage.RedisPassword, file.Storage.RedisPassword)
	setInt(&c.Storage.RedisDB, file.Storage.RedisDB)
	setDuration(&c.Storage.PermissionCacheTTL, file.Storage.PermissionCacheTTL)

	setBool(&c.Sweep.Enabled, file.Sweep.Enabled)
	setString(&c.Sweep.Schedule, file.Sweep.Schedule)

	setDuration(&c.Webhooks.RetryInterval, file.Webhooks.RetryInterval)
	setInt(&c.Webhooks.MaxDeliveries, file.Webhooks.MaxDeliveries)

	if file.Observability.LogLevel != nil {
		c.Observability.LogLevel = observability.ParseLogLevel(*file.Observability.LogLevel)
	}
	setBool(&c.Observability.MetricsEnabled, file.Observability.MetricsEnabled)

	return nil
}

// applyEnv overlays TROVE_* environment variables.
func (c *Config) applyEnv() {
	envString(&c.Server.Host, "TROVE_HOST")
	envString(&c.Server.Port, "TROVE_PORT")
	envDuration(&c.Server.ReadTimeout, "TROVE_READ_TIMEOUT")
	envDuration(&c.Server.WriteTimeout, "TROVE_WRITE_TIMEOUT")
	envDuration(&c.Server.IdleTimeout, "TROVE_IDLE_TIMEOUT")
	envDuration(&c.Server.ShutdownTimeout, "TROVE_SHUTDOWN_TIMEOUT")
	envString(&c.Server.HealthPort, "TROVE_HEALTH_PORT")

	envString(&c.Storage.Type, "TROVE_STORAGE_TYPE")
	envString(&c.Storage.FilesystemRoot, "TROVE_FILESYSTEM_ROOT")
	envString(&c.Storage.PostgresURL, "TROVE_POSTGRES_URL")
	envInt(&c.Storage.PostgresMaxConns, "TROVE_POSTGRES_MAX_CONNS")
	envDuration(&c.Storage.PostgresTimeout, "TROVE_POSTGRES_TIMEOUT")
	envString(&c.Storage.BlobBackend, "TROVE_BLOB_BACKEND")
	envString(&c.Storage.BlobRoot, "TROVE_BLOB_ROOT")
	envString(&c.Storage.S3Endpoint, "TROVE_S3_ENDPOINT")
	envString(&c.Storage.S3Region, "TROVE_S3_REGION")
	envString(&c.Storage.S3Bucket, "TROVE_S3_BUCKET")
	envString(&c.Storage.S3AccessKey, "TROVE_S3_ACCESS_KEY")
	envString(&c.Storage.S3SecretKey, "TROVE_S3_SECRET_KEY")
	envBool(&c.Storage.S3UsePathStyle, "TROVE_S3_USE_PATH_STYLE")
	envString(&c.Storage.RedisURL, "TROVE_REDIS_URL")
	envString(&c.Storage.RedisPassword, "TROVE_REDIS_PASSWORD")
	envInt(&c.Storage.RedisDB, "TROVE_REDIS_DB")
	envDuration(&c.Storage.PermissionCacheTTL, "TROVE_PERMISSION_CACHE_TTL")

	envBool(&c.Sweep.Enabled, "TROVE_SWEEP_ENABLED")
	envString(&c.Sweep.Schedule, "TROVE_SWEEP_SCHEDULE")

	envDuration(&c.Webhooks.RetryInterval, "TROVE_WEBHOOK_RETRY_INTERVAL")
	envInt(&c.Webhooks.MaxDeliveries, "TROVE_WEBHOOK_MAX_DELIVERIES")

	if value := getEnv("TROVE_LOG_LEVEL", ""); value != "" {
		c.Observability.LogLevel = observability.ParseLogLevel(value)
	}
	envBool(&c.Observability.MetricsEnabled, "TROVE_METRICS_ENABLED")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	// Validate metadata store config based on type
	switch c.Storage.Type {
	case "memory":
		// No external dependencies; intended for development and tests.
	case "filesystem":
		if c.Storage.FilesystemRoot == "" {
			return fmt.Errorf("filesystem root is required for filesystem storage")
		}
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be memory, filesystem, or postgres)", c.Storage.Type)
	}

	// Validate blob store config
	switch c.Storage.BlobBackend {
	case "filesystem":
		if c.Storage.BlobRoot == "" {
			return fmt.Errorf("blob root is required for filesystem blob storage")
		}
	case "s3":
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("S3 bucket is required for s3 blob storage")
		}
		if c.Storage.S3Region == "" && c.Storage.S3Endpoint == "" {
			return fmt.Errorf("S3 region or endpoint is required for s3 blob storage")
		}
	default:
		return fmt.Errorf("invalid blob backend: %s (must be filesystem or s3)", c.Storage.BlobBackend)
	}

	// Validate sweep config
	if c.Sweep.Enabled && c.Sweep.Schedule == "" {
		return fmt.Errorf("sweep schedule is required when sweeping is enabled")
	}

	// Validate webhook config
	if c.Webhooks.RetryInterval <= 0 {
		return fmt.Errorf("webhook retry interval must be positive")
	}
	if c.Webhooks.MaxDeliveries <= 0 {
		return fmt.Errorf("webhook max deliveries must be positive")
	}

	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *duration) {
	if src != nil {
		*dst = time.Duration(*src)
	}
}

func envString(dst *string, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}

func envBool(dst *bool, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = strings.ToLower(value) == "true" || value == "1"
	}
}

func envInt(dst *int, key string) {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			*dst = intVal
		}
	}
}

func envDuration(dst *time.Duration, key string) {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			*dst = duration
		}
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
