package config

import (
	"fmt"
	"slices"
	"time"
)

// Environment constants
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
	StoreS3       = "s3"
)

// Sender modes.
const (
	SenderModePool  = "pool"
	SenderModeQueue = "queue"
)

// Config holds all application configuration.
type Config struct {
	App        AppConfig
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	S3         S3Config
	Log        LogConfig
	Auth       AuthConfig
	RateLimit  RateLimitConfig
	Encryption EncryptionConfig
	WebHooks   WebHooksConfig
	Sender     SenderConfig
	Queue      QueueConfig
	Filters    FiltersConfig
	Tracing    TracingConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Name    string
	Env     string
	Version string
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	RequestTimeout  time.Duration // Per-request handler timeout
	ShutdownTimeout time.Duration
	MaxBodySize     int64
	AllowedOrigins  []string // websocket origins; empty means same host only
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host          string
	Port          int
	Password      string
	DB            int
	PoolSize      int
	MinIdleConns  int
	DialTimeout   time.Duration
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	MaxRetries    int
	MinRetryDelay time.Duration
	MaxRetryDelay time.Duration
	KeyPrefix     string
	TLSEnabled    bool
	TLSSkipVerify bool
}

// S3Config holds the object store used when WEBHOOK_STORE=s3.
type S3Config struct {
	Bucket    string
	Region    string
	Prefix    string // key prefix inside the bucket
	Endpoint  string // custom endpoint for S3-compatible services
	AccessKey string // static credentials; the default chain is used when empty
	SecretKey string
	LockTTL   time.Duration // lease on the per-user insert lock
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level           string
	Format          string
	File            string
	FileMaxSizeMB   int
	FileMaxBackups  int
	FileMaxAgeDays  int
	Async           bool
	AsyncBufferSize int
	SkipHealthLogs  bool
	Sampling        bool
	SampleFirst     int
	SampleEvery     int
}

// AuthConfig holds bearer token validation settings.
type AuthConfig struct {
	JWTSecret           string
	JWTIssuer           string
	AccessTokenDuration time.Duration
}

// RateLimitConfig limits control API requests per client IP.
type RateLimitConfig struct {
	Enabled         bool
	RequestsPerSec  float64
	Burst           int
	CleanupInterval time.Duration
	// Distributed shares the limit across instances through Redis.
	Distributed bool
}

// EncryptionConfig holds the master key used to protect secrets at rest.
type EncryptionConfig struct {
	Key       string
	KeyFormat string // "raw", "hex" or "base64"; detected from length when empty
	Purpose   string
}

// IsConfigured returns true if a master key was supplied.
func (c *EncryptionConfig) IsConfigured() bool {
	return c.Key != ""
}

// WebHooksConfig holds registration policy.
type WebHooksConfig struct {
	Store                string
	MaxPerUser           int
	AllowPrivateNetworks bool
	AllowHTTP            bool
	BroadcastBatchSize   int
}

// SenderConfig holds delivery settings.
type SenderConfig struct {
	Mode            string
	Concurrency     int
	QueueSize       int
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Jitter          float64
	Timeout         time.Duration
	HostRate        float64
	HostBurst       int
	HostLimitHosts  int // hosts tracked by the per-host limiter
	UserAgent       string

	DeliveryLogSize      int
	DeliveryLogRetention time.Duration
	DeliveryLogPruneCron string
}

// QueueConfig holds the durable delivery queue settings.
type QueueConfig struct {
	Concurrency     int
	Name            string
	ShutdownTimeout time.Duration
}

// FiltersConfig points at an optional YAML file of additional filters.
type FiltersConfig struct {
	File        string
	Watch       bool
	RefreshCron string
}

// TracingConfig configures OTLP trace export.
type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name:    getEnv("APP_NAME", "webhooks"),
			Env:     getEnv("APP_ENV", EnvDevelopment),
			Version: getEnv("APP_VERSION", "dev"),
		},
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			RequestTimeout:  getEnvDuration("SERVER_REQUEST_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			MaxBodySize:     getEnvInt64("SERVER_MAX_BODY_SIZE", 1<<20),
			AllowedOrigins:  getEnvSlice("SERVER_ALLOWED_ORIGINS", nil),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "webhooks"),
			Password:        getEnv("DB_PASSWORD", ""),
			Name:            getEnv("DB_NAME", "webhooks"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:          getEnv("REDIS_HOST", "localhost"),
			Port:          getEnvInt("REDIS_PORT", 6379),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getEnvInt("REDIS_DB", 0),
			PoolSize:      getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns:  getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:   getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:   getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout:  getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			MaxRetries:    getEnvInt("REDIS_MAX_RETRIES", 3),
			MinRetryDelay: getEnvDuration("REDIS_MIN_RETRY_DELAY", 100*time.Millisecond),
			MaxRetryDelay: getEnvDuration("REDIS_MAX_RETRY_DELAY", 3*time.Second),
			KeyPrefix:     getEnv("REDIS_KEY_PREFIX", "webhooks"),
			TLSEnabled:    getEnvBool("REDIS_TLS_ENABLED", false),
			TLSSkipVerify: getEnvBool("REDIS_TLS_SKIP_VERIFY", false),
		},
		S3: S3Config{
			Bucket:    getEnv("S3_BUCKET", ""),
			Region:    getEnv("S3_REGION", "us-east-1"),
			Prefix:    getEnv("S3_PREFIX", "webhooks"),
			Endpoint:  getEnv("S3_ENDPOINT", ""),
			AccessKey: getEnv("S3_ACCESS_KEY", ""),
			SecretKey: getEnv("S3_SECRET_KEY", ""),
			LockTTL:   getEnvDuration("S3_LOCK_TTL", 30*time.Second),
		},
		Log: LogConfig{
			Level:           getEnv("LOG_LEVEL", "info"),
			Format:          getEnv("LOG_FORMAT", "json"),
			File:            getEnv("LOG_FILE", ""),
			FileMaxSizeMB:   getEnvInt("LOG_FILE_MAX_SIZE_MB", 100),
			FileMaxBackups:  getEnvInt("LOG_FILE_MAX_BACKUPS", 5),
			FileMaxAgeDays:  getEnvInt("LOG_FILE_MAX_AGE_DAYS", 14),
			Async:           getEnvBool("LOG_ASYNC", false),
			AsyncBufferSize: getEnvInt("LOG_ASYNC_BUFFER_SIZE", 4096),
			SkipHealthLogs:  getEnvBool("LOG_SKIP_HEALTH", true),
			Sampling:        getEnvBool("LOG_SAMPLING", false),
			SampleFirst:     getEnvInt("LOG_SAMPLING_FIRST", 100),
			SampleEvery:     getEnvInt("LOG_SAMPLING_EVERY", 10),
		},
		Auth: AuthConfig{
			JWTSecret:           getEnv("AUTH_JWT_SECRET", ""),
			JWTIssuer:           getEnv("AUTH_JWT_ISSUER", "webhooks"),
			AccessTokenDuration: getEnvDuration("AUTH_ACCESS_TOKEN_DURATION", 15*time.Minute),
		},
		RateLimit: RateLimitConfig{
			Enabled:         getEnvBool("RATE_LIMIT_ENABLED", true),
			RequestsPerSec:  getEnvFloat("RATE_LIMIT_RPS", 20),
			Burst:           getEnvInt("RATE_LIMIT_BURST", 40),
			CleanupInterval: getEnvDuration("RATE_LIMIT_CLEANUP", time.Minute),
			Distributed:     getEnvBool("RATE_LIMIT_DISTRIBUTED", false),
		},
		Encryption: EncryptionConfig{
			Key:       getEnv("ENCRYPTION_KEY", ""),
			KeyFormat: getEnv("ENCRYPTION_KEY_FORMAT", ""),
			Purpose:   getEnv("ENCRYPTION_PURPOSE", "webhooks.registrations.v1"),
		},
		WebHooks: WebHooksConfig{
			Store:                getEnv("WEBHOOK_STORE", StoreMemory),
			MaxPerUser:           getEnvInt("WEBHOOK_MAX_PER_USER", 50),
			AllowPrivateNetworks: getEnvBool("WEBHOOK_ALLOW_PRIVATE_NETWORKS", false),
			AllowHTTP:            getEnvBool("WEBHOOK_ALLOW_HTTP", true),
			BroadcastBatchSize:   getEnvInt("WEBHOOK_BROADCAST_BATCH", 500),
		},
		Sender: SenderConfig{
			Mode:                 getEnv("SENDER_MODE", SenderModePool),
			Concurrency:          getEnvInt("SENDER_CONCURRENCY", 10),
			QueueSize:            getEnvInt("SENDER_QUEUE_SIZE", 1000),
			MaxAttempts:          getEnvInt("SENDER_MAX_ATTEMPTS", 5),
			InitialInterval:      getEnvDuration("SENDER_INITIAL_INTERVAL", time.Second),
			MaxInterval:          getEnvDuration("SENDER_MAX_INTERVAL", 5*time.Minute),
			Multiplier:           getEnvFloat("SENDER_MULTIPLIER", 2.0),
			Jitter:               getEnvFloat("SENDER_JITTER", 0.25),
			Timeout:              getEnvDuration("SENDER_TIMEOUT", 30*time.Second),
			HostRate:             getEnvFloat("SENDER_HOST_RATE", 0),
			HostBurst:            getEnvInt("SENDER_HOST_BURST", 10),
			HostLimitHosts:       getEnvInt("SENDER_HOST_LIMIT_HOSTS", 10000),
			UserAgent:            getEnv("SENDER_USER_AGENT", "Webhooks/1.0"),
			DeliveryLogSize:      getEnvInt("DELIVERY_LOG_SIZE", 10000),
			DeliveryLogRetention: getEnvDuration("DELIVERY_LOG_RETENTION", 24*time.Hour),
			DeliveryLogPruneCron: getEnv("DELIVERY_LOG_PRUNE_CRON", "@every 10m"),
		},
		Queue: QueueConfig{
			Concurrency:     getEnvInt("QUEUE_CONCURRENCY", 10),
			Name:            getEnv("QUEUE_NAME", "webhooks"),
			ShutdownTimeout: getEnvDuration("QUEUE_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Filters: FiltersConfig{
			File:        getEnv("FILTERS_FILE", ""),
			Watch:       getEnvBool("FILTERS_WATCH", false),
			RefreshCron: getEnv("FILTERS_REFRESH_CRON", ""),
		},
		Tracing: TracingConfig{
			Enabled:     getEnvBool("OTEL_ENABLED", false),
			Endpoint:    getEnv("OTEL_ENDPOINT", "localhost:4318"),
			Insecure:    getEnvBool("OTEL_INSECURE", true),
			SampleRatio: getEnvFloat("OTEL_SAMPLE_RATIO", 1.0),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := c.validateBasic(); err != nil {
		return err
	}
	if c.App.Env == EnvProduction {
		return c.validateProduction()
	}
	return nil
}

func (c *Config) validateBasic() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if err := c.validateLog(); err != nil {
		return err
	}
	if err := c.validateEncryption(); err != nil {
		return err
	}
	if err := c.validateWebHooks(); err != nil {
		return err
	}
	return c.validateSender()
}

func (c *Config) validateLog() error {
	if !slices.Contains([]string{"", "debug", "info", "warn", "warning", "error"}, lower(c.Log.Level)) {
		return fmt.Errorf("invalid LOG_LEVEL: %s (must be debug, info, warn, or error)", c.Log.Level)
	}
	if !slices.Contains([]string{"", "json", "text"}, lower(c.Log.Format)) {
		return fmt.Errorf("invalid LOG_FORMAT: %s (must be json or text)", c.Log.Format)
	}
	return nil
}

func (c *Config) validateEncryption() error {
	if c.Encryption.Key == "" {
		return nil
	}
	if c.Encryption.Purpose == "" {
		return fmt.Errorf("ENCRYPTION_PURPOSE must not be empty when ENCRYPTION_KEY is set")
	}

	keyLen := len(c.Encryption.Key)
	if c.Encryption.KeyFormat == "" {
		switch keyLen {
		case 32:
			c.Encryption.KeyFormat = "raw"
		case 64:
			c.Encryption.KeyFormat = "hex"
		case 44:
			c.Encryption.KeyFormat = "base64"
		default:
			return fmt.Errorf("ENCRYPTION_KEY has invalid length %d (expected 32 raw, 64 hex, or 44 base64)", keyLen)
		}
	}

	switch c.Encryption.KeyFormat {
	case "raw", "hex", "base64":
	default:
		return fmt.Errorf("ENCRYPTION_KEY_FORMAT must be 'raw', 'hex', or 'base64', got '%s'", c.Encryption.KeyFormat)
	}
	return nil
}

func (c *Config) validateWebHooks() error {
	switch c.WebHooks.Store {
	case StoreMemory, StorePostgres, StoreRedis:
	case StoreS3:
		if c.S3.Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when WEBHOOK_STORE=s3")
		}
		if c.S3.LockTTL <= 0 {
			return fmt.Errorf("S3_LOCK_TTL must be positive, got %s", c.S3.LockTTL)
		}
		if (c.S3.AccessKey == "") != (c.S3.SecretKey == "") {
			return fmt.Errorf("S3_ACCESS_KEY and S3_SECRET_KEY must be set together")
		}
	default:
		return fmt.Errorf("WEBHOOK_STORE must be memory, postgres, redis or s3, got %q", c.WebHooks.Store)
	}
	if c.WebHooks.MaxPerUser < 0 {
		return fmt.Errorf("WEBHOOK_MAX_PER_USER must be non-negative, got %d", c.WebHooks.MaxPerUser)
	}
	if c.WebHooks.BroadcastBatchSize < 1 {
		return fmt.Errorf("WEBHOOK_BROADCAST_BATCH must be positive, got %d", c.WebHooks.BroadcastBatchSize)
	}
	return nil
}

func (c *Config) validateSender() error {
	s := c.Sender
	switch s.Mode {
	case SenderModePool:
	case SenderModeQueue:
		if c.Queue.Concurrency < 1 {
			return fmt.Errorf("QUEUE_CONCURRENCY must be positive, got %d", c.Queue.Concurrency)
		}
	default:
		return fmt.Errorf("SENDER_MODE must be pool or queue, got %q", s.Mode)
	}
	if s.Concurrency < 1 {
		return fmt.Errorf("SENDER_CONCURRENCY must be positive, got %d", s.Concurrency)
	}
	if s.QueueSize < 1 {
		return fmt.Errorf("SENDER_QUEUE_SIZE must be positive, got %d", s.QueueSize)
	}
	if s.MaxAttempts < 1 {
		return fmt.Errorf("SENDER_MAX_ATTEMPTS must be at least 1, got %d", s.MaxAttempts)
	}
	if s.InitialInterval <= 0 || s.MaxInterval < s.InitialInterval {
		return fmt.Errorf("SENDER_INITIAL_INTERVAL must be positive and not exceed SENDER_MAX_INTERVAL")
	}
	if s.Multiplier <= 1 {
		return fmt.Errorf("SENDER_MULTIPLIER must be greater than 1, got %f", s.Multiplier)
	}
	if s.Jitter < 0 || s.Jitter >= 1 {
		return fmt.Errorf("SENDER_JITTER must be in [0, 1), got %f", s.Jitter)
	}
	return nil
}

func (c *Config) validateProduction() error {
	if c.Auth.JWTSecret == "" || len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("AUTH_JWT_SECRET must be at least 32 characters in production")
	}
	if !c.Encryption.IsConfigured() {
		return fmt.Errorf("ENCRYPTION_KEY is required in production")
	}
	if c.WebHooks.AllowPrivateNetworks {
		return fmt.Errorf("WEBHOOK_ALLOW_PRIVATE_NETWORKS must be false in production")
	}
	if c.WebHooks.Store == StoreMemory {
		return fmt.Errorf("WEBHOOK_STORE=memory is not durable and not allowed in production")
	}
	return nil
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Addr returns the Redis address.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Addr returns the HTTP server address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsProduction returns true if the application is in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Env == EnvProduction
}

// NeedsRedis reports whether any configured component talks to Redis.
func (c *Config) NeedsRedis() bool {
	return c.WebHooks.Store == StoreRedis || c.Sender.Mode == SenderModeQueue ||
		(c.RateLimit.Enabled && c.RateLimit.Distributed)
}
