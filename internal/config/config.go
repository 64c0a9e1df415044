// Package config provides centralized configuration management for the
// import server and CLI. It loads configuration from environment variables
// with defaults and validates all settings on startup to fail fast on
// misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Remote     RemoteConfig
	Import     ImportConfig
	Checkpoint CheckpointConfig
	Rate       RateLimitConfig
	Security   SecurityConfig
	Logging    LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 30s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"30s"`

	// WriteTimeout is the maximum duration for writing response (default: 0 for SSE)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds graceful shutdown, including checkpoint writes (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for non-streaming requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds Postgres connection settings. The URL is required
// only when Postgres is used as the remote or the checkpoint backend.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 10)
	MaxConns int `env:"DB_MAX_CONNS" default:"10"`

	// MinConns is the minimum number of connections to keep open (default: 2)
	MinConns int `env:"DB_MIN_CONNS" default:"2"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// RemoteConfig selects where imported rows are written.
type RemoteConfig struct {
	// Backend is "postgres" (direct pool) or "rest" (hosted REST API) (default: postgres)
	Backend string `env:"REMOTE_BACKEND" default:"postgres"`

	// URL is the base URL of the hosted REST API
	URL string `env:"REMOTE_URL"`

	// APIKey authenticates against the hosted REST API
	APIKey string `env:"REMOTE_API_KEY"`

	// Timeout bounds a single REST request (default: 30s)
	Timeout time.Duration `env:"REMOTE_TIMEOUT" default:"30s"`
}

// ImportConfig holds the import engine tunables.
type ImportConfig struct {
	// MaxRetries is the number of retries after a failed upsert (default: 3)
	MaxRetries int `env:"IMPORT_MAX_RETRIES" default:"3"`

	// BackoffBase is the first retry delay; it doubles per attempt (default: 1s)
	BackoffBase time.Duration `env:"IMPORT_BACKOFF_BASE" default:"1s"`

	// CheckpointInterval is the number of rows between checkpoint writes (default: 10)
	CheckpointInterval int `env:"IMPORT_CHECKPOINT_INTERVAL" default:"10"`

	// ChunkSize is the number of rows between yields (default: 50)
	ChunkSize int `env:"IMPORT_CHUNK_SIZE" default:"50"`

	// YieldDelay is the pause taken at each yield (default: 10ms)
	YieldDelay time.Duration `env:"IMPORT_YIELD_DELAY" default:"10ms"`

	// ETAMinSamples is the rows since resume before an ETA is shown (default: 3)
	ETAMinSamples int `env:"IMPORT_ETA_MIN_SAMPLES" default:"3"`

	// MaxFileSize is the maximum upload size, e.g. "20MB" (default: 20MB)
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" default:"20MB" size:"true"`

	// MaxConcurrent is the maximum number of runs processing at once (default: 4)
	MaxConcurrent int `env:"IMPORT_MAX_CONCURRENT" default:"4"`

	// RunTTL is how long finished runs stay queryable (default: 30m)
	RunTTL time.Duration `env:"IMPORT_RUN_TTL" default:"30m"`
}

// CheckpointConfig selects and tunes the checkpoint store.
type CheckpointConfig struct {
	// Backend is "file", "redis", "postgres" or "memory" (default: file)
	Backend string `env:"CHECKPOINT_BACKEND" default:"file"`

	// Dir is the file store directory (default: .import-checkpoints)
	Dir string `env:"CHECKPOINT_DIR" default:".import-checkpoints"`

	// RedisAddr is the Redis address (default: localhost:6379)
	RedisAddr string `env:"REDIS_ADDR" default:"localhost:6379"`

	// RedisPassword authenticates against Redis
	RedisPassword string `env:"REDIS_PASSWORD"`

	// RedisDB selects the Redis database (default: 0)
	RedisDB int `env:"REDIS_DB" default:"0"`

	// TTL expires Redis checkpoints; 0 keeps them until deleted (default: 0)
	TTL time.Duration `env:"CHECKPOINT_TTL" default:"0s"`

	// MaxAge is the age after which the sweeper deletes a checkpoint (default: 168h)
	MaxAge time.Duration `env:"CHECKPOINT_MAX_AGE" default:"168h"`

	// SweepSchedule is the cron schedule of the sweeper; empty disables it (default: @every 1h)
	SweepSchedule string `env:"CHECKPOINT_SWEEP_SCHEDULE" default:"@every 1h"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 120)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"120"`

	// UploadLimit is requests per minute for upload endpoints (default: 10)
	UploadLimit int `env:"RATE_LIMIT_UPLOAD" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`

	// RequireAPIKey rejects API requests without a valid X-API-Key (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted API keys
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`

	// File additionally writes logs to a rotated file when set
	File string `env:"LOG_FILE"`

	// MaxSizeMB is the size at which the log file rotates (default: 100)
	MaxSizeMB int `env:"LOG_MAX_SIZE_MB" default:"100"`

	// MaxBackups is the number of rotated files kept (default: 5)
	MaxBackups int `env:"LOG_MAX_BACKUPS" default:"5"`

	// MaxAgeDays is the retention of rotated files (default: 28)
	MaxAgeDays int `env:"LOG_MAX_AGE_DAYS" default:"28"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// NeedsDatabase reports whether any component is backed by Postgres.
func (c *Config) NeedsDatabase() bool {
	return c.Remote.Backend == "postgres" || c.Checkpoint.Backend == "postgres"
}
