// Package config provides centralized configuration management for the intake
// server. Configuration is read from an optional YAML file and then from
// environment variables, with defaults for everything but the database URL,
// and validated on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Database DatabaseConfig  `yaml:"database"`
	Import   ImportConfig    `yaml:"import"`
	CaseAPI  CaseAPIConfig   `yaml:"case_api"`
	Rate     RateLimitConfig `yaml:"rate"`
	Security SecurityConfig  `yaml:"security"`
	Logging  LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `yaml:"host" env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `yaml:"port" env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 60s)
	ReadTimeout time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT" default:"60s"`

	// WriteTimeout is the maximum duration for writing response (default: 0 for SSE)
	WriteTimeout time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for non-streaming requests (default: 60s)
	RequestTimeout time.Duration `yaml:"request_timeout" env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Driver selects the store: postgres or sqlite (default: postgres)
	Driver string `yaml:"driver" env:"DB_DRIVER" default:"postgres"`

	// URL is the connection string, or a file path for sqlite (required).
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `yaml:"url" env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `yaml:"max_conns" env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 2)
	MinConns int `yaml:"min_conns" env:"DB_MIN_CONNS" default:"2"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime" env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time" env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// ImportConfig holds CSV import and submission settings.
type ImportConfig struct {
	// MaxFileSize is the maximum accepted file size in bytes (default: 50MB)
	MaxFileSize int64 `yaml:"max_file_size" env:"IMPORT_MAX_FILE_SIZE" default:"52428800"`

	// MaxRows is the maximum number of data rows per file (default: 50000)
	MaxRows int `yaml:"max_rows" env:"IMPORT_MAX_ROWS" default:"50000"`

	// MaxConcurrentParses bounds parses running at once across operators (default: 5)
	MaxConcurrentParses int `yaml:"max_concurrent_parses" env:"IMPORT_MAX_CONCURRENT_PARSES" default:"5"`

	// ParseWait is how long an upload waits for a parse slot (default: 30s)
	ParseWait time.Duration `yaml:"parse_wait" env:"IMPORT_PARSE_WAIT" default:"30s"`

	// ParseTimeout bounds a single parse (default: 5m)
	ParseTimeout time.Duration `yaml:"parse_timeout" env:"IMPORT_PARSE_TIMEOUT" default:"5m"`

	// RequestTimeout bounds each import-record and case-batch request (default: 30s)
	RequestTimeout time.Duration `yaml:"request_timeout" env:"IMPORT_REQUEST_TIMEOUT" default:"30s"`

	// SessionTTL is how long an untouched session is kept (default: 2h)
	SessionTTL time.Duration `yaml:"session_ttl" env:"IMPORT_SESSION_TTL" default:"2h"`

	// ReaperInterval is how often idle sessions are swept (default: 10m)
	ReaperInterval time.Duration `yaml:"reaper_interval" env:"IMPORT_REAPER_INTERVAL" default:"10m"`
}

// CaseAPIConfig points the submitter at a remote case service. When BaseURL
// is empty, cases are written to the local database.
type CaseAPIConfig struct {
	BaseURL string `yaml:"base_url" env:"CASE_API_URL"`
	Token   string `yaml:"token" env:"CASE_API_TOKEN"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `yaml:"enabled" env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 300)
	RequestsPerMinute int `yaml:"requests_per_minute" env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"300"`

	// UploadLimit is requests per minute for the upload endpoint (default: 10)
	UploadLimit int `yaml:"upload_limit" env:"RATE_LIMIT_UPLOAD" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `yaml:"trusted_proxies" env:"TRUSTED_PROXIES"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `yaml:"enable_csp" env:"SECURITY_ENABLE_CSP" default:"true"`

	// RequireAuth rejects /api requests without an operator identity (default: true)
	RequireAuth bool `yaml:"require_auth" env:"SECURITY_REQUIRE_AUTH" default:"true"`

	// APIKeys is a comma-separated list of operator=key pairs
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`

	// JWTSecret signs operator bearer tokens (HS256)
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`

	// TokenTTL is the lifetime of issued tokens (default: 12h)
	TokenTTL time.Duration `yaml:"token_ttl" env:"JWT_TOKEN_TTL" default:"12h"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `yaml:"level" env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `yaml:"format" env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// UsesCaseAPI reports whether submissions go to a remote case service.
func (c *CaseAPIConfig) UsesCaseAPI() bool { return c.BaseURL != "" }
