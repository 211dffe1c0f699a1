// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import "time"

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	QBO      QBOConfig
	Import   ImportConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 0 for SSE)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// QBOConfig holds QuickBooks Online API credentials and endpoints.
type QBOConfig struct {
	// ClientID is the Intuit app client id (required)
	ClientID string `env:"QBO_CLIENT_ID" required:"true"`

	// ClientSecret is the Intuit app client secret (required)
	ClientSecret string `env:"QBO_CLIENT_SECRET" required:"true"`

	// BaseURL is the API root; the default targets the sandbox environment
	BaseURL string `env:"QBO_BASE_URL" default:"https://sandbox-quickbooks.api.intuit.com/v3/company"`

	// TokenURL is the OAuth2 token endpoint used for refresh
	TokenURL string `env:"QBO_TOKEN_URL" default:"https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer"`

	// MinorVersion is sent as a query parameter on every API call (default: 75)
	MinorVersion string `env:"QBO_MINOR_VERSION" default:"75"`

	// Timeout bounds each outbound API call (default: 30s)
	Timeout time.Duration `env:"QBO_TIMEOUT" default:"30s"`

	// RequestsPerSecond throttles outbound API calls per user (default: 5)
	RequestsPerSecond float64 `env:"QBO_REQUESTS_PER_SECOND" default:"5"`
}

// ImportConfig holds CSV import pipeline settings.
type ImportConfig struct {
	// MaxFileSize is the maximum allowed upload size in bytes (default: 20MB)
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" default:"20971520"`

	// PreviewRows is how many parsed rows the upload response includes (default: 50)
	PreviewRows int `env:"IMPORT_PREVIEW_ROWS" default:"50"`

	// Workers is the number of background job workers (default: 2)
	Workers int `env:"IMPORT_WORKERS" default:"2"`

	// PollInterval is how often an idle worker checks for queued jobs (default: 2s)
	PollInterval time.Duration `env:"IMPORT_POLL_INTERVAL" default:"2s"`

	// MaxAttempts is how many times a crashed job run is retried (default: 3)
	MaxAttempts int `env:"IMPORT_MAX_ATTEMPTS" default:"3"`

	// RetryDelay is the base backoff before a failed run is retried (default: 1m)
	RetryDelay time.Duration `env:"IMPORT_RETRY_DELAY" default:"1m"`

	// JobTimeout is the wall-clock budget for one job run (default: 30m)
	JobTimeout time.Duration `env:"IMPORT_JOB_TIMEOUT" default:"30m"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// UploadLimit is requests per minute for upload endpoints (default: 10)
	UploadLimit int `env:"RATE_LIMIT_UPLOAD" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// RequireAPIKey controls whether requests must carry X-API-Key (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted API keys
	APIKeys []string `env:"API_KEYS"`

	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	if c.Host == "" {
		return ":" + itoa(c.Port)
	}
	return c.Host + ":" + itoa(c.Port)
}

// itoa converts an int to string without importing strconv in this file.
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	n := len(b)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		n--
		b[n] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		n--
		b[n] = '-'
	}
	return string(b[n:])
}
