// Package config handles loading application configuration from environment
// variables. All config is centralized here so no other package reads env
// vars directly. Sensible defaults are provided for development.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
)

// Config holds all application configuration. Populated from environment
// variables at startup. Passed to other packages via dependency injection.
type Config struct {
	// Env is the runtime environment: "development" or "production".
	Env string

	// Port is the HTTP listen port (default: 8080).
	Port int

	// BaseURL is the public-facing URL used for CORS and redirects.
	BaseURL string

	// LogLevel controls log verbosity: "debug", "info", "warn", "error".
	LogLevel string

	// Database holds MariaDB connection settings.
	Database DatabaseConfig

	// Redis holds Redis connection settings.
	Redis RedisConfig

	// Auth holds authentication and access-control settings.
	Auth AuthConfig
}

// DatabaseConfig holds MariaDB connection parameters. Individual fields
// (Host, User, Password, Name) are read from separate env vars so container
// orchestrators can manage each independently. If DATABASE_URL is set, it
// takes precedence over the individual fields.
type DatabaseConfig struct {
	// Host is the MariaDB address in host:port format (default: "localhost:3306").
	// If no port is specified, 3306 is appended automatically.
	Host string

	// User is the MariaDB username (default: "gearstock").
	User string

	// Password is the MariaDB password (default: "gearstock").
	Password string

	// Name is the database name (default: "gearstock").
	Name string

	// dsnOverride is set when DATABASE_URL is provided, bypassing individual fields.
	dsnOverride string

	// MaxOpenConns is the maximum number of open connections in the pool.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections in the pool.
	MaxIdleConns int

	// ConnMaxLifetime is how long a connection can be reused.
	ConnMaxLifetime time.Duration
}

// DSN returns the go-sql-driver/mysql connection string. If DATABASE_URL was
// set, it is returned as-is. Otherwise the DSN is built from the individual
// Host/User/Password/Name fields using the driver's Config.FormatDSN()
// to safely handle special characters in passwords.
func (d DatabaseConfig) DSN() string {
	if d.dsnOverride != "" {
		return d.dsnOverride
	}
	cfg := mysql.NewConfig()
	cfg.User = d.User
	cfg.Passwd = d.Password
	cfg.Net = "tcp"
	cfg.Addr = ensurePort(d.Host, "3306")
	cfg.DBName = d.Name
	cfg.ParseTime = true
	return cfg.FormatDSN()
}

// ensurePort appends the default port if the host string doesn't include one.
// Allows users to set DB_HOST=mydb (gets :3306) or DB_HOST=mydb:3307 (as-is).
func ensurePort(host, defaultPort string) string {
	_, _, err := net.SplitHostPort(host)
	if err != nil {
		return net.JoinHostPort(host, defaultPort)
	}
	return host
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., "redis://localhost:6379").
	URL string

	// SharedRateLimit selects the Redis-backed attempt counter store so
	// login throttling is consistent across replicas. When false the
	// limiter keeps process-local state, which is best-effort only.
	SharedRateLimit bool
}

// AuthConfig holds authentication and access-control settings. The token
// wire format and the cookie names are fixed for compatibility with the
// dashboard frontend; only the knobs below are configurable.
type AuthConfig struct {
	// SessionSecret is the HMAC-SHA256 key for session tokens.
	SessionSecret string

	// TokenMaxAge bounds session token lifetime, checked at verification
	// time (default: 168h = 7 days).
	TokenMaxAge time.Duration

	// RateLimitAttempts is the number of login attempts allowed per
	// (client IP, phone) key within RateLimitWindow (default: 5).
	RateLimitAttempts int

	// RateLimitWindow is the rolling window for login throttling
	// (default: 15m).
	RateLimitWindow time.Duration

	// LockoutThreshold is the cumulative failed-attempt count that locks
	// an account (default: 10).
	LockoutThreshold int

	// LockoutDuration is how long a locked account rejects logins
	// (default: 30m).
	LockoutDuration time.Duration
}

// Load reads configuration from environment variables with sensible
// defaults. A .env file in the working directory is applied first if
// present (real environment variables win). Returns an error if required
// variables are missing in production.
func Load() (*Config, error) {
	// Ignore a missing .env -- it's a dev convenience, not a requirement.
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		BaseURL:  getEnv("BASE_URL", "http://localhost:8080"),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost:3306"),
			User:            getEnv("DB_USER", "gearstock"),
			Password:        getEnv("DB_PASSWORD", "gearstock"),
			Name:            getEnv("DB_NAME", "gearstock"),
			dsnOverride:     getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},

		Redis: RedisConfig{
			URL:             getEnv("REDIS_URL", "redis://localhost:6379"),
			SharedRateLimit: getEnvBool("RATE_LIMIT_SHARED", false),
		},

		Auth: AuthConfig{
			SessionSecret:     getEnv("SESSION_SECRET", ""),
			TokenMaxAge:       getEnvDuration("SESSION_MAX_AGE", 168*time.Hour),
			RateLimitAttempts: getEnvInt("LOGIN_RATE_LIMIT_ATTEMPTS", 5),
			RateLimitWindow:   getEnvDuration("LOGIN_RATE_LIMIT_WINDOW", 15*time.Minute),
			LockoutThreshold:  getEnvInt("LOCKOUT_THRESHOLD", 10),
			LockoutDuration:   getEnvDuration("LOCKOUT_DURATION", 30*time.Minute),
		},
	}

	// Validate required fields in production. Case-insensitive check catches
	// common variants like "Production", "prod", etc.
	envLower := strings.ToLower(cfg.Env)
	if envLower == "production" || envLower == "prod" {
		if cfg.Auth.SessionSecret == "" {
			return nil, fmt.Errorf("SESSION_SECRET is required in production")
		}
		if len(cfg.Auth.SessionSecret) < 32 {
			return nil, fmt.Errorf("SESSION_SECRET must be at least 32 characters in production")
		}
	}

	// Provide a dev-only default secret so local dev works without .env.
	if cfg.Auth.SessionSecret == "" {
		cfg.Auth.SessionSecret = "dev-session-secret-do-not-use-in-prod!!"
	}

	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	env := strings.ToLower(c.Env)
	return env == "development" || env == "dev"
}

// --- Helper functions for reading environment variables ---

// getEnv reads a string env var or returns the default.
func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvInt reads an integer env var or returns the default.
func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvBool reads a boolean env var ("true"/"1") or returns the default.
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvDuration reads a duration env var (e.g., "168h") or returns the default.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
