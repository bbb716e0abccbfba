// Package config provides application configuration management with environment
// variable loading, validation, and sensible defaults. It supports .env files
// for local development and validates all required settings on startup so the
// shell never boots with a half-configured auth backend.
//
// Example usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal().Err(err).Msg("Failed to load configuration")
//	}
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Auth       AuthConfig
	Navigation NavigationConfig
	Device     DeviceConfig
	Cache      CacheConfig
	RateLimit  RateLimitConfig
}

// ServerConfig holds settings for the shell's HTTP control surface.
type ServerConfig struct {
	Port           string
	Environment    string
	LogLevel       string
	AllowedOrigins []string // Origins allowed to drive the control surface
}

// DatabaseConfig holds PostgreSQL configuration for the profiles table.
type DatabaseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
	MaxConns int // Maximum number of connections in the pool
}

// RedisConfig holds Redis configuration. Redis backs the persisted session
// slot, the profile cache and rate-limit counters.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	PoolSize int
}

// AuthConfig describes the remote auth backend.
type AuthConfig struct {
	BaseURL         string        // e.g. https://xyz.supabase.co/auth/v1
	APIKey          string        // Sent as the "apikey" header on every call
	ClientID        string        // OAuth2 client id used for the password/refresh grants
	JWTSecret       []byte        // Optional; enables HS256 verification of access tokens
	MinSecretLength int           // Minimum password length enforced before sign-up
	RequestTimeout  time.Duration // Per-call timeout for backend requests
	ClockSkew       time.Duration // Tolerance when judging access token expiry locally
}

// TokenURL returns the OAuth2 token endpoint of the backend.
func (c *AuthConfig) TokenURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/token"
}

// NavigationConfig names the screen groups and the two redirect targets.
type NavigationConfig struct {
	AuthGroup       string   // Group holding the unauthenticated screens
	ProtectedGroups []string // Groups that require an authenticated user
	LoginPath       string
	HomePath        string
}

// DeviceConfig identifies this installation. The persisted session slot is
// keyed by InstallationID.
type DeviceConfig struct {
	InstallationID string
	UserAgent      string
}

// CacheConfig holds profile cache settings.
type CacheConfig struct {
	ProfileTTL time.Duration
	Enabled    bool
}

// RateLimitConfig limits credential submissions per client.
type RateLimitConfig struct {
	RequestsPerMinute int
	WindowDuration    time.Duration
}

// Load reads and validates configuration from environment variables.
// It attempts to load a .env file if present but does not fail without one.
//
// Required environment variables:
//   - AUTH_BASE_URL: Auth backend base URL
//   - AUTH_API_KEY: Public API key of the backend
//   - POSTGRES_PASSWORD: Database password
func Load() (*Config, error) {
	_ = godotenv.Load()

	authBaseURL, err := getEnvRequired("AUTH_BASE_URL")
	if err != nil {
		return nil, err
	}

	authAPIKey, err := getEnvRequired("AUTH_API_KEY")
	if err != nil {
		return nil, err
	}

	postgresPassword, err := getEnvRequired("POSTGRES_PASSWORD")
	if err != nil {
		return nil, err
	}

	config := &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Environment:    getEnv("ENV", "development"),
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: getEnvAsSlice("ALLOWED_ORIGINS", []string{"http://localhost:8081"}),
		},
		Database: DatabaseConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnv("POSTGRES_PORT", "5432"),
			Database: getEnv("POSTGRES_DB", "fitness"),
			User:     getEnv("POSTGRES_USER", "fitness"),
			Password: postgresPassword,
			MaxConns: getEnvAsInt("POSTGRES_MAX_CONNS", 10),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			PoolSize: getEnvAsInt("REDIS_POOL_SIZE", 20),
		},
		Auth: AuthConfig{
			BaseURL:         authBaseURL,
			APIKey:          authAPIKey,
			ClientID:        getEnv("AUTH_CLIENT_ID", "fitness-mobile"),
			JWTSecret:       []byte(getEnv("AUTH_JWT_SECRET", "")),
			MinSecretLength: getEnvAsInt("AUTH_MIN_SECRET_LENGTH", 6),
			RequestTimeout:  getEnvAsDuration("AUTH_REQUEST_TIMEOUT", 10*time.Second),
			ClockSkew:       getEnvAsDuration("AUTH_CLOCK_SKEW", 30*time.Second),
		},
		Navigation: NavigationConfig{
			AuthGroup:       getEnv("NAV_AUTH_GROUP", "(auth)"),
			ProtectedGroups: getEnvAsSlice("NAV_PROTECTED_GROUPS", []string{"(tabs)", "modals"}),
			LoginPath:       getEnv("NAV_LOGIN_PATH", "/(auth)/login"),
			HomePath:        getEnv("NAV_HOME_PATH", "/(tabs)"),
		},
		Device: DeviceConfig{
			InstallationID: getEnv("DEVICE_INSTALLATION_ID", "default"),
			UserAgent:      getEnv("DEVICE_USER_AGENT", ""),
		},
		Cache: CacheConfig{
			ProfileTTL: getEnvAsDuration("CACHE_PROFILE_TTL", 15*time.Minute),
			Enabled:    getEnv("CACHE_ENABLED", "true") == "true",
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvAsInt("RATE_LIMIT_REQUESTS", 20),
			WindowDuration:    getEnvAsDuration("RATE_LIMIT_WINDOW", 1*time.Minute),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate checks that all required configuration is present and coherent.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		return fmt.Errorf("server port must be a valid integer: %w", err)
	}

	if _, err := strconv.Atoi(c.Database.Port); err != nil {
		return fmt.Errorf("database port must be a valid integer: %w", err)
	}
	if c.Database.Password == "" {
		return fmt.Errorf("database password is required")
	}

	if _, err := strconv.Atoi(c.Redis.Port); err != nil {
		return fmt.Errorf("redis port must be a valid integer: %w", err)
	}

	if _, err := url.ParseRequestURI(c.Auth.BaseURL); err != nil {
		return fmt.Errorf("invalid auth base URL: %w", err)
	}
	if c.Auth.APIKey == "" {
		return fmt.Errorf("auth API key is required")
	}
	if c.Auth.MinSecretLength < 1 {
		return fmt.Errorf("minimum secret length must be positive")
	}
	if len(c.Auth.JWTSecret) > 0 && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("JWT secret must be at least 32 bytes when set")
	}

	if c.Navigation.AuthGroup == "" {
		return fmt.Errorf("navigation auth group is required")
	}
	if len(c.Navigation.ProtectedGroups) == 0 {
		return fmt.Errorf("at least one protected navigation group is required")
	}
	for _, g := range c.Navigation.ProtectedGroups {
		if g == c.Navigation.AuthGroup {
			return fmt.Errorf("navigation group %q cannot be both public and protected", g)
		}
	}
	if !strings.HasPrefix(c.Navigation.LoginPath, "/") || !strings.HasPrefix(c.Navigation.HomePath, "/") {
		return fmt.Errorf("navigation paths must be absolute")
	}

	if c.Device.InstallationID == "" {
		return fmt.Errorf("device installation id is required")
	}

	return nil
}

// IsProduction reports whether the shell runs in production mode.
func (c *ServerConfig) IsProduction() bool {
	return c.Environment == "production"
}

// DSN returns the PostgreSQL connection string for the lib/pq driver.
//
// Format: "host=X port=Y user=Z password=W dbname=N sslmode=disable"
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.Database,
	)
}

// Address returns the Redis server address in "host:port" format.
func (c *RedisConfig) Address() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// getEnv retrieves an environment variable with a default fallback.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvRequired retrieves a required environment variable.
func getEnvRequired(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("required environment variable %s is not set", key)
	}
	return value, nil
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go duration syntax: "300ms", "1.5h", "2h45m".
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSlice parses a comma separated list, trimming blanks.
//
//	// NAV_PROTECTED_GROUPS=(tabs),modals
//	groups := getEnvAsSlice("NAV_PROTECTED_GROUPS", nil) // ["(tabs)", "modals"]
func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}
