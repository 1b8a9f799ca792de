// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DBTypeMongo    = "mongo"
	DBTypePostgres = "postgres"
	DBTypeMemory   = "memory"
)

// ServerConfig holds all server-related settings
type ServerConfig struct {
	Port           int
	Host           string
	MetricsEnabled bool
	RequestTimeout time.Duration
}

// DatabaseConfig holds database configuration settings
type DatabaseConfig struct {
	Type string // "mongo", "postgres" or "memory"
	URI  string

	// Mongo
	Name string

	// Postgres, used to build URI when DATABASE_URL is not set
	Host     string
	Port     int
	User     string
	Password string
	SSLMode  string

	// SnapshotPollInterval paces live queries when the store cannot push
	// change notifications.
	SnapshotPollInterval time.Duration
}

// AuthConfig holds session token settings
type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

// FeedConfig holds feed synchronization settings
type FeedConfig struct {
	Limit                    int
	CommentReconcileInterval time.Duration
}

// Config holds the complete application configuration
type Config struct {
	Server         *ServerConfig
	Database       *DatabaseConfig
	Auth           *AuthConfig
	Feed           *FeedConfig
	AllowedOrigins []string
	Debug          bool
}

// DefaultConfig provides default server settings
func DefaultConfig() *ServerConfig {
	return &ServerConfig{
		Port:           8080,
		Host:           "0.0.0.0",
		MetricsEnabled: true,
		RequestTimeout: 5 * time.Second,
	}
}

// DefaultDatabaseConfig provides default database settings
func DefaultDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		Type:                 DBTypeMongo,
		URI:                  "mongodb://localhost:27017",
		Name:                 "socialsphere",
		Port:                 5432,
		SSLMode:              "require",
		SnapshotPollInterval: 2 * time.Second,
	}
}

// DefaultFeedConfig mirrors the client defaults: a ten post window.
func DefaultFeedConfig() *FeedConfig {
	return &FeedConfig{
		Limit:                    10,
		CommentReconcileInterval: time.Minute,
	}
}

// LoadConfig loads configuration from environment variables and applies defaults
func LoadConfig() (*Config, error) {
	loadEnvFile()

	serverConfig := DefaultConfig()
	if portStr := os.Getenv("PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		serverConfig.Port = port
	}
	if host := os.Getenv("HOST"); host != "" {
		serverConfig.Host = host
	}
	if metricsEnabled := os.Getenv("METRICS_ENABLED"); metricsEnabled != "" {
		serverConfig.MetricsEnabled = metricsEnabled == "true"
	}
	timeout, err := durationFromEnv("REQUEST_TIMEOUT", serverConfig.RequestTimeout)
	if err != nil {
		return nil, err
	}
	serverConfig.RequestTimeout = timeout

	dbConfig, err := loadDatabaseConfig()
	if err != nil {
		return nil, err
	}

	authConfig := &AuthConfig{
		JWTSecret: os.Getenv("JWT_SECRET"),
		TokenTTL:  24 * time.Hour,
	}
	if authConfig.TokenTTL, err = durationFromEnv("JWT_TTL", authConfig.TokenTTL); err != nil {
		return nil, err
	}
	if authConfig.JWTSecret == "" {
		if dbConfig.Type != DBTypeMemory {
			return nil, fmt.Errorf("JWT_SECRET environment variable is required when DB_TYPE is %s", dbConfig.Type)
		}
		authConfig.JWTSecret = "socialsphere-dev-secret"
	}

	feedConfig := DefaultFeedConfig()
	if limitStr := os.Getenv("FEED_LIMIT"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			return nil, fmt.Errorf("invalid FEED_LIMIT %q", limitStr)
		}
		feedConfig.Limit = limit
	}
	if feedConfig.CommentReconcileInterval, err = durationFromEnv("COMMENT_RECONCILE_INTERVAL", feedConfig.CommentReconcileInterval); err != nil {
		return nil, err
	}

	config := &Config{
		Server:         serverConfig,
		Database:       dbConfig,
		Auth:           authConfig,
		Feed:           feedConfig,
		AllowedOrigins: []string{"*"},
		Debug:          os.Getenv("DEBUG") == "true",
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		config.AllowedOrigins = strings.Split(origins, ",")
	}

	return config, nil
}

// loadEnvFile tries the usual .env locations; a missing file is fine.
func loadEnvFile() {
	envLocations := []string{
		".env",          // Current directory
		"../../.env",    // Project root when running from cmd/server
		"../../../.env", // Even higher directory
	}
	for _, location := range envLocations {
		if err := godotenv.Load(location); err == nil {
			return
		}
	}
	if gopath := os.Getenv("GOPATH"); gopath != "" {
		_ = godotenv.Load(filepath.Join(gopath, "src/socialsphere/.env"))
	}
}

func loadDatabaseConfig() (*DatabaseConfig, error) {
	dbConfig := DefaultDatabaseConfig()
	if dbType := os.Getenv("DB_TYPE"); dbType != "" {
		dbConfig.Type = dbType
	}

	interval, err := durationFromEnv("SNAPSHOT_POLL_INTERVAL", dbConfig.SnapshotPollInterval)
	if err != nil {
		return nil, err
	}
	dbConfig.SnapshotPollInterval = interval

	switch dbConfig.Type {
	case DBTypeMongo:
		dbConfig.URI = getEnvOrDefault("MONGODB_URI", dbConfig.URI)
		dbConfig.Name = getEnvOrDefault("MONGODB_DATABASE", dbConfig.Name)

	case DBTypePostgres:
		// Prioritize DATABASE_URL if provided
		if uri := os.Getenv("DATABASE_URL"); uri != "" {
			dbConfig.URI = uri
			dbConfig.SSLMode = getSSLModeFromURI(uri)
			return dbConfig, nil
		}

		dbConfig.Host = getEnvOrDefault("DB_HOST", "localhost")
		if portStr := os.Getenv("DB_PORT"); portStr != "" {
			port, err := strconv.Atoi(portStr)
			if err != nil {
				return nil, fmt.Errorf("invalid DB_PORT: %w", err)
			}
			dbConfig.Port = port
		}

		dbConfig.User = os.Getenv("DB_USER")
		if dbConfig.User == "" {
			return nil, fmt.Errorf("DB_USER environment variable is required when DB_TYPE is postgres and DATABASE_URL is not set")
		}
		dbConfig.Password = os.Getenv("DB_PASSWORD")
		if dbConfig.Password == "" {
			return nil, fmt.Errorf("DB_PASSWORD environment variable is required when DB_TYPE is postgres and DATABASE_URL is not set")
		}
		dbConfig.Name = getEnvOrDefault("DB_NAME", "postgres")
		dbConfig.SSLMode = getEnvOrDefault("DB_SSL_MODE", "require")

		dbConfig.URI = fmt.Sprintf(
			"postgresql://%s:%s@%s:%d/%s?sslmode=%s",
			dbConfig.User,
			dbConfig.Password,
			dbConfig.Host,
			dbConfig.Port,
			dbConfig.Name,
			dbConfig.SSLMode,
		)

	case DBTypeMemory:
		dbConfig.URI = ""

	default:
		return nil, fmt.Errorf("unsupported DB_TYPE %q (want %s, %s or %s)", dbConfig.Type, DBTypeMongo, DBTypePostgres, DBTypeMemory)
	}

	return dbConfig, nil
}

// Helper function to get environment variable with default fallback
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

// Helper function to extract sslmode from a DSN, defaults to "require"
func getSSLModeFromURI(uri string) string {
	parts := strings.SplitN(uri, "?", 2)
	if len(parts) < 2 {
		return "require"
	}
	for _, param := range strings.Split(parts[1], "&") {
		kv := strings.SplitN(param, "=", 2)
		if len(kv) == 2 && kv[0] == "sslmode" {
			return kv[1]
		}
	}
	return "require"
}
