package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultSecretKey signs session tokens when APP_SECRET_KEY is unset
const DefaultSecretKey = "change-this-secret-key"

// Config holds all configuration for the application
type Config struct {
	AppName   string
	SecretKey string

	HTTP     ServerConfig
	GRPC     ServerConfig
	Redis    RedisConfig
	Database DatabaseConfig
	Storage  StorageConfig
	Session  SessionConfig
	Lock     LockConfig
	Admin    AdminConfig
	Log      LogConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
}

// DatabaseConfig selects the ledger database. URLs starting with
// postgres:// or postgresql:// use Postgres, sqlite:// uses an embedded file.
type DatabaseConfig struct {
	URL string
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	FilesRoot      string
	TmpRoot        string
	MaxUploadBytes int64
}

// SessionConfig controls admin session lifetime
type SessionConfig struct {
	MaxAge time.Duration
}

// LockConfig controls the per-version lock
type LockConfig struct {
	TTL  time.Duration
	Wait time.Duration
}

// AdminConfig controls the bootstrap administrator
type AdminConfig struct {
	AutoBootstrap bool
	Username      string
	Password      string
}

// LogConfig controls the process logger
type LogConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from the environment, after reading a
// .env file from the working directory when one exists.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		AppName:   getEnv("APP_NAME", "Internal APK Hub"),
		SecretKey: getEnv("APP_SECRET_KEY", DefaultSecretKey),
		HTTP: ServerConfig{
			Port: getEnv("HTTP_PORT", "8080"),
		},
		GRPC: ServerConfig{
			Port: getEnv("GRPC_PORT", "9090"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", "sqlite://data/app.db"),
		},
		Storage: StorageConfig{
			FilesRoot:      getEnv("FILES_ROOT", "data/apk"),
			TmpRoot:        getEnv("TMP_ROOT", "data/tmp"),
			MaxUploadBytes: int64(getEnvInt("MAX_UPLOAD_MB", 512)) << 20,
		},
		Session: SessionConfig{
			MaxAge: time.Duration(getEnvInt("SESSION_MAX_AGE_SECONDS", 28800)) * time.Second,
		},
		Lock: LockConfig{
			TTL:  time.Duration(getEnvInt("LOCK_TTL_SECONDS", 30)) * time.Second,
			Wait: time.Duration(getEnvInt("LOCK_WAIT_SECONDS", 10)) * time.Second,
		},
		Admin: AdminConfig{
			AutoBootstrap: getEnvBool("AUTO_BOOTSTRAP_ADMIN", true),
			Username:      getEnv("ADMIN_USERNAME", "admin"),
			Password:      getEnv("ADMIN_PASSWORD", "ChangeMeNow!"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}
}

// GetRedisAddr returns the Redis address in host:port format
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Redis.Host, c.Redis.Port)
}

// UsesDefaultSecret reports whether tokens are signed with the built-in key
func (c *Config) UsesDefaultSecret() bool {
	return c.SecretKey == DefaultSecretKey
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < 0 {
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}
