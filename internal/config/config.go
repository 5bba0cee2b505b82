package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	JWT      JWTConfig
	Auth     AuthConfig
	Archive  ArchiveConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string
	Port string
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// JWTConfig holds token codec configuration
type JWTConfig struct {
	Secret      string
	TokenExpiry time.Duration
	Issuer      string
}

// AuthConfig holds lockout and single-use token policy
type AuthConfig struct {
	MaxLoginAttempts   int
	LockoutDuration    time.Duration
	ResetTokenExpiry   time.Duration
	VerifyTokenExpiry  time.Duration
	BcryptCost         int
	SecureCookies      bool
}

// ArchiveConfig holds S3 settings for the audit/session archiver.
// The archiver stays disabled unless an endpoint and bucket are set.
type ArchiveConfig struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Retention       time.Duration
	Interval        time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnv("SERVER_PORT", "8080"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "velora_pos"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", ""),
			TokenExpiry: getDurationEnv("JWT_TOKEN_EXPIRY", 7*24*time.Hour),
			Issuer:      getEnv("JWT_ISSUER", "velora-pos"),
		},
		Auth: AuthConfig{
			MaxLoginAttempts:  getIntEnv("AUTH_MAX_LOGIN_ATTEMPTS", 5),
			LockoutDuration:   getDurationEnv("AUTH_LOCKOUT_DURATION", 15*time.Minute),
			ResetTokenExpiry:  getDurationEnv("AUTH_RESET_TOKEN_EXPIRY", 15*time.Minute),
			VerifyTokenExpiry: getDurationEnv("AUTH_VERIFY_TOKEN_EXPIRY", 7*24*time.Hour),
			BcryptCost:        getIntEnv("AUTH_BCRYPT_COST", 12),
			SecureCookies:     getBoolEnv("AUTH_SECURE_COOKIES", true),
		},
		Archive: ArchiveConfig{
			Endpoint:        getEnv("ARCHIVE_S3_ENDPOINT", ""),
			Region:          getEnv("ARCHIVE_S3_REGION", "us-east-1"),
			Bucket:          getEnv("ARCHIVE_S3_BUCKET", ""),
			AccessKeyID:     getEnv("ARCHIVE_S3_ACCESS_KEY", ""),
			SecretAccessKey: getEnv("ARCHIVE_S3_SECRET_KEY", ""),
			UseSSL:          getBoolEnv("ARCHIVE_S3_USE_SSL", true),
			Retention:       getDurationEnv("ARCHIVE_RETENTION", 90*24*time.Hour),
			Interval:        getDurationEnv("ARCHIVE_INTERVAL", 24*time.Hour),
		},
	}
}

// Enabled reports whether the archiver has enough configuration to run.
func (a *ArchiveConfig) Enabled() bool {
	return a.Endpoint != "" && a.Bucket != ""
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return "host=" + d.Host +
		" port=" + d.Port +
		" user=" + d.User +
		" password=" + d.Password +
		" dbname=" + d.DBName +
		" sslmode=" + d.SSLMode
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDurationEnv returns duration from environment variable or default.
// Accepts Go duration strings ("15m", "168h").
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getIntEnv returns an integer from environment variable or default
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getBoolEnv returns a boolean from environment variable or default
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}
