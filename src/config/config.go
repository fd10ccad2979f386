package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig holds all configuration for the application.
// The values are loaded from environment variables.
type AppConfig struct {
	// Core settings
	Port         string
	DatabasePath string
	LogLevel     string

	// Upload limits
	MaxUploadSizeBytes int64

	// Remote store settings
	StoreBaseURL        string
	StoreAuthToken      string
	StoreBlobPath       string
	StoreRequestTimeout time.Duration
	CommitMessage       string

	// Pipeline retry settings
	FetchMaxAttempts  int
	FetchRetryDelay   time.Duration
	CommitMaxAttempts int
	CommitRetryDelay  time.Duration

	// ConflictRestarts enables the optional fetch-merge-commit restart on
	// a commit version conflict. Zero keeps the default behavior of
	// failing the instance and letting the caller re-trigger.
	ConflictRestarts int
}

// Cfg is a global instance of the AppConfig.
var Cfg *AppConfig

// LoadConfig loads configuration from environment variables or a .env file.
// It centralizes all configuration logic for the application.
func LoadConfig() {
	// 1. Try loading from the current directory (standard behavior)
	errEnv := godotenv.Load()

	// 2. If not found, try loading from the parent directory (common when running from /backend)
	if errEnv != nil {
		errEnv = godotenv.Load("../.env")
	}

	if errEnv != nil {
		if os.IsNotExist(errEnv) {
			log.Println("Info: No .env file found in current or parent directory. Relying on OS environment variables (expected in production).")
		} else {
			log.Printf("Warning: Error loading .env file: %v. Relying on OS environment variables.", errEnv)
		}
	} else {
		log.Println(".env file loaded successfully.")
	}

	log.Println("Loading application configuration...")

	storeBaseURL := getRequiredEnv("STORE_BASE_URL")

	maxUploadSizeBytesStr := getEnv("MAX_UPLOAD_SIZE_BYTES", "10485760") // 10MB default
	maxUploadSizeBytes, err := strconv.ParseInt(maxUploadSizeBytesStr, 10, 64)
	if err != nil {
		log.Printf("WARNING: Invalid MAX_UPLOAD_SIZE_BYTES format '%s'. Using default 10MB. Error: %v", maxUploadSizeBytesStr, err)
		maxUploadSizeBytes = 10 * 1024 * 1024
	}

	Cfg = &AppConfig{
		// Core
		Port:         getEnv("PORT", "8080"),
		DatabasePath: getEnv("DATABASE_PATH", "./ledgersync.db"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),

		// Uploads
		MaxUploadSizeBytes: maxUploadSizeBytes,

		// Remote store
		StoreBaseURL:        storeBaseURL,
		StoreAuthToken:      getEnv("STORE_AUTH_TOKEN", ""),
		StoreBlobPath:       getEnv("STORE_BLOB_PATH", "data/transactions.csv"),
		StoreRequestTimeout: getEnvAsDuration("STORE_REQUEST_TIMEOUT", 30*time.Second),
		CommitMessage:       getEnv("COMMIT_MESSAGE", "ledgersync: merge upload"),

		// Pipeline retries
		FetchMaxAttempts:  getEnvAsInt("FETCH_MAX_ATTEMPTS", 3),
		FetchRetryDelay:   getEnvAsDuration("FETCH_RETRY_DELAY", 2*time.Second),
		CommitMaxAttempts: getEnvAsInt("COMMIT_MAX_ATTEMPTS", 3),
		CommitRetryDelay:  getEnvAsDuration("COMMIT_RETRY_DELAY", 3*time.Second),

		ConflictRestarts: getEnvAsInt("CONFLICT_RESTARTS", 0),
	}

	log.Printf("Configuration loaded: Port=%s, LogLevel=%s, DBPath=%s, StoreBaseURL=%s, BlobPath=%s",
		Cfg.Port, Cfg.LogLevel, Cfg.DatabasePath, Cfg.StoreBaseURL, Cfg.StoreBlobPath)
}

// getEnv retrieves an environment variable or returns a fallback value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	log.Printf("Environment variable %s not set, using default: %s", key, fallback)
	return fallback
}

// getRequiredEnv retrieves an environment variable or terminates the application if not set.
func getRequiredEnv(key string) string {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		log.Fatalf("FATAL: Required environment variable %s is not set or is empty. Application cannot start.", key)
	}
	return value
}

// getEnvAsInt retrieves an environment variable as an integer or returns a fallback.
func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid integer value for %s ('%s'), using default: %d", key, valueStr, fallback)
	return fallback
}

// getEnvAsDuration retrieves an environment variable as a time.Duration or returns a fallback.
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid duration value for %s ('%s'), using default: %s", key, valueStr, fallback.String())
	return fallback
}
