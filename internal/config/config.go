// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir             string // Base directory for the databases (always absolute)
	LogLevel            string
	Port                int
	DevMode             bool
	CacheTTL            time.Duration // Lifetime of cached evaluation results
	EvalConcurrency     int           // Instruments evaluated in parallel per request
	FieldCatalogPath    string        // Optional YAML field catalog
	CleanupSchedule     string        // Cron schedule for cache cleanup
	MaintenanceSchedule string        // Cron schedule for integrity checks and vacuum
	Backup              *BackupConfig
}

// BackupConfig holds S3-compatible backup settings.
// Backups are disabled when Bucket is empty.
type BackupConfig struct {
	Bucket          string
	Region          string
	Endpoint        string // Custom endpoint for R2/MinIO; empty uses AWS
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
	Schedule        string
	RetentionDays   int
}

// Enabled reports whether backups are configured
func (b *BackupConfig) Enabled() bool {
	return b != nil && b.Bucket != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	absDataDir, err := filepath.Abs(getEnv("PIT_DATA_DIR", "./data"))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:             absDataDir,
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		Port:                getEnvAsInt("PIT_PORT", 8010),
		DevMode:             getEnvAsBool("DEV_MODE", false),
		CacheTTL:            getEnvAsDuration("PIT_CACHE_TTL", time.Hour),
		EvalConcurrency:     getEnvAsInt("PIT_EVAL_CONCURRENCY", 4),
		FieldCatalogPath:    getEnv("PIT_FIELD_CATALOG", ""),
		CleanupSchedule:     getEnv("PIT_CLEANUP_SCHEDULE", "@hourly"),
		MaintenanceSchedule: getEnv("PIT_MAINTENANCE_SCHEDULE", "@weekly"),
		Backup:              loadBackupConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadBackupConfig() *BackupConfig {
	return &BackupConfig{
		Bucket:          getEnv("PIT_BACKUP_BUCKET", ""),
		Region:          getEnv("PIT_BACKUP_REGION", "auto"),
		Endpoint:        getEnv("PIT_BACKUP_ENDPOINT", ""),
		AccessKeyID:     getEnv("PIT_BACKUP_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("PIT_BACKUP_SECRET_ACCESS_KEY", ""),
		Prefix:          getEnv("PIT_BACKUP_PREFIX", "pitmetrics/"),
		Schedule:        getEnv("PIT_BACKUP_SCHEDULE", "@daily"),
		RetentionDays:   getEnvAsInt("PIT_BACKUP_RETENTION_DAYS", 30),
	}
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.EvalConcurrency <= 0 {
		return fmt.Errorf("PIT_EVAL_CONCURRENCY must be positive, got %d", c.EvalConcurrency)
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("PIT_CACHE_TTL must not be negative, got %s", c.CacheTTL)
	}
	if c.Backup.Enabled() && c.Backup.RetentionDays <= 0 {
		return fmt.Errorf("PIT_BACKUP_RETENTION_DAYS must be positive, got %d", c.Backup.RetentionDays)
	}
	return nil
}

// PITDatabasePath returns the path of the report database
func (c *Config) PITDatabasePath() string {
	return filepath.Join(c.DataDir, "pit.db")
}

// CacheDatabasePath returns the path of the evaluation cache database
func (c *Config) CacheDatabasePath() string {
	return filepath.Join(c.DataDir, "cache.db")
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
