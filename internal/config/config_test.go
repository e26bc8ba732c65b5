package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PIT_DATA_DIR", dir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 8010, cfg.Port)
	assert.False(t, cfg.DevMode)
	assert.Equal(t, time.Hour, cfg.CacheTTL)
	assert.Equal(t, 4, cfg.EvalConcurrency)
	assert.Equal(t, "@hourly", cfg.CleanupSchedule)
	assert.Equal(t, "@weekly", cfg.MaintenanceSchedule)
	assert.False(t, cfg.Backup.Enabled())
	assert.Equal(t, "@daily", cfg.Backup.Schedule)
	assert.Equal(t, 30, cfg.Backup.RetentionDays)

	assert.Equal(t, filepath.Join(dir, "pit.db"), cfg.PITDatabasePath())
	assert.Equal(t, filepath.Join(dir, "cache.db"), cfg.CacheDatabasePath())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PIT_DATA_DIR", t.TempDir())
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("PIT_PORT", "9090")
	t.Setenv("DEV_MODE", "true")
	t.Setenv("PIT_CACHE_TTL", "15m")
	t.Setenv("PIT_EVAL_CONCURRENCY", "8")
	t.Setenv("PIT_BACKUP_BUCKET", "reports")
	t.Setenv("PIT_BACKUP_RETENTION_DAYS", "7")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9090, cfg.Port)
	assert.True(t, cfg.DevMode)
	assert.Equal(t, 15*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 8, cfg.EvalConcurrency)
	assert.True(t, cfg.Backup.Enabled())
	assert.Equal(t, 7, cfg.Backup.RetentionDays)
}

func TestLoad_IgnoresMalformedValues(t *testing.T) {
	t.Setenv("PIT_DATA_DIR", t.TempDir())
	t.Setenv("PIT_PORT", "not-a-port")
	t.Setenv("PIT_CACHE_TTL", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8010, cfg.Port)
	assert.Equal(t, time.Hour, cfg.CacheTTL)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{Port: 8010, EvalConcurrency: 4, CacheTTL: time.Hour, Backup: &BackupConfig{}}
	}

	testCases := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"zero port", func(c *Config) { c.Port = 0 }, true},
		{"port too large", func(c *Config) { c.Port = 70000 }, true},
		{"zero concurrency", func(c *Config) { c.EvalConcurrency = 0 }, true},
		{"negative ttl", func(c *Config) { c.CacheTTL = -time.Second }, true},
		{"zero ttl disables caching", func(c *Config) { c.CacheTTL = 0 }, false},
		{"backup without retention", func(c *Config) {
			c.Backup = &BackupConfig{Bucket: "b", RetentionDays: 0}
		}, true},
		{"retention ignored when backups disabled", func(c *Config) {
			c.Backup = &BackupConfig{RetentionDays: 0}
		}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBackupConfig_EnabledNilSafe(t *testing.T) {
	var b *BackupConfig
	assert.False(t, b.Enabled())
}
