package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"PORT", "DB_DRIVER", "DB_PATH", "DATABASE_URL", "REDIS_URL", "LOCK_TTL",
	"CATALOG_BASE_URL", "CATALOG_VARIATION_ID", "CATEGORIES_FILE",
	"INGEST_INTERVAL", "INGEST_ON_START", "INGEST_MAX_ATTEMPTS", "PAGE_SIZE",
	"IMAGE_DIR", "IMAGE_S3_BUCKET", "IMAGE_S3_REGION", "IMAGE_S3_ENDPOINT",
	"IMAGE_S3_PATH_STYLE", "METRICS_ENABLED",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := FromEnv()

	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestFromEnv_Overrides(t *testing.T) {
	// GIVEN: Environment overrides
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/stockpulse")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("INGEST_INTERVAL", "6h")
	t.Setenv("INGEST_ON_START", "true")
	t.Setenv("INGEST_MAX_ATTEMPTS", "5")
	t.Setenv("IMAGE_S3_PATH_STYLE", "1")
	t.Setenv("METRICS_ENABLED", "false")

	// WHEN
	cfg, err := FromEnv()

	// THEN
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, DriverPostgres, cfg.DBDriver)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, 6*time.Hour, cfg.IngestInterval)
	assert.True(t, cfg.IngestOnStart)
	assert.Equal(t, 5, cfg.IngestMaxAttempts)
	assert.True(t, cfg.ImageS3PathStyle)
	assert.False(t, cfg.MetricsEnabled)
	assert.NoError(t, cfg.Validate())
}

func TestFromEnv_BadValues_Reported(t *testing.T) {
	clearEnv(t)
	t.Setenv("INGEST_INTERVAL", "daily")
	t.Setenv("PAGE_SIZE", "many")

	_, err := FromEnv()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "INGEST_INTERVAL")
	assert.Contains(t, err.Error(), "PAGE_SIZE")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown driver", func(c *Config) { c.DBDriver = "mysql" }, "unsupported DB_DRIVER"},
		{"postgres without url", func(c *Config) { c.DBDriver = DriverPostgres }, "DATABASE_URL"},
		{"zero interval", func(c *Config) { c.IngestInterval = 0 }, "INGEST_INTERVAL"},
		{"zero attempts", func(c *Config) { c.IngestMaxAttempts = 0 }, "INGEST_MAX_ATTEMPTS"},
		{"zero page size", func(c *Config) { c.PageSize = -1 }, "PAGE_SIZE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadCategories(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "categories.yaml")
	require.NoError(t, os.WriteFile(path, []byte("categories:\n  - outdoor-wireless\n  - gadgets\n"), 0o644))
	clearEnv(t)
	t.Setenv("CATEGORIES_FILE", path)

	cfg, err := FromEnv()

	require.NoError(t, err)
	assert.Equal(t, []string{"outdoor-wireless", "gadgets"}, cfg.Categories)
}

func TestLoadCategories_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "categories.yaml")
	require.NoError(t, os.WriteFile(path, []byte("categories: []\n"), 0o644))

	_, err := LoadCategories(path)

	assert.ErrorContains(t, err, "list is empty")
}
