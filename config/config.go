/*
config.go - Process configuration

PURPOSE:
  One Config for both binaries. Values come from, in order of precedence:

    1. command-line flags (applied by cmd/*)
    2. environment variables
    3. a .env file in the working directory
    4. defaults below

  The catalog category list can be overridden by a YAML file
  (CATEGORIES_FILE):

    categories:
      - outdoor-wireless
      - lte-products

SEE ALSO:
  - cmd/server/main.go, cmd/ingest/main.go: flag overrides
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds every tunable of the server and ingest job.
type Config struct {
	Port string

	DBDriver    string
	DBPath      string
	DatabaseURL string

	// RedisURL enables the cross-process ingest lock. Empty means in-process.
	RedisURL string
	LockTTL  time.Duration

	CatalogBaseURL     string
	CatalogVariationID string
	CategoriesFile     string
	// Categories is nil unless CategoriesFile lists some.
	Categories []string

	IngestInterval    time.Duration
	IngestOnStart     bool
	IngestMaxAttempts int

	PageSize int

	ImageDir         string
	ImageS3Bucket    string
	ImageS3Region    string
	ImageS3Endpoint  string
	ImageS3PathStyle bool

	MetricsEnabled bool
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:               "8080",
		DBDriver:           DriverSQLite,
		DBPath:             "stockpulse.db",
		LockTTL:            30 * time.Minute,
		CatalogBaseURL:     "https://www.getic.com",
		CatalogVariationID: "cfbb89b0-7217-11eb-ed9f-fa163e4a2e20",
		IngestInterval:     24 * time.Hour,
		IngestMaxAttempts:  3,
		PageSize:           78,
		ImageDir:           "static/img",
		MetricsEnabled:     true,
	}
}

// Load reads .env (if present) and the environment on top of Default.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() (*Config, error) {
	cfg := Default()
	var errs []error

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.DBDriver = getEnv("DB_DRIVER", cfg.DBDriver)
	cfg.DBPath = getEnv("DB_PATH", cfg.DBPath)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.LockTTL = getDuration("LOCK_TTL", cfg.LockTTL, &errs)
	cfg.CatalogBaseURL = getEnv("CATALOG_BASE_URL", cfg.CatalogBaseURL)
	cfg.CatalogVariationID = getEnv("CATALOG_VARIATION_ID", cfg.CatalogVariationID)
	cfg.CategoriesFile = getEnv("CATEGORIES_FILE", cfg.CategoriesFile)
	cfg.IngestInterval = getDuration("INGEST_INTERVAL", cfg.IngestInterval, &errs)
	cfg.IngestOnStart = getBool("INGEST_ON_START", cfg.IngestOnStart, &errs)
	cfg.IngestMaxAttempts = getInt("INGEST_MAX_ATTEMPTS", cfg.IngestMaxAttempts, &errs)
	cfg.PageSize = getInt("PAGE_SIZE", cfg.PageSize, &errs)
	cfg.ImageDir = getEnv("IMAGE_DIR", cfg.ImageDir)
	cfg.ImageS3Bucket = getEnv("IMAGE_S3_BUCKET", cfg.ImageS3Bucket)
	cfg.ImageS3Region = getEnv("IMAGE_S3_REGION", cfg.ImageS3Region)
	cfg.ImageS3Endpoint = getEnv("IMAGE_S3_ENDPOINT", cfg.ImageS3Endpoint)
	cfg.ImageS3PathStyle = getBool("IMAGE_S3_PATH_STYLE", cfg.ImageS3PathStyle, &errs)
	cfg.MetricsEnabled = getBool("METRICS_ENABLED", cfg.MetricsEnabled, &errs)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if cfg.CategoriesFile != "" {
		cats, err := LoadCategories(cfg.CategoriesFile)
		if err != nil {
			return nil, err
		}
		cfg.Categories = cats
	}
	return cfg, nil
}

// Validate checks that values are usable together.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case DriverSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q (use %s or %s)", c.DBDriver, DriverSQLite, DriverPostgres)
	}
	if c.IngestInterval <= 0 {
		return fmt.Errorf("INGEST_INTERVAL must be > 0")
	}
	if c.IngestMaxAttempts <= 0 {
		return fmt.Errorf("INGEST_MAX_ATTEMPTS must be > 0")
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("PAGE_SIZE must be > 0")
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("LOCK_TTL must be > 0")
	}
	if c.CatalogBaseURL == "" {
		return fmt.Errorf("CATALOG_BASE_URL is required")
	}
	return nil
}

// =============================================================================
// CATEGORIES FILE
// =============================================================================

type categoriesFile struct {
	Categories []string `yaml:"categories"`
}

// LoadCategories reads a YAML category list.
func LoadCategories(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read categories %s: %w", path, err)
	}
	var f categoriesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse categories %s: %w", path, err)
	}
	if len(f.Categories) == 0 {
		return nil, fmt.Errorf("categories %s: list is empty", path)
	}
	for i, c := range f.Categories {
		if c == "" {
			return nil, fmt.Errorf("categories %s: entry %d is empty", path, i)
		}
	}
	return f.Categories, nil
}

// =============================================================================
// ENV HELPERS
// =============================================================================

func getEnv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func getDuration(k string, d time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", k, err))
		return d
	}
	return parsed
}

func getInt(k string, d int, errs *[]error) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", k, err))
		return d
	}
	return parsed
}

func getBool(k string, d bool, errs *[]error) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", k, err))
		return d
	}
	return parsed
}
