/*
app.go - Dependency wiring shared by the server and the ingest job

PURPOSE:
  Turns a config.Config into connected collaborators: store, ingest lock,
  metrics, catalog client, pipeline, reporter and image mirror.

STARTUP ORDER:
  1. Store (SQLite or Postgres)
  2. Redis lock when REDIS_URL is set, else the pipeline's in-process lock
  3. Metrics when enabled, seeded with the latest committed run
  4. Catalog client, pipeline, reporter
  5. Image mirror (S3 when IMAGE_S3_BUCKET is set, else IMAGE_DIR)

SEE ALSO:
  - cmd/server/main.go
  - cmd/ingest/main.go
*/
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/warp/stockpulse/catalog"
	"github.com/warp/stockpulse/config"
	"github.com/warp/stockpulse/lock"
	"github.com/warp/stockpulse/media"
	"github.com/warp/stockpulse/observability"
	"github.com/warp/stockpulse/snapshot"
	"github.com/warp/stockpulse/store"
)

// App holds the wired collaborators. Close releases connections.
type App struct {
	Config   *config.Config
	Store    store.Backend
	Catalog  *catalog.Client
	Pipeline *snapshot.Pipeline
	Reporter *snapshot.Reporter
	Mirror   *media.Mirror
	// Metrics is nil when disabled.
	Metrics *observability.Metrics

	redis  *redis.Client
	logger *slog.Logger
}

// New wires an App from cfg. On error everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{Config: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.Store, err = store.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.DBDriver, err)
	}
	logger.Info("[App] Store ready", "driver", cfg.DBDriver)

	pcfg := snapshot.PipelineConfig{MaxAttempts: cfg.IngestMaxAttempts}

	if cfg.RedisURL != "" {
		locker, client, err := lock.Open(ctx, cfg.RedisURL, lock.Options{TTL: cfg.LockTTL}, logger)
		if err != nil {
			return nil, err
		}
		a.redis = client
		pcfg.Locker = locker
		logger.Info("[App] Using Redis ingest lock", "ttl", cfg.LockTTL)
	}

	if cfg.MetricsEnabled {
		a.Metrics = observability.New(prometheus.NewRegistry())
		pcfg.Metrics = a.Metrics
		latest, err := snapshot.NewSequencer(a.Store).Latest(ctx)
		if err != nil {
			return nil, fmt.Errorf("read latest run: %w", err)
		}
		a.Metrics.SetLatestRun(latest)
	}

	a.Catalog = catalog.New(catalog.Config{
		BaseURL:     cfg.CatalogBaseURL,
		VariationID: cfg.CatalogVariationID,
		Categories:  cfg.Categories,
	}, logger)
	a.Pipeline = snapshot.NewPipeline(a.Store, pcfg, logger)
	a.Reporter = snapshot.NewReporter(a.Store, cfg.PageSize)

	bucket, err := a.openBucket(ctx)
	if err != nil {
		return nil, err
	}
	if bucket != nil {
		a.Mirror = media.NewMirror(bucket, logger)
	}

	return a, nil
}

func (a *App) openBucket(ctx context.Context) (media.Bucket, error) {
	cfg := a.Config
	switch {
	case cfg.ImageS3Bucket != "":
		b, err := media.NewS3Bucket(ctx, media.S3Config{
			Bucket:    cfg.ImageS3Bucket,
			Region:    cfg.ImageS3Region,
			Endpoint:  cfg.ImageS3Endpoint,
			PathStyle: cfg.ImageS3PathStyle,
		})
		if err != nil {
			return nil, err
		}
		a.logger.Info("[App] Mirroring images to S3", "bucket", cfg.ImageS3Bucket)
		return b, nil
	case cfg.ImageDir != "":
		d, err := media.NewDir(cfg.ImageDir)
		if err != nil {
			return nil, fmt.Errorf("image dir: %w", err)
		}
		return d, nil
	default:
		return nil, nil
	}
}

// ServesImages reports whether mirrored images live on local disk.
func (a *App) ServesImages() bool {
	return a.Config.ImageS3Bucket == "" && a.Config.ImageDir != ""
}

// Close releases the store and the Redis client.
func (a *App) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}
