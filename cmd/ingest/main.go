/*
main.go - One-shot ingest job

PURPOSE:
  Runs a single catalog pass and exits. Meant for cron or a Kubernetes
  CronJob when the server's scheduler is disabled.

COMMAND-LINE FLAGS:
  -db      SQLite database path (overrides DB_PATH)
  -images  Mirror images of the committed run afterwards

EXIT CODES:
  0  Run committed (or the catalog was empty)
  1  Configuration error or failed pass

SEE ALSO:
  - cmd/server/main.go
*/
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/warp/stockpulse/app"
	"github.com/warp/stockpulse/config"
)

func main() {
	dbPath := flag.String("db", "", "SQLite database path (overrides DB_PATH)")
	images := flag.Bool("images", false, "Mirror images after the pass")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *images, logger); err != nil {
		logger.Error("[Ingest] Failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, images bool, logger *slog.Logger) error {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Pipeline.Run(ctx, a.Catalog)
	if err != nil {
		return err
	}
	logger.Info("[Ingest] Done", "run", res.Run, "rows", res.Rows, "attempts", res.Attempts)

	if !images || res.Rows == 0 {
		return nil
	}
	if a.Mirror == nil {
		logger.Warn("[Ingest] No image destination configured, skipping images")
		return nil
	}
	_, rows, err := a.Reporter.LatestRows(ctx)
	if err != nil {
		return err
	}
	sync, err := a.Mirror.Sync(ctx, rows)
	if err != nil {
		return err
	}
	logger.Info("[Ingest] Images mirrored", "downloaded", sync.Downloaded, "skipped", sync.Skipped, "failed", sync.Failed)
	return nil
}
