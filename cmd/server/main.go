/*
main.go - Application entry point

PURPOSE:
  Starts the stock dashboard API and the daily ingest scheduler.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env and environment, apply flag overrides
  2. Wire store, lock, metrics, catalog and pipeline (package app)
  3. Configure HTTP router
  4. Start the ingest scheduler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port      HTTP server port (overrides PORT)
  -db        SQLite database path (overrides DB_PATH)
             Use ":memory:" for in-memory database
  -no-ingest Disable the scheduler (API only)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (cancels an in-flight pass)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database and Redis connections

EXAMPLES:
  # Run with file database
  ./server -db="./data/stockpulse.db"

  # Postgres and a shared lock
  DB_DRIVER=postgres DATABASE_URL=postgres://... REDIS_URL=redis://localhost:6379/0 ./server

ENVIRONMENT:
  See config/config.go for every variable.

SEE ALSO:
  - app/app.go: Dependency wiring
  - api/server.go: Router configuration
  - api/scheduler.go: Daily ingest
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/stockpulse/api"
	"github.com/warp/stockpulse/app"
	"github.com/warp/stockpulse/config"
)

func main() {
	// Flags
	port := flag.String("port", "", "HTTP server port (overrides PORT)")
	dbPath := flag.String("db", "", "SQLite database path (overrides DB_PATH)")
	noIngest := flag.Bool("no-ingest", false, "Disable the ingest scheduler")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *port != "" {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	handler := api.NewHandler(a.Reporter, a.Pipeline, a.Catalog, a.Mirror, logger)

	opts := api.RouterOptions{}
	if a.Metrics != nil {
		opts.Metrics = a.Metrics.Handler()
	}
	if a.ServesImages() {
		opts.ImageDir = cfg.ImageDir
	}
	router := api.NewRouter(handler, opts)

	scheduler := api.NewIngestScheduler(a.Pipeline, a.Catalog, logger)
	scheduler.Interval = cfg.IngestInterval
	scheduler.RunOnStart = cfg.IngestOnStart
	scheduler.Enabled = !*noIngest
	scheduler.Start()

	// Create server. Manual ingest can take minutes, so no write timeout.
	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on http://localhost:%s", cfg.Port)
		log.Printf("API available at http://localhost:%s/api", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
