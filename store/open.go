// Package store selects the snapshot.Store backend from configuration.
package store

import (
	"context"
	"fmt"

	"github.com/warp/stockpulse/config"
	"github.com/warp/stockpulse/snapshot"
	"github.com/warp/stockpulse/store/postgres"
	"github.com/warp/stockpulse/store/sqlite"
)

// Backend is a Store that owns a connection.
type Backend interface {
	snapshot.Store
	Close() error
}

// Open connects to the backend named by cfg.DBDriver.
func Open(ctx context.Context, cfg *config.Config) (Backend, error) {
	switch cfg.DBDriver {
	case config.DriverSQLite:
		s, err := sqlite.New(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverPostgres:
		s, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
}
