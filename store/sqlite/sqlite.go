/*
Package sqlite provides a SQLite-backed snapshot.Store.

PURPOSE:
  Persists product snapshots in a single append-only table. This is the
  default backend for a single-host deployment; store/postgres carries the
  same schema for a shared database.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on product_snapshots
  - No DELETE statements on product_snapshots
  - A run is written inside one transaction, so it is either fully
    present or absent

KEY TABLE:
  product_snapshots: one row per (product, run)

INDEXES:
  - idx_snapshots_product_run: UNIQUE, history lookups (hot path during
    ingest) and the one-row-per-product-per-run rule
  - idx_snapshots_run:         latest run reads for the dashboard

STORAGE FORMATS:
  created_at  RFC3339Nano text, always UTC
  price       decimal text, exact
  sold_30d/7d NULL when the window is unavailable

CONCURRENCY:
  One open connection and a sync.RWMutex. ":memory:" databases are
  per-connection in SQLite, so the pool is pinned to a single connection.

USAGE:
  store, err := sqlite.New("./data/stockpulse.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - snapshot/store.go:        Store interface
  - snapshot/store/memory.go: In-memory implementation for testing
  - store/postgres:           PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/stockpulse/snapshot"
)

// Store implements snapshot.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Product snapshots (append-only)
	CREATE TABLE IF NOT EXISTS product_snapshots (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL,
		run_number INTEGER NOT NULL CHECK (run_number >= 1),
		category TEXT NOT NULL,
		subcategory TEXT NOT NULL DEFAULT '',
		subcategory_id TEXT NOT NULL DEFAULT '',
		brand TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		price TEXT NOT NULL,
		image_ref TEXT,
		stock INTEGER NOT NULL,
		sold_all_time INTEGER NOT NULL,
		sold_30d INTEGER,
		sold_7d INTEGER,
		created_at TEXT NOT NULL
	);

	-- One row per product per run
	CREATE UNIQUE INDEX IF NOT EXISTS idx_snapshots_product_run
		ON product_snapshots(product_id, run_number);

	CREATE INDEX IF NOT EXISTS idx_snapshots_run
		ON product_snapshots(run_number);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// SNAPSHOT STORE (snapshot.Store interface)
// =============================================================================

const selectColumns = `
	SELECT id, product_id, run_number, category, subcategory, subcategory_id,
	       brand, name, price, image_ref, stock, sold_all_time, sold_30d, sold_7d,
	       created_at
	FROM product_snapshots`

// MaxRunNumber returns the highest committed run, or 0.
func (s *Store) MaxRunNumber(ctx context.Context) (snapshot.RunNumber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var run sql.NullInt64
	if err := s.db.QueryRowContext(ctx,
		"SELECT MAX(run_number) FROM product_snapshots",
	).Scan(&run); err != nil {
		return 0, fmt.Errorf("failed to read max run: %w", err)
	}
	return snapshot.RunNumber(run.Int64), nil
}

// AppendRun inserts all rows of one run in a single transaction.
func (s *Store) AppendRun(ctx context.Context, rows []snapshot.ProductSnapshot) error {
	if len(rows) == 0 {
		return nil
	}
	run := rows[0].RunNumber
	if run < 1 {
		return fmt.Errorf("%w: %d", snapshot.ErrInvalidRun, run)
	}
	for _, row := range rows {
		if row.RunNumber != run {
			return fmt.Errorf("%w: %d and %d", snapshot.ErrInvalidRun, run, row.RunNumber)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	stmt, err := sqlTx.PrepareContext(ctx, `
		INSERT INTO product_snapshots
		(id, product_id, run_number, category, subcategory, subcategory_id,
		 brand, name, price, image_ref, stock, sold_all_time, sold_30d, sold_7d,
		 created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		_, err := stmt.ExecContext(ctx,
			row.ID,
			string(row.ProductID),
			int64(row.RunNumber),
			row.Category,
			row.Subcategory,
			row.SubcategoryID,
			row.Brand,
			row.Name,
			row.Price.String(),
			nullString(row.ImageRef),
			row.Stock,
			row.SoldAllTime,
			nullWindow(row.Sold30d),
			nullWindow(row.Sold7d),
			row.CreatedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("%w: %s in run %d", snapshot.ErrDuplicateSnapshot, row.ProductID, run)
			}
			return fmt.Errorf("failed to insert snapshot: %w", err)
		}
	}

	return sqlTx.Commit()
}

// LoadHistory returns all rows of a product ordered by run.
func (s *Store) LoadHistory(ctx context.Context, id snapshot.ProductID) ([]snapshot.ProductSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.querySnapshots(ctx, selectColumns+`
		WHERE product_id = ?
		ORDER BY run_number ASC`, string(id))
}

// LoadRun returns all rows of a run.
func (s *Store) LoadRun(ctx context.Context, run snapshot.RunNumber) ([]snapshot.ProductSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.querySnapshots(ctx, selectColumns+`
		WHERE run_number = ?
		ORDER BY product_id ASC`, int64(run))
}

// ListRuns returns one summary per committed run, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]snapshot.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_number, COUNT(*), MIN(created_at)
		FROM product_snapshots
		GROUP BY run_number
		ORDER BY run_number DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []snapshot.RunSummary{}
	for rows.Next() {
		var (
			r         snapshot.RunSummary
			createdAt string
		)
		if err := rows.Scan(&r.Run, &r.Rows, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}

	return runs, rows.Err()
}

func (s *Store) querySnapshots(ctx context.Context, query string, args ...any) ([]snapshot.ProductSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := []snapshot.ProductSnapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}

	return snapshots, rows.Err()
}

func scanSnapshot(rows *sql.Rows) (snapshot.ProductSnapshot, error) {
	var (
		snap      snapshot.ProductSnapshot
		price     string
		imageRef  sql.NullString
		sold30d   sql.NullInt64
		sold7d    sql.NullInt64
		createdAt string
	)

	err := rows.Scan(
		&snap.ID, &snap.ProductID, &snap.RunNumber, &snap.Category,
		&snap.Subcategory, &snap.SubcategoryID, &snap.Brand, &snap.Name,
		&price, &imageRef, &snap.Stock, &snap.SoldAllTime, &sold30d, &sold7d,
		&createdAt,
	)
	if err != nil {
		return snap, fmt.Errorf("failed to scan snapshot: %w", err)
	}

	if snap.Price, err = decimal.NewFromString(price); err != nil {
		return snap, fmt.Errorf("bad price %q for %s: %w", price, snap.ProductID, err)
	}
	if snap.CreatedAt, err = parseTime(createdAt); err != nil {
		return snap, err
	}
	snap.ImageRef = imageRef.String
	snap.Sold30d = window(sold30d)
	snap.Sold7d = window(sold7d)

	return snap, nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullWindow(w snapshot.Window) sql.NullInt64 {
	return sql.NullInt64{Int64: w.Units, Valid: w.Valid}
}

func window(n sql.NullInt64) snapshot.Window {
	if !n.Valid {
		return snapshot.Unavailable
	}
	return snapshot.Available(n.Int64)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad created_at %q: %w", s, err)
	}
	return t.UTC(), nil
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
