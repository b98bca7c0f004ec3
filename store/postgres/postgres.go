/*
Package postgres provides a PostgreSQL-backed snapshot.Store.

PURPOSE:
  Same table and rules as store/sqlite, for deployments where the API
  server and the ingest job run on different hosts and share a database.

DIALECT DIFFERENCES:
  price       NUMERIC (unscaled), written and read through text to keep
              decimal.Decimal exact
  created_at  TIMESTAMPTZ
  sold_30d/7d NULL when the window is unavailable

ATOMICITY:
  AppendRun queues every insert in one pgx.Batch inside one transaction.
  A unique violation (23505) on (product_id, run_number) maps to
  snapshot.ErrDuplicateSnapshot and rolls the whole run back.

SEE ALSO:
  - store/sqlite: single-host implementation
  - store/open.go: backend selection
*/
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/warp/stockpulse/snapshot"
)

const uniqueViolation = "23505"

// Store implements snapshot.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to databaseURL and migrates the schema.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	store := &Store{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS product_snapshots (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL,
		run_number BIGINT NOT NULL CHECK (run_number >= 1),
		category TEXT NOT NULL,
		subcategory TEXT NOT NULL DEFAULT '',
		subcategory_id TEXT NOT NULL DEFAULT '',
		brand TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		price NUMERIC NOT NULL,
		image_ref TEXT,
		stock BIGINT NOT NULL,
		sold_all_time BIGINT NOT NULL,
		sold_30d BIGINT,
		sold_7d BIGINT,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_snapshots_product_run
		ON product_snapshots(product_id, run_number);

	CREATE INDEX IF NOT EXISTS idx_snapshots_run
		ON product_snapshots(run_number);

	-- tables created with NUMERIC(12,2) rounded prices
	ALTER TABLE product_snapshots ALTER COLUMN price TYPE NUMERIC;
	`)
	return err
}

// =============================================================================
// SNAPSHOT STORE (snapshot.Store interface)
// =============================================================================

const selectColumns = `
	SELECT id, product_id, run_number, category, subcategory, subcategory_id,
	       brand, name, price::text, image_ref, stock, sold_all_time, sold_30d,
	       sold_7d, created_at
	FROM product_snapshots`

const insertSnapshot = `
	INSERT INTO product_snapshots
	(id, product_id, run_number, category, subcategory, subcategory_id,
	 brand, name, price, image_ref, stock, sold_all_time, sold_30d, sold_7d,
	 created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::text::numeric, $10, $11, $12, $13, $14, $15)`

// MaxRunNumber returns the highest committed run, or 0.
func (s *Store) MaxRunNumber(ctx context.Context) (snapshot.RunNumber, error) {
	var run int64
	err := s.pool.QueryRow(ctx,
		"SELECT COALESCE(MAX(run_number), 0) FROM product_snapshots",
	).Scan(&run)
	if err != nil {
		return 0, fmt.Errorf("failed to read max run: %w", err)
	}
	return snapshot.RunNumber(run), nil
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

	batch := &pgx.Batch{}
	for _, row := range rows {
		if row.RunNumber != run {
			return fmt.Errorf("%w: %d and %d", snapshot.ErrInvalidRun, run, row.RunNumber)
		}
		var imageRef *string
		if row.ImageRef != "" {
			imageRef = &row.ImageRef
		}
		batch.Queue(insertSnapshot,
			row.ID,
			string(row.ProductID),
			int64(row.RunNumber),
			row.Category,
			row.Subcategory,
			row.SubcategoryID,
			row.Brand,
			row.Name,
			row.Price.String(),
			imageRef,
			row.Stock,
			row.SoldAllTime,
			row.Sold30d.Ptr(),
			row.Sold7d.Ptr(),
			row.CreatedAt.UTC(),
		)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: run %d: %s", snapshot.ErrDuplicateSnapshot, run, pgErr.Detail)
		}
		return fmt.Errorf("failed to insert snapshots: %w", err)
	}

	return tx.Commit(ctx)
}

// LoadHistory returns all rows of a product ordered by run.
func (s *Store) LoadHistory(ctx context.Context, id snapshot.ProductID) ([]snapshot.ProductSnapshot, error) {
	return s.querySnapshots(ctx, selectColumns+`
		WHERE product_id = $1
		ORDER BY run_number ASC`, string(id))
}

// LoadRun returns all rows of a run.
func (s *Store) LoadRun(ctx context.Context, run snapshot.RunNumber) ([]snapshot.ProductSnapshot, error) {
	return s.querySnapshots(ctx, selectColumns+`
		WHERE run_number = $1
		ORDER BY product_id ASC`, int64(run))
}

// ListRuns returns one summary per committed run, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]snapshot.RunSummary, error) {
	rows, err := s.pool.Query(ctx, `
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
			run   int64
			count int64
			r     snapshot.RunSummary
		)
		if err := rows.Scan(&run, &count, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Run = snapshot.RunNumber(run)
		r.Rows = int(count)
		r.CreatedAt = r.CreatedAt.UTC()
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *Store) querySnapshots(ctx context.Context, query string, args ...any) ([]snapshot.ProductSnapshot, error) {
	rows, err := s.pool.Query(ctx, query, args...)
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

func scanSnapshot(rows pgx.Rows) (snapshot.ProductSnapshot, error) {
	var (
		snap      snapshot.ProductSnapshot
		productID string
		run       int64
		price     string
		imageRef  *string
		sold30d   *int64
		sold7d    *int64
	)

	err := rows.Scan(
		&snap.ID, &productID, &run, &snap.Category, &snap.Subcategory,
		&snap.SubcategoryID, &snap.Brand, &snap.Name, &price, &imageRef,
		&snap.Stock, &snap.SoldAllTime, &sold30d, &sold7d, &snap.CreatedAt,
	)
	if err != nil {
		return snap, fmt.Errorf("failed to scan snapshot: %w", err)
	}

	snap.ProductID = snapshot.ProductID(productID)
	snap.RunNumber = snapshot.RunNumber(run)
	if snap.Price, err = decimal.NewFromString(price); err != nil {
		return snap, fmt.Errorf("bad price %q for %s: %w", price, productID, err)
	}
	if imageRef != nil {
		snap.ImageRef = *imageRef
	}
	snap.Sold30d = snapshot.WindowFromPtr(sold30d)
	snap.Sold7d = snapshot.WindowFromPtr(sold7d)
	snap.CreatedAt = snap.CreatedAt.UTC()
	return snap, nil
}
