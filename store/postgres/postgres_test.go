package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/warp/stockpulse/snapshot"
	"github.com/warp/stockpulse/snapshot/store/storetest"
)

// Set STOCKPULSE_TEST_DATABASE_URL to a disposable database to run these.
func TestStore(t *testing.T) {
	url := os.Getenv("STOCKPULSE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("STOCKPULSE_TEST_DATABASE_URL not set")
	}

	storetest.Run(t, func(t *testing.T) snapshot.Store {
		ctx := context.Background()
		store, err := New(ctx, url)
		if err != nil {
			t.Fatalf("Failed to create store: %v", err)
		}
		if _, err := store.pool.Exec(ctx, "TRUNCATE product_snapshots"); err != nil {
			t.Fatalf("Failed to reset table: %v", err)
		}
		t.Cleanup(func() { store.Close() })
		return store
	})
}

func TestStore_MigrateWidensScaledPrice(t *testing.T) {
	url := os.Getenv("STOCKPULSE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("STOCKPULSE_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	// GIVEN: A table from before prices were unscaled
	old, err := New(ctx, url)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if _, err := old.pool.Exec(ctx, `
		TRUNCATE product_snapshots;
		ALTER TABLE product_snapshots ALTER COLUMN price TYPE NUMERIC(12,2);`); err != nil {
		t.Fatalf("Failed to narrow column: %v", err)
	}
	old.Close()

	// WHEN: Reopening
	store, err := New(ctx, url)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer store.Close()

	// THEN: The column carries no scale
	var scale *int32
	err = store.pool.QueryRow(ctx, `
		SELECT numeric_scale FROM information_schema.columns
		WHERE table_name = 'product_snapshots' AND column_name = 'price'`).Scan(&scale)
	if err != nil {
		t.Fatalf("Failed to read column: %v", err)
	}
	if scale != nil {
		t.Errorf("Expected unscaled NUMERIC, got scale %d", *scale)
	}
}
