// Package storetest holds behaviour tests shared by every snapshot.Store.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stockpulse/snapshot"
)

var base = time.Date(2025, time.March, 1, 8, 0, 0, 0, time.UTC)

// Row builds a fully populated snapshot for product id in run.
func Row(id string, run snapshot.RunNumber) snapshot.ProductSnapshot {
	return snapshot.ProductSnapshot{
		ID:            fmt.Sprintf("%s-r%d", id, run),
		ProductID:     snapshot.ProductID(id),
		RunNumber:     run,
		Category:      "outdoor-wireless",
		Subcategory:   "Point-to-point",
		SubcategoryID: "44",
		Brand:         "Ubiquiti",
		Name:          "airMAX " + id,
		Price:         decimal.RequireFromString("1299.99"),
		ImageRef:      "https://img.example/" + id + ".jpg",
		Stock:         40 - int64(run),
		SoldAllTime:   int64(run) - 1,
		Sold30d:       snapshot.Available(int64(run)),
		Sold7d:        snapshot.Unavailable,
		CreatedAt:     base.AddDate(0, 0, int(run)),
	}
}

// Run exercises the Store contract against stores produced by open.
// open must return an empty store.
func Run(t *testing.T, open func(t *testing.T) snapshot.Store) {
	t.Run("EmptyStore", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		run, err := s.MaxRunNumber(ctx)
		require.NoError(t, err)
		assert.Equal(t, snapshot.RunNumber(0), run)

		history, err := s.LoadHistory(ctx, "missing")
		require.NoError(t, err)
		assert.Empty(t, history)

		runs, err := s.ListRuns(ctx)
		require.NoError(t, err)
		assert.Empty(t, runs)
	})

	t.Run("RoundTrip", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		want := Row("a", 1)
		want.ImageRef = ""

		require.NoError(t, s.AppendRun(ctx, []snapshot.ProductSnapshot{want}))

		got, err := s.LoadRun(ctx, 1)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.True(t, want.Price.Equal(got[0].Price), "price %s", got[0].Price)
		assert.True(t, want.CreatedAt.Equal(got[0].CreatedAt))
		got[0].Price = want.Price
		got[0].CreatedAt = want.CreatedAt
		assert.Equal(t, want, got[0])
	})

	t.Run("HistoryOrderedByRun", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		for run := snapshot.RunNumber(1); run <= 3; run++ {
			require.NoError(t, s.AppendRun(ctx, []snapshot.ProductSnapshot{Row("a", run), Row("b", run)}))
		}

		history, err := s.LoadHistory(ctx, "a")
		require.NoError(t, err)
		require.Len(t, history, 3)
		for i, row := range history {
			assert.Equal(t, snapshot.RunNumber(i+1), row.RunNumber)
			assert.Equal(t, snapshot.ProductID("a"), row.ProductID)
		}

		latest, err := s.MaxRunNumber(ctx)
		require.NoError(t, err)
		assert.Equal(t, snapshot.RunNumber(3), latest)
	})

	t.Run("DuplicateProductInRun_RejectsWholeRun", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		dup := Row("a", 1)
		dup.ID = "other-id"

		err := s.AppendRun(ctx, []snapshot.ProductSnapshot{Row("a", 1), Row("b", 1), dup})

		assert.ErrorIs(t, err, snapshot.ErrDuplicateSnapshot)
		run, _ := s.MaxRunNumber(ctx)
		assert.Equal(t, snapshot.RunNumber(0), run, "nothing from the failed run is visible")
		rows, _ := s.LoadRun(ctx, 1)
		assert.Empty(t, rows)
	})

	t.Run("MixedRuns_Rejected", func(t *testing.T) {
		s := open(t)

		err := s.AppendRun(context.Background(), []snapshot.ProductSnapshot{Row("a", 1), Row("b", 2)})

		assert.ErrorIs(t, err, snapshot.ErrInvalidRun)
	})

	t.Run("RunZero_Rejected", func(t *testing.T) {
		s := open(t)

		err := s.AppendRun(context.Background(), []snapshot.ProductSnapshot{Row("a", 0)})

		assert.ErrorIs(t, err, snapshot.ErrInvalidRun)
	})

	t.Run("EmptyAppend_NoOp", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		require.NoError(t, s.AppendRun(ctx, nil))

		run, err := s.MaxRunNumber(ctx)
		require.NoError(t, err)
		assert.Equal(t, snapshot.RunNumber(0), run)
	})

	t.Run("PricesKeepEveryDigit", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		prices := []string{"12.3456", "0.005", "123456789012.5"}
		rows := make([]snapshot.ProductSnapshot, len(prices))
		for i, p := range prices {
			rows[i] = Row(fmt.Sprintf("p%d", i), 1)
			rows[i].Price = decimal.RequireFromString(p)
		}

		require.NoError(t, s.AppendRun(ctx, rows))

		for i, p := range prices {
			got, err := s.LoadHistory(ctx, snapshot.ProductID(fmt.Sprintf("p%d", i)))
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, p, got[0].Price.String())
		}
	})

	t.Run("UnavailableWindowsSurvive", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		row := Row("a", 1)
		row.Sold30d = snapshot.Unavailable
		row.Sold7d = snapshot.Available(0)

		require.NoError(t, s.AppendRun(ctx, []snapshot.ProductSnapshot{row}))

		got, err := s.LoadHistory(ctx, "a")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.False(t, got[0].Sold30d.Valid)
		assert.Equal(t, snapshot.Available(0), got[0].Sold7d, "zero is a value, not a gap")
	})

	t.Run("ListRuns_NewestFirst", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		require.NoError(t, s.AppendRun(ctx, []snapshot.ProductSnapshot{Row("a", 1)}))
		require.NoError(t, s.AppendRun(ctx, []snapshot.ProductSnapshot{Row("a", 2), Row("b", 2), Row("c", 2)}))

		runs, err := s.ListRuns(ctx)

		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, snapshot.RunNumber(2), runs[0].Run)
		assert.Equal(t, 3, runs[0].Rows)
		assert.True(t, Row("a", 2).CreatedAt.Equal(runs[0].CreatedAt))
		assert.Equal(t, snapshot.RunNumber(1), runs[1].Run)
		assert.Equal(t, 1, runs[1].Rows)
	})
}
