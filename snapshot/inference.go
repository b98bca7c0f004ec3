/*
inference.go - Sold-unit inference from stock history

PURPOSE:
  The catalog reports stock, not sales. Sales are inferred from stock
  decreases between consecutive runs of the same product.

ALL-TIME RULE:
  no history              -> 0
  incoming >= last.Stock  -> last.SoldAllTime       (restock is not negative sales)
  incoming <  last.Stock  -> last.SoldAllTime + (last.Stock - incoming)

  The counter never decreases.

WINDOW RULE (N = 30 or 7 days):
  end   = last.CreatedAt as a UTC date, with sold = last.SoldAllTime
  start = end - N days
  The earliest history row created on start gives
  window = last.SoldAllTime - row.SoldAllTime.
  No row on start -> Unavailable. Scraping gaps never fabricate a number.

  The window is measured on the pre-update history. The row being written
  in the current pass is not part of it.

EXAMPLE:
  day 0:  stock 100, sold 0
  day 30: stock 55,  sold 45
  next pass: Last30d = 45 - 0 = 45
*/
package snapshot

import "time"

// Window lengths in days.
const (
	Window30Days = 30
	Window7Days  = 7
)

// Engine infers sold counters. The zero value is ready to use.
type Engine struct{}

// Infer computes the counters for a product whose prior rows are history,
// ordered by run ascending. history must not contain the row being built.
func (Engine) Infer(incomingStock int64, history []ProductSnapshot) Sales {
	return Sales{
		AllTime: AllTimeSold(incomingStock, history),
		Last30d: WindowSold(history, Window30Days),
		Last7d:  WindowSold(history, Window7Days),
	}
}

// AllTimeSold applies the all-time rule.
func AllTimeSold(incomingStock int64, history []ProductSnapshot) int64 {
	if len(history) == 0 {
		return 0
	}
	last := history[len(history)-1]
	if incomingStock >= last.Stock {
		return last.SoldAllTime
	}
	return last.SoldAllTime + (last.Stock - incomingStock)
}

// WindowSold applies the window rule for a window of days.
func WindowSold(history []ProductSnapshot, days int) Window {
	if len(history) == 0 {
		return Unavailable
	}
	last := history[len(history)-1]
	start := dateOf(last.CreatedAt).AddDate(0, 0, -days)

	// history is ordered by run, so the first match is the earliest of the day
	for _, row := range history {
		if dateOf(row.CreatedAt).Equal(start) {
			return Available(last.SoldAllTime - row.SoldAllTime)
		}
	}
	return Unavailable
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
