/*
Package snapshot provides the run-versioned product snapshot engine.

PURPOSE:
  A retailer's catalog API reports descriptive data and current stock per
  product, but never how many units were sold. This package turns a series
  of catalog scrapes into immutable, numbered snapshots and infers sales
  from stock decreases between them.

KEY CONCEPTS IN THIS FILE (types.go):
  - RawProduct:      One product record as delivered by the catalog source
  - ProductSnapshot: One product's persisted state as of one run
  - RunNumber:       The scrape pass that produced a snapshot row
  - Window:          A windowed sold count that may be unavailable

DESIGN PRINCIPLES:
  1. Immutability: Snapshot rows are appended, never updated or deleted
  2. Precision: Prices use decimal.Decimal, never float64
  3. Explicit absence: A windowed count without history is Unavailable, not 0

USAGE:
  store := store.NewMemory()
  p := snapshot.NewPipeline(store, snapshot.PipelineConfig{}, nil)
  n, err := p.Ingest(ctx, records)

SEE ALSO:
  - inference.go: Sold counters derived from history
  - pipeline.go:  One scrape-and-persist pass
  - store.go:     Persistence contract
*/
package snapshot

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// ProductID is the retailer's catalog identifier, stable across runs.
type ProductID string

// RunNumber identifies one scrape pass. Run numbers start at 1.
type RunNumber int64

// =============================================================================
// RAW PRODUCT - What the catalog source delivers
// =============================================================================

// RawProduct is one product record fetched from the catalog.
// The same product can be listed under several subcategory groups in one fetch.
type RawProduct struct {
	ProductID     ProductID
	Name          string
	Brand         string
	Category      string
	Subcategory   string
	SubcategoryID string
	Price         decimal.Decimal
	Stock         int64
	ImageRef      string
}

// Validate reports why a record cannot be ingested, or nil.
func (r RawProduct) Validate() error {
	switch {
	case strings.TrimSpace(string(r.ProductID)) == "":
		return fmt.Errorf("missing product id")
	case strings.TrimSpace(r.Name) == "":
		return fmt.Errorf("missing name")
	case r.Stock < 0:
		return fmt.Errorf("negative stock %d", r.Stock)
	case r.Price.IsNegative():
		return fmt.Errorf("negative price %s", r.Price)
	}
	return nil
}

// ValidateBatch checks every record and returns a *RecordError for the first bad one.
func ValidateBatch(records []RawProduct) error {
	for i, r := range records {
		if err := r.Validate(); err != nil {
			return &RecordError{Index: i, ProductID: r.ProductID, Reason: err.Error()}
		}
	}
	return nil
}

// Dedupe keeps the first occurrence of each product ID, preserving order.
func Dedupe(records []RawProduct) []RawProduct {
	seen := make(map[ProductID]struct{}, len(records))
	out := make([]RawProduct, 0, len(records))
	for _, r := range records {
		if _, ok := seen[r.ProductID]; ok {
			continue
		}
		seen[r.ProductID] = struct{}{}
		out = append(out, r)
	}
	return out
}

// =============================================================================
// WINDOW - Windowed sold count with explicit unavailability
// =============================================================================

// Window is a sold count over a trailing window of days.
// Valid is false when history has no row on the window's start date.
type Window struct {
	Units int64
	Valid bool
}

// Available returns a valid window count.
func Available(units int64) Window { return Window{Units: units, Valid: true} }

// Unavailable is the window count when history cannot answer.
var Unavailable = Window{}

// Ptr returns nil for an unavailable window.
func (w Window) Ptr() *int64 {
	if !w.Valid {
		return nil
	}
	u := w.Units
	return &u
}

// WindowFromPtr is the inverse of Ptr.
func WindowFromPtr(p *int64) Window {
	if p == nil {
		return Unavailable
	}
	return Available(*p)
}

func (w Window) String() string {
	if !w.Valid {
		return "n/a"
	}
	return fmt.Sprintf("%d", w.Units)
}

// MarshalJSON encodes an unavailable window as null.
func (w Window) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.Ptr())
}

// UnmarshalJSON accepts a number or null.
func (w *Window) UnmarshalJSON(b []byte) error {
	var p *int64
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*w = WindowFromPtr(p)
	return nil
}

// Sales is the output of the inference engine for one product in one run.
type Sales struct {
	AllTime int64
	Last30d Window
	Last7d  Window
}

// =============================================================================
// PRODUCT SNAPSHOT - Immutable per-run row
// =============================================================================

// ProductSnapshot is one product's recorded state as of one run.
// Rows are immutable once written. A product's history is its rows
// ordered by RunNumber.
type ProductSnapshot struct {
	ID            string
	ProductID     ProductID
	RunNumber     RunNumber
	Category      string
	Subcategory   string
	SubcategoryID string
	Brand         string
	Name          string
	Price         decimal.Decimal
	ImageRef      string
	Stock         int64
	SoldAllTime   int64
	Sold30d       Window
	Sold7d        Window
	CreatedAt     time.Time
}

// NewSnapshot builds the row for a raw record in the given run.
func NewSnapshot(id string, run RunNumber, r RawProduct, s Sales, at time.Time) ProductSnapshot {
	return ProductSnapshot{
		ID:            id,
		ProductID:     r.ProductID,
		RunNumber:     run,
		Category:      r.Category,
		Subcategory:   r.Subcategory,
		SubcategoryID: r.SubcategoryID,
		Brand:         r.Brand,
		Name:          r.Name,
		Price:         r.Price,
		ImageRef:      r.ImageRef,
		Stock:         r.Stock,
		SoldAllTime:   s.AllTime,
		Sold30d:       s.Last30d,
		Sold7d:        s.Last7d,
		CreatedAt:     at,
	}
}

// RunSummary describes one committed run.
type RunSummary struct {
	Run       RunNumber
	Rows      int
	CreatedAt time.Time
}
