/*
report.go - Read-side queries over the latest committed run

PURPOSE:
  Backs the dashboard: filter, sort and paginate the latest run, plus
  headline stats and filter facets. Rows are loaded once per call and
  processed in memory as a concrete slice; nothing is lazily re-queried.

QUERY:
  Category  exact match
  Brand     exact match, case-insensitive
  Name      case-insensitive substring
  Sort      sold_all_time | sold_30d | sold_7d | price  (default sold_all_time)
  Order     asc | desc                                   (default desc)
  Page      1-based
  PerPage   default DefaultPerPage

  Unavailable windows sort after every available value in either order.
  Ties break on product ID ascending so pages are stable.
*/
package snapshot

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// DefaultPerPage matches the dashboard grid (6 columns x 13 rows).
const DefaultPerPage = 78

// MaxPerPage bounds a single page.
const MaxPerPage = 1000

// SortKey selects the column to sort on.
type SortKey string

const (
	SortSoldAllTime SortKey = "sold_all_time"
	SortSold30d     SortKey = "sold_30d"
	SortSold7d      SortKey = "sold_7d"
	SortPrice       SortKey = "price"
)

// Order is the sort direction.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// Query filters and pages the latest run.
type Query struct {
	Category string
	Brand    string
	Name     string
	Sort     SortKey
	Order    Order
	Page     int
	PerPage  int
}

func (q *Query) normalize(defaultPerPage int) error {
	switch q.Sort {
	case "":
		q.Sort = SortSoldAllTime
	case SortSoldAllTime, SortSold30d, SortSold7d, SortPrice:
	default:
		return fmt.Errorf("%w: unknown sort key %q", ErrInvalidQuery, q.Sort)
	}
	switch q.Order {
	case "":
		q.Order = OrderDesc
	case OrderAsc, OrderDesc:
	default:
		return fmt.Errorf("%w: unknown order %q", ErrInvalidQuery, q.Order)
	}
	if q.Page == 0 {
		q.Page = 1
	}
	if q.PerPage == 0 {
		q.PerPage = defaultPerPage
	}
	if q.Page < 1 {
		return fmt.Errorf("%w: page %d", ErrInvalidQuery, q.Page)
	}
	if q.PerPage < 1 || q.PerPage > MaxPerPage {
		return fmt.Errorf("%w: per_page %d", ErrInvalidQuery, q.PerPage)
	}
	return nil
}

func (q Query) matches(row ProductSnapshot) bool {
	if q.Category != "" && row.Category != q.Category {
		return false
	}
	if q.Brand != "" && !strings.EqualFold(row.Brand, q.Brand) {
		return false
	}
	if q.Name != "" && !strings.Contains(strings.ToLower(row.Name), strings.ToLower(q.Name)) {
		return false
	}
	return true
}

// Page is one page of products from a run.
type Page struct {
	Run     RunNumber
	Items   []ProductSnapshot
	Total   int
	Page    int
	PerPage int
	Pages   int
}

// Stats are the dashboard headline numbers for the latest run.
type Stats struct {
	Run        RunNumber
	TotalItems int
	TotalSold  int64
}

// Facets are the distinct filter values present in the latest run.
type Facets struct {
	Run        RunNumber
	Categories []string
	Brands     []string
}

// =============================================================================
// REPORTER
// =============================================================================

// Reporter answers dashboard queries.
type Reporter struct {
	store   Store
	seq     *Sequencer
	perPage int
}

// NewReporter creates a Reporter. perPage <= 0 uses DefaultPerPage.
func NewReporter(store Store, perPage int) *Reporter {
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	return &Reporter{store: store, seq: NewSequencer(store), perPage: perPage}
}

// LatestRun returns the latest committed run, or 0.
func (r *Reporter) LatestRun(ctx context.Context) (RunNumber, error) {
	return r.seq.Latest(ctx)
}

func (r *Reporter) latestRows(ctx context.Context) (RunNumber, []ProductSnapshot, error) {
	run, err := r.seq.Latest(ctx)
	if err != nil || run == 0 {
		return run, nil, err
	}
	rows, err := r.store.LoadRun(ctx, run)
	if err != nil {
		return run, nil, fmt.Errorf("load run %d: %w", run, err)
	}
	return run, rows, nil
}

// Products returns one filtered, sorted page of the latest run.
// With no committed run the page is empty.
func (r *Reporter) Products(ctx context.Context, q Query) (Page, error) {
	if err := q.normalize(r.perPage); err != nil {
		return Page{}, err
	}
	run, rows, err := r.latestRows(ctx)
	if err != nil {
		return Page{}, err
	}

	filtered := make([]ProductSnapshot, 0, len(rows))
	for _, row := range rows {
		if q.matches(row) {
			filtered = append(filtered, row)
		}
	}
	SortRows(filtered, q.Sort, q.Order)

	page := Page{
		Run:     run,
		Total:   len(filtered),
		Page:    q.Page,
		PerPage: q.PerPage,
		Pages:   (len(filtered) + q.PerPage - 1) / q.PerPage,
		Items:   []ProductSnapshot{},
	}
	start := (q.Page - 1) * q.PerPage
	if start < len(filtered) {
		end := min(start+q.PerPage, len(filtered))
		page.Items = filtered[start:end]
	}
	return page, nil
}

// Stats returns item and sold totals for the latest run.
func (r *Reporter) Stats(ctx context.Context) (Stats, error) {
	run, rows, err := r.latestRows(ctx)
	if err != nil {
		return Stats{}, err
	}
	s := Stats{Run: run, TotalItems: len(rows)}
	for _, row := range rows {
		s.TotalSold += row.SoldAllTime
	}
	return s, nil
}

// Facets returns sorted distinct categories and brands of the latest run.
func (r *Reporter) Facets(ctx context.Context) (Facets, error) {
	run, rows, err := r.latestRows(ctx)
	if err != nil {
		return Facets{}, err
	}
	cats := map[string]struct{}{}
	brands := map[string]struct{}{}
	for _, row := range rows {
		cats[row.Category] = struct{}{}
		if row.Brand != "" {
			brands[row.Brand] = struct{}{}
		}
	}
	return Facets{Run: run, Categories: sortedKeys(cats), Brands: sortedKeys(brands)}, nil
}

// History returns every row of a product, ordered by run.
func (r *Reporter) History(ctx context.Context, id ProductID) ([]ProductSnapshot, error) {
	rows, err := r.store.LoadHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, id)
	}
	return rows, nil
}

// Runs lists committed runs, newest first.
func (r *Reporter) Runs(ctx context.Context) ([]RunSummary, error) {
	return r.store.ListRuns(ctx)
}

// LatestRows returns the rows of the latest run. ErrNoRuns when empty.
func (r *Reporter) LatestRows(ctx context.Context) (RunNumber, []ProductSnapshot, error) {
	run, rows, err := r.latestRows(ctx)
	if err != nil {
		return 0, nil, err
	}
	if run == 0 {
		return 0, nil, ErrNoRuns
	}
	return run, rows, nil
}

// =============================================================================
// SORTING
// =============================================================================

// SortRows sorts rows in place by key and order.
func SortRows(rows []ProductSnapshot, key SortKey, order Order) {
	desc := order != OrderAsc
	sort.SliceStable(rows, func(i, j int) bool {
		if ai, aj := hasValue(rows[i], key), hasValue(rows[j], key); ai != aj {
			return ai
		}
		c := compareBy(rows[i], rows[j], key)
		if c == 0 {
			return rows[i].ProductID < rows[j].ProductID
		}
		if desc {
			return c > 0
		}
		return c < 0
	})
}

func compareBy(a, b ProductSnapshot, key SortKey) int {
	switch key {
	case SortPrice:
		return a.Price.Cmp(b.Price)
	case SortSold30d:
		return compareWindow(a.Sold30d, b.Sold30d)
	case SortSold7d:
		return compareWindow(a.Sold7d, b.Sold7d)
	default:
		return compareInt(a.SoldAllTime, b.SoldAllTime)
	}
}

func hasValue(row ProductSnapshot, key SortKey) bool {
	switch key {
	case SortSold30d:
		return row.Sold30d.Valid
	case SortSold7d:
		return row.Sold7d.Valid
	}
	return true
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// compareWindow assumes both windows agree on Valid.
func compareWindow(a, b Window) int {
	if !a.Valid {
		return 0
	}
	return compareInt(a.Units, b.Units)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
