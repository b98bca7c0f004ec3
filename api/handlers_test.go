/*
handlers_test.go - Tests for API handlers and the ingest scheduler

Tests for:
- Product pages, filters and unavailable windows as JSON null
- History, stats, facets and runs
- Manual ingest and error status mapping
- Image mirroring
- Scheduler start/stop
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/stockpulse/media"
	"github.com/warp/stockpulse/observability"
	"github.com/warp/stockpulse/snapshot"
	"github.com/warp/stockpulse/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var day0 = time.Date(2025, time.March, 1, 8, 0, 0, 0, time.UTC)

// fakeCatalog serves a mutable batch.
type fakeCatalog struct {
	mu    sync.Mutex
	batch []snapshot.RawProduct
	err   error
	calls int
}

func (f *fakeCatalog) set(batch ...snapshot.RawProduct) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batch = batch
}

func (f *fakeCatalog) Fetch(context.Context) ([]snapshot.RawProduct, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.batch, f.err
}

type testEnv struct {
	store   *sqlite.Store
	catalog *fakeCatalog
	handler *Handler
	router  http.Handler
	now     time.Time
}

func newTestEnv(t *testing.T, mirror *media.Mirror) *testEnv {
	t.Helper()
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	env := &testEnv{store: store, catalog: &fakeCatalog{}, now: day0}
	pipeline := snapshot.NewPipeline(store, snapshot.PipelineConfig{
		Now:          func() time.Time { return env.now },
		MaxAttempts:  2,
		RetryBackoff: time.Millisecond,
	}, nil)
	env.handler = NewHandler(snapshot.NewReporter(store, 0), pipeline, env.catalog, mirror, nil)
	env.router = NewRouter(env.handler, RouterOptions{Metrics: observability.New(nil).Handler()})
	return env
}

func product(id, category, brand string, stock int64) snapshot.RawProduct {
	return snapshot.RawProduct{
		ProductID:     snapshot.ProductID(id),
		Name:          "Item " + id,
		Brand:         brand,
		Category:      category,
		Subcategory:   "Group",
		SubcategoryID: "1",
		Price:         decimal.RequireFromString("10.50"),
		Stock:         stock,
		ImageRef:      "https://img.example/" + id + ".jpg",
	}
}

func (e *testEnv) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func (e *testEnv) ingest(t *testing.T, at time.Time, batch ...snapshot.RawProduct) {
	t.Helper()
	e.now = at
	e.catalog.set(batch...)
	if rec := e.do(t, http.MethodPost, "/api/admin/ingest"); rec.Code != http.StatusOK {
		t.Fatalf("Ingest failed: %d %s", rec.Code, rec.Body.String())
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("Failed to decode %q: %v", rec.Body.String(), err)
	}
	return v
}

// =============================================================================
// PRODUCT TESTS
// =============================================================================

func TestListProducts_NoRuns_EmptyPage(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/products")

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"items":[]`) {
		t.Errorf("Expected empty items array, got %s", rec.Body.String())
	}
}

func TestListProducts_AfterTwoPasses(t *testing.T) {
	// GIVEN: Two daily passes where product 1 sells 20 units
	env := newTestEnv(t, nil)
	env.ingest(t, day0, product("1", "routers", "MikroTik", 50), product("2", "switches", "Ubiquiti", 10))
	env.ingest(t, day0.AddDate(0, 0, 1), product("1", "routers", "MikroTik", 30), product("2", "switches", "Ubiquiti", 10))

	// WHEN: Listing with the default sort
	rec := env.do(t, http.MethodGet, "/api/products")

	// THEN: Run 2, best seller first, windows null
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	page := decode[ProductPageDTO](t, rec)
	if page.Run != 2 || page.Total != 2 {
		t.Fatalf("Expected run 2 with 2 items, got run %d total %d", page.Run, page.Total)
	}
	if page.Items[0].ProductID != "1" || page.Items[0].SoldAllTime != 20 {
		t.Errorf("Expected product 1 with 20 sold first, got %+v", page.Items[0])
	}
	if page.Items[0].Sold30d != nil || page.Items[0].Sold7d != nil {
		t.Errorf("Expected unavailable windows, got %v %v", page.Items[0].Sold30d, page.Items[0].Sold7d)
	}
	if !strings.Contains(rec.Body.String(), `"sold_30d":null`) {
		t.Errorf("Expected sold_30d null in JSON")
	}
	if page.PerPage != snapshot.DefaultPerPage {
		t.Errorf("Expected per_page %d, got %d", snapshot.DefaultPerPage, page.PerPage)
	}
}

func TestListProducts_Filters(t *testing.T) {
	env := newTestEnv(t, nil)
	env.ingest(t, day0,
		product("1", "routers", "MikroTik", 5),
		product("2", "switches", "Ubiquiti", 5),
		product("3", "switches", "mikrotik", 5),
	)

	tests := []struct {
		query string
		want  int
	}{
		{"?category=switches", 2},
		{"?brand=MIKROTIK", 2},
		{"?q=item+3", 1},
		{"?category=switches&brand=ubiquiti", 1},
		{"?per_page=1&page=2", 1},
	}
	for _, tt := range tests {
		rec := env.do(t, http.MethodGet, "/api/products"+tt.query)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", tt.query, rec.Code)
			continue
		}
		if got := len(decode[ProductPageDTO](t, rec).Items); got != tt.want {
			t.Errorf("%s: expected %d items, got %d", tt.query, tt.want, got)
		}
	}
}

func TestListProducts_BadParams(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, q := range []string{"?sort=stock", "?order=up", "?page=abc", "?per_page=0x10", "?page=-1"} {
		rec := env.do(t, http.MethodGet, "/api/products"+q)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, rec.Code)
		}
		if decode[ErrorResponse](t, rec).Error == "" {
			t.Errorf("%s: expected error message", q)
		}
	}
}

func TestGetHistory(t *testing.T) {
	env := newTestEnv(t, nil)
	env.ingest(t, day0, product("1", "routers", "MikroTik", 9))
	env.ingest(t, day0.AddDate(0, 0, 1), product("1", "routers", "MikroTik", 4))

	rec := env.do(t, http.MethodGet, "/api/products/1/history")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	history := decode[[]ProductDTO](t, rec)
	if len(history) != 2 || history[0].RunNumber != 1 || history[1].SoldAllTime != 5 {
		t.Errorf("Unexpected history: %+v", history)
	}

	if rec := env.do(t, http.MethodGet, "/api/products/nope/history"); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown product, got %d", rec.Code)
	}
}

// =============================================================================
// DASHBOARD TESTS
// =============================================================================

func TestStatsFacetsRuns(t *testing.T) {
	env := newTestEnv(t, nil)
	env.ingest(t, day0, product("1", "routers", "MikroTik", 10), product("2", "switches", "Ubiquiti", 10))
	env.ingest(t, day0.AddDate(0, 0, 1), product("1", "routers", "MikroTik", 7), product("2", "switches", "Ubiquiti", 9))

	stats := decode[StatsDTO](t, env.do(t, http.MethodGet, "/api/stats"))
	if stats != (StatsDTO{Run: 2, TotalItems: 2, TotalSold: 4}) {
		t.Errorf("Unexpected stats: %+v", stats)
	}

	facets := decode[FacetsDTO](t, env.do(t, http.MethodGet, "/api/facets"))
	if strings.Join(facets.Categories, ",") != "routers,switches" || strings.Join(facets.Brands, ",") != "MikroTik,Ubiquiti" {
		t.Errorf("Unexpected facets: %+v", facets)
	}

	runs := decode[[]RunDTO](t, env.do(t, http.MethodGet, "/api/runs"))
	if len(runs) != 2 || runs[0].Run != 2 || runs[0].Rows != 2 {
		t.Errorf("Unexpected runs: %+v", runs)
	}
	if !runs[1].CreatedAt.Equal(day0) {
		t.Errorf("Expected run 1 at %v, got %v", day0, runs[1].CreatedAt)
	}
}

// =============================================================================
// ADMIN TESTS
// =============================================================================

func TestTriggerIngest_Result(t *testing.T) {
	env := newTestEnv(t, nil)
	env.catalog.set(product("1", "routers", "MikroTik", 3), product("1", "switches", "MikroTik", 3))

	rec := env.do(t, http.MethodPost, "/api/admin/ingest")

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	res := decode[IngestResultDTO](t, rec)
	if res != (IngestResultDTO{Run: 1, Rows: 1, Attempts: 1}) {
		t.Errorf("Unexpected result: %+v", res)
	}
}

func TestTriggerIngest_ErrorStatuses(t *testing.T) {
	env := newTestEnv(t, nil)

	// Catalog down: retried, then 502
	env.catalog.err = errors.New("connection refused")
	rec := env.do(t, http.MethodPost, "/api/admin/ingest")
	if rec.Code != http.StatusBadGateway {
		t.Errorf("Expected 502, got %d", rec.Code)
	}
	if env.catalog.calls != 2 {
		t.Errorf("Expected 2 fetch attempts, got %d", env.catalog.calls)
	}

	// Malformed record: 400, nothing written
	env.catalog.err = nil
	env.catalog.set(product("1", "routers", "MikroTik", -4))
	if rec := env.do(t, http.MethodPost, "/api/admin/ingest"); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
	if run, _ := env.store.MaxRunNumber(context.Background()); run != 0 {
		t.Errorf("Expected no run written, got %d", run)
	}
}

func TestTriggerIngest_NotConfigured(t *testing.T) {
	env := newTestEnv(t, nil)
	env.handler.Source = nil

	if rec := env.do(t, http.MethodPost, "/api/admin/ingest"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", rec.Code)
	}
}

func TestSyncImages(t *testing.T) {
	// GIVEN: An image host and a directory mirror
	img := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("jpeg"))
	}))
	defer img.Close()
	dir, err := media.NewDir(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	env := newTestEnv(t, media.NewMirror(dir, nil))

	// WHEN: No run yet
	if rec := env.do(t, http.MethodPost, "/api/admin/images"); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 without runs, got %d", rec.Code)
	}

	// WHEN: After a run
	p := product("1", "routers", "MikroTik", 3)
	p.ImageRef = img.URL + "/1.jpg"
	env.ingest(t, day0, p)
	rec := env.do(t, http.MethodPost, "/api/admin/images")

	// THEN
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	res := decode[ImageSyncDTO](t, rec)
	if res.Run != 1 || res.Downloaded != 1 {
		t.Errorf("Unexpected sync result: %+v", res)
	}
}

func TestSyncImages_NotConfigured(t *testing.T) {
	env := newTestEnv(t, nil)

	if rec := env.do(t, http.MethodPost, "/api/admin/images"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", rec.Code)
	}
}

func TestMetricsRoute(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/metrics")

	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{snapshot.ErrInvalidQuery, http.StatusBadRequest},
		{snapshot.ErrProductNotFound, http.StatusNotFound},
		{snapshot.ErrNoRuns, http.StatusNotFound},
		{snapshot.ErrLockHeld, http.StatusConflict},
		{snapshot.ErrFetchFailed, http.StatusBadGateway},
		{&snapshot.CommitError{Run: 3, Err: errors.New("disk full")}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

// =============================================================================
// SCHEDULER TESTS
// =============================================================================

func TestIngestScheduler_RunOnStart(t *testing.T) {
	env := newTestEnv(t, nil)
	env.catalog.set(product("1", "routers", "MikroTik", 3))
	s := NewIngestScheduler(env.handler.Pipeline, env.catalog, nil)
	s.Interval = time.Hour
	s.RunOnStart = true

	s.Start()
	deadline := time.Now().Add(5 * time.Second)
	for {
		if at, _, _ := s.Last(); !at.IsZero() || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	s.Stop()

	at, res, err := s.Last()
	if at.IsZero() {
		t.Fatal("Expected a pass to have run")
	}
	if err != nil || res.Run != 1 {
		t.Errorf("Expected run 1, got %+v (err %v)", res, err)
	}
}

func TestIngestScheduler_Disabled(t *testing.T) {
	env := newTestEnv(t, nil)
	s := NewIngestScheduler(env.handler.Pipeline, env.catalog, nil)
	s.Enabled = false
	s.RunOnStart = true

	s.Start()
	s.Stop()

	if at, _, _ := s.Last(); !at.IsZero() {
		t.Error("Expected no pass when disabled")
	}
}
