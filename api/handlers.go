/*
handlers.go - HTTP API handlers for the stock dashboard

PURPOSE:
  Exposes the reporting layer and the ingest pipeline over REST. Handles
  HTTP request/response and JSON serialization, and delegates everything
  else to snapshot.Reporter and snapshot.Pipeline.

ENDPOINTS:
  Products:
    GET  /api/products               Filtered, sorted page of the latest run
    GET  /api/products/{id}/history  Every snapshot of one product

  Dashboard:
    GET  /api/stats                  Item and sold totals
    GET  /api/facets                 Category and brand filter values
    GET  /api/runs                   Committed runs, newest first

  Admin:
    POST /api/admin/ingest           Run one pass now
    POST /api/admin/images           Mirror images of the latest run

QUERY PARAMETERS (GET /api/products):
  category, brand, q (name substring), sort, order, page, per_page

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid query parameters, malformed catalog data
  - 404: Unknown product, no committed run
  - 409: Another pass holds the ingest lock
  - 502: Catalog unreachable
  - 503: Feature not configured
  - 500: Internal errors

SECURITY NOTE:
  No authentication. Admin endpoints must not be exposed publicly.

SEE ALSO:
  - dto.go: Response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/warp/stockpulse/media"
	"github.com/warp/stockpulse/snapshot"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Reporter *snapshot.Reporter
	Pipeline *snapshot.Pipeline
	// Source feeds manual passes. Nil disables POST /api/admin/ingest.
	Source snapshot.Source
	// Mirror copies images. Nil disables POST /api/admin/images.
	Mirror *media.Mirror

	logger *slog.Logger
}

// NewHandler creates a handler.
func NewHandler(reporter *snapshot.Reporter, pipeline *snapshot.Pipeline, source snapshot.Source, mirror *media.Mirror, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Reporter: reporter,
		Pipeline: pipeline,
		Source:   source,
		Mirror:   mirror,
		logger:   logger,
	}
}

// =============================================================================
// PRODUCT ENDPOINTS
// =============================================================================

// ListProducts returns one page of the latest run.
// GET /api/products
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	q := snapshot.Query{
		Category: params.Get("category"),
		Brand:    params.Get("brand"),
		Name:     params.Get("q"),
		Sort:     snapshot.SortKey(params.Get("sort")),
		Order:    snapshot.Order(params.Get("order")),
	}
	var err error
	if q.Page, err = intParam(params.Get("page")); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid page", err)
		return
	}
	if q.PerPage, err = intParam(params.Get("per_page")); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid per_page", err)
		return
	}

	page, err := h.Reporter.Products(r.Context(), q)
	if err != nil {
		h.fail(w, "Failed to list products", err)
		return
	}

	writeJSON(w, http.StatusOK, ProductPageDTO{
		Run:     int64(page.Run),
		Items:   toProductDTOs(page.Items),
		Total:   page.Total,
		Page:    page.Page,
		PerPage: page.PerPage,
		Pages:   page.Pages,
	})
}

// GetHistory returns every snapshot of one product, oldest first.
// GET /api/products/{id}/history
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rows, err := h.Reporter.History(r.Context(), snapshot.ProductID(id))
	if err != nil {
		h.fail(w, "Failed to load history", err)
		return
	}

	writeJSON(w, http.StatusOK, toProductDTOs(rows))
}

// =============================================================================
// DASHBOARD ENDPOINTS
// =============================================================================

// GetStats returns the headline numbers of the latest run.
// GET /api/stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	s, err := h.Reporter.Stats(r.Context())
	if err != nil {
		h.fail(w, "Failed to compute stats", err)
		return
	}
	writeJSON(w, http.StatusOK, StatsDTO{Run: int64(s.Run), TotalItems: s.TotalItems, TotalSold: s.TotalSold})
}

// GetFacets returns the filter values present in the latest run.
// GET /api/facets
func (h *Handler) GetFacets(w http.ResponseWriter, r *http.Request) {
	f, err := h.Reporter.Facets(r.Context())
	if err != nil {
		h.fail(w, "Failed to load facets", err)
		return
	}
	writeJSON(w, http.StatusOK, FacetsDTO{Run: int64(f.Run), Categories: f.Categories, Brands: f.Brands})
}

// ListRuns returns committed runs, newest first.
// GET /api/runs
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Reporter.Runs(r.Context())
	if err != nil {
		h.fail(w, "Failed to list runs", err)
		return
	}
	writeJSON(w, http.StatusOK, toRunDTOs(runs))
}

// =============================================================================
// ADMIN ENDPOINTS
// =============================================================================

// TriggerIngest runs one fetch-and-persist pass synchronously.
// POST /api/admin/ingest
func (h *Handler) TriggerIngest(w http.ResponseWriter, r *http.Request) {
	if h.Pipeline == nil || h.Source == nil {
		writeError(w, http.StatusServiceUnavailable, "Ingest is not configured", nil)
		return
	}

	res, err := h.Pipeline.Run(r.Context(), h.Source)
	if err != nil {
		h.fail(w, "Ingest failed", err)
		return
	}

	writeJSON(w, http.StatusOK, IngestResultDTO{Run: int64(res.Run), Rows: res.Rows, Attempts: res.Attempts})
}

// SyncImages mirrors the images of the latest run.
// POST /api/admin/images
func (h *Handler) SyncImages(w http.ResponseWriter, r *http.Request) {
	if h.Mirror == nil {
		writeError(w, http.StatusServiceUnavailable, "Image mirror is not configured", nil)
		return
	}

	run, rows, err := h.Reporter.LatestRows(r.Context())
	if err != nil {
		h.fail(w, "Failed to load latest run", err)
		return
	}
	res, err := h.Mirror.Sync(r.Context(), rows)
	if err != nil {
		h.fail(w, "Image sync interrupted", err)
		return
	}

	writeJSON(w, http.StatusOK, ImageSyncDTO{Run: int64(run), SyncResult: res})
}

// =============================================================================
// HELPERS
// =============================================================================

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

// statusFor maps domain errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case snapshot.IsClientError(err):
		return http.StatusBadRequest
	case snapshot.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, snapshot.ErrLockHeld):
		return http.StatusConflict
	case errors.Is(err, snapshot.ErrFetchFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("[API] "+message, "error", err)
	}
	writeError(w, status, message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
