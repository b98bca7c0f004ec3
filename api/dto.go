/*
dto.go - Data Transfer Objects for API responses

PURPOSE:
  JSON shapes of the dashboard API, decoupled from snapshot types so the
  storage model can change without breaking clients.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Response: Wrappers

UNAVAILABLE WINDOWS:
  sold_30d and sold_7d are JSON null when no snapshot exists on the
  window's start date. Clients must not read null as zero.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/stockpulse/media"
	"github.com/warp/stockpulse/snapshot"
)

// ProductDTO is one product row of a run.
type ProductDTO struct {
	ID            string          `json:"id"`
	ProductID     string          `json:"product_id"`
	RunNumber     int64           `json:"run_number"`
	Name          string          `json:"name"`
	Brand         string          `json:"brand"`
	Category      string          `json:"category"`
	Subcategory   string          `json:"subcategory"`
	SubcategoryID string          `json:"subcategory_id"`
	Price         decimal.Decimal `json:"price"`
	Stock         int64           `json:"stock"`
	Image         string          `json:"image,omitempty"`
	SoldAllTime   int64           `json:"sold_all_time"`
	Sold30d       *int64          `json:"sold_30d"`
	Sold7d        *int64          `json:"sold_7d"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ProductPageDTO is a page of products.
type ProductPageDTO struct {
	Run     int64        `json:"run_number"`
	Items   []ProductDTO `json:"items"`
	Total   int          `json:"total"`
	Page    int          `json:"page"`
	PerPage int          `json:"per_page"`
	Pages   int          `json:"pages"`
}

// StatsDTO are the headline numbers.
type StatsDTO struct {
	Run        int64 `json:"run_number"`
	TotalItems int   `json:"total_items"`
	TotalSold  int64 `json:"total_sold"`
}

// FacetsDTO lists filter values.
type FacetsDTO struct {
	Run        int64    `json:"run_number"`
	Categories []string `json:"categories"`
	Brands     []string `json:"brands"`
}

// RunDTO summarizes a committed run.
type RunDTO struct {
	Run       int64     `json:"run_number"`
	Rows      int       `json:"rows"`
	CreatedAt time.Time `json:"created_at"`
}

// IngestResultDTO reports a manual pass.
type IngestResultDTO struct {
	Run      int64 `json:"run_number"`
	Rows     int   `json:"rows"`
	Attempts int   `json:"attempts"`
}

// ImageSyncDTO reports an image mirror pass.
type ImageSyncDTO struct {
	Run int64 `json:"run_number"`
	media.SyncResult
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toProductDTO(s snapshot.ProductSnapshot) ProductDTO {
	return ProductDTO{
		ID:            s.ID,
		ProductID:     string(s.ProductID),
		RunNumber:     int64(s.RunNumber),
		Name:          s.Name,
		Brand:         s.Brand,
		Category:      s.Category,
		Subcategory:   s.Subcategory,
		SubcategoryID: s.SubcategoryID,
		Price:         s.Price,
		Stock:         s.Stock,
		Image:         s.ImageRef,
		SoldAllTime:   s.SoldAllTime,
		Sold30d:       s.Sold30d.Ptr(),
		Sold7d:        s.Sold7d.Ptr(),
		CreatedAt:     s.CreatedAt,
	}
}

func toProductDTOs(rows []snapshot.ProductSnapshot) []ProductDTO {
	out := make([]ProductDTO, len(rows))
	for i, r := range rows {
		out[i] = toProductDTO(r)
	}
	return out
}

func toRunDTOs(runs []snapshot.RunSummary) []RunDTO {
	out := make([]RunDTO, len(runs))
	for i, r := range runs {
		out[i] = RunDTO{Run: int64(r.Run), Rows: r.Rows, CreatedAt: r.CreatedAt}
	}
	return out
}
