/*
catalog.go - Upstream catalog client

PURPOSE:
  Fetches every configured category from the distributor's JSON API and
  flattens it into snapshot.RawProduct records. Implements snapshot.Source.

REQUEST:
  GET {base}/api/preset-subcategory/{category}?limit=10000&inStock=0&variationId={id}

RESPONSE (fields used):
  {
    "content": [
      {
        "id": 12, "title": "Access points",
        "products": [
          {
            "id": 4411, "title": "...", "brand": "...",
            "expectedAmount": 17,
            "prices": [{"prices": [{"price": 149.9}]}],
            "images": [{"variants": [{"path": "/media/..."}]}]
          }
        ]
      }
    ]
  }

FAILURE MODES:
  Transport errors, non-200 responses and undecodable bodies wrap
  snapshot.ErrFetchFailed. A product without a price or image wraps
  snapshot.ErrMalformedRecord. Either way Fetch returns no records.

SEE ALSO:
  - snapshot/pipeline.go: Run() retries ErrFetchFailed
*/
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/stockpulse/snapshot"
)

// DefaultCategories is the category set scraped when none is configured.
var DefaultCategories = []string{
	"outdoor-wireless",
	"home-office-networks",
	"lte-products",
	"fiber-networks",
	"security-systems",
	"iot-products",
	"fleet-management",
	"cables-and-cabinets",
	"electrical-equipment",
	"mounts-and-brackets",
	"gadgets",
}

const (
	defaultTimeout = 60 * time.Second
	pageLimit      = 10000
	maxBodyBytes   = 64 << 20
)

// Config configures a Client.
type Config struct {
	BaseURL     string
	VariationID string
	// Categories defaults to DefaultCategories.
	Categories []string
	// HTTPClient defaults to a client with a 60s timeout.
	HTTPClient *http.Client
}

// Client fetches the catalog.
type Client struct {
	base        string
	variationID string
	categories  []string
	http        *http.Client
	logger      *slog.Logger
}

// New creates a Client.
func New(cfg Config, logger *slog.Logger) *Client {
	if len(cfg.Categories) == 0 {
		cfg.Categories = DefaultCategories
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		base:        strings.TrimRight(cfg.BaseURL, "/"),
		variationID: cfg.VariationID,
		categories:  cfg.Categories,
		http:        cfg.HTTPClient,
		logger:      logger,
	}
}

// Categories returns the categories fetched on each pass.
func (c *Client) Categories() []string {
	return c.categories
}

// Fetch retrieves every category and fails as a whole.
func (c *Client) Fetch(ctx context.Context) ([]snapshot.RawProduct, error) {
	var all []snapshot.RawProduct
	for _, category := range c.categories {
		products, err := c.fetchCategory(ctx, category, len(all))
		if err != nil {
			return nil, err
		}
		c.logger.Debug("[Catalog] category fetched", "category", category, "products", len(products))
		all = append(all, products...)
	}
	c.logger.Info("[Catalog] catalog fetched", "categories", len(c.categories), "products", len(all))
	return all, nil
}

func (c *Client) categoryURL(category string) string {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(pageLimit))
	q.Set("inStock", "0")
	if c.variationID != "" {
		q.Set("variationId", c.variationID)
	}
	return fmt.Sprintf("%s/api/preset-subcategory/%s?%s", c.base, url.PathEscape(category), q.Encode())
}

func (c *Client) fetchCategory(ctx context.Context, category string, offset int) ([]snapshot.RawProduct, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.categoryURL(category), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", snapshot.ErrFetchFailed, category, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", snapshot.ErrFetchFailed, category, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: %s: status %d", snapshot.ErrFetchFailed, category, resp.StatusCode)
	}

	var page categoryPage
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&page); err != nil {
		return nil, fmt.Errorf("%w: %s: decode: %w", snapshot.ErrFetchFailed, category, err)
	}

	var out []snapshot.RawProduct
	for _, group := range page.Content {
		for _, p := range group.Products {
			raw, err := c.toRaw(offset+len(out), category, group, p)
			if err != nil {
				return nil, err
			}
			out = append(out, raw)
		}
	}
	return out, nil
}

func (c *Client) toRaw(index int, category string, group productGroup, p product) (snapshot.RawProduct, error) {
	id := string(p.ID)
	malformed := func(reason string) error {
		return &snapshot.RecordError{Index: index, ProductID: snapshot.ProductID(id), Reason: category + ": " + reason}
	}
	if id == "" {
		return snapshot.RawProduct{}, malformed("missing id")
	}
	if len(p.Prices) == 0 || len(p.Prices[0].Prices) == 0 || !p.Prices[0].Prices[0].Price.Valid {
		return snapshot.RawProduct{}, malformed("missing price")
	}
	if len(p.Images) == 0 || len(p.Images[0].Variants) == 0 {
		return snapshot.RawProduct{}, malformed("missing image")
	}
	stock, err := p.ExpectedAmount.Int64()
	if err != nil {
		return snapshot.RawProduct{}, malformed(fmt.Sprintf("stock %q", p.ExpectedAmount))
	}

	return snapshot.RawProduct{
		ProductID:     snapshot.ProductID(id),
		Name:          p.Title,
		Brand:         p.Brand,
		Category:      category,
		Subcategory:   group.Title,
		SubcategoryID: string(group.ID),
		Price:         p.Prices[0].Prices[0].Price.Decimal,
		Stock:         stock,
		ImageRef:      c.base + p.Images[0].Variants[0].Path,
	}, nil
}

// =============================================================================
// WIRE MODELS
// =============================================================================

type categoryPage struct {
	Content []productGroup `json:"content"`
}

type productGroup struct {
	ID       flexID    `json:"id"`
	Title    string    `json:"title"`
	Products []product `json:"products"`
}

type product struct {
	ID             flexID      `json:"id"`
	Title          string      `json:"title"`
	Brand          string      `json:"brand"`
	ExpectedAmount json.Number `json:"expectedAmount"`
	Prices         []struct {
		Prices []struct {
			Price decimal.NullDecimal `json:"price"`
		} `json:"prices"`
	} `json:"prices"`
	Images []struct {
		Variants []struct {
			Path string `json:"path"`
		} `json:"variants"`
	} `json:"images"`
}

// flexID accepts both numeric and string identifiers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	if string(b) == "null" {
		*f = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}
