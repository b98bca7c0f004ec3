package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/warp/stockpulse/snapshot"
)

const (
	defaultWorkers  = 4
	maxImageBytes   = 10 << 20
	downloadTimeout = 30 * time.Second
)

// SyncResult counts the outcome of one Sync.
type SyncResult struct {
	Downloaded int `json:"downloaded"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// Mirror copies product images into a Bucket.
type Mirror struct {
	bucket  Bucket
	http    *http.Client
	workers int
	logger  *slog.Logger
}

// MirrorOption configures a Mirror.
type MirrorOption func(*Mirror)

// WithHTTPClient sets the client used to download images.
func WithHTTPClient(c *http.Client) MirrorOption {
	return func(m *Mirror) { m.http = c }
}

// WithWorkers sets the number of concurrent downloads.
func WithWorkers(n int) MirrorOption {
	return func(m *Mirror) {
		if n > 0 {
			m.workers = n
		}
	}
}

// NewMirror creates a Mirror writing into bucket.
func NewMirror(bucket Bucket, logger *slog.Logger, opts ...MirrorOption) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Mirror{
		bucket:  bucket,
		http:    &http.Client{Timeout: downloadTimeout},
		workers: defaultWorkers,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Sync downloads the image of every distinct product in rows that is not
// stored yet. Individual failures are logged and counted; Sync only
// returns an error when ctx ends.
func (m *Mirror) Sync(ctx context.Context, rows []snapshot.ProductSnapshot) (SyncResult, error) {
	jobs := make(chan snapshot.ProductSnapshot)
	var (
		mu  sync.Mutex
		res SyncResult
		wg  sync.WaitGroup
	)
	count := func(field *int) {
		mu.Lock()
		*field++
		mu.Unlock()
	}

	for w := 0; w < m.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for row := range jobs {
				switch err := m.syncOne(ctx, row); {
				case errors.Is(err, errSkipped):
					count(&res.Skipped)
				case err != nil:
					m.logger.Warn("[Media] image failed", "product", row.ProductID, "url", row.ImageRef, "error", err)
					count(&res.Failed)
				default:
					count(&res.Downloaded)
				}
			}
		}()
	}

	seen := make(map[snapshot.ProductID]bool, len(rows))
feed:
	for _, row := range rows {
		if seen[row.ProductID] {
			continue
		}
		seen[row.ProductID] = true
		if row.ImageRef == "" {
			count(&res.Skipped)
			continue
		}
		select {
		case jobs <- row:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	m.logger.Info("[Media] sync finished", "downloaded", res.Downloaded, "skipped", res.Skipped, "failed", res.Failed)
	return res, ctx.Err()
}

var errSkipped = errors.New("already mirrored")

func (m *Mirror) syncOne(ctx context.Context, row snapshot.ProductSnapshot) error {
	key := KeyFor(string(row.ProductID))
	exists, err := m.bucket.Exists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		return errSkipped
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, row.ImageRef, nil)
	if err != nil {
		return err
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return err
	}
	if len(body) > maxImageBytes {
		return fmt.Errorf("image larger than %d bytes", maxImageBytes)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return m.bucket.Put(ctx, key, bytes.NewReader(body), contentType)
}
