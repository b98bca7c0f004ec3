/*
Package media mirrors product images into a local directory or an S3 bucket.

PURPOSE:
  The dashboard serves product images from its own storage rather than
  hot-linking the distributor. After a run, Mirror.Sync downloads each
  product's image once, keyed by product ID.

BACKENDS:
  Dir:      files under a root directory (default static/img)
  S3Bucket: objects in an S3-compatible bucket (AWS, MinIO)

KEYS:
  <product_id>.jpg

SEE ALSO:
  - mirror.go: download loop
  - api/handlers.go: POST /api/admin/images
*/
package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Bucket stores mirrored images.
type Bucket interface {
	// Exists reports whether key is already stored.
	Exists(ctx context.Context, key string) (bool, error)
	// Put stores the content under key.
	Put(ctx context.Context, key string, body io.ReadSeeker, contentType string) error
}

// KeyFor returns the storage key of a product image.
func KeyFor(productID string) string {
	return productID + ".jpg"
}

// =============================================================================
// DIR - filesystem backend
// =============================================================================

// Dir stores images as files under Root.
type Dir struct {
	Root string
}

// NewDir returns a Dir on root. The directory is created by the first Put.
func NewDir(root string) (*Dir, error) {
	if root == "" {
		return nil, fmt.Errorf("image dir required")
	}
	return &Dir{Root: root}, nil
}

func (d *Dir) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", fmt.Errorf("invalid image key %q", key)
	}
	return filepath.Join(d.Root, key), nil
}

func (d *Dir) Exists(_ context.Context, key string) (bool, error) {
	p, err := d.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, err
	}
}

// Put writes to a temp file and renames it so readers never see a partial image.
func (d *Dir) Put(_ context.Context, key string, body io.ReadSeeker, _ string) error {
	p, err := d.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(d.Root, 0o755); err != nil {
		return fmt.Errorf("create image dir %s: %w", d.Root, err)
	}
	tmp, err := os.CreateTemp(d.Root, ".img-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p)
}
