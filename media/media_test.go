package media

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stockpulse/snapshot"
)

func imageServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if strings.HasSuffix(r.URL.Path, "/missing.jpg") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("jpeg:" + r.URL.Path))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func snap(id, image string) snapshot.ProductSnapshot {
	return snapshot.ProductSnapshot{ProductID: snapshot.ProductID(id), ImageRef: image}
}

func TestMirror_SyncToDir(t *testing.T) {
	// GIVEN: Three distinct products, one listed twice, one broken image
	var hits atomic.Int32
	srv := imageServer(t, &hits)
	dir, err := NewDir(filepath.Join(t.TempDir(), "img"))
	require.NoError(t, err)
	m := NewMirror(dir, nil, WithWorkers(2))
	rows := []snapshot.ProductSnapshot{
		snap("1", srv.URL+"/a.jpg"),
		snap("2", srv.URL+"/b.jpg"),
		snap("1", srv.URL+"/a.jpg"),
		snap("3", srv.URL+"/missing.jpg"),
		snap("4", ""),
	}

	// WHEN
	res, err := m.Sync(context.Background(), rows)

	// THEN
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Downloaded: 2, Skipped: 1, Failed: 1}, res)
	assert.Equal(t, int32(3), hits.Load(), "duplicates are downloaded once")
	got, err := os.ReadFile(filepath.Join(dir.Root, "1.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "jpeg:/a.jpg", string(got))

	// WHEN: Syncing again
	res, err = m.Sync(context.Background(), rows)

	// THEN: Stored images are skipped
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Downloaded: 0, Skipped: 3, Failed: 1}, res)
}

func TestDir_CreatedOnFirstPut(t *testing.T) {
	// GIVEN: A Dir whose root does not exist yet
	root := filepath.Join(t.TempDir(), "static", "img")
	dir, err := NewDir(root)
	require.NoError(t, err)

	// THEN: Opening and lookups leave the filesystem alone
	_, err = os.Stat(root)
	assert.True(t, os.IsNotExist(err))
	ok, err := dir.Exists(context.Background(), "1.jpg")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = os.Stat(root)
	assert.True(t, os.IsNotExist(err))

	// WHEN: Storing the first image
	require.NoError(t, dir.Put(context.Background(), "1.jpg", bytes.NewReader([]byte("jpeg")), "image/jpeg"))

	// THEN
	ok, err = dir.Exists(context.Background(), "1.jpg")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewDir_EmptyRoot(t *testing.T) {
	_, err := NewDir("")

	assert.Error(t, err)
}

func TestDir_RejectsPathKeys(t *testing.T) {
	dir, err := NewDir(t.TempDir())
	require.NoError(t, err)

	err = dir.Put(context.Background(), "../escape.jpg", bytes.NewReader(nil), "")

	assert.Error(t, err)
}

func TestMirror_Cancelled(t *testing.T) {
	dir, err := NewDir(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = NewMirror(dir, nil).Sync(ctx, []snapshot.ProductSnapshot{snap("1", "http://127.0.0.1:1/x.jpg")})

	assert.ErrorIs(t, err, context.Canceled)
}

// =============================================================================
// S3
// =============================================================================

// fakeS3 answers HEAD and PUT for path-style object URLs.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.TrimPrefix(req.URL.Path, "/")
	resp := &http.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: io.NopCloser(bytes.NewReader(nil)), Request: req}
	switch req.Method {
	case http.MethodHead:
		if _, ok := f.objects[key]; !ok {
			resp.StatusCode = http.StatusNotFound
		}
	case http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		f.objects[key] = body
		resp.Header.Set("ETag", `"etag"`)
	default:
		resp.StatusCode = http.StatusNotImplemented
	}
	return resp, nil
}

func TestS3Bucket_MirrorsOnce(t *testing.T) {
	// GIVEN: An S3 bucket behind a fake transport
	var hits atomic.Int32
	srv := imageServer(t, &hits)
	fake := &fakeS3{objects: map[string][]byte{}}
	bucket, err := NewS3Bucket(context.Background(), S3Config{
		Bucket:          "images",
		Endpoint:        "https://s3.test.local",
		PathStyle:       true,
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
		HTTPClient:      &http.Client{Transport: fake},
	})
	require.NoError(t, err)
	m := NewMirror(bucket, nil)

	// WHEN
	res, err := m.Sync(context.Background(), []snapshot.ProductSnapshot{snap("77", srv.URL+"/p.jpg")})

	// THEN
	require.NoError(t, err)
	assert.Equal(t, 1, res.Downloaded)
	require.Contains(t, fake.objects, "images/77.jpg")
	assert.Contains(t, string(fake.objects["images/77.jpg"]), "jpeg:/p.jpg")

	exists, err := bucket.Exists(context.Background(), "77.jpg")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = bucket.Exists(context.Background(), "78.jpg")
	require.NoError(t, err)
	assert.False(t, exists)
}
