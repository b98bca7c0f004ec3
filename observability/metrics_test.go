package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stockpulse/snapshot"
)

func TestObserveIngest(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveIngest(snapshot.ResultSuccess, 120, 4, 1.5)
	m.ObserveIngest(snapshot.ResultFailed, 0, 5, 0.2)
	m.ObserveIngest(snapshot.ResultEmpty, 0, 0, 0.1)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues(snapshot.ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues(snapshot.ResultFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues(snapshot.ResultEmpty)))
	assert.Equal(t, 120.0, testutil.ToFloat64(m.rows))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.latestRun), "failed passes do not move the gauge")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "stockpulse_ingest_duration_seconds_count 3")
}

func TestHandler_ServesMetrics(t *testing.T) {
	m := New(nil)
	m.SetLatestRun(9)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(string(body), "stockpulse_latest_run 9"))
}
