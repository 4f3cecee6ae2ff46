package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/nxt-spp/pricelist-pipeline/internal/cache"
	"github.com/nxt-spp/pricelist-pipeline/internal/common"
	"github.com/nxt-spp/pricelist-pipeline/internal/metrics"
	"github.com/nxt-spp/pricelist-pipeline/internal/monitor"
	"github.com/nxt-spp/pricelist-pipeline/internal/pricelist"
	"github.com/nxt-spp/pricelist-pipeline/internal/queue"
	"github.com/nxt-spp/pricelist-pipeline/internal/repository"
)

// newTestServer wires the whole stack against an embedded sqlite and a
// real worker, the way pipelined does in production.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, repository.Migrate(context.Background(), db))

	uploads := repository.NewUploadStore(db)
	jobs := repository.NewJobStore(db)
	dlq := repository.NewDeadLetterStore(db)
	catalog := repository.NewCatalogStore(db)
	results := repository.NewResultStore(db)

	resultCache := cache.New(results, logger)
	t.Cleanup(resultCache.Close)

	recorder := metrics.NewRecorder(context.Background(), repository.NewMetricsStore(db), logger)
	worker := pricelist.NewWorker(uploads, catalog, resultCache, logger)
	q := queue.New(worker, jobs, dlq, recorder, logger, queue.WithMaxConcurrency(2))
	t.Cleanup(func() { q.Shutdown(context.Background()) })

	mon := monitor.New(common.MonitorConfig{
		Interval:       time.Hour,
		MaxQueueDepth:  50,
		MaxDLQSize:     10,
		MinSuccessRate: 0.9,
		MinSampleSize:  10,
	}, q, recorder, logger)
	mon.Check()

	app := NewApp(q, mon, uploads, jobs, dlq, resultCache, logger)
	srv := httptest.NewServer(NewRouter(app))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestSubmitAndCompleteJob(t *testing.T) {
	srv := newTestServer(t)

	csvPath := filepath.Join(t.TempDir(), "acme.csv")
	require.NoError(t, os.WriteFile(csvPath,
		[]byte("SKU,Description,Unit Price\nA100,Widget,10.00\nA200,Gadget,20.00\n"), 0o644))

	resp, body := postJSON(t, srv.URL+"/uploads", map[string]any{
		"storage_path": csvPath,
		"filename":     "acme.csv",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	uploadID := body["upload_id"].(string)

	resp, body = postJSON(t, srv.URL+"/jobs", map[string]any{
		"upload_id": uploadID,
		"priority":  1,
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	jobID := body["job_id"].(string)
	assert.EqualValues(t, 1, body["position"])

	require.Eventually(t, func() bool {
		_, body := getJSON(t, srv.URL+"/jobs/"+jobID)
		state, ok := body["state"].(map[string]any)
		return ok && state["status"] == "completed"
	}, 5*time.Second, 20*time.Millisecond)

	_, body = getJSON(t, srv.URL+"/jobs/"+jobID)
	result, ok := body["result"].(map[string]any)
	require.True(t, ok, "completed job carries its result")
	products := result["products"].([]any)
	assert.Len(t, products, 2)
}

func TestSubmitJobValidation(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := postJSON(t, srv.URL+"/jobs", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := postJSON(t, srv.URL+"/uploads", map[string]any{
		"storage_path": "/tmp/whatever.exe",
		"filename":     "whatever.exe",
	})
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
	assert.Equal(t, "unsupported_file_type", body["error"])
}

func TestJobNotFound(t *testing.T) {
	srv := newTestServer(t)
	resp, _ := getJSON(t, srv.URL+"/jobs/00000000-0000-0000-0000-000000000001")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = getJSON(t, srv.URL+fmt.Sprintf("/jobs/%s", "not-a-uuid"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestQueueStatsAndMonitorEndpoints(t *testing.T) {
	srv := newTestServer(t)

	resp, body := getJSON(t, srv.URL+"/queue/stats")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, body["max_concurrency"])

	resp, body = getJSON(t, srv.URL+"/healthz")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])

	resp, body = getJSON(t, srv.URL+"/monitor/dashboard")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "health")
	assert.Contains(t, body, "metrics")

	resp, _ = getJSON(t, srv.URL+"/monitor/hourly")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = getJSON(t, srv.URL+"/queue/dlq")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "dead_letters")
}
