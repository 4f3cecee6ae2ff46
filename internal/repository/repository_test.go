package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/nxt-spp/pricelist-pipeline/constants"
	"github.com/nxt-spp/pricelist-pipeline/internal/metrics"
	"github.com/nxt-spp/pricelist-pipeline/internal/pricelist"
	"github.com/nxt-spp/pricelist-pipeline/internal/queue"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, Migrate(context.Background(), db))
	return db
}

func TestUploadStoreRoundTrip(t *testing.T) {
	store := NewUploadStore(testDB(t))
	ctx := context.Background()

	upload := pricelist.Upload{
		ID:          uuid.New(),
		SupplierID:  uuid.New(),
		StoragePath: "/data/uploads/acme.csv",
		Filename:    "acme.csv",
		Kind:        constants.FileKindCSV,
		SizeBytes:   2048,
	}
	require.NoError(t, store.Create(ctx, upload))

	got, err := store.GetUpload(ctx, upload.ID)
	require.NoError(t, err)
	assert.Equal(t, upload, *got)

	_, err = store.GetUpload(ctx, uuid.New())
	assert.Error(t, err)
}

func TestJobStoreLifecycle(t *testing.T) {
	store := NewJobStore(testDB(t))
	ctx := context.Background()

	job := queue.Job{
		ID:       uuid.New(),
		UploadID: uuid.New(),
		OrgID:    "org-1",
		Priority: 3,
		QueuedAt: time.Now(),
		Config:   pricelist.DefaultConfig(uuid.New()),
	}
	require.NoError(t, store.CreateQueued(ctx, job))

	rec, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusQueued, rec.Status)
	assert.Equal(t, 3, rec.Priority)
	assert.Equal(t, "org-1", rec.OrgID)

	require.NoError(t, store.SetStatus(ctx, job.ID, constants.JobStatusFailed, "EXTRACTION_FAILED", "boom"))
	rec, err = store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusFailed, rec.Status)
	assert.Equal(t, "EXTRACTION_FAILED", rec.ErrCode)
	assert.Equal(t, "boom", rec.ErrMessage)

	assert.Error(t, store.SetStatus(ctx, uuid.New(), constants.JobStatusQueued, "", ""))
}

func TestJobStoreListRecent(t *testing.T) {
	store := NewJobStore(testDB(t))
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	var last uuid.UUID
	for i := 0; i < 3; i++ {
		job := queue.Job{
			ID:       uuid.New(),
			UploadID: uuid.New(),
			QueuedAt: base.Add(time.Duration(i) * time.Minute),
			Config:   pricelist.DefaultConfig(uuid.Nil),
		}
		require.NoError(t, store.CreateQueued(ctx, job))
		last = job.ID
	}

	recent, err := store.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, last, recent[0].ID, "newest first")
}

func TestResultStoreRoundTrip(t *testing.T) {
	store := NewResultStore(testDB(t))
	ctx := context.Background()

	now := time.Now()
	result := &pricelist.Result{
		JobID:       uuid.New(),
		UploadID:    uuid.New(),
		ContentHash: "deadbeef",
		Products: []pricelist.Product{{
			RowNumber:   2,
			SupplierSKU: "A100",
			Name:        "Widget",
			Currency:    "ZAR",
			UOM:         "EA",
		}},
		Stats:       pricelist.Stats{TotalRows: 1, ValidProducts: 1},
		Errors:      []string{},
		Warnings:    []string{},
		ExtractedAt: now,
		ExpiresAt:   now.Add(24 * time.Hour),
	}
	require.NoError(t, store.PutResult(ctx, result))

	got, err := store.GetResult(ctx, result.JobID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, result.ContentHash, got.ContentHash)
	require.Len(t, got.Products, 1)
	assert.Equal(t, "A100", got.Products[0].SupplierSKU)
	assert.Equal(t, 1, got.Stats.TotalRows)

	// Upsert replaces the document.
	result.ContentHash = "cafef00d"
	require.NoError(t, store.PutResult(ctx, result))
	got, err = store.GetResult(ctx, result.JobID)
	require.NoError(t, err)
	assert.Equal(t, "cafef00d", got.ContentHash)

	require.NoError(t, store.DeleteResult(ctx, result.JobID))
	got, err = store.GetResult(ctx, result.JobID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestResultStoreExpiry(t *testing.T) {
	store := NewResultStore(testDB(t))
	ctx := context.Background()

	expired := &pricelist.Result{
		JobID:       uuid.New(),
		ExtractedAt: time.Now().Add(-25 * time.Hour),
		ExpiresAt:   time.Now().Add(-time.Hour),
	}
	require.NoError(t, store.PutResult(ctx, expired))

	got, err := store.GetResult(ctx, expired.JobID)
	require.NoError(t, err)
	assert.Nil(t, got, "expired documents are not served")

	purged, err := store.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, purged)
}

func TestMetricsStoreRoundTrip(t *testing.T) {
	store := NewMetricsStore(testDB(t))
	ctx := context.Background()

	old := metrics.Completion{
		JobID:    uuid.New(),
		Status:   constants.JobStatusCompleted,
		Duration: 2 * time.Second,
		Rows:     100,
		At:       time.Now().Add(-48 * time.Hour),
	}
	recent := metrics.Completion{
		JobID:    uuid.New(),
		Status:   constants.JobStatusFailed,
		Duration: time.Second,
		ErrCode:  "EXTRACTION_FAILED",
		At:       time.Now(),
	}
	require.NoError(t, store.InsertCompletion(ctx, old))
	require.NoError(t, store.InsertCompletion(ctx, recent))

	got, err := store.CompletionsSince(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, recent.JobID, got[0].JobID)
	assert.Equal(t, constants.JobStatusFailed, got[0].Status)
	assert.Equal(t, time.Second, got[0].Duration)
	assert.Equal(t, "EXTRACTION_FAILED", got[0].ErrCode)
}

func TestDeadLetterStoreRoundTrip(t *testing.T) {
	store := NewDeadLetterStore(testDB(t))
	ctx := context.Background()

	dl := queue.DeadLetter{
		Job: queue.Job{
			ID:       uuid.New(),
			UploadID: uuid.New(),
			Priority: 2,
			Config:   pricelist.DefaultConfig(uuid.Nil),
		},
		Code:       "EXTRACTION_FAILED",
		Message:    "gave up after retries",
		RetryCount: 3,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, store.Insert(ctx, dl))

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	letters, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, dl.Job.ID, letters[0].Job.ID)
	assert.Equal(t, dl.Code, letters[0].Code)
	assert.Equal(t, 3, letters[0].RetryCount)
}

func TestCatalogStoreLookup(t *testing.T) {
	store := NewCatalogStore(testDB(t))
	ctx := context.Background()

	supplier := uuid.New()
	other := uuid.New()
	p1, p2 := uuid.New(), uuid.New()
	require.NoError(t, store.UpsertMapping(ctx, supplier, "A100", p1))
	require.NoError(t, store.UpsertMapping(ctx, supplier, "A200", p2))
	require.NoError(t, store.UpsertMapping(ctx, other, "A300", uuid.New()))

	found, err := store.LookupSKUs(ctx, supplier, []string{"A100", "A200", "A300", "MISSING"})
	require.NoError(t, err)
	assert.Len(t, found, 2)
	assert.Equal(t, p1, found["A100"])
	assert.Equal(t, p2, found["A200"])

	// Remapping a SKU replaces the existing product link.
	p3 := uuid.New()
	require.NoError(t, store.UpsertMapping(ctx, supplier, "A100", p3))
	found, err = store.LookupSKUs(ctx, supplier, []string{"A100"})
	require.NoError(t, err)
	assert.Equal(t, p3, found["A100"])

	empty, err := store.LookupSKUs(ctx, supplier, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
