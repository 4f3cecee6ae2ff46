package pricelist

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nxt-spp/pricelist-pipeline/constants"
	"github.com/nxt-spp/pricelist-pipeline/internal/common"
)

type memUploads struct {
	uploads map[uuid.UUID]Upload
}

func (m *memUploads) GetUpload(ctx context.Context, id uuid.UUID) (*Upload, error) {
	u, ok := m.uploads[id]
	if !ok {
		return nil, fmt.Errorf("no such upload %s", id)
	}
	return &u, nil
}

type memCache struct {
	mu      sync.Mutex
	results map[uuid.UUID]*Result
	sets    int
}

func (m *memCache) Get(ctx context.Context, jobID uuid.UUID) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.results[jobID], nil
}

func (m *memCache) Set(ctx context.Context, result *Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.results == nil {
		m.results = map[uuid.UUID]*Result{}
	}
	m.results[result.JobID] = result
	m.sets++
	return nil
}

func csvUpload(t *testing.T, content string) (*memUploads, Upload) {
	t.Helper()
	path := writeTempFile(t, "pricelist.csv", content)
	upload := Upload{
		ID:          uuid.New(),
		SupplierID:  uuid.New(),
		StoragePath: path,
		Filename:    "pricelist.csv",
		Kind:        constants.FileKindCSV,
		SizeBytes:   int64(len(content)),
	}
	return &memUploads{uploads: map[uuid.UUID]Upload{upload.ID: upload}}, upload
}

func TestWorkerExecuteEndToEnd(t *testing.T) {
	uploads, upload := csvUpload(t,
		"SKU,Description,Brand,Unit Price\n"+
			"A100,Widget,Acme,10.00\n"+
			"A200,Gadget,Acme,\"R 1,299.50\"\n"+
			"A100,Widget again,Acme,12.00\n")

	existing := uuid.New()
	catalog := &fakeCatalog{known: map[string]uuid.UUID{"A200": existing}}
	cache := &memCache{}
	w := NewWorker(uploads, catalog, cache, nil)

	var lastPercent int
	hooks := Hooks{Progress: func(p int) { lastPercent = p }}

	job := Job{ID: uuid.New(), UploadID: upload.ID, Config: DefaultConfig(uuid.Nil)}
	result, err := w.Execute(context.Background(), job, hooks)
	require.NoError(t, err)

	assert.Equal(t, 100, lastPercent)
	assert.NotEmpty(t, result.ContentHash)
	require.Len(t, result.Products, 3)

	assert.Equal(t, "A100", result.Products[0].SupplierSKU)
	assert.Equal(t, "10", result.Products[0].Price.String())
	assert.True(t, result.Products[0].IsDuplicate)
	assert.True(t, result.Products[2].IsDuplicate)

	// Catalog match: A200 is an existing product.
	assert.False(t, result.Products[1].IsNew)
	require.NotNil(t, result.Products[1].MatchedProductID)
	assert.Equal(t, existing, *result.Products[1].MatchedProductID)

	assert.Equal(t, 3, result.Stats.TotalRows)
	assert.Equal(t, 2, result.Stats.DuplicateSKUs)
	assert.Equal(t, 1, result.Stats.ExistingProducts)
	assert.NotEmpty(t, result.Warnings)

	assert.Equal(t, 1, cache.sets)
}

func TestWorkerExecuteWarningsNameSourceRows(t *testing.T) {
	// Two junk lines skipped before the header: warnings must still point
	// at the file's own line numbers.
	uploads, upload := csvUpload(t,
		"Acme Wholesale Pricelist\n"+
			"exported 2026-08-01\n"+
			"SKU,Description,Price\n"+
			"A100,Widget,10.00\n"+
			"A200,Gadget,20.00\n"+
			"A100,Widget again,12.00\n")

	w := NewWorker(uploads, nil, nil, nil)

	var warnings []string
	hooks := Hooks{Warning: func(msg string) { warnings = append(warnings, msg) }}

	cfg := DefaultConfig(uuid.Nil)
	cfg.SkipRows = 2
	result, err := w.Execute(context.Background(), Job{ID: uuid.New(), UploadID: upload.ID, Config: cfg}, hooks)
	require.NoError(t, err)

	require.Len(t, result.Products, 3)
	assert.Equal(t, 4, result.Products[0].RowNumber)
	assert.Equal(t, 6, result.Products[2].RowNumber)

	require.NotEmpty(t, warnings)
	assert.Contains(t, warnings[0], `duplicate SKU "A100" in rows 4, 6`)
}

func TestWorkerExecuteServesCachedResult(t *testing.T) {
	uploads, upload := csvUpload(t, "SKU,Description,Price\nA100,Widget,10.00\n")
	cache := &memCache{}
	w := NewWorker(uploads, nil, cache, nil)

	job := Job{ID: uuid.New(), UploadID: upload.ID, Config: DefaultConfig(uuid.Nil)}
	first, err := w.Execute(context.Background(), job, Hooks{})
	require.NoError(t, err)

	var statuses []string
	second, err := w.Execute(context.Background(), job, Hooks{Status: func(s string) { statuses = append(statuses, s) }})
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, cache.sets, "second run must not re-extract")
	assert.Contains(t, statuses, "using cached results")
}

func TestWorkerExecuteUnknownUpload(t *testing.T) {
	w := NewWorker(&memUploads{uploads: map[uuid.UUID]Upload{}}, nil, nil, nil)
	job := Job{ID: uuid.New(), UploadID: uuid.New(), Config: DefaultConfig(uuid.Nil)}

	_, err := w.Execute(context.Background(), job, Hooks{})
	require.Error(t, err)
	assert.Equal(t, common.CodeFileNotFound, common.CodeOf(err))
	assert.False(t, common.Retryable(err))
}

func TestWorkerExecuteRejectsOversizedFile(t *testing.T) {
	uploads, upload := csvUpload(t, "SKU,Description,Price\nA100,Widget,10.00\n")
	upload.SizeBytes = maxFileSize + 1
	uploads.uploads[upload.ID] = upload
	w := NewWorker(uploads, nil, nil, nil)

	_, err := w.Execute(context.Background(), Job{ID: uuid.New(), UploadID: upload.ID, Config: DefaultConfig(uuid.Nil)}, Hooks{})
	require.Error(t, err)
	assert.Equal(t, common.CodeFileTooLarge, common.CodeOf(err))
}

func TestWorkerExecuteInvalidConfig(t *testing.T) {
	uploads, upload := csvUpload(t, "SKU,Description,Price\nA100,Widget,10.00\n")
	w := NewWorker(uploads, nil, nil, nil)

	cfg := DefaultConfig(uuid.Nil)
	cfg.VATRate = 1.5
	_, err := w.Execute(context.Background(), Job{ID: uuid.New(), UploadID: upload.ID, Config: cfg}, Hooks{})
	require.Error(t, err)
	assert.Equal(t, common.CodeInvalidConfig, common.CodeOf(err))
}

func TestWorkerExecuteCancelled(t *testing.T) {
	uploads, upload := csvUpload(t, "SKU,Description,Price\nA100,Widget,10.00\n")
	w := NewWorker(uploads, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := w.Execute(ctx, Job{ID: uuid.New(), UploadID: upload.ID, Config: DefaultConfig(uuid.Nil)}, Hooks{})
	require.Error(t, err)
	assert.Equal(t, common.CodeCancelled, common.CodeOf(err))
}

func TestWorkerManualColumnMapping(t *testing.T) {
	uploads, upload := csvUpload(t,
		"Code,Item,Cost Each\n"+
			"A100,Widget,10.00\n")
	w := NewWorker(uploads, nil, nil, nil)

	cfg := DefaultConfig(uuid.Nil)
	cfg.AutoDetectColumns = false
	cfg.ColumnMapping = map[string]string{
		"sku":         "Code",
		"description": "Item",
		"price":       "Cost Each",
	}
	result, err := w.Execute(context.Background(), Job{ID: uuid.New(), UploadID: upload.ID, Config: cfg}, Hooks{})
	require.NoError(t, err)
	require.Len(t, result.Products, 1)
	assert.Equal(t, "A100", result.Products[0].SupplierSKU)
	assert.Equal(t, "Widget", result.Products[0].Name)
	assert.Equal(t, "10", result.Products[0].Price.String())
}

func TestWorkerJSONUpload(t *testing.T) {
	path := writeTempFile(t, "list.json",
		`[{"sku":"A100","description":"Widget","price":10.5},{"sku":"A200","description":"Gadget","price":20}]`)
	upload := Upload{
		ID:          uuid.New(),
		StoragePath: path,
		Filename:    "list.json",
		Kind:        constants.FileKindJSON,
		SizeBytes:   1,
	}
	uploads := &memUploads{uploads: map[uuid.UUID]Upload{upload.ID: upload}}
	w := NewWorker(uploads, nil, nil, nil)

	result, err := w.Execute(context.Background(), Job{ID: uuid.New(), UploadID: upload.ID, Config: DefaultConfig(uuid.Nil)}, Hooks{})
	require.NoError(t, err)
	require.Len(t, result.Products, 2)
	assert.Equal(t, "10.5", result.Products[0].Price.String())
}
