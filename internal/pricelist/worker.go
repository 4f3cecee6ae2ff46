package pricelist

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/nxt-spp/pricelist-pipeline/constants"
	"github.com/nxt-spp/pricelist-pipeline/internal/common"
)

const (
	chunkSize = 100
	resultTTL = 24 * time.Hour
)

// Job is the unit of work a worker executes.
type Job struct {
	ID       uuid.UUID
	UploadID uuid.UUID
	OrgID    string
	Config   Config
}

// Upload is the stored metadata for an uploaded pricelist file.
type Upload struct {
	ID          uuid.UUID
	SupplierID  uuid.UUID
	StoragePath string
	Filename    string
	Kind        constants.FileKind
	SizeBytes   int64
}

// UploadStore fetches upload metadata.
type UploadStore interface {
	GetUpload(ctx context.Context, id uuid.UUID) (*Upload, error)
}

// CatalogStore answers batched SKU lookups against the existing catalog.
type CatalogStore interface {
	LookupSKUs(ctx context.Context, supplierID uuid.UUID, skus []string) (map[string]uuid.UUID, error)
}

// ResultCache stores completed extraction results.
type ResultCache interface {
	Get(ctx context.Context, jobID uuid.UUID) (*Result, error)
	Set(ctx context.Context, result *Result) error
}

// Worker executes exactly one extraction job end-to-end. A fresh Worker is
// created per job; it holds no per-job state between runs.
type Worker struct {
	uploads UploadStore
	catalog CatalogStore
	cache   ResultCache
	logger  *slog.Logger
}

// NewWorker wires a worker. catalog and cache may be nil, which disables
// catalog matching and result caching respectively (the one-shot CLI runs
// that way).
func NewWorker(uploads UploadStore, catalog CatalogStore, cache ResultCache, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{uploads: uploads, catalog: catalog, cache: cache, logger: logger}
}

// Execute runs the extraction pipeline for one job. Cancellation is
// cooperative: ctx is checked between parse phases and at every chunk
// boundary, and surfaces as a CANCELLED error.
func (w *Worker) Execute(ctx context.Context, job Job, hooks Hooks) (*Result, error) {
	start := time.Now()

	// A completed result may already be cached for this job.
	if w.cache != nil {
		if cached, err := w.cache.Get(ctx, job.ID); err != nil {
			w.logger.Warn("worker.cache.read_failed", "job_id", job.ID, "err", err)
		} else if cached != nil {
			hooks.emitStatus("using cached results")
			hooks.emitProgress(100)
			return cached, nil
		}
	}

	if err := job.Config.Validate(); err != nil {
		return nil, err
	}

	hooks.emitStatus("loading file metadata")
	hooks.emitProgress(5)
	upload, err := w.uploads.GetUpload(ctx, job.UploadID)
	if err != nil {
		return nil, common.NewError(common.CodeFileNotFound, fmt.Sprintf("upload %s not found", job.UploadID), err)
	}

	size := upload.SizeBytes
	if size == 0 {
		if info, err := os.Stat(upload.StoragePath); err == nil {
			size = info.Size()
		}
	}
	if size > maxFileSize {
		return nil, common.Errorf(common.CodeFileTooLarge,
			"file size %.2fMB exceeds limit of %dMB", float64(size)/(1<<20), maxFileSize>>20)
	}

	hash, err := fingerprintFile(upload.StoragePath)
	if err != nil {
		return nil, common.NewError(common.CodeFileNotFound, "reading "+upload.StoragePath, err)
	}

	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}
	hooks.emitStatus("parsing file")
	hooks.emitProgress(10)
	rows, lines, err := w.parseFile(ctx, upload.StoragePath, upload.Kind, &job.Config, hooks)
	if err != nil {
		return nil, err
	}
	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}

	hooks.emitStatus("extracting products")
	hooks.emitProgress(30)
	products, err := w.extractChunked(ctx, rows, lines, &job.Config, hooks)
	if err != nil {
		return nil, err
	}

	hooks.emitStatus("validating products")
	hooks.emitProgress(70)
	markDuplicates(products, hooks)
	if w.catalog != nil {
		if err := w.matchCatalog(ctx, supplierFor(&job, upload), products, hooks); err != nil {
			return nil, err
		}
	}
	applyBusinessRules(products)

	hooks.emitStatus("calculating statistics")
	hooks.emitProgress(85)
	stats := computeStats(products)
	stats.ProcessingTimeMS = time.Since(start).Milliseconds()

	now := time.Now()
	result := &Result{
		JobID:       job.ID,
		UploadID:    job.UploadID,
		ContentHash: hash,
		Products:    products,
		Stats:       stats,
		Errors:      []string{},
		Warnings:    collectWarnings(products),
		ExtractedAt: now,
		ExpiresAt:   now.Add(resultTTL),
	}

	if w.cache != nil {
		hooks.emitStatus("caching results")
		hooks.emitProgress(95)
		if err := w.cache.Set(ctx, result); err != nil {
			w.logger.Warn("worker.cache.write_failed", "job_id", job.ID, "err", err)
		}
	}

	hooks.emitStatus("extraction completed")
	hooks.emitProgress(100)
	w.logger.Info("worker.extract.ok",
		"job_id", job.ID,
		"upload_id", job.UploadID,
		"rows", stats.TotalRows,
		"valid", stats.ValidProducts,
		"elapsed_ms", stats.ProcessingTimeMS,
	)
	return result, nil
}

// extractChunked maps data rows to products in fixed-size batches so memory
// stays bounded and progress lands at least once per chunk. lines carries
// each row's source position so validation messages name real file rows.
func (w *Worker) extractChunked(ctx context.Context, rows [][]string, lines []int, cfg *Config, hooks Hooks) ([]Product, error) {
	if len(rows) == 0 {
		return []Product{}, nil
	}

	var columns []ColumnMapping
	dataStart := 0
	if cfg.AutoDetectColumns {
		idx, headers, found := detectHeaderRow(rows)
		if !found {
			// No qualifying row in the scan window; treat the first row
			// as the header and let the fallback mapping take over.
			idx, headers = 0, rows[0]
		}
		columns = buildColumnMap(headers)
		dataStart = idx + 1
		hooks.emitStatus(fmt.Sprintf("mapped %d columns from header row %d", len(columns), idx+1))
	} else {
		columns = buildManualColumnMap(rows[0], cfg.ColumnMapping)
		dataStart = 1
	}
	if len(columns) == 0 {
		return nil, common.Errorf(common.CodeExtractionFailed, "no usable columns detected")
	}

	data := rows[dataStart:]
	products := make([]Product, 0, len(data))
	for chunkStart := 0; chunkStart < len(data); chunkStart += chunkSize {
		if err := checkCancelled(ctx); err != nil {
			return nil, err
		}
		chunkEnd := chunkStart + chunkSize
		if chunkEnd > len(data) {
			chunkEnd = len(data)
		}
		for i := chunkStart; i < chunkEnd; i++ {
			rowNumber := dataStart + i + 1
			if idx := dataStart + i; idx < len(lines) {
				rowNumber = lines[idx]
			}
			if p, keep := extractRow(data[i], rowNumber, columns, cfg); keep {
				products = append(products, p)
			}
		}
		hooks.emitProgress(30 + 40*chunkEnd/len(data))
		hooks.emitStatus(fmt.Sprintf("processed %d/%d rows", chunkEnd, len(data)))
	}
	return products, nil
}

// supplierFor prefers the config's supplier but falls back to the upload row.
func supplierFor(job *Job, upload *Upload) uuid.UUID {
	if job.Config.SupplierID != uuid.Nil {
		return job.Config.SupplierID
	}
	return upload.SupplierID
}

func checkCancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return common.NewError(common.CodeCancelled, "extraction cancelled", err)
	}
	return nil
}
