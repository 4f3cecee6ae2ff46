package server

import (
	"encoding/json"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nxt-spp/pricelist-pipeline/constants"
	"github.com/nxt-spp/pricelist-pipeline/internal/pricelist"
	"github.com/nxt-spp/pricelist-pipeline/internal/queue"
)

type createUploadRequest struct {
	SupplierID  uuid.UUID `json:"supplier_id"`
	StoragePath string    `json:"storage_path"`
	Filename    string    `json:"filename"`
	SizeBytes   int64     `json:"size_bytes"`
}

// CreateUpload registers an already-stored pricelist file.
func (a *App) CreateUpload(w http.ResponseWriter, r *http.Request) {
	var req createUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if req.StoragePath == "" || req.Filename == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "storage_path and filename are required")
		return
	}
	ext := constants.NormalizeExt(filepath.Ext(req.Filename))
	kind, ok := constants.KindForExt(ext)
	if !ok {
		a.error(w, http.StatusUnsupportedMediaType, "unsupported_file_type", "file type "+ext+" is not supported")
		return
	}

	upload := pricelist.Upload{
		ID:          uuid.New(),
		SupplierID:  req.SupplierID,
		StoragePath: req.StoragePath,
		Filename:    req.Filename,
		Kind:        kind,
		SizeBytes:   req.SizeBytes,
	}
	if err := a.Uploads.Create(r.Context(), upload); err != nil {
		a.Logger.Error("server.upload.create_failed", "err", err)
		a.error(w, http.StatusInternalServerError, "internal", "failed to register upload")
		return
	}
	a.json(w, http.StatusCreated, map[string]any{"upload_id": upload.ID, "file_kind": kind})
}

type createJobRequest struct {
	UploadID uuid.UUID         `json:"upload_id"`
	OrgID    string            `json:"org_id"`
	Priority int               `json:"priority"`
	Config   *pricelist.Config `json:"config,omitempty"`
}

// CreateJob enqueues an extraction job and reports its queue placement.
func (a *App) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if req.UploadID == uuid.Nil {
		a.error(w, http.StatusBadRequest, "bad_request", "upload_id is required")
		return
	}

	cfg := pricelist.DefaultConfig(uuid.Nil)
	if req.Config != nil {
		cfg = *req.Config
	}
	if err := cfg.Validate(); err != nil {
		a.error(w, http.StatusBadRequest, "invalid_config", err.Error())
		return
	}

	job := queue.Job{
		ID:       uuid.New(),
		UploadID: req.UploadID,
		OrgID:    req.OrgID,
		Priority: req.Priority,
		Config:   cfg,
	}
	placed, err := a.Queue.Enqueue(r.Context(), job)
	if err != nil {
		if err == queue.ErrShutdown {
			a.error(w, http.StatusServiceUnavailable, "shutting_down", "queue is not accepting jobs")
			return
		}
		a.Logger.Error("server.job.enqueue_failed", "err", err)
		a.error(w, http.StatusInternalServerError, "internal", "failed to enqueue job")
		return
	}

	a.json(w, http.StatusAccepted, map[string]any{
		"job_id":            job.ID,
		"status":            constants.JobStatusQueued,
		"position":          placed.Position,
		"estimated_wait_ms": placed.EstimatedWait.Milliseconds(),
	})
}

// GetJob reports a job's live state, plus its result once completed.
func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "malformed job id")
		return
	}

	state, ok := a.Queue.Status(id)
	if !ok {
		// Not in memory; fall back to the persisted record.
		rec, err := a.Jobs.Get(r.Context(), id)
		if err != nil {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.json(w, http.StatusOK, map[string]any{"job_id": id, "status": rec.Status, "job": rec})
		return
	}

	resp := map[string]any{"job_id": id, "state": state}
	if state.Status == constants.JobStatusCompleted && a.Cache != nil {
		if result, err := a.Cache.Get(r.Context(), id); err == nil && result != nil {
			resp["result"] = result
		}
	}
	a.json(w, http.StatusOK, resp)
}

// CancelJob requests cancellation of a queued or running job.
func (a *App) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "malformed job id")
		return
	}
	if !a.Queue.Cancel(r.Context(), id) {
		a.error(w, http.StatusConflict, "not_cancellable", "job is unknown or already finished")
		return
	}
	a.json(w, http.StatusAccepted, map[string]any{"job_id": id, "cancelling": true})
}

// QueueStats reports the queue's current shape.
func (a *App) QueueStats(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, a.Queue.Stats())
}

// ListDeadLetters returns recent dead letters, newest first.
func (a *App) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	letters, err := a.DLQ.List(r.Context(), intQuery(r, "limit", 50))
	if err != nil {
		a.Logger.Error("server.dlq.list_failed", "err", err)
		a.error(w, http.StatusInternalServerError, "internal", "failed to list dead letters")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"dead_letters": letters})
}
