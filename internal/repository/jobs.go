package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nxt-spp/pricelist-pipeline/constants"
	"github.com/nxt-spp/pricelist-pipeline/internal/queue"
)

// JobStore persists extraction job lifecycle state. Timestamps are stored
// as unix milliseconds so the schema works on both postgres and sqlite.
type JobStore struct {
	db *sql.DB
}

func NewJobStore(db *sql.DB) *JobStore {
	return &JobStore{db: db}
}

// CreateQueued inserts the job's initial record.
func (s *JobStore) CreateQueued(ctx context.Context, job queue.Job) error {
	cfg, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("encoding job config: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO extraction_job (id, upload_id, org_id, priority, config, status, retry_count, queued_at_ms, updated_at_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID.String(), job.UploadID.String(), job.OrgID, job.Priority, string(cfg),
		string(constants.JobStatusQueued), job.RetryCount,
		job.QueuedAt.UnixMilli(), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting job %s: %w", job.ID, err)
	}
	return nil
}

// SetStatus records a status transition.
func (s *JobStore) SetStatus(ctx context.Context, id uuid.UUID, status constants.JobStatus, errCode, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE extraction_job
		SET status = $1, error_code = $2, error_message = $3, updated_at_ms = $4
		WHERE id = $5`,
		string(status), errCode, errMsg, time.Now().UnixMilli(), id.String(),
	)
	if err != nil {
		return fmt.Errorf("updating job %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("job %s not found", id)
	}
	return nil
}

// JobRecord is the persisted view of a job.
type JobRecord struct {
	ID         uuid.UUID           `json:"job_id"`
	UploadID   uuid.UUID           `json:"upload_id"`
	OrgID      string              `json:"org_id"`
	Priority   int                 `json:"priority"`
	Status     constants.JobStatus `json:"status"`
	RetryCount int                 `json:"retry_count"`
	ErrCode    string              `json:"error_code,omitempty"`
	ErrMessage string              `json:"error_message,omitempty"`
	QueuedAt   time.Time           `json:"queued_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// Get fetches one job record.
func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*JobRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, upload_id, org_id, priority, status, retry_count,
		       COALESCE(error_code, ''), COALESCE(error_message, ''), queued_at_ms, updated_at_ms
		FROM extraction_job WHERE id = $1`, id.String())
	rec, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job %s: %w", id, err)
		}
		return nil, fmt.Errorf("querying job %s: %w", id, err)
	}
	return rec, nil
}

// ListRecent returns the latest jobs by queue time, newest first.
func (s *JobStore) ListRecent(ctx context.Context, limit int) ([]JobRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, upload_id, org_id, priority, status, retry_count,
		       COALESCE(error_code, ''), COALESCE(error_message, ''), queued_at_ms, updated_at_ms
		FROM extraction_job ORDER BY queued_at_ms DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var out []JobRecord
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job row: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*JobRecord, error) {
	var rec JobRecord
	var id, uploadID, status string
	var queuedMS, updatedMS int64
	err := row.Scan(&id, &uploadID, &rec.OrgID, &rec.Priority, &status,
		&rec.RetryCount, &rec.ErrCode, &rec.ErrMessage, &queuedMS, &updatedMS)
	if err != nil {
		return nil, err
	}
	if rec.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if rec.UploadID, err = uuid.Parse(uploadID); err != nil {
		return nil, err
	}
	rec.Status = constants.JobStatus(status)
	rec.QueuedAt = time.UnixMilli(queuedMS)
	rec.UpdatedAt = time.UnixMilli(updatedMS)
	return &rec, nil
}
