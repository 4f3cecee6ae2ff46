package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nxt-spp/pricelist-pipeline/internal/pricelist"
)

// ResultStore is the durable tier of the result cache. The full result is
// stored as a JSON document keyed by job ID.
type ResultStore struct {
	db *sql.DB
}

func NewResultStore(db *sql.DB) *ResultStore {
	return &ResultStore{db: db}
}

// PutResult upserts the result document.
func (s *ResultStore) PutResult(ctx context.Context, result *pricelist.Result) error {
	doc, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding result %s: %w", result.JobID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO extraction_result_cache (job_id, content_hash, payload, extracted_at_ms, expires_at_ms)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (job_id) DO UPDATE SET
			content_hash = EXCLUDED.content_hash,
			payload = EXCLUDED.payload,
			extracted_at_ms = EXCLUDED.extracted_at_ms,
			expires_at_ms = EXCLUDED.expires_at_ms`,
		result.JobID.String(), result.ContentHash, string(doc),
		result.ExtractedAt.UnixMilli(), result.ExpiresAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("storing result %s: %w", result.JobID, err)
	}
	return nil
}

// GetResult returns the cached result, or (nil, nil) when absent or past
// its expiry.
func (s *ResultStore) GetResult(ctx context.Context, jobID uuid.UUID) (*pricelist.Result, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT payload FROM extraction_result_cache
		WHERE job_id = $1 AND expires_at_ms > $2`,
		jobID.String(), time.Now().UnixMilli())

	var doc string
	if err := row.Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying result %s: %w", jobID, err)
	}
	var result pricelist.Result
	if err := json.Unmarshal([]byte(doc), &result); err != nil {
		return nil, fmt.Errorf("decoding result %s: %w", jobID, err)
	}
	return &result, nil
}

// DeleteResult removes the result document.
func (s *ResultStore) DeleteResult(ctx context.Context, jobID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM extraction_result_cache WHERE job_id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("deleting result %s: %w", jobID, err)
	}
	return nil
}

// PurgeExpired drops every expired document and reports how many went.
func (s *ResultStore) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM extraction_result_cache WHERE expires_at_ms <= $1`, time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purging expired results: %w", err)
	}
	return res.RowsAffected()
}
