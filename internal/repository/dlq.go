package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nxt-spp/pricelist-pipeline/internal/common"
	"github.com/nxt-spp/pricelist-pipeline/internal/queue"
)

// DeadLetterStore persists jobs that exhausted retries or failed on a
// non-retryable error.
type DeadLetterStore struct {
	db *sql.DB
}

func NewDeadLetterStore(db *sql.DB) *DeadLetterStore {
	return &DeadLetterStore{db: db}
}

// Insert appends one dead letter. The full job is kept as a JSON document
// so operators can requeue it by hand.
func (s *DeadLetterStore) Insert(ctx context.Context, dl queue.DeadLetter) error {
	doc, err := json.Marshal(dl.Job)
	if err != nil {
		return fmt.Errorf("encoding dead letter %s: %w", dl.Job.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO extraction_dead_letter (job_id, job, error_code, error_message, retry_count, created_at_ms)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		dl.Job.ID.String(), string(doc), string(dl.Code), dl.Message, dl.RetryCount, dl.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting dead letter %s: %w", dl.Job.ID, err)
	}
	return nil
}

// Count reports how many dead letters are on record.
func (s *DeadLetterStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM extraction_dead_letter`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting dead letters: %w", err)
	}
	return n, nil
}

// List returns dead letters newest first.
func (s *DeadLetterStore) List(ctx context.Context, limit int) ([]queue.DeadLetter, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT job, error_code, error_message, retry_count, created_at_ms
		FROM extraction_dead_letter ORDER BY created_at_ms DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing dead letters: %w", err)
	}
	defer rows.Close()

	var out []queue.DeadLetter
	for rows.Next() {
		var dl queue.DeadLetter
		var doc, code string
		var createdMS int64
		if err := rows.Scan(&doc, &code, &dl.Message, &dl.RetryCount, &createdMS); err != nil {
			return nil, fmt.Errorf("scanning dead letter: %w", err)
		}
		if err := json.Unmarshal([]byte(doc), &dl.Job); err != nil {
			return nil, fmt.Errorf("decoding dead letter job: %w", err)
		}
		dl.Code = common.ErrorCode(code)
		dl.CreatedAt = time.UnixMilli(createdMS)
		out = append(out, dl)
	}
	return out, rows.Err()
}
