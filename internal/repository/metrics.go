package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nxt-spp/pricelist-pipeline/constants"
	"github.com/nxt-spp/pricelist-pipeline/internal/metrics"
)

// MetricsStore is the durable sink for job completion samples.
type MetricsStore struct {
	db *sql.DB
}

func NewMetricsStore(db *sql.DB) *MetricsStore {
	return &MetricsStore{db: db}
}

// InsertCompletion appends one sample.
func (s *MetricsStore) InsertCompletion(ctx context.Context, c metrics.Completion) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO extraction_metric (job_id, status, duration_ms, rows_processed, error_code, completed_at_ms)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		c.JobID.String(), string(c.Status), c.Duration.Milliseconds(), c.Rows, c.ErrCode, c.At.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting completion sample for %s: %w", c.JobID, err)
	}
	return nil
}

// CompletionsSince returns samples recorded at or after the given time,
// oldest first.
func (s *MetricsStore) CompletionsSince(ctx context.Context, since time.Time) ([]metrics.Completion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, status, duration_ms, rows_processed, COALESCE(error_code, ''), completed_at_ms
		FROM extraction_metric
		WHERE completed_at_ms >= $1
		ORDER BY completed_at_ms ASC`, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("querying completion samples: %w", err)
	}
	defer rows.Close()

	var out []metrics.Completion
	for rows.Next() {
		var c metrics.Completion
		var id, status string
		var durationMS, atMS int64
		if err := rows.Scan(&id, &status, &durationMS, &c.Rows, &c.ErrCode, &atMS); err != nil {
			return nil, fmt.Errorf("scanning completion sample: %w", err)
		}
		if c.JobID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("malformed job id in sample: %w", err)
		}
		c.Status = constants.JobStatus(status)
		c.Duration = time.Duration(durationMS) * time.Millisecond
		c.At = time.UnixMilli(atMS)
		out = append(out, c)
	}
	return out, rows.Err()
}
