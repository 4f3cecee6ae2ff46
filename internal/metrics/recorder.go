// Package metrics records per-job completion samples and aggregates them
// for the monitoring surface.
package metrics

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nxt-spp/pricelist-pipeline/constants"
)

// retention bounds the in-memory sample window.
const retention = 24 * time.Hour

// Completion is one terminal job outcome.
type Completion struct {
	JobID    uuid.UUID           `json:"job_id"`
	Status   constants.JobStatus `json:"status"`
	Duration time.Duration       `json:"duration_ms"`
	Rows     int                 `json:"rows"`
	ErrCode  string              `json:"error_code,omitempty"`
	At       time.Time           `json:"completed_at"`
}

// Store is the durable sink for completion samples.
type Store interface {
	InsertCompletion(ctx context.Context, c Completion) error
	CompletionsSince(ctx context.Context, since time.Time) ([]Completion, error)
}

// Dashboard is the aggregate view over the retained window.
type Dashboard struct {
	JobsLastHour  int          `json:"jobs_last_hour"`
	JobsLast24h   int          `json:"jobs_last_24h"`
	SuccessRate   float64      `json:"success_rate"`
	AvgDurationMS int64        `json:"avg_duration_ms"`
	Rows24h       int          `json:"rows_processed_24h"`
	TopErrors     []ErrorCount `json:"top_errors"`
}

// ErrorCount pairs an error code with its occurrences in the window.
type ErrorCount struct {
	Code  string `json:"code"`
	Count int    `json:"count"`
}

// HourlyBucket aggregates completions for one clock hour.
type HourlyBucket struct {
	Hour      time.Time `json:"hour"`
	Total     int       `json:"total"`
	Completed int       `json:"completed"`
	Failed    int       `json:"failed"`
	Rows      int       `json:"rows"`
}

// Recorder keeps a rolling 24h sample window in memory and mirrors each
// sample to the durable store when one is configured.
type Recorder struct {
	store  Store
	logger *slog.Logger

	mu     sync.Mutex
	window []Completion
}

// NewRecorder builds a recorder. store may be nil for in-memory-only use.
// When a store is present the last 24h of samples are preloaded so the
// dashboard survives restarts.
func NewRecorder(ctx context.Context, store Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{store: store, logger: logger}
	if store != nil {
		samples, err := store.CompletionsSince(ctx, time.Now().Add(-retention))
		if err != nil {
			logger.Warn("metrics.preload_failed", "err", err)
		} else {
			sort.Slice(samples, func(i, j int) bool { return samples[i].At.Before(samples[j].At) })
			r.window = samples
		}
	}
	return r
}

// RecordCompletion satisfies the queue's CompletionRecorder.
func (r *Recorder) RecordCompletion(ctx context.Context, jobID uuid.UUID, status constants.JobStatus, duration time.Duration, rows int, errCode string) error {
	sample := Completion{
		JobID:    jobID,
		Status:   status,
		Duration: duration,
		Rows:     rows,
		ErrCode:  errCode,
		At:       time.Now(),
	}

	r.mu.Lock()
	r.window = append(r.window, sample)
	r.pruneLocked(sample.At)
	r.mu.Unlock()

	if r.store == nil {
		return nil
	}
	return r.store.InsertCompletion(ctx, sample)
}

func (r *Recorder) pruneLocked(now time.Time) {
	cutoff := now.Add(-retention)
	drop := 0
	for drop < len(r.window) && r.window[drop].At.Before(cutoff) {
		drop++
	}
	if drop > 0 {
		r.window = append([]Completion(nil), r.window[drop:]...)
	}
}

// Dashboard aggregates the retained window. With no terminal samples the
// success rate is zero rather than a division by zero.
func (r *Recorder) Dashboard() Dashboard {
	now := time.Now()
	hourAgo := now.Add(-time.Hour)

	r.mu.Lock()
	r.pruneLocked(now)
	window := r.window
	var d Dashboard
	var totalDuration time.Duration
	var completed, failed int
	errCounts := map[string]int{}
	for _, s := range window {
		d.JobsLast24h++
		d.Rows24h += s.Rows
		totalDuration += s.Duration
		if !s.At.Before(hourAgo) {
			d.JobsLastHour++
		}
		switch s.Status {
		case constants.JobStatusCompleted:
			completed++
		case constants.JobStatusFailed:
			failed++
			if s.ErrCode != "" {
				errCounts[s.ErrCode]++
			}
		}
	}
	r.mu.Unlock()

	if completed+failed > 0 {
		d.SuccessRate = float64(completed) / float64(completed+failed)
	}
	if d.JobsLast24h > 0 {
		d.AvgDurationMS = (totalDuration / time.Duration(d.JobsLast24h)).Milliseconds()
	}
	for code, count := range errCounts {
		d.TopErrors = append(d.TopErrors, ErrorCount{Code: code, Count: count})
	}
	sort.Slice(d.TopErrors, func(i, j int) bool {
		if d.TopErrors[i].Count != d.TopErrors[j].Count {
			return d.TopErrors[i].Count > d.TopErrors[j].Count
		}
		return d.TopErrors[i].Code < d.TopErrors[j].Code
	})
	if len(d.TopErrors) > 5 {
		d.TopErrors = d.TopErrors[:5]
	}
	return d
}

// SampleCount reports how many completions are in the window.
func (r *Recorder) SampleCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.window)
}

// RecentJobs returns up to n completions, newest first.
func (r *Recorder) RecentJobs(n int) []Completion {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || n > len(r.window) {
		n = len(r.window)
	}
	out := make([]Completion, 0, n)
	for i := len(r.window) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, r.window[i])
	}
	return out
}

// HourlyStats buckets the window by clock hour, oldest first, covering the
// last `hours` hours including the current partial one.
func (r *Recorder) HourlyStats(hours int) []HourlyBucket {
	if hours <= 0 || hours > 24 {
		hours = 24
	}
	now := time.Now()
	start := now.Truncate(time.Hour).Add(-time.Duration(hours-1) * time.Hour)

	buckets := make([]HourlyBucket, hours)
	for i := range buckets {
		buckets[i].Hour = start.Add(time.Duration(i) * time.Hour)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.window {
		if s.At.Before(start) {
			continue
		}
		idx := int(s.At.Sub(start) / time.Hour)
		if idx < 0 || idx >= hours {
			continue
		}
		buckets[idx].Total++
		buckets[idx].Rows += s.Rows
		switch s.Status {
		case constants.JobStatusCompleted:
			buckets[idx].Completed++
		case constants.JobStatusFailed:
			buckets[idx].Failed++
		}
	}
	return buckets
}
