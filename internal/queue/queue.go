package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nxt-spp/pricelist-pipeline/constants"
	"github.com/nxt-spp/pricelist-pipeline/internal/common"
	"github.com/nxt-spp/pricelist-pipeline/internal/pricelist"
)

// Job is one queued extraction request. Immutable once created except
// RetryCount; re-enqueued copies keep the same ID.
type Job struct {
	ID         uuid.UUID        `json:"job_id"`
	UploadID   uuid.UUID        `json:"upload_id"`
	Config     pricelist.Config `json:"config"`
	Priority   int              `json:"priority"`
	QueuedAt   time.Time        `json:"queued_at"`
	OrgID      string           `json:"org_id"`
	RetryCount int              `json:"retry_count"`
}

// Progress is the ephemeral progress snapshot for a running job, replaced on
// each progress event.
type Progress struct {
	PercentComplete      int    `json:"percent_complete"`
	CurrentStep          string `json:"current_step"`
	RowsProcessed        int    `json:"rows_processed"`
	RowsTotal            int    `json:"rows_total"`
	ElapsedMS            int64  `json:"elapsed_ms"`
	EstimatedRemainingMS int64  `json:"estimated_remaining_ms"`
}

// JobState is the single mutable record per job ID, owned by the queue and
// overwritten on each transition.
type JobState struct {
	Status      constants.JobStatus `json:"status"`
	Progress    *Progress           `json:"progress,omitempty"`
	ErrCode     common.ErrorCode    `json:"error_code,omitempty"`
	ErrMessage  string              `json:"error_message,omitempty"`
	StartedAt   *time.Time          `json:"started_at,omitempty"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
}

// DeadLetter is the durable snapshot of a job that exhausted retries or hit
// a non-retryable error.
type DeadLetter struct {
	Job        Job              `json:"job"`
	Code       common.ErrorCode `json:"error_code"`
	Message    string           `json:"error_message"`
	RetryCount int              `json:"retry_count"`
	CreatedAt  time.Time        `json:"created_at"`
}

// Enqueued reports where a freshly queued job landed.
type Enqueued struct {
	Position      int           `json:"position"`
	EstimatedWait time.Duration `json:"estimated_wait_ms"`
}

// Stats is the queue's instantaneous shape.
type Stats struct {
	Queued         int `json:"queued"`
	Active         int `json:"active"`
	DLQ            int `json:"dlq"`
	MaxConcurrency int `json:"max_concurrency"`
}

// Executor runs one job end-to-end. *pricelist.Worker satisfies this.
type Executor interface {
	Execute(ctx context.Context, job pricelist.Job, hooks pricelist.Hooks) (*pricelist.Result, error)
}

// JobStore persists job status transitions.
type JobStore interface {
	CreateQueued(ctx context.Context, job Job) error
	SetStatus(ctx context.Context, id uuid.UUID, status constants.JobStatus, errCode, errMsg string) error
}

// DeadLetterStore persists exhausted jobs.
type DeadLetterStore interface {
	Insert(ctx context.Context, dl DeadLetter) error
	Count(ctx context.Context) (int, error)
}

// CompletionRecorder appends one row per terminal job outcome.
type CompletionRecorder interface {
	RecordCompletion(ctx context.Context, jobID uuid.UUID, status constants.JobStatus, duration time.Duration, rows int, errCode string) error
}

var (
	ErrShutdown  = errors.New("queue is shut down")
	ErrDuplicate = errors.New("job id already queued")
)

const (
	avgJobDuration    = 30 * time.Second // wait estimate fallback
	persistTimeout    = 5 * time.Second
	defaultDLQDepth   = 10
	dlqAlertInterval  = time.Minute
	defaultMaxWorkers = 3
)

// Queue owns the priority backlog, the active-job map and the job-state map.
// All three are mutated only from its own dispatch/completion logic.
type Queue struct {
	exec    Executor
	jobs    JobStore
	dlq     DeadLetterStore
	metrics CompletionRecorder
	logger  *slog.Logger

	maxConcurrency int
	retry          RetryPolicy
	dlqAlertDepth  int
	dlqInterval    time.Duration

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu          sync.Mutex
	backlog     []*Job
	states      map[uuid.UUID]*JobState
	active      map[uuid.UUID]context.CancelFunc
	retryTimers map[uuid.UUID]*time.Timer
	dlqDepth    int
	closed      bool

	wg        sync.WaitGroup
	events    *broadcaster
	stopWatch chan struct{}
}

// Option configures a Queue.
type Option func(*Queue)

func WithMaxConcurrency(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxConcurrency = n
		}
	}
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(q *Queue) {
		if p.MaxAttempts > 0 {
			q.retry = p
		}
	}
}

func WithDLQAlertDepth(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.dlqAlertDepth = n
		}
	}
}

// WithDLQAlertInterval shortens the standing-alert poll, used by tests.
func WithDLQAlertInterval(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.dlqInterval = d
		}
	}
}

// New builds and starts a queue. jobs, dlq and metrics may be nil, which
// skips the corresponding persistence (useful in tests and the CLI).
func New(exec Executor, jobs JobStore, dlq DeadLetterStore, metrics CompletionRecorder, logger *slog.Logger, opts ...Option) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		exec:           exec,
		jobs:           jobs,
		dlq:            dlq,
		metrics:        metrics,
		logger:         logger,
		maxConcurrency: defaultMaxWorkers,
		retry:          DefaultRetryPolicy,
		dlqAlertDepth:  defaultDLQDepth,
		dlqInterval:    dlqAlertInterval,
		baseCtx:        ctx,
		baseCancel:     cancel,
		states:         map[uuid.UUID]*JobState{},
		active:         map[uuid.UUID]context.CancelFunc{},
		retryTimers:    map[uuid.UUID]*time.Timer{},
		events:         newBroadcaster(),
		stopWatch:      make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	if dlq != nil {
		countCtx, cancelCount := context.WithTimeout(ctx, persistTimeout)
		if n, err := dlq.Count(countCtx); err != nil {
			logger.Warn("queue.dlq.count_failed", "err", err)
		} else {
			q.dlqDepth = n
		}
		cancelCount()
	}
	go q.watchDLQ()
	return q
}

// Subscribe returns a channel of queue events and a cancel func. Slow
// subscribers lose events rather than blocking dispatch.
func (q *Queue) Subscribe(buffer int) (<-chan Event, func()) {
	return q.events.Subscribe(buffer)
}

// Enqueue inserts the job in strict descending-priority order, ties broken
// by arrival, persists the initial queued state, and kicks dispatch. It
// never blocks on job execution.
func (q *Queue) Enqueue(ctx context.Context, job Job) (Enqueued, error) {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.QueuedAt.IsZero() {
		job.QueuedAt = time.Now()
	}
	job.RetryCount = 0

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return Enqueued{}, ErrShutdown
	}
	if st, exists := q.states[job.ID]; exists && !st.Status.Terminal() {
		q.mu.Unlock()
		return Enqueued{}, ErrDuplicate
	}
	q.insertLocked(&job)
	q.states[job.ID] = &JobState{Status: constants.JobStatusQueued}
	pos, wait := q.placementLocked(job.ID)
	q.mu.Unlock()

	if q.jobs != nil {
		if err := q.jobs.CreateQueued(ctx, job); err != nil {
			q.mu.Lock()
			q.removeBacklogLocked(job.ID)
			delete(q.states, job.ID)
			q.mu.Unlock()
			return Enqueued{}, err
		}
	}

	q.logger.Info("queue.enqueued", "job_id", job.ID, "priority", job.Priority, "position", pos)
	q.events.publish(Event{Type: EventJobQueued, JobID: job.ID, Payload: Enqueued{Position: pos, EstimatedWait: wait}})
	go q.dispatch()
	return Enqueued{Position: pos, EstimatedWait: wait}, nil
}

// insertLocked places the job after every entry with priority >= its own,
// keeping the backlog stably sorted by descending priority.
func (q *Queue) insertLocked(job *Job) {
	idx := len(q.backlog)
	for i, queued := range q.backlog {
		if queued.Priority < job.Priority {
			idx = i
			break
		}
	}
	q.backlog = append(q.backlog, nil)
	copy(q.backlog[idx+1:], q.backlog[idx:])
	q.backlog[idx] = job
}

func (q *Queue) removeBacklogLocked(id uuid.UUID) *Job {
	for i, job := range q.backlog {
		if job.ID == id {
			q.backlog = append(q.backlog[:i], q.backlog[i+1:]...)
			return job
		}
	}
	return nil
}

func (q *Queue) placementLocked(id uuid.UUID) (int, time.Duration) {
	for i, job := range q.backlog {
		if job.ID == id {
			ahead := i - (q.maxConcurrency - len(q.active))
			if ahead < 0 {
				ahead = 0
			}
			return i + 1, time.Duration(ahead) * avgJobDuration
		}
	}
	return 0, 0
}

// dispatch starts backlogged jobs while worker slots are free. When the cap
// is reached with work still waiting it emits a backpressure signal instead
// of blocking.
func (q *Queue) dispatch() {
	for {
		q.mu.Lock()
		if q.closed || len(q.backlog) == 0 {
			q.mu.Unlock()
			return
		}
		if len(q.active) >= q.maxConcurrency {
			info := BackpressureInfo{Queued: len(q.backlog), Active: len(q.active), Max: q.maxConcurrency}
			q.mu.Unlock()
			q.events.publish(Event{Type: EventBackpressure, Payload: info})
			return
		}

		job := q.backlog[0]
		q.backlog = q.backlog[1:]
		now := time.Now()
		st := q.states[job.ID]
		st.Status = constants.JobStatusProcessing
		st.StartedAt = &now
		st.Progress = &Progress{CurrentStep: "initializing"}
		jobCtx, cancel := context.WithCancel(q.baseCtx)
		q.active[job.ID] = cancel
		q.wg.Add(1)
		q.mu.Unlock()

		q.persistStatus(job.ID, constants.JobStatusProcessing, "", "")
		go q.run(job, jobCtx, cancel)
	}
}

func (q *Queue) run(job *Job, ctx context.Context, cancel context.CancelFunc) {
	defer q.wg.Done()
	defer cancel()
	start := time.Now()

	hooks := pricelist.Hooks{
		Progress: func(percent int) { q.onProgress(job.ID, start, percent) },
		Status:   func(message string) { q.onStatus(job.ID, message) },
		Warning: func(message string) {
			q.events.publish(Event{Type: EventJobWarning, JobID: job.ID, Payload: message})
		},
	}

	result, err := q.exec.Execute(ctx, pricelist.Job{
		ID:       job.ID,
		UploadID: job.UploadID,
		OrgID:    job.OrgID,
		Config:   job.Config,
	}, hooks)

	q.mu.Lock()
	delete(q.active, job.ID)
	q.mu.Unlock()

	if err != nil {
		q.handleFailure(job, err, time.Since(start))
	} else {
		q.handleCompletion(job, result, time.Since(start))
	}
	go q.dispatch()
}

func (q *Queue) handleCompletion(job *Job, result *pricelist.Result, elapsed time.Duration) {
	rows := result.Stats.TotalRows
	now := time.Now()
	q.mu.Lock()
	st := q.states[job.ID]
	st.Status = constants.JobStatusCompleted
	st.CompletedAt = &now
	st.Progress = &Progress{
		PercentComplete: 100,
		CurrentStep:     "completed",
		RowsProcessed:   rows,
		RowsTotal:       rows,
		ElapsedMS:       elapsed.Milliseconds(),
	}
	q.mu.Unlock()

	q.persistStatus(job.ID, constants.JobStatusCompleted, "", "")
	q.recordCompletion(job.ID, constants.JobStatusCompleted, elapsed, rows, "")
	q.logger.Info("queue.job.completed", "job_id", job.ID, "rows", rows, "elapsed_ms", elapsed.Milliseconds())
	q.events.publish(Event{Type: EventJobCompleted, JobID: job.ID, Payload: result})
}

func (q *Queue) handleFailure(job *Job, err error, elapsed time.Duration) {
	code := common.CodeOf(err)

	if code == common.CodeCancelled {
		q.setCancelled(job.ID)
		q.recordCompletion(job.ID, constants.JobStatusCancelled, elapsed, 0, string(code))
		q.events.publish(Event{Type: EventJobCancelled, JobID: job.ID, Payload: "processing"})
		return
	}

	if common.Retryable(err) && job.RetryCount < q.retry.MaxAttempts {
		q.scheduleRetry(job, err)
		return
	}

	q.deadLetter(job, code, err)
	now := time.Now()
	q.mu.Lock()
	st := q.states[job.ID]
	st.Status = constants.JobStatusFailed
	st.ErrCode = code
	st.ErrMessage = err.Error()
	st.CompletedAt = &now
	st.Progress = nil
	q.mu.Unlock()

	q.persistStatus(job.ID, constants.JobStatusFailed, string(code), err.Error())
	q.recordCompletion(job.ID, constants.JobStatusFailed, elapsed, 0, string(code))
	q.logger.Error("queue.job.failed", "job_id", job.ID, "code", code, "err", err)
	q.events.publish(Event{Type: EventJobFailed, JobID: job.ID, Payload: err.Error()})
}

// scheduleRetry re-enqueues the job at its original priority after an
// exponential-backoff delay.
func (q *Queue) scheduleRetry(job *Job, cause error) {
	job.RetryCount++
	delay := q.retry.Backoff(job.RetryCount)

	q.mu.Lock()
	st := q.states[job.ID]
	st.Status = constants.JobStatusQueued
	st.Progress = nil
	if q.closed {
		q.mu.Unlock()
		q.setCancelled(job.ID)
		return
	}
	q.retryTimers[job.ID] = time.AfterFunc(delay, func() {
		q.mu.Lock()
		// The map entry is the arm flag: Cancel or Shutdown may grab the
		// lock between the timer firing and this callback running, and
		// their delete must keep the job terminal.
		if _, armed := q.retryTimers[job.ID]; !armed {
			q.mu.Unlock()
			return
		}
		delete(q.retryTimers, job.ID)
		if q.closed {
			q.mu.Unlock()
			return
		}
		q.insertLocked(job)
		q.mu.Unlock()
		q.dispatch()
	})
	q.mu.Unlock()

	q.persistStatus(job.ID, constants.JobStatusQueued, "", "")
	q.logger.Warn("queue.job.retry",
		"job_id", job.ID,
		"attempt", job.RetryCount,
		"max_attempts", q.retry.MaxAttempts,
		"delay_ms", delay.Milliseconds(),
		"err", cause,
	)
	q.events.publish(Event{Type: EventJobRetry, JobID: job.ID, Payload: RetryInfo{
		Attempt:     job.RetryCount,
		MaxAttempts: q.retry.MaxAttempts,
		Delay:       delay,
		Error:       cause.Error(),
	}})
}

func (q *Queue) deadLetter(job *Job, code common.ErrorCode, cause error) {
	dl := DeadLetter{
		Job:        *job,
		Code:       code,
		Message:    cause.Error(),
		RetryCount: job.RetryCount,
		CreatedAt:  time.Now(),
	}
	if q.dlq != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := q.dlq.Insert(ctx, dl); err != nil {
			q.logger.Error("queue.dlq.insert_failed", "job_id", job.ID, "err", err)
		}
		cancel()
	}
	q.mu.Lock()
	q.dlqDepth++
	q.mu.Unlock()
	q.events.publish(Event{Type: EventJobDeadLettered, JobID: job.ID, Payload: dl})
}

// watchDLQ raises a standing alert while dead letters accumulate past the
// threshold, independent of per-job events.
func (q *Queue) watchDLQ() {
	ticker := time.NewTicker(q.dlqInterval)
	defer ticker.Stop()
	for {
		select {
		case <-q.stopWatch:
			return
		case <-ticker.C:
			q.mu.Lock()
			depth := q.dlqDepth
			q.mu.Unlock()
			if depth > q.dlqAlertDepth {
				q.logger.Warn("queue.dlq.alert", "count", depth)
				q.events.publish(Event{Type: EventDLQAlert, Payload: DLQAlertInfo{
					Count:   depth,
					Message: "dead letter queue has accumulated failed jobs",
				}})
			}
		}
	}
}

// Cancel removes a backlogged job or signals a running worker to stop at
// its next checkpoint. Returns false for unknown or already-terminal jobs.
func (q *Queue) Cancel(ctx context.Context, id uuid.UUID) bool {
	q.mu.Lock()
	if job := q.removeBacklogLocked(id); job != nil {
		q.mu.Unlock()
		q.setCancelled(id)
		q.recordCompletion(id, constants.JobStatusCancelled, 0, 0, "")
		q.events.publish(Event{Type: EventJobCancelled, JobID: id, Payload: "queued"})
		return true
	}
	if timer, ok := q.retryTimers[id]; ok {
		timer.Stop()
		delete(q.retryTimers, id)
		q.mu.Unlock()
		q.setCancelled(id)
		q.recordCompletion(id, constants.JobStatusCancelled, 0, 0, "")
		q.events.publish(Event{Type: EventJobCancelled, JobID: id, Payload: "retry-wait"})
		return true
	}
	if cancel, ok := q.active[id]; ok {
		q.mu.Unlock()
		// Cooperative: the worker observes the context at its next chunk
		// boundary and the failure path marks the job cancelled.
		cancel()
		return true
	}
	q.mu.Unlock()
	return false
}

func (q *Queue) setCancelled(id uuid.UUID) {
	now := time.Now()
	q.mu.Lock()
	st, ok := q.states[id]
	if !ok {
		st = &JobState{}
		q.states[id] = st
	}
	st.Status = constants.JobStatusCancelled
	st.Progress = nil
	st.CompletedAt = &now
	q.mu.Unlock()
	q.persistStatus(id, constants.JobStatusCancelled, "", "")
}

// Status returns a copy of the job's current state.
func (q *Queue) Status(id uuid.UUID) (JobState, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	st, ok := q.states[id]
	if !ok {
		return JobState{}, false
	}
	out := *st
	if st.Progress != nil {
		p := *st.Progress
		out.Progress = &p
	}
	return out, true
}

// Stats reports the queue's current shape.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Queued:         len(q.backlog),
		Active:         len(q.active),
		DLQ:            q.dlqDepth,
		MaxConcurrency: q.maxConcurrency,
	}
}

// Shutdown stops dispatch, waits for active jobs until ctx expires, then
// force-cancels whatever is still running.
func (q *Queue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.stopWatch)
	pendingRetries := make([]uuid.UUID, 0, len(q.retryTimers))
	for id, timer := range q.retryTimers {
		timer.Stop()
		pendingRetries = append(pendingRetries, id)
	}
	q.retryTimers = map[uuid.UUID]*time.Timer{}
	q.mu.Unlock()

	for _, id := range pendingRetries {
		q.setCancelled(id)
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("queue.drained")
	case <-ctx.Done():
		q.mu.Lock()
		stillActive := len(q.active)
		q.mu.Unlock()
		q.logger.Warn("queue.shutdown.forcing", "active", stillActive)
		q.baseCancel()
		<-done
	}

	q.mu.Lock()
	info := ShutdownInfo{RemainingJobs: len(q.backlog), ActiveJobs: len(q.active), DLQSize: q.dlqDepth}
	q.mu.Unlock()
	q.events.publish(Event{Type: EventShutdown, Payload: info})
}

func (q *Queue) onProgress(id uuid.UUID, start time.Time, percent int) {
	elapsed := time.Since(start)
	var remaining int64
	if percent > 0 && percent < 100 {
		remaining = elapsed.Milliseconds() * int64(100-percent) / int64(percent)
	}
	q.mu.Lock()
	st, ok := q.states[id]
	if ok {
		step := "processing"
		if st.Progress != nil && st.Progress.CurrentStep != "" {
			step = st.Progress.CurrentStep
		}
		st.Progress = &Progress{
			PercentComplete:      percent,
			CurrentStep:          step,
			ElapsedMS:            elapsed.Milliseconds(),
			EstimatedRemainingMS: remaining,
		}
	}
	var snapshot Progress
	if ok && st.Progress != nil {
		snapshot = *st.Progress
	}
	q.mu.Unlock()
	if ok {
		q.events.publish(Event{Type: EventJobProgress, JobID: id, Payload: snapshot})
	}
}

func (q *Queue) onStatus(id uuid.UUID, message string) {
	q.mu.Lock()
	if st, ok := q.states[id]; ok && st.Progress != nil {
		st.Progress.CurrentStep = message
	}
	q.mu.Unlock()
	q.events.publish(Event{Type: EventJobStatus, JobID: id, Payload: message})
}

func (q *Queue) persistStatus(id uuid.UUID, status constants.JobStatus, errCode, errMsg string) {
	if q.jobs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := q.jobs.SetStatus(ctx, id, status, errCode, errMsg); err != nil {
		q.logger.Error("queue.persist_status_failed", "job_id", id, "status", status, "err", err)
	}
}

func (q *Queue) recordCompletion(id uuid.UUID, status constants.JobStatus, elapsed time.Duration, rows int, errCode string) {
	if q.metrics == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := q.metrics.RecordCompletion(ctx, id, status, elapsed, rows, errCode); err != nil {
		q.logger.Error("queue.record_metrics_failed", "job_id", id, "err", err)
	}
}
