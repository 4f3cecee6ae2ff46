// Package monitor periodically evaluates pipeline health against
// operator-set thresholds and relays severity-labelled alerts.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nxt-spp/pricelist-pipeline/internal/common"
	"github.com/nxt-spp/pricelist-pipeline/internal/metrics"
	"github.com/nxt-spp/pricelist-pipeline/internal/queue"
)

// HealthStatus is the monitor's overall verdict.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// Severity labels relayed alerts.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Violation is one threshold breach found during a health check.
type Violation struct {
	Check    string   `json:"check"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// Health is one evaluated snapshot.
type Health struct {
	Status     HealthStatus `json:"status"`
	CheckedAt  time.Time    `json:"checked_at"`
	Violations []Violation  `json:"violations,omitempty"`
	QueueStats queue.Stats  `json:"queue_stats"`
}

// Alert is one severity-labelled notification delivered to subscribers.
type Alert struct {
	Severity Severity  `json:"severity"`
	Source   string    `json:"source"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

// Monitor watches the queue and the metrics recorder on a fixed interval.
// Status transitions are logged and alerted only when the verdict changes.
type Monitor struct {
	cfg      common.MonitorConfig
	q        *queue.Queue
	recorder *metrics.Recorder
	logger   *slog.Logger

	mu       sync.Mutex
	last     Health
	alerts   []Alert
	handlers []func(Alert)

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

const alertHistorySize = 100

// New builds a monitor. Call Start to begin the check loop.
func New(cfg common.MonitorConfig, q *queue.Queue, recorder *metrics.Recorder, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	return &Monitor{
		cfg:      cfg,
		q:        q,
		recorder: recorder,
		logger:   logger,
		last:     Health{Status: StatusHealthy},
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// OnAlert registers a handler invoked for every alert. Must be called
// before Start.
func (m *Monitor) OnAlert(fn func(Alert)) {
	m.handlers = append(m.handlers, fn)
}

// Start runs the check loop and the queue-event relay until Stop.
func (m *Monitor) Start(ctx context.Context) {
	events, unsubscribe := m.q.Subscribe(256)
	go m.relay(events)

	go func() {
		defer close(m.done)
		defer unsubscribe()
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()
		m.Check()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				m.Check()
			}
		}
	}()
}

// Stop halts the check loop.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}

// Check evaluates every threshold once and returns the verdict. Exported so
// handlers can force a fresh evaluation.
func (m *Monitor) Check() Health {
	stats := m.q.Stats()
	dash := m.recorder.Dashboard()
	samples := m.recorder.SampleCount()

	var violations []Violation
	if m.cfg.MaxQueueDepth > 0 && stats.Queued > m.cfg.MaxQueueDepth {
		violations = append(violations, Violation{
			Check:    "queue_depth",
			Severity: SeverityWarning,
			Message:  "queue backlog exceeds threshold",
		})
	}
	if m.cfg.MaxDLQSize > 0 && stats.DLQ > m.cfg.MaxDLQSize {
		violations = append(violations, Violation{
			Check:    "dlq_size",
			Severity: SeverityCritical,
			Message:  "dead letter queue exceeds threshold",
		})
	} else if m.cfg.MaxUnattendedDLQ > 0 && stats.DLQ > m.cfg.MaxUnattendedDLQ {
		violations = append(violations, Violation{
			Check:    "dlq_size",
			Severity: SeverityWarning,
			Message:  "dead letter queue is accumulating",
		})
	}
	if samples >= m.cfg.MinSampleSize && dash.SuccessRate < m.cfg.MinSuccessRate {
		violations = append(violations, Violation{
			Check:    "success_rate",
			Severity: SeverityCritical,
			Message:  "job success rate below threshold",
		})
	}
	if m.cfg.MaxAvgDuration > 0 && samples >= m.cfg.MinSampleSize &&
		dash.AvgDurationMS > m.cfg.MaxAvgDuration.Milliseconds() {
		violations = append(violations, Violation{
			Check:    "avg_duration",
			Severity: SeverityWarning,
			Message:  "average job duration above threshold",
		})
	}

	health := Health{
		Status:     verdict(violations),
		CheckedAt:  time.Now(),
		Violations: violations,
		QueueStats: stats,
	}

	m.mu.Lock()
	changed := health.Status != m.last.Status
	m.last = health
	m.mu.Unlock()

	if changed {
		m.logger.Info("monitor.status_changed", "status", health.Status, "violations", len(violations))
		switch health.Status {
		case StatusUnhealthy:
			m.emit(Alert{Severity: SeverityCritical, Source: "health", Message: "pipeline unhealthy", At: health.CheckedAt})
		case StatusDegraded:
			m.emit(Alert{Severity: SeverityWarning, Source: "health", Message: "pipeline degraded", At: health.CheckedAt})
		case StatusHealthy:
			m.logger.Info("monitor.recovered")
		}
	}
	return health
}

// verdict maps violations to an overall status: any critical breach or more
// than two breaches of any kind is unhealthy, any breach at all is degraded.
func verdict(violations []Violation) HealthStatus {
	if len(violations) == 0 {
		return StatusHealthy
	}
	if len(violations) > 2 {
		return StatusUnhealthy
	}
	for _, v := range violations {
		if v.Severity == SeverityCritical {
			return StatusUnhealthy
		}
	}
	return StatusDegraded
}

// relay turns queue events into alerts.
func (m *Monitor) relay(events <-chan queue.Event) {
	for ev := range events {
		switch ev.Type {
		case queue.EventDLQAlert:
			m.emit(Alert{Severity: SeverityCritical, Source: "dlq", Message: "dead letter queue requires attention", At: ev.At})
		case queue.EventJobDeadLettered:
			m.emit(Alert{Severity: SeverityWarning, Source: "dlq", Message: "job moved to dead letter queue: " + ev.JobID.String(), At: ev.At})
		case queue.EventJobFailed:
			m.emit(Alert{Severity: SeverityWarning, Source: "queue", Message: "job failed: " + ev.JobID.String(), At: ev.At})
		case queue.EventJobRetry:
			m.emit(Alert{Severity: SeverityWarning, Source: "queue", Message: "job scheduled for retry: " + ev.JobID.String(), At: ev.At})
		case queue.EventBackpressure:
			m.emit(Alert{Severity: SeverityWarning, Source: "queue", Message: "all workers busy, jobs waiting", At: ev.At})
		case queue.EventShutdown:
			return
		}
	}
}

func (m *Monitor) emit(alert Alert) {
	m.mu.Lock()
	m.alerts = append(m.alerts, alert)
	if len(m.alerts) > alertHistorySize {
		m.alerts = m.alerts[len(m.alerts)-alertHistorySize:]
	}
	handlers := m.handlers
	m.mu.Unlock()

	if alert.Severity == SeverityCritical {
		m.logger.Error("monitor.alert", "source", alert.Source, "message", alert.Message)
	} else {
		m.logger.Warn("monitor.alert", "source", alert.Source, "message", alert.Message)
	}
	for _, fn := range handlers {
		fn(alert)
	}
}

// Health returns the most recent verdict.
func (m *Monitor) Health() Health {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// RecentAlerts returns up to n alerts, newest first.
func (m *Monitor) RecentAlerts(n int) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n <= 0 || n > len(m.alerts) {
		n = len(m.alerts)
	}
	out := make([]Alert, 0, n)
	for i := len(m.alerts) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, m.alerts[i])
	}
	return out
}

// DashboardView bundles everything the monitoring endpoint serves.
type DashboardView struct {
	Health  Health            `json:"health"`
	Metrics metrics.Dashboard `json:"metrics"`
	Alerts  []Alert           `json:"alerts"`
}

// Dashboard composes the current health, metric aggregates and recent
// alerts into one response.
func (m *Monitor) Dashboard() DashboardView {
	return DashboardView{
		Health:  m.Health(),
		Metrics: m.recorder.Dashboard(),
		Alerts:  m.RecentAlerts(20),
	}
}

// RecentJobs exposes the recorder's completion history.
func (m *Monitor) RecentJobs(n int) []metrics.Completion {
	return m.recorder.RecentJobs(n)
}

// HourlyStats exposes the recorder's hourly buckets.
func (m *Monitor) HourlyStats(hours int) []metrics.HourlyBucket {
	return m.recorder.HourlyStats(hours)
}
