package server

import (
	"net/http"
	"strconv"

	"github.com/nxt-spp/pricelist-pipeline/internal/monitor"
)

// Healthz reports the monitor's current verdict. Degraded still answers
// 200; only unhealthy turns the probe red.
func (a *App) Healthz(w http.ResponseWriter, r *http.Request) {
	health := a.Monitor.Health()
	code := http.StatusOK
	if health.Status == monitor.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	a.json(w, code, health)
}

// Dashboard serves the combined health, metrics and alert view.
func (a *App) Dashboard(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, a.Monitor.Dashboard())
}

// RecentJobs serves the latest job completions.
func (a *App) RecentJobs(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{
		"jobs": a.Monitor.RecentJobs(intQuery(r, "limit", 20)),
	})
}

// HourlyStats serves per-hour completion buckets.
func (a *App) HourlyStats(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{
		"hours": a.Monitor.HourlyStats(intQuery(r, "hours", 24)),
	})
}

func intQuery(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
