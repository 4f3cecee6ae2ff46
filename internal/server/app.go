// Package server exposes the pipeline over HTTP: job submission, status,
// cancellation and the monitoring surface.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/nxt-spp/pricelist-pipeline/internal/cache"
	"github.com/nxt-spp/pricelist-pipeline/internal/monitor"
	"github.com/nxt-spp/pricelist-pipeline/internal/queue"
	"github.com/nxt-spp/pricelist-pipeline/internal/repository"
)

// App holds the handler dependencies.
type App struct {
	Queue   *queue.Queue
	Monitor *monitor.Monitor
	Uploads *repository.UploadStore
	Jobs    *repository.JobStore
	DLQ     *repository.DeadLetterStore
	Cache   *cache.ResultCache
	Logger  *slog.Logger
}

func NewApp(q *queue.Queue, m *monitor.Monitor, uploads *repository.UploadStore, jobs *repository.JobStore, dlq *repository.DeadLetterStore, results *cache.ResultCache, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{Queue: q, Monitor: m, Uploads: uploads, Jobs: jobs, DLQ: dlq, Cache: results, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]string{"error": errCode, "message": message})
}
