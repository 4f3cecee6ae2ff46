package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires the HTTP surface.
func NewRouter(app *App) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
	)

	r.Get("/healthz", app.Healthz)

	r.Route("/uploads", func(r chi.Router) {
		r.Post("/", app.CreateUpload)
	})

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", app.CreateJob)
		r.Get("/{id}", app.GetJob)
		r.Delete("/{id}", app.CancelJob)
	})

	r.Get("/queue/stats", app.QueueStats)
	r.Get("/queue/dlq", app.ListDeadLetters)

	r.Route("/monitor", func(r chi.Router) {
		r.Get("/dashboard", app.Dashboard)
		r.Get("/jobs", app.RecentJobs)
		r.Get("/hourly", app.HourlyStats)
	})

	return r
}
