package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "no such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "the status API is read-only")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/links", func(r chi.Router) {
			r.Get("/", s.handleListLinks)
			r.Route("/{link}", func(r chi.Router) {
				r.Get("/", s.handleGetLink)
				r.Get("/controllers", s.handleListControllers)
				r.Get("/controllers/{controller}", s.handleGetController)
			})
		})

		r.Get("/events", s.handleListEvents)
		r.Get("/snapshots", s.handleListSnapshots)
		r.Get("/stream", s.handleStream)
	})

	return r
}
