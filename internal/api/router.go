package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Set before Route so the /api subrouter inherits them.
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/", s.handleGeneral)
		r.Get("/", s.handleStatic)
		r.Post("/data", s.handleData)
		r.Post("/request", s.handleRequest)

		r.Get("/status", s.handleStatus)
		r.Get("/events", s.handleEvents)
	})

	// Everything else is a static asset.
	r.Get("/*", s.handleStatic)

	return r
}
