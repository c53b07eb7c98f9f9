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
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/info", s.handleInfo)

		// Device state
		r.Get("/status", s.handleStatus)
		r.Get("/sensors", s.handleSensors)

		// Controls
		r.Post("/toggle/{id}", s.handleToggle)
		r.Post("/button/{id}", s.handleButton)
		r.Post("/slider/{id}", s.handleSlider)
		r.Post("/reset", s.handleReset)

		// Physical device pass-through
		r.Route("/device", func(r chi.Router) {
			r.Get("/test", s.handleDeviceTest)
			r.Get("/status", s.handleDeviceStatus)
			r.Post("/command", s.handleDeviceCommand)
			r.Get("/config", s.handleGetDeviceConfig)
			r.Post("/config", s.handleSetDeviceConfig)
		})

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
