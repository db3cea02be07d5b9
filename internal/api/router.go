package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// HealthFunc probes one dependency.
type HealthFunc func(context.Context) error

// NewRouter builds the metering API router.
func NewRouter(h *Handler, health map[string]HealthFunc) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		status := http.StatusOK
		checks := make(map[string]string, len(health))
		for name, probe := range health {
			if err := probe(req.Context()); err != nil {
				status = http.StatusServiceUnavailable
				checks[name] = err.Error()
				continue
			}
			checks[name] = "ok"
		}
		respondJSON(w, status, checks)
	})

	r.Route("/v1/users/{userID}", func(r chi.Router) {
		r.Get("/usage/summary", h.handleSummary)
		r.Get("/usage/history", h.handleHistory)
		r.Get("/limits/{metric}", h.handleLimitCheck)
		r.Post("/usage/{metric}", h.handleIncrement)
	})

	return r
}
