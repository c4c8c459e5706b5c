package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Investigations
		r.Post("/investigations", h.StartInvestigation)
		r.Get("/investigations/{id}", h.GetInvestigation)

		// Interaction history
		r.Get("/interactions", h.ListInteractions)
		r.Get("/interactions/{id}", h.GetInteraction)
	})
}
