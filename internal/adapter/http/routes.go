package http

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/consult", h.Consult)

		r.Route("/missions", func(r chi.Router) {
			r.Post("/", h.StartMission)
			r.Get("/", h.ListMissions)
			r.Get("/{id}", h.GetMission)
			r.Get("/{id}/events", h.MissionEvents)
			r.Post("/{id}/abort", h.AbortMission)
			r.Post("/{id}/checkpoint", h.RespondCheckpoint)
		})

		r.Route("/agents", func(r chi.Router) {
			r.Get("/", h.ListAgents)
			r.Put("/", h.UpsertAgent)
			r.Get("/{id}", h.GetAgent)
		})

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/{id}", h.GetConversation)
			r.Get("/{id}/turns", h.ListTurns)
			r.Get("/{id}/costs", h.ConversationCosts)
		})

		r.Get("/costs", h.Costs)
		r.Get("/llm/health", h.LLMHealth)
	})
}
