package http

import (
	"net/http"

	"github.com/consilium-health/consilium/internal/adapter/litellm"
	"github.com/consilium-health/consilium/internal/adapter/otel"
	"github.com/consilium-health/consilium/internal/adapter/ws"
	"github.com/consilium-health/consilium/internal/port/database"
	"github.com/consilium-health/consilium/internal/service"
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Orchestrator *service.Orchestrator
	Missions     *service.MissionService
	Directory    *service.DirectoryService
	Cost         *service.CostService
	Store        database.Store
	LiteLLM      *litellm.Client
	Hub          *ws.Hub
	Metrics      *otel.Metrics
}

// LLMHealth reports whether the model proxy is reachable.
func (h *Handlers) LLMHealth(w http.ResponseWriter, r *http.Request) {
	healthy, err := h.LiteLLM.Health(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"healthy": false,
			"error":   err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"healthy": healthy})
}
