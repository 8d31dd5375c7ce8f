package http

import (
	"net/http"

	"github.com/consilium-health/consilium/internal/domain/agent"
	"github.com/consilium-health/consilium/internal/port/broadcast"
)

// ListAgents returns the agent directory snapshot.
func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.Directory.Snapshot(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

// GetAgent returns one agent profile.
func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	p, err := h.Directory.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// UpsertAgent registers or updates an agent profile and invalidates the
// directory cache so the next selection sees it.
func (h *Handlers) UpsertAgent(w http.ResponseWriter, r *http.Request) {
	p, ok := readJSON[agent.Profile](w, r)
	if !ok {
		return
	}
	if !requireField(w, p.ID, "id") {
		return
	}
	if !requireField(w, p.Model, "model") {
		return
	}
	if len(p.DomainTags) == 0 {
		writeError(w, http.StatusBadRequest, "domain_tags is required")
		return
	}

	if err := h.Store.UpsertAgent(r.Context(), &p); err != nil {
		writeInternalError(w, err)
		return
	}
	h.Directory.AnnounceUpdate(r.Context(), p.ID)
	h.Hub.BroadcastEvent(r.Context(), broadcast.EventAgentUpdated, broadcast.AgentUpdatedEvent{AgentID: p.ID})
	writeJSON(w, http.StatusOK, p)
}
