package http

import (
	"net/http"

	"github.com/consilium-health/consilium/internal/domain/conversation"
)

// GetConversation returns one conversation record.
func (h *Handlers) GetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.Store.GetConversation(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// ListTurns returns a conversation's turns, oldest first.
func (h *Handlers) ListTurns(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	limit := queryInt(r, "limit", 100)

	if _, err := h.Store.GetConversation(r.Context(), id); err != nil {
		writeDomainError(w, err, "conversation not found")
		return
	}

	turns, err := h.Store.ListTurns(r.Context(), id, limit)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if turns == nil {
		turns = []conversation.Turn{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversation_id": id, "turns": turns})
}
