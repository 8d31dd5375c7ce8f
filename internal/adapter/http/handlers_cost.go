package http

import (
	"net/http"
	"time"
)

// defaultCostWindow bounds the global spend summary when no ?since= is given.
const defaultCostWindow = 24 * time.Hour

// ConversationCosts returns the spend summary for one conversation.
func (h *Handlers) ConversationCosts(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")

	if _, err := h.Store.GetConversation(r.Context(), id); err != nil {
		writeDomainError(w, err, "conversation not found")
		return
	}

	summary, err := h.Cost.ByConversation(r.Context(), id)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// Costs returns the global spend summary since ?since= (RFC 3339), defaulting
// to the last 24 hours.
func (h *Handlers) Costs(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-defaultCostWindow)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		since = parsed
	}

	summary, err := h.Cost.Since(r.Context(), since)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
