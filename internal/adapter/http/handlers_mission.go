package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/consilium-health/consilium/internal/domain/event"
	"github.com/consilium-health/consilium/internal/port/eventstore"
	"github.com/consilium-health/consilium/internal/service"
)

// StartMission launches an autonomous mission directly, without going
// through the consult endpoint.
func (h *Handlers) StartMission(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[service.StartMissionRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.Objective, "objective") {
		return
	}
	h.startMission(w, r, req)
}

// GetMission returns one mission snapshot.
func (h *Handlers) GetMission(w http.ResponseWriter, r *http.Request) {
	m, err := h.Missions.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "mission not found")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// ListMissions returns missions, newest first, optionally scoped to a
// conversation.
func (h *Handlers) ListMissions(w http.ResponseWriter, r *http.Request) {
	conversationID := r.URL.Query().Get("conversation_id")
	limit := queryInt(r, "limit", 50)

	missions, err := h.Missions.List(r.Context(), conversationID, limit)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"missions": missions})
}

// AbortMission halts a running mission. Completed artifacts and spend are
// retained.
func (h *Handlers) AbortMission(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if err := h.Missions.Abort(r.Context(), id); err != nil {
		writeDomainError(w, err, "mission not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mission_id": id, "aborting": true})
}

// RespondCheckpoint applies a client decision to a mission's pending
// checkpoint.
func (h *Handlers) RespondCheckpoint(w http.ResponseWriter, r *http.Request) {
	resp, ok := readJSON[event.CheckpointResponse](w, r)
	if !ok {
		return
	}
	resp.MissionID = urlParam(r, "id")
	if !requireField(w, resp.CheckpointID, "checkpoint_id") {
		return
	}
	if !requireField(w, resp.OptionID, "option_id") {
		return
	}

	if err := h.Missions.RespondCheckpoint(r.Context(), resp); err != nil {
		writeDomainError(w, err, "checkpoint not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mission_id": resp.MissionID, "resolved": resp.CheckpointID})
}

// MissionEvents replays a mission's event log. ?after= resumes past a known
// sequence number; ?type= (repeatable), ?since= and ?until= (RFC 3339)
// narrow the replay instead.
func (h *Handlers) MissionEvents(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")

	if _, err := h.Missions.Get(r.Context(), id); err != nil {
		writeDomainError(w, err, "mission not found")
		return
	}

	filter, filtered, err := eventFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var events []event.Event
	if filtered {
		events, err = h.Missions.EventsFiltered(r.Context(), id, filter)
	} else {
		events, err = h.Missions.Events(r.Context(), id, int64(queryInt(r, "after", 0)))
	}
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if events == nil {
		events = []event.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"mission_id": id, "events": events})
}

// eventFilter parses the type/since/until query params. filtered is false
// when none are present.
func eventFilter(r *http.Request) (eventstore.Filter, bool, error) {
	q := r.URL.Query()
	var f eventstore.Filter

	for _, raw := range q["type"] {
		t := event.Type(raw)
		if !event.Known(t) {
			return f, false, fmt.Errorf("unknown event type %q", raw)
		}
		f.Types = append(f.Types, t)
	}
	if raw := q.Get("since"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, false, fmt.Errorf("since must be RFC 3339")
		}
		f.After = &ts
	}
	if raw := q.Get("until"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, false, fmt.Errorf("until must be RFC 3339")
		}
		f.Before = &ts
	}

	return f, len(f.Types) > 0 || f.After != nil || f.Before != nil, nil
}
