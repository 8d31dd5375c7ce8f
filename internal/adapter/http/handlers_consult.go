package http

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/codes"

	"github.com/consilium-health/consilium/internal/adapter/otel"
	"github.com/consilium-health/consilium/internal/domain/mode"
	"github.com/consilium-health/consilium/internal/service"
	"github.com/consilium-health/consilium/internal/stream"
)

// consultRequest is the wire shape of a consultation request. Mode arrives
// as a plain string and is validated before the pipeline starts.
type consultRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Query          string `json:"query"`
	Mode           string `json:"mode,omitempty"`
	MaxAgents      int    `json:"max_agents,omitempty"`
	Transport      string `json:"transport,omitempty"` // "sse" (default) or "ws"
}

// Consult runs one consultation and streams its events over SSE. An
// autonomous-mode request is redirected into the mission engine and answered
// with the created mission instead of a stream. Clients already connected to
// the websocket feed can request transport "ws" and get the events there.
func (h *Handlers) Consult(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[consultRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.Query, "query") {
		return
	}

	m, err := mode.Parse(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if m == mode.Autonomous {
		h.startMission(w, r, service.StartMissionRequest{
			ConversationID: req.ConversationID,
			Objective:      req.Query,
		})
		return
	}

	if req.Transport == "ws" {
		h.consultOverWS(w, r, req, m)
		return
	}

	ctx, span := otel.StartConsultSpan(r.Context(), req.ConversationID, string(m))
	defer span.End()
	h.Metrics.ConsultationsStarted.Add(ctx, 1)

	sse, ok := newSSEWriter(w)
	if !ok {
		return
	}

	sess := stream.New("", 256)
	errc := make(chan error, 1)
	go func() {
		defer sess.Close()
		_, err := h.Orchestrator.Consult(ctx, service.ConsultRequest{
			ConversationID: req.ConversationID,
			Query:          req.Query,
			Mode:           m,
			MaxAgents:      req.MaxAgents,
		}, sess)
		errc <- err
	}()

	sse.drainSession(r, sess)

	if err := <-errc; err != nil {
		span.SetStatus(codes.Error, err.Error())
		h.Metrics.ConsultationsFailed.Add(context.WithoutCancel(ctx), 1)
		return
	}
	h.Metrics.ConsultationsCompleted.Add(context.WithoutCancel(ctx), 1)
}

// consultOverWS runs the consultation in the background and mirrors its
// events to the websocket hub. The HTTP response returns immediately.
func (h *Handlers) consultOverWS(w http.ResponseWriter, r *http.Request, req consultRequest, m mode.Mode) {
	ctx, span := otel.StartConsultSpan(context.WithoutCancel(r.Context()), req.ConversationID, string(m))
	h.Metrics.ConsultationsStarted.Add(ctx, 1)

	sess := stream.New("", 256)
	go h.Hub.MirrorSession(ctx, sess)
	go func() {
		defer span.End()
		defer sess.Close()
		_, err := h.Orchestrator.Consult(ctx, service.ConsultRequest{
			ConversationID: req.ConversationID,
			Query:          req.Query,
			Mode:           m,
			MaxAgents:      req.MaxAgents,
		}, sess)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			h.Metrics.ConsultationsFailed.Add(ctx, 1)
			return
		}
		h.Metrics.ConsultationsCompleted.Add(ctx, 1)
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{"streaming": "ws"})
}

// startMission launches a mission and answers with the durable record. The
// client follows the mission over the events endpoint or the websocket feed.
func (h *Handlers) startMission(w http.ResponseWriter, r *http.Request, req service.StartMissionRequest) {
	ctx, span := otel.StartMissionSpan(r.Context(), "", req.Profile)
	defer span.End()

	m, err := h.Missions.Start(ctx, req)
	if err != nil {
		writeDomainError(w, err, "mission could not be started")
		return
	}

	h.Metrics.MissionsStarted.Add(context.WithoutCancel(ctx), 1)
	writeJSON(w, http.StatusAccepted, m)
}
