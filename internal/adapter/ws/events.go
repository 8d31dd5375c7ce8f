package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/consilium-health/consilium/internal/port/broadcast"
	"github.com/consilium-health/consilium/internal/stream"
)

// BroadcastEvent is a convenience method that marshals a typed event and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}

// MirrorSession drains a stream session and forwards each event to clients
// subscribed to its mission. Blocks until the session closes or ctx ends.
func (h *Hub) MirrorSession(ctx context.Context, sess *stream.Session) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sess.Events():
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				slog.Error("marshal stream event", "error", err)
				continue
			}
			h.BroadcastMission(ctx, sess.MissionID(), Message{
				Type:    broadcast.EventStream,
				Payload: json.RawMessage(data),
			})
		}
	}
}
