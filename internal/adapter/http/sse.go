package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/consilium-health/consilium/internal/domain/event"
	"github.com/consilium-health/consilium/internal/stream"
)

// sseWriter frames stream events as Server-Sent Events. Each event's Seq
// doubles as the SSE id so clients can resume with Last-Event-ID.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSEWriter prepares the response for streaming. Returns false when the
// underlying writer cannot flush.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return nil, false
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &sseWriter{w: w, flusher: flusher}, true
}

// send writes one event frame and flushes it to the client.
func (s *sseWriter) send(ev event.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal sse event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Type, data); err != nil {
		return fmt.Errorf("write sse event: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// drainSession forwards a session's events to the client until the session
// closes or the client disconnects.
func (s *sseWriter) drainSession(r *http.Request, sess *stream.Session) {
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sess.Events():
			if !ok {
				return
			}
			if err := s.send(ev); err != nil {
				return // client went away
			}
		}
	}
}
