// Package stream carries ordered consultation events from the engine to a
// transport. The engine publishes typed events; a transport (SSE, WebSocket,
// NDJSON) drains the channel and encodes them however it likes. Sessions
// decouple producers from the wire so the engine never blocks on a slow or
// departed client.
package stream

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/consilium-health/consilium/internal/domain/event"
)

const defaultBuffer = 256

// Session is one consultation's event stream. Publish assigns strictly
// increasing sequence numbers; Close ends the stream and closes the
// transport-facing channel.
type Session struct {
	missionID string
	ch        chan event.Event
	seq       atomic.Int64
	dropped   atomic.Int64

	mu     sync.Mutex
	closed bool
}

// New creates a session. missionID may be empty for non-mission consultations.
func New(missionID string, buffer int) *Session {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Session{
		missionID: missionID,
		ch:        make(chan event.Event, buffer),
	}
}

// Publish builds an event from the payload, stamps it, and delivers it in
// publish order without blocking. When the buffer is full the oldest buffered
// event is evicted so terminal events always get through. Events published
// after Close are dropped. The assigned sequence number is returned; 0 means
// the session was already closed.
func (s *Session) Publish(t event.Type, payload any) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}

	ev := event.New(t, payload)
	ev.Seq = s.seq.Add(1)
	ev.MissionID = s.missionID
	ev.CreatedAt = time.Now()

	// Single producer under s.mu, so evict-then-send always terminates.
	for {
		select {
		case s.ch <- ev:
			return ev.Seq
		default:
			select {
			case <-s.ch:
				s.dropped.Add(1)
			default:
			}
		}
	}
}

// Events is the transport-facing channel. It is closed by Close once all
// published events have been handed over.
func (s *Session) Events() <-chan event.Event {
	return s.ch
}

// Close ends the stream. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// DroppedCount reports how many events were evicted due to a full buffer.
func (s *Session) DroppedCount() int64 {
	return s.dropped.Load()
}

// MissionID returns the mission this session streams for, if any.
func (s *Session) MissionID() string {
	return s.missionID
}
