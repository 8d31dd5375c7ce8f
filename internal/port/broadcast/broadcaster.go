// Package broadcast defines the port for broadcasting real-time events to connected clients.
package broadcast

import "context"

// Event type constants for broadcast messages.
const (
	EventMissionUpdate = "mission.update"
	EventAgentUpdated  = "agent.updated"
	EventStream        = "stream.event"
)

// MissionUpdateEvent is broadcast when a mission's status changes.
type MissionUpdateEvent struct {
	MissionID  string  `json:"mission_id"`
	Status     string  `json:"status"`
	FailReason string  `json:"fail_reason,omitempty"`
	SpentUSD   float64 `json:"spent_usd"`
}

// AgentUpdatedEvent is broadcast when an agent profile changes.
type AgentUpdatedEvent struct {
	AgentID string `json:"agent_id"`
}

// Broadcaster sends real-time events to all connected clients.
type Broadcaster interface {
	// BroadcastEvent sends a typed event to all connected clients.
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}
