// Package conversation defines persisted consultation history. Turns are
// append-only; the engine writes completed turns and reads them back only
// to seed follow-up continuity.
package conversation

import (
	"time"

	"github.com/consilium-health/consilium/internal/domain/consult"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Conversation is a consultation session's durable summary.
type Conversation struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	TurnCount   int       `json:"turn_count"`
	LastAgentID string    `json:"last_agent_id,omitempty"`
	LastDomain  string    `json:"last_domain,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Turn is one exchange half. Immutable once written.
type Turn struct {
	ID             string             `json:"id"`
	ConversationID string             `json:"conversation_id"`
	Role           Role               `json:"role"`
	Content        string             `json:"content"`
	AgentID        string             `json:"agent_id,omitempty"`
	Domain         string             `json:"domain,omitempty"`
	Usage          consult.TokenUsage `json:"usage"`
	CreatedAt      time.Time          `json:"created_at"`
}

// IsFollowUpCandidate reports whether the continuity heuristic may reuse
// the prior agent: the conversation already has at least minTurns prior
// exchanges and a remembered agent. Domain-shift detection is the
// selector's concern.
func (c *Conversation) IsFollowUpCandidate(minTurns int) bool {
	return c != nil && c.TurnCount >= minTurns && c.LastAgentID != ""
}
