// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/consilium-health/consilium/internal/domain/agent"
	"github.com/consilium-health/consilium/internal/domain/conversation"
	"github.com/consilium-health/consilium/internal/domain/mission"
)

// CostEntry is one billed LLM call, attributed to a conversation and,
// for autonomous work, a mission.
type CostEntry struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	MissionID      string    `json:"mission_id,omitempty"`
	AgentID        string    `json:"agent_id,omitempty"`
	Model          string    `json:"model"`
	PromptTokens   int64     `json:"prompt_tokens"`
	OutputTokens   int64     `json:"output_tokens"`
	CostUSD        float64   `json:"cost_usd"`
	CreatedAt      time.Time `json:"created_at"`
}

// CostSummary aggregates spend over a window.
type CostSummary struct {
	TotalUSD    float64            `json:"total_usd"`
	TotalTokens int64              `json:"total_tokens"`
	CallCount   int                `json:"call_count"`
	ByModel     map[string]float64 `json:"by_model,omitempty"`
}

// Store is the port interface for database operations.
type Store interface {
	// Agents
	ListAgents(ctx context.Context) ([]agent.Profile, error)
	GetAgent(ctx context.Context, id string) (*agent.Profile, error)
	UpsertAgent(ctx context.Context, p *agent.Profile) error
	IncrementAgentUsage(ctx context.Context, id string) error

	// Conversations
	GetConversation(ctx context.Context, id string) (*conversation.Conversation, error)
	CreateConversation(ctx context.Context, c *conversation.Conversation) error
	AppendTurn(ctx context.Context, t *conversation.Turn) error
	ListTurns(ctx context.Context, conversationID string, limit int) ([]conversation.Turn, error)

	// Missions
	CreateMission(ctx context.Context, m *mission.Mission) error
	GetMission(ctx context.Context, id string) (*mission.Mission, error)
	UpdateMission(ctx context.Context, m *mission.Mission) error
	ListMissions(ctx context.Context, conversationID string, limit int) ([]mission.Mission, error)
	ListAwaitingCheckpoint(ctx context.Context) ([]mission.Mission, error)

	// Cost ledger
	RecordCost(ctx context.Context, e *CostEntry) error
	CostByConversation(ctx context.Context, conversationID string) (*CostSummary, error)
	CostSince(ctx context.Context, since time.Time) (*CostSummary, error)
}
