// Package event defines the typed event stream surfaced to consultation
// clients, and its wire codec.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/consilium-health/consilium/internal/domain/consult"
	"github.com/consilium-health/consilium/internal/domain/mission"
)

// Type identifies the kind of stream event.
type Type string

const (
	TypePlan       Type = "plan"
	TypeProgress   Type = "progress"
	TypeReasoning  Type = "reasoning"
	TypeToken      Type = "token"
	TypeArtifact   Type = "artifact"
	TypeCitation   Type = "citation"
	TypeCheckpoint Type = "checkpoint"
	TypeCost       Type = "cost"
	TypeToolCall   Type = "tool_call"
	TypeDone       Type = "done"
	TypeError      Type = "error"
)

// Known reports whether t is a type this build understands. Decoders skip
// unknown types so older clients survive newer servers.
func Known(t Type) bool {
	switch t {
	case TypePlan, TypeProgress, TypeReasoning, TypeToken, TypeArtifact,
		TypeCitation, TypeCheckpoint, TypeCost, TypeToolCall, TypeDone, TypeError:
		return true
	}
	return false
}

// Event is one ordered record in a session stream. Seq is assigned by the
// stream owner and increases strictly within a session.
type Event struct {
	Seq       int64           `json:"seq"`
	Type      Type            `json:"type"`
	MissionID string          `json:"mission_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// New builds an Event with a marshaled payload. Marshal failures are
// programming errors and surface as an error event instead of a panic.
func New(t Type, payload any) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{
			Type:      TypeError,
			Payload:   mustMarshal(ErrorPayload{Code: "encode", Message: err.Error()}),
			CreatedAt: time.Now(),
		}
	}
	return Event{Type: t, Payload: data, CreatedAt: time.Now()}
}

func mustMarshal(v any) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}

// DecodePayload unmarshals the payload into dst.
func (e *Event) DecodePayload(dst any) error {
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// --- payloads ---

// PlanPayload announces the generated step plan.
type PlanPayload struct {
	Steps []mission.PlanStep `json:"steps"`
}

// ProgressPayload reports a step status change with overall completion.
type ProgressPayload struct {
	StepID  string             `json:"step_id"`
	Name    string             `json:"name"`
	Status  mission.StepStatus `json:"status"`
	Percent int                `json:"percent"` // whole-mission completion, 0-100
}

// ReasoningPayload narrates current agent activity for display.
type ReasoningPayload struct {
	AgentID string `json:"agent_id,omitempty"`
	Text    string `json:"text"`
}

// TokenPayload carries incremental answer text (non-mission modes only).
type TokenPayload struct {
	Text string `json:"text"`
}

// ArtifactPayload delivers a completed step's output with its citations.
type ArtifactPayload struct {
	Artifact  mission.Artifact   `json:"artifact"`
	Citations []mission.Citation `json:"citations,omitempty"`
}

// CitationPayload surfaces one piece of supporting evidence.
type CitationPayload struct {
	Citation mission.Citation `json:"citation"`
}

// CheckpointPayload asks the client for a decision.
type CheckpointPayload struct {
	Checkpoint mission.Checkpoint `json:"checkpoint"`
}

// CostPayload reports running spend against the budget.
type CostPayload struct {
	SpentUSD  float64 `json:"spent_usd"`
	BudgetUSD float64 `json:"budget_usd,omitempty"`
	TokensIn  int64   `json:"tokens_in"`
	TokensOut int64   `json:"tokens_out"`
}

// ToolCallPayload reports an agent-side tool invocation.
type ToolCallPayload struct {
	AgentID string `json:"agent_id"`
	Tool    string `json:"tool"`
	Detail  string `json:"detail,omitempty"`
}

// AgentOutcome summarizes one agent's contribution for the done event.
type AgentOutcome struct {
	AgentID string         `json:"agent_id"`
	Status  consult.Status `json:"status"`
	Error   string         `json:"error,omitempty"`
}

// DonePayload closes the stream with the final answer and per-agent outcomes.
type DonePayload struct {
	Content        string         `json:"content"`
	Confidence     float64        `json:"confidence"`
	AgreementScore float64        `json:"agreement_score"`
	AnsweredBy     int            `json:"answered_by"`
	TotalAgents    int            `json:"total_agents"`
	Agents         []AgentOutcome `json:"agents,omitempty"`
}

// ErrorPayload closes the stream with a terminal failure.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CheckpointResponse is the discrete client request resolving a checkpoint,
// keyed by (missionId, checkpointId).
type CheckpointResponse struct {
	MissionID    string `json:"mission_id"`
	CheckpointID string `json:"checkpoint_id"`
	OptionID     string `json:"option_id"`
}
