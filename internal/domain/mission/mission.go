// Package mission defines the autonomous mission aggregate: a step plan
// with checkpoints, a budget ceiling, and a strict lifecycle.
package mission

import (
	"time"

	"github.com/consilium-health/consilium/internal/domain/agent"
)

// Status is the lifecycle state of a mission.
type Status string

const (
	StatusIdle               Status = "idle"
	StatusPlanning           Status = "planning"
	StatusRunning            Status = "running"
	StatusAwaitingCheckpoint Status = "awaiting_checkpoint"
	StatusCompleted          Status = "completed"
	StatusFailed             Status = "failed"
)

// IsTerminal reports whether the mission can no longer change state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// FailReason records why a mission reached StatusFailed.
type FailReason string

const (
	ReasonBudgetExceeded    FailReason = "budget_exceeded"
	ReasonAborted           FailReason = "aborted"
	ReasonStepFailed        FailReason = "step_failed"
	ReasonPlanningFailed    FailReason = "planning_failed"
	ReasonCheckpointTimeout FailReason = "checkpoint_timeout"
)

// Profile is the enumerated execution profile for a mission.
type Profile string

const (
	ProfileRapid    Profile = "rapid"    // fewer agents per step, cheaper models
	ProfileStandard Profile = "standard" // default
	ProfileDeep     Profile = "deep"     // full panel per step
)

// StepStatus is the lifecycle state of a plan step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// PlanStep is one unit of work in a mission plan. Once completed it is
// never re-run; re-entry after a resume reuses the same step id.
type PlanStep struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Description  string     `json:"description"`
	DelegateTier agent.Tier `json:"delegate_tier"` // agent tier that should execute the step
	Checkpoint   bool       `json:"checkpoint"`    // decision point after this step completes
	Status       StepStatus `json:"status"`
	Error        string     `json:"error,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Artifact is a completed step's output. The artifact list is append-only.
type Artifact struct {
	StepID    string    `json:"step_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Citation references supporting evidence. The citation set is append-only
// and deduplicated by SourceID.
type Citation struct {
	SourceID string `json:"source_id"`
	Title    string `json:"title,omitempty"`
}

// CheckpointOption is one selectable action at a decision point.
type CheckpointOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Checkpoint is a human-decision point. A mission has at most one
// outstanding checkpoint; while it exists, step execution is suspended.
type Checkpoint struct {
	ID        string             `json:"id"`
	Type      string             `json:"type"`
	Title     string             `json:"title"`
	Options   []CheckpointOption `json:"options"`
	CreatedAt time.Time          `json:"created_at"`
}

// HasOption reports whether the given option id is selectable.
func (c *Checkpoint) HasOption(optionID string) bool {
	for _, o := range c.Options {
		if o.ID == optionID {
			return true
		}
	}
	return false
}

// Mission is the aggregate root for autonomous mode. It owns its plan and
// checkpoint; it is mutated only through the mission state machine.
type Mission struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id,omitempty"`
	Objective      string      `json:"objective"`
	Profile        Profile     `json:"profile"`
	Status         Status      `json:"status"`
	FailReason     FailReason  `json:"fail_reason,omitempty"`
	Plan           []PlanStep  `json:"plan"`
	BudgetLimitUSD float64     `json:"budget_limit_usd"`
	BudgetSpentUSD float64     `json:"budget_spent_usd"`
	Artifacts      []Artifact  `json:"artifacts"`
	Citations      []Citation  `json:"citations"`
	Checkpoint     *Checkpoint `json:"checkpoint,omitempty"`
	StartedAt      time.Time   `json:"started_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
}
