package mission

import (
	"fmt"
	"time"

	"github.com/consilium-health/consilium/internal/domain"
)

// allowed maps each status to the statuses reachable from it. StatusFailed
// is additionally reachable from any non-terminal state (abort, budget).
var allowed = map[Status][]Status{
	StatusIdle:               {StatusPlanning},
	StatusPlanning:           {StatusRunning},
	StatusRunning:            {StatusAwaitingCheckpoint, StatusCompleted},
	StatusAwaitingCheckpoint: {StatusRunning},
}

// CanTransition reports whether a mission may move from one status to another.
func CanTransition(from, to Status) bool {
	if to == StatusFailed {
		return !from.IsTerminal()
	}
	for _, next := range allowed[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the mission to the target status, rejecting moves the
// state machine does not define.
func (m *Mission) Transition(to Status) error {
	if !CanTransition(m.Status, to) {
		return fmt.Errorf("mission %s: illegal transition %s -> %s", m.ID, m.Status, to)
	}
	m.Status = to
	m.UpdatedAt = time.Now()
	if to.IsTerminal() {
		now := m.UpdatedAt
		m.CompletedAt = &now
	}
	return nil
}

// Fail moves the mission to StatusFailed with the given reason.
func (m *Mission) Fail(reason FailReason) error {
	if err := m.Transition(StatusFailed); err != nil {
		return err
	}
	m.FailReason = reason
	return nil
}

// Spend adds cost to the running total. Spend only ever increases.
func (m *Mission) Spend(costUSD float64) {
	if costUSD < 0 {
		return
	}
	m.BudgetSpentUSD += costUSD
	m.UpdatedAt = time.Now()
}

// BudgetExhausted reports whether the next step must not start.
func (m *Mission) BudgetExhausted() bool {
	return m.BudgetSpentUSD >= m.BudgetLimitUSD
}

// NextStep returns the first pending step, or nil when none remain.
func (m *Mission) NextStep() *PlanStep {
	for i := range m.Plan {
		if m.Plan[i].Status == StepPending {
			return &m.Plan[i]
		}
	}
	return nil
}

// StepByID returns the plan step with the given id.
func (m *Mission) StepByID(id string) (*PlanStep, error) {
	for i := range m.Plan {
		if m.Plan[i].ID == id {
			return &m.Plan[i], nil
		}
	}
	return nil, fmt.Errorf("step %s: %w", id, domain.ErrNotFound)
}

// AllStepsCompleted reports whether every plan step reached StepCompleted.
func (m *Mission) AllStepsCompleted() bool {
	if len(m.Plan) == 0 {
		return false
	}
	for i := range m.Plan {
		if m.Plan[i].Status != StepCompleted {
			return false
		}
	}
	return true
}

// AttachCheckpoint suspends execution at a decision point. A mission holds
// at most one outstanding checkpoint at a time.
func (m *Mission) AttachCheckpoint(cp *Checkpoint) error {
	if m.Checkpoint != nil {
		return fmt.Errorf("mission %s: %w", m.ID, domain.ErrCheckpointPending)
	}
	if err := m.Transition(StatusAwaitingCheckpoint); err != nil {
		return err
	}
	m.Checkpoint = cp
	return nil
}

// ResolveCheckpoint applies a client response to the outstanding checkpoint.
// Invalid or unknown responses are rejected without a state change; on a
// valid response the checkpoint is destroyed and the mission resumes.
func (m *Mission) ResolveCheckpoint(checkpointID, optionID string) (CheckpointOption, error) {
	if m.Checkpoint == nil || m.Checkpoint.ID != checkpointID {
		return CheckpointOption{}, fmt.Errorf("checkpoint %s: %w", checkpointID, domain.ErrNotFound)
	}
	if !m.Checkpoint.HasOption(optionID) {
		return CheckpointOption{}, fmt.Errorf("option %q: %w", optionID, domain.ErrInvalidCheckpointOption)
	}

	var selected CheckpointOption
	for _, o := range m.Checkpoint.Options {
		if o.ID == optionID {
			selected = o
			break
		}
	}

	if err := m.Transition(StatusRunning); err != nil {
		return CheckpointOption{}, err
	}
	m.Checkpoint = nil
	return selected, nil
}

// CheckpointExpired reports whether the outstanding checkpoint has been
// unanswered longer than ttl.
func (m *Mission) CheckpointExpired(ttl time.Duration, now time.Time) bool {
	return m.Checkpoint != nil && now.Sub(m.Checkpoint.CreatedAt) > ttl
}

// AddArtifact appends a step artifact. Artifacts are never removed, even
// when the mission later fails.
func (m *Mission) AddArtifact(a Artifact) {
	m.Artifacts = append(m.Artifacts, a)
}

// AddCitations appends citations, deduplicating by SourceID.
func (m *Mission) AddCitations(citations []Citation) {
	seen := make(map[string]struct{}, len(m.Citations))
	for _, c := range m.Citations {
		seen[c.SourceID] = struct{}{}
	}
	for _, c := range citations {
		if _, ok := seen[c.SourceID]; ok {
			continue
		}
		seen[c.SourceID] = struct{}{}
		m.Citations = append(m.Citations, c)
	}
}
