package mission_test

import (
	"errors"
	"testing"
	"time"

	"github.com/consilium-health/consilium/internal/domain"
	"github.com/consilium-health/consilium/internal/domain/mission"
)

func newRunningMission() *mission.Mission {
	m := &mission.Mission{
		ID:             "m-1",
		Objective:      "assess 510(k) readiness",
		Profile:        mission.ProfileStandard,
		Status:         mission.StatusIdle,
		BudgetLimitUSD: 10,
		StartedAt:      time.Now(),
	}
	if err := m.Transition(mission.StatusPlanning); err != nil {
		panic(err)
	}
	m.Plan = []mission.PlanStep{
		{ID: "s1", Name: "gap analysis", Status: mission.StepPending},
		{ID: "s2", Name: "predicate search", Status: mission.StepPending},
		{ID: "s3", Name: "summary", Status: mission.StepPending},
	}
	if err := m.Transition(mission.StatusRunning); err != nil {
		panic(err)
	}
	return m
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to mission.Status
		want     bool
	}{
		{mission.StatusIdle, mission.StatusPlanning, true},
		{mission.StatusPlanning, mission.StatusRunning, true},
		{mission.StatusRunning, mission.StatusAwaitingCheckpoint, true},
		{mission.StatusAwaitingCheckpoint, mission.StatusRunning, true},
		{mission.StatusRunning, mission.StatusCompleted, true},
		{mission.StatusRunning, mission.StatusFailed, true},
		{mission.StatusAwaitingCheckpoint, mission.StatusFailed, true},
		{mission.StatusIdle, mission.StatusRunning, false},
		{mission.StatusPlanning, mission.StatusAwaitingCheckpoint, false},
		{mission.StatusCompleted, mission.StatusFailed, false},
		{mission.StatusFailed, mission.StatusRunning, false},
		{mission.StatusCompleted, mission.StatusRunning, false},
	}

	for _, tt := range tests {
		if got := mission.CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestSpend_Monotonic(t *testing.T) {
	m := newRunningMission()

	m.Spend(2.5)
	m.Spend(-1) // ignored: spend never decreases
	m.Spend(0.5)

	if m.BudgetSpentUSD != 3.0 {
		t.Errorf("expected spend 3.0, got %v", m.BudgetSpentUSD)
	}
}

func TestBudgetExhausted(t *testing.T) {
	m := newRunningMission()
	m.BudgetLimitUSD = 10

	m.Spend(9.99)
	if m.BudgetExhausted() {
		t.Error("budget not yet exhausted at 9.99/10")
	}
	m.Spend(0.01)
	if !m.BudgetExhausted() {
		t.Error("budget exhausted at 10/10")
	}
}

func TestFail_BudgetExceededKeepsCompletedSteps(t *testing.T) {
	m := newRunningMission()
	m.Plan[0].Status = mission.StepCompleted
	m.Plan[1].Status = mission.StepCompleted
	m.Spend(11)

	if err := m.Fail(mission.ReasonBudgetExceeded); err != nil {
		t.Fatalf("fail: %v", err)
	}

	if m.Status != mission.StatusFailed {
		t.Errorf("expected failed, got %s", m.Status)
	}
	if m.FailReason != mission.ReasonBudgetExceeded {
		t.Errorf("expected budget_exceeded, got %s", m.FailReason)
	}
	if m.Plan[0].Status != mission.StepCompleted || m.Plan[1].Status != mission.StepCompleted {
		t.Error("completed steps must remain completed after failure")
	}
}

func TestCheckpoint_AttachAndResolve(t *testing.T) {
	m := newRunningMission()

	cp := &mission.Checkpoint{
		ID:    "cp-1",
		Type:  "approval",
		Title: "Review gap analysis",
		Options: []mission.CheckpointOption{
			{ID: "approve", Label: "Approve"},
			{ID: "revise", Label: "Request revision"},
		},
		CreatedAt: time.Now(),
	}
	if err := m.AttachCheckpoint(cp); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if m.Status != mission.StatusAwaitingCheckpoint {
		t.Fatalf("expected awaiting_checkpoint, got %s", m.Status)
	}

	// A second checkpoint while one is outstanding is rejected.
	err := m.AttachCheckpoint(&mission.Checkpoint{ID: "cp-2"})
	if !errors.Is(err, domain.ErrCheckpointPending) {
		t.Errorf("expected ErrCheckpointPending, got %v", err)
	}

	// An option outside the set is rejected without a state change.
	_, err = m.ResolveCheckpoint("cp-1", "escalate")
	if !errors.Is(err, domain.ErrInvalidCheckpointOption) {
		t.Errorf("expected ErrInvalidCheckpointOption, got %v", err)
	}
	if m.Status != mission.StatusAwaitingCheckpoint {
		t.Errorf("rejected response must not change state, got %s", m.Status)
	}
	if m.Checkpoint == nil {
		t.Fatal("checkpoint must survive a rejected response")
	}

	// A valid response resumes the mission and destroys the checkpoint.
	opt, err := m.ResolveCheckpoint("cp-1", "revise")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if opt.ID != "revise" {
		t.Errorf("expected selected option revise, got %s", opt.ID)
	}
	if m.Status != mission.StatusRunning {
		t.Errorf("expected running after resolve, got %s", m.Status)
	}
	if m.Checkpoint != nil {
		t.Error("checkpoint must be destroyed after a valid response")
	}
}

func TestResolveCheckpoint_UnknownID(t *testing.T) {
	m := newRunningMission()
	if err := m.AttachCheckpoint(&mission.Checkpoint{
		ID:      "cp-1",
		Options: []mission.CheckpointOption{{ID: "approve"}},
	}); err != nil {
		t.Fatalf("attach: %v", err)
	}

	_, err := m.ResolveCheckpoint("cp-unknown", "approve")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if m.Status != mission.StatusAwaitingCheckpoint {
		t.Errorf("unknown checkpoint must not change state, got %s", m.Status)
	}
}

func TestCheckpointExpired(t *testing.T) {
	m := newRunningMission()
	created := time.Now().Add(-5 * time.Hour)
	if err := m.AttachCheckpoint(&mission.Checkpoint{
		ID:        "cp-1",
		Options:   []mission.CheckpointOption{{ID: "approve"}},
		CreatedAt: created,
	}); err != nil {
		t.Fatalf("attach: %v", err)
	}

	if !m.CheckpointExpired(4*time.Hour, time.Now()) {
		t.Error("expected checkpoint expired after 5h with 4h ttl")
	}
	if m.CheckpointExpired(6*time.Hour, time.Now()) {
		t.Error("checkpoint within 6h ttl must not be expired")
	}
}

func TestNextStep_SkipsTerminalSteps(t *testing.T) {
	m := newRunningMission()
	m.Plan[0].Status = mission.StepCompleted

	next := m.NextStep()
	if next == nil || next.ID != "s2" {
		t.Fatalf("expected next step s2, got %+v", next)
	}

	m.Plan[1].Status = mission.StepCompleted
	m.Plan[2].Status = mission.StepCompleted
	if m.NextStep() != nil {
		t.Error("expected no next step when all completed")
	}
	if !m.AllStepsCompleted() {
		t.Error("expected all steps completed")
	}
}

func TestAddCitations_DedupeBySourceID(t *testing.T) {
	m := newRunningMission()
	m.AddCitations([]mission.Citation{
		{SourceID: "doc-1", Title: "FDA guidance"},
		{SourceID: "doc-2", Title: "ISO 13485"},
	})
	m.AddCitations([]mission.Citation{
		{SourceID: "doc-1", Title: "FDA guidance (dup)"},
		{SourceID: "doc-3", Title: "MDR"},
	})

	if len(m.Citations) != 3 {
		t.Fatalf("expected 3 deduplicated citations, got %d", len(m.Citations))
	}
}
