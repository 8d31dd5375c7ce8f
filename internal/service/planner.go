package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/consilium-health/consilium/internal/config"
	"github.com/consilium-health/consilium/internal/domain/agent"
	"github.com/consilium-health/consilium/internal/domain/consult"
	"github.com/consilium-health/consilium/internal/domain/mission"
	"github.com/consilium-health/consilium/internal/port/llm"
)

// PlannerService turns a mission objective into an ordered step plan using
// the planner model. Plans are data; execution lives in MissionService.
type PlannerService struct {
	invoker llm.Invoker
	cfg     *config.Mission
}

// NewPlannerService creates a PlannerService.
func NewPlannerService(invoker llm.Invoker, cfg *config.Mission) *PlannerService {
	return &PlannerService{invoker: invoker, cfg: cfg}
}

// plannedStep is the JSON shape the planner model must produce.
type plannedStep struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	DelegateTier int    `json:"delegate_tier"`
	Checkpoint   bool   `json:"checkpoint"`
}

// Plan generates the step plan for an objective. The caller charges the
// returned usage against the mission budget.
func (s *PlannerService) Plan(ctx context.Context, objective string, profile mission.Profile) ([]mission.PlanStep, consult.TokenUsage, error) {
	resp, err := s.invoker.Invoke(ctx, llm.Request{
		Model:     s.cfg.PlannerModel,
		MaxTokens: s.cfg.PlannerMaxTokens,
		Messages: []llm.Message{
			{Role: "system", Content: plannerSystemPrompt(profile, s.cfg.MaxSteps)},
			{Role: "user", Content: objective},
		},
	})
	if err != nil {
		return nil, consult.TokenUsage{}, fmt.Errorf("generate plan: %w", err)
	}

	planned, err := parsePlan(resp.Content)
	if err != nil {
		return nil, resp.Usage, fmt.Errorf("generate plan: %w", err)
	}
	if len(planned) > s.cfg.MaxSteps {
		planned = planned[:s.cfg.MaxSteps]
	}

	steps := make([]mission.PlanStep, len(planned))
	for i, p := range planned {
		tier := agent.Tier(p.DelegateTier)
		if tier < agent.TierPrincipal || tier > agent.TierAssociate {
			tier = agent.TierSpecialist
		}
		steps[i] = mission.PlanStep{
			ID:           fmt.Sprintf("s%d", i+1),
			Name:         p.Name,
			Description:  p.Description,
			DelegateTier: tier,
			Checkpoint:   p.Checkpoint,
			Status:       mission.StepPending,
		}
	}
	return steps, resp.Usage, nil
}

func plannerSystemPrompt(profile mission.Profile, maxSteps int) string {
	target := 5
	switch profile {
	case mission.ProfileRapid:
		target = 3
	case mission.ProfileDeep:
		target = 8
	}
	if target > maxSteps {
		target = maxSteps
	}

	return fmt.Sprintf(`You are a healthcare consulting mission planner. Break the objective into roughly %d ordered steps.
Respond with a JSON array only, no prose. Each element:
{"name": "...", "description": "...", "delegate_tier": 1-4, "checkpoint": false}
delegate_tier: 1 = principal consultant, 2 = senior, 3 = specialist, 4 = associate.
Set "checkpoint": true on a step whose outcome the client must review before work continues.`, target)
}

// parsePlan tolerates markdown code fences around the JSON array.
func parsePlan(content string) ([]plannedStep, error) {
	trimmed := strings.TrimSpace(content)
	if start := strings.Index(trimmed, "["); start >= 0 {
		if end := strings.LastIndex(trimmed, "]"); end > start {
			trimmed = trimmed[start : end+1]
		}
	}

	var planned []plannedStep
	if err := json.Unmarshal([]byte(trimmed), &planned); err != nil {
		return nil, fmt.Errorf("parse plan JSON: %w", err)
	}
	if len(planned) == 0 {
		return nil, fmt.Errorf("planner produced an empty plan")
	}
	for _, p := range planned {
		if strings.TrimSpace(p.Name) == "" {
			return nil, fmt.Errorf("planner produced a step without a name")
		}
	}
	return planned, nil
}
