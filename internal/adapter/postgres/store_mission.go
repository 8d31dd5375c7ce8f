package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/consilium-health/consilium/internal/domain/mission"
)

// --- Missions ---

const missionColumns = `id, COALESCE(conversation_id::text, ''), objective, profile, status, fail_reason, plan, budget_limit_usd, budget_spent_usd, artifacts, citations, checkpoint, started_at, updated_at, completed_at`

func scanMission(sc scannable) (mission.Mission, error) {
	var (
		m        mission.Mission
		planJSON []byte
		artJSON  []byte
		citJSON  []byte
		cpJSON   []byte
	)
	err := sc.Scan(
		&m.ID, &m.ConversationID, &m.Objective, &m.Profile, &m.Status, &m.FailReason,
		&planJSON, &m.BudgetLimitUSD, &m.BudgetSpentUSD, &artJSON, &citJSON, &cpJSON,
		&m.StartedAt, &m.UpdatedAt, &m.CompletedAt,
	)
	if err != nil {
		return m, err
	}

	if len(planJSON) > 0 {
		if err := json.Unmarshal(planJSON, &m.Plan); err != nil {
			return m, fmt.Errorf("unmarshal plan: %w", err)
		}
	}
	if len(artJSON) > 0 {
		if err := json.Unmarshal(artJSON, &m.Artifacts); err != nil {
			return m, fmt.Errorf("unmarshal artifacts: %w", err)
		}
	}
	if len(citJSON) > 0 {
		if err := json.Unmarshal(citJSON, &m.Citations); err != nil {
			return m, fmt.Errorf("unmarshal citations: %w", err)
		}
	}
	if len(cpJSON) > 0 {
		if err := json.Unmarshal(cpJSON, &m.Checkpoint); err != nil {
			return m, fmt.Errorf("unmarshal checkpoint: %w", err)
		}
	}
	return m, nil
}

func marshalMissionJSON(m *mission.Mission) (plan, artifacts, citations, checkpoint []byte, err error) {
	if plan, err = json.Marshal(m.Plan); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal plan: %w", err)
	}
	if artifacts, err = json.Marshal(m.Artifacts); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal artifacts: %w", err)
	}
	if citations, err = json.Marshal(m.Citations); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal citations: %w", err)
	}
	checkpoint = nil
	if m.Checkpoint != nil {
		if checkpoint, err = json.Marshal(m.Checkpoint); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("marshal checkpoint: %w", err)
		}
	}
	return plan, artifacts, citations, checkpoint, nil
}

func (s *Store) CreateMission(ctx context.Context, m *mission.Mission) error {
	planJSON, artJSON, citJSON, cpJSON, err := marshalMissionJSON(m)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO missions (id, conversation_id, objective, profile, status, fail_reason, plan, budget_limit_usd, budget_spent_usd, artifacts, citations, checkpoint, started_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		m.ID, nullIfEmpty(m.ConversationID), m.Objective, m.Profile, m.Status, m.FailReason,
		planJSON, m.BudgetLimitUSD, m.BudgetSpentUSD, artJSON, citJSON, cpJSON,
		m.StartedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create mission %s: %w", m.ID, err)
	}
	return nil
}

func (s *Store) GetMission(ctx context.Context, id string) (*mission.Mission, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM missions WHERE id = $1`, missionColumns), id)

	m, err := scanMission(row)
	if err != nil {
		return nil, notFoundWrap(err, "get mission %s", id)
	}
	return &m, nil
}

func (s *Store) UpdateMission(ctx context.Context, m *mission.Mission) error {
	planJSON, artJSON, citJSON, cpJSON, err := marshalMissionJSON(m)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE missions SET status = $2, fail_reason = $3, plan = $4, budget_spent_usd = $5,
		   artifacts = $6, citations = $7, checkpoint = $8, updated_at = $9, completed_at = $10
		 WHERE id = $1`,
		m.ID, m.Status, m.FailReason, planJSON, m.BudgetSpentUSD,
		artJSON, citJSON, cpJSON, m.UpdatedAt, m.CompletedAt)
	return execExpectOne(tag, err, "update mission %s", m.ID)
}

func (s *Store) ListMissions(ctx context.Context, conversationID string, limit int) ([]mission.Mission, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM missions WHERE conversation_id = $1 ORDER BY started_at DESC LIMIT $2`, missionColumns),
		conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list missions: %w", err)
	}
	defer rows.Close()

	var missions []mission.Mission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mission: %w", err)
		}
		missions = append(missions, m)
	}
	return missions, rows.Err()
}

func (s *Store) ListAwaitingCheckpoint(ctx context.Context) ([]mission.Mission, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM missions WHERE status = $1 ORDER BY updated_at ASC`, missionColumns),
		mission.StatusAwaitingCheckpoint)
	if err != nil {
		return nil, fmt.Errorf("list missions awaiting checkpoint: %w", err)
	}
	defer rows.Close()

	var missions []mission.Mission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mission: %w", err)
		}
		missions = append(missions, m)
	}
	return missions, rows.Err()
}
