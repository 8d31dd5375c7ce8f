package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/consilium-health/consilium/internal/port/database"
)

// --- Cost ledger ---

func (s *Store) RecordCost(ctx context.Context, e *database.CostEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cost_entries (id, conversation_id, mission_id, agent_id, model, prompt_tokens, output_tokens, cost_usd)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, nullIfEmpty(e.ConversationID), nullIfEmpty(e.MissionID), nullIfEmpty(e.AgentID),
		e.Model, e.PromptTokens, e.OutputTokens, e.CostUSD)
	if err != nil {
		return fmt.Errorf("record cost: %w", err)
	}
	return nil
}

func (s *Store) CostByConversation(ctx context.Context, conversationID string) (*database.CostSummary, error) {
	return s.costSummary(ctx,
		`WHERE conversation_id = $1`, conversationID)
}

func (s *Store) CostSince(ctx context.Context, since time.Time) (*database.CostSummary, error) {
	return s.costSummary(ctx,
		`WHERE created_at >= $1`, since)
}

func (s *Store) costSummary(ctx context.Context, where string, arg any) (*database.CostSummary, error) {
	summary := &database.CostSummary{ByModel: make(map[string]float64)}

	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT model, COUNT(*), COALESCE(SUM(prompt_tokens + output_tokens), 0), COALESCE(SUM(cost_usd), 0)
		 FROM cost_entries %s GROUP BY model`, where), arg)
	if err != nil {
		return nil, fmt.Errorf("cost summary: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			model  string
			calls  int
			tokens int64
			usd    float64
		)
		if err := rows.Scan(&model, &calls, &tokens, &usd); err != nil {
			return nil, fmt.Errorf("scan cost summary: %w", err)
		}
		summary.CallCount += calls
		summary.TotalTokens += tokens
		summary.TotalUSD += usd
		summary.ByModel[model] = usd
	}
	return summary, rows.Err()
}
