package postgres

import (
	"context"
	"fmt"

	"github.com/consilium-health/consilium/internal/domain/conversation"
)

// --- Conversations ---

func (s *Store) GetConversation(ctx context.Context, id string) (*conversation.Conversation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, title, turn_count, last_agent_id, last_domain, created_at, updated_at
		 FROM conversations WHERE id = $1`, id)

	var c conversation.Conversation
	err := row.Scan(&c.ID, &c.Title, &c.TurnCount, &c.LastAgentID, &c.LastDomain, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "get conversation %s", id)
	}
	return &c, nil
}

func (s *Store) CreateConversation(ctx context.Context, c *conversation.Conversation) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversations (id, title) VALUES ($1, $2)`, c.ID, c.Title)
	if err != nil {
		return fmt.Errorf("create conversation %s: %w", c.ID, err)
	}
	return nil
}

// AppendTurn inserts the turn and advances the conversation's continuity
// summary in one transaction.
func (s *Store) AppendTurn(ctx context.Context, t *conversation.Turn) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin append turn: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO conversation_turns (id, conversation_id, role, content, agent_id, domain, prompt_tokens, completion_tokens, cost_usd)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.ConversationID, t.Role, t.Content, nullIfEmpty(t.AgentID), t.Domain,
		t.Usage.PromptTokens, t.Usage.CompletionTokens, t.Usage.CostUSD)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}

	// Only assistant turns advance continuity state.
	if t.Role == conversation.RoleAssistant {
		_, err = tx.Exec(ctx,
			`UPDATE conversations SET turn_count = turn_count + 1,
			   last_agent_id = COALESCE(NULLIF($2, ''), last_agent_id),
			   last_domain = COALESCE(NULLIF($3, ''), last_domain),
			   updated_at = now()
			 WHERE id = $1`,
			t.ConversationID, t.AgentID, t.Domain)
	} else {
		_, err = tx.Exec(ctx,
			`UPDATE conversations SET updated_at = now() WHERE id = $1`, t.ConversationID)
	}
	if err != nil {
		return fmt.Errorf("update conversation summary: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit append turn: %w", err)
	}
	return nil
}

func (s *Store) ListTurns(ctx context.Context, conversationID string, limit int) ([]conversation.Turn, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, role, content, COALESCE(agent_id::text, ''), domain, prompt_tokens, completion_tokens, cost_usd, created_at
		 FROM conversation_turns WHERE conversation_id = $1 ORDER BY created_at DESC LIMIT $2`,
		conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	var turns []conversation.Turn
	for rows.Next() {
		var t conversation.Turn
		if err := rows.Scan(&t.ID, &t.ConversationID, &t.Role, &t.Content, &t.AgentID, &t.Domain,
			&t.Usage.PromptTokens, &t.Usage.CompletionTokens, &t.Usage.CostUSD, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	// Return oldest first.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, rows.Err()
}
