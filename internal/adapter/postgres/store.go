package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/consilium-health/consilium/internal/domain/agent"
	"github.com/consilium-health/consilium/internal/port/database"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ database.Store = (*Store)(nil)

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Agents ---

const agentColumns = `id, display_name, tier, domain_tags, capabilities, available, usage_count, model, system_prompt, created_at, updated_at`

func scanAgent(sc scannable) (agent.Profile, error) {
	var p agent.Profile
	err := sc.Scan(
		&p.ID, &p.DisplayName, &p.Tier, &p.DomainTags, &p.Capabilities,
		&p.Available, &p.UsageCount, &p.Model, &p.SystemPrompt,
		&p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

func (s *Store) ListAgents(ctx context.Context) ([]agent.Profile, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM agents ORDER BY tier ASC, id ASC`, agentColumns))
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []agent.Profile
	for rows.Next() {
		p, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, p)
	}
	return agents, rows.Err()
}

func (s *Store) GetAgent(ctx context.Context, id string) (*agent.Profile, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM agents WHERE id = $1`, agentColumns), id)

	p, err := scanAgent(row)
	if err != nil {
		return nil, notFoundWrap(err, "get agent %s", id)
	}
	return &p, nil
}

func (s *Store) UpsertAgent(ctx context.Context, p *agent.Profile) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO agents (id, display_name, tier, domain_tags, capabilities, available, model, system_prompt)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
		   display_name = EXCLUDED.display_name,
		   tier = EXCLUDED.tier,
		   domain_tags = EXCLUDED.domain_tags,
		   capabilities = EXCLUDED.capabilities,
		   available = EXCLUDED.available,
		   model = EXCLUDED.model,
		   system_prompt = EXCLUDED.system_prompt,
		   updated_at = now()`,
		p.ID, p.DisplayName, p.Tier, pgTextArray(p.DomainTags), pgTextArray(p.Capabilities),
		p.Available, p.Model, p.SystemPrompt)
	if err != nil {
		return fmt.Errorf("upsert agent %s: %w", p.ID, err)
	}
	return nil
}

func (s *Store) IncrementAgentUsage(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agents SET usage_count = usage_count + 1, updated_at = now() WHERE id = $1`, id)
	return execExpectOne(tag, err, "increment agent usage %s", id)
}
