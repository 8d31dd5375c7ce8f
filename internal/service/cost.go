package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	cotel "github.com/consilium-health/consilium/internal/adapter/otel"
	"github.com/consilium-health/consilium/internal/domain/consult"
	"github.com/consilium-health/consilium/internal/port/database"
)

// CostService records every billed model call in the durable ledger and
// answers spend queries. Recording is best-effort: a ledger write failure
// never fails the consultation that incurred the cost.
type CostService struct {
	store   database.Store
	metrics *cotel.Metrics
}

// NewCostService creates a CostService.
func NewCostService(store database.Store) *CostService {
	return &CostService{store: store}
}

// SetMetrics attaches optional metric instruments. Safe to leave unset;
// recording is skipped when nil.
func (s *CostService) SetMetrics(m *cotel.Metrics) { s.metrics = m }

// Record writes one ledger entry. missionID and agentID may be empty.
func (s *CostService) Record(ctx context.Context, conversationID, missionID, agentID, model string, usage consult.TokenUsage) {
	entry := &database.CostEntry{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		MissionID:      missionID,
		AgentID:        agentID,
		Model:          model,
		PromptTokens:   usage.PromptTokens,
		OutputTokens:   usage.CompletionTokens,
		CostUSD:        usage.CostUSD,
	}
	if err := s.store.RecordCost(ctx, entry); err != nil {
		slog.Error("record cost entry failed", "conversation_id", conversationID, "error", err)
	}
	if s.metrics != nil {
		s.metrics.SpendUSD.Add(ctx, usage.CostUSD, metric.WithAttributes(
			attribute.String("model", model),
		))
	}
}

// ByConversation aggregates spend for one conversation.
func (s *CostService) ByConversation(ctx context.Context, conversationID string) (*database.CostSummary, error) {
	summary, err := s.store.CostByConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("cost by conversation %s: %w", conversationID, err)
	}
	return summary, nil
}

// Since aggregates spend across all conversations from the given time.
func (s *CostService) Since(ctx context.Context, since time.Time) (*database.CostSummary, error) {
	summary, err := s.store.CostSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("cost since %s: %w", since.Format(time.RFC3339), err)
	}
	return summary, nil
}
