package service

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/consilium-health/consilium/internal/config"
	domknow "github.com/consilium-health/consilium/internal/domain/knowledge"
	"github.com/consilium-health/consilium/internal/port/knowledge"
)

// RetrievalService fans a query out to each selected agent's knowledge base
// in parallel. One agent's retrieval failure never blocks the others; its
// agent simply consults without supporting context.
type RetrievalService struct {
	retriever knowledge.Retriever
	cfg       *config.Retrieval
}

// NewRetrievalService creates a RetrievalService.
func NewRetrievalService(retriever knowledge.Retriever, cfg *config.Retrieval) *RetrievalService {
	return &RetrievalService{retriever: retriever, cfg: cfg}
}

// Gather retrieves supporting context for every agent, deduplicated across
// agents by source and filtered to the relevance floor. Never returns an
// error: total retrieval failure yields an empty result.
func (s *RetrievalService) Gather(ctx context.Context, query string, agentIDs []string) []domknow.RetrievedContext {
	if len(agentIDs) == 0 {
		return nil
	}

	results := make([][]domknow.RetrievedContext, len(agentIDs))

	g, gctx := errgroup.WithContext(ctx)
	for i, agentID := range agentIDs {
		g.Go(func() error {
			qctx, cancel := context.WithTimeout(gctx, s.cfg.Timeout)
			defer cancel()

			hits, err := s.retriever.Search(qctx, knowledge.Query{
				AgentID: agentID,
				Text:    query,
				TopK:    s.cfg.TopK,
			})
			if err != nil {
				// Isolated: log and continue with nothing for this agent.
				slog.Warn("knowledge retrieval failed", "agent_id", agentID, "error", err)
				return nil
			}
			results[i] = hits
			return nil
		})
	}
	_ = g.Wait() // goroutines only ever return nil

	var all []domknow.RetrievedContext
	for _, hits := range results {
		all = append(all, hits...)
	}

	return domknow.Dedupe(domknow.FilterFloor(all, s.cfg.SimilarityFloor))
}

// ForAgent filters a gathered context set down to one agent's evidence plus
// shared sources retrieved by others.
func ForAgent(contexts []domknow.RetrievedContext, agentID string, limit int) []domknow.RetrievedContext {
	var own, shared []domknow.RetrievedContext
	for _, c := range contexts {
		if c.AgentID == agentID {
			own = append(own, c)
		} else {
			shared = append(shared, c)
		}
	}
	out := append(own, shared...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
