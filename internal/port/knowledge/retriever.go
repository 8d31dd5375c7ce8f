// Package knowledge defines the port interface for per-agent knowledge retrieval.
package knowledge

import (
	"context"

	domknow "github.com/consilium-health/consilium/internal/domain/knowledge"
)

// Query asks one agent's knowledge base for passages relevant to a question.
type Query struct {
	AgentID string `json:"agent_id"`
	Text    string `json:"text"`
	TopK    int    `json:"top_k"`
}

// Retriever is the port interface for knowledge-base search.
type Retriever interface {
	// Search returns the agent's most relevant passages, best first.
	// A missing or empty knowledge base returns an empty slice, not an error.
	Search(ctx context.Context, q Query) ([]domknow.RetrievedContext, error)
}
