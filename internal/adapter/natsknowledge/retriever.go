// Package natsknowledge implements the knowledge retriever port over the
// message queue. Search requests fan out to retrieval workers on a NATS
// subject; results come back on a result subject and are matched to waiting
// callers by correlation ID.
package natsknowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	domknow "github.com/consilium-health/consilium/internal/domain/knowledge"
	"github.com/consilium-health/consilium/internal/port/knowledge"
	"github.com/consilium-health/consilium/internal/port/messagequeue"
)

// Retriever implements knowledge.Retriever using request/reply over the queue.
type Retriever struct {
	queue   messagequeue.Queue
	timeout time.Duration

	mu      sync.Mutex
	waiters map[string]chan *messagequeue.KnowledgeResultPayload
}

var _ knowledge.Retriever = (*Retriever)(nil)

// New creates a Retriever. timeout bounds each search round trip.
func New(queue messagequeue.Queue, timeout time.Duration) *Retriever {
	return &Retriever{
		queue:   queue,
		timeout: timeout,
		waiters: make(map[string]chan *messagequeue.KnowledgeResultPayload),
	}
}

// Start subscribes to the search result subject. The returned cancel func
// stops the subscription.
func (r *Retriever) Start(ctx context.Context) (func(), error) {
	cancel, err := r.queue.Subscribe(ctx, messagequeue.SubjectKnowledgeResult, func(_ context.Context, _ string, data []byte) error {
		var payload messagequeue.KnowledgeResultPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("unmarshal knowledge result: %w", err)
		}
		r.deliver(&payload)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe knowledge result: %w", err)
	}
	return cancel, nil
}

// Search publishes a search request and waits synchronously for the result.
// A worker-side error or an empty knowledge base yields an empty slice.
func (r *Retriever) Search(ctx context.Context, q knowledge.Query) ([]domknow.RetrievedContext, error) {
	requestID := uuid.NewString()

	ch := make(chan *messagequeue.KnowledgeResultPayload, 1)
	r.mu.Lock()
	r.waiters[requestID] = ch
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.waiters, requestID)
		r.mu.Unlock()
	}()

	payload := messagequeue.KnowledgeSearchPayload{
		RequestID: requestID,
		AgentID:   q.AgentID,
		Query:     q.Text,
		TopK:      q.TopK,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal knowledge search: %w", err)
	}

	if err := r.queue.Publish(ctx, messagequeue.SubjectKnowledgeSearch, data); err != nil {
		return nil, fmt.Errorf("publish knowledge search: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	select {
	case result := <-ch:
		if result.Error != "" {
			return nil, fmt.Errorf("knowledge search for agent %s: %s", q.AgentID, result.Error)
		}
		contexts := make([]domknow.RetrievedContext, 0, len(result.Hits))
		for _, hit := range result.Hits {
			contexts = append(contexts, domknow.RetrievedContext{
				AgentID:        q.AgentID,
				SourceID:       hit.SourceID,
				Title:          hit.Title,
				Text:           hit.Text,
				RelevanceScore: hit.RelevanceScore,
			})
		}
		return contexts, nil
	case <-timeoutCtx.Done():
		return nil, fmt.Errorf("knowledge search timeout for agent %s", q.AgentID)
	}
}

// deliver hands a result to the waiting caller, if it is still waiting.
func (r *Retriever) deliver(payload *messagequeue.KnowledgeResultPayload) {
	r.mu.Lock()
	ch, ok := r.waiters[payload.RequestID]
	if ok {
		delete(r.waiters, payload.RequestID)
	}
	r.mu.Unlock()

	if !ok {
		slog.Warn("no waiter for knowledge result", "request_id", payload.RequestID)
		return
	}

	ch <- payload
}
