package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	cotel "github.com/consilium-health/consilium/internal/adapter/otel"
	"github.com/consilium-health/consilium/internal/config"
	"github.com/consilium-health/consilium/internal/domain"
	"github.com/consilium-health/consilium/internal/domain/agent"
	"github.com/consilium-health/consilium/internal/domain/consult"
	domknow "github.com/consilium-health/consilium/internal/domain/knowledge"
	"github.com/consilium-health/consilium/internal/port/llm"
)

// maxContextPerAgent caps how many retrieved passages go into one prompt.
const maxContextPerAgent = 8

// ExecutorService runs the selected panel in parallel. Every agent gets its
// own timeout; the consultation waits for all agents to settle and degrades
// gracefully, failing only when nobody answered.
type ExecutorService struct {
	invoker llm.Invoker
	cfg     *config.Executor
	metrics *cotel.Metrics
}

// NewExecutorService creates an ExecutorService.
func NewExecutorService(invoker llm.Invoker, cfg *config.Executor) *ExecutorService {
	return &ExecutorService{invoker: invoker, cfg: cfg}
}

// SetMetrics attaches optional metric instruments. Safe to leave unset;
// recording is skipped when nil.
func (s *ExecutorService) SetMetrics(m *cotel.Metrics) { s.metrics = m }

// Execute invokes every panel agent concurrently and returns one result per
// agent, in panel order. The returned error is domain.ErrNoAgentsAvailable
// only when every invocation failed; partial failure is not an error.
func (s *ExecutorService) Execute(ctx context.Context, query string, panel []agent.Ranked, contexts []domknow.RetrievedContext) ([]consult.AgentResult, error) {
	if len(panel) == 0 {
		return nil, fmt.Errorf("execute consultation: %w", domain.ErrNoAgentsAvailable)
	}

	results := make([]consult.AgentResult, len(panel))

	var wg sync.WaitGroup
	for i, ranked := range panel {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = s.invokeOne(ctx, query, ranked.Profile, ForAgent(contexts, ranked.Profile.ID, maxContextPerAgent))
		}()
	}
	wg.Wait()

	if len(consult.Successes(results)) == 0 {
		return results, fmt.Errorf("execute consultation: all %d agents failed: %w", len(panel), domain.ErrNoAgentsAvailable)
	}
	return results, nil
}

// invokeOne runs one agent under its own timeout. It never panics the
// consultation: every outcome becomes an AgentResult.
func (s *ExecutorService) invokeOne(ctx context.Context, query string, p agent.Profile, contexts []domknow.RetrievedContext) consult.AgentResult {
	result := consult.AgentResult{AgentID: p.ID, AgentName: p.DisplayName}

	actx, cancel := context.WithTimeout(ctx, s.cfg.AgentTimeout)
	defer cancel()

	start := time.Now()
	resp, err := s.invoker.Invoke(actx, llm.Request{
		Model:    p.Model,
		Messages: buildAgentMessages(p, query, contexts),
	})
	elapsed := time.Since(start)
	result.DurationMS = elapsed.Milliseconds()
	if s.metrics != nil {
		s.metrics.AgentLatency.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
			attribute.String("agent_id", p.ID),
			attribute.String("model", p.Model),
		))
	}

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(actx.Err(), context.DeadlineExceeded) {
			result.Status = consult.StatusTimeout
		} else {
			result.Status = consult.StatusFailed
		}
		result.Error = err.Error()
		return result
	}

	result.Status = consult.StatusSuccess
	result.Content = resp.Content
	result.Usage = resp.Usage
	result.Confidence = confidenceFromContext(contexts)
	return result
}

// buildAgentMessages assembles the agent's system prompt, retrieved evidence,
// and the user query into a chat request.
func buildAgentMessages(p agent.Profile, query string, contexts []domknow.RetrievedContext) []llm.Message {
	system := p.SystemPrompt
	if system == "" {
		system = fmt.Sprintf("You are %s, a healthcare consultation specialist.", p.DisplayName)
	}

	if len(contexts) > 0 {
		var b strings.Builder
		b.WriteString("\n\nRelevant reference material:\n")
		for _, c := range contexts {
			fmt.Fprintf(&b, "- [%s] %s: %s\n", c.SourceID, c.Title, c.Text)
		}
		b.WriteString("Cite sources by their id when you rely on them.")
		system += b.String()
	}

	return []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: query},
	}
}

// confidenceFromContext is a simple prior: answers grounded in retrieved
// evidence score higher than unsupported ones.
func confidenceFromContext(contexts []domknow.RetrievedContext) float64 {
	switch {
	case len(contexts) >= 3:
		return 0.9
	case len(contexts) > 0:
		return 0.75
	default:
		return 0.6
	}
}
