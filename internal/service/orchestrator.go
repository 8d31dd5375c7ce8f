package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/consilium-health/consilium/internal/domain/consult"
	"github.com/consilium-health/consilium/internal/domain/conversation"
	"github.com/consilium-health/consilium/internal/domain/event"
	"github.com/consilium-health/consilium/internal/domain/intent"
	"github.com/consilium-health/consilium/internal/domain/mission"
	"github.com/consilium-health/consilium/internal/domain/mode"
	"github.com/consilium-health/consilium/internal/port/database"
	"github.com/consilium-health/consilium/internal/stream"
)

// tokenChunkSize is how much synthesized text goes into one token event.
const tokenChunkSize = 400

// ConsultRequest is one interactive consultation.
type ConsultRequest struct {
	ConversationID string    `json:"conversation_id,omitempty"`
	Query          string    `json:"query"`
	Mode           mode.Mode `json:"mode"`
	MaxAgents      int       `json:"max_agents,omitempty"`
}

// ConsultResult is the terminal outcome of a consultation.
type ConsultResult struct {
	ConversationID string                `json:"conversation_id"`
	Intent         intent.Result         `json:"intent"`
	Results        []consult.AgentResult `json:"results"`
	Synthesized    *consult.Synthesized  `json:"synthesized"`
}

// Orchestrator drives the interactive consultation pipeline: classify,
// select, retrieve, execute, synthesize. Autonomous missions are owned by
// MissionService; the orchestrator handles the streaming modes.
type Orchestrator struct {
	classifier *intent.Classifier
	selector   *SelectorService
	retrieval  *RetrievalService
	executor   *ExecutorService
	synthesis  *SynthesisService
	directory  *DirectoryService
	cost       *CostService
	store      database.Store
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(
	classifier *intent.Classifier,
	selector *SelectorService,
	retrieval *RetrievalService,
	executor *ExecutorService,
	synthesis *SynthesisService,
	directory *DirectoryService,
	cost *CostService,
	store database.Store,
) *Orchestrator {
	return &Orchestrator{
		classifier: classifier,
		selector:   selector,
		retrieval:  retrieval,
		executor:   executor,
		synthesis:  synthesis,
		directory:  directory,
		cost:       cost,
		store:      store,
	}
}

// Consult runs one consultation end to end, publishing progress to sess.
// The terminal event is always done or error; sess stays open for the caller
// to close after draining.
func (o *Orchestrator) Consult(ctx context.Context, req ConsultRequest, sess *stream.Session) (*ConsultResult, error) {
	conv, err := o.ensureConversation(ctx, req.ConversationID, req.Query)
	if err != nil {
		sess.Publish(event.TypeError, event.ErrorPayload{Code: "conversation", Message: err.Error()})
		return nil, err
	}

	o.appendTurn(ctx, conv.ID, conversation.RoleUser, req.Query, "", "", consult.TokenUsage{})

	res := o.classifier.Classify(req.Query)
	sess.Publish(event.TypeReasoning, event.ReasoningPayload{
		Text: fmt.Sprintf("Classified as %s (%d%% confidence, %s complexity)", res.PrimaryDomain, res.Confidence, res.Complexity),
	})

	maxAgents := req.MaxAgents
	if m := req.Mode.MaxAgents(); m > 0 && (maxAgents == 0 || m < maxAgents) {
		maxAgents = m
	}

	panel, err := o.selector.Select(ctx, res, conv, maxAgents)
	if err != nil {
		sess.Publish(event.TypeError, event.ErrorPayload{Code: "selection", Message: err.Error()})
		return nil, err
	}

	names := make([]string, len(panel))
	ids := make([]string, len(panel))
	for i, r := range panel {
		names[i] = r.Profile.DisplayName
		ids[i] = r.Profile.ID
	}
	sess.Publish(event.TypeReasoning, event.ReasoningPayload{
		Text: fmt.Sprintf("Consulting %d specialist(s): %v", len(panel), names),
	})

	contexts := o.retrieval.Gather(ctx, req.Query, ids)
	for _, c := range contexts {
		sess.Publish(event.TypeCitation, event.CitationPayload{
			Citation: mission.Citation{SourceID: c.SourceID, Title: c.Title},
		})
	}

	results, err := o.executor.Execute(ctx, req.Query, panel, contexts)
	if err != nil {
		sess.Publish(event.TypeError, event.ErrorPayload{Code: "execution", Message: err.Error()})
		return nil, err
	}

	var synth *consult.Synthesized
	if req.Mode.Streaming() {
		synth, err = o.synthesis.SynthesizeStream(ctx, req.Query, results, func(text string) {
			sess.Publish(event.TypeToken, event.TokenPayload{Text: text})
		})
	} else {
		synth, err = o.synthesis.Synthesize(ctx, req.Query, results)
	}
	if err != nil {
		sess.Publish(event.TypeError, event.ErrorPayload{Code: "synthesis", Message: err.Error()})
		return nil, err
	}

	o.settle(ctx, conv, res, results, synth)

	usage := consult.TotalUsage(results).Add(synth.Usage)
	sess.Publish(event.TypeCost, event.CostPayload{
		SpentUSD:  usage.CostUSD,
		TokensIn:  usage.PromptTokens,
		TokensOut: usage.CompletionTokens,
	})
	sess.Publish(event.TypeDone, donePayload(results, synth))

	return &ConsultResult{
		ConversationID: conv.ID,
		Intent:         res,
		Results:        results,
		Synthesized:    synth,
	}, nil
}

// ensureConversation loads the referenced conversation or starts a new one.
func (o *Orchestrator) ensureConversation(ctx context.Context, id, query string) (*conversation.Conversation, error) {
	if id != "" {
		conv, err := o.store.GetConversation(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load conversation: %w", err)
		}
		return conv, nil
	}

	conv := &conversation.Conversation{
		ID:    uuid.NewString(),
		Title: truncate(query, 120),
	}
	if err := o.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// settle persists the assistant turn, the cost ledger entries, and the
// usage counters. All best-effort: the answer is already produced.
func (o *Orchestrator) settle(ctx context.Context, conv *conversation.Conversation, res intent.Result, results []consult.AgentResult, synth *consult.Synthesized) {
	leadAgent := ""
	if len(synth.SourceAgents) > 0 {
		leadAgent = synth.SourceAgents[0]
	}

	usage := consult.TotalUsage(results).Add(synth.Usage)
	o.appendTurn(ctx, conv.ID, conversation.RoleAssistant, synth.Content, leadAgent, res.PrimaryDomain, usage)

	for _, r := range results {
		if r.Status != consult.StatusSuccess {
			continue
		}
		o.cost.Record(ctx, conv.ID, "", r.AgentID, modelForAgent(ctx, o.directory, r.AgentID), r.Usage)
		o.directory.RecordUsage(ctx, r.AgentID)
	}
	if synth.Usage.CostUSD > 0 || synth.Usage.CompletionTokens > 0 {
		o.cost.Record(ctx, conv.ID, "", "", o.synthesis.cfg.Model, synth.Usage)
	}
}

func (o *Orchestrator) appendTurn(ctx context.Context, convID string, role conversation.Role, content, agentID, domainTag string, usage consult.TokenUsage) {
	turn := &conversation.Turn{
		ID:             uuid.NewString(),
		ConversationID: convID,
		Role:           role,
		Content:        content,
		AgentID:        agentID,
		Domain:         domainTag,
		Usage:          usage,
		CreatedAt:      time.Now(),
	}
	if err := o.store.AppendTurn(ctx, turn); err != nil {
		slog.Error("append turn failed", "conversation_id", convID, "role", role, "error", err)
	}
}

func donePayload(results []consult.AgentResult, synth *consult.Synthesized) event.DonePayload {
	outcomes := make([]event.AgentOutcome, len(results))
	for i, r := range results {
		outcomes[i] = event.AgentOutcome{AgentID: r.AgentID, Status: r.Status, Error: r.Error}
	}
	return event.DonePayload{
		Content:        synth.Content,
		Confidence:     synth.Confidence,
		AgreementScore: synth.AgreementScore,
		AnsweredBy:     len(synth.SourceAgents),
		TotalAgents:    len(results),
		Agents:         outcomes,
	}
}

func modelForAgent(ctx context.Context, directory *DirectoryService, agentID string) string {
	p, err := directory.Get(ctx, agentID)
	if err != nil {
		return ""
	}
	return p.Model
}

func chunkText(s string, size int) []string {
	if s == "" {
		return nil
	}
	runes := []rune(s)
	var chunks []string
	for len(runes) > size {
		chunks = append(chunks, string(runes[:size]))
		runes = runes[size:]
	}
	return append(chunks, string(runes))
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
