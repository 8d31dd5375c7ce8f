package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/consilium-health/consilium/internal/config"
	"github.com/consilium-health/consilium/internal/domain"
	"github.com/consilium-health/consilium/internal/domain/agent"
	"github.com/consilium-health/consilium/internal/domain/consult"
	"github.com/consilium-health/consilium/internal/domain/conversation"
	"github.com/consilium-health/consilium/internal/domain/event"
	"github.com/consilium-health/consilium/internal/domain/intent"
	domknow "github.com/consilium-health/consilium/internal/domain/knowledge"
	"github.com/consilium-health/consilium/internal/domain/mode"
	"github.com/consilium-health/consilium/internal/port/llm"
	"github.com/consilium-health/consilium/internal/stream"
)

type consultHarness struct {
	orch    *Orchestrator
	store   *fakeStore
	invoker *fakeInvoker
}

func newConsultHarness(t *testing.T, invoker *fakeInvoker, retriever *fakeRetriever) *consultHarness {
	t.Helper()

	cfg := config.Defaults()
	cfg.Synthesis.Model = testSynthModel
	cfg.Synthesis.Timeout = time.Second
	cfg.Executor.AgentTimeout = time.Second
	cfg.Retrieval.Timeout = time.Second

	store := newFakeStore(
		testProfile("reg-1", "Regulatory Lead", agent.TierSenior, "regulatory"),
		testProfile("clin-1", "Clinical Advisor", agent.TierSenior, "clinical"),
	)
	if retriever == nil {
		retriever = &fakeRetriever{}
	}

	directory := NewDirectoryService(store, newFakeCache(), &cfg.Directory)
	orch := NewOrchestrator(
		intent.NewClassifier(intent.DefaultRules()),
		NewSelectorService(directory, &cfg.Selector),
		NewRetrievalService(retriever, &cfg.Retrieval),
		NewExecutorService(invoker, &cfg.Executor),
		NewSynthesisService(invoker, &cfg.Synthesis),
		directory,
		NewCostService(store),
		store,
	)
	return &consultHarness{orch: orch, store: store, invoker: invoker}
}

// drain closes the session and collects everything published to it.
func drain(sess *stream.Session) []event.Event {
	sess.Close()
	var out []event.Event
	for ev := range sess.Events() {
		out = append(out, ev)
	}
	return out
}

func eventTypes(events []event.Event) map[event.Type]int {
	counts := make(map[event.Type]int)
	for _, ev := range events {
		counts[ev.Type]++
	}
	return counts
}

func TestConsult_SingleAgentHappyPath(t *testing.T) {
	f := scriptedInvoker(twoStepPlan, 0.01)
	h := newConsultHarness(t, f, &fakeRetriever{hits: map[string][]domknow.RetrievedContext{
		"reg-1": {{AgentID: "reg-1", SourceID: "mdr-1", Title: "MDR Guidance", RelevanceScore: 0.8, Text: "..."}},
	}})

	sess := stream.New("", 256)
	res, err := h.orch.Consult(context.Background(), ConsultRequest{
		Query: "What is the FDA regulatory pathway for our device clearance?",
		Mode:  mode.QuickConsensus,
	}, sess)
	if err != nil {
		t.Fatalf("Consult: %v", err)
	}

	if res.Intent.PrimaryDomain != "regulatory" {
		t.Fatalf("primary domain = %s, want regulatory", res.Intent.PrimaryDomain)
	}
	if len(res.Results) != 1 || res.Results[0].AgentID != "reg-1" {
		t.Fatalf("results = %+v, want the single regulatory agent", res.Results)
	}
	if res.Synthesized.Content != "specialist answer" {
		t.Fatalf("content = %q, want lone-agent passthrough", res.Synthesized.Content)
	}

	events := drain(sess)
	counts := eventTypes(events)
	if counts[event.TypeReasoning] < 2 {
		t.Fatalf("reasoning events = %d, want classification and selection narration", counts[event.TypeReasoning])
	}
	if counts[event.TypeCitation] != 1 {
		t.Fatalf("citation events = %d, want 1", counts[event.TypeCitation])
	}
	if counts[event.TypeToken] == 0 {
		t.Fatal("no token events in a streaming mode")
	}
	if counts[event.TypeDone] != 1 {
		t.Fatalf("done events = %d, want exactly 1", counts[event.TypeDone])
	}
	if events[len(events)-1].Type != event.TypeDone {
		t.Fatalf("terminal event = %s, want done", events[len(events)-1].Type)
	}

	// The conversation now exists with both turns recorded.
	conv, err := h.store.GetConversation(context.Background(), res.ConversationID)
	if err != nil {
		t.Fatalf("conversation not created: %v", err)
	}
	if conv.TurnCount != 1 {
		t.Fatalf("turn count = %d, want 1 assistant turn", conv.TurnCount)
	}
	if conv.LastAgentID != "reg-1" || conv.LastDomain != "regulatory" {
		t.Fatalf("continuity fields = %s/%s, want reg-1/regulatory", conv.LastAgentID, conv.LastDomain)
	}

	// Agent call and usage are in the ledger.
	if entries := h.store.costEntries(); len(entries) == 0 {
		t.Fatal("no cost entries recorded")
	}
}

func TestConsult_DegradesWhenOneAgentFails(t *testing.T) {
	f := &fakeInvoker{}
	f.invoke = func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		if req.Model == "broken/model" {
			return nil, fmt.Errorf("agent crashed")
		}
		return &llm.Response{Content: "surviving answer", Usage: consult.TokenUsage{CostUSD: 0.01}}, nil
	}
	h := newConsultHarness(t, f, nil)

	// Break the clinical agent's model.
	h.store.mu.Lock()
	h.store.agents[1].Model = "broken/model"
	h.store.mu.Unlock()

	sess := stream.New("", 256)
	res, err := h.orch.Consult(context.Background(), ConsultRequest{
		Query: "Plan the regulatory submission and the clinical trial endpoint strategy together",
		Mode:  mode.QuickConsensus,
	}, sess)
	if err != nil {
		t.Fatalf("Consult: %v (one failure must degrade, not fail)", err)
	}

	if len(res.Results) != 2 {
		t.Fatalf("results = %d, want both agents consulted", len(res.Results))
	}
	if res.Synthesized.Content != "surviving answer" {
		t.Fatalf("content = %q, want the survivor's answer", res.Synthesized.Content)
	}

	events := drain(sess)
	var done event.DonePayload
	for _, ev := range events {
		if ev.Type == event.TypeDone {
			if err := ev.DecodePayload(&done); err != nil {
				t.Fatalf("decode done: %v", err)
			}
		}
	}
	if done.TotalAgents != 2 || done.AnsweredBy != 1 {
		t.Fatalf("done = %+v, want 1 of 2 answered", done)
	}
	failed := 0
	for _, a := range done.Agents {
		if a.Status != consult.StatusSuccess {
			failed++
			if a.Error == "" {
				t.Fatal("failed agent outcome missing error text")
			}
		}
	}
	if failed != 1 {
		t.Fatalf("failed outcomes = %d, want 1", failed)
	}
}

func TestConsult_StreamsSynthesisIncrementally(t *testing.T) {
	f := &fakeInvoker{}
	f.invoke = func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		return &llm.Response{Content: "specialist answer for " + req.Model, Usage: consult.TokenUsage{CostUSD: 0.01}}, nil
	}
	f.invokeStream = func(ctx context.Context, req llm.Request, emit func(llm.Chunk)) (*llm.Response, error) {
		emit(llm.Chunk{Text: "first delta"})
		emit(llm.Chunk{Text: "second delta"})
		emit(llm.Chunk{Done: true})
		return &llm.Response{Content: "first deltasecond delta"}, nil
	}
	h := newConsultHarness(t, f, nil)

	// Distinct agent models so both answers differ and the merge call runs.
	h.store.mu.Lock()
	h.store.agents[0].Model = "test/agent-a"
	h.store.agents[1].Model = "test/agent-b"
	h.store.mu.Unlock()

	sess := stream.New("", 256)
	res, err := h.orch.Consult(context.Background(), ConsultRequest{
		Query: "Plan the regulatory submission and the clinical trial endpoint strategy together",
		Mode:  mode.QuickConsensus,
	}, sess)
	if err != nil {
		t.Fatalf("Consult: %v", err)
	}
	if res.Synthesized.Content != "first deltasecond delta" {
		t.Fatalf("content = %q, want the streamed merge", res.Synthesized.Content)
	}
	if f.streamCallCount() != 1 {
		t.Fatalf("stream calls = %d, want the synthesis call streamed", f.streamCallCount())
	}

	// Token events carry each delta as it arrived, not one post-hoc blob.
	var tokens []string
	for _, ev := range drain(sess) {
		if ev.Type != event.TypeToken {
			continue
		}
		var tp event.TokenPayload
		if err := ev.DecodePayload(&tp); err != nil {
			t.Fatalf("decode token payload: %v", err)
		}
		tokens = append(tokens, tp.Text)
	}
	if len(tokens) != 2 || tokens[0] != "first delta" || tokens[1] != "second delta" {
		t.Fatalf("token events = %v, want the two deltas in order", tokens)
	}
}

func TestConsult_AllAgentsFailed(t *testing.T) {
	f := &fakeInvoker{}
	f.invoke = func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		return nil, fmt.Errorf("provider down")
	}
	h := newConsultHarness(t, f, nil)

	sess := stream.New("", 256)
	_, err := h.orch.Consult(context.Background(), ConsultRequest{
		Query: "What is the FDA regulatory pathway for our device clearance?",
		Mode:  mode.QuickConsensus,
	}, sess)
	if !errors.Is(err, domain.ErrNoAgentsAvailable) {
		t.Fatalf("err = %v, want ErrNoAgentsAvailable", err)
	}

	events := drain(sess)
	last := events[len(events)-1]
	if last.Type != event.TypeError {
		t.Fatalf("terminal event = %s, want error", last.Type)
	}
	var ep event.ErrorPayload
	if err := last.DecodePayload(&ep); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if ep.Code != "execution" {
		t.Fatalf("error code = %s, want execution", ep.Code)
	}
}

func TestConsult_UnknownConversationRejected(t *testing.T) {
	h := newConsultHarness(t, scriptedInvoker(twoStepPlan, 0.01), nil)

	sess := stream.New("", 256)
	_, err := h.orch.Consult(context.Background(), ConsultRequest{
		ConversationID: "no-such-conversation",
		Query:          "anything",
		Mode:           mode.QuickConsensus,
	}, sess)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestConsult_FollowUpKeepsAgent(t *testing.T) {
	h := newConsultHarness(t, scriptedInvoker(twoStepPlan, 0.01), nil)

	// An established conversation with a prior regulatory thread.
	conv := &conversation.Conversation{
		ID:          "c-est",
		Title:       "clearance thread",
		TurnCount:   3,
		LastAgentID: "reg-1",
		LastDomain:  "regulatory",
	}
	if err := h.store.CreateConversation(context.Background(), conv); err != nil {
		t.Fatalf("seed conversation: %v", err)
	}

	sess := stream.New("", 256)
	res, err := h.orch.Consult(context.Background(), ConsultRequest{
		ConversationID: "c-est",
		Query:          "And what about the submission requirements for the premarket approval?",
		Mode:           mode.QuickConsensus,
	}, sess)
	if err != nil {
		t.Fatalf("Consult: %v", err)
	}
	if len(res.Results) != 1 || res.Results[0].AgentID != "reg-1" {
		t.Fatalf("results = %+v, want continuity with reg-1", res.Results)
	}
}
