package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/consilium-health/consilium/internal/config"
	"github.com/consilium-health/consilium/internal/domain"
	"github.com/consilium-health/consilium/internal/domain/consult"
	"github.com/consilium-health/consilium/internal/port/llm"
)

func synthesisCfg() config.Synthesis {
	return config.Synthesis{
		Model:                 testSynthModel,
		Timeout:               time.Second,
		LowConsensusThreshold: 0.4,
	}
}

func success(id, name, content string, confidence float64) consult.AgentResult {
	return consult.AgentResult{
		AgentID:    id,
		AgentName:  name,
		Content:    content,
		Confidence: confidence,
		Status:     consult.StatusSuccess,
	}
}

func TestSynthesize_SinglePassthrough(t *testing.T) {
	f := &fakeInvoker{}
	f.invoke = func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		t.Fatal("single success must not call the model")
		return nil, nil
	}
	cfg := synthesisCfg()
	svc := NewSynthesisService(f, &cfg)

	results := []consult.AgentResult{
		success("a", "A", "the one answer", 0.8),
		{AgentID: "b", Status: consult.StatusFailed, Error: "down"},
	}
	out, err := svc.Synthesize(context.Background(), "q", results)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if out.Content != "the one answer" {
		t.Fatalf("content = %q, want passthrough", out.Content)
	}
	if out.AgreementScore != 1.0 {
		t.Fatalf("agreement = %f, want 1.0 for a lone answer", out.AgreementScore)
	}
	if out.Confidence != 0.8 {
		t.Fatalf("confidence = %f, want the lone agent's 0.8", out.Confidence)
	}
	if len(out.SourceAgents) != 1 || out.SourceAgents[0] != "a" {
		t.Fatalf("source agents = %v, want [a]", out.SourceAgents)
	}
}

func TestSynthesize_ZeroSuccesses(t *testing.T) {
	cfg := synthesisCfg()
	svc := NewSynthesisService(&fakeInvoker{}, &cfg)

	_, err := svc.Synthesize(context.Background(), "q", []consult.AgentResult{
		{AgentID: "a", Status: consult.StatusFailed},
	})
	if !errors.Is(err, domain.ErrNoAgentsAvailable) {
		t.Fatalf("err = %v, want ErrNoAgentsAvailable", err)
	}
}

func TestSynthesize_MergesMultipleAnswers(t *testing.T) {
	f := &fakeInvoker{}
	f.invoke = func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		return &llm.Response{
			Content: "merged consensus",
			Usage:   consult.TokenUsage{CompletionTokens: 30, CostUSD: 0.005},
		}, nil
	}
	cfg := synthesisCfg()
	svc := NewSynthesisService(f, &cfg)

	results := []consult.AgentResult{
		success("a", "A", "regulatory pathway requires clearance submission review", 0.8),
		success("b", "B", "regulatory pathway requires clearance submission review", 0.6),
	}
	out, err := svc.Synthesize(context.Background(), "q", results)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if out.Content != "merged consensus" || out.Fallback {
		t.Fatalf("out = %+v, want the model's merge", out)
	}
	if out.Usage.CostUSD != 0.005 {
		t.Fatalf("usage = %+v, want the synthesis call billed", out.Usage)
	}
	if out.Confidence != 0.7 {
		t.Fatalf("confidence = %f, want mean 0.7", out.Confidence)
	}
	if out.LowConsensus {
		t.Fatal("identical answers flagged as low consensus")
	}
}

func TestSynthesize_FallsBackToConcatenation(t *testing.T) {
	f := &fakeInvoker{}
	f.invoke = func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		return nil, fmt.Errorf("synthesis model down")
	}
	cfg := synthesisCfg()
	svc := NewSynthesisService(f, &cfg)

	results := []consult.AgentResult{
		success("a", "Regulatory Lead", "answer one", 0.8),
		success("b", "Clinical Advisor", "answer two", 0.6),
	}
	out, err := svc.Synthesize(context.Background(), "q", results)
	if err != nil {
		t.Fatalf("Synthesize: %v (model failure must degrade, not fail)", err)
	}
	if !out.Fallback {
		t.Fatal("Fallback not set on degraded merge")
	}
	for _, want := range []string{"## Regulatory Lead", "answer one", "## Clinical Advisor", "answer two"} {
		if !strings.Contains(out.Content, want) {
			t.Fatalf("concatenation missing %q:\n%s", want, out.Content)
		}
	}
}

func TestSynthesizeStream_EmitsModelDeltas(t *testing.T) {
	f := &fakeInvoker{}
	f.invoke = func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		t.Fatal("streaming synthesis must use the stream API")
		return nil, nil
	}
	f.invokeStream = func(ctx context.Context, req llm.Request, emit func(llm.Chunk)) (*llm.Response, error) {
		emit(llm.Chunk{Text: "merged "})
		emit(llm.Chunk{Text: "consensus"})
		emit(llm.Chunk{Done: true, Usage: consult.TokenUsage{CompletionTokens: 30, CostUSD: 0.005}})
		return &llm.Response{
			Content: "merged consensus",
			Usage:   consult.TokenUsage{CompletionTokens: 30, CostUSD: 0.005},
		}, nil
	}
	cfg := synthesisCfg()
	svc := NewSynthesisService(f, &cfg)

	var emitted []string
	results := []consult.AgentResult{
		success("a", "A", "regulatory pathway requires clearance submission review", 0.8),
		success("b", "B", "regulatory pathway requires clearance submission review", 0.6),
	}
	out, err := svc.SynthesizeStream(context.Background(), "q", results, func(text string) {
		emitted = append(emitted, text)
	})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	if len(emitted) != 2 || emitted[0] != "merged " || emitted[1] != "consensus" {
		t.Fatalf("emitted = %v, want the model's deltas in order", emitted)
	}
	if out.Content != "merged consensus" || out.Fallback {
		t.Fatalf("out = %+v, want the streamed merge", out)
	}
	if out.Usage.CostUSD != 0.005 {
		t.Fatalf("usage = %+v, want the synthesis call billed", out.Usage)
	}
	if f.streamCallCount() != 1 {
		t.Fatalf("stream calls = %d, want 1", f.streamCallCount())
	}
}

func TestSynthesizeStream_FallbackEmitsConcatenation(t *testing.T) {
	f := &fakeInvoker{}
	f.invokeStream = func(ctx context.Context, req llm.Request, emit func(llm.Chunk)) (*llm.Response, error) {
		return nil, fmt.Errorf("synthesis model down")
	}
	cfg := synthesisCfg()
	svc := NewSynthesisService(f, &cfg)

	var emitted strings.Builder
	results := []consult.AgentResult{
		success("a", "Regulatory Lead", "answer one", 0.8),
		success("b", "Clinical Advisor", "answer two", 0.6),
	}
	out, err := svc.SynthesizeStream(context.Background(), "q", results, func(text string) {
		emitted.WriteString(text)
	})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v (model failure must degrade, not fail)", err)
	}
	if !out.Fallback {
		t.Fatal("Fallback not set on degraded merge")
	}
	if emitted.String() != out.Content {
		t.Fatalf("emitted %q, want the full concatenation %q", emitted.String(), out.Content)
	}
}

func TestSynthesizeStream_SinglePassthroughEmits(t *testing.T) {
	f := &fakeInvoker{}
	cfg := synthesisCfg()
	svc := NewSynthesisService(f, &cfg)

	var emitted strings.Builder
	out, err := svc.SynthesizeStream(context.Background(), "q", []consult.AgentResult{
		success("a", "A", "the one answer", 0.8),
	}, func(text string) {
		emitted.WriteString(text)
	})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	if emitted.String() != "the one answer" {
		t.Fatalf("emitted %q, want the lone answer", emitted.String())
	}
	if f.streamCallCount() != 0 {
		t.Fatal("lone answer must not call the model")
	}
	if out.AgreementScore != 1.0 {
		t.Fatalf("agreement = %f, want 1.0", out.AgreementScore)
	}
}

func TestSynthesize_FlagsLowConsensus(t *testing.T) {
	f := &fakeInvoker{}
	f.invoke = func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		return &llm.Response{Content: "merged"}, nil
	}
	cfg := synthesisCfg()
	cfg.LowConsensusThreshold = 0.9
	svc := NewSynthesisService(f, &cfg)

	results := []consult.AgentResult{
		success("a", "A", "pursue the 510k predicate comparison immediately", 0.8),
		success("b", "B", "clinical evidence gathering should dominate year one", 0.6),
	}
	out, err := svc.Synthesize(context.Background(), "q", results)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !out.LowConsensus {
		t.Fatalf("divergent answers not flagged, agreement = %f", out.AgreementScore)
	}

	// The merge prompt must surface the disagreement.
	f.mu.Lock()
	prompt := f.calls[0].Messages[1].Content
	f.mu.Unlock()
	if !strings.Contains(prompt, "disagree") {
		t.Fatalf("merge prompt does not mention the disagreement:\n%s", prompt)
	}
}

func TestAgreementScore_Bounds(t *testing.T) {
	same := []consult.AgentResult{
		success("a", "A", "identical wording here", 1),
		success("b", "B", "identical wording here", 1),
	}
	if got := agreementScore(same); got != 1.0 {
		t.Fatalf("identical agreement = %f, want 1.0", got)
	}

	disjoint := []consult.AgentResult{
		success("a", "A", "alpha bravo charlie", 1),
		success("b", "B", "delta echo foxtrot", 1),
	}
	if got := agreementScore(disjoint); got != 0.0 {
		t.Fatalf("disjoint agreement = %f, want 0.0", got)
	}
}
