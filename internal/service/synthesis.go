package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/consilium-health/consilium/internal/config"
	"github.com/consilium-health/consilium/internal/domain"
	"github.com/consilium-health/consilium/internal/domain/consult"
	"github.com/consilium-health/consilium/internal/port/llm"
)

// SynthesisService merges the panel's answers into one consensus response.
// The merge itself is a model call; when that call fails the service
// degrades to attributed concatenation instead of failing the consultation.
type SynthesisService struct {
	invoker llm.Invoker
	cfg     *config.Synthesis
}

// NewSynthesisService creates a SynthesisService.
func NewSynthesisService(invoker llm.Invoker, cfg *config.Synthesis) *SynthesisService {
	return &SynthesisService{invoker: invoker, cfg: cfg}
}

// Synthesize combines successful results. A single success passes through
// untouched; zero successes is the caller's bug and returns an error.
func (s *SynthesisService) Synthesize(ctx context.Context, query string, results []consult.AgentResult) (*consult.Synthesized, error) {
	return s.synthesize(ctx, query, results, nil)
}

// SynthesizeStream is Synthesize with incremental delivery: merged text
// reaches emit as the model produces it. Paths with nothing to stream
// (single success, concatenation fallback) emit their result in fixed-size
// chunks so callers still observe token flow.
func (s *SynthesisService) SynthesizeStream(ctx context.Context, query string, results []consult.AgentResult, emit func(string)) (*consult.Synthesized, error) {
	return s.synthesize(ctx, query, results, emit)
}

func (s *SynthesisService) synthesize(ctx context.Context, query string, results []consult.AgentResult, emit func(string)) (*consult.Synthesized, error) {
	successes := consult.Successes(results)
	if len(successes) == 0 {
		return nil, fmt.Errorf("synthesize: %w", domain.ErrNoAgentsAvailable)
	}

	out := &consult.Synthesized{
		Confidence:   meanConfidence(successes),
		SourceAgents: agentIDs(successes),
	}

	if len(successes) == 1 {
		out.Content = successes[0].Content
		out.AgreementScore = 1.0
		emitChunked(emit, out.Content)
		return out, nil
	}

	out.AgreementScore = agreementScore(successes)
	out.LowConsensus = out.AgreementScore < s.cfg.LowConsensusThreshold

	sctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	req := llm.Request{
		Model:    s.cfg.Model,
		Messages: buildSynthesisMessages(query, successes, out.LowConsensus),
	}

	var resp *llm.Response
	var err error
	if emit == nil {
		resp, err = s.invoker.Invoke(sctx, req)
	} else {
		resp, err = s.invoker.InvokeStream(sctx, req, func(c llm.Chunk) {
			if c.Text != "" {
				emit(c.Text)
			}
		})
	}
	if err != nil {
		slog.Warn("synthesis call failed, falling back to concatenation", "error", err)
		out.Content = concatenate(successes)
		out.Fallback = true
		emitChunked(emit, out.Content)
		return out, nil
	}

	out.Content = resp.Content
	out.Usage = resp.Usage
	return out, nil
}

// emitChunked delivers already-complete text in fixed-size pieces. No-op
// when emit is nil.
func emitChunked(emit func(string), text string) {
	if emit == nil {
		return
	}
	for _, chunk := range chunkText(text, tokenChunkSize) {
		emit(chunk)
	}
}

func buildSynthesisMessages(query string, successes []consult.AgentResult, lowConsensus bool) []llm.Message {
	var b strings.Builder
	b.WriteString("Multiple healthcare specialists answered the same question. ")
	b.WriteString("Write one consolidated answer that preserves every substantive point and attributes domain-specific claims to the responsible specialist.")
	if lowConsensus {
		b.WriteString(" The specialists disagree; present the disagreement explicitly instead of papering over it.")
	}
	b.WriteString("\n\nQuestion: ")
	b.WriteString(query)
	for _, r := range successes {
		fmt.Fprintf(&b, "\n\n--- %s ---\n%s", r.AgentName, r.Content)
	}

	return []llm.Message{
		{Role: "system", Content: "You merge expert consultations into a single clear answer."},
		{Role: "user", Content: b.String()},
	}
}

// concatenate is the degraded merge: every answer, clearly attributed.
func concatenate(successes []consult.AgentResult) string {
	var b strings.Builder
	for i, r := range successes {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "## %s\n\n%s", r.AgentName, r.Content)
	}
	return b.String()
}

// agreementScore is the mean pairwise Jaccard similarity over answer token
// sets. Cheap, deterministic, and good enough to flag divergent panels.
func agreementScore(successes []consult.AgentResult) float64 {
	sets := make([]map[string]struct{}, len(successes))
	for i, r := range successes {
		sets[i] = tokenSet(r.Content)
	}

	var total float64
	pairs := 0
	for i := range sets {
		for j := i + 1; j < len(sets); j++ {
			total += jaccard(sets[i], sets[j])
			pairs++
		}
	}
	if pairs == 0 {
		return 1.0
	}
	return total / float64(pairs)
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 1.0
	}
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(t) > 2 { // skip stopword-sized tokens
			set[t] = struct{}{}
		}
	}
	return set
}

func meanConfidence(successes []consult.AgentResult) float64 {
	var total float64
	for _, r := range successes {
		total += r.Confidence
	}
	return total / float64(len(successes))
}

func agentIDs(successes []consult.AgentResult) []string {
	ids := make([]string, len(successes))
	for i, r := range successes {
		ids[i] = r.AgentID
	}
	return ids
}
