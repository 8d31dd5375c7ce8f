// Package consult defines execution results and synthesis outcomes for a
// single multi-agent consultation.
package consult

// TokenUsage holds token counts and dollar cost for one model invocation.
type TokenUsage struct {
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

// Add returns the element-wise sum of two usages.
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		CostUSD:          u.CostUSD + other.CostUSD,
	}
}

// Status is the terminal state of one agent invocation.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusTimeout Status = "timeout"
)

// AgentResult is one agent's answer to a consultation. Immutable once
// produced; aggregated, never mutated, by the synthesis step.
type AgentResult struct {
	AgentID    string     `json:"agent_id"`
	AgentName  string     `json:"agent_name"`
	Content    string     `json:"content"`
	Usage      TokenUsage `json:"usage"`
	Confidence float64    `json:"confidence"` // 0-1
	Status     Status     `json:"status"`
	Error      string     `json:"error,omitempty"`
	DurationMS int64      `json:"duration_ms"`
}

// Successes filters results to those with StatusSuccess.
func Successes(results []AgentResult) []AgentResult {
	var out []AgentResult
	for _, r := range results {
		if r.Status == StatusSuccess {
			out = append(out, r)
		}
	}
	return out
}

// TotalUsage sums token usage across successful results only. Failed and
// timed-out invocations are never charged.
func TotalUsage(results []AgentResult) TokenUsage {
	var total TokenUsage
	for _, r := range results {
		if r.Status == StatusSuccess {
			total = total.Add(r.Usage)
		}
	}
	return total
}

// Synthesized is the consensus answer combined from multiple agent results.
type Synthesized struct {
	Content        string     `json:"content"`
	Confidence     float64    `json:"confidence"`      // mean of constituent confidences
	AgreementScore float64    `json:"agreement_score"` // 0-1 consensus heuristic
	LowConsensus   bool       `json:"low_consensus"`
	Fallback       bool       `json:"fallback"` // true when synthesis degraded to concatenation
	Usage          TokenUsage `json:"usage"`    // cost of the synthesis call itself
	SourceAgents   []string   `json:"source_agents"`
}
