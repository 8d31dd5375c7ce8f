// Package intent defines query intent classification for consultations.
package intent

// Complexity estimates how demanding a query is to answer well.
type Complexity string

const (
	ComplexityLow      Complexity = "low"
	ComplexityMedium   Complexity = "medium"
	ComplexityHigh     Complexity = "high"
	ComplexityVeryHigh Complexity = "very_high"
)

// DomainGeneral is the fallback domain for queries that match no rule.
const DomainGeneral = "general"

// DomainScore pairs a domain tag with its accumulated match score.
type DomainScore struct {
	Domain string  `json:"domain"`
	Score  float64 `json:"score"`
}

// Result is the immutable outcome of classifying one query.
// Produced fresh per query; never mutated.
type Result struct {
	PrimaryDomain          string        `json:"primary_domain"`
	Domains                []DomainScore `json:"domains"` // ordered by score descending
	Confidence             int           `json:"confidence"` // 0-100
	Complexity             Complexity    `json:"complexity"`
	RequiresMultipleAgents bool          `json:"requires_multiple_agents"`
	Keywords               []string      `json:"keywords"` // matched terms, deduplicated
}

// IsFallback reports whether the result is the low-confidence general fallback.
func (r Result) IsFallback() bool {
	return r.PrimaryDomain == DomainGeneral && r.Confidence <= fallbackConfidence
}
