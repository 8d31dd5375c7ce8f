package intent

import (
	"sort"
	"strings"
	"unicode"
)

const (
	phraseWeight  = 3.0
	keywordWeight = 1.0

	// fallbackConfidence is assigned when no rule matches at all.
	fallbackConfidence = 20
)

// Classifier scores free-text queries against a rule table.
// It is pure and synchronous; Classify never fails.
type Classifier struct {
	rules RuleSet
}

// NewClassifier creates a Classifier with the given rule table.
func NewClassifier(rules RuleSet) *Classifier {
	return &Classifier{rules: rules}
}

// Classify produces an IntentResult for the query. Empty or unparseable
// input degrades to a low-confidence general-domain result, never an error.
func (c *Classifier) Classify(text string) Result {
	lower := strings.ToLower(strings.TrimSpace(text))
	tokens := tokenize(lower)

	if len(tokens) == 0 {
		return fallbackResult()
	}

	tokenSet := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		tokenSet[t] = struct{}{}
	}

	var domains []DomainScore
	var keywords []string
	seen := make(map[string]struct{})

	for _, rule := range c.rules.Rules {
		score := 0.0
		for _, phrase := range rule.Phrases {
			if strings.Contains(lower, phrase) {
				score += phraseWeight
				keywords = appendTerm(keywords, seen, phrase)
			}
		}
		for _, kw := range rule.Keywords {
			if _, ok := tokenSet[kw]; ok {
				score += keywordWeight
				keywords = appendTerm(keywords, seen, kw)
			}
		}
		if score > 0 {
			domains = append(domains, DomainScore{Domain: rule.Domain, Score: score})
		}
	}

	if len(domains) == 0 {
		return fallbackResult()
	}

	// Deterministic ordering: score descending, then domain name.
	sort.Slice(domains, func(i, j int) bool {
		if domains[i].Score != domains[j].Score {
			return domains[i].Score > domains[j].Score
		}
		return domains[i].Domain < domains[j].Domain
	})

	complexity := c.estimateComplexity(lower, tokens, len(domains))

	return Result{
		PrimaryDomain:          domains[0].Domain,
		Domains:                domains,
		Confidence:             confidence(domains[0].Score, len(tokens)),
		Complexity:             complexity,
		RequiresMultipleAgents: c.requiresMultipleAgents(lower, domains, complexity),
		Keywords:               keywords,
	}
}

// confidence normalizes the leading domain score against an estimated
// maximum achievable score for a query of this length, clamped to [0,100].
func confidence(lead float64, tokenCount int) int {
	n := tokenCount
	if n > 8 {
		n = 8
	}
	estMax := phraseWeight + keywordWeight*float64(n)/4
	pct := int(lead / estMax * 100)
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}
	return pct
}

// estimateComplexity combines query length, domain spread, and cue words.
func (c *Classifier) estimateComplexity(lower string, tokens []string, domainCount int) Complexity {
	points := 0
	switch {
	case len(tokens) >= 40:
		points = 3
	case len(tokens) >= 20:
		points = 2
	case len(tokens) >= 8:
		points = 1
	}
	if domainCount > 2 {
		points++
	}
	for _, cue := range c.rules.ComplexityCues {
		if strings.Contains(lower, cue) {
			points++
			break
		}
	}

	switch {
	case points <= 0:
		return ComplexityLow
	case points == 1:
		return ComplexityMedium
	case points == 2:
		return ComplexityHigh
	default:
		return ComplexityVeryHigh
	}
}

// requiresMultipleAgents is set when the query spans more than two domains,
// reaches the highest complexity, contains coordination language, or hits
// a frequently co-occurring domain pair.
func (c *Classifier) requiresMultipleAgents(lower string, domains []DomainScore, complexity Complexity) bool {
	if len(domains) > 2 || complexity == ComplexityVeryHigh {
		return true
	}
	for _, phrase := range c.rules.Coordination {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	present := make(map[string]bool, len(domains))
	for _, d := range domains {
		present[d.Domain] = true
	}
	for _, pair := range c.rules.CoOccurring {
		if present[pair[0]] && present[pair[1]] {
			return true
		}
	}
	return false
}

func fallbackResult() Result {
	return Result{
		PrimaryDomain: DomainGeneral,
		Domains:       []DomainScore{{Domain: DomainGeneral, Score: 0}},
		Confidence:    fallbackConfidence,
		Complexity:    ComplexityLow,
	}
}

func appendTerm(terms []string, seen map[string]struct{}, term string) []string {
	if _, ok := seen[term]; ok {
		return terms
	}
	seen[term] = struct{}{}
	return append(terms, term)
}

// tokenize splits on any rune that is not a letter or digit.
func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
