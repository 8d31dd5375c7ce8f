// Package knowledge defines retrieved supporting context for consultations.
package knowledge

import "sort"

// RetrievedContext is one piece of supporting evidence fetched for an agent.
type RetrievedContext struct {
	AgentID        string  `json:"agent_id"`
	SourceID       string  `json:"source_id"`
	Title          string  `json:"title,omitempty"`
	Text           string  `json:"text"`
	RelevanceScore float64 `json:"relevance_score"` // 0-1
}

// Dedupe removes entries sharing a SourceID so identical evidence is not
// counted twice across agents. The highest-relevance copy wins; output is
// ordered by relevance descending, ties broken by SourceID.
func Dedupe(contexts []RetrievedContext) []RetrievedContext {
	best := make(map[string]RetrievedContext, len(contexts))
	for _, c := range contexts {
		cur, ok := best[c.SourceID]
		if !ok || c.RelevanceScore > cur.RelevanceScore {
			best[c.SourceID] = c
		}
	}

	out := make([]RetrievedContext, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RelevanceScore != out[j].RelevanceScore {
			return out[i].RelevanceScore > out[j].RelevanceScore
		}
		return out[i].SourceID < out[j].SourceID
	})
	return out
}

// FilterFloor drops entries whose relevance is below the threshold.
func FilterFloor(contexts []RetrievedContext, floor float64) []RetrievedContext {
	var out []RetrievedContext
	for _, c := range contexts {
		if c.RelevanceScore >= floor {
			out = append(out, c)
		}
	}
	return out
}
