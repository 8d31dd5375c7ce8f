// Package agent defines selectable consultation agents and their ranking.
package agent

import "time"

// Tier is the seniority ordinal of an agent: 1 is the most senior.
type Tier int

const (
	TierPrincipal  Tier = 1
	TierSenior     Tier = 2
	TierSpecialist Tier = 3
	TierAssociate  Tier = 4
)

// Profile is a read-only snapshot of a selectable agent.
// Owned by the directory; selectors only read it.
type Profile struct {
	ID           string    `json:"id"`
	DisplayName  string    `json:"display_name"`
	Tier         Tier      `json:"tier"`
	DomainTags   []string  `json:"domain_tags"`
	Capabilities []string  `json:"capabilities"`
	Available    bool      `json:"available"`
	UsageCount   int64     `json:"usage_count"` // popularity signal, maintained by the store
	Model        string    `json:"model"`       // invocation profile for the LLM provider
	SystemPrompt string    `json:"system_prompt,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HasTag reports whether the profile carries the given domain tag.
func (p *Profile) HasTag(tag string) bool {
	for _, t := range p.DomainTags {
		if t == tag {
			return true
		}
	}
	return false
}

// Ranked pairs a profile with its selection score. Created per selection
// call and discarded after use; never persisted.
type Ranked struct {
	Profile         Profile  `json:"profile"`
	Score           float64  `json:"score"`
	MatchedCriteria []string `json:"matched_criteria"`
}
