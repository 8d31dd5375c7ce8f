package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/consilium-health/consilium/internal/config"
	"github.com/consilium-health/consilium/internal/domain"
	"github.com/consilium-health/consilium/internal/domain/agent"
	"github.com/consilium-health/consilium/internal/domain/conversation"
	"github.com/consilium-health/consilium/internal/domain/intent"
)

// SelectorService ranks the agent directory against a classified query and
// picks the consultation panel. Scoring weights are configuration, not code.
type SelectorService struct {
	directory *DirectoryService
	cfg       *config.Selector
}

// NewSelectorService creates a SelectorService.
func NewSelectorService(directory *DirectoryService, cfg *config.Selector) *SelectorService {
	return &SelectorService{directory: directory, cfg: cfg}
}

// Select returns the ranked panel for the query, best first. maxAgents
// overrides the configured cap when positive. conv may be nil.
// Returns domain.ErrNoAgentsAvailable when no available agent exists.
func (s *SelectorService) Select(ctx context.Context, res intent.Result, conv *conversation.Conversation, maxAgents int) ([]agent.Ranked, error) {
	profiles, err := s.directory.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("select agents: %w", err)
	}

	available := make([]agent.Profile, 0, len(profiles))
	for _, p := range profiles {
		if p.Available {
			available = append(available, p)
		}
	}
	if len(available) == 0 {
		return nil, fmt.Errorf("select agents: %w", domain.ErrNoAgentsAvailable)
	}

	if picked, ok := s.continuityPick(res, conv, available); ok {
		return []agent.Ranked{picked}, nil
	}

	ranked := s.rank(res, available)

	limit := s.cfg.MaxAgents
	if maxAgents > 0 {
		limit = maxAgents
	}
	if !res.RequiresMultipleAgents && limit > 1 {
		limit = 1
	}
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

// SelectPanel ranks agents for one mission step: no continuity, no
// single-agent reduction. preferTier narrows the pool to agents at least
// that senior when any exist; size caps the panel.
func (s *SelectorService) SelectPanel(ctx context.Context, res intent.Result, preferTier agent.Tier, size int) ([]agent.Ranked, error) {
	profiles, err := s.directory.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("select panel: %w", err)
	}

	available := make([]agent.Profile, 0, len(profiles))
	for _, p := range profiles {
		if p.Available {
			available = append(available, p)
		}
	}
	if len(available) == 0 {
		return nil, fmt.Errorf("select panel: %w", domain.ErrNoAgentsAvailable)
	}

	if preferTier > 0 {
		tiered := make([]agent.Profile, 0, len(available))
		for _, p := range available {
			if p.Tier <= preferTier {
				tiered = append(tiered, p)
			}
		}
		if len(tiered) > 0 {
			available = tiered
		}
	}

	ranked := s.rank(res, available)
	if size > 0 && len(ranked) > size {
		ranked = ranked[:size]
	}
	return ranked, nil
}

// continuityPick reuses the prior agent for a follow-up in the same domain.
// It never fires on a domain shift or when the prior agent went away.
func (s *SelectorService) continuityPick(res intent.Result, conv *conversation.Conversation, available []agent.Profile) (agent.Ranked, bool) {
	if !s.cfg.ContinuityEnabled || !conv.IsFollowUpCandidate(s.cfg.ContinuityMinTurns) {
		return agent.Ranked{}, false
	}
	if res.RequiresMultipleAgents {
		return agent.Ranked{}, false
	}
	if !res.IsFallback() && conv.LastDomain != "" && conv.LastDomain != res.PrimaryDomain {
		return agent.Ranked{}, false // domain shift: re-rank from scratch
	}

	for _, p := range available {
		if p.ID == conv.LastAgentID {
			slog.Debug("continuity selection", "agent_id", p.ID, "conversation_id", conv.ID)
			return agent.Ranked{
				Profile:         p,
				Score:           s.cfg.ContinuityConfidence,
				MatchedCriteria: []string{"continuity"},
			}, true
		}
	}
	return agent.Ranked{}, false
}

// rank scores every available agent. Deterministic: ties break by tier
// (senior first), then id.
func (s *SelectorService) rank(res intent.Result, available []agent.Profile) []agent.Ranked {
	maxUsage := int64(0)
	for _, p := range available {
		if p.UsageCount > maxUsage {
			maxUsage = p.UsageCount
		}
	}

	ranked := make([]agent.Ranked, 0, len(available))
	for _, p := range available {
		r := agent.Ranked{Profile: p}

		if !res.IsFallback() {
			if p.HasTag(res.PrimaryDomain) {
				r.Score += s.cfg.DomainWeight
				r.MatchedCriteria = append(r.MatchedCriteria, "primary_domain")
			} else if overlapsSecondary(&p, res.Domains) {
				r.Score += s.cfg.DomainWeight / 2
				r.MatchedCriteria = append(r.MatchedCriteria, "secondary_domain")
			}

			if overlap := tagOverlap(&p, res.Domains); overlap > 0 {
				r.Score += s.cfg.TagOverlapWeight * overlap
				r.MatchedCriteria = append(r.MatchedCriteria, "tag_overlap")
			}
		}

		r.Score += s.cfg.TierWeight * tierBoost(p.Tier)
		if maxUsage > 0 {
			r.Score += s.cfg.PopularityWeight * float64(p.UsageCount) / float64(maxUsage)
		}
		r.Score += s.cfg.AvailabilityWeight

		ranked = append(ranked, r)
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		if ranked[i].Profile.Tier != ranked[j].Profile.Tier {
			return ranked[i].Profile.Tier < ranked[j].Profile.Tier
		}
		return ranked[i].Profile.ID < ranked[j].Profile.ID
	})
	return ranked
}

// tierBoost maps tier 1..4 onto 1.0..0.25.
func tierBoost(t agent.Tier) float64 {
	if t < agent.TierPrincipal || t > agent.TierAssociate {
		return 0
	}
	return float64(5-int(t)) / 4
}

func overlapsSecondary(p *agent.Profile, domains []intent.DomainScore) bool {
	for _, d := range domains[1:] {
		if p.HasTag(d.Domain) {
			return true
		}
	}
	return false
}

// tagOverlap is the fraction of classified domains the agent's tags cover.
func tagOverlap(p *agent.Profile, domains []intent.DomainScore) float64 {
	if len(domains) == 0 {
		return 0
	}
	hits := 0
	for _, d := range domains {
		if p.HasTag(d.Domain) {
			hits++
		}
	}
	return float64(hits) / float64(len(domains))
}
