package service

import (
	"context"
	"errors"
	"testing"

	"github.com/consilium-health/consilium/internal/config"
	"github.com/consilium-health/consilium/internal/domain"
	"github.com/consilium-health/consilium/internal/domain/agent"
	"github.com/consilium-health/consilium/internal/domain/conversation"
	"github.com/consilium-health/consilium/internal/domain/intent"
)

func newSelector(t *testing.T, profiles ...agent.Profile) *SelectorService {
	t.Helper()
	cfg := config.Defaults()
	directory := NewDirectoryService(newFakeStore(profiles...), newFakeCache(), &cfg.Directory)
	return NewSelectorService(directory, &cfg.Selector)
}

func regulatoryIntent() intent.Result {
	return intent.Result{
		PrimaryDomain: "regulatory",
		Domains:       []intent.DomainScore{{Domain: "regulatory", Score: 5}},
		Confidence:    80,
		Complexity:    intent.ComplexityMedium,
	}
}

func TestSelect_PrimaryDomainWins(t *testing.T) {
	s := newSelector(t,
		testProfile("reg-1", "Regulatory Lead", agent.TierSenior, "regulatory"),
		testProfile("clin-1", "Clinical Advisor", agent.TierSenior, "clinical"),
	)

	ranked, err := s.Select(context.Background(), regulatoryIntent(), nil, 0)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if ranked[0].Profile.ID != "reg-1" {
		t.Fatalf("top pick = %s, want reg-1", ranked[0].Profile.ID)
	}
	if ranked[0].Score <= ranked[len(ranked)-1].Score && len(ranked) > 1 {
		t.Fatal("domain-matched agent did not outscore the rest")
	}
	found := false
	for _, c := range ranked[0].MatchedCriteria {
		if c == "primary_domain" {
			found = true
		}
	}
	if !found {
		t.Fatalf("criteria = %v, want primary_domain", ranked[0].MatchedCriteria)
	}
}

func TestSelect_SingleAgentUnlessMultiRequired(t *testing.T) {
	s := newSelector(t,
		testProfile("reg-1", "Regulatory Lead", agent.TierSenior, "regulatory"),
		testProfile("reg-2", "Regulatory Associate", agent.TierAssociate, "regulatory"),
		testProfile("clin-1", "Clinical Advisor", agent.TierSenior, "clinical"),
	)

	res := regulatoryIntent()
	ranked, err := s.Select(context.Background(), res, nil, 0)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(ranked) != 1 {
		t.Fatalf("panel size = %d, want 1 for a single-domain query", len(ranked))
	}

	res.RequiresMultipleAgents = true
	res.Domains = append(res.Domains, intent.DomainScore{Domain: "clinical", Score: 3})
	ranked, err = s.Select(context.Background(), res, nil, 0)
	if err != nil {
		t.Fatalf("Select multi: %v", err)
	}
	if len(ranked) < 2 {
		t.Fatalf("panel size = %d, want >= 2 when multiple agents required", len(ranked))
	}
}

func TestSelect_MaxAgentsCap(t *testing.T) {
	s := newSelector(t,
		testProfile("a", "A", agent.TierSenior, "regulatory"),
		testProfile("b", "B", agent.TierSenior, "regulatory"),
		testProfile("c", "C", agent.TierSenior, "regulatory"),
		testProfile("d", "D", agent.TierSenior, "regulatory"),
	)

	res := regulatoryIntent()
	res.RequiresMultipleAgents = true

	ranked, err := s.Select(context.Background(), res, nil, 2)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(ranked) != 2 {
		t.Fatalf("panel size = %d, want caller cap 2", len(ranked))
	}
}

func TestSelect_NoAvailableAgents(t *testing.T) {
	offline := testProfile("reg-1", "Regulatory Lead", agent.TierSenior, "regulatory")
	offline.Available = false
	s := newSelector(t, offline)

	_, err := s.Select(context.Background(), regulatoryIntent(), nil, 0)
	if !errors.Is(err, domain.ErrNoAgentsAvailable) {
		t.Fatalf("err = %v, want ErrNoAgentsAvailable", err)
	}
}

func TestSelect_DeterministicTieBreak(t *testing.T) {
	s := newSelector(t,
		testProfile("bbb", "B", agent.TierSenior, "regulatory"),
		testProfile("aaa", "A", agent.TierSenior, "regulatory"),
	)

	res := regulatoryIntent()
	res.RequiresMultipleAgents = true
	for range 5 {
		ranked, err := s.Select(context.Background(), res, nil, 0)
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		if ranked[0].Profile.ID != "aaa" || ranked[1].Profile.ID != "bbb" {
			t.Fatalf("tie broke nondeterministically: %s, %s", ranked[0].Profile.ID, ranked[1].Profile.ID)
		}
	}
}

func TestSelect_ContinuityReusesPriorAgent(t *testing.T) {
	s := newSelector(t,
		testProfile("reg-1", "Regulatory Lead", agent.TierSenior, "regulatory"),
		testProfile("reg-2", "Regulatory Principal", agent.TierPrincipal, "regulatory"),
	)

	conv := &conversation.Conversation{
		ID:          "c1",
		TurnCount:   3,
		LastAgentID: "reg-1",
		LastDomain:  "regulatory",
	}
	ranked, err := s.Select(context.Background(), regulatoryIntent(), conv, 0)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(ranked) != 1 || ranked[0].Profile.ID != "reg-1" {
		t.Fatalf("continuity pick = %v, want reg-1 alone", ranked)
	}
	if ranked[0].MatchedCriteria[0] != "continuity" {
		t.Fatalf("criteria = %v, want continuity", ranked[0].MatchedCriteria)
	}
}

func TestSelect_ContinuitySkippedOnDomainShift(t *testing.T) {
	s := newSelector(t,
		testProfile("reg-1", "Regulatory Lead", agent.TierSenior, "regulatory"),
		testProfile("clin-1", "Clinical Advisor", agent.TierSenior, "clinical"),
	)

	conv := &conversation.Conversation{
		ID:          "c1",
		TurnCount:   3,
		LastAgentID: "clin-1",
		LastDomain:  "clinical",
	}
	ranked, err := s.Select(context.Background(), regulatoryIntent(), conv, 0)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if ranked[0].Profile.ID != "reg-1" {
		t.Fatalf("top pick = %s, want fresh ranking on domain shift", ranked[0].Profile.ID)
	}
}

func TestSelect_ContinuitySkippedForMultiAgent(t *testing.T) {
	s := newSelector(t,
		testProfile("reg-1", "Regulatory Lead", agent.TierSenior, "regulatory"),
		testProfile("clin-1", "Clinical Advisor", agent.TierSenior, "clinical"),
	)

	conv := &conversation.Conversation{
		ID:          "c1",
		TurnCount:   3,
		LastAgentID: "reg-1",
		LastDomain:  "regulatory",
	}
	res := regulatoryIntent()
	res.RequiresMultipleAgents = true
	res.Domains = append(res.Domains, intent.DomainScore{Domain: "clinical", Score: 2})

	ranked, err := s.Select(context.Background(), res, conv, 0)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(ranked) < 2 {
		t.Fatalf("panel size = %d, continuity must not shrink a multi-agent query", len(ranked))
	}
}

func TestSelect_ContinuitySkippedWhenAgentGone(t *testing.T) {
	s := newSelector(t,
		testProfile("reg-1", "Regulatory Lead", agent.TierSenior, "regulatory"),
	)

	conv := &conversation.Conversation{
		ID:          "c1",
		TurnCount:   3,
		LastAgentID: "departed",
		LastDomain:  "regulatory",
	}
	ranked, err := s.Select(context.Background(), regulatoryIntent(), conv, 0)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if ranked[0].Profile.ID != "reg-1" {
		t.Fatalf("top pick = %s, want re-ranked reg-1", ranked[0].Profile.ID)
	}
}

func TestSelectPanel_PreferTierNarrows(t *testing.T) {
	s := newSelector(t,
		testProfile("assoc", "Associate", agent.TierAssociate, "regulatory"),
		testProfile("senior", "Senior", agent.TierSenior, "regulatory"),
	)

	ranked, err := s.SelectPanel(context.Background(), regulatoryIntent(), agent.TierSenior, 5)
	if err != nil {
		t.Fatalf("SelectPanel: %v", err)
	}
	if len(ranked) != 1 || ranked[0].Profile.ID != "senior" {
		t.Fatalf("panel = %v, want only the senior agent", ranked)
	}
}

func TestSelectPanel_FallsBackWhenNoTierMatch(t *testing.T) {
	s := newSelector(t,
		testProfile("assoc", "Associate", agent.TierAssociate, "regulatory"),
	)

	// Nobody at or above senior: serve from the full pool instead of failing.
	ranked, err := s.SelectPanel(context.Background(), regulatoryIntent(), agent.TierSenior, 5)
	if err != nil {
		t.Fatalf("SelectPanel: %v", err)
	}
	if len(ranked) != 1 || ranked[0].Profile.ID != "assoc" {
		t.Fatalf("panel = %v, want fallback to the associate", ranked)
	}
}

func TestSelect_FallbackIntentStillRanks(t *testing.T) {
	s := newSelector(t,
		testProfile("senior", "Senior", agent.TierSenior, "regulatory"),
		testProfile("principal", "Principal", agent.TierPrincipal, "clinical"),
	)

	res := intent.Result{
		PrimaryDomain: intent.DomainGeneral,
		Domains:       []intent.DomainScore{{Domain: intent.DomainGeneral}},
		Confidence:    20,
		Complexity:    intent.ComplexityLow,
	}
	ranked, err := s.Select(context.Background(), res, nil, 0)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	// With no domain signal, seniority decides.
	if ranked[0].Profile.ID != "principal" {
		t.Fatalf("top pick = %s, want the principal on a general query", ranked[0].Profile.ID)
	}
}
