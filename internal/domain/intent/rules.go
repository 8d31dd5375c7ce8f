package intent

// DomainRule scores a query against one domain. Phrases are matched as
// whole substrings and weigh more than single keyword hits.
type DomainRule struct {
	Domain   string
	Phrases  []string
	Keywords []string
}

// RuleSet is the tunable classification rule table. The contents are data,
// not algorithmic contracts; deployments override them per market.
type RuleSet struct {
	Rules []DomainRule

	// CoOccurring lists domain pairs that frequently appear in the same
	// query; both scoring above zero forces multi-agent consultation.
	CoOccurring [][2]string

	// Coordination holds cross-functional coordination language that
	// forces multi-agent consultation regardless of domain spread.
	Coordination []string

	// ComplexityCues raise the complexity estimate when present.
	ComplexityCues []string
}

// DefaultRules returns the built-in healthcare rule table.
func DefaultRules() RuleSet {
	return RuleSet{
		Rules: []DomainRule{
			{
				Domain: "regulatory",
				Phrases: []string{
					"510(k)", "510k", "pre-market approval", "de novo",
					"ce mark", "breakthrough device", "regulatory pathway",
					"predicate device", "substantial equivalence",
				},
				Keywords: []string{
					"fda", "regulatory", "submission", "clearance", "approval",
					"compliance", "mdr", "ivdr", "requirements", "premarket",
				},
			},
			{
				Domain: "clinical",
				Phrases: []string{
					"clinical trial", "clinical study", "primary endpoint",
					"inclusion criteria", "adverse event", "informed consent",
					"study protocol",
				},
				Keywords: []string{
					"clinical", "trial", "patient", "endpoint", "enrollment",
					"efficacy", "safety", "protocol", "investigator", "cohort",
				},
			},
			{
				Domain: "quality",
				Phrases: []string{
					"iso 13485", "design controls", "quality management system",
					"corrective action", "design history file", "risk management file",
				},
				Keywords: []string{
					"quality", "capa", "audit", "nonconformance", "validation",
					"verification", "traceability", "complaint",
				},
			},
			{
				Domain: "reimbursement",
				Phrases: []string{
					"cpt code", "coverage determination", "prior authorization",
					"fee schedule", "value-based care",
				},
				Keywords: []string{
					"reimbursement", "payer", "billing", "coding", "coverage",
					"medicare", "medicaid", "claims", "pricing",
				},
			},
			{
				Domain: "market_access",
				Phrases: []string{
					"go-to-market", "market entry", "health economics",
					"budget impact", "value proposition",
				},
				Keywords: []string{
					"market", "launch", "commercialization", "adoption",
					"stakeholder", "hospital", "procurement", "distributor",
				},
			},
			{
				Domain: "data_privacy",
				Phrases: []string{
					"protected health information", "business associate agreement",
					"data processing agreement", "breach notification",
				},
				Keywords: []string{
					"hipaa", "gdpr", "privacy", "phi", "deidentification",
					"consent", "security", "encryption",
				},
			},
		},
		CoOccurring: [][2]string{
			{"regulatory", "clinical"},
			{"regulatory", "quality"},
			{"reimbursement", "market_access"},
			{"clinical", "data_privacy"},
		},
		Coordination: []string{
			"cross-functional", "across teams", "end to end", "end-to-end",
			"coordinate", "align", "holistic", "work together",
		},
		ComplexityCues: []string{
			"strategy", "roadmap", "comprehensive", "plan", "multi",
			"compare", "trade-off", "tradeoff", "integrate",
		},
	}
}
