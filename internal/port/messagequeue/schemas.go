package messagequeue

// KnowledgeSearchPayload is the schema for knowledge.search messages.
type KnowledgeSearchPayload struct {
	RequestID string `json:"request_id"`
	AgentID   string `json:"agent_id"`
	Query     string `json:"query"`
	TopK      int    `json:"top_k"`
}

// KnowledgeHit is one retrieved passage inside a search result.
type KnowledgeHit struct {
	SourceID       string  `json:"source_id"`
	Title          string  `json:"title"`
	Text           string  `json:"text"`
	RelevanceScore float64 `json:"relevance_score"`
}

// KnowledgeResultPayload is the schema for knowledge.search.result messages.
type KnowledgeResultPayload struct {
	RequestID string         `json:"request_id"`
	AgentID   string         `json:"agent_id"`
	Hits      []KnowledgeHit `json:"hits"`
	Error     string         `json:"error,omitempty"`
}

// MissionAbortPayload is the schema for missions.abort messages.
type MissionAbortPayload struct {
	MissionID string `json:"mission_id"`
	Reason    string `json:"reason,omitempty"`
}

// AgentUpdatedPayload is the schema for agents.updated messages.
type AgentUpdatedPayload struct {
	AgentID string `json:"agent_id"`
}
