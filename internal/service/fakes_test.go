package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/consilium-health/consilium/internal/domain"
	"github.com/consilium-health/consilium/internal/domain/agent"
	"github.com/consilium-health/consilium/internal/domain/conversation"
	"github.com/consilium-health/consilium/internal/domain/event"
	domknow "github.com/consilium-health/consilium/internal/domain/knowledge"
	"github.com/consilium-health/consilium/internal/domain/mission"
	"github.com/consilium-health/consilium/internal/port/database"
	"github.com/consilium-health/consilium/internal/port/eventstore"
	"github.com/consilium-health/consilium/internal/port/knowledge"
	"github.com/consilium-health/consilium/internal/port/llm"
	"github.com/consilium-health/consilium/internal/port/messagequeue"
)

// testProfile builds an available agent for selection tests.
func testProfile(id, name string, tier agent.Tier, tags ...string) agent.Profile {
	return agent.Profile{
		ID:          id,
		DisplayName: name,
		Tier:        tier,
		DomainTags:  tags,
		Available:   true,
		Model:       "test/agent",
	}
}

// fakeStore is an in-memory database.Store. Mission reads and writes copy
// the aggregate so tests observe persisted state, not shared pointers.
type fakeStore struct {
	mu            sync.Mutex
	agents        []agent.Profile
	conversations map[string]conversation.Conversation
	turns         []conversation.Turn
	missions      map[string]mission.Mission
	costs         []database.CostEntry

	listAgentsErr    error
	listAgentsCalls  int
	updateMissionErr error
}

func newFakeStore(agents ...agent.Profile) *fakeStore {
	return &fakeStore{
		agents:        agents,
		conversations: make(map[string]conversation.Conversation),
		missions:      make(map[string]mission.Mission),
	}
}

func (s *fakeStore) ListAgents(ctx context.Context) ([]agent.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listAgentsCalls++
	if s.listAgentsErr != nil {
		return nil, s.listAgentsErr
	}
	out := make([]agent.Profile, len(s.agents))
	copy(out, s.agents)
	return out, nil
}

func (s *fakeStore) GetAgent(ctx context.Context, id string) (*agent.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.agents {
		if p.ID == id {
			cp := p
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
}

func (s *fakeStore) UpsertAgent(ctx context.Context, p *agent.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.agents {
		if s.agents[i].ID == p.ID {
			s.agents[i] = *p
			return nil
		}
	}
	s.agents = append(s.agents, *p)
	return nil
}

func (s *fakeStore) IncrementAgentUsage(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.agents {
		if s.agents[i].ID == id {
			s.agents[i].UsageCount++
			return nil
		}
	}
	return fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
}

func (s *fakeStore) GetConversation(ctx context.Context, id string) (*conversation.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
	}
	return &c, nil
}

func (s *fakeStore) CreateConversation(ctx context.Context, c *conversation.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = *c
	return nil
}

func (s *fakeStore) AppendTurn(ctx context.Context, t *conversation.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, *t)
	if t.Role == conversation.RoleAssistant {
		c := s.conversations[t.ConversationID]
		c.TurnCount++
		if t.AgentID != "" {
			c.LastAgentID = t.AgentID
		}
		if t.Domain != "" {
			c.LastDomain = t.Domain
		}
		s.conversations[t.ConversationID] = c
	}
	return nil
}

func (s *fakeStore) ListTurns(ctx context.Context, conversationID string, limit int) ([]conversation.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []conversation.Turn
	for _, t := range s.turns {
		if t.ConversationID == conversationID {
			out = append(out, t)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *fakeStore) CreateMission(ctx context.Context, m *mission.Mission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.missions[m.ID] = *m
	return nil
}

func (s *fakeStore) GetMission(ctx context.Context, id string) (*mission.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.missions[id]
	if !ok {
		return nil, fmt.Errorf("mission %s: %w", id, domain.ErrNotFound)
	}
	return &m, nil
}

func (s *fakeStore) UpdateMission(ctx context.Context, m *mission.Mission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateMissionErr != nil {
		return s.updateMissionErr
	}
	if _, ok := s.missions[m.ID]; !ok {
		return fmt.Errorf("mission %s: %w", m.ID, domain.ErrNotFound)
	}
	s.missions[m.ID] = *m
	return nil
}

func (s *fakeStore) ListMissions(ctx context.Context, conversationID string, limit int) ([]mission.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []mission.Mission
	for _, m := range s.missions {
		if conversationID == "" || m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeStore) ListAwaitingCheckpoint(ctx context.Context) ([]mission.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []mission.Mission
	for _, m := range s.missions {
		if m.Status == mission.StatusAwaitingCheckpoint {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeStore) RecordCost(ctx context.Context, e *database.CostEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.costs = append(s.costs, *e)
	return nil
}

func (s *fakeStore) CostByConversation(ctx context.Context, conversationID string) (*database.CostSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := &database.CostSummary{ByModel: make(map[string]float64)}
	for _, e := range s.costs {
		if e.ConversationID != conversationID {
			continue
		}
		sum.TotalUSD += e.CostUSD
		sum.TotalTokens += e.PromptTokens + e.OutputTokens
		sum.CallCount++
		sum.ByModel[e.Model] += e.CostUSD
	}
	return sum, nil
}

func (s *fakeStore) CostSince(ctx context.Context, since time.Time) (*database.CostSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := &database.CostSummary{ByModel: make(map[string]float64)}
	for _, e := range s.costs {
		sum.TotalUSD += e.CostUSD
		sum.TotalTokens += e.PromptTokens + e.OutputTokens
		sum.CallCount++
		sum.ByModel[e.Model] += e.CostUSD
	}
	return sum, nil
}

func (s *fakeStore) costEntries() []database.CostEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]database.CostEntry, len(s.costs))
	copy(out, s.costs)
	return out
}

// fakeEventStore is an in-memory append-only event log.
type fakeEventStore struct {
	mu     sync.Mutex
	events map[string][]event.Event
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{events: make(map[string][]event.Event)}
}

func (s *fakeEventStore) Append(ctx context.Context, missionID string, ev *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[missionID] = append(s.events[missionID], *ev)
	return nil
}

func (s *fakeEventStore) LoadByMission(ctx context.Context, missionID string) ([]event.Event, error) {
	return s.LoadAfter(ctx, missionID, 0)
}

func (s *fakeEventStore) LoadAfter(ctx context.Context, missionID string, after int64) ([]event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []event.Event
	for _, ev := range s.events[missionID] {
		if ev.Seq > after {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *fakeEventStore) LoadFiltered(ctx context.Context, missionID string, f eventstore.Filter) ([]event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []event.Event
	for _, ev := range s.events[missionID] {
		if len(f.Types) > 0 && !containsType(f.Types, ev.Type) {
			continue
		}
		if f.After != nil && !ev.CreatedAt.After(*f.After) {
			continue
		}
		if f.Before != nil && !ev.CreatedAt.Before(*f.Before) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func containsType(types []event.Type, t event.Type) bool {
	for _, c := range types {
		if c == t {
			return true
		}
	}
	return false
}

func (s *fakeEventStore) byType(missionID string, t event.Type) []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []event.Event
	for _, ev := range s.events[missionID] {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// fakeInvoker scripts model responses by inspecting the request. The stream
// variant delegates to invoke unless invokeStream is scripted explicitly.
type fakeInvoker struct {
	mu           sync.Mutex
	calls        []llm.Request
	streamCalls  int
	invoke       func(ctx context.Context, req llm.Request) (*llm.Response, error)
	invokeStream func(ctx context.Context, req llm.Request, emit func(llm.Chunk)) (*llm.Response, error)
}

func (f *fakeInvoker) Invoke(ctx context.Context, req llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.invoke(ctx, req)
}

func (f *fakeInvoker) InvokeStream(ctx context.Context, req llm.Request, emit func(llm.Chunk)) (*llm.Response, error) {
	f.mu.Lock()
	f.streamCalls++
	f.mu.Unlock()
	if f.invokeStream != nil {
		return f.invokeStream(ctx, req, emit)
	}
	resp, err := f.Invoke(ctx, req)
	if err != nil {
		return nil, err
	}
	emit(llm.Chunk{Text: resp.Content})
	emit(llm.Chunk{Done: true, Usage: resp.Usage})
	return resp, nil
}

func (f *fakeInvoker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeInvoker) streamCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streamCalls
}

// fakeRetriever serves canned hits per agent.
type fakeRetriever struct {
	mu   sync.Mutex
	hits map[string][]domknow.RetrievedContext
	errs map[string]error
}

func (f *fakeRetriever) Search(ctx context.Context, q knowledge.Query) ([]domknow.RetrievedContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[q.AgentID]; err != nil {
		return nil, err
	}
	return f.hits[q.AgentID], nil
}

// fakeBroadcaster records broadcast events.
type fakeBroadcaster struct {
	mu     sync.Mutex
	events []broadcastRecord
}

type broadcastRecord struct {
	Type    string
	Payload any
}

func (f *fakeBroadcaster) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, broadcastRecord{Type: eventType, Payload: payload})
}

// fakeQueue captures publishes and lets tests deliver messages straight to
// registered handlers.
type fakeQueue struct {
	mu       sync.Mutex
	messages []queueMsg
	handlers map[string]messagequeue.Handler
}

type queueMsg struct {
	subject string
	data    []byte
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{handlers: make(map[string]messagequeue.Handler)}
}

func (q *fakeQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(q.messages, queueMsg{subject: subject, data: data})
	return nil
}

func (q *fakeQueue) Subscribe(_ context.Context, subject string, h messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[subject] = h
	return func() {}, nil
}

func (q *fakeQueue) Drain() error      { return nil }
func (q *fakeQueue) Close() error      { return nil }
func (q *fakeQueue) IsConnected() bool { return true }

func (q *fakeQueue) deliver(ctx context.Context, subject string, data []byte) error {
	q.mu.Lock()
	h := q.handlers[subject]
	q.mu.Unlock()
	if h == nil {
		return fmt.Errorf("no handler for %s", subject)
	}
	return h(ctx, subject, data)
}

func (q *fakeQueue) published(prefix string) []queueMsg {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []queueMsg
	for _, m := range q.messages {
		if strings.HasPrefix(m.subject, prefix) {
			out = append(out, m)
		}
	}
	return out
}

// fakeCache is a map-backed cache.Cache. TTLs are ignored.
type fakeCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string][]byte)}
}

func (c *fakeCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *fakeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *fakeCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}
