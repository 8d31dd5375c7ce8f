// Package service wires the consultation engine together: intent
// classification, agent selection, retrieval, execution, synthesis, and the
// autonomous mission lifecycle.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/consilium-health/consilium/internal/config"
	"github.com/consilium-health/consilium/internal/domain/agent"
	"github.com/consilium-health/consilium/internal/port/cache"
	"github.com/consilium-health/consilium/internal/port/database"
	"github.com/consilium-health/consilium/internal/port/messagequeue"
)

const directoryCacheKey = "agents:directory"

// DirectoryService serves read-only agent profile snapshots. Snapshots are
// cached; concurrent callers during a refresh share one store read, and a
// refresh failure falls back to the last snapshot rather than erroring.
type DirectoryService struct {
	store database.Store
	cache cache.Cache
	queue messagequeue.Queue
	cfg   *config.Directory

	mu   sync.Mutex
	last []agent.Profile // stale fallback, guarded by mu
}

// NewDirectoryService creates a DirectoryService.
func NewDirectoryService(store database.Store, c cache.Cache, cfg *config.Directory) *DirectoryService {
	return &DirectoryService{store: store, cache: c, cfg: cfg}
}

// SetQueue attaches the message queue used to fan out invalidations to
// other instances. Safe to leave unset in a single-process deployment.
func (s *DirectoryService) SetQueue(q messagequeue.Queue) { s.queue = q }

// Snapshot returns the current agent directory. The snapshot is a copy;
// callers may not mutate profiles.
func (s *DirectoryService) Snapshot(ctx context.Context) ([]agent.Profile, error) {
	if data, ok, err := s.cache.Get(ctx, directoryCacheKey); err == nil && ok {
		var profiles []agent.Profile
		if err := json.Unmarshal(data, &profiles); err == nil {
			return profiles, nil
		}
		// Corrupt cache entry: drop it and refresh.
		_ = s.cache.Delete(ctx, directoryCacheKey)
	}
	return s.refresh(ctx)
}

// refresh reloads from the store under a single-writer lock. Losers of the
// race reuse the winner's cache entry.
func (s *DirectoryService) refresh(ctx context.Context) ([]agent.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Another caller may have refreshed while we waited.
	if data, ok, err := s.cache.Get(ctx, directoryCacheKey); err == nil && ok {
		var profiles []agent.Profile
		if err := json.Unmarshal(data, &profiles); err == nil {
			return profiles, nil
		}
	}

	profiles, err := s.store.ListAgents(ctx)
	if err != nil {
		if s.last != nil {
			slog.Warn("agent directory refresh failed, serving stale snapshot", "error", err)
			return s.last, nil
		}
		return nil, fmt.Errorf("refresh agent directory: %w", err)
	}

	s.last = profiles
	if data, err := json.Marshal(profiles); err == nil {
		_ = s.cache.Set(ctx, directoryCacheKey, data, s.cfg.TTL)
	}
	return profiles, nil
}

// Get returns one agent profile by id, bypassing the snapshot cache.
func (s *DirectoryService) Get(ctx context.Context, id string) (*agent.Profile, error) {
	return s.store.GetAgent(ctx, id)
}

// Invalidate drops the cached snapshot so the next Snapshot call reloads.
func (s *DirectoryService) Invalidate(ctx context.Context) {
	_ = s.cache.Delete(ctx, directoryCacheKey)
}

// AnnounceUpdate invalidates the local snapshot and fans the change out so
// every other instance drops its snapshot too.
func (s *DirectoryService) AnnounceUpdate(ctx context.Context, agentID string) {
	s.Invalidate(ctx)
	if s.queue == nil {
		return
	}
	data, err := json.Marshal(messagequeue.AgentUpdatedPayload{AgentID: agentID})
	if err != nil {
		return
	}
	if err := s.queue.Publish(ctx, messagequeue.SubjectAgentUpdated, data); err != nil {
		slog.Warn("publish agent update failed", "agent_id", agentID, "error", err)
	}
}

// StartInvalidationSubscriber drops the cached snapshot whenever another
// instance announces an agent change. The returned function cancels the
// subscription.
func (s *DirectoryService) StartInvalidationSubscriber(ctx context.Context) (func(), error) {
	if s.queue == nil {
		return func() {}, nil
	}
	return s.queue.Subscribe(ctx, messagequeue.SubjectAgentUpdated, func(msgCtx context.Context, _ string, _ []byte) error {
		s.Invalidate(msgCtx)
		return nil
	})
}

// RecordUsage bumps an agent's popularity counter and invalidates the
// snapshot so rankings see it eventually.
func (s *DirectoryService) RecordUsage(ctx context.Context, agentID string) {
	if err := s.store.IncrementAgentUsage(ctx, agentID); err != nil {
		slog.Warn("increment agent usage failed", "agent_id", agentID, "error", err)
	}
}
