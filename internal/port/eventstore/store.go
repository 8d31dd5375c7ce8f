// Package eventstore defines the port interface for the append-only event store.
package eventstore

import (
	"context"
	"time"

	"github.com/consilium-health/consilium/internal/domain/event"
)

// Filter controls which events are returned by LoadFiltered.
type Filter struct {
	Types  []event.Type `json:"types,omitempty"`
	After  *time.Time   `json:"after,omitempty"`
	Before *time.Time   `json:"before,omitempty"`
}

// Store is the port interface for appending and replaying mission events.
type Store interface {
	// Append persists a new event. Seq must already be assigned and is
	// unique within the mission.
	Append(ctx context.Context, missionID string, ev *event.Event) error

	// LoadByMission returns all events for the mission, ordered by seq.
	LoadByMission(ctx context.Context, missionID string) ([]event.Event, error)

	// LoadAfter returns events for the mission with seq greater than after,
	// ordered by seq. Used to resume a dropped stream.
	LoadAfter(ctx context.Context, missionID string, after int64) ([]event.Event, error)

	// LoadFiltered returns the mission's events matching the filter, ordered by seq.
	LoadFiltered(ctx context.Context, missionID string, f Filter) ([]event.Event, error)
}
