package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/consilium-health/consilium/internal/domain/event"
	"github.com/consilium-health/consilium/internal/port/eventstore"
)

// EventStore implements eventstore.Store using PostgreSQL (append-only).
type EventStore struct {
	pool *pgxpool.Pool
}

var _ eventstore.Store = (*EventStore)(nil)

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Append inserts a new event into the mission_events table.
func (s *EventStore) Append(ctx context.Context, missionID string, ev *event.Event) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO mission_events (mission_id, seq, event_type, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		missionID, ev.Seq, string(ev.Type), ev.Payload, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

const eventColumns = `seq, event_type, payload, created_at`

func scanEvent(sc scannable, missionID string) (event.Event, error) {
	var ev event.Event
	err := sc.Scan(&ev.Seq, &ev.Type, &ev.Payload, &ev.CreatedAt)
	ev.MissionID = missionID
	return ev, err
}

// LoadByMission returns all events for the mission, ordered by seq ascending.
func (s *EventStore) LoadByMission(ctx context.Context, missionID string) ([]event.Event, error) {
	return s.load(ctx, missionID,
		fmt.Sprintf(`SELECT %s FROM mission_events WHERE mission_id = $1 ORDER BY seq ASC`, eventColumns),
		missionID)
}

// LoadAfter returns the mission's events with seq greater than after.
func (s *EventStore) LoadAfter(ctx context.Context, missionID string, after int64) ([]event.Event, error) {
	return s.load(ctx, missionID,
		fmt.Sprintf(`SELECT %s FROM mission_events WHERE mission_id = $1 AND seq > $2 ORDER BY seq ASC`, eventColumns),
		missionID, after)
}

// LoadFiltered returns the mission's events matching the filter.
func (s *EventStore) LoadFiltered(ctx context.Context, missionID string, f eventstore.Filter) ([]event.Event, error) {
	query := fmt.Sprintf(`SELECT %s FROM mission_events WHERE mission_id = $1`, eventColumns)
	args := []any{missionID}

	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		args = append(args, types)
		query += fmt.Sprintf(" AND event_type = ANY($%d)", len(args))
	}
	if f.After != nil {
		args = append(args, *f.After)
		query += fmt.Sprintf(" AND created_at > $%d", len(args))
	}
	if f.Before != nil {
		args = append(args, *f.Before)
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	query += " ORDER BY seq ASC"

	return s.load(ctx, missionID, query, args...)
}

func (s *EventStore) load(ctx context.Context, missionID, query string, args ...any) ([]event.Event, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load events for mission %s: %w", missionID, err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		ev, err := scanEvent(rows, missionID)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
