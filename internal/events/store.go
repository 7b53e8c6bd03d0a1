package events

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewStore constructs an EventStore backed by a pgx connection pool.
func NewStore(pool *pgxpool.Pool) EventStore {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

func (s *pgStore) InsertDomainEvent(ctx context.Context, ev Event) (Event, error) {
	if s == nil || s.pool == nil {
		return Event{}, errors.New("events: pool not configured")
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO domain_events (store_id, topic, aggregate_id, payload)
VALUES ($1, $2, $3, $4)
RETURNING id, store_id, topic, aggregate_id, payload, occurred_at`,
		ev.StoreID, ev.Topic, ev.AggregateID, []byte(ev.Payload))
	var out Event
	var payload []byte
	if err := row.Scan(&out.ID, &out.StoreID, &out.Topic, &out.AggregateID, &payload, &out.OccurredAt); err != nil {
		return Event{}, err
	}
	out.Payload = payload
	return out, nil
}
