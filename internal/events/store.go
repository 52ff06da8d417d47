package events

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrStoreUnavailable indicates the event store dependency is not configured.
var ErrStoreUnavailable = errors.New("events: store unavailable")

// NewStore constructs an EventStore backed by a pgx connection pool.
func NewStore(pool *pgxpool.Pool) EventStore {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

func (s *pgStore) InsertDomainEvent(ctx context.Context, orgID, topic string, aggregateID uuid.UUID, payload []byte) (DomainEvent, error) {
	if s == nil || s.pool == nil {
		return DomainEvent{}, ErrStoreUnavailable
	}
	ev := DomainEvent{OrgID: orgID, Topic: topic, AggregateID: aggregateID, Payload: payload}
	err := s.pool.QueryRow(ctx, `INSERT INTO domain_events (org_id, topic, aggregate_id, payload)
VALUES ($1, $2, $3, $4) RETURNING id, occurred_at`, orgID, topic, aggregateID, payload).Scan(&ev.ID, &ev.OccurredAt)
	if err != nil {
		return DomainEvent{}, err
	}
	return ev, nil
}

// ListByAggregate returns the persisted events for one aggregate, newest first.
func (s *pgStore) ListByAggregate(ctx context.Context, orgID string, aggregateID uuid.UUID, limit int) ([]DomainEvent, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `SELECT id, org_id, topic, aggregate_id, payload, occurred_at
FROM domain_events WHERE org_id = $1 AND aggregate_id = $2 ORDER BY occurred_at DESC LIMIT $3`, orgID, aggregateID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]DomainEvent, 0, limit)
	for rows.Next() {
		var ev DomainEvent
		if err := rows.Scan(&ev.ID, &ev.OrgID, &ev.Topic, &ev.AggregateID, &ev.Payload, &ev.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
