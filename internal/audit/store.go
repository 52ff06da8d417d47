package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrStoreUnavailable indicates the audit store dependency is not configured.
var ErrStoreUnavailable = errors.New("audit: store unavailable")

// Entry is a persisted audit log record.
type Entry struct {
	ID           uuid.UUID  `json:"id"`
	OrgID        *string    `json:"orgId,omitempty"`
	ActorKind    string     `json:"actorKind"`
	ActorUserID  *uuid.UUID `json:"actorUserId,omitempty"`
	Action       string     `json:"action"`
	ResourceType string     `json:"resourceType"`
	ResourceID   *string    `json:"resourceId,omitempty"`
	Method       string     `json:"method"`
	Path         string     `json:"path"`
	Route        *string    `json:"route,omitempty"`
	Status       int        `json:"status"`
	IP           *string    `json:"ip,omitempty"`
	UserAgent    *string    `json:"userAgent,omitempty"`
	RequestID    *string    `json:"requestId,omitempty"`
	Metadata     []byte     `json:"metadata,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// Store defines the database operations required for auditing.
type Store interface {
	InsertAuditLog(ctx context.Context, entry Entry) (uuid.UUID, error)
	ListAuditLogs(ctx context.Context, orgID string, limit, offset int) ([]Entry, error)
}

// NewStore constructs a Store backed by a pgx connection pool.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

func (s *pgStore) InsertAuditLog(ctx context.Context, entry Entry) (uuid.UUID, error) {
	if s == nil || s.pool == nil {
		return uuid.Nil, ErrStoreUnavailable
	}
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `INSERT INTO audit_logs
(org_id, actor_kind, actor_user_id, action, resource_type, resource_id, method, path, route, status, ip, user_agent, request_id, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
RETURNING id`,
		entry.OrgID, entry.ActorKind, entry.ActorUserID, entry.Action, entry.ResourceType, entry.ResourceID,
		entry.Method, entry.Path, entry.Route, entry.Status, entry.IP, entry.UserAgent, entry.RequestID, entry.Metadata).Scan(&id)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (s *pgStore) ListAuditLogs(ctx context.Context, orgID string, limit, offset int) ([]Entry, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT id, org_id, actor_kind, actor_user_id, action, resource_type, resource_id,
method, path, route, status, ip, user_agent, request_id, metadata, created_at
FROM audit_logs
WHERE ($1::text = '' OR org_id = $1)
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`, orgID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.OrgID, &e.ActorKind, &e.ActorUserID, &e.Action, &e.ResourceType, &e.ResourceID,
			&e.Method, &e.Path, &e.Route, &e.Status, &e.IP, &e.UserAgent, &e.RequestID, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
