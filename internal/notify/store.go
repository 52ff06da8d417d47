package notify

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/backend-properti/internal/events"
)

// ErrStoreUnavailable indicates the notification store dependency is not configured.
var ErrStoreUnavailable = errors.New("notify: store unavailable")

// DeliveryFilter narrows delivery listings.
type DeliveryFilter struct {
	EndpointID *uuid.UUID
	EventID    *uuid.UUID
	Status     string
	Limit      int
	Offset     int
}

// Store defines the persistence operations required for notification dispatch.
type Store interface {
	CreateEndpoint(ctx context.Context, ep Endpoint) (Endpoint, error)
	UpdateEndpoint(ctx context.Context, ep Endpoint) (Endpoint, error)
	GetEndpoint(ctx context.Context, id uuid.UUID) (Endpoint, error)
	ListEndpoints(ctx context.Context, orgID string, limit, offset int) ([]Endpoint, error)
	DeleteEndpoint(ctx context.Context, id uuid.UUID) error
	ListActiveEndpointsForTopic(ctx context.Context, orgID, topic string) ([]Endpoint, error)

	EnqueueDelivery(ctx context.Context, endpointID, eventID uuid.UUID, maxAttempt int) (Delivery, error)
	DequeueDueDeliveries(ctx context.Context, limit int) ([]Delivery, error)
	GetDelivery(ctx context.Context, id uuid.UUID) (Delivery, error)
	MarkDelivering(ctx context.Context, id uuid.UUID) error
	MarkDelivered(ctx context.Context, id uuid.UUID, responseStatus *int, responseBody *string) error
	MarkFailedWithBackoff(ctx context.Context, id uuid.UUID, delay time.Duration, lastError string) error
	MoveToDLQ(ctx context.Context, id uuid.UUID, lastError string) error
	InsertDeliveryDLQ(ctx context.Context, deliveryID uuid.UUID, reason string) (DLQEntry, error)
	DeleteDLQByDelivery(ctx context.Context, deliveryID uuid.UUID) error
	ResetDeliveryForReplay(ctx context.Context, id uuid.UUID) (Delivery, error)
	ListDeliveries(ctx context.Context, filter DeliveryFilter) ([]Delivery, error)
	CountDeliveries(ctx context.Context, filter DeliveryFilter) (int64, error)

	GetDomainEvent(ctx context.Context, id uuid.UUID) (events.DomainEvent, error)
	GetTenantEmail(ctx context.Context, orgID string, tenantID uuid.UUID) (string, error)
}

// NewStore constructs a Store backed by a pgx connection pool.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

const endpointColumns = `id, org_id, name, url, secret, active, topics, created_at, updated_at`

func (s *pgStore) CreateEndpoint(ctx context.Context, ep Endpoint) (Endpoint, error) {
	if s == nil || s.pool == nil {
		return Endpoint{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO webhook_endpoints (org_id, name, url, secret, active, topics)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING `+endpointColumns, ep.OrgID, ep.Name, ep.URL, ep.Secret, ep.Active, ep.Topics)
	return scanEndpoint(row)
}

func (s *pgStore) UpdateEndpoint(ctx context.Context, ep Endpoint) (Endpoint, error) {
	if s == nil || s.pool == nil {
		return Endpoint{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `UPDATE webhook_endpoints
SET name = $3, url = $4, secret = $5, active = $6, topics = $7, updated_at = now()
WHERE id = $1 AND org_id = $2
RETURNING `+endpointColumns, ep.ID, ep.OrgID, ep.Name, ep.URL, ep.Secret, ep.Active, ep.Topics)
	return scanEndpoint(row)
}

func (s *pgStore) GetEndpoint(ctx context.Context, id uuid.UUID) (Endpoint, error) {
	if s == nil || s.pool == nil {
		return Endpoint{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT `+endpointColumns+` FROM webhook_endpoints WHERE id = $1`, id)
	return scanEndpoint(row)
}

func (s *pgStore) ListEndpoints(ctx context.Context, orgID string, limit, offset int) ([]Endpoint, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT `+endpointColumns+` FROM webhook_endpoints
WHERE org_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, orgID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEndpoints(rows)
}

func (s *pgStore) DeleteEndpoint(ctx context.Context, id uuid.UUID) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM webhook_endpoints WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (s *pgStore) ListActiveEndpointsForTopic(ctx context.Context, orgID, topic string) ([]Endpoint, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT `+endpointColumns+` FROM webhook_endpoints
WHERE org_id = $1 AND active AND $2 = ANY(topics)
ORDER BY created_at`, orgID, topic)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEndpoints(rows)
}

const deliveryColumns = `id, endpoint_id, event_id, status, attempt, max_attempt, next_attempt_at, last_error, response_status, response_body, delivered_at, created_at`

func (s *pgStore) EnqueueDelivery(ctx context.Context, endpointID, eventID uuid.UUID, maxAttempt int) (Delivery, error) {
	if s == nil || s.pool == nil {
		return Delivery{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO webhook_deliveries (endpoint_id, event_id, status, max_attempt, next_attempt_at)
VALUES ($1, $2, 'pending', $3, now())
RETURNING `+deliveryColumns, endpointID, eventID, maxAttempt)
	return scanDelivery(row)
}

func (s *pgStore) DequeueDueDeliveries(ctx context.Context, limit int) ([]Delivery, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	if limit <= 0 {
		limit = 1
	}
	rows, err := s.pool.Query(ctx, `SELECT `+deliveryColumns+` FROM webhook_deliveries
WHERE status IN ('pending', 'failed') AND next_attempt_at <= now()
ORDER BY next_attempt_at
LIMIT $1
FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deliveries := make([]Delivery, 0, limit)
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

func (s *pgStore) GetDelivery(ctx context.Context, id uuid.UUID) (Delivery, error) {
	if s == nil || s.pool == nil {
		return Delivery{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE id = $1`, id)
	return scanDelivery(row)
}

func (s *pgStore) MarkDelivering(ctx context.Context, id uuid.UUID) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.pool.Exec(ctx, `UPDATE webhook_deliveries
SET status = 'delivering', attempt = attempt + 1
WHERE id = $1 AND status IN ('pending', 'failed')`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (s *pgStore) MarkDelivered(ctx context.Context, id uuid.UUID, responseStatus *int, responseBody *string) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	_, err := s.pool.Exec(ctx, `UPDATE webhook_deliveries
SET status = 'delivered', response_status = $2, response_body = $3, delivered_at = now(), last_error = NULL
WHERE id = $1`, id, responseStatus, responseBody)
	return err
}

func (s *pgStore) MarkFailedWithBackoff(ctx context.Context, id uuid.UUID, delay time.Duration, lastError string) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	_, err := s.pool.Exec(ctx, `UPDATE webhook_deliveries
SET status = 'failed', last_error = $2, next_attempt_at = now() + make_interval(secs => $3)
WHERE id = $1`, id, lastError, delay.Seconds())
	return err
}

func (s *pgStore) MoveToDLQ(ctx context.Context, id uuid.UUID, lastError string) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	_, err := s.pool.Exec(ctx, `UPDATE webhook_deliveries
SET status = 'dlq', last_error = $2
WHERE id = $1`, id, lastError)
	return err
}

func (s *pgStore) InsertDeliveryDLQ(ctx context.Context, deliveryID uuid.UUID, reason string) (DLQEntry, error) {
	if s == nil || s.pool == nil {
		return DLQEntry{}, ErrStoreUnavailable
	}
	var entry DLQEntry
	var stored *string
	err := s.pool.QueryRow(ctx, `INSERT INTO webhook_dlq (delivery_id, reason)
VALUES ($1, $2)
RETURNING id, delivery_id, reason, created_at`, deliveryID, reason).Scan(&entry.ID, &entry.DeliveryID, &stored, &entry.CreatedAt)
	if err != nil {
		return DLQEntry{}, err
	}
	entry.Reason = stored
	return entry, nil
}

func (s *pgStore) DeleteDLQByDelivery(ctx context.Context, deliveryID uuid.UUID) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM webhook_dlq WHERE delivery_id = $1`, deliveryID)
	return err
}

func (s *pgStore) ResetDeliveryForReplay(ctx context.Context, id uuid.UUID) (Delivery, error) {
	if s == nil || s.pool == nil {
		return Delivery{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `UPDATE webhook_deliveries
SET status = 'pending', attempt = 0, next_attempt_at = now(), last_error = NULL
WHERE id = $1
RETURNING `+deliveryColumns, id)
	return scanDelivery(row)
}

func (s *pgStore) ListDeliveries(ctx context.Context, filter DeliveryFilter) ([]Delivery, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	rows, err := s.pool.Query(ctx, `SELECT `+deliveryColumns+` FROM webhook_deliveries
WHERE ($1::uuid IS NULL OR endpoint_id = $1)
  AND ($2::uuid IS NULL OR event_id = $2)
  AND ($3::text = '' OR status = $3)
ORDER BY created_at DESC
LIMIT $4 OFFSET $5`, filter.EndpointID, filter.EventID, strings.TrimSpace(filter.Status), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deliveries := make([]Delivery, 0, limit)
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

func (s *pgStore) CountDeliveries(ctx context.Context, filter DeliveryFilter) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, ErrStoreUnavailable
	}
	var total int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM webhook_deliveries
WHERE ($1::uuid IS NULL OR endpoint_id = $1)
  AND ($2::uuid IS NULL OR event_id = $2)
  AND ($3::text = '' OR status = $3)`, filter.EndpointID, filter.EventID, strings.TrimSpace(filter.Status)).Scan(&total)
	return total, err
}

func (s *pgStore) GetDomainEvent(ctx context.Context, id uuid.UUID) (events.DomainEvent, error) {
	if s == nil || s.pool == nil {
		return events.DomainEvent{}, ErrStoreUnavailable
	}
	var ev events.DomainEvent
	err := s.pool.QueryRow(ctx, `SELECT id, org_id, topic, aggregate_id, payload, occurred_at
FROM domain_events WHERE id = $1`, id).Scan(&ev.ID, &ev.OrgID, &ev.Topic, &ev.AggregateID, &ev.Payload, &ev.OccurredAt)
	if err != nil {
		return events.DomainEvent{}, err
	}
	return ev, nil
}

func (s *pgStore) GetTenantEmail(ctx context.Context, orgID string, tenantID uuid.UUID) (string, error) {
	if s == nil || s.pool == nil {
		return "", ErrStoreUnavailable
	}
	var email string
	err := s.pool.QueryRow(ctx, `SELECT email FROM tenants WHERE org_id = $1 AND id = $2`, orgID, tenantID).Scan(&email)
	if err != nil {
		return "", err
	}
	return email, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEndpoint(row rowScanner) (Endpoint, error) {
	var ep Endpoint
	err := row.Scan(&ep.ID, &ep.OrgID, &ep.Name, &ep.URL, &ep.Secret, &ep.Active, &ep.Topics, &ep.CreatedAt, &ep.UpdatedAt)
	if err != nil {
		return Endpoint{}, err
	}
	return ep, nil
}

func collectEndpoints(rows pgx.Rows) ([]Endpoint, error) {
	endpoints := make([]Endpoint, 0, 8)
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, rows.Err()
}

func scanDelivery(row rowScanner) (Delivery, error) {
	var d Delivery
	err := row.Scan(&d.ID, &d.EndpointID, &d.EventID, &d.Status, &d.Attempt, &d.MaxAttempt,
		&d.NextAttemptAt, &d.LastError, &d.ResponseStatus, &d.ResponseBody, &d.DeliveredAt, &d.CreatedAt)
	if err != nil {
		return Delivery{}, err
	}
	return d, nil
}
