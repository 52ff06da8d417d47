package payment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrStoreUnavailable indicates the payment store dependency is not configured.
var ErrStoreUnavailable = errors.New("payment: store unavailable")

// InvoiceRef is the minimal invoice projection needed for webhook settlement.
type InvoiceRef struct {
	ID     uuid.UUID
	Number string
	Total  float64
	Status string
}

// Intent statuses.
const (
	IntentStatusPending = "pending"
	IntentStatusPaid    = "paid"
	IntentStatusExpired = "expired"
)

// Intent records an opened checkout session for an invoice.
type Intent struct {
	ID          uuid.UUID  `json:"id"`
	OrgID       string     `json:"organizationId"`
	InvoiceID   uuid.UUID  `json:"invoiceId"`
	Provider    string     `json:"provider"`
	Status      string     `json:"status"`
	Amount      float64    `json:"amount"`
	TxRef       string     `json:"txRef"`
	CheckoutURL string     `json:"checkoutUrl"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Store resolves invoices referenced by provider notifications and records
// checkout intents.
type Store interface {
	FindInvoiceByNumber(ctx context.Context, orgID, number string) (InvoiceRef, error)
	FindInvoiceByID(ctx context.Context, orgID string, id uuid.UUID) (InvoiceRef, error)
	InsertIntent(ctx context.Context, in Intent) (Intent, error)
	LatestIntentByInvoice(ctx context.Context, orgID string, invoiceID uuid.UUID) (Intent, error)
}

// NewStore constructs a Store backed by a pgx connection pool.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

func (s *pgStore) FindInvoiceByNumber(ctx context.Context, orgID, number string) (InvoiceRef, error) {
	if s == nil || s.pool == nil {
		return InvoiceRef{}, ErrStoreUnavailable
	}
	var ref InvoiceRef
	err := s.pool.QueryRow(ctx, `SELECT id, invoice_number, total, status
FROM invoices WHERE org_id = $1 AND invoice_number = $2`, orgID, number).
		Scan(&ref.ID, &ref.Number, &ref.Total, &ref.Status)
	if err != nil {
		return InvoiceRef{}, err
	}
	return ref, nil
}

func (s *pgStore) FindInvoiceByID(ctx context.Context, orgID string, id uuid.UUID) (InvoiceRef, error) {
	if s == nil || s.pool == nil {
		return InvoiceRef{}, ErrStoreUnavailable
	}
	var ref InvoiceRef
	err := s.pool.QueryRow(ctx, `SELECT id, invoice_number, total, status
FROM invoices WHERE org_id = $1 AND id = $2`, orgID, id).
		Scan(&ref.ID, &ref.Number, &ref.Total, &ref.Status)
	if err != nil {
		return InvoiceRef{}, err
	}
	return ref, nil
}

const intentColumns = `id, org_id, invoice_id, provider, status, amount, tx_ref, checkout_url, expires_at, created_at`

func (s *pgStore) InsertIntent(ctx context.Context, in Intent) (Intent, error) {
	if s == nil || s.pool == nil {
		return Intent{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO payment_intents (org_id, invoice_id, provider, status, amount, tx_ref, checkout_url, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING `+intentColumns,
		in.OrgID, in.InvoiceID, in.Provider, in.Status, in.Amount, in.TxRef, in.CheckoutURL, in.ExpiresAt)
	return scanIntent(row)
}

func (s *pgStore) LatestIntentByInvoice(ctx context.Context, orgID string, invoiceID uuid.UUID) (Intent, error) {
	if s == nil || s.pool == nil {
		return Intent{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT `+intentColumns+` FROM payment_intents
WHERE org_id = $1 AND invoice_id = $2 ORDER BY created_at DESC LIMIT 1`, orgID, invoiceID)
	return scanIntent(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIntent(row rowScanner) (Intent, error) {
	var in Intent
	if err := row.Scan(&in.ID, &in.OrgID, &in.InvoiceID, &in.Provider, &in.Status, &in.Amount,
		&in.TxRef, &in.CheckoutURL, &in.ExpiresAt, &in.CreatedAt); err != nil {
		return Intent{}, err
	}
	return in, nil
}
