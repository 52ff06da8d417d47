package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrStoreUnavailable indicates the store dependency is not configured.
var ErrStoreUnavailable = errors.New("billing: store unavailable")

// Store provides the database accessors used by the invoice lifecycle.
type Store interface {
	InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error)
	GetInvoice(ctx context.Context, orgID string, id uuid.UUID) (Invoice, error)
	UpdateInvoiceContent(ctx context.Context, inv Invoice) error
	UpdateInvoiceStatus(ctx context.Context, orgID string, id uuid.UUID, status InvoiceStatus, paidAt *time.Time) error
	ListInvoices(ctx context.Context, orgID string, status string, limit, offset int) ([]Invoice, error)
	MaxInvoiceSeq(ctx context.Context, orgID, prefix string) (int, error)

	GetLeaseRef(ctx context.Context, orgID string, id uuid.UUID) (LeaseRef, error)
	FindActiveLeaseByTenant(ctx context.Context, orgID string, tenantID uuid.UUID, now time.Time) (LeaseRef, error)
	GetWorkOrderRef(ctx context.Context, orgID string, id uuid.UUID) (WorkOrderRef, error)
	MarkWorkOrderBilled(ctx context.Context, orgID string, id uuid.UUID) error
	GetParkingRef(ctx context.Context, orgID string, id uuid.UUID) (ParkingRef, error)
}

// NewStore constructs a Store backed by a pgx connection pool.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

const invoiceColumns = `id, org_id, invoice_number, lease_id, tenant_id, unit_id, issue_date, due_date,
period_start, period_end, items, subtotal, tax, vat_rate, total, net_before_vat, net_after_vat,
status, linked_work_order_id, linked_invoice_id, paid_at, created_at, updated_at`

func (s *pgStore) InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error) {
	if s == nil || s.pool == nil {
		return Invoice{}, ErrStoreUnavailable
	}
	items, err := json.Marshal(inv.Items)
	if err != nil {
		return Invoice{}, fmt.Errorf("billing: encode items: %w", err)
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO invoices
(org_id, invoice_number, lease_id, tenant_id, unit_id, issue_date, due_date, period_start, period_end,
 items, subtotal, tax, vat_rate, total, net_before_vat, net_after_vat, status, linked_work_order_id, linked_invoice_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
RETURNING `+invoiceColumns,
		inv.OrgID, inv.InvoiceNumber, inv.LeaseID, inv.TenantID, inv.UnitID, inv.IssueDate, inv.DueDate,
		inv.PeriodStart, inv.PeriodEnd, items, inv.Subtotal, inv.Tax, inv.VATRate, inv.Total,
		inv.NetBeforeVAT, inv.NetAfterVAT, inv.Status, inv.LinkedWorkOrderID, inv.LinkedInvoiceID)
	return scanInvoice(row)
}

func (s *pgStore) GetInvoice(ctx context.Context, orgID string, id uuid.UUID) (Invoice, error) {
	if s == nil || s.pool == nil {
		return Invoice{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE org_id = $1 AND id = $2`, orgID, id)
	return scanInvoice(row)
}

func (s *pgStore) UpdateInvoiceContent(ctx context.Context, inv Invoice) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	items, err := json.Marshal(inv.Items)
	if err != nil {
		return fmt.Errorf("billing: encode items: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `UPDATE invoices SET
  issue_date = $3, due_date = $4, period_start = $5, period_end = $6,
  items = $7, subtotal = $8, tax = $9, vat_rate = $10, total = $11,
  net_before_vat = $12, net_after_vat = $13, updated_at = now()
WHERE org_id = $1 AND id = $2`,
		inv.OrgID, inv.ID, inv.IssueDate, inv.DueDate, inv.PeriodStart, inv.PeriodEnd,
		items, inv.Subtotal, inv.Tax, inv.VATRate, inv.Total, inv.NetBeforeVAT, inv.NetAfterVAT)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (s *pgStore) UpdateInvoiceStatus(ctx context.Context, orgID string, id uuid.UUID, status InvoiceStatus, paidAt *time.Time) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.pool.Exec(ctx, `UPDATE invoices SET status = $3, paid_at = $4, updated_at = now()
WHERE org_id = $1 AND id = $2`, orgID, id, status, paidAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (s *pgStore) ListInvoices(ctx context.Context, orgID string, status string, limit, offset int) ([]Invoice, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	status = strings.TrimSpace(status)
	var (
		rows pgx.Rows
		err  error
	)
	if status != "" {
		rows, err = s.pool.Query(ctx, `SELECT `+invoiceColumns+` FROM invoices
WHERE org_id = $1 AND status = $2 ORDER BY created_at DESC LIMIT $3 OFFSET $4`, orgID, status, limit, offset)
	} else {
		rows, err = s.pool.Query(ctx, `SELECT `+invoiceColumns+` FROM invoices
WHERE org_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, orgID, limit, offset)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Invoice, 0, limit)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// MaxInvoiceSeq returns the highest sequence already issued under the given
// number prefix, zero when none exist.
func (s *pgStore) MaxInvoiceSeq(ctx context.Context, orgID, prefix string) (int, error) {
	if s == nil || s.pool == nil {
		return 0, ErrStoreUnavailable
	}
	var number string
	err := s.pool.QueryRow(ctx, `SELECT invoice_number FROM invoices
WHERE org_id = $1 AND invoice_number LIKE $2 || '%'
ORDER BY invoice_number DESC LIMIT 1`, orgID, prefix).Scan(&number)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	seq, err := strconv.Atoi(strings.TrimPrefix(number, prefix))
	if err != nil {
		return 0, fmt.Errorf("billing: malformed invoice number %q: %w", number, err)
	}
	return seq, nil
}

func (s *pgStore) GetLeaseRef(ctx context.Context, orgID string, id uuid.UUID) (LeaseRef, error) {
	if s == nil || s.pool == nil {
		return LeaseRef{}, ErrStoreUnavailable
	}
	var ref LeaseRef
	err := s.pool.QueryRow(ctx, `SELECT id, tenant_id, unit_id, status, end_date FROM leases
WHERE org_id = $1 AND id = $2`, orgID, id).Scan(&ref.ID, &ref.TenantID, &ref.UnitID, &ref.Status, &ref.EndDate)
	if err != nil {
		return LeaseRef{}, err
	}
	return ref, nil
}

func (s *pgStore) FindActiveLeaseByTenant(ctx context.Context, orgID string, tenantID uuid.UUID, now time.Time) (LeaseRef, error) {
	if s == nil || s.pool == nil {
		return LeaseRef{}, ErrStoreUnavailable
	}
	var ref LeaseRef
	err := s.pool.QueryRow(ctx, `SELECT id, tenant_id, unit_id, status, end_date FROM leases
WHERE org_id = $1 AND tenant_id = $2 AND status = 'active'
  AND (end_date IS NULL OR end_date >= $3)
ORDER BY start_date DESC LIMIT 1`, orgID, tenantID, now).Scan(&ref.ID, &ref.TenantID, &ref.UnitID, &ref.Status, &ref.EndDate)
	if err != nil {
		return LeaseRef{}, err
	}
	return ref, nil
}

func (s *pgStore) GetWorkOrderRef(ctx context.Context, orgID string, id uuid.UUID) (WorkOrderRef, error) {
	if s == nil || s.pool == nil {
		return WorkOrderRef{}, ErrStoreUnavailable
	}
	var ref WorkOrderRef
	err := s.pool.QueryRow(ctx, `SELECT id, unit_id, tenant_id, description, cost FROM work_orders
WHERE org_id = $1 AND id = $2`, orgID, id).Scan(&ref.ID, &ref.UnitID, &ref.TenantID, &ref.Description, &ref.Cost)
	if err != nil {
		return WorkOrderRef{}, err
	}
	return ref, nil
}

func (s *pgStore) MarkWorkOrderBilled(ctx context.Context, orgID string, id uuid.UUID) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.pool.Exec(ctx, `UPDATE work_orders SET status = 'billed' WHERE org_id = $1 AND id = $2`, orgID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (s *pgStore) GetParkingRef(ctx context.Context, orgID string, id uuid.UUID) (ParkingRef, error) {
	if s == nil || s.pool == nil {
		return ParkingRef{}, ErrStoreUnavailable
	}
	var ref ParkingRef
	err := s.pool.QueryRow(ctx, `SELECT id, type, tenant_id, unit_id, spot_label, monthly_fee FROM parking_assignments
WHERE org_id = $1 AND id = $2`, orgID, id).Scan(&ref.ID, &ref.Type, &ref.TenantID, &ref.UnitID, &ref.SpotLabel, &ref.MonthlyFee)
	if err != nil {
		return ParkingRef{}, err
	}
	return ref, nil
}

func scanInvoice(row pgx.Row) (Invoice, error) {
	var (
		inv   Invoice
		items []byte
	)
	if err := row.Scan(&inv.ID, &inv.OrgID, &inv.InvoiceNumber, &inv.LeaseID, &inv.TenantID, &inv.UnitID,
		&inv.IssueDate, &inv.DueDate, &inv.PeriodStart, &inv.PeriodEnd, &items, &inv.Subtotal, &inv.Tax,
		&inv.VATRate, &inv.Total, &inv.NetBeforeVAT, &inv.NetAfterVAT, &inv.Status,
		&inv.LinkedWorkOrderID, &inv.LinkedInvoiceID, &inv.PaidAt, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
		return Invoice{}, err
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &inv.Items); err != nil {
			return Invoice{}, fmt.Errorf("billing: decode items: %w", err)
		}
	}
	return inv, nil
}
