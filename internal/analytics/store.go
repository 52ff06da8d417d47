package analytics

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrStoreUnavailable indicates the analytics store dependency is not configured.
var ErrStoreUnavailable = errors.New("analytics: store unavailable")

// RevenueDay aggregates invoice activity for a single day.
type RevenueDay struct {
	Day          time.Time `json:"day"`
	PaidInvoices int64     `json:"paidInvoices"`
	AllInvoices  int64     `json:"allInvoices"`
	Revenue      float64   `json:"revenue"`
}

// UnitRevenue ranks a unit by collected revenue.
type UnitRevenue struct {
	UnitID   uuid.UUID `json:"unitId"`
	Label    string    `json:"label"`
	Invoices int64     `json:"invoices"`
	Revenue  float64   `json:"revenue"`
}

// Overview summarises portfolio health for dashboards.
type Overview struct {
	TotalUnits     int64   `json:"totalUnits"`
	OccupiedUnits  int64   `json:"occupiedUnits"`
	OccupancyRate  float64 `json:"occupancyRate"`
	MonthlyRent    float64 `json:"monthlyRent"`
	Outstanding    float64 `json:"outstanding"`
	OverdueAmount  float64 `json:"overdueAmount"`
	OverdueCount   int64   `json:"overdueCount"`
	CollectedMonth float64 `json:"collectedThisMonth"`
}

// Querier defines the database access required for analytics operations.
type Querier interface {
	GetRevenueDailyRange(ctx context.Context, orgID string, from, to time.Time) ([]RevenueDay, error)
	GetTopUnits(ctx context.Context, orgID string, limit, offset int) ([]UnitRevenue, error)
	GetOverview(ctx context.Context, orgID string, monthStart time.Time) (Overview, error)
}

// NewStore constructs a Querier backed by a pgx connection pool.
func NewStore(pool *pgxpool.Pool) Querier {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

func (s *pgStore) GetRevenueDailyRange(ctx context.Context, orgID string, from, to time.Time) ([]RevenueDay, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT date_trunc('day', issue_date) AS day,
       COUNT(*) FILTER (WHERE status = 'paid') AS paid_invoices,
       COUNT(*) AS all_invoices,
       COALESCE(SUM(total) FILTER (WHERE status = 'paid'), 0) AS revenue
FROM invoices
WHERE org_id = $1 AND issue_date >= $2 AND issue_date < $3 AND status <> 'cancelled'
GROUP BY 1
ORDER BY 1`, orgID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	days := make([]RevenueDay, 0, 31)
	for rows.Next() {
		var d RevenueDay
		if err := rows.Scan(&d.Day, &d.PaidInvoices, &d.AllInvoices, &d.Revenue); err != nil {
			return nil, err
		}
		days = append(days, d)
	}
	return days, rows.Err()
}

func (s *pgStore) GetTopUnits(ctx context.Context, orgID string, limit, offset int) ([]UnitRevenue, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT u.id, u.label,
       COUNT(i.id) AS invoices,
       COALESCE(SUM(i.total), 0) AS revenue
FROM units u
JOIN invoices i ON i.unit_id = u.id AND i.status = 'paid'
WHERE u.org_id = $1
GROUP BY u.id, u.label
ORDER BY revenue DESC
LIMIT $2 OFFSET $3`, orgID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	units := make([]UnitRevenue, 0, limit)
	for rows.Next() {
		var u UnitRevenue
		if err := rows.Scan(&u.UnitID, &u.Label, &u.Invoices, &u.Revenue); err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

func (s *pgStore) GetOverview(ctx context.Context, orgID string, monthStart time.Time) (Overview, error) {
	if s == nil || s.pool == nil {
		return Overview{}, ErrStoreUnavailable
	}
	var ov Overview
	err := s.pool.QueryRow(ctx, `SELECT
  (SELECT COUNT(*) FROM units WHERE org_id = $1),
  (SELECT COUNT(DISTINCT unit_id) FROM leases WHERE org_id = $1 AND status = 'active'),
  (SELECT COALESCE(SUM(rent_amount), 0) FROM leases WHERE org_id = $1 AND status = 'active'),
  (SELECT COALESCE(SUM(total), 0) FROM invoices WHERE org_id = $1 AND status IN ('sent', 'overdue')),
  (SELECT COALESCE(SUM(total), 0) FROM invoices WHERE org_id = $1 AND status = 'overdue'),
  (SELECT COUNT(*) FROM invoices WHERE org_id = $1 AND status = 'overdue'),
  (SELECT COALESCE(SUM(total), 0) FROM invoices WHERE org_id = $1 AND status = 'paid' AND paid_at >= $2)`,
		orgID, monthStart).
		Scan(&ov.TotalUnits, &ov.OccupiedUnits, &ov.MonthlyRent, &ov.Outstanding, &ov.OverdueAmount, &ov.OverdueCount, &ov.CollectedMonth)
	if err != nil {
		return Overview{}, err
	}
	if ov.TotalUnits > 0 {
		ov.OccupancyRate = float64(ov.OccupiedUnits) / float64(ov.TotalUnits)
	}
	return ov, nil
}
