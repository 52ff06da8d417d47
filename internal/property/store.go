package property

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/backend-properti/internal/rent"
)

// ErrStoreUnavailable indicates the store dependency is not configured.
var ErrStoreUnavailable = errors.New("property: store unavailable")

// Store provides database accessors for buildings, units, tenants, leases,
// work orders, and parking assignments.
type Store interface {
	CreateBuilding(ctx context.Context, b Building) (Building, error)
	GetBuilding(ctx context.Context, orgID string, id uuid.UUID) (Building, error)
	ListBuildings(ctx context.Context, orgID string) ([]Building, error)
	UpdateBuilding(ctx context.Context, orgID string, id uuid.UUID, name, address *string) (Building, error)
	ReplaceRentPolicy(ctx context.Context, orgID string, id uuid.UUID, policy *rent.Policy) error

	CreateUnit(ctx context.Context, u Unit) (Unit, error)
	GetUnit(ctx context.Context, orgID string, id uuid.UUID) (Unit, error)
	SaveUnit(ctx context.Context, u Unit) (Unit, error)
	ListUnitsByBuilding(ctx context.Context, orgID string, buildingID uuid.UUID, floorFrom, floorTo *int) ([]Unit, error)
	ListUnitHistory(ctx context.Context, orgID string, unitID uuid.UUID) ([]UnitHistoryEntry, error)

	CreateTenant(ctx context.Context, t Tenant) (Tenant, error)
	GetTenant(ctx context.Context, orgID string, id uuid.UUID) (Tenant, error)

	CreateLease(ctx context.Context, l Lease) (Lease, error)
	GetLease(ctx context.Context, orgID string, id uuid.UUID) (Lease, error)
	ListLeasesByTenant(ctx context.Context, orgID string, tenantID uuid.UUID) ([]Lease, error)
	UpdateLease(ctx context.Context, orgID string, id uuid.UUID, rentAmount *float64, endDate *time.Time) (Lease, error)
	TerminateLease(ctx context.Context, orgID string, id uuid.UUID, endDate time.Time) error

	CreateWorkOrder(ctx context.Context, w WorkOrder) (WorkOrder, error)
	GetWorkOrder(ctx context.Context, orgID string, id uuid.UUID) (WorkOrder, error)
	MarkWorkOrderBilled(ctx context.Context, orgID string, id uuid.UUID) error

	CreateParkingAssignment(ctx context.Context, p ParkingAssignment) (ParkingAssignment, error)
	GetParkingAssignment(ctx context.Context, orgID string, id uuid.UUID) (ParkingAssignment, error)
}

// NewStore constructs a Store backed by a pgx connection pool.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

const buildingColumns = `id, org_id, name, address, rent_policy, created_at, updated_at`

func (s *pgStore) CreateBuilding(ctx context.Context, b Building) (Building, error) {
	if s == nil || s.pool == nil {
		return Building{}, ErrStoreUnavailable
	}
	policy, err := marshalPolicy(b.RentPolicy)
	if err != nil {
		return Building{}, err
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO buildings (org_id, name, address, rent_policy)
VALUES ($1, $2, $3, $4) RETURNING `+buildingColumns, b.OrgID, b.Name, b.Address, policy)
	return scanBuilding(row)
}

func (s *pgStore) GetBuilding(ctx context.Context, orgID string, id uuid.UUID) (Building, error) {
	if s == nil || s.pool == nil {
		return Building{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT `+buildingColumns+` FROM buildings WHERE org_id = $1 AND id = $2`, orgID, id)
	return scanBuilding(row)
}

func (s *pgStore) ListBuildings(ctx context.Context, orgID string) ([]Building, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT `+buildingColumns+` FROM buildings WHERE org_id = $1 ORDER BY name`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Building
	for rows.Next() {
		b, err := scanBuilding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *pgStore) UpdateBuilding(ctx context.Context, orgID string, id uuid.UUID, name, address *string) (Building, error) {
	if s == nil || s.pool == nil {
		return Building{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `UPDATE buildings
SET name = COALESCE($3, name), address = COALESCE($4, address), updated_at = now()
WHERE org_id = $1 AND id = $2 RETURNING `+buildingColumns, orgID, id, name, address)
	return scanBuilding(row)
}

func (s *pgStore) ReplaceRentPolicy(ctx context.Context, orgID string, id uuid.UUID, policy *rent.Policy) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	encoded, err := marshalPolicy(policy)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `UPDATE buildings SET rent_policy = $3, updated_at = now() WHERE org_id = $1 AND id = $2`, orgID, id, encoded)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

const unitColumns = `id, org_id, building_id, label, floor, area, rate_per_sqm_override, flat_rent_override, created_at, updated_at`

func (s *pgStore) CreateUnit(ctx context.Context, u Unit) (Unit, error) {
	if s == nil || s.pool == nil {
		return Unit{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO units (org_id, building_id, label, floor, area, rate_per_sqm_override, flat_rent_override)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING `+unitColumns,
		u.OrgID, u.BuildingID, u.Label, u.Floor, u.Area, u.RatePerSqmOverride, u.FlatRentOverride)
	return scanUnit(row)
}

func (s *pgStore) GetUnit(ctx context.Context, orgID string, id uuid.UUID) (Unit, error) {
	if s == nil || s.pool == nil {
		return Unit{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT `+unitColumns+` FROM units WHERE org_id = $1 AND id = $2`, orgID, id)
	return scanUnit(row)
}

func (s *pgStore) SaveUnit(ctx context.Context, u Unit) (Unit, error) {
	if s == nil || s.pool == nil {
		return Unit{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `UPDATE units
SET label = $3, floor = $4, area = $5, rate_per_sqm_override = $6, flat_rent_override = $7, updated_at = now()
WHERE org_id = $1 AND id = $2 RETURNING `+unitColumns,
		u.OrgID, u.ID, u.Label, u.Floor, u.Area, u.RatePerSqmOverride, u.FlatRentOverride)
	return scanUnit(row)
}

func (s *pgStore) ListUnitHistory(ctx context.Context, orgID string, unitID uuid.UUID) ([]UnitHistoryEntry, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT l.id, l.tenant_id, t.name, l.status, l.start_date, l.end_date, l.rent_amount
FROM leases l
JOIN tenants t ON t.id = l.tenant_id
WHERE l.org_id = $1 AND l.unit_id = $2
ORDER BY l.start_date DESC`, orgID, unitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UnitHistoryEntry
	for rows.Next() {
		var e UnitHistoryEntry
		if err := rows.Scan(&e.LeaseID, &e.TenantID, &e.TenantName, &e.Status, &e.StartDate, &e.EndDate, &e.RentAmount); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *pgStore) ListUnitsByBuilding(ctx context.Context, orgID string, buildingID uuid.UUID, floorFrom, floorTo *int) ([]Unit, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT `+unitColumns+` FROM units
WHERE org_id = $1 AND building_id = $2
  AND ($3::int IS NULL OR floor >= $3)
  AND ($4::int IS NULL OR floor <= $4)
ORDER BY floor, label`, orgID, buildingID, floorFrom, floorTo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *pgStore) CreateTenant(ctx context.Context, t Tenant) (Tenant, error) {
	if s == nil || s.pool == nil {
		return Tenant{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO tenants (org_id, name, email, phone)
VALUES ($1, $2, $3, $4) RETURNING id, org_id, name, email, phone, created_at`, t.OrgID, t.Name, t.Email, t.Phone)
	var out Tenant
	if err := row.Scan(&out.ID, &out.OrgID, &out.Name, &out.Email, &out.Phone, &out.CreatedAt); err != nil {
		return Tenant{}, err
	}
	return out, nil
}

func (s *pgStore) GetTenant(ctx context.Context, orgID string, id uuid.UUID) (Tenant, error) {
	if s == nil || s.pool == nil {
		return Tenant{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT id, org_id, name, email, phone, created_at FROM tenants WHERE org_id = $1 AND id = $2`, orgID, id)
	var out Tenant
	if err := row.Scan(&out.ID, &out.OrgID, &out.Name, &out.Email, &out.Phone, &out.CreatedAt); err != nil {
		return Tenant{}, err
	}
	return out, nil
}

const leaseColumns = `id, org_id, unit_id, tenant_id, status, start_date, end_date, rent_amount, calculated_rent, rate_source, rent_breakdown, created_at, updated_at`

func (s *pgStore) CreateLease(ctx context.Context, l Lease) (Lease, error) {
	if s == nil || s.pool == nil {
		return Lease{}, ErrStoreUnavailable
	}
	status := l.Status
	if status == "" {
		status = LeaseStatusActive
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO leases (org_id, unit_id, tenant_id, status, start_date, end_date, rent_amount)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING `+leaseColumns,
		l.OrgID, l.UnitID, l.TenantID, status, l.StartDate, l.EndDate, l.RentAmount)
	return scanLease(row)
}

func (s *pgStore) GetLease(ctx context.Context, orgID string, id uuid.UUID) (Lease, error) {
	if s == nil || s.pool == nil {
		return Lease{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT `+leaseColumns+` FROM leases WHERE org_id = $1 AND id = $2`, orgID, id)
	return scanLease(row)
}

func (s *pgStore) ListLeasesByTenant(ctx context.Context, orgID string, tenantID uuid.UUID) ([]Lease, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT `+leaseColumns+` FROM leases
WHERE org_id = $1 AND tenant_id = $2 ORDER BY start_date DESC`, orgID, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Lease
	for rows.Next() {
		l, err := scanLease(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *pgStore) UpdateLease(ctx context.Context, orgID string, id uuid.UUID, rentAmount *float64, endDate *time.Time) (Lease, error) {
	if s == nil || s.pool == nil {
		return Lease{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `UPDATE leases
SET rent_amount = COALESCE($3, rent_amount), end_date = COALESCE($4, end_date), updated_at = now()
WHERE org_id = $1 AND id = $2 RETURNING `+leaseColumns, orgID, id, rentAmount, endDate)
	return scanLease(row)
}

func (s *pgStore) TerminateLease(ctx context.Context, orgID string, id uuid.UUID, endDate time.Time) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.pool.Exec(ctx, `UPDATE leases SET status = $3, end_date = $4, updated_at = now()
WHERE org_id = $1 AND id = $2`, orgID, id, LeaseStatusTerminated, endDate)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (s *pgStore) CreateWorkOrder(ctx context.Context, w WorkOrder) (WorkOrder, error) {
	if s == nil || s.pool == nil {
		return WorkOrder{}, ErrStoreUnavailable
	}
	status := w.Status
	if status == "" {
		status = WorkOrderStatusOpen
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO work_orders (org_id, unit_id, tenant_id, description, cost, status)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, org_id, unit_id, tenant_id, description, cost, status, created_at`,
		w.OrgID, w.UnitID, w.TenantID, w.Description, w.Cost, status)
	var out WorkOrder
	if err := row.Scan(&out.ID, &out.OrgID, &out.UnitID, &out.TenantID, &out.Description, &out.Cost, &out.Status, &out.CreatedAt); err != nil {
		return WorkOrder{}, err
	}
	return out, nil
}

func (s *pgStore) GetWorkOrder(ctx context.Context, orgID string, id uuid.UUID) (WorkOrder, error) {
	if s == nil || s.pool == nil {
		return WorkOrder{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT id, org_id, unit_id, tenant_id, description, cost, status, created_at
FROM work_orders WHERE org_id = $1 AND id = $2`, orgID, id)
	var out WorkOrder
	if err := row.Scan(&out.ID, &out.OrgID, &out.UnitID, &out.TenantID, &out.Description, &out.Cost, &out.Status, &out.CreatedAt); err != nil {
		return WorkOrder{}, err
	}
	return out, nil
}

func (s *pgStore) MarkWorkOrderBilled(ctx context.Context, orgID string, id uuid.UUID) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.pool.Exec(ctx, `UPDATE work_orders SET status = $3 WHERE org_id = $1 AND id = $2`, orgID, id, WorkOrderStatusBilled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (s *pgStore) CreateParkingAssignment(ctx context.Context, p ParkingAssignment) (ParkingAssignment, error) {
	if s == nil || s.pool == nil {
		return ParkingAssignment{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO parking_assignments (org_id, type, tenant_id, unit_id, spot_label, monthly_fee)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, org_id, type, tenant_id, unit_id, spot_label, monthly_fee, created_at`,
		p.OrgID, p.Type, p.TenantID, p.UnitID, p.SpotLabel, p.MonthlyFee)
	var out ParkingAssignment
	if err := row.Scan(&out.ID, &out.OrgID, &out.Type, &out.TenantID, &out.UnitID, &out.SpotLabel, &out.MonthlyFee, &out.CreatedAt); err != nil {
		return ParkingAssignment{}, err
	}
	return out, nil
}

func (s *pgStore) GetParkingAssignment(ctx context.Context, orgID string, id uuid.UUID) (ParkingAssignment, error) {
	if s == nil || s.pool == nil {
		return ParkingAssignment{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT id, org_id, type, tenant_id, unit_id, spot_label, monthly_fee, created_at
FROM parking_assignments WHERE org_id = $1 AND id = $2`, orgID, id)
	var out ParkingAssignment
	if err := row.Scan(&out.ID, &out.OrgID, &out.Type, &out.TenantID, &out.UnitID, &out.SpotLabel, &out.MonthlyFee, &out.CreatedAt); err != nil {
		return ParkingAssignment{}, err
	}
	return out, nil
}

func marshalPolicy(policy *rent.Policy) ([]byte, error) {
	if policy == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(policy)
	if err != nil {
		return nil, fmt.Errorf("property: encode rent policy: %w", err)
	}
	return encoded, nil
}

func scanBuilding(row pgx.Row) (Building, error) {
	var (
		b      Building
		policy []byte
	)
	if err := row.Scan(&b.ID, &b.OrgID, &b.Name, &b.Address, &policy, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return Building{}, err
	}
	if len(policy) > 0 {
		var p rent.Policy
		if err := json.Unmarshal(policy, &p); err != nil {
			return Building{}, fmt.Errorf("property: decode rent policy: %w", err)
		}
		b.RentPolicy = &p
	}
	return b, nil
}

func scanUnit(row pgx.Row) (Unit, error) {
	var u Unit
	if err := row.Scan(&u.ID, &u.OrgID, &u.BuildingID, &u.Label, &u.Floor, &u.Area,
		&u.RatePerSqmOverride, &u.FlatRentOverride, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return Unit{}, err
	}
	return u, nil
}

func scanLease(row pgx.Row) (Lease, error) {
	var l Lease
	if err := row.Scan(&l.ID, &l.OrgID, &l.UnitID, &l.TenantID, &l.Status, &l.StartDate, &l.EndDate,
		&l.RentAmount, &l.CalculatedRent, &l.RateSource, &l.RentBreakdown, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return Lease{}, err
	}
	return l, nil
}
