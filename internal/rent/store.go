package rent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrStoreUnavailable indicates the store dependency is not configured.
var ErrStoreUnavailable = errors.New("rent: store unavailable")

// Unit is the slice of a unit the bulk orchestrator needs.
type Unit struct {
	ID         uuid.UUID
	Label      string
	Attributes UnitAttributes
}

// LeaseSnapshot is the slice of a lease the bulk orchestrator needs.
type LeaseSnapshot struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	UnitID     uuid.UUID
	RentAmount float64
}

// UnitOverride carries per-unit override patches applied during a bulk run.
// Nil fields leave the stored value untouched; ClearFlat and ClearRate drop
// an existing override.
type UnitOverride struct {
	UnitID             uuid.UUID `json:"unitId"`
	RatePerSqmOverride *float64  `json:"ratePerSqmOverride,omitempty"`
	FlatRentOverride   *float64  `json:"flatRentOverride,omitempty"`
	ClearRateOverride  bool      `json:"clearRateOverride,omitempty"`
	ClearFlatOverride  bool      `json:"clearFlatOverride,omitempty"`
}

// Store provides the database accessors used by the bulk rent orchestrator.
type Store interface {
	GetBuildingPolicy(ctx context.Context, orgID string, buildingID uuid.UUID) (*Policy, error)
	ReplaceBuildingPolicy(ctx context.Context, orgID string, buildingID uuid.UUID, policy Policy) error
	ListUnits(ctx context.Context, orgID string, buildingID uuid.UUID, floorFrom, floorTo *int) ([]Unit, error)
	ApplyUnitOverride(ctx context.Context, orgID string, override UnitOverride) error
	ListActiveLeasesByUnit(ctx context.Context, orgID string, unitID uuid.UUID, now time.Time) ([]LeaseSnapshot, error)
	UpdateLeaseRent(ctx context.Context, orgID string, leaseID uuid.UUID, rentAmount float64, rateSource string, breakdown []byte) error
}

// NewStore constructs a Store backed by a pgx connection pool.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

func (s *pgStore) GetBuildingPolicy(ctx context.Context, orgID string, buildingID uuid.UUID) (*Policy, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT rent_policy FROM buildings WHERE org_id = $1 AND id = $2`, orgID, buildingID).Scan(&raw)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var p Policy
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("rent: decode policy: %w", err)
	}
	return &p, nil
}

func (s *pgStore) ReplaceBuildingPolicy(ctx context.Context, orgID string, buildingID uuid.UUID, policy Policy) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	encoded, err := json.Marshal(policy)
	if err != nil {
		return fmt.Errorf("rent: encode policy: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `UPDATE buildings SET rent_policy = $3, updated_at = now() WHERE org_id = $1 AND id = $2`, orgID, buildingID, encoded)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (s *pgStore) ListUnits(ctx context.Context, orgID string, buildingID uuid.UUID, floorFrom, floorTo *int) ([]Unit, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT id, label, floor, area, rate_per_sqm_override, flat_rent_override FROM units
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
		var u Unit
		if err := rows.Scan(&u.ID, &u.Label, &u.Attributes.Floor, &u.Attributes.Area,
			&u.Attributes.RatePerSqmOverride, &u.Attributes.FlatRentOverride); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *pgStore) ApplyUnitOverride(ctx context.Context, orgID string, override UnitOverride) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.pool.Exec(ctx, `UPDATE units SET
  rate_per_sqm_override = CASE WHEN $3::bool THEN NULL ELSE COALESCE($4, rate_per_sqm_override) END,
  flat_rent_override = CASE WHEN $5::bool THEN NULL ELSE COALESCE($6, flat_rent_override) END,
  updated_at = now()
WHERE org_id = $1 AND id = $2`,
		orgID, override.UnitID, override.ClearRateOverride, override.RatePerSqmOverride,
		override.ClearFlatOverride, override.FlatRentOverride)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (s *pgStore) ListActiveLeasesByUnit(ctx context.Context, orgID string, unitID uuid.UUID, now time.Time) ([]LeaseSnapshot, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT id, tenant_id, unit_id, rent_amount FROM leases
WHERE org_id = $1 AND unit_id = $2 AND status = 'active'
  AND (end_date IS NULL OR end_date >= $3)`, orgID, unitID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LeaseSnapshot
	for rows.Next() {
		var l LeaseSnapshot
		if err := rows.Scan(&l.ID, &l.TenantID, &l.UnitID, &l.RentAmount); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *pgStore) UpdateLeaseRent(ctx context.Context, orgID string, leaseID uuid.UUID, rentAmount float64, rateSource string, breakdown []byte) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.pool.Exec(ctx, `UPDATE leases SET
  rent_amount = $3, calculated_rent = $3, rate_source = $4, rent_breakdown = $5, updated_at = now()
WHERE org_id = $1 AND id = $2`, orgID, leaseID, rentAmount, rateSource, breakdown)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
