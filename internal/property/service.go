package property

import (
	"context"
	"errors"
	"fmt"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/backend-properti/internal/common"
	"github.com/noah-isme/backend-properti/internal/events"
	"github.com/noah-isme/backend-properti/internal/rent"
)

type eventEmitter interface {
	Emit(ctx context.Context, orgID, topic string, aggregateID uuid.UUID, payload any) (events.DomainEvent, error)
}

// Service orchestrates building, unit, tenant, and lease operations scoped to
// one organization per call.
type Service struct {
	store    Store
	cache    *Cache
	bus      eventEmitter
	validate *validator.Validate
	now      func() time.Time
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Store Store
	Cache *Cache
	Bus   eventEmitter
	Now   func() time.Time
}

// NewService constructs a Service instance.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("property: store is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:    cfg.Store,
		cache:    cfg.Cache,
		bus:      cfg.Bus,
		validate: validator.New(),
		now:      now,
	}, nil
}

// CreateBuildingParams carries the fields accepted on building creation.
type CreateBuildingParams struct {
	Name    string       `json:"name" validate:"required,min=1,max=200"`
	Address string       `json:"address" validate:"max=500"`
	Policy  *rent.Policy `json:"rentPolicy,omitempty"`
}

// CreateBuilding persists a new building for the organization.
func (s *Service) CreateBuilding(ctx context.Context, orgID string, params CreateBuildingParams) (Building, error) {
	if err := s.validate.Struct(params); err != nil {
		return Building{}, common.NewValidationError("invalid building payload", err)
	}
	if params.Policy != nil && params.Policy.BaseRatePerSqm < 0 {
		return Building{}, common.NewValidationError("baseRatePerSqm cannot be negative", nil)
	}
	b, err := s.store.CreateBuilding(ctx, Building{
		OrgID:      orgID,
		Name:       params.Name,
		Address:    params.Address,
		RentPolicy: params.Policy,
	})
	if err != nil {
		return Building{}, fmt.Errorf("create building: %w", err)
	}
	return b, nil
}

// GetBuilding fetches a building in the organization's scope.
func (s *Service) GetBuilding(ctx context.Context, orgID string, id uuid.UUID) (Building, error) {
	b, err := s.store.GetBuilding(ctx, orgID, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Building{}, common.NewNotFoundError("building not found", err)
		}
		return Building{}, fmt.Errorf("get building: %w", err)
	}
	return b, nil
}

// UpdateBuildingRentPolicy replaces the building's rent policy in one step.
// Passing a nil policy clears it, which pushes affected units back to the
// insufficient-data outcome on the next resolution.
func (s *Service) UpdateBuildingRentPolicy(ctx context.Context, orgID string, id uuid.UUID, policy *rent.Policy) (Building, error) {
	if policy != nil {
		if policy.BaseRatePerSqm < 0 {
			return Building{}, common.NewValidationError("baseRatePerSqm cannot be negative", nil)
		}
		if policy.MinRatePerSqm != nil && *policy.MinRatePerSqm < 0 {
			return Building{}, common.NewValidationError("minRatePerSqm cannot be negative", nil)
		}
	}
	if err := s.store.ReplaceRentPolicy(ctx, orgID, id, policy); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Building{}, common.NewNotFoundError("building not found", err)
		}
		return Building{}, fmt.Errorf("replace rent policy: %w", err)
	}
	b, err := s.store.GetBuilding(ctx, orgID, id)
	if err != nil {
		return Building{}, fmt.Errorf("reload building: %w", err)
	}
	if s.bus != nil {
		_, _ = s.bus.Emit(ctx, orgID, events.TopicRentPolicyUpdated, id, map[string]any{
			"buildingId": id,
			"rentPolicy": policy,
		})
	}
	return b, nil
}

// UpdateBuildingParams carries the optional fields accepted on building update.
type UpdateBuildingParams struct {
	Name    *string `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Address *string `json:"address,omitempty" validate:"omitempty,max=500"`
}

// UpdateBuilding patches the building's name and address. Nil fields are left
// unchanged.
func (s *Service) UpdateBuilding(ctx context.Context, orgID string, id uuid.UUID, params UpdateBuildingParams) (Building, error) {
	if err := s.validate.Struct(params); err != nil {
		return Building{}, common.NewValidationError("invalid building payload", err)
	}
	b, err := s.store.UpdateBuilding(ctx, orgID, id, params.Name, params.Address)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Building{}, common.NewNotFoundError("building not found", err)
		}
		return Building{}, fmt.Errorf("update building: %w", err)
	}
	return b, nil
}

// ListBuildings returns the organization's buildings sorted by name.
func (s *Service) ListBuildings(ctx context.Context, orgID string) ([]Building, error) {
	rows, err := s.store.ListBuildings(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("list buildings: %w", err)
	}
	return rows, nil
}

// CreateUnitParams carries the fields accepted on unit creation.
type CreateUnitParams struct {
	BuildingID         uuid.UUID `json:"buildingId" validate:"required"`
	Label              string    `json:"label" validate:"required,min=1,max=50"`
	Floor              *int      `json:"floor,omitempty"`
	Area               *float64  `json:"area,omitempty" validate:"omitempty,gt=0"`
	RatePerSqmOverride *float64  `json:"ratePerSqmOverride,omitempty" validate:"omitempty,gte=0"`
	FlatRentOverride   *float64  `json:"flatRentOverride,omitempty" validate:"omitempty,gte=0"`
}

// CreateUnit persists a new unit after checking the building belongs to the
// same organization.
func (s *Service) CreateUnit(ctx context.Context, orgID string, params CreateUnitParams) (Unit, error) {
	if err := s.validate.Struct(params); err != nil {
		return Unit{}, common.NewValidationError("invalid unit payload", err)
	}
	if _, err := s.GetBuilding(ctx, orgID, params.BuildingID); err != nil {
		return Unit{}, err
	}
	u, err := s.store.CreateUnit(ctx, Unit{
		OrgID:              orgID,
		BuildingID:         params.BuildingID,
		Label:              params.Label,
		Floor:              params.Floor,
		Area:               params.Area,
		RatePerSqmOverride: params.RatePerSqmOverride,
		FlatRentOverride:   params.FlatRentOverride,
	})
	if err != nil {
		return Unit{}, fmt.Errorf("create unit: %w", err)
	}
	return u, nil
}

// GetUnit fetches a unit in the organization's scope.
func (s *Service) GetUnit(ctx context.Context, orgID string, id uuid.UUID) (Unit, error) {
	u, err := s.store.GetUnit(ctx, orgID, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Unit{}, common.NewNotFoundError("unit not found", err)
		}
		return Unit{}, fmt.Errorf("get unit: %w", err)
	}
	return u, nil
}

// UpdateUnitParams carries the optional fields accepted on unit update. Nil
// fields are left unchanged; overrides cannot be cleared through this path.
type UpdateUnitParams struct {
	Label              *string  `json:"label,omitempty" validate:"omitempty,min=1,max=50"`
	Floor              *int     `json:"floor,omitempty"`
	Area               *float64 `json:"area,omitempty" validate:"omitempty,gt=0"`
	RatePerSqmOverride *float64 `json:"ratePerSqmOverride,omitempty" validate:"omitempty,gte=0"`
	FlatRentOverride   *float64 `json:"flatRentOverride,omitempty" validate:"omitempty,gte=0"`
}

// UpdateUnit patches a unit's label and rent attributes.
func (s *Service) UpdateUnit(ctx context.Context, orgID string, id uuid.UUID, params UpdateUnitParams) (Unit, error) {
	if err := s.validate.Struct(params); err != nil {
		return Unit{}, common.NewValidationError("invalid unit payload", err)
	}
	u, err := s.GetUnit(ctx, orgID, id)
	if err != nil {
		return Unit{}, err
	}
	if params.Label != nil {
		u.Label = *params.Label
	}
	if params.Floor != nil {
		u.Floor = params.Floor
	}
	if params.Area != nil {
		u.Area = params.Area
	}
	if params.RatePerSqmOverride != nil {
		u.RatePerSqmOverride = params.RatePerSqmOverride
	}
	if params.FlatRentOverride != nil {
		u.FlatRentOverride = params.FlatRentOverride
	}
	saved, err := s.store.SaveUnit(ctx, u)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Unit{}, common.NewNotFoundError("unit not found", err)
		}
		return Unit{}, fmt.Errorf("update unit: %w", err)
	}
	return saved, nil
}

// GetUnitHistory returns the unit's occupancy history newest first. The result
// is cached and invalidated when leases touching the unit change.
func (s *Service) GetUnitHistory(ctx context.Context, orgID string, unitID uuid.UUID) ([]UnitHistoryEntry, error) {
	key := unitHistoryCacheKey(orgID, unitID)
	if s.cache != nil {
		var cached []UnitHistoryEntry
		ok, err := s.cache.GetJSON(ctx, key, &cached)
		if err == nil && ok {
			return cached, nil
		}
	}
	if _, err := s.GetUnit(ctx, orgID, unitID); err != nil {
		return nil, err
	}
	entries, err := s.store.ListUnitHistory(ctx, orgID, unitID)
	if err != nil {
		return nil, fmt.Errorf("list unit history: %w", err)
	}
	if s.cache != nil {
		_ = s.cache.SetJSON(ctx, key, entries)
	}
	return entries, nil
}

// ListUnits returns a building's units, optionally filtered to a floor range.
func (s *Service) ListUnits(ctx context.Context, orgID string, buildingID uuid.UUID, floorFrom, floorTo *int) ([]Unit, error) {
	if floorFrom != nil && floorTo != nil && *floorFrom > *floorTo {
		return nil, common.NewValidationError("floor range is inverted", nil)
	}
	rows, err := s.store.ListUnitsByBuilding(ctx, orgID, buildingID, floorFrom, floorTo)
	if err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	return rows, nil
}

// CreateTenantParams carries the fields accepted on tenant creation.
type CreateTenantParams struct {
	Name  string `json:"name" validate:"required,min=1,max=200"`
	Email string `json:"email,omitempty" validate:"omitempty,email"`
	Phone string `json:"phone,omitempty" validate:"max=30"`
}

// CreateTenant registers a renter in the organization.
func (s *Service) CreateTenant(ctx context.Context, orgID string, params CreateTenantParams) (Tenant, error) {
	if err := s.validate.Struct(params); err != nil {
		return Tenant{}, common.NewValidationError("invalid tenant payload", err)
	}
	t, err := s.store.CreateTenant(ctx, Tenant{OrgID: orgID, Name: params.Name, Email: params.Email, Phone: params.Phone})
	if err != nil {
		return Tenant{}, fmt.Errorf("create tenant: %w", err)
	}
	return t, nil
}

// GetTenant fetches a tenant in the organization's scope.
func (s *Service) GetTenant(ctx context.Context, orgID string, id uuid.UUID) (Tenant, error) {
	t, err := s.store.GetTenant(ctx, orgID, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Tenant{}, common.NewNotFoundError("tenant not found", err)
		}
		return Tenant{}, fmt.Errorf("get tenant: %w", err)
	}
	return t, nil
}

// CreateLeaseParams carries the fields accepted on lease creation.
type CreateLeaseParams struct {
	UnitID     uuid.UUID  `json:"unitId" validate:"required"`
	TenantID   uuid.UUID  `json:"tenantId" validate:"required"`
	StartDate  time.Time  `json:"startDate" validate:"required"`
	EndDate    *time.Time `json:"endDate,omitempty"`
	RentAmount float64    `json:"rentAmount" validate:"gte=0"`
}

// CreateLease binds a tenant to a unit. Both references must belong to the
// calling organization.
func (s *Service) CreateLease(ctx context.Context, orgID string, params CreateLeaseParams) (Lease, error) {
	if err := s.validate.Struct(params); err != nil {
		return Lease{}, common.NewValidationError("invalid lease payload", err)
	}
	if params.EndDate != nil && params.EndDate.Before(params.StartDate) {
		return Lease{}, common.NewValidationError("endDate is before startDate", nil)
	}
	if _, err := s.GetUnit(ctx, orgID, params.UnitID); err != nil {
		return Lease{}, err
	}
	if _, err := s.GetTenant(ctx, orgID, params.TenantID); err != nil {
		return Lease{}, err
	}
	l, err := s.store.CreateLease(ctx, Lease{
		OrgID:      orgID,
		UnitID:     params.UnitID,
		TenantID:   params.TenantID,
		Status:     LeaseStatusActive,
		StartDate:  params.StartDate,
		EndDate:    params.EndDate,
		RentAmount: params.RentAmount,
	})
	if err != nil {
		return Lease{}, fmt.Errorf("create lease: %w", err)
	}
	s.invalidateLedger(ctx, orgID, params.TenantID)
	s.invalidateUnitHistory(ctx, orgID, params.UnitID)
	if s.bus != nil {
		_, _ = s.bus.Emit(ctx, orgID, events.TopicLeaseActivated, l.ID, map[string]any{
			"leaseId":    l.ID,
			"unitId":     l.UnitID,
			"tenantId":   l.TenantID,
			"rentAmount": l.RentAmount,
			"startDate":  l.StartDate,
		})
	}
	return l, nil
}

// GetLease fetches a lease in the organization's scope.
func (s *Service) GetLease(ctx context.Context, orgID string, id uuid.UUID) (Lease, error) {
	l, err := s.store.GetLease(ctx, orgID, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Lease{}, common.NewNotFoundError("lease not found", err)
		}
		return Lease{}, fmt.Errorf("get lease: %w", err)
	}
	return l, nil
}

// UpdateLeaseParams carries the optional fields accepted on lease update.
type UpdateLeaseParams struct {
	RentAmount *float64   `json:"rentAmount,omitempty" validate:"omitempty,gte=0"`
	EndDate    *time.Time `json:"endDate,omitempty"`
}

// UpdateLease patches the agreed rent or end date of a lease that has not been
// terminated.
func (s *Service) UpdateLease(ctx context.Context, orgID string, id uuid.UUID, params UpdateLeaseParams) (Lease, error) {
	if err := s.validate.Struct(params); err != nil {
		return Lease{}, common.NewValidationError("invalid lease payload", err)
	}
	current, err := s.GetLease(ctx, orgID, id)
	if err != nil {
		return Lease{}, err
	}
	if current.Status == LeaseStatusTerminated {
		return Lease{}, common.NewInvalidStateError("terminated leases cannot be edited", nil)
	}
	if params.EndDate != nil && params.EndDate.Before(current.StartDate) {
		return Lease{}, common.NewValidationError("endDate is before startDate", nil)
	}
	l, err := s.store.UpdateLease(ctx, orgID, id, params.RentAmount, params.EndDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Lease{}, common.NewNotFoundError("lease not found", err)
		}
		return Lease{}, fmt.Errorf("update lease: %w", err)
	}
	s.invalidateLedger(ctx, orgID, current.TenantID)
	s.invalidateUnitHistory(ctx, orgID, current.UnitID)
	return l, nil
}

// TerminateLease ends a lease at the given date.
func (s *Service) TerminateLease(ctx context.Context, orgID string, id uuid.UUID, endDate time.Time) error {
	lease, err := s.GetLease(ctx, orgID, id)
	if err != nil {
		return err
	}
	if lease.Status == LeaseStatusTerminated {
		return common.NewInvalidStateError("lease is already terminated", nil)
	}
	if err := s.store.TerminateLease(ctx, orgID, id, endDate); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return common.NewNotFoundError("lease not found", err)
		}
		return fmt.Errorf("terminate lease: %w", err)
	}
	s.invalidateLedger(ctx, orgID, lease.TenantID)
	s.invalidateUnitHistory(ctx, orgID, lease.UnitID)
	if s.bus != nil {
		_, _ = s.bus.Emit(ctx, orgID, events.TopicLeaseTerminated, id, map[string]any{
			"leaseId":  id,
			"unitId":   lease.UnitID,
			"tenantId": lease.TenantID,
			"endDate":  endDate,
		})
	}
	return nil
}

// CreateWorkOrderParams carries the fields accepted on work order creation.
type CreateWorkOrderParams struct {
	UnitID      *uuid.UUID `json:"unitId,omitempty"`
	TenantID    *uuid.UUID `json:"tenantId,omitempty"`
	Description string     `json:"description" validate:"required,min=1,max=1000"`
	Cost        float64    `json:"cost" validate:"gte=0"`
}

// CreateWorkOrder registers a maintenance job.
func (s *Service) CreateWorkOrder(ctx context.Context, orgID string, params CreateWorkOrderParams) (WorkOrder, error) {
	if err := s.validate.Struct(params); err != nil {
		return WorkOrder{}, common.NewValidationError("invalid work order payload", err)
	}
	if params.UnitID != nil {
		if _, err := s.GetUnit(ctx, orgID, *params.UnitID); err != nil {
			return WorkOrder{}, err
		}
	}
	if params.TenantID != nil {
		if _, err := s.GetTenant(ctx, orgID, *params.TenantID); err != nil {
			return WorkOrder{}, err
		}
	}
	w, err := s.store.CreateWorkOrder(ctx, WorkOrder{
		OrgID:       orgID,
		UnitID:      params.UnitID,
		TenantID:    params.TenantID,
		Description: params.Description,
		Cost:        params.Cost,
		Status:      WorkOrderStatusOpen,
	})
	if err != nil {
		return WorkOrder{}, fmt.Errorf("create work order: %w", err)
	}
	return w, nil
}

// GetWorkOrder fetches a work order in the organization's scope.
func (s *Service) GetWorkOrder(ctx context.Context, orgID string, id uuid.UUID) (WorkOrder, error) {
	w, err := s.store.GetWorkOrder(ctx, orgID, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return WorkOrder{}, common.NewNotFoundError("work order not found", err)
		}
		return WorkOrder{}, fmt.Errorf("get work order: %w", err)
	}
	return w, nil
}

// CreateParkingAssignmentParams carries the fields accepted on parking
// assignment creation.
type CreateParkingAssignmentParams struct {
	Type       ParkingType `json:"type" validate:"required,oneof=tenant visitor"`
	TenantID   *uuid.UUID  `json:"tenantId,omitempty"`
	UnitID     *uuid.UUID  `json:"unitId,omitempty"`
	SpotLabel  string      `json:"spotLabel" validate:"required,min=1,max=50"`
	MonthlyFee float64     `json:"monthlyFee" validate:"gte=0"`
}

// CreateParkingAssignment allocates a parking spot. Tenant-type assignments
// must name the tenant they bill to.
func (s *Service) CreateParkingAssignment(ctx context.Context, orgID string, params CreateParkingAssignmentParams) (ParkingAssignment, error) {
	if err := s.validate.Struct(params); err != nil {
		return ParkingAssignment{}, common.NewValidationError("invalid parking payload", err)
	}
	if params.Type == ParkingTypeTenant {
		if params.TenantID == nil {
			return ParkingAssignment{}, common.NewValidationError("tenant assignments require tenantId", nil)
		}
		if _, err := s.GetTenant(ctx, orgID, *params.TenantID); err != nil {
			return ParkingAssignment{}, err
		}
	}
	p, err := s.store.CreateParkingAssignment(ctx, ParkingAssignment{
		OrgID:      orgID,
		Type:       params.Type,
		TenantID:   params.TenantID,
		UnitID:     params.UnitID,
		SpotLabel:  params.SpotLabel,
		MonthlyFee: params.MonthlyFee,
	})
	if err != nil {
		return ParkingAssignment{}, fmt.Errorf("create parking assignment: %w", err)
	}
	return p, nil
}

// GetParkingAssignment fetches a parking assignment in the organization's scope.
func (s *Service) GetParkingAssignment(ctx context.Context, orgID string, id uuid.UUID) (ParkingAssignment, error) {
	p, err := s.store.GetParkingAssignment(ctx, orgID, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ParkingAssignment{}, common.NewNotFoundError("parking assignment not found", err)
		}
		return ParkingAssignment{}, fmt.Errorf("get parking assignment: %w", err)
	}
	return p, nil
}

// TenantLedger summarises a tenant's lease history.
type TenantLedger struct {
	Tenant       Tenant  `json:"tenant"`
	Leases       []Lease `json:"leases"`
	ActiveLeases int     `json:"activeLeases"`
	MonthlyRent  float64 `json:"monthlyRent"`
}

// GetTenantLedger returns the tenant's lease history with active totals. The
// result is cached and invalidated when leases change.
func (s *Service) GetTenantLedger(ctx context.Context, orgID string, tenantID uuid.UUID) (TenantLedger, error) {
	key := ledgerCacheKey(orgID, tenantID)
	if s.cache != nil {
		var cached TenantLedger
		ok, err := s.cache.GetJSON(ctx, key, &cached)
		if err == nil && ok {
			return cached, nil
		}
	}
	tenant, err := s.GetTenant(ctx, orgID, tenantID)
	if err != nil {
		return TenantLedger{}, err
	}
	leases, err := s.store.ListLeasesByTenant(ctx, orgID, tenantID)
	if err != nil {
		return TenantLedger{}, fmt.Errorf("list leases: %w", err)
	}
	ledger := TenantLedger{Tenant: tenant, Leases: leases}
	now := s.now()
	for _, l := range leases {
		if l.ActiveAt(now) {
			ledger.ActiveLeases++
			ledger.MonthlyRent += l.RentAmount
		}
	}
	if s.cache != nil {
		_ = s.cache.SetJSON(ctx, key, ledger)
	}
	return ledger, nil
}

func (s *Service) invalidateLedger(ctx context.Context, orgID string, tenantID uuid.UUID) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Delete(ctx, ledgerCacheKey(orgID, tenantID))
}

func (s *Service) invalidateUnitHistory(ctx context.Context, orgID string, unitID uuid.UUID) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Delete(ctx, unitHistoryCacheKey(orgID, unitID))
}

func ledgerCacheKey(orgID string, tenantID uuid.UUID) string {
	return "property:ledger:" + orgID + ":" + tenantID.String()
}

func unitHistoryCacheKey(orgID string, unitID uuid.UUID) string {
	return "property:unithist:" + orgID + ":" + unitID.String()
}
