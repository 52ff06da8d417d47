package rent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-properti/internal/common"
	"github.com/noah-isme/backend-properti/internal/events"
	"github.com/noah-isme/backend-properti/internal/obs"
)

// RentChange describes a lease rent change sent to the notification collaborator.
type RentChange struct {
	LeaseID       uuid.UUID `json:"leaseId"`
	TenantID      uuid.UUID `json:"tenantId"`
	OrgID         string    `json:"organizationId"`
	UnitLabel     string    `json:"unitLabel"`
	OldRent       float64   `json:"oldRent"`
	NewRent       float64   `json:"newRent"`
	EffectiveDate time.Time `json:"effectiveDate"`
}

// Notifier delivers rent-change notices. Delivery failures do not abort the
// bulk run.
type Notifier interface {
	NotifyRentChange(ctx context.Context, change RentChange) error
}

// Locker serialises apply runs per building.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

type eventEmitter interface {
	Emit(ctx context.Context, orgID, topic string, aggregateID uuid.UUID, payload any) (events.DomainEvent, error)
}

// BulkUpdateParams describes one bulk rent recalculation request.
type BulkUpdateParams struct {
	BuildingID    uuid.UUID      `json:"buildingId"`
	Policy        *Policy        `json:"policy,omitempty"`
	UnitOverrides []UnitOverride `json:"unitOverrides,omitempty"`
	FloorFrom     *int           `json:"floorFrom,omitempty"`
	FloorTo       *int           `json:"floorTo,omitempty"`
	Apply         bool           `json:"apply"`
	EffectiveFrom time.Time      `json:"effectiveFrom"`
}

// LeaseResult reports the outcome for one lease in a bulk run. NewRent is nil
// when the resolver lacked data and the existing rent was kept.
type LeaseResult struct {
	LeaseID    uuid.UUID  `json:"leaseId"`
	TenantID   uuid.UUID  `json:"tenantId"`
	UnitID     uuid.UUID  `json:"unitId"`
	UnitLabel  string     `json:"unitLabel"`
	OldRent    float64    `json:"oldRent"`
	NewRent    *float64   `json:"newRent"`
	RateSource RateSource `json:"rateSource"`
	Applied    bool       `json:"applied"`
}

// BulkResult is the outcome of a bulk rent update or preview.
type BulkResult struct {
	Count   int           `json:"count"`
	Results []LeaseResult `json:"results"`
}

// Service runs rent recalculation across a building, sequentially and
// without rollback. A failed apply run leaves earlier leases updated.
type Service struct {
	store    Store
	locker   Locker
	bus      eventEmitter
	notifier Notifier
	decimals int
	lockTTL  time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Store            Store
	Locker           Locker
	Bus              eventEmitter
	Notifier         Notifier
	CurrencyDecimals int
	LockTTL          time.Duration
	Now              func() time.Time
	Logger           zerolog.Logger
}

// NewService constructs a Service instance.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("rent: store is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = 2 * time.Minute
	}
	return &Service{
		store:    cfg.Store,
		locker:   cfg.Locker,
		bus:      cfg.Bus,
		notifier: cfg.Notifier,
		decimals: cfg.CurrencyDecimals,
		lockTTL:  lockTTL,
		now:      now,
		log:      cfg.Logger,
	}, nil
}

// BulkUpdate previews or applies a rent recalculation for a building.
func (s *Service) BulkUpdate(ctx context.Context, orgID string, params BulkUpdateParams) (BulkResult, error) {
	if params.BuildingID == uuid.Nil {
		return BulkResult{}, common.NewValidationError("buildingId is required", nil)
	}
	if params.FloorFrom != nil && params.FloorTo != nil && *params.FloorFrom > *params.FloorTo {
		return BulkResult{}, common.NewValidationError("floor range is inverted", nil)
	}
	if params.Policy != nil && params.Policy.BaseRatePerSqm < 0 {
		return BulkResult{}, common.NewValidationError("baseRatePerSqm cannot be negative", nil)
	}

	if !params.Apply {
		result, err := s.run(ctx, orgID, params)
		s.countRun("preview", err)
		return result, err
	}

	var result BulkResult
	runErr := s.withLock(ctx, orgID, params.BuildingID, func(ctx context.Context) error {
		var err error
		result, err = s.run(ctx, orgID, params)
		return err
	})
	s.countRun("apply", runErr)
	return result, runErr
}

func (s *Service) withLock(ctx context.Context, orgID string, buildingID uuid.UUID, fn func(context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	key := "rent:bulk:" + orgID + ":" + buildingID.String()
	return s.locker.WithLock(ctx, key, s.lockTTL, fn)
}

func (s *Service) run(ctx context.Context, orgID string, params BulkUpdateParams) (BulkResult, error) {
	policy, err := s.resolvePolicy(ctx, orgID, params)
	if err != nil {
		return BulkResult{}, err
	}

	if params.Apply {
		// Overrides land before the policy so a crash between the two never
		// leaves leases priced against state that was not persisted.
		for _, override := range params.UnitOverrides {
			if err := s.store.ApplyUnitOverride(ctx, orgID, override); err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return BulkResult{}, common.NewNotFoundError("unit not found: "+override.UnitID.String(), err)
				}
				return BulkResult{}, fmt.Errorf("apply unit override: %w", err)
			}
		}
		if params.Policy != nil {
			if err := s.store.ReplaceBuildingPolicy(ctx, orgID, params.BuildingID, *params.Policy); err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return BulkResult{}, common.NewNotFoundError("building not found", err)
				}
				return BulkResult{}, fmt.Errorf("replace building policy: %w", err)
			}
		}
	}

	units, err := s.store.ListUnits(ctx, orgID, params.BuildingID, params.FloorFrom, params.FloorTo)
	if err != nil {
		return BulkResult{}, fmt.Errorf("list units: %w", err)
	}
	if !params.Apply {
		units = previewOverrides(units, params.UnitOverrides)
	}

	effective := params.EffectiveFrom
	if effective.IsZero() {
		effective = s.now()
	}

	result := BulkResult{Results: []LeaseResult{}}
	now := s.now()
	for _, unit := range units {
		leases, err := s.store.ListActiveLeasesByUnit(ctx, orgID, unit.ID, now)
		if err != nil {
			return result, fmt.Errorf("list leases for unit %s: %w", unit.ID, err)
		}
		if len(leases) == 0 {
			continue
		}
		resolution := Resolve(policy, unit.Attributes, s.decimals)
		s.countResolution(resolution.RateSource)
		for _, lease := range leases {
			entry := LeaseResult{
				LeaseID:    lease.ID,
				TenantID:   lease.TenantID,
				UnitID:     unit.ID,
				UnitLabel:  unit.Label,
				OldRent:    lease.RentAmount,
				RateSource: resolution.RateSource,
			}
			if resolution.Total == nil {
				// Never zero a tenant's rent over missing data.
				s.countLease("skipped")
				result.Results = append(result.Results, entry)
				result.Count++
				continue
			}
			newRent := *resolution.Total
			entry.NewRent = &newRent
			if params.Apply {
				if err := s.applyLease(ctx, orgID, unit, lease, resolution, effective); err != nil {
					s.countLease("failed")
					return result, err
				}
				entry.Applied = true
				s.countLease("updated")
			} else {
				s.countLease("previewed")
			}
			result.Results = append(result.Results, entry)
			result.Count++
		}
	}
	if params.Apply && s.bus != nil {
		applied := 0
		for _, entry := range result.Results {
			if entry.Applied {
				applied++
			}
		}
		payload := map[string]any{
			"buildingId":    params.BuildingID,
			"leaseCount":    result.Count,
			"appliedCount":  applied,
			"effectiveFrom": effective,
		}
		if _, err := s.bus.Emit(ctx, orgID, events.TopicRentBulkApplied, params.BuildingID, payload); err != nil {
			s.log.Warn().Err(err).Str("building_id", params.BuildingID.String()).Msg("bulk apply event emit failed")
		}
	}
	return result, nil
}

func (s *Service) resolvePolicy(ctx context.Context, orgID string, params BulkUpdateParams) (Policy, error) {
	if params.Policy != nil {
		return *params.Policy, nil
	}
	stored, err := s.store.GetBuildingPolicy(ctx, orgID, params.BuildingID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Policy{}, common.NewNotFoundError("building not found", err)
		}
		return Policy{}, fmt.Errorf("get building policy: %w", err)
	}
	if stored == nil {
		return Policy{}, common.NewValidationError("building has no rent policy and none was supplied", nil)
	}
	return *stored, nil
}

func (s *Service) applyLease(ctx context.Context, orgID string, unit Unit, lease LeaseSnapshot, resolution Resolution, effective time.Time) error {
	breakdown, err := json.Marshal(resolution.Breakdown)
	if err != nil {
		return fmt.Errorf("encode breakdown: %w", err)
	}
	if err := s.store.UpdateLeaseRent(ctx, orgID, lease.ID, *resolution.Total, string(resolution.RateSource), breakdown); err != nil {
		return fmt.Errorf("update lease %s: %w", lease.ID, err)
	}
	change := RentChange{
		LeaseID:       lease.ID,
		TenantID:      lease.TenantID,
		OrgID:         orgID,
		UnitLabel:     unit.Label,
		OldRent:       lease.RentAmount,
		NewRent:       *resolution.Total,
		EffectiveDate: effective,
	}
	if s.bus != nil {
		if _, err := s.bus.Emit(ctx, orgID, events.TopicRentChanged, lease.ID, change); err != nil {
			s.log.Warn().Err(err).Str("lease_id", lease.ID.String()).Msg("rent change event emit failed")
		}
	}
	if s.notifier != nil {
		if err := s.notifier.NotifyRentChange(ctx, change); err != nil {
			s.log.Warn().Err(err).Str("lease_id", lease.ID.String()).Msg("rent change notification failed")
		}
	}
	return nil
}

// previewOverrides applies requested override patches in memory so previews
// price against what an apply run would persist.
func previewOverrides(units []Unit, overrides []UnitOverride) []Unit {
	if len(overrides) == 0 {
		return units
	}
	byUnit := make(map[uuid.UUID]UnitOverride, len(overrides))
	for _, o := range overrides {
		byUnit[o.UnitID] = o
	}
	out := make([]Unit, len(units))
	for i, u := range units {
		if o, ok := byUnit[u.ID]; ok {
			if o.ClearRateOverride {
				u.Attributes.RatePerSqmOverride = nil
			} else if o.RatePerSqmOverride != nil {
				u.Attributes.RatePerSqmOverride = o.RatePerSqmOverride
			}
			if o.ClearFlatOverride {
				u.Attributes.FlatRentOverride = nil
			} else if o.FlatRentOverride != nil {
				u.Attributes.FlatRentOverride = o.FlatRentOverride
			}
		}
		out[i] = u
	}
	return out
}

func (s *Service) countRun(mode string, err error) {
	if obs.RentBulkUpdateTotal == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	obs.RentBulkUpdateTotal.WithLabelValues(mode, result).Inc()
}

func (s *Service) countLease(result string) {
	if obs.RentBulkUpdateLeases == nil {
		return
	}
	obs.RentBulkUpdateLeases.WithLabelValues(result).Inc()
}

func (s *Service) countResolution(source RateSource) {
	if obs.RentResolutionTotal == nil {
		return
	}
	obs.RentResolutionTotal.WithLabelValues(string(source)).Inc()
}
