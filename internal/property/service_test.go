package property

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-properti/internal/common"
	"github.com/noah-isme/backend-properti/internal/events"
	"github.com/noah-isme/backend-properti/internal/rent"
)

type stubStore struct {
	buildings map[uuid.UUID]Building
	units     map[uuid.UUID]Unit
	tenants   map[uuid.UUID]Tenant
	leases    map[uuid.UUID]Lease
}

func newStubStore() *stubStore {
	return &stubStore{
		buildings: map[uuid.UUID]Building{},
		units:     map[uuid.UUID]Unit{},
		tenants:   map[uuid.UUID]Tenant{},
		leases:    map[uuid.UUID]Lease{},
	}
}

func (s *stubStore) CreateBuilding(_ context.Context, b Building) (Building, error) {
	b.ID = uuid.New()
	s.buildings[b.ID] = b
	return b, nil
}

func (s *stubStore) GetBuilding(_ context.Context, orgID string, id uuid.UUID) (Building, error) {
	b, ok := s.buildings[id]
	if !ok || b.OrgID != orgID {
		return Building{}, pgx.ErrNoRows
	}
	return b, nil
}

func (s *stubStore) ListBuildings(_ context.Context, orgID string) ([]Building, error) {
	var out []Building
	for _, b := range s.buildings {
		if b.OrgID == orgID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *stubStore) UpdateBuilding(_ context.Context, orgID string, id uuid.UUID, name, address *string) (Building, error) {
	b, ok := s.buildings[id]
	if !ok || b.OrgID != orgID {
		return Building{}, pgx.ErrNoRows
	}
	if name != nil {
		b.Name = *name
	}
	if address != nil {
		b.Address = *address
	}
	s.buildings[id] = b
	return b, nil
}

func (s *stubStore) ReplaceRentPolicy(_ context.Context, orgID string, id uuid.UUID, policy *rent.Policy) error {
	b, ok := s.buildings[id]
	if !ok || b.OrgID != orgID {
		return pgx.ErrNoRows
	}
	b.RentPolicy = policy
	s.buildings[id] = b
	return nil
}

func (s *stubStore) CreateUnit(_ context.Context, u Unit) (Unit, error) {
	u.ID = uuid.New()
	s.units[u.ID] = u
	return u, nil
}

func (s *stubStore) GetUnit(_ context.Context, orgID string, id uuid.UUID) (Unit, error) {
	u, ok := s.units[id]
	if !ok || u.OrgID != orgID {
		return Unit{}, pgx.ErrNoRows
	}
	return u, nil
}

func (s *stubStore) SaveUnit(_ context.Context, u Unit) (Unit, error) {
	existing, ok := s.units[u.ID]
	if !ok || existing.OrgID != u.OrgID {
		return Unit{}, pgx.ErrNoRows
	}
	s.units[u.ID] = u
	return u, nil
}

func (s *stubStore) ListUnitHistory(_ context.Context, orgID string, unitID uuid.UUID) ([]UnitHistoryEntry, error) {
	var out []UnitHistoryEntry
	for _, l := range s.leases {
		if l.OrgID != orgID || l.UnitID != unitID {
			continue
		}
		entry := UnitHistoryEntry{
			LeaseID:    l.ID,
			TenantID:   l.TenantID,
			Status:     l.Status,
			StartDate:  l.StartDate,
			EndDate:    l.EndDate,
			RentAmount: l.RentAmount,
		}
		if t, ok := s.tenants[l.TenantID]; ok {
			entry.TenantName = t.Name
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *stubStore) ListUnitsByBuilding(_ context.Context, orgID string, buildingID uuid.UUID, _, _ *int) ([]Unit, error) {
	var out []Unit
	for _, u := range s.units {
		if u.OrgID == orgID && u.BuildingID == buildingID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *stubStore) CreateTenant(_ context.Context, t Tenant) (Tenant, error) {
	t.ID = uuid.New()
	s.tenants[t.ID] = t
	return t, nil
}

func (s *stubStore) GetTenant(_ context.Context, orgID string, id uuid.UUID) (Tenant, error) {
	t, ok := s.tenants[id]
	if !ok || t.OrgID != orgID {
		return Tenant{}, pgx.ErrNoRows
	}
	return t, nil
}

func (s *stubStore) CreateLease(_ context.Context, l Lease) (Lease, error) {
	l.ID = uuid.New()
	s.leases[l.ID] = l
	return l, nil
}

func (s *stubStore) GetLease(_ context.Context, orgID string, id uuid.UUID) (Lease, error) {
	l, ok := s.leases[id]
	if !ok || l.OrgID != orgID {
		return Lease{}, pgx.ErrNoRows
	}
	return l, nil
}

func (s *stubStore) ListLeasesByTenant(_ context.Context, orgID string, tenantID uuid.UUID) ([]Lease, error) {
	var out []Lease
	for _, l := range s.leases {
		if l.OrgID == orgID && l.TenantID == tenantID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *stubStore) UpdateLease(_ context.Context, orgID string, id uuid.UUID, rentAmount *float64, endDate *time.Time) (Lease, error) {
	l, ok := s.leases[id]
	if !ok || l.OrgID != orgID {
		return Lease{}, pgx.ErrNoRows
	}
	if rentAmount != nil {
		l.RentAmount = *rentAmount
	}
	if endDate != nil {
		l.EndDate = endDate
	}
	s.leases[id] = l
	return l, nil
}

func (s *stubStore) TerminateLease(_ context.Context, orgID string, id uuid.UUID, endDate time.Time) error {
	l, ok := s.leases[id]
	if !ok || l.OrgID != orgID {
		return pgx.ErrNoRows
	}
	l.Status = LeaseStatusTerminated
	l.EndDate = &endDate
	s.leases[id] = l
	return nil
}

func (s *stubStore) CreateWorkOrder(_ context.Context, w WorkOrder) (WorkOrder, error) {
	w.ID = uuid.New()
	return w, nil
}

func (s *stubStore) GetWorkOrder(context.Context, string, uuid.UUID) (WorkOrder, error) {
	return WorkOrder{}, pgx.ErrNoRows
}

func (s *stubStore) MarkWorkOrderBilled(context.Context, string, uuid.UUID) error {
	return nil
}

func (s *stubStore) CreateParkingAssignment(_ context.Context, p ParkingAssignment) (ParkingAssignment, error) {
	p.ID = uuid.New()
	return p, nil
}

func (s *stubStore) GetParkingAssignment(context.Context, string, uuid.UUID) (ParkingAssignment, error) {
	return ParkingAssignment{}, pgx.ErrNoRows
}

func newTestService(t *testing.T, store Store) *Service {
	t.Helper()
	svc, err := NewService(ServiceConfig{Store: store})
	require.NoError(t, err)
	return svc
}

type stubBus struct {
	topics []string
}

func (b *stubBus) Emit(_ context.Context, orgID, topic string, _ uuid.UUID, _ any) (events.DomainEvent, error) {
	b.topics = append(b.topics, topic)
	return events.DomainEvent{OrgID: orgID, Topic: topic}, nil
}

func TestUpdateBuildingRentPolicyEmitsEvent(t *testing.T) {
	store := newStubStore()
	bus := &stubBus{}
	svc, err := NewService(ServiceConfig{Store: store, Bus: bus})
	require.NoError(t, err)
	ctx := context.Background()

	b, err := svc.CreateBuilding(ctx, "meskel", CreateBuildingParams{Name: "Meskel Tower"})
	require.NoError(t, err)

	min := 80.0
	updated, err := svc.UpdateBuildingRentPolicy(ctx, "meskel", b.ID, &rent.Policy{BaseRatePerSqm: 120, MinRatePerSqm: &min})
	require.NoError(t, err)
	require.NotNil(t, updated.RentPolicy)
	require.Equal(t, 120.0, updated.RentPolicy.BaseRatePerSqm)
	require.Equal(t, []string{events.TopicRentPolicyUpdated}, bus.topics)
}

func TestUpdateBuildingRentPolicyRejectsNegativeRate(t *testing.T) {
	store := newStubStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	b, err := svc.CreateBuilding(ctx, "meskel", CreateBuildingParams{Name: "Meskel Tower"})
	require.NoError(t, err)

	_, err = svc.UpdateBuildingRentPolicy(ctx, "meskel", b.ID, &rent.Policy{BaseRatePerSqm: -1})
	require.True(t, common.HasCode(err, common.CodeValidation))
}

func TestUpdateBuildingRentPolicyUnknownBuilding(t *testing.T) {
	store := newStubStore()
	svc := newTestService(t, store)

	_, err := svc.UpdateBuildingRentPolicy(context.Background(), "meskel", uuid.New(), &rent.Policy{BaseRatePerSqm: 100})
	require.True(t, common.HasCode(err, common.CodeNotFound))
}

func TestCreateLeaseRejectsCrossOrgUnit(t *testing.T) {
	store := newStubStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	unit, err := store.CreateUnit(ctx, Unit{OrgID: "other", BuildingID: uuid.New(), Label: "A-1"})
	require.NoError(t, err)
	tenant, err := store.CreateTenant(ctx, Tenant{OrgID: "meskel", Name: "Abebe"})
	require.NoError(t, err)

	_, err = svc.CreateLease(ctx, "meskel", CreateLeaseParams{
		UnitID:    unit.ID,
		TenantID:  tenant.ID,
		StartDate: time.Now(),
	})
	require.Error(t, err)
	require.True(t, common.HasCode(err, common.CodeNotFound))
}

func TestCreateLeaseRejectsInvertedDates(t *testing.T) {
	svc := newTestService(t, newStubStore())

	start := time.Now()
	end := start.Add(-24 * time.Hour)
	_, err := svc.CreateLease(context.Background(), "meskel", CreateLeaseParams{
		UnitID:    uuid.New(),
		TenantID:  uuid.New(),
		StartDate: start,
		EndDate:   &end,
	})
	require.Error(t, err)
	require.True(t, common.HasCode(err, common.CodeValidation))
}

func TestTerminateLeaseTwiceFails(t *testing.T) {
	store := newStubStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	lease, err := store.CreateLease(ctx, Lease{OrgID: "meskel", UnitID: uuid.New(), TenantID: uuid.New(), Status: LeaseStatusActive, StartDate: time.Now()})
	require.NoError(t, err)

	require.NoError(t, svc.TerminateLease(ctx, "meskel", lease.ID, time.Now()))
	err = svc.TerminateLease(ctx, "meskel", lease.ID, time.Now())
	require.Error(t, err)
	require.True(t, common.HasCode(err, common.CodeInvalidState))
}

func TestParkingAssignmentTenantTypeRequiresTenant(t *testing.T) {
	svc := newTestService(t, newStubStore())

	_, err := svc.CreateParkingAssignment(context.Background(), "meskel", CreateParkingAssignmentParams{
		Type:      ParkingTypeTenant,
		SpotLabel: "P-01",
	})
	require.Error(t, err)
	require.True(t, common.HasCode(err, common.CodeValidation))
}

func TestUpdateBuildingPatchesNameOnly(t *testing.T) {
	store := newStubStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	b, err := svc.CreateBuilding(ctx, "meskel", CreateBuildingParams{Name: "Old Name", Address: "Bole Road"})
	require.NoError(t, err)

	name := "New Name"
	updated, err := svc.UpdateBuilding(ctx, "meskel", b.ID, UpdateBuildingParams{Name: &name})
	require.NoError(t, err)
	require.Equal(t, "New Name", updated.Name)
	require.Equal(t, "Bole Road", updated.Address)
}

func TestUpdateUnitRejectsZeroArea(t *testing.T) {
	store := newStubStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	unit, err := store.CreateUnit(ctx, Unit{OrgID: "meskel", BuildingID: uuid.New(), Label: "A-1"})
	require.NoError(t, err)

	area := 0.0
	_, err = svc.UpdateUnit(ctx, "meskel", unit.ID, UpdateUnitParams{Area: &area})
	require.Error(t, err)
	require.True(t, common.HasCode(err, common.CodeValidation))
}

func TestUpdateUnitPatchesRentAttributes(t *testing.T) {
	store := newStubStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	floor := 2
	unit, err := store.CreateUnit(ctx, Unit{OrgID: "meskel", BuildingID: uuid.New(), Label: "B-2", Floor: &floor})
	require.NoError(t, err)

	flat := 25000.0
	updated, err := svc.UpdateUnit(ctx, "meskel", unit.ID, UpdateUnitParams{FlatRentOverride: &flat})
	require.NoError(t, err)
	require.NotNil(t, updated.FlatRentOverride)
	require.Equal(t, 25000.0, *updated.FlatRentOverride)
	require.Equal(t, "B-2", updated.Label)
	require.Equal(t, 2, *updated.Floor)
}

func TestUpdateLeaseRejectsTerminated(t *testing.T) {
	store := newStubStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	lease, err := store.CreateLease(ctx, Lease{OrgID: "meskel", UnitID: uuid.New(), TenantID: uuid.New(), Status: LeaseStatusTerminated, StartDate: time.Now()})
	require.NoError(t, err)

	amount := 9000.0
	_, err = svc.UpdateLease(ctx, "meskel", lease.ID, UpdateLeaseParams{RentAmount: &amount})
	require.Error(t, err)
	require.True(t, common.HasCode(err, common.CodeInvalidState))
}

func TestUnitHistoryListsLeases(t *testing.T) {
	store := newStubStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	unit, err := store.CreateUnit(ctx, Unit{OrgID: "meskel", BuildingID: uuid.New(), Label: "C-3"})
	require.NoError(t, err)
	tenant, err := store.CreateTenant(ctx, Tenant{OrgID: "meskel", Name: "Hana"})
	require.NoError(t, err)
	_, err = store.CreateLease(ctx, Lease{OrgID: "meskel", UnitID: unit.ID, TenantID: tenant.ID, Status: LeaseStatusActive, StartDate: time.Now(), RentAmount: 11000})
	require.NoError(t, err)

	entries, err := svc.GetUnitHistory(ctx, "meskel", unit.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "Hana", entries[0].TenantName)
	require.Equal(t, 11000.0, entries[0].RentAmount)
}

func TestUnitHistoryUnknownUnit(t *testing.T) {
	svc := newTestService(t, newStubStore())

	_, err := svc.GetUnitHistory(context.Background(), "meskel", uuid.New())
	require.Error(t, err)
	require.True(t, common.HasCode(err, common.CodeNotFound))
}

func TestTenantLedgerSumsActiveLeases(t *testing.T) {
	store := newStubStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	tenant, err := store.CreateTenant(ctx, Tenant{OrgID: "meskel", Name: "Sara"})
	require.NoError(t, err)

	past := time.Now().Add(-48 * time.Hour)
	_, err = store.CreateLease(ctx, Lease{OrgID: "meskel", TenantID: tenant.ID, UnitID: uuid.New(), Status: LeaseStatusActive, StartDate: past, RentAmount: 12000})
	require.NoError(t, err)
	_, err = store.CreateLease(ctx, Lease{OrgID: "meskel", TenantID: tenant.ID, UnitID: uuid.New(), Status: LeaseStatusActive, StartDate: past, RentAmount: 8000})
	require.NoError(t, err)
	ended := time.Now().Add(-24 * time.Hour)
	_, err = store.CreateLease(ctx, Lease{OrgID: "meskel", TenantID: tenant.ID, UnitID: uuid.New(), Status: LeaseStatusActive, StartDate: past, EndDate: &ended, RentAmount: 5000})
	require.NoError(t, err)

	ledger, err := svc.GetTenantLedger(ctx, "meskel", tenant.ID)
	require.NoError(t, err)
	require.Equal(t, 2, ledger.ActiveLeases)
	require.Equal(t, 20000.0, ledger.MonthlyRent)
	require.Len(t, ledger.Leases, 3)
}

func TestLeaseLifecycleEmitsEvents(t *testing.T) {
	store := newStubStore()
	bus := &stubBus{}
	svc, err := NewService(ServiceConfig{Store: store, Bus: bus})
	require.NoError(t, err)
	ctx := context.Background()

	unit, err := store.CreateUnit(ctx, Unit{OrgID: "meskel", BuildingID: uuid.New(), Label: "3-A"})
	require.NoError(t, err)
	tenant, err := store.CreateTenant(ctx, Tenant{OrgID: "meskel", Name: "Sara"})
	require.NoError(t, err)

	lease, err := svc.CreateLease(ctx, "meskel", CreateLeaseParams{
		UnitID:     unit.ID,
		TenantID:   tenant.ID,
		StartDate:  time.Now(),
		RentAmount: 12000,
	})
	require.NoError(t, err)
	require.Equal(t, []string{events.TopicLeaseActivated}, bus.topics)

	require.NoError(t, svc.TerminateLease(ctx, "meskel", lease.ID, time.Now()))
	require.Equal(t, []string{events.TopicLeaseActivated, events.TopicLeaseTerminated}, bus.topics)
}
