package billing

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-properti/internal/common"
)

type stubStore struct {
	invoices     map[uuid.UUID]Invoice
	leases       map[uuid.UUID]LeaseRef
	activeLeases map[uuid.UUID]LeaseRef
	workOrders   map[uuid.UUID]WorkOrderRef
	parking      map[uuid.UUID]ParkingRef

	billedWorkOrders []uuid.UUID
	insertAttempts   int
	failFirstInsert  bool
}

func newStubStore() *stubStore {
	return &stubStore{
		invoices:     map[uuid.UUID]Invoice{},
		leases:       map[uuid.UUID]LeaseRef{},
		activeLeases: map[uuid.UUID]LeaseRef{},
		workOrders:   map[uuid.UUID]WorkOrderRef{},
		parking:      map[uuid.UUID]ParkingRef{},
	}
}

func (s *stubStore) InsertInvoice(_ context.Context, inv Invoice) (Invoice, error) {
	s.insertAttempts++
	if s.failFirstInsert && s.insertAttempts == 1 {
		return Invoice{}, &pgconn.PgError{Code: "23505"}
	}
	for _, existing := range s.invoices {
		if existing.OrgID == inv.OrgID && existing.InvoiceNumber == inv.InvoiceNumber {
			return Invoice{}, &pgconn.PgError{Code: "23505"}
		}
	}
	inv.ID = uuid.New()
	inv.CreatedAt = time.Now()
	inv.UpdatedAt = inv.CreatedAt
	s.invoices[inv.ID] = inv
	return inv, nil
}

func (s *stubStore) GetInvoice(_ context.Context, orgID string, id uuid.UUID) (Invoice, error) {
	inv, ok := s.invoices[id]
	if !ok || inv.OrgID != orgID {
		return Invoice{}, pgx.ErrNoRows
	}
	return inv, nil
}

func (s *stubStore) UpdateInvoiceContent(_ context.Context, inv Invoice) error {
	if _, ok := s.invoices[inv.ID]; !ok {
		return pgx.ErrNoRows
	}
	s.invoices[inv.ID] = inv
	return nil
}

func (s *stubStore) UpdateInvoiceStatus(_ context.Context, orgID string, id uuid.UUID, status InvoiceStatus, paidAt *time.Time) error {
	inv, ok := s.invoices[id]
	if !ok || inv.OrgID != orgID {
		return pgx.ErrNoRows
	}
	inv.Status = status
	inv.PaidAt = paidAt
	s.invoices[id] = inv
	return nil
}

func (s *stubStore) ListInvoices(_ context.Context, orgID string, status string, _, _ int) ([]Invoice, error) {
	var out []Invoice
	for _, inv := range s.invoices {
		if inv.OrgID == orgID && (status == "" || string(inv.Status) == status) {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (s *stubStore) MaxInvoiceSeq(_ context.Context, orgID, prefix string) (int, error) {
	max := 0
	for _, inv := range s.invoices {
		if inv.OrgID != orgID || !strings.HasPrefix(inv.InvoiceNumber, prefix) {
			continue
		}
		seq, err := strconv.Atoi(strings.TrimPrefix(inv.InvoiceNumber, prefix))
		if err == nil && seq > max {
			max = seq
		}
	}
	return max, nil
}

func (s *stubStore) GetLeaseRef(_ context.Context, orgID string, id uuid.UUID) (LeaseRef, error) {
	ref, ok := s.leases[id]
	if !ok {
		return LeaseRef{}, pgx.ErrNoRows
	}
	_ = orgID
	return ref, nil
}

func (s *stubStore) FindActiveLeaseByTenant(_ context.Context, _ string, tenantID uuid.UUID, _ time.Time) (LeaseRef, error) {
	ref, ok := s.activeLeases[tenantID]
	if !ok {
		return LeaseRef{}, pgx.ErrNoRows
	}
	return ref, nil
}

func (s *stubStore) GetWorkOrderRef(_ context.Context, _ string, id uuid.UUID) (WorkOrderRef, error) {
	ref, ok := s.workOrders[id]
	if !ok {
		return WorkOrderRef{}, pgx.ErrNoRows
	}
	return ref, nil
}

func (s *stubStore) MarkWorkOrderBilled(_ context.Context, _ string, id uuid.UUID) error {
	s.billedWorkOrders = append(s.billedWorkOrders, id)
	return nil
}

func (s *stubStore) GetParkingRef(_ context.Context, _ string, id uuid.UUID) (ParkingRef, error) {
	ref, ok := s.parking[id]
	if !ok {
		return ParkingRef{}, pgx.ErrNoRows
	}
	return ref, nil
}

func seedLease(store *stubStore) LeaseRef {
	ref := LeaseRef{ID: uuid.New(), TenantID: uuid.New(), UnitID: uuid.New(), Status: "active"}
	store.leases[ref.ID] = ref
	store.activeLeases[ref.TenantID] = ref
	return ref
}

func newBillingService(t *testing.T, store Store) *Service {
	t.Helper()
	svc, err := NewService(ServiceConfig{
		Store:            store,
		CurrencyDecimals: 2,
		InvoicePrefix:    "INV",
		DueInDays:        14,
		Now:              func() time.Time { return time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return svc
}

func TestCreateRequiresItems(t *testing.T) {
	store := newStubStore()
	lease := seedLease(store)
	svc := newBillingService(t, store)

	_, err := svc.Create(context.Background(), "meskel", CreateInvoiceParams{
		LeaseID: lease.ID, TenantID: lease.TenantID, UnitID: lease.UnitID,
	})
	require.Error(t, err)
	require.True(t, common.HasCode(err, common.CodeValidation))
}

func TestCreateRejectsMismatchedReferences(t *testing.T) {
	store := newStubStore()
	lease := seedLease(store)
	svc := newBillingService(t, store)
	items := []Item{{Description: "Rent", Amount: 1000, Type: ItemTypeRent}}

	_, err := svc.Create(context.Background(), "meskel", CreateInvoiceParams{
		LeaseID: lease.ID, TenantID: uuid.New(), UnitID: lease.UnitID, Items: items,
	})
	require.True(t, common.HasCode(err, common.CodeValidation))

	_, err = svc.Create(context.Background(), "meskel", CreateInvoiceParams{
		LeaseID: lease.ID, TenantID: lease.TenantID, UnitID: uuid.New(), Items: items,
	})
	require.True(t, common.HasCode(err, common.CodeValidation))

	_, err = svc.Create(context.Background(), "meskel", CreateInvoiceParams{
		LeaseID: uuid.New(), TenantID: lease.TenantID, UnitID: lease.UnitID, Items: items,
	})
	require.True(t, common.HasCode(err, common.CodeNotFound))
}

func TestCreateGeneratesSequentialNumbers(t *testing.T) {
	store := newStubStore()
	lease := seedLease(store)
	svc := newBillingService(t, store)
	items := []Item{
		{Description: "Rent", Amount: 1000, Type: ItemTypeRent},
		{Description: "Water", Amount: 500, Type: ItemTypeCharge},
	}
	vat := 15.0

	first, err := svc.Create(context.Background(), "meskel", CreateInvoiceParams{
		LeaseID: lease.ID, TenantID: lease.TenantID, UnitID: lease.UnitID, Items: items, VATRate: &vat,
	})
	require.NoError(t, err)
	require.Equal(t, "INV-2026-001", first.InvoiceNumber)
	require.Equal(t, StatusDraft, first.Status)
	require.Equal(t, 1500.0, first.Subtotal)
	require.Equal(t, 225.0, first.Tax)
	require.Equal(t, 1725.0, first.Total)
	require.Equal(t, first.IssueDate.AddDate(0, 0, 14), first.DueDate)

	second, err := svc.Create(context.Background(), "meskel", CreateInvoiceParams{
		LeaseID: lease.ID, TenantID: lease.TenantID, UnitID: lease.UnitID, Items: items,
	})
	require.NoError(t, err)
	require.Equal(t, "INV-2026-002", second.InvoiceNumber)
}

func TestCreateRetriesOnceOnDuplicateNumber(t *testing.T) {
	store := newStubStore()
	store.failFirstInsert = true
	lease := seedLease(store)
	svc := newBillingService(t, store)

	inv, err := svc.Create(context.Background(), "meskel", CreateInvoiceParams{
		LeaseID: lease.ID, TenantID: lease.TenantID, UnitID: lease.UnitID,
		Items: []Item{{Description: "Rent", Amount: 1000, Type: ItemTypeRent}},
	})
	require.NoError(t, err)
	require.Equal(t, 2, store.insertAttempts)
	require.NotEmpty(t, inv.InvoiceNumber)
}

func TestCreateDoesNotRetrySuppliedNumber(t *testing.T) {
	store := newStubStore()
	store.failFirstInsert = true
	lease := seedLease(store)
	svc := newBillingService(t, store)

	_, err := svc.Create(context.Background(), "meskel", CreateInvoiceParams{
		LeaseID: lease.ID, TenantID: lease.TenantID, UnitID: lease.UnitID,
		InvoiceNumber: "CUSTOM-7",
		Items:         []Item{{Description: "Rent", Amount: 1000, Type: ItemTypeRent}},
	})
	require.Error(t, err)
	require.True(t, common.HasCode(err, common.CodeConflict))
	require.Equal(t, 1, store.insertAttempts)
}

func createTestInvoice(t *testing.T, svc *Service, store *stubStore, status InvoiceStatus) Invoice {
	t.Helper()
	lease := seedLease(store)
	inv, err := svc.Create(context.Background(), "meskel", CreateInvoiceParams{
		LeaseID: lease.ID, TenantID: lease.TenantID, UnitID: lease.UnitID,
		Items:  []Item{{Description: "Rent", Amount: 1000, Type: ItemTypeRent}},
		Status: status,
	})
	require.NoError(t, err)
	return inv
}

func TestUpdateRecomputesTotals(t *testing.T) {
	store := newStubStore()
	svc := newBillingService(t, store)
	inv := createTestInvoice(t, svc, store, StatusDraft)

	vat := 10.0
	newItems := []Item{
		{Description: "Rent", Amount: 2000, Type: ItemTypeRent},
		{Description: "Cleaning", Amount: 300, Type: ItemTypeCharge},
	}
	updated, err := svc.Update(context.Background(), "meskel", inv.ID, UpdateInvoiceParams{
		Items:   &newItems,
		VATRate: &vat,
	})
	require.NoError(t, err)
	require.Equal(t, 2300.0, updated.Subtotal)
	require.Equal(t, 230.0, updated.Tax)
	require.Equal(t, 2530.0, updated.Total)
	require.Equal(t, updated.Subtotal, updated.NetBeforeVAT)
	require.Equal(t, updated.Total, updated.NetAfterVAT)
}

func TestUpdateRejectsContentEditOnPaid(t *testing.T) {
	store := newStubStore()
	svc := newBillingService(t, store)
	inv := createTestInvoice(t, svc, store, StatusSent)

	_, err := svc.UpdateStatus(context.Background(), "meskel", inv.ID, StatusPaid, nil)
	require.NoError(t, err)

	items := []Item{{Description: "Rent", Amount: 99, Type: ItemTypeRent}}
	_, err = svc.Update(context.Background(), "meskel", inv.ID, UpdateInvoiceParams{Items: &items})
	require.Error(t, err)
	require.True(t, common.HasCode(err, common.CodeInvalidState))
}

func TestUpdateStatusPaidStampsAndClears(t *testing.T) {
	store := newStubStore()
	svc := newBillingService(t, store)
	inv := createTestInvoice(t, svc, store, StatusSent)

	paid, err := svc.UpdateStatus(context.Background(), "meskel", inv.ID, StatusPaid, nil)
	require.NoError(t, err)
	require.NotNil(t, paid.PaidAt)

	back, err := svc.UpdateStatus(context.Background(), "meskel", inv.ID, StatusSent, nil)
	require.NoError(t, err)
	require.Nil(t, back.PaidAt)

	overdue, err := svc.UpdateStatus(context.Background(), "meskel", inv.ID, StatusOverdue, nil)
	require.NoError(t, err)
	require.Nil(t, overdue.PaidAt)
}

func TestCancelLifecycle(t *testing.T) {
	store := newStubStore()
	svc := newBillingService(t, store)
	inv := createTestInvoice(t, svc, store, StatusSent)
	ctx := context.Background()

	cancelled, err := svc.Cancel(ctx, "meskel", inv.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)

	// cancelling again is a no-op
	again, err := svc.Cancel(ctx, "meskel", inv.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, again.Status)

	// cancelled invoices accept no further transitions
	_, err = svc.UpdateStatus(ctx, "meskel", inv.ID, StatusSent, nil)
	require.Error(t, err)
	require.True(t, common.HasCode(err, common.CodeInvalidState))
}

func TestCancelPaidInvoiceFails(t *testing.T) {
	store := newStubStore()
	svc := newBillingService(t, store)
	inv := createTestInvoice(t, svc, store, StatusSent)
	ctx := context.Background()

	_, err := svc.UpdateStatus(ctx, "meskel", inv.ID, StatusPaid, nil)
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, "meskel", inv.ID)
	require.Error(t, err)
	require.True(t, common.HasCode(err, common.CodeInvalidState))

	// the status route must not sidestep the guard
	_, err = svc.UpdateStatus(ctx, "meskel", inv.ID, StatusCancelled, nil)
	require.Error(t, err)
	require.True(t, common.HasCode(err, common.CodeInvalidState))
}

func TestCreateAdHocResolvesActiveLease(t *testing.T) {
	store := newStubStore()
	lease := seedLease(store)
	svc := newBillingService(t, store)

	inv, err := svc.CreateAdHoc(context.Background(), "meskel", CreateAdHocParams{
		TenantID:    lease.TenantID,
		Kind:        AdHocPenalty,
		Description: "Late payment penalty",
		Amount:      500,
	})
	require.NoError(t, err)
	require.Equal(t, StatusSent, inv.Status)
	require.Equal(t, lease.ID, inv.LeaseID)
	require.Equal(t, lease.UnitID, inv.UnitID)
	require.Len(t, inv.Items, 1)
	require.Equal(t, ItemTypePenalty, inv.Items[0].Type)
}

func TestCreateAdHocWithoutLeaseFails(t *testing.T) {
	store := newStubStore()
	svc := newBillingService(t, store)

	_, err := svc.CreateAdHoc(context.Background(), "meskel", CreateAdHocParams{
		TenantID:    uuid.New(),
		Kind:        AdHocOther,
		Description: "Key replacement",
		Amount:      150,
	})
	require.Error(t, err)
	require.True(t, common.HasCode(err, common.CodeNotFound))
}

func TestCreateAdHocBillsWorkOrder(t *testing.T) {
	store := newStubStore()
	lease := seedLease(store)
	workOrderID := uuid.New()
	store.workOrders[workOrderID] = WorkOrderRef{
		ID: workOrderID, UnitID: &lease.UnitID, TenantID: &lease.TenantID,
		Description: "Broken pipe", Cost: 850,
	}
	svc := newBillingService(t, store)

	inv, err := svc.CreateAdHoc(context.Background(), "meskel", CreateAdHocParams{
		TenantID:          lease.TenantID,
		Kind:              AdHocMaintenance,
		Description:       "Plumbing repair",
		LinkedWorkOrderID: &workOrderID,
	})
	require.NoError(t, err)
	require.Equal(t, 850.0, inv.Subtotal)
	require.Equal(t, []uuid.UUID{workOrderID}, store.billedWorkOrders)
}

func TestCreateParkingVisitorUnsupported(t *testing.T) {
	store := newStubStore()
	assignmentID := uuid.New()
	store.parking[assignmentID] = ParkingRef{ID: assignmentID, Type: "visitor", SpotLabel: "V-3", MonthlyFee: 400}
	svc := newBillingService(t, store)

	_, err := svc.CreateParking(context.Background(), "meskel", assignmentID, nil, nil)
	require.Error(t, err)
	require.True(t, common.HasCode(err, common.CodeUnsupported))
}

func TestCreateParkingTenantAssignment(t *testing.T) {
	store := newStubStore()
	lease := seedLease(store)
	assignmentID := uuid.New()
	store.parking[assignmentID] = ParkingRef{
		ID: assignmentID, Type: "tenant", TenantID: &lease.TenantID,
		SpotLabel: "P-12", MonthlyFee: 600,
	}
	svc := newBillingService(t, store)

	inv, err := svc.CreateParking(context.Background(), "meskel", assignmentID, nil, nil)
	require.NoError(t, err)
	require.Equal(t, StatusSent, inv.Status)
	require.Len(t, inv.Items, 1)
	require.Equal(t, "Parking spot P-12", inv.Items[0].Description)
	require.Equal(t, 600.0, inv.Total)
}

func TestInvoiceTotalInvariant(t *testing.T) {
	store := newStubStore()
	lease := seedLease(store)
	svc := newBillingService(t, store)
	vat := 15.0

	for i := 1; i <= 3; i++ {
		inv, err := svc.Create(context.Background(), "meskel", CreateInvoiceParams{
			LeaseID: lease.ID, TenantID: lease.TenantID, UnitID: lease.UnitID,
			Items:   []Item{{Description: fmt.Sprintf("Charge %d", i), Amount: float64(i) * 333.33, Type: ItemTypeCharge}},
			VATRate: &vat,
		})
		require.NoError(t, err)
		require.InDelta(t, inv.Subtotal+inv.Tax, inv.Total, 1e-9)
	}
}
