package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-properti/internal/common"
	"github.com/noah-isme/backend-properti/internal/events"
	"github.com/noah-isme/backend-properti/internal/obs"
)

type eventEmitter interface {
	Emit(ctx context.Context, orgID, topic string, aggregateID uuid.UUID, payload any) (events.DomainEvent, error)
}

// Service manages the invoice lifecycle: creation, content edits, status
// transitions, and the ad-hoc and parking derivations.
type Service struct {
	store     Store
	bus       eventEmitter
	decimals  int
	prefix    string
	dueInDays int
	now       func() time.Time
	log       zerolog.Logger
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Store            Store
	Bus              eventEmitter
	CurrencyDecimals int
	InvoicePrefix    string
	DueInDays        int
	Now              func() time.Time
	Logger           zerolog.Logger
}

// NewService constructs a Service instance.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("billing: store is required")
	}
	prefix := cfg.InvoicePrefix
	if prefix == "" {
		prefix = "INV"
	}
	dueInDays := cfg.DueInDays
	if dueInDays <= 0 {
		dueInDays = 14
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:     cfg.Store,
		bus:       cfg.Bus,
		decimals:  cfg.CurrencyDecimals,
		prefix:    prefix,
		dueInDays: dueInDays,
		now:       now,
		log:       cfg.Logger,
	}, nil
}

// CreateInvoiceParams carries the fields accepted on invoice creation.
type CreateInvoiceParams struct {
	LeaseID           uuid.UUID     `json:"leaseId"`
	TenantID          uuid.UUID     `json:"tenantId"`
	UnitID            uuid.UUID     `json:"unitId"`
	InvoiceNumber     string        `json:"invoiceNumber,omitempty"`
	IssueDate         *time.Time    `json:"issueDate,omitempty"`
	DueDate           *time.Time    `json:"dueDate,omitempty"`
	PeriodStart       *time.Time    `json:"periodStart,omitempty"`
	PeriodEnd         *time.Time    `json:"periodEnd,omitempty"`
	Items             []Item        `json:"items"`
	ExplicitTax       *float64      `json:"explicitTax,omitempty"`
	VATRate           *float64      `json:"vatRate,omitempty"`
	Status            InvoiceStatus `json:"status,omitempty"`
	LinkedWorkOrderID *uuid.UUID    `json:"linkedWorkOrderId,omitempty"`
	LinkedInvoiceID   *uuid.UUID    `json:"linkedInvoiceId,omitempty"`
}

// Create validates the lease references, computes totals, and persists a new
// invoice. The invoice number is generated per organization and year when not
// supplied; a duplicate-number insert is retried once with a fresh number.
func (s *Service) Create(ctx context.Context, orgID string, params CreateInvoiceParams) (Invoice, error) {
	return s.create(ctx, orgID, params, "standard")
}

func (s *Service) create(ctx context.Context, orgID string, params CreateInvoiceParams, kind string) (Invoice, error) {
	inv, err := s.buildInvoice(ctx, orgID, params)
	if err != nil {
		s.countCreated(kind, "rejected")
		return Invoice{}, err
	}

	generated := params.InvoiceNumber == ""
	created, err := s.store.InsertInvoice(ctx, inv)
	if err != nil && generated && isUniqueViolation(err) {
		// Two concurrent creations can race on read-max-then-increment; the
		// unique index catches the loser and we regenerate once.
		inv.InvoiceNumber, err = s.nextInvoiceNumber(ctx, orgID)
		if err == nil {
			created, err = s.store.InsertInvoice(ctx, inv)
		}
	}
	if err != nil {
		s.countCreated(kind, "error")
		if isUniqueViolation(err) {
			return Invoice{}, common.NewConflictError("invoice number already in use", err)
		}
		return Invoice{}, fmt.Errorf("insert invoice: %w", err)
	}

	s.countCreated(kind, "ok")
	s.emit(ctx, orgID, events.TopicInvoiceCreated, created.ID, map[string]any{
		"invoiceNumber": created.InvoiceNumber,
		"kind":          kind,
		"total":         created.Total,
		"status":        created.Status,
	})
	return created, nil
}

func (s *Service) buildInvoice(ctx context.Context, orgID string, params CreateInvoiceParams) (Invoice, error) {
	if len(params.Items) == 0 {
		return Invoice{}, common.NewValidationError("invoice requires at least one item", nil)
	}
	lease, err := s.store.GetLeaseRef(ctx, orgID, params.LeaseID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, common.NewNotFoundError("lease not found", err)
		}
		return Invoice{}, fmt.Errorf("get lease: %w", err)
	}
	if lease.TenantID != params.TenantID {
		return Invoice{}, common.NewValidationError("tenantId does not match the lease", nil)
	}
	if lease.UnitID != params.UnitID {
		return Invoice{}, common.NewValidationError("unitId does not match the lease", nil)
	}

	status := params.Status
	if status == "" {
		status = StatusDraft
	}
	if !status.valid() {
		return Invoice{}, common.NewValidationError("unknown invoice status: "+string(status), nil)
	}

	now := s.now()
	issue := now
	if params.IssueDate != nil {
		issue = *params.IssueDate
	}
	due := issue.AddDate(0, 0, s.dueInDays)
	if params.DueDate != nil {
		due = *params.DueDate
	}

	number := params.InvoiceNumber
	if number == "" {
		number, err = s.nextInvoiceNumber(ctx, orgID)
		if err != nil {
			return Invoice{}, err
		}
	}

	totals := CalculateTotals(params.Items, params.ExplicitTax, params.VATRate, s.decimals)
	return Invoice{
		OrgID:             orgID,
		InvoiceNumber:     number,
		LeaseID:           params.LeaseID,
		TenantID:          params.TenantID,
		UnitID:            params.UnitID,
		IssueDate:         issue,
		DueDate:           due,
		PeriodStart:       params.PeriodStart,
		PeriodEnd:         params.PeriodEnd,
		Items:             params.Items,
		Subtotal:          totals.Subtotal,
		Tax:               totals.Tax,
		VATRate:           params.VATRate,
		Total:             totals.Total,
		NetBeforeVAT:      totals.NetBeforeVAT,
		NetAfterVAT:       totals.NetAfterVAT,
		Status:            status,
		LinkedWorkOrderID: params.LinkedWorkOrderID,
		LinkedInvoiceID:   params.LinkedInvoiceID,
	}, nil
}

func (s *Service) nextInvoiceNumber(ctx context.Context, orgID string) (string, error) {
	year := s.now().Year()
	prefix := fmt.Sprintf("%s-%d-", s.prefix, year)
	seq, err := s.store.MaxInvoiceSeq(ctx, orgID, prefix)
	if err != nil {
		return "", fmt.Errorf("max invoice seq: %w", err)
	}
	return fmt.Sprintf("%s%03d", prefix, seq+1), nil
}

// Get fetches an invoice in the organization's scope.
func (s *Service) Get(ctx context.Context, orgID string, id uuid.UUID) (Invoice, error) {
	inv, err := s.store.GetInvoice(ctx, orgID, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, common.NewNotFoundError("invoice not found", err)
		}
		return Invoice{}, fmt.Errorf("get invoice: %w", err)
	}
	return inv, nil
}

// List returns the organization's invoices, optionally filtered by status.
func (s *Service) List(ctx context.Context, orgID string, status string, limit, offset int) ([]Invoice, error) {
	rows, err := s.store.ListInvoices(ctx, orgID, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	return rows, nil
}

// UpdateInvoiceParams enumerates the content fields an invoice edit may
// change. Nil fields keep the stored value; ClearVATRate drops the rate so
// an explicit tax can take over.
type UpdateInvoiceParams struct {
	IssueDate    *time.Time `json:"issueDate,omitempty"`
	DueDate      *time.Time `json:"dueDate,omitempty"`
	PeriodStart  *time.Time `json:"periodStart,omitempty"`
	PeriodEnd    *time.Time `json:"periodEnd,omitempty"`
	Items        *[]Item    `json:"items,omitempty"`
	ExplicitTax  *float64   `json:"explicitTax,omitempty"`
	VATRate      *float64   `json:"vatRate,omitempty"`
	ClearVATRate bool       `json:"clearVatRate,omitempty"`
}

func (p UpdateInvoiceParams) empty() bool {
	return p.IssueDate == nil && p.DueDate == nil && p.PeriodStart == nil && p.PeriodEnd == nil &&
		p.Items == nil && p.ExplicitTax == nil && p.VATRate == nil && !p.ClearVATRate
}

// Update edits invoice content. Content edits are only legal while the
// invoice is in a mutable status, and any item or tax change recomputes the
// totals from scratch.
func (s *Service) Update(ctx context.Context, orgID string, id uuid.UUID, params UpdateInvoiceParams) (Invoice, error) {
	inv, err := s.Get(ctx, orgID, id)
	if err != nil {
		return Invoice{}, err
	}
	if params.empty() {
		return inv, nil
	}
	if !inv.Status.Mutable() {
		return Invoice{}, common.NewInvalidStateError(
			fmt.Sprintf("invoice in status %q cannot be edited", inv.Status), nil)
	}

	if params.IssueDate != nil {
		inv.IssueDate = *params.IssueDate
	}
	if params.DueDate != nil {
		inv.DueDate = *params.DueDate
	}
	if params.PeriodStart != nil {
		inv.PeriodStart = params.PeriodStart
	}
	if params.PeriodEnd != nil {
		inv.PeriodEnd = params.PeriodEnd
	}
	if params.Items != nil {
		if len(*params.Items) == 0 {
			return Invoice{}, common.NewValidationError("invoice requires at least one item", nil)
		}
		inv.Items = *params.Items
	}
	if params.ClearVATRate {
		inv.VATRate = nil
	} else if params.VATRate != nil {
		inv.VATRate = params.VATRate
	}

	totals := CalculateTotals(inv.Items, params.ExplicitTax, inv.VATRate, s.decimals)
	inv.Subtotal = totals.Subtotal
	inv.Tax = totals.Tax
	inv.Total = totals.Total
	inv.NetBeforeVAT = totals.NetBeforeVAT
	inv.NetAfterVAT = totals.NetAfterVAT

	if err := s.store.UpdateInvoiceContent(ctx, inv); err != nil {
		return Invoice{}, fmt.Errorf("update invoice: %w", err)
	}
	s.emit(ctx, orgID, events.TopicInvoiceUpdated, inv.ID, map[string]any{
		"invoiceNumber": inv.InvoiceNumber,
		"total":         inv.Total,
	})
	return inv, nil
}

// UpdateStatus transitions an invoice between lifecycle states. Moving to
// paid stamps paidAt (supplied or now), moving away from paid clears it, and
// overdue always carries a nil paidAt.
func (s *Service) UpdateStatus(ctx context.Context, orgID string, id uuid.UUID, status InvoiceStatus, paidAt *time.Time) (Invoice, error) {
	if !status.valid() {
		return Invoice{}, common.NewValidationError("unknown invoice status: "+string(status), nil)
	}
	inv, err := s.Get(ctx, orgID, id)
	if err != nil {
		return Invoice{}, err
	}
	if inv.Status == status {
		return inv, nil
	}
	if inv.Status == StatusCancelled {
		return Invoice{}, common.NewInvalidStateError("cancelled invoices cannot change status", nil)
	}
	if status == StatusCancelled {
		return s.Cancel(ctx, orgID, id)
	}

	var stamp *time.Time
	switch status {
	case StatusPaid:
		when := s.now()
		if paidAt != nil {
			when = *paidAt
		}
		stamp = &when
	case StatusOverdue:
		stamp = nil
	default:
		stamp = nil
	}

	from := inv.Status
	if err := s.store.UpdateInvoiceStatus(ctx, orgID, id, status, stamp); err != nil {
		return Invoice{}, fmt.Errorf("update invoice status: %w", err)
	}
	inv.Status = status
	inv.PaidAt = stamp

	s.countTransition(from, status)
	topic := events.TopicInvoiceUpdated
	switch status {
	case StatusPaid:
		topic = events.TopicInvoicePaid
	case StatusOverdue:
		topic = events.TopicInvoiceOverdue
	}
	s.emit(ctx, orgID, topic, inv.ID, map[string]any{
		"invoiceNumber": inv.InvoiceNumber,
		"from":          from,
		"to":            status,
	})
	return inv, nil
}

// Cancel moves an invoice to cancelled. Paid invoices cannot be cancelled;
// cancelling an already cancelled invoice is a no-op.
func (s *Service) Cancel(ctx context.Context, orgID string, id uuid.UUID) (Invoice, error) {
	inv, err := s.Get(ctx, orgID, id)
	if err != nil {
		return Invoice{}, err
	}
	if inv.Status == StatusPaid {
		return Invoice{}, common.NewInvalidStateError("paid invoices cannot be cancelled", nil)
	}
	if inv.Status == StatusCancelled {
		return inv, nil
	}
	from := inv.Status
	if err := s.store.UpdateInvoiceStatus(ctx, orgID, id, StatusCancelled, nil); err != nil {
		return Invoice{}, fmt.Errorf("cancel invoice: %w", err)
	}
	inv.Status = StatusCancelled
	inv.PaidAt = nil
	s.countTransition(from, StatusCancelled)
	s.emit(ctx, orgID, events.TopicInvoiceCancelled, inv.ID, map[string]any{
		"invoiceNumber": inv.InvoiceNumber,
		"from":          from,
	})
	return inv, nil
}

// AdHocKind classifies ad-hoc invoices.
type AdHocKind string

const (
	AdHocMaintenance AdHocKind = "maintenance"
	AdHocPenalty     AdHocKind = "penalty"
	AdHocOther       AdHocKind = "other"
)

// CreateAdHocParams carries the fields accepted on ad-hoc invoice creation.
type CreateAdHocParams struct {
	TenantID          uuid.UUID  `json:"tenantId"`
	UnitID            *uuid.UUID `json:"unitId,omitempty"`
	LeaseID           *uuid.UUID `json:"leaseId,omitempty"`
	Kind              AdHocKind  `json:"kind"`
	Description       string     `json:"description"`
	Amount            float64    `json:"amount"`
	VATRate           *float64   `json:"vatRate,omitempty"`
	LinkedWorkOrderID *uuid.UUID `json:"linkedWorkOrderId,omitempty"`
	LinkedInvoiceID   *uuid.UUID `json:"linkedInvoiceId,omitempty"`
}

// CreateAdHoc bills a one-off charge. Missing unit and lease references are
// resolved from the linked work order, the linked invoice, or the tenant's
// active lease; the invoice is issued directly in sent status.
func (s *Service) CreateAdHoc(ctx context.Context, orgID string, params CreateAdHocParams) (Invoice, error) {
	switch params.Kind {
	case AdHocMaintenance, AdHocPenalty, AdHocOther:
	default:
		return Invoice{}, common.NewValidationError("kind must be maintenance, penalty, or other", nil)
	}
	if params.Description == "" {
		return Invoice{}, common.NewValidationError("description is required", nil)
	}

	var workOrder *WorkOrderRef
	if params.LinkedWorkOrderID != nil {
		ref, err := s.store.GetWorkOrderRef(ctx, orgID, *params.LinkedWorkOrderID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return Invoice{}, common.NewNotFoundError("work order not found", err)
			}
			return Invoice{}, fmt.Errorf("get work order: %w", err)
		}
		workOrder = &ref
	}

	unitID := params.UnitID
	if unitID == nil && workOrder != nil {
		unitID = workOrder.UnitID
	}
	if unitID == nil && params.LinkedInvoiceID != nil {
		original, err := s.Get(ctx, orgID, *params.LinkedInvoiceID)
		if err != nil {
			return Invoice{}, err
		}
		unitID = &original.UnitID
	}

	var lease LeaseRef
	if params.LeaseID != nil {
		ref, err := s.store.GetLeaseRef(ctx, orgID, *params.LeaseID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return Invoice{}, common.NewNotFoundError("lease not found", err)
			}
			return Invoice{}, fmt.Errorf("get lease: %w", err)
		}
		lease = ref
	} else {
		ref, err := s.store.FindActiveLeaseByTenant(ctx, orgID, params.TenantID, s.now())
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				if unitID == nil {
					return Invoice{}, common.NewNotFoundError("tenant has no active lease and no unit could be resolved", err)
				}
				return Invoice{}, common.NewNotFoundError("tenant has no active lease", err)
			}
			return Invoice{}, fmt.Errorf("find active lease: %w", err)
		}
		lease = ref
	}
	if unitID == nil {
		unitID = &lease.UnitID
	}

	amount := params.Amount
	if amount == 0 && workOrder != nil {
		amount = workOrder.Cost
	}

	inv, err := s.create(ctx, orgID, CreateInvoiceParams{
		LeaseID:           lease.ID,
		TenantID:          lease.TenantID,
		UnitID:            lease.UnitID,
		Items:             []Item{{Description: params.Description, Amount: amount, Type: itemTypeForKind(params.Kind)}},
		VATRate:           params.VATRate,
		Status:            StatusSent,
		LinkedWorkOrderID: params.LinkedWorkOrderID,
		LinkedInvoiceID:   params.LinkedInvoiceID,
	}, "adhoc")
	if err != nil {
		return Invoice{}, err
	}

	if workOrder != nil {
		if err := s.store.MarkWorkOrderBilled(ctx, orgID, workOrder.ID); err != nil {
			s.log.Warn().Err(err).Str("work_order_id", workOrder.ID.String()).Msg("mark work order billed failed")
		} else {
			s.emit(ctx, orgID, events.TopicWorkOrderBilled, workOrder.ID, map[string]any{
				"invoiceId": inv.ID,
			})
		}
	}
	return inv, nil
}

// CreateParking bills a parking assignment. Visitor assignments have no lease
// to anchor an invoice to and are rejected as unsupported.
func (s *Service) CreateParking(ctx context.Context, orgID string, assignmentID uuid.UUID, periodStart, periodEnd *time.Time) (Invoice, error) {
	ref, err := s.store.GetParkingRef(ctx, orgID, assignmentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, common.NewNotFoundError("parking assignment not found", err)
		}
		return Invoice{}, fmt.Errorf("get parking assignment: %w", err)
	}
	if ref.Type == "visitor" {
		return Invoice{}, common.NewUnsupportedError("visitor parking cannot be invoiced: no lease to bill against", nil)
	}
	if ref.TenantID == nil {
		return Invoice{}, common.NewValidationError("parking assignment has no tenant", nil)
	}
	lease, err := s.store.FindActiveLeaseByTenant(ctx, orgID, *ref.TenantID, s.now())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, common.NewNotFoundError("tenant has no active lease", err)
		}
		return Invoice{}, fmt.Errorf("find active lease: %w", err)
	}

	inv, err := s.create(ctx, orgID, CreateInvoiceParams{
		LeaseID:     lease.ID,
		TenantID:    lease.TenantID,
		UnitID:      lease.UnitID,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Items: []Item{{
			Description: "Parking spot " + ref.SpotLabel,
			Amount:      ref.MonthlyFee,
			Type:        ItemTypeCharge,
		}},
		Status: StatusSent,
	}, "parking")
	if err != nil {
		return Invoice{}, err
	}
	s.emit(ctx, orgID, events.TopicParkingBilled, ref.ID, map[string]any{
		"invoiceId": inv.ID,
		"spotLabel": ref.SpotLabel,
	})
	return inv, nil
}

func itemTypeForKind(kind AdHocKind) ItemType {
	switch kind {
	case AdHocMaintenance:
		return ItemTypeCharge
	case AdHocPenalty:
		return ItemTypePenalty
	default:
		return ItemTypeOther
	}
}

func (s *Service) emit(ctx context.Context, orgID, topic string, aggregateID uuid.UUID, payload any) {
	if s.bus == nil {
		return
	}
	if _, err := s.bus.Emit(ctx, orgID, topic, aggregateID, payload); err != nil {
		s.log.Warn().Err(err).Str("topic", topic).Msg("invoice event emit failed")
	}
}

func (s *Service) countCreated(kind, result string) {
	if obs.InvoiceCreatedTotal == nil {
		return
	}
	obs.InvoiceCreatedTotal.WithLabelValues(kind, result).Inc()
}

func (s *Service) countTransition(from, to InvoiceStatus) {
	if obs.InvoiceStatusTotal == nil {
		return
	}
	obs.InvoiceStatusTotal.WithLabelValues(string(from), string(to)).Inc()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
