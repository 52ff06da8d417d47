package billing

import (
	"time"

	"github.com/google/uuid"
)

// InvoiceStatus enumerates the invoice lifecycle. Paid and cancelled are
// terminal; sent and overdue flip in both directions as due dates pass.
type InvoiceStatus string

const (
	StatusDraft     InvoiceStatus = "draft"
	StatusSent      InvoiceStatus = "sent"
	StatusPaid      InvoiceStatus = "paid"
	StatusOverdue   InvoiceStatus = "overdue"
	StatusCancelled InvoiceStatus = "cancelled"
)

// Mutable reports whether invoice content (items, dates, tax) may still
// change in this status.
func (s InvoiceStatus) Mutable() bool {
	switch s {
	case StatusDraft, StatusSent, StatusOverdue:
		return true
	default:
		return false
	}
}

func (s InvoiceStatus) valid() bool {
	switch s {
	case StatusDraft, StatusSent, StatusPaid, StatusOverdue, StatusCancelled:
		return true
	default:
		return false
	}
}

// Invoice is a bill issued against a lease. Invoices are never deleted, only
// cancelled.
type Invoice struct {
	ID                uuid.UUID     `json:"id"`
	OrgID             string        `json:"organizationId"`
	InvoiceNumber     string        `json:"invoiceNumber"`
	LeaseID           uuid.UUID     `json:"leaseId"`
	TenantID          uuid.UUID     `json:"tenantId"`
	UnitID            uuid.UUID     `json:"unitId"`
	IssueDate         time.Time     `json:"issueDate"`
	DueDate           time.Time     `json:"dueDate"`
	PeriodStart       *time.Time    `json:"periodStart,omitempty"`
	PeriodEnd         *time.Time    `json:"periodEnd,omitempty"`
	Items             []Item        `json:"items"`
	Subtotal          float64       `json:"subtotal"`
	Tax               float64       `json:"tax"`
	VATRate           *float64      `json:"vatRate,omitempty"`
	Total             float64       `json:"total"`
	NetBeforeVAT      float64       `json:"netIncomeBeforeVat"`
	NetAfterVAT       float64       `json:"netIncomeAfterVat"`
	Status            InvoiceStatus `json:"status"`
	LinkedWorkOrderID *uuid.UUID    `json:"linkedWorkOrderId,omitempty"`
	LinkedInvoiceID   *uuid.UUID    `json:"linkedInvoiceId,omitempty"`
	PaidAt            *time.Time    `json:"paidAt,omitempty"`
	CreatedAt         time.Time     `json:"createdAt"`
	UpdatedAt         time.Time     `json:"updatedAt"`
}

// LeaseRef is the slice of a lease the invoice lifecycle needs.
type LeaseRef struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	UnitID   uuid.UUID
	Status   string
	EndDate  *time.Time
}

// ActiveAt reports whether the lease can anchor a new invoice.
func (l LeaseRef) ActiveAt(now time.Time) bool {
	if l.Status != "active" {
		return false
	}
	return l.EndDate == nil || !l.EndDate.Before(now)
}

// WorkOrderRef is the slice of a work order the invoice lifecycle needs.
type WorkOrderRef struct {
	ID          uuid.UUID
	UnitID      *uuid.UUID
	TenantID    *uuid.UUID
	Description string
	Cost        float64
}

// ParkingRef is the slice of a parking assignment the invoice lifecycle needs.
type ParkingRef struct {
	ID         uuid.UUID
	Type       string
	TenantID   *uuid.UUID
	UnitID     *uuid.UUID
	SpotLabel  string
	MonthlyFee float64
}
