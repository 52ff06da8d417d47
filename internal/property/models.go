package property

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-properti/internal/rent"
)

// Building groups units under one address and carries the rent policy that
// prices them.
type Building struct {
	ID         uuid.UUID    `json:"id"`
	OrgID      string       `json:"organizationId"`
	Name       string       `json:"name"`
	Address    string       `json:"address"`
	RentPolicy *rent.Policy `json:"rentPolicy,omitempty"`
	CreatedAt  time.Time    `json:"createdAt"`
	UpdatedAt  time.Time    `json:"updatedAt"`
}

// Unit is a rentable space inside a building.
type Unit struct {
	ID                 uuid.UUID `json:"id"`
	OrgID              string    `json:"organizationId"`
	BuildingID         uuid.UUID `json:"buildingId"`
	Label              string    `json:"label"`
	Floor              *int      `json:"floor,omitempty"`
	Area               *float64  `json:"area,omitempty"`
	RatePerSqmOverride *float64  `json:"ratePerSqmOverride,omitempty"`
	FlatRentOverride   *float64  `json:"flatRentOverride,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// RentAttributes projects the unit fields the rent resolver consumes.
func (u Unit) RentAttributes() rent.UnitAttributes {
	return rent.UnitAttributes{
		Floor:              u.Floor,
		Area:               u.Area,
		RatePerSqmOverride: u.RatePerSqmOverride,
		FlatRentOverride:   u.FlatRentOverride,
	}
}

// UnitHistoryEntry is one lease row in a unit's occupancy history.
type UnitHistoryEntry struct {
	LeaseID    uuid.UUID   `json:"leaseId"`
	TenantID   uuid.UUID   `json:"tenantId"`
	TenantName string      `json:"tenantName"`
	Status     LeaseStatus `json:"status"`
	StartDate  time.Time   `json:"startDate"`
	EndDate    *time.Time  `json:"endDate,omitempty"`
	RentAmount float64     `json:"rentAmount"`
}

// Tenant is a renter. Not to be confused with the organization that owns the
// building; organizations are handled by the org package.
type Tenant struct {
	ID        uuid.UUID `json:"id"`
	OrgID     string    `json:"organizationId"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// LeaseStatus enumerates the lease lifecycle.
type LeaseStatus string

const (
	LeaseStatusPending    LeaseStatus = "pending"
	LeaseStatusActive     LeaseStatus = "active"
	LeaseStatusTerminated LeaseStatus = "terminated"
)

// Lease binds a tenant to a unit for a period at an agreed rent. The
// calculated fields are refreshed by bulk rent updates and record how the
// current figure was produced.
type Lease struct {
	ID             uuid.UUID       `json:"id"`
	OrgID          string          `json:"organizationId"`
	UnitID         uuid.UUID       `json:"unitId"`
	TenantID       uuid.UUID       `json:"tenantId"`
	Status         LeaseStatus     `json:"status"`
	StartDate      time.Time       `json:"startDate"`
	EndDate        *time.Time      `json:"endDate,omitempty"`
	RentAmount     float64         `json:"rentAmount"`
	CalculatedRent *float64        `json:"calculatedRent,omitempty"`
	RateSource     *string         `json:"rateSource,omitempty"`
	RentBreakdown  json.RawMessage `json:"rentBreakdown,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// ActiveAt reports whether the lease is active with no end date or an end
// date at or after the given instant.
func (l Lease) ActiveAt(now time.Time) bool {
	if l.Status != LeaseStatusActive {
		return false
	}
	return l.EndDate == nil || !l.EndDate.Before(now)
}

// WorkOrderStatus enumerates work order progress.
type WorkOrderStatus string

const (
	WorkOrderStatusOpen      WorkOrderStatus = "open"
	WorkOrderStatusCompleted WorkOrderStatus = "completed"
	WorkOrderStatusBilled    WorkOrderStatus = "billed"
)

// WorkOrder is a maintenance job, optionally billable to a tenant.
type WorkOrder struct {
	ID          uuid.UUID       `json:"id"`
	OrgID       string          `json:"organizationId"`
	UnitID      *uuid.UUID      `json:"unitId,omitempty"`
	TenantID    *uuid.UUID      `json:"tenantId,omitempty"`
	Description string          `json:"description"`
	Cost        float64         `json:"cost"`
	Status      WorkOrderStatus `json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// ParkingType distinguishes assignments anchored to a lease from visitor
// spots that have none.
type ParkingType string

const (
	ParkingTypeTenant  ParkingType = "tenant"
	ParkingTypeVisitor ParkingType = "visitor"
)

// ParkingAssignment allocates a parking spot, either to a tenant or a visitor.
type ParkingAssignment struct {
	ID         uuid.UUID   `json:"id"`
	OrgID      string      `json:"organizationId"`
	Type       ParkingType `json:"type"`
	TenantID   *uuid.UUID  `json:"tenantId,omitempty"`
	UnitID     *uuid.UUID  `json:"unitId,omitempty"`
	SpotLabel  string      `json:"spotLabel"`
	MonthlyFee float64     `json:"monthlyFee"`
	CreatedAt  time.Time   `json:"createdAt"`
}
