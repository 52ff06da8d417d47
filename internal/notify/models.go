package notify

import (
	"time"

	"github.com/google/uuid"
)

// Delivery lifecycle states.
const (
	DeliveryStatusPending    = "pending"
	DeliveryStatusDelivering = "delivering"
	DeliveryStatusDelivered  = "delivered"
	DeliveryStatusFailed     = "failed"
	DeliveryStatusDLQ        = "dlq"
)

// Endpoint is a registered webhook destination subscribed to one or more topics.
type Endpoint struct {
	ID        uuid.UUID `json:"id"`
	OrgID     string    `json:"orgId"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Secret    string    `json:"-"`
	Active    bool      `json:"active"`
	Topics    []string  `json:"topics"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Delivery is a single attempt-tracked dispatch of a domain event to an endpoint.
type Delivery struct {
	ID             uuid.UUID  `json:"id"`
	EndpointID     uuid.UUID  `json:"endpointId"`
	EventID        uuid.UUID  `json:"eventId"`
	Status         string     `json:"status"`
	Attempt        int        `json:"attempt"`
	MaxAttempt     int        `json:"maxAttempt"`
	NextAttemptAt  time.Time  `json:"nextAttemptAt"`
	LastError      *string    `json:"lastError,omitempty"`
	ResponseStatus *int       `json:"responseStatus,omitempty"`
	ResponseBody   *string    `json:"responseBody,omitempty"`
	DeliveredAt    *time.Time `json:"deliveredAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// DLQEntry records a delivery that exhausted its attempts.
type DLQEntry struct {
	ID         uuid.UUID `json:"id"`
	DeliveryID uuid.UUID `json:"deliveryId"`
	Reason     *string   `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}
