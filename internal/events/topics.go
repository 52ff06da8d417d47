package events

// Topic constants for domain events emitted by the platform.
const (
	TopicRentPolicyUpdated = "rent.policy_updated"
	TopicRentBulkApplied   = "rent.bulk_applied"
	TopicRentChanged       = "rent.changed"
	TopicInvoiceCreated    = "invoice.created"
	TopicInvoiceUpdated    = "invoice.updated"
	TopicInvoicePaid       = "invoice.paid"
	TopicInvoiceOverdue    = "invoice.overdue"
	TopicInvoiceCancelled  = "invoice.cancelled"
	TopicWorkOrderBilled   = "workorder.billed"
	TopicParkingBilled     = "parking.billed"
	TopicPaymentReceived   = "payment.received"
	TopicPaymentFailed     = "payment.failed"
	TopicLeaseActivated    = "lease.activated"
	TopicLeaseTerminated   = "lease.terminated"
)

// DefaultTopics returns the canonical list of topics that support notifications.
func DefaultTopics() []string {
	return []string{
		TopicRentPolicyUpdated,
		TopicRentBulkApplied,
		TopicRentChanged,
		TopicInvoiceCreated,
		TopicInvoiceUpdated,
		TopicInvoicePaid,
		TopicInvoiceOverdue,
		TopicInvoiceCancelled,
		TopicWorkOrderBilled,
		TopicParkingBilled,
		TopicPaymentReceived,
		TopicPaymentFailed,
		TopicLeaseActivated,
		TopicLeaseTerminated,
	}
}
