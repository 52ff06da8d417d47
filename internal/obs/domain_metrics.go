package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// RentResolutionTotal counts rent resolutions by the rule that produced them.
	RentResolutionTotal *prometheus.CounterVec
	// RentBulkUpdateTotal counts bulk rent recalculation runs by mode and outcome.
	RentBulkUpdateTotal *prometheus.CounterVec
	// RentBulkUpdateLeases counts leases touched by bulk recalculation by result.
	RentBulkUpdateLeases *prometheus.CounterVec
	// InvoiceCreatedTotal counts invoice creation attempts by kind and outcome.
	InvoiceCreatedTotal *prometheus.CounterVec
	// InvoiceStatusTotal counts invoice status transitions.
	InvoiceStatusTotal *prometheus.CounterVec
	// PaymentWebhookTotal counts inbound payment webhook processing outcomes.
	PaymentWebhookTotal *prometheus.CounterVec
	// NotificationDeliveriesTotal tracks notification dispatch outcomes.
	NotificationDeliveriesTotal *prometheus.CounterVec
	// NotificationAttemptLatency records delivery attempt latency in milliseconds.
	NotificationAttemptLatency *prometheus.HistogramVec
	// NotificationDispatchDLQ counts deliveries moved to the dead-letter queue.
	NotificationDispatchDLQ prometheus.Counter
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		RentResolutionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rent_resolution_total",
			Help:      "Count of rent resolutions by rate source.",
		}, []string{"rate_source"})
		RentBulkUpdateTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rent_bulk_update_total",
			Help:      "Count of bulk rent recalculation runs by mode and result.",
		}, []string{"mode", "result"})
		RentBulkUpdateLeases = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rent_bulk_update_leases_total",
			Help:      "Count of leases visited during bulk rent recalculation by result.",
		}, []string{"result"})
		InvoiceCreatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invoice_created_total",
			Help:      "Count of invoice creation attempts by kind and outcome.",
		}, []string{"kind", "result"})
		InvoiceStatusTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invoice_status_transition_total",
			Help:      "Count of invoice status transitions.",
		}, []string{"from", "to"})
		PaymentWebhookTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhook_total",
			Help:      "Count of processed payment webhooks by outcome.",
		}, []string{"provider", "result"})
		NotificationDeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_deliveries_total",
			Help:      "Count of notification delivery outcomes.",
		}, []string{"result"})
		NotificationAttemptLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "notification_attempt_duration_ms",
			Help:      "Latency for notification delivery attempts in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"result"})
		NotificationDispatchDLQ = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_dispatch_dlq_total",
			Help:      "Number of notification deliveries moved to the dead-letter queue.",
		})

		mustRegisterCollector(reg, RentResolutionTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				RentResolutionTotal = v
			}
		})
		mustRegisterCollector(reg, RentBulkUpdateTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				RentBulkUpdateTotal = v
			}
		})
		mustRegisterCollector(reg, RentBulkUpdateLeases, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				RentBulkUpdateLeases = v
			}
		})
		mustRegisterCollector(reg, InvoiceCreatedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				InvoiceCreatedTotal = v
			}
		})
		mustRegisterCollector(reg, InvoiceStatusTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				InvoiceStatusTotal = v
			}
		})
		mustRegisterCollector(reg, PaymentWebhookTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentWebhookTotal = v
			}
		})
		mustRegisterCollector(reg, NotificationDeliveriesTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				NotificationDeliveriesTotal = v
			}
		})
		mustRegisterCollector(reg, NotificationAttemptLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				NotificationAttemptLatency = v
			}
		})
		mustRegisterCollector(reg, NotificationDispatchDLQ, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				NotificationDispatchDLQ = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
