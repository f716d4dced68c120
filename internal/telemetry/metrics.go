package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PaymentsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_created_total",
		Help: "Payments created, by method and provisional status.",
	}, []string{"method", "status"})

	PaymentStatusUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_status_updates_total",
		Help: "Payment status updates applied, by resulting status.",
	}, []string{"status"})

	FraudAssessments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fraud_assessments_total",
		Help: "Fraud risk assessments, by recommendation.",
	}, []string{"recommendation"})

	MonitorDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transaction_monitor_dropped_total",
		Help: "Monitoring observations dropped because the queue was full.",
	})

	WebhooksRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhooks_rejected_total",
		Help: "Provider webhooks rejected before reconciliation, by provider and reason.",
	}, []string{"provider", "reason"})
)
