package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Dispatch metrics
var (
	// DispatchTotal counts notify calls by scope (user, broadcast) and result
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_dispatch_total",
			Help: "Total number of notify calls by scope and result",
		},
		[]string{"scope", "result"},
	)

	// DeliveriesSubmitted counts delivery requests handed to the sender
	DeliveriesSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_deliveries_submitted_total",
			Help: "Total number of delivery requests submitted to the sender",
		},
	)

	// DispatchDuration tracks how long matching and submission take
	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webhook_dispatch_duration_seconds",
			Help:    "Time spent resolving registrations and submitting deliveries",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"scope"},
	)
)

// Delivery metrics
var (
	// DeliveriesTotal counts terminal delivery outcomes by status
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_deliveries_total",
			Help: "Total number of deliveries by terminal status",
		},
		[]string{"status"},
	)

	// DeliveryAttemptsTotal counts HTTP attempts by outcome class
	DeliveryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_delivery_attempts_total",
			Help: "Total number of delivery attempts by outcome",
		},
		[]string{"outcome"},
	)

	// DeliveryAttemptDuration tracks a single HTTP attempt
	DeliveryAttemptDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "webhook_delivery_attempt_duration_seconds",
			Help:    "Duration of a single delivery HTTP attempt",
			Buckets: prometheus.DefBuckets,
		},
	)

	// DeliveriesInFlight tracks attempts currently on the wire
	DeliveriesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "webhook_deliveries_in_flight",
			Help: "Number of delivery attempts currently in flight",
		},
	)

	// SenderQueueDepth tracks requests waiting for a worker
	SenderQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "webhook_sender_queue_depth",
			Help: "Number of delivery requests waiting in the sender queue",
		},
	)
)

// Registration metrics
var (
	// RegistrationOperationsTotal counts control-plane mutations
	RegistrationOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_registration_operations_total",
			Help: "Total number of registration operations by type and result",
		},
		[]string{"operation", "result"},
	)

	// StoreOperationDuration tracks registration store latency by backend
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webhook_store_operation_duration_seconds",
			Help:    "Registration store operation latency",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"backend", "operation"},
	)
)

// Result converts an error into a low-cardinality label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
