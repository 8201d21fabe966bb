package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mealsub_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mealsub_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	orderOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mealsub_order_operations_total",
			Help: "Total number of order operations",
		},
		[]string{"operation", "status"},
	)

	providerCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mealsub_provider_calls_total",
			Help: "Calls made to payment providers",
		},
		[]string{"provider", "result"},
	)

	webhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mealsub_webhook_events_total",
			Help: "Webhook deliveries by outcome",
		},
		[]string{"provider", "outcome"},
	)

	ledgerPostings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mealsub_ledger_postings_total",
			Help: "Receivables and cash movements created",
		},
		[]string{"kind"},
	)
)

func RecordOrderOperation(operation string, success bool) {
	orderOperations.WithLabelValues(operation, outcome(success)).Inc()
}

func RecordProviderCall(provider string, success bool) {
	providerCalls.WithLabelValues(provider, outcome(success)).Inc()
}

// RecordWebhook counts a delivery; outcome is one of processed, replay,
// unauthorized, not_found, invalid, error.
func RecordWebhook(provider, outcome string) {
	webhookEvents.WithLabelValues(provider, outcome).Inc()
}

func RecordLedgerPosting(kind string) {
	ledgerPostings.WithLabelValues(kind).Inc()
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
