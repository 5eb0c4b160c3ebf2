package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fieldserve",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	jobsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fieldserve",
			Name:      "jobs_created_total",
			Help:      "Jobs posted by customers.",
		},
	)

	bidsPlaced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fieldserve",
			Name:      "bids_placed_total",
			Help:      "Bids placed by partners.",
		},
	)

	bookingTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fieldserve",
			Name:      "booking_transitions_total",
			Help:      "Booking status transitions by from/to pair.",
		},
		[]string{"from", "to"},
	)

	ledgerEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fieldserve",
			Name:      "ledger_entries_total",
			Help:      "Ledger rows written by direction.",
		},
		[]string{"direction"},
	)

	gatewayCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fieldserve",
			Name:      "gateway_calls_total",
			Help:      "Payment gateway calls by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			jobsCreated,
			bidsPlaced,
			bookingTransitions,
			ledgerEntries,
			gatewayCalls,
		)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func IncJobCreated() {
	jobsCreated.Inc()
}

func IncBidPlaced() {
	bidsPlaced.Inc()
}

func IncBookingTransition(from, to string) {
	bookingTransitions.WithLabelValues(from, to).Inc()
}

func IncLedgerEntry(direction string) {
	ledgerEntries.WithLabelValues(direction).Inc()
}

func IncGatewayCall(operation, outcome string) {
	gatewayCalls.WithLabelValues(operation, outcome).Inc()
}
