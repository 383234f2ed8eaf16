// README: Prometheus collectors for scans, trips, fares, ledger and HTTP traffic.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "maat"

var (
	ScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "scans_total", Help: "Scan events by device class and outcome"},
		[]string{"device_class", "outcome"},
	)
	ScanLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: namespace, Name: "scan_duration_seconds", Help: "Scan handling latency", Buckets: prometheus.DefBuckets},
		[]string{"device_class"},
	)
	TripsOpened    = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "trips_opened_total", Help: "Trips opened"})
	TripsCompleted = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "trips_completed_total", Help: "Trips completed"})
	FareAmount     = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fare_amount_minor",
			Help:      "Charged fares in minor units by resolution tier",
			Buckets:   []float64{500, 1000, 1500, 2000, 3000, 5000, 10000},
		},
		[]string{"tier"},
	)
	LedgerMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ledger_mutations_total", Help: "Applied ledger mutations by reason"},
		[]string{"reason"},
	)
	HeartbeatFailures    = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "scanner_heartbeat_failures_total", Help: "Heartbeat writes that failed"})
	EventPublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "event_publish_failures_total", Help: "Domain events that could not be published"},
		[]string{"topic"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
