package middleware

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	entriesCaptured = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reqlog_entries_total",
		Help: "Request log entries completed and queued",
	})
	requestErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reqlog_request_errors_total",
		Help: "Transport or handler errors recorded on log entries",
	})
	responseTimeMs = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reqlog_response_time_ms",
		Help:    "Response time recorded on log entries, in milliseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1_000, 2_500, 5_000},
	})
)
