package batch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	bufferedEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reqlog_buffered_entries",
		Help: "Log entries waiting in memory for the next flush",
	})
	flushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reqlog_flushes_total",
		Help: "Batch flushes by outcome",
	}, []string{"outcome"})
	kvErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reqlog_kv_errors_total",
		Help: "Failed KV store operations during flush",
	}, []string{"op"})
	insertErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reqlog_insert_errors_total",
		Help: "Failed bulk inserts into the log database",
	})
	droppedEntries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reqlog_dropped_entries_total",
		Help: "Entries lost because a flush failed",
	})
	insertBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reqlog_insert_batch_size",
		Help:    "Entries handed to the bulk sink per insert",
		Buckets: []float64{30, 35, 40, 50, 75, 100, 250, 500},
	})
)
