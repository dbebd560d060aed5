package viewdb

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var fillBatchHist = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "viewdb_fill_batch_duration",
	Help:    "A histogram of batch ingestion durations in milliseconds",
	Buckets: prometheus.ExponentialBuckets(1, 2, 15),
})

var messagesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "viewdb_messages_ingested",
}, []string{"type"})

var messagesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "viewdb_messages_skipped",
}, []string{"reason"})

var receiveLogCursor = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "viewdb_receive_log_cursor",
}, []string{"mark"})

var banPurgedRows = promauto.NewCounter(prometheus.CounterOpts{
	Name: "viewdb_ban_purged_rows",
})
