package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

const (
	namespace = "aegis"
)

var (
	// Firehose / codec / filter (C1-C4)
	IngestMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "ingest_messages_total",
		Namespace: namespace,
		Help:      "Total number of firehose messages ingested",
	}, []string{"event_type", "status"})

	IngestMessageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:      "ingest_message_duration_seconds",
		Namespace: namespace,
		Help:      "Time to process each ingested message",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
	}, []string{"status"})

	FilterDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "filter_drops_total",
		Namespace: namespace,
		Help:      "Total number of events dropped by the filter chain",
	}, []string{"event_type"})

	// Processor / transaction pipeline (C5-C7)
	QueueFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "queue_flushes_total",
		Namespace: namespace,
		Help:      "Total number of batch queue flushes",
	}, []string{"operation"})

	TransactionCommitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:      "transaction_commit_duration_seconds",
		Namespace: namespace,
		Help:      "Wall-clock duration of a transaction pipeline commit",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
	}, []string{"status"})

	TransactionCommitsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "transaction_commits_dropped_total",
		Namespace: namespace,
		Help:      "Total number of transaction commits dropped after backoff exhaustion",
	}, []string{})

	// Fetch coordinator (C8)
	FetchRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "fetch_requests_total",
		Namespace: namespace,
		Help:      "Total number of fetch requests served",
	}, []string{"result"})

	FetchRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:      "fetch_request_duration_seconds",
		Namespace: namespace,
		Help:      "Fetch request duration in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
	}, []string{"result"})

	// Backfill engine (C9)
	BackfillChunkDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:      "backfill_chunk_duration_seconds",
		Namespace: namespace,
		Help:      "Duration of a single backfill chunk worker",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16),
	}, []string{"status"})

	// Retention sweeper (C10)
	RetentionSweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:      "retention_sweep_duration_seconds",
		Namespace: namespace,
		Help:      "Duration of a retention sweep pass",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16),
	}, []string{"status"})

	// Drift monitor (C11)
	DriftAverageMs = promauto.NewGauge(prometheus.GaugeOpts{
		Name:      "drift_average_milliseconds",
		Namespace: namespace,
		Help:      "Rolling average of ingest drift in milliseconds",
	})
)
