package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Message pump metrics
	MessagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messagerie_pump_messages_total",
			Help: "Total number of broker messages consumed",
		},
		[]string{"subject", "outcome"},
	)

	TrustRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messagerie_trust_rejections_total",
			Help: "Total number of messages rejected by trust verification",
		},
		[]string{"reason"},
	)

	// Transaction metrics
	TransactionsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messagerie_transactions_applied_total",
			Help: "Total number of transactions durably applied",
		},
		[]string{"type"},
	)

	TransactionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messagerie_transactions_rejected_total",
			Help: "Total number of transactions routed to the dead-letter path",
		},
		[]string{"type", "reason"},
	)

	TransactionsDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messagerie_transactions_deduplicated_total",
			Help: "Total number of already-applied transactions skipped",
		},
	)

	ApplyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "messagerie_apply_duration_seconds",
			Help:    "Duration of transaction application in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ApplyRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messagerie_apply_retries_total",
			Help: "Total number of transient apply retries",
		},
	)

	// Query metrics
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messagerie_queries_total",
			Help: "Total number of queries served",
		},
		[]string{"kind", "outcome"},
	)

	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messagerie_cache_hits_total",
			Help: "Total number of query cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messagerie_cache_misses_total",
			Help: "Total number of query cache misses",
		},
	)

	// Dead letter metrics
	DeadLetters = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messagerie_dead_letters_total",
			Help: "Total number of messages published to the dead-letter stream",
		},
		[]string{"reason"},
	)
)
