package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gsb_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	DBTxDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gsb_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	OutboxLag = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gsb_outbox_lag_seconds",
			Help: "Age of the oldest event relayed in the last outbox batch",
		},
	)

	RabbitPublishRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gsb_rabbit_publish_retries_total",
			Help: "Total rabbit publish retries",
		},
	)

	RateLimitExceeded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gsb_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)

	InviteTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gsb_invite_transitions_total",
			Help: "Invite group operations by outcome",
		},
		[]string{"op", "result"},
	)

	LedgerPostings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gsb_ledger_postings_total",
			Help: "Ledger entries written",
		},
		[]string{"type", "category"},
	)

	BestEffortFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gsb_best_effort_failures_total",
			Help: "Failed side calls that did not affect the primary operation",
		},
		[]string{"action"},
	)
)

func InitMetrics() {
	prometheus.MustRegister(
		RequestsTotal,
		DBTxDuration,
		OutboxLag,
		RabbitPublishRetries,
		RateLimitExceeded,
		InviteTransitions,
		LedgerPostings,
		BestEffortFailures,
	)
}
