// Package metrics defines the Prometheus collectors shared by the relay and the purchase flow.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RelayRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_requests_total",
			Help: "Total number of relay requests by HTTP status",
		},
		[]string{"status"},
	)

	RelayUpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_upstream_duration_seconds",
			Help:    "Duration of upstream message provider calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	RelayReplays = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_idempotent_replays_total",
			Help: "Total number of responses served from the idempotency cache",
		},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Total number of direct messages by kind and result",
		},
		[]string{"kind", "result"},
	)

	NotificationsDeduplicated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_deduplicated_total",
			Help: "Total number of error notifications suppressed by session dedup",
		},
		[]string{"category"},
	)

	PurchaseOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "purchase_outcomes_total",
			Help: "Total number of purchase attempts by terminal state",
		},
		[]string{"state", "gift"},
	)

	QuoteResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quote_resolutions_total",
			Help: "Total number of quote resolutions by result",
		},
		[]string{"result"},
	)
)
