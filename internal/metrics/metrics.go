// Package metrics exposes Prometheus counters for the reconciliation path.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CreditsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerd_credits_applied_total",
		Help: "Payment events credited to a ledger, by provider.",
	}, []string{"provider"})

	DuplicateEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerd_duplicate_events_total",
		Help: "Payment events skipped because they were already applied.",
	}, []string{"provider"})

	MalformedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerd_malformed_events_total",
		Help: "Provider payloads rejected during normalization.",
	}, []string{"provider"})

	SignatureFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledgerd_signature_failures_total",
		Help: "Webhook deliveries rejected with an invalid signature.",
	})

	ReconcileDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledgerd_reconcile_duration_seconds",
		Help:    "Time spent applying a payment event to the ledger.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})
)
