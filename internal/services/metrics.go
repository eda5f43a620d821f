package services

import "github.com/prometheus/client_golang/prometheus"

// View outcomes recorded in payment_views_total.
const (
	outcomeRevealed    = "revealed"
	outcomePlaceholder = "placeholder"
	outcomeNotFound    = "not_found"
)

var (
	// paymentsCreated counts records appended by Pay (replays excluded).
	paymentsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "payments_created_total",
			Help: "Total number of payment records created.",
		},
	)

	// paymentViews counts detail-page views by outcome.
	paymentViews = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_views_total",
			Help: "Detail page views by outcome (revealed, placeholder, not_found).",
		},
		[]string{"outcome"},
	)

	// paymentReplays counts POST /pay requests served from an Idempotency-Key.
	paymentReplays = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "payment_idempotent_replays_total",
			Help: "Payments answered from a previously used Idempotency-Key.",
		},
	)
)

func init() {
	prometheus.MustRegister(paymentsCreated, paymentViews, paymentReplays)
}
