// Package metrics declares the prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CodesIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_codes_issued_total",
			Help: "Verification codes issued, by purpose and result",
		},
		[]string{"purpose", "result"},
	)

	CodeVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_code_checks_total",
			Help: "Verification attempts, by purpose and outcome",
		},
		[]string{"purpose", "outcome"},
	)

	ThrottleDenied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "throttle_denied_total",
			Help: "Requests rejected by the throttle gate",
		},
		[]string{"scope"},
	)

	SessionsIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessions_issued_total",
			Help: "Token pairs minted, by reason",
		},
		[]string{"reason"},
	)

	OrdersCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Checkout attempts, by result",
		},
		[]string{"result"},
	)

	PaymentEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_events_total",
			Help: "Payment webhook events, by type and result",
		},
		[]string{"type", "result"},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Outbound notifications, by channel and status",
		},
		[]string{"channel", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2, 5},
		},
		[]string{"method", "route", "status"},
	)
)
