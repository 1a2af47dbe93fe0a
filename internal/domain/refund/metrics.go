package refund

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	refundRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_refund_requests_total",
		Help: "Refund requests by saga outcome",
	}, []string{"outcome"})

	settlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_refund_settlements_total",
		Help: "Gateway settlement attempts by result",
	}, []string{"result"})

	gatewayLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "booking_gateway_request_duration_seconds",
		Help:    "Latency of payment gateway refund calls",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})
)

// saga outcomes beyond the three success outcomes
const (
	outcomeRejected = "rejected"
	outcomeConflict = "conflict"
	outcomeFailed   = "failed"
)
