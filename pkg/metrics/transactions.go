package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TransactionMetrics records gateway and coordinator outcomes.
type TransactionMetrics struct {
	gatewayDuration *prometheus.HistogramVec
	payments        *prometheus.CounterVec
	refunds         *prometheus.CounterVec
}

// NewTransactionMetrics registers the transaction metrics on the provided
// registerer. A nil registerer yields a no-op recorder, which tests use.
func NewTransactionMetrics(reg prometheus.Registerer) *TransactionMetrics {
	if reg == nil {
		return &TransactionMetrics{}
	}
	gatewayDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_call_duration_seconds",
		Help:    "Duration of payment gateway calls in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	payments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_processed_total",
		Help: "Payment attempts by outcome.",
	}, []string{"outcome"})
	refunds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "refunds_processed_total",
		Help: "Refund attempts by outcome.",
	}, []string{"outcome"})
	reg.MustRegister(gatewayDuration, payments, refunds)
	return &TransactionMetrics{
		gatewayDuration: gatewayDuration,
		payments:        payments,
		refunds:         refunds,
	}
}

// ObserveGateway records the duration of one gateway call.
func (t *TransactionMetrics) ObserveGateway(operation string, duration time.Duration) {
	if t == nil || t.gatewayDuration == nil {
		return
	}
	t.gatewayDuration.WithLabelValues(normalizeLabel(operation)).Observe(duration.Seconds())
}

// IncPayment counts one payment attempt with the given outcome.
func (t *TransactionMetrics) IncPayment(outcome string) {
	if t == nil || t.payments == nil {
		return
	}
	t.payments.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncRefund counts one refund attempt with the given outcome.
func (t *TransactionMetrics) IncRefund(outcome string) {
	if t == nil || t.refunds == nil {
		return
	}
	t.refunds.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
