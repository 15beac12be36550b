package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PaymentMetrics records dispatch and reconciliation activity per provider.
type PaymentMetrics struct {
	dispatched    *prometheus.CounterVec
	webhooks      *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec
}

// NewPaymentMetrics registers payment metrics on the provided registerer.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	dispatched := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_dispatched_total",
		Help: "Payment dispatch attempts by provider and outcome.",
	}, []string{"provider", "outcome"})
	webhooks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhooks_received_total",
		Help: "Provider callbacks by provider and result.",
	}, []string{"provider", "result"})
	batchDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "batch_duration_seconds",
		Help:    "Wall-clock duration of batch orchestration runs.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"provider"})
	reg.MustRegister(dispatched, webhooks, batchDuration)
	return &PaymentMetrics{
		dispatched:    dispatched,
		webhooks:      webhooks,
		batchDuration: batchDuration,
	}
}

// IncDispatched counts a dispatch attempt outcome (sent, settled, failed, invalid, simulated).
func (p *PaymentMetrics) IncDispatched(provider, outcome string) {
	if p == nil || p.dispatched == nil {
		return
	}
	p.dispatched.WithLabelValues(normalizeLabel(provider), normalizeLabel(outcome)).Inc()
}

// IncWebhook counts a callback by result (applied, duplicate, orphan, rejected).
func (p *PaymentMetrics) IncWebhook(provider, result string) {
	if p == nil || p.webhooks == nil {
		return
	}
	p.webhooks.WithLabelValues(normalizeLabel(provider), normalizeLabel(result)).Inc()
}

// ObserveBatchDuration records how long a batch run took.
func (p *PaymentMetrics) ObserveBatchDuration(provider string, duration time.Duration) {
	if p == nil || p.batchDuration == nil {
		return
	}
	p.batchDuration.WithLabelValues(normalizeLabel(provider)).Observe(duration.Seconds())
}
