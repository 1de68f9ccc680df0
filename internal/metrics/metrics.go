package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// messagesTotal counts final message outcomes.
	// Labels:
	// - method: "personal", "api" or "bulk"
	// - status: "sent", "failed" or "scheduled"
	messagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wagateway",
			Name:      "messages_total",
			Help:      "Messages by delivery method and resulting status",
		},
		[]string{"method", "status"},
	)

	quotaRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wagateway",
			Name:      "quota_rejections_total",
			Help:      "Reservations rejected because a quota bucket was exhausted",
		},
		[]string{"scope"},
	)

	webhookFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wagateway",
			Name:      "webhook_failures_total",
			Help:      "Webhook notifications that failed or timed out",
		},
	)

	transportSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wagateway",
			Subsystem: "transport",
			Name:      "send_total",
			Help:      "Transport channel sends by outcome",
		},
		[]string{"channel", "outcome"},
	)

	transportDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wagateway",
			Subsystem: "transport",
			Name:      "send_duration_seconds",
			Help:      "Latency of transport channel sends",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"channel"},
	)
)

func IncMessage(method, status string) {
	if method == "" {
		method = "unknown"
	}
	messagesTotal.WithLabelValues(method, status).Inc()
}

func IncQuotaRejection(scope string) {
	if scope == "" {
		scope = "unknown"
	}
	quotaRejections.WithLabelValues(scope).Inc()
}

func IncWebhookFailure() {
	webhookFailures.Inc()
}

// ObserveTransport records one channel send. outcome is "delivered" or "failed".
func ObserveTransport(channel, outcome string, took time.Duration) {
	transportSends.WithLabelValues(channel, outcome).Inc()
	transportDuration.WithLabelValues(channel).Observe(took.Seconds())
}
