// Package telemetry registers the Prometheus metrics that back the
// operational dashboards: webhook throughput, refresh queue health and
// provider API performance.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for invoice-sync observability.
// Counters carry a provider label so dashboards can segment per
// integration.
type Metrics struct {
	// Webhooks
	WebhookReceived  *prometheus.CounterVec
	WebhookDuplicate *prometheus.CounterVec
	WebhookProcessed *prometheus.CounterVec
	WebhookFailed    *prometheus.CounterVec
	WebhookLatency   *prometheus.HistogramVec

	// Refresh queue
	JobsEnqueued     *prometheus.CounterVec
	JobsProcessed    *prometheus.CounterVec
	JobsFailed       *prometheus.CounterVec
	JobsDeadLettered *prometheus.CounterVec
	JobDuration      *prometheus.HistogramVec

	// Invoice lifecycle
	InvoicesSent      *prometheus.CounterVec
	SendFailed        *prometheus.CounterVec
	StatusTransitions *prometheus.CounterVec

	// External API performance
	ProviderAPILatency *prometheus.HistogramVec
	ProviderAPIErrors  *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "invoicecore"
	}

	subsystem := "sync"

	m := &Metrics{
		// =======================================================================
		// Webhooks
		// =======================================================================
		WebhookReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_received_total",
				Help:      "Total webhook deliveries received",
			},
			[]string{"provider"},
		),
		WebhookDuplicate: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_duplicate_total",
				Help:      "Total webhook deliveries dropped as duplicates",
			},
			[]string{"provider"},
		),
		WebhookProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_processed_total",
				Help:      "Total webhook deliveries processed successfully",
			},
			[]string{"provider", "event_type"},
		),
		WebhookFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_failed_total",
				Help:      "Total webhook deliveries that failed processing",
			},
			[]string{"provider", "reason"},
		),
		WebhookLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_duration_seconds",
				Help:      "Webhook processing duration",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"provider"},
		),

		// =======================================================================
		// Refresh Queue
		// =======================================================================
		JobsEnqueued: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "jobs_enqueued_total",
				Help:      "Total refresh jobs enqueued",
			},
			[]string{"provider"},
		),
		JobsProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "jobs_processed_total",
				Help:      "Total refresh jobs processed successfully",
			},
			[]string{"provider"},
		),
		JobsFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "jobs_failed_total",
				Help:      "Total refresh job attempts that failed",
			},
			[]string{"provider"},
		),
		JobsDeadLettered: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "jobs_dead_lettered_total",
				Help:      "Total refresh jobs moved to the dead letter table",
			},
			[]string{"provider"},
		),
		JobDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "job_duration_seconds",
				Help:      "Refresh job processing duration",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"provider"},
		),

		// =======================================================================
		// Invoice Lifecycle
		// =======================================================================
		InvoicesSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "invoices_sent_total",
				Help:      "Total invoices finalized and sent",
			},
			[]string{"provider"},
		),
		SendFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "send_failed_total",
				Help:      "Total send attempts rejected by the provider",
			},
			[]string{"provider"},
		),
		StatusTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "status_transitions_total",
				Help:      "Total observed invoice status transitions",
			},
			[]string{"provider", "from", "to"},
		),

		// =======================================================================
		// Provider API Performance
		// =======================================================================
		ProviderAPILatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "provider_api_duration_seconds",
				Help:      "Duration of outbound provider API calls",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"provider", "operation"},
		),
		ProviderAPIErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "provider_api_errors_total",
				Help:      "Total outbound provider API calls that failed",
			},
			[]string{"provider", "operation"},
		),
	}

	return m
}
