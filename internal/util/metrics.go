package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LedgerEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_entries_total",
		Help: "Total number of ledger entries appended",
	}, []string{"source", "side"})

	PurchasesCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "purchases_created_total",
		Help: "Total number of purchases created",
	}, []string{"source"})

	PurchasesPaidTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "purchases_paid_total",
		Help: "Total number of purchases marked paid",
	})

	PurchasesVoidedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "purchases_voided_total",
		Help: "Total number of purchases voided",
	})

	SweepEnqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sweep_jobs_enqueued_total",
		Help: "Total number of jobs enqueued by the charge scheduler",
	}, []string{"sweep"})

	JobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_processed_total",
		Help: "Total number of background jobs processed",
	}, []string{"type", "outcome"})

	JobProcessingLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "job_processing_latency_seconds",
		Help:    "Latency of background job processing",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Total number of payment provider webhook events",
	}, []string{"type", "outcome"})

	ProviderRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "provider_request_latency_seconds",
		Help:    "Latency of payment provider API calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
