// Package metrics exposes the dispatch engine's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AttemptsTotal counts finished delivery attempts by outcome status.
	AttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhookd_delivery_attempts_total",
		Help: "Delivery attempts by terminal per-attempt status.",
	}, []string{"status"})

	// PipelinesTotal counts pipelines reaching a terminal state.
	PipelinesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhookd_pipelines_total",
		Help: "Delivery pipelines by terminal state (delivered, failed, disabled).",
	}, []string{"state"})

	// InFlight gauges deliveries currently holding a worker.
	InFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "webhookd_deliveries_in_flight",
		Help: "Delivery attempts currently executing HTTP requests.",
	})

	// QueueDepth gauges scheduled jobs, including delayed retries.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "webhookd_queue_depth",
		Help: "Jobs waiting in the delivery queue, including delayed retries.",
	})

	// DeliveryDuration observes endpoint response latency.
	DeliveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "webhookd_delivery_duration_seconds",
		Help:    "Latency of outbound webhook HTTP requests.",
		Buckets: prometheus.DefBuckets,
	})
)
