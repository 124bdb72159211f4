// Package metrics registers the process-wide Prometheus collectors. Like
// config, this registry is legitimately global: components reference the
// package-level vars directly rather than threading a registry handle
// through every constructor.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	WSConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fabric_websocket_connections",
		Help: "Current number of active WebSocket connections across this node.",
	})

	WSMessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fabric_websocket_messages_sent_total",
		Help: "Total egress events pushed over WebSocket, by event type.",
	}, []string{"event"})

	BroadcastLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fabric_broadcast_latency_seconds",
		Help:    "Time taken by one delivery job's fan-out pass, from re-reading the message to the last recipient push.",
		Buckets: prometheus.DefBuckets,
	})

	DeliveryJobsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_jobs_processed_total",
		Help: "Delivery jobs processed by the worker, by outcome.",
	}, []string{"outcome"})

	DeliveryQueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "delivery_queue_depth",
		Help: "Pending entry count per delivery stream, as of the last pending-summary scan.",
	}, []string{"stream"})

	DeliveryRecipientOutcome = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_recipient_outcome_total",
		Help: "Per-recipient delivery outcomes within a job, by outcome.",
	}, []string{"outcome"})

	DeadLettered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "delivery_dead_lettered_total",
		Help: "Jobs moved to the dead-letter stream after exceeding max retries.",
	})

	CircuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "circuit_breaker_state",
		Help: "0=closed 1=half-open 2=open, by breaker name.",
	}, []string{"breaker"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency by route and status class.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method", "status"})
)

func init() {
	prometheus.MustRegister(
		WSConnections,
		WSMessagesSent,
		BroadcastLatency,
		DeliveryJobsProcessed,
		DeliveryQueueDepth,
		DeliveryRecipientOutcome,
		DeadLettered,
		CircuitBreakerState,
		HTTPRequestDuration,
	)
}
