// Package metrics provides operational instrumentation and the
// store-backed metrics snapshot.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "corpactions_events_created_total",
		Help: "Total number of events created, labelled by event type.",
	}, []string{"event_type"})

	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "corpactions_events_processed_total",
		Help: "Total number of processor outcomes, labelled by outcome (completed, retried, failed).",
	}, []string{"outcome"})

	ProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "corpactions_event_processing_duration_seconds",
		Help:    "Per-event processing duration inside the background processor.",
		Buckets: prometheus.DefBuckets,
	})

	PendingBatch = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "corpactions_pending_batch_size",
		Help: "Number of PENDING events picked up by the last poll cycle.",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "corpactions_http_requests_total",
		Help: "Total HTTP requests, labelled by method and status code.",
	}, []string{"method", "status"})
)
