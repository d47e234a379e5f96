// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Webhook ingestion
	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Playback webhook events by canonical kind and engine outcome",
		},
		[]string{"kind", "outcome"}, // outcome: created, updated, finalized, restarted, no_active_session
	)

	WebhookRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_rejected_total",
			Help: "Webhook bodies that did not become a playback event",
		},
		[]string{"reason"},
	)

	SessionsFinalized = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "playback_sessions_finalized_total",
			Help: "Sessions rolled up into media/device/daily statistics",
		},
	)

	RollupDuplicates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rollup_duplicate_finalizations_total",
			Help: "Finalizations skipped because the session was already rolled up",
		},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "playback_sessions_active",
			Help: "Sessions currently playing or paused",
		},
	)

	// Reconciliation
	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_runs_total",
			Help: "Per-source reconciliation outcomes",
		},
		[]string{"source", "status"},
	)

	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_duration_seconds",
			Help:    "Duration of one source sync",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		},
		[]string{"source"},
	)

	SyncRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_records_total",
			Help: "Records inserted by reconciliation",
		},
		[]string{"source"},
	)

	SyncPassesSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_passes_skipped_total",
			Help: "Ticks skipped because a pass was still running",
		},
	)

	// Connectors
	ConnectorRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connector_requests_total",
			Help: "Upstream HTTP calls by source and result",
		},
		[]string{"source", "result"}, // result: ok, unreachable, unauthorized, malformed
	)

	ConnectorLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "connector_request_duration_seconds",
			Help:    "Upstream HTTP call latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Host
	HostCPUPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "host_cpu_percent",
			Help: "Last sampled host CPU utilisation",
		},
	)

	HostMemoryPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "host_memory_percent",
			Help: "Last sampled host memory utilisation",
		},
	)

	LiveFeedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "live_feed_clients",
			Help: "Connected /now/ws websocket clients",
		},
	)
)
