// Hubcast - GitHub Issue Mirroring and Incremental Sync
// Copyright 2026 Hubcast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hubcast/hubcast

// Package metrics exposes Prometheus instrumentation for the fetch pipeline,
// the change bus, delta computation and sync sessions. Metrics are registered
// via promauto at init and served from /metrics.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Fetch pipeline

	FetchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hubcast_fetch_requests_total",
			Help: "Total upstream API requests by method and status code",
		},
		[]string{"method", "status"},
	)

	FetchRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hubcast_fetch_retries_total",
			Help: "Total retries of transient upstream failures (502/503/504)",
		},
	)

	FetchRedirectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hubcast_fetch_redirects_total",
			Help: "Total redirects followed by the request executor",
		},
	)

	RateLimitFastFailsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hubcast_rate_limit_fast_fails_total",
			Help: "Total fetches refused before network I/O due to exhausted quota",
		},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hubcast_fetch_duration_seconds",
			Help:    "Upstream request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	PagesFetchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hubcast_pages_fetched_total",
			Help: "Total pages fetched by pagination strategy",
		},
		[]string{"strategy"}, // "interpolated", "sequential"
	)

	PartialResultsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hubcast_partial_results_total",
			Help: "Total paginated fetches truncated by a page cap or page failure",
		},
	)

	CacheConditionalHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hubcast_cache_conditional_hits_total",
			Help: "Total 304 Not Modified responses to conditional requests",
		},
	)

	CredentialRevocationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hubcast_credential_revocations_total",
			Help: "Total 401 responses that triggered the revocation callback",
		},
	)

	// Change bus

	BusEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hubcast_bus_events_total",
			Help: "Change summaries received from the notification bus",
		},
		[]string{"class"}, // "urgent", "routine"
	)

	BusCoalescedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hubcast_bus_coalesced_total",
			Help: "Coalesced summary unions emitted from routine windows",
		},
	)

	BusSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hubcast_bus_subscribers",
			Help: "Current change bus subscriber count",
		},
	)

	// Delta computation and sessions

	DeltaPassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hubcast_delta_passes_total",
			Help: "Delta computer passes by result",
		},
		[]string{"result"}, // "ok", "error"
	)

	DeltaEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hubcast_delta_entries_total",
			Help: "Sync log entries emitted by entity type and action",
		},
		[]string{"entity", "action"},
	)

	DeltaDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hubcast_delta_duration_seconds",
			Help:    "Duration of one delta computer pass",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hubcast_sessions_active",
			Help: "Currently connected sync sessions",
		},
	)

	SessionMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hubcast_session_messages_total",
			Help: "Wire protocol messages by direction and type",
		},
		[]string{"direction", "type"}, // direction: "in", "out"
	)

	ProtocolViolationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hubcast_protocol_violations_total",
			Help: "Connections failed for protocol violations (duplicate or missing hello)",
		},
	)

	// Actor runtime and mirror refreshes

	ActorWorkersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hubcast_actor_workers_active",
			Help: "Live per-key actor workers",
		},
	)

	ActorTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hubcast_actor_tasks_total",
			Help: "Actor tasks by result",
		},
		[]string{"result"}, // "ok", "error", "dropped"
	)

	RefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hubcast_refreshes_total",
			Help: "Mirror refreshes by kind and result",
		},
		[]string{"kind", "result"}, // kind: "user", "issue"
	)
)

// ObserveFetch records one completed upstream request.
func ObserveFetch(method string, status int, seconds float64) {
	FetchRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	FetchDuration.WithLabelValues(method).Observe(seconds)
}
