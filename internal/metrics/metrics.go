// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "history_sync_duration_seconds",
			Help:    "Duration of history sync runs in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "history_sync_runs_total",
			Help: "History sync runs by outcome",
		},
		[]string{"outcome"}, // "ingested", "noop", "failed"
	)

	SyncFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "history_sync_failures_total",
			Help: "Failed history sync runs by reason",
		},
		[]string{"reason"}, // "source", "store", "not_provisioned"
	)

	SyncNewTracks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "history_sync_new_tracks_total",
			Help: "Listening events written by history sync",
		},
	)

	SyncWatermark = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "history_sync_watermark_timestamp_seconds",
			Help: "Unix time of the newest ingested play",
		},
	)

	StoreQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "history_store_query_duration_seconds",
			Help:    "Duration of event store queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	StoreQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "history_store_query_errors_total",
			Help: "Event store query errors",
		},
		[]string{"operation"},
	)

	SourceRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spotify_requests_total",
			Help: "Requests to the Spotify recently-played endpoint by result",
		},
		[]string{"result"}, // "success", "failure", "rejected"
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// RecordStoreQuery records the duration and, on failure, the error of a store query.
func RecordStoreQuery(operation string, duration time.Duration, err error) {
	StoreQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		StoreQueryErrors.WithLabelValues(operation).Inc()
	}
}

// RecordSync records the outcome of one sync run.
func RecordSync(duration time.Duration, newTracks int, err error, reason string) {
	SyncDuration.Observe(duration.Seconds())
	switch {
	case err != nil:
		SyncRuns.WithLabelValues("failed").Inc()
		if reason == "" {
			reason = "store"
		}
		SyncFailures.WithLabelValues(reason).Inc()
	case newTracks == 0:
		SyncRuns.WithLabelValues("noop").Inc()
	default:
		SyncRuns.WithLabelValues("ingested").Inc()
		SyncNewTracks.Add(float64(newTracks))
	}
}
