// Package metrics provides Prometheus metrics for the repricer service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal tracks reconciliation runs by final status
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "repricer",
			Subsystem: "reconcile",
			Name:      "runs_total",
			Help:      "Total number of reconciliation runs by final status",
		},
		[]string{"status"},
	)

	// RunDuration tracks reconciliation run duration in seconds
	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "repricer",
			Subsystem: "reconcile",
			Name:      "run_duration_seconds",
			Help:      "Duration of reconciliation runs in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)

	// ItemsTotal tracks analyzed items by outcome
	ItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "repricer",
			Subsystem: "reconcile",
			Name:      "items_total",
			Help:      "Total number of analyzed items by outcome",
		},
		[]string{"outcome"},
	)

	// ItemsInFlight tracks items currently being analyzed
	ItemsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "repricer",
			Subsystem: "reconcile",
			Name:      "items_in_flight",
			Help:      "Number of items currently being analyzed",
		},
	)

	// RetriesTotal tracks retried marketplace operations by failure kind
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "repricer",
			Subsystem: "resilience",
			Name:      "retries_total",
			Help:      "Total number of retried operations by failure kind",
		},
		[]string{"operation", "kind"},
	)

	// BackoffWaitTime tracks time spent waiting between retry attempts
	BackoffWaitTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "repricer",
			Subsystem: "resilience",
			Name:      "backoff_wait_seconds",
			Help:      "Time spent waiting between retry attempts in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 15, 30, 60},
		},
		[]string{"kind"},
	)

	// HTTPRequestsTotal tracks outbound marketplace HTTP requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "repricer",
			Subsystem: "http_client",
			Name:      "requests_total",
			Help:      "Total number of outbound HTTP requests",
		},
		[]string{"method", "status_code"},
	)

	// HTTPRequestDuration tracks outbound marketplace HTTP request duration
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "repricer",
			Subsystem: "http_client",
			Name:      "request_duration_seconds",
			Help:      "Duration of outbound HTTP requests in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method"},
	)

	// RateLimitHits tracks rate limit hits on the marketplace client
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "repricer",
			Subsystem: "ratelimit",
			Name:      "hits_total",
			Help:      "Total number of rate limit hits",
		},
		[]string{"limit_name"},
	)

	// RateLimitWaitTime tracks time spent waiting for rate limits
	RateLimitWaitTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "repricer",
			Subsystem: "ratelimit",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for rate limits in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"limit_name"},
	)

	// SessionRefreshes tracks marketplace session refresh operations
	SessionRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "repricer",
			Subsystem: "session",
			Name:      "refreshes_total",
			Help:      "Total number of session refresh operations",
		},
		[]string{"status"},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "repricer",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)

	// KafkaPublishDuration tracks Kafka publish duration
	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "repricer",
			Subsystem: "kafka",
			Name:      "publish_duration_seconds",
			Help:      "Duration of Kafka publish operations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		},
	)

	// DatabaseQueryDuration tracks database query duration
	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "repricer",
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Duration of database queries in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"},
	)

	// RedisOperationDuration tracks Redis operation duration
	RedisOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "repricer",
			Subsystem: "redis",
			Name:      "operation_duration_seconds",
			Help:      "Duration of Redis operations in seconds",
			Buckets:   []float64{0.0001, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		},
		[]string{"operation"},
	)
)

// RecordRun records a completed reconciliation run
func RecordRun(status string, durationSeconds float64) {
	RunsTotal.WithLabelValues(status).Inc()
	RunDuration.Observe(durationSeconds)
}

// RecordItem records an analyzed item outcome
func RecordItem(outcome string) {
	ItemsTotal.WithLabelValues(outcome).Inc()
}

// RecordRetry records a retried operation
func RecordRetry(operation, kind string, waitSeconds float64) {
	RetriesTotal.WithLabelValues(operation, kind).Inc()
	BackoffWaitTime.WithLabelValues(kind).Observe(waitSeconds)
}

// RecordHTTPRequest records an outbound HTTP request metric
func RecordHTTPRequest(method, statusCode string, durationSeconds float64) {
	HTTPRequestsTotal.WithLabelValues(method, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method).Observe(durationSeconds)
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string, durationSeconds float64) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
	KafkaPublishDuration.Observe(durationSeconds)
}
