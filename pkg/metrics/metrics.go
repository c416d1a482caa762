// Package metrics provides Prometheus metrics for the Fern service.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fern"

var (
	// WebhookEventsTotal tracks crawl lifecycle events by type and resulting status
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_total",
			Help:      "Total number of crawl lifecycle events by type and response status",
		},
		[]string{"type", "status"},
	)

	// PagesTotal tracks pages by how the controller handled them
	PagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "pages_total",
			Help:      "Total number of pages by outcome (streamed, skipped, batch, filtered, tracked, duplicate)",
		},
		[]string{"outcome"},
	)

	// PipelineDuration tracks extraction and storage time per unit of work
	PipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "duration_seconds",
			Help:      "Duration of the extraction and storage pipeline in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"mode", "status"},
	)

	// PipelineStageErrors tracks failures per pipeline stage
	PipelineStageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_errors_total",
			Help:      "Total number of pipeline stage failures",
		},
		[]string{"stage"},
	)

	// DedupErrorsTotal tracks dedup ledger operations that degraded
	DedupErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dedup",
			Name:      "errors_total",
			Help:      "Total number of dedup ledger operations that failed and degraded",
		},
		[]string{"operation"},
	)

	// RelationshipsDroppedTotal tracks proposed relationships rejected by validation
	RelationshipsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relationships",
			Name:      "dropped_total",
			Help:      "Total number of proposed relationships dropped by reason",
		},
		[]string{"reason"},
	)

	// MalformedLLMOutputTotal tracks responses with no usable JSON array
	MalformedLLMOutputTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relationships",
			Name:      "malformed_output_total",
			Help:      "Total number of generative responses without a valid JSON array",
		},
	)

	// SearchDuration tracks hybrid query latency
	SearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Duration of hybrid queries in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 0.75, 1, 2.5, 5},
		},
		[]string{"outcome"},
	)

	// SearchBranchFailures tracks retrieval branches that failed and were treated as empty
	SearchBranchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "branch_failures_total",
			Help:      "Total number of retrieval branch failures",
		},
		[]string{"branch"},
	)

	// WorkerQueueDepth tracks tasks waiting for a worker
	WorkerQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "queue_depth",
			Help:      "Number of tasks waiting for a worker",
		},
	)

	// WorkerTasksTotal tracks worker task outcomes
	WorkerTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "tasks_total",
			Help:      "Total number of worker tasks by status",
		},
		[]string{"status"},
	)

	// KafkaMessagesTotal tracks Kafka publishes and consumes
	KafkaMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kafka",
			Name:      "messages_total",
			Help:      "Total number of Kafka messages by direction, topic and status",
		},
		[]string{"direction", "topic", "status"},
	)

	// HTTPRequestsTotal tracks inbound HTTP requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of inbound HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)

	// HTTPRequestDuration tracks inbound HTTP request duration
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of inbound HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordWebhookEvent records a handled lifecycle event
func RecordWebhookEvent(eventType, status string) {
	WebhookEventsTotal.WithLabelValues(eventType, status).Inc()
}

// RecordPages adds n pages with the given outcome
func RecordPages(outcome string, n int) {
	if n <= 0 {
		return
	}
	PagesTotal.WithLabelValues(outcome).Add(float64(n))
}

// RecordPipeline records one pipeline run
func RecordPipeline(mode, status string, duration time.Duration) {
	PipelineDuration.WithLabelValues(mode, status).Observe(duration.Seconds())
}

// RecordStageError records a failed pipeline stage
func RecordStageError(stage string) {
	PipelineStageErrors.WithLabelValues(stage).Inc()
}

// RecordDedupError records a degraded dedup ledger operation
func RecordDedupError(operation string) {
	DedupErrorsTotal.WithLabelValues(operation).Inc()
}

// RecordRelationshipDropped records a rejected relationship
func RecordRelationshipDropped(reason string) {
	RelationshipsDroppedTotal.WithLabelValues(reason).Inc()
}

// RecordMalformedLLMOutput records an unusable generative response
func RecordMalformedLLMOutput() {
	MalformedLLMOutputTotal.Inc()
}

// RecordSearch records a hybrid query
func RecordSearch(outcome string, duration time.Duration) {
	SearchDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordSearchBranchFailure records a failed retrieval branch
func RecordSearchBranchFailure(branch string) {
	SearchBranchFailures.WithLabelValues(branch).Inc()
}

// RecordWorkerTask records a worker task outcome
func RecordWorkerTask(status string) {
	WorkerTasksTotal.WithLabelValues(status).Inc()
}

// RecordKafkaMessage records a Kafka publish or consume
func RecordKafkaMessage(direction, topic, status string) {
	KafkaMessagesTotal.WithLabelValues(direction, topic, status).Inc()
}

// RecordHTTPRequest records an inbound HTTP request
func RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
