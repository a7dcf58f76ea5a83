// Package metrics provides Prometheus metrics for fern.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	// PipelineRunsTotal tracks pipeline runs by status
	PipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total number of pipeline runs by status",
		},
		[]string{"status"},
	)

	// PipelineRunDuration tracks end-to-end run duration in seconds
	PipelineRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Duration of pipeline runs in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
	)

	// StageDuration tracks per-stage duration in seconds
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"stage"},
	)

	// RecordsRejected tracks rejected records by stage and reason
	RecordsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "pipeline",
			Name:      "records_rejected_total",
			Help:      "Total number of records rejected by stage and reason",
		},
		[]string{"stage", "reason"},
	)

	// MergeReviewsTotal tracks merges raised for review
	MergeReviewsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "identity",
			Name:      "merge_reviews_total",
			Help:      "Total number of customer merges raised for review",
		},
	)

	// InteractionsTotal tracks new interactions by type
	InteractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "interactions",
			Name:      "created_total",
			Help:      "Total number of new interactions by type",
		},
		[]string{"type"},
	)

	// ConnectionsGauge tracks the size of the latest connection table
	ConnectionsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fern",
			Subsystem: "connections",
			Name:      "rows",
			Help:      "Number of rows in the latest connection table",
		},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)

	// KafkaPublishDuration tracks Kafka publish duration
	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "kafka",
			Name:      "publish_duration_seconds",
			Help:      "Duration of Kafka publish operations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		},
	)

	// GraphSyncDuration tracks graph projection duration
	GraphSyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "graph",
			Name:      "sync_duration_seconds",
			Help:      "Duration of graph projection syncs in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60},
		},
		[]string{"status"},
	)
)

// RecordRun records a finished pipeline run
func RecordRun(status string, durationSeconds float64) {
	PipelineRunsTotal.WithLabelValues(status).Inc()
	PipelineRunDuration.Observe(durationSeconds)
}

// RecordStage records one stage's duration
func RecordStage(stage string, durationSeconds float64) {
	StageDuration.WithLabelValues(stage).Observe(durationSeconds)
}

// RecordRejections adds a run's rejection tallies, keyed stage then reason
func RecordRejections(byStage map[string]map[string]int) {
	for stage, byReason := range byStage {
		for reason, n := range byReason {
			RecordsRejected.WithLabelValues(stage, reason).Add(float64(n))
		}
	}
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string, durationSeconds float64) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
	KafkaPublishDuration.Observe(durationSeconds)
}

// RecordGraphSync records a graph projection sync
func RecordGraphSync(status string, durationSeconds float64) {
	GraphSyncDuration.WithLabelValues(status).Observe(durationSeconds)
}

// Push sends every registered metric to a Pushgateway. Batch runs exit before
// a scrape could happen, so they push instead.
func Push(url, job, runID string) error {
	return push.New(url, job).
		Gatherer(prometheus.DefaultGatherer).
		Grouping("run_id", runID).
		Push()
}
