// Package metrics provides Prometheus metrics for the ingestion service
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the ingestion service
type Metrics struct {
	// Job lifecycle
	JobsSubmitted prometheus.CounterVec
	JobsFinished  prometheus.CounterVec
	JobDuration   prometheus.HistogramVec
	ActiveJobs    prometheus.Gauge

	// Pipeline stages
	StageDuration       prometheus.HistogramVec
	StageErrors         prometheus.CounterVec
	DocumentsProcessed  prometheus.CounterVec
	ChunksCreated       prometheus.Counter
	EmbeddingsGenerated prometheus.Counter
	TokensProcessed     prometheus.Counter
	RetryAttempts       prometheus.CounterVec

	// Executor
	QueueDepth    prometheus.Gauge
	ActiveWorkers prometheus.Gauge

	// HTTP API
	HTTPRequestDuration prometheus.HistogramVec
}

// NewMetrics creates and registers all ingestion service metrics
func NewMetrics() *Metrics {
	return &Metrics{
		JobsSubmitted: *promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rake_jobs_submitted_total",
			Help: "Total number of ingestion jobs accepted, by source",
		}, []string{"source"}),
		JobsFinished: *promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rake_jobs_finished_total",
			Help: "Total number of ingestion jobs finished, by terminal status",
		}, []string{"status"}),
		JobDuration: *promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rake_job_duration_seconds",
			Help:    "End-to-end ingestion job duration, by source",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17min
		}, []string{"source"}),
		ActiveJobs: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "rake_active_jobs",
			Help: "Number of jobs currently moving through the pipeline",
		}),

		StageDuration: *promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rake_stage_duration_seconds",
			Help:    "Duration of each pipeline stage, by stage",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}, []string{"stage"}),
		StageErrors: *promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rake_stage_errors_total",
			Help: "Total number of stage failures, by stage and source",
		}, []string{"stage", "source"}),
		DocumentsProcessed: *promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rake_documents_processed_total",
			Help: "Total number of documents leaving each stage",
		}, []string{"stage"}),
		ChunksCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rake_chunks_created_total",
			Help: "Total number of chunks created",
		}),
		EmbeddingsGenerated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rake_embeddings_generated_total",
			Help: "Total number of embeddings generated",
		}),
		TokensProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rake_tokens_processed_total",
			Help: "Total number of tokens sent to the embedding model",
		}),
		RetryAttempts: *promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rake_retry_attempts_total",
			Help: "Total number of retry attempts, by stage",
		}, []string{"stage"}),

		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "rake_executor_queue_depth",
			Help: "Jobs queued and not yet picked up by a worker",
		}),
		ActiveWorkers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "rake_executor_active_workers",
			Help: "Workers currently executing a job",
		}),

		HTTPRequestDuration: *promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rake_http_request_duration_seconds",
			Help:    "HTTP request latency, by method, route and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

// RecordJobFinished records a job reaching a terminal status
func (m *Metrics) RecordJobFinished(source, status string, duration time.Duration, chunks, embeddings int) {
	m.JobsFinished.WithLabelValues(status).Inc()
	m.JobDuration.WithLabelValues(source).Observe(duration.Seconds())
	m.ChunksCreated.Add(float64(chunks))
	m.EmbeddingsGenerated.Add(float64(embeddings))
}

// RecordStageError records a stage failure
func (m *Metrics) RecordStageError(stage, source string) {
	m.StageErrors.WithLabelValues(stage, source).Inc()
}
