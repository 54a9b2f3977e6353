// Package telemetry records pipeline lifecycle events in a local SQLite
// database shared with the operational dashboard.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/Boswecw/rake/internal/observability"
)

const serviceName = "rake"

// Severity levels for emitted events
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
    event_id       TEXT PRIMARY KEY,
    timestamp      TEXT NOT NULL,
    service        TEXT NOT NULL,
    event_type     TEXT NOT NULL,
    severity       TEXT NOT NULL,
    correlation_id TEXT,
    metadata       TEXT,
    metrics        TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_correlation ON events(correlation_id);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);
`

// Event is one telemetry record
type Event struct {
	EventID       string                 `db:"event_id"`
	Timestamp     string                 `db:"timestamp"`
	Service       string                 `db:"service"`
	EventType     string                 `db:"event_type"`
	Severity      string                 `db:"severity"`
	CorrelationID string                 `db:"correlation_id"`
	Metadata      map[string]interface{} `db:"-"`
	Metrics       map[string]interface{} `db:"-"`
}

// Sink writes events to the telemetry database. Emits are best-effort: a
// locked database drops the event with a warning rather than failing the
// caller.
type Sink struct {
	db      *sqlx.DB
	enabled bool
	logger  observability.Logger
}

// NewSink opens (and if needed initializes) the telemetry database at path.
// When enabled is false every emit is a no-op; tests run with a disabled sink.
func NewSink(path string, enabled bool, logger observability.Logger) (*Sink, error) {
	s := &Sink{
		enabled: enabled,
		logger:  logger.WithPrefix("telemetry"),
	}
	if !enabled {
		return s, nil
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", path)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize telemetry schema: %w", err)
	}
	s.db = db
	return s, nil
}

// Health reports whether the sink database is reachable. A disabled sink
// is always healthy.
func (s *Sink) Health(ctx context.Context) error {
	if !s.enabled || s.db == nil {
		return nil
	}
	return s.db.PingContext(ctx)
}

// Close releases the underlying database handle
func (s *Sink) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Emit writes a single event. Lock contention drops the event.
func (s *Sink) Emit(eventType, severity, correlationID string, metadata, metrics map[string]interface{}) {
	if !s.enabled || s.db == nil {
		return
	}

	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		s.logger.Warn("Failed to serialize event metadata", map[string]interface{}{
			"event_type": eventType,
			"error":      err.Error(),
		})
		return
	}
	metricsJSON, err := json.Marshal(metrics)
	if err != nil {
		s.logger.Warn("Failed to serialize event metrics", map[string]interface{}{
			"event_type": eventType,
			"error":      err.Error(),
		})
		return
	}

	_, err = s.db.Exec(
		`INSERT INTO events (event_id, timestamp, service, event_type, severity, correlation_id, metadata, metrics)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(),
		time.Now().UTC().Format(time.RFC3339Nano),
		serviceName,
		eventType,
		severity,
		correlationID,
		string(metadataJSON),
		string(metricsJSON),
	)
	if err != nil {
		if strings.Contains(err.Error(), "database is locked") {
			s.logger.Warn("Telemetry database locked, dropping event", map[string]interface{}{
				"event_type":     eventType,
				"correlation_id": correlationID,
			})
			return
		}
		s.logger.Warn("Failed to emit telemetry event", map[string]interface{}{
			"event_type": eventType,
			"error":      err.Error(),
		})
	}
}

// EmitJobStarted records the start of a pipeline run
func (s *Sink) EmitJobStarted(correlationID, jobID, source string) {
	s.Emit("job_started", SeverityInfo, correlationID, map[string]interface{}{
		"job_id": jobID,
		"source": source,
	}, nil)
}

// EmitPhaseCompleted records a finished pipeline stage with its measurements
func (s *Sink) EmitPhaseCompleted(correlationID, jobID, phase string, phaseIndex int, durationMS float64, itemsProcessed int, metadata map[string]interface{}) {
	md := map[string]interface{}{
		"job_id":      jobID,
		"phase":       phase,
		"phase_index": phaseIndex,
	}
	for k, v := range metadata {
		md[k] = v
	}
	s.Emit("phase_completed", SeverityInfo, correlationID, md, map[string]interface{}{
		"duration_ms":     durationMS,
		"items_processed": itemsProcessed,
	})
}

// EmitJobCompleted records a successful run as an ingestion_complete event
func (s *Sink) EmitJobCompleted(correlationID, jobID string, totalDurationMS float64, metadata, metrics map[string]interface{}) {
	short := jobID
	if len(short) > 8 {
		short = short[:8]
	}
	md := map[string]interface{}{
		"job_id":        jobID,
		"pipeline_id":   short,
		"pipeline_name": fmt.Sprintf("Pipeline %s", short),
	}
	for k, v := range metadata {
		md[k] = v
	}
	mx := map[string]interface{}{
		"total_duration_ms": totalDurationMS,
	}
	for k, v := range metrics {
		mx[k] = v
	}
	s.Emit("ingestion_complete", SeverityInfo, correlationID, md, mx)
}

// EmitJobFailed records a failed run with the stage that broke it
func (s *Sink) EmitJobFailed(correlationID, jobID, failedStage, errorType, errorMessage string, retryCount int) {
	s.Emit("job_failed", SeverityError, correlationID, map[string]interface{}{
		"job_id":        jobID,
		"failed_stage":  failedStage,
		"error_type":    errorType,
		"error_message": errorMessage,
		"retry_count":   retryCount,
	}, nil)
}

// EmitRetryAttempt records one retry of a transient failure
func (s *Sink) EmitRetryAttempt(correlationID, stage string, attempt, maxAttempts int, errorMessage string, backoffSeconds float64) {
	s.Emit("retry_attempt", SeverityWarning, correlationID, map[string]interface{}{
		"stage":           stage,
		"attempt_number":  attempt,
		"max_attempts":    maxAttempts,
		"error_message":   errorMessage,
		"backoff_seconds": backoffSeconds,
	}, nil)
}
