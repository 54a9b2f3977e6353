// Package service implements the ingestion service operations behind the
// HTTP API and the scheduler.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Boswecw/rake/internal/jobstore"
	"github.com/Boswecw/rake/internal/metrics"
	"github.com/Boswecw/rake/internal/models"
	"github.com/Boswecw/rake/internal/observability"
	"github.com/Boswecw/rake/internal/source"
)

// ErrJobFinished is returned when a cancel targets a job that already
// reached completed or failed.
var ErrJobFinished = fmt.Errorf("job already finished")

// Queue accepts job ids for background execution. *executor.Executor
// satisfies it.
type Queue interface {
	Submit(jobID string) error
}

// IngestService creates, queries and cancels ingestion jobs
type IngestService struct {
	jobs     jobstore.Store
	queue    Queue
	registry *source.Registry
	metrics  *metrics.Metrics
	logger   observability.Logger
}

// NewIngestService wires the service. metrics may be nil.
func NewIngestService(jobs jobstore.Store, queue Queue, registry *source.Registry, m *metrics.Metrics, logger observability.Logger) *IngestService {
	return &IngestService{
		jobs:     jobs,
		queue:    queue,
		registry: registry,
		metrics:  m,
		logger:   logger.WithPrefix("ingest-service"),
	}
}

// Sources lists the source kinds jobs can be submitted for
func (s *IngestService) Sources() []string {
	return s.registry.Kinds()
}

// Submit validates the request against the source adapter, persists a
// pending job and queues it for execution.
func (s *IngestService) Submit(ctx context.Context, sourceKind string, request map[string]interface{}, tenantID string) (*models.Job, error) {
	adapter, err := s.registry.Get(sourceKind)
	if err != nil {
		return nil, err
	}

	input := models.CopyMetadata(request)
	if tenantID != "" {
		input["tenant_id"] = tenantID
	}
	if err := adapter.ValidateInput(input); err != nil {
		return nil, err
	}

	job := models.NewJob(sourceKind, request, tenantID)
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	if err := s.queue.Submit(job.ID); err != nil {
		// The job record never became visible as queued work.
		if delErr := s.jobs.Delete(ctx, job.ID); delErr != nil {
			s.logger.Error("Failed to remove unqueued job", map[string]interface{}{
				"job_id": job.ID,
				"error":  delErr.Error(),
			})
		}
		return nil, fmt.Errorf("failed to queue job: %w", err)
	}

	if s.metrics != nil {
		s.metrics.JobsSubmitted.WithLabelValues(sourceKind).Inc()
	}
	s.logger.Info("Job submitted", map[string]interface{}{
		"job_id":         job.ID,
		"source":         sourceKind,
		"correlation_id": job.CorrelationID,
	})
	return job, nil
}

// Get returns one job by id
func (s *IngestService) Get(ctx context.Context, id string) (*models.Job, error) {
	return s.jobs.Get(ctx, id)
}

// List returns a page of jobs and the total match count
func (s *IngestService) List(ctx context.Context, filter jobstore.ListFilter) ([]*models.Job, int, error) {
	return s.jobs.List(ctx, filter)
}

// Cancel marks an active job cancelled. The executor observes the status
// at the next stage boundary and stops.
func (s *IngestService) Cancel(ctx context.Context, id string) (*models.Job, error) {
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status == models.JobStatusCancelled {
		return job, nil
	}
	if job.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: status %s", ErrJobFinished, job.Status)
	}

	now := time.Now().UTC()
	job.Status = models.JobStatusCancelled
	job.CompletedAt = &now
	job.UpdatedAt = now
	if err := s.jobs.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to cancel job %s: %w", id, err)
	}

	s.logger.Info("Job cancelled", map[string]interface{}{"job_id": id})
	return job, nil
}

// ActiveCount returns how many jobs are currently non-terminal, optionally
// scoped to one tenant.
func (s *IngestService) ActiveCount(ctx context.Context, tenantID string) (int, error) {
	active, err := s.jobs.GetActive(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	return len(active), nil
}

// Health reports per-dependency health for the health endpoint
func (s *IngestService) Health(ctx context.Context) map[string]error {
	return map[string]error{
		"jobstore": s.jobs.Health(ctx),
	}
}
