package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/Boswecw/rake/internal/models"
	"github.com/Boswecw/rake/internal/observability"
	"github.com/Boswecw/rake/internal/source"
)

// FetchStage resolves the source adapter and retrieves raw documents
type FetchStage struct {
	registry    *source.Registry
	maxAttempts int
	backoffBase float64
	events      Events
	logger      observability.Logger
}

// NewFetchStage creates the stage
func NewFetchStage(registry *source.Registry, maxAttempts int, backoffBase float64, events Events, logger observability.Logger) *FetchStage {
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	return &FetchStage{
		registry:    registry,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		events:      events,
		logger:      logger.WithPrefix("stage-fetch"),
	}
}

// Run fetches documents for the job's source and request payload
func (s *FetchStage) Run(ctx context.Context, job *models.Job) ([]*models.RawDocument, error) {
	start := time.Now()

	adapter, err := s.registry.Get(job.Source)
	if err != nil {
		if job.Source == source.KindSECEdgar {
			err = fmt.Errorf("sec_edgar source is not configured, set SEC_EDGAR_USER_AGENT: %w", err)
		}
		return nil, s.fail(job, err)
	}

	input := models.CopyMetadata(job.Request)
	if job.TenantID != "" {
		input["tenant_id"] = job.TenantID
	}
	if err := adapter.ValidateInput(input); err != nil {
		return nil, s.fail(job, err)
	}

	docs, err := source.FetchWithRetry(ctx, adapter, input, s.maxAttempts, s.backoffBase)
	if err != nil {
		return nil, s.fail(job, err)
	}
	if len(docs) == 0 {
		return nil, s.fail(job, fmt.Errorf("source %s returned no documents", job.Source))
	}

	totalLength := 0
	for _, doc := range docs {
		if err := doc.Validate(); err != nil {
			return nil, s.fail(job, err)
		}
		totalLength += len(doc.Content)
	}

	s.events.EmitPhaseCompleted(job.CorrelationID, job.ID, StageFetch, 1,
		float64(time.Since(start).Milliseconds()), len(docs),
		map[string]interface{}{
			"source":               job.Source,
			"document_count":       len(docs),
			"total_content_length": totalLength,
		})

	return docs, nil
}

func (s *FetchStage) fail(job *models.Job, err error) error {
	s.logger.Error("Fetch stage failed", map[string]interface{}{
		"job_id": job.ID,
		"source": job.Source,
		"error":  err.Error(),
	})
	s.events.EmitJobFailed(job.CorrelationID, job.ID, StageFetch, "FetchStageError", err.Error(), job.RetryCount)
	return NewStageError(StageFetch, err)
}
