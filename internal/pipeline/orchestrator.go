package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/Boswecw/rake/internal/models"
	"github.com/Boswecw/rake/internal/observability"
)

// Events receives the pipeline lifecycle events. *telemetry.Sink satisfies it.
type Events interface {
	EmitJobStarted(correlationID, jobID, source string)
	EmitPhaseCompleted(correlationID, jobID, phase string, phaseIndex int, durationMS float64, itemsProcessed int, metadata map[string]interface{})
	EmitJobCompleted(correlationID, jobID string, totalDurationMS float64, metadata, metrics map[string]interface{})
	EmitJobFailed(correlationID, jobID, failedStage, errorType, errorMessage string, retryCount int)
}

// JobStore is the subset of the job store the orchestrator needs
type JobStore interface {
	Get(ctx context.Context, id string) (*models.Job, error)
	Update(ctx context.Context, job *models.Job) error
}

// Orchestrator drives one job through the five stages, keeping the job
// record and telemetry in sync at every transition.
type Orchestrator struct {
	fetch  *FetchStage
	clean  *CleanStage
	chunk  *ChunkStage
	embed  *EmbedStage
	store  *StoreStage
	jobs   JobStore
	events Events
	logger observability.Logger
}

// NewOrchestrator wires the stages together
func NewOrchestrator(fetch *FetchStage, clean *CleanStage, chunk *ChunkStage, embed *EmbedStage, store *StoreStage, jobs JobStore, events Events, logger observability.Logger) *Orchestrator {
	return &Orchestrator{
		fetch:  fetch,
		clean:  clean,
		chunk:  chunk,
		embed:  embed,
		store:  store,
		jobs:   jobs,
		events: events,
		logger: logger.WithPrefix("orchestrator"),
	}
}

// Run executes the pipeline for job. The job record reflects the terminal
// state on return: completed, failed, or cancelled (left untouched).
func (o *Orchestrator) Run(ctx context.Context, job *models.Job) error {
	start := time.Now()
	now := start.UTC()
	job.StartedAt = &now

	o.events.EmitJobStarted(job.CorrelationID, job.ID, job.Source)
	o.logger.Info("Starting pipeline", map[string]interface{}{
		"job_id": job.ID,
		"source": job.Source,
	})

	err := o.runStages(ctx, job)
	if err != nil {
		if err == ErrJobCancelled {
			o.logger.Info("Pipeline cancelled", map[string]interface{}{"job_id": job.ID})
			return err
		}

		var stageErr *StageError
		if !AsStageError(err, &stageErr) {
			// Stage errors already emitted job_failed; anything else is on us.
			o.events.EmitJobFailed(job.CorrelationID, job.ID, string(job.Status), "PipelineError", err.Error(), job.RetryCount)
		}
		o.finish(ctx, job, models.JobStatusFailed, err.Error())
		return fmt.Errorf("pipeline failed for job %s: %w", job.ID, err)
	}

	o.finish(ctx, job, models.JobStatusCompleted, "")

	totalMS := float64(time.Since(start).Milliseconds())
	o.events.EmitJobCompleted(job.CorrelationID, job.ID, totalMS,
		map[string]interface{}{
			"documents_fetched": job.DocumentsFetched,
			"documents_cleaned": job.DocumentsCleaned,
			"documents_stored":  job.DocumentsStored,
			"stages_completed":  job.StagesCompleted,
		},
		map[string]interface{}{
			"chunks_created":       job.ChunksCreated,
			"embeddings_generated": job.EmbeddingsGenerated,
		})

	o.logger.Info("Pipeline completed", map[string]interface{}{
		"job_id":      job.ID,
		"duration_ms": totalMS,
		"documents":   job.DocumentsStored,
	})
	return nil
}

func (o *Orchestrator) runStages(ctx context.Context, job *models.Job) error {
	if err := o.transition(ctx, job, models.JobStatusFetching); err != nil {
		return err
	}
	rawDocs, err := o.fetch.Run(ctx, job)
	if err != nil {
		return err
	}
	job.DocumentsFetched = len(rawDocs)
	job.StagesCompleted = append(job.StagesCompleted, StageFetch)

	if err := o.transition(ctx, job, models.JobStatusCleaning); err != nil {
		return err
	}
	cleanedDocs, err := o.clean.Run(ctx, job, rawDocs)
	if err != nil {
		return err
	}
	job.DocumentsCleaned = len(cleanedDocs)
	job.StagesCompleted = append(job.StagesCompleted, StageClean)

	if err := o.transition(ctx, job, models.JobStatusChunking); err != nil {
		return err
	}
	chunks, err := o.chunk.Run(ctx, job, cleanedDocs)
	if err != nil {
		return err
	}
	job.ChunksCreated = len(chunks)
	job.StagesCompleted = append(job.StagesCompleted, StageChunk)

	if err := o.transition(ctx, job, models.JobStatusEmbedding); err != nil {
		return err
	}
	embeddings, err := o.embed.Run(ctx, job, chunks)
	if err != nil {
		return err
	}
	job.EmbeddingsGenerated = len(embeddings)
	job.StagesCompleted = append(job.StagesCompleted, StageEmbed)

	if err := o.transition(ctx, job, models.JobStatusStoring); err != nil {
		return err
	}
	stored, err := o.store.Run(ctx, job, cleanedDocs, embeddings)
	if err != nil {
		return err
	}
	job.DocumentsStored = len(stored)
	job.StagesCompleted = append(job.StagesCompleted, StageStore)

	return nil
}

// transition moves the job to the next status, honouring cancellation
// requested through the API since the last check.
func (o *Orchestrator) transition(ctx context.Context, job *models.Job, next models.JobStatus) error {
	current, err := o.jobs.Get(ctx, job.ID)
	if err == nil && current.Status == models.JobStatusCancelled {
		job.Status = models.JobStatusCancelled
		return ErrJobCancelled
	}

	if !models.CanTransition(job.Status, next) {
		return fmt.Errorf("illegal status transition %s -> %s for job %s", job.Status, next, job.ID)
	}
	job.Status = next
	job.UpdatedAt = time.Now().UTC()
	if err := o.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("failed to persist status %s: %w", next, err)
	}
	return nil
}

// finish records the terminal state. A cancellation that raced the final
// stages wins over completed and failed.
func (o *Orchestrator) finish(ctx context.Context, job *models.Job, status models.JobStatus, errMsg string) {
	current, err := o.jobs.Get(ctx, job.ID)
	if err == nil && current.Status == models.JobStatusCancelled {
		job.Status = models.JobStatusCancelled
		return
	}

	now := time.Now().UTC()
	job.Status = status
	job.Error = errMsg
	job.CompletedAt = &now
	job.UpdatedAt = now
	if err := o.jobs.Update(ctx, job); err != nil {
		o.logger.Error("Failed to persist terminal job state", map[string]interface{}{
			"job_id": job.ID,
			"status": string(status),
			"error":  err.Error(),
		})
	}
}
