// Package executor runs queued ingestion jobs on a bounded worker pool
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Boswecw/rake/internal/jobstore"
	"github.com/Boswecw/rake/internal/metrics"
	"github.com/Boswecw/rake/internal/models"
	"github.com/Boswecw/rake/internal/observability"
)

// Runner executes one job through the pipeline. *pipeline.Orchestrator
// satisfies it.
type Runner interface {
	Run(ctx context.Context, job *models.Job) error
}

// Config sizes the worker pool
type Config struct {
	Workers   int
	QueueSize int
}

// Executor consumes job ids from a bounded queue and runs each job on one
// of a fixed set of workers.
type Executor struct {
	runner  Runner
	jobs    jobstore.Store
	metrics *metrics.Metrics
	logger  observability.Logger

	queue chan string

	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	workers int
}

// New creates an executor. metrics may be nil.
func New(cfg Config, runner Runner, jobs jobstore.Store, m *metrics.Metrics, logger observability.Logger) *Executor {
	if cfg.Workers < 1 {
		cfg.Workers = 4
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 100
	}
	return &Executor{
		runner:  runner,
		jobs:    jobs,
		metrics: m,
		logger:  logger.WithPrefix("executor"),
		queue:   make(chan string, cfg.QueueSize),
		workers: cfg.Workers,
	}
}

// Start launches the worker pool
func (e *Executor) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)

	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.worker(runCtx, i)
	}
	e.logger.Info("Executor started", map[string]interface{}{
		"workers":    e.workers,
		"queue_size": cap(e.queue),
	})
}

// Submit queues a job for execution. It never blocks: a full queue is an
// error the caller surfaces to the client.
func (e *Executor) Submit(jobID string) error {
	e.mu.Lock()
	stopped := e.stopped
	e.mu.Unlock()
	if stopped {
		return fmt.Errorf("executor is shutting down")
	}

	select {
	case e.queue <- jobID:
		if e.metrics != nil {
			e.metrics.QueueDepth.Set(float64(len(e.queue)))
		}
		return nil
	default:
		return fmt.Errorf("job queue is full (%d pending)", cap(e.queue))
	}
}

// QueueDepth returns the number of jobs waiting for a worker
func (e *Executor) QueueDepth() int {
	return len(e.queue)
}

// Stop drains in-flight work. Workers finish their current job; jobs still
// queued when ctx expires stay in the store for the next Recover.
func (e *Executor) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.logger.Info("Executor stopped", nil)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("executor shutdown timed out: %w", ctx.Err())
	}
}

func (e *Executor) worker(ctx context.Context, id int) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-e.queue:
			if e.metrics != nil {
				e.metrics.QueueDepth.Set(float64(len(e.queue)))
			}
			e.runJob(ctx, id, jobID)
		}
	}
}

func (e *Executor) runJob(ctx context.Context, workerID int, jobID string) {
	job, err := e.jobs.Get(ctx, jobID)
	if err != nil {
		e.logger.Error("Failed to load queued job", map[string]interface{}{
			"job_id": jobID,
			"error":  err.Error(),
		})
		return
	}
	if job.Status.IsTerminal() {
		// Cancelled while still queued.
		e.logger.Info("Skipping job already in terminal state", map[string]interface{}{
			"job_id": jobID,
			"status": string(job.Status),
		})
		return
	}

	if e.metrics != nil {
		e.metrics.ActiveWorkers.Inc()
		e.metrics.ActiveJobs.Inc()
	}
	start := time.Now()

	e.logger.Info("Worker picked up job", map[string]interface{}{
		"worker": workerID,
		"job_id": jobID,
		"source": job.Source,
	})

	runErr := e.runner.Run(ctx, job)
	if runErr != nil {
		e.logger.Warn("Job finished with error", map[string]interface{}{
			"job_id": jobID,
			"status": string(job.Status),
			"error":  runErr.Error(),
		})
	}

	if e.metrics != nil {
		e.metrics.ActiveWorkers.Dec()
		e.metrics.ActiveJobs.Dec()
		e.metrics.RecordJobFinished(job.Source, string(job.Status), time.Since(start),
			job.ChunksCreated, job.EmbeddingsGenerated)
	}
}

// Recover marks jobs left in a non-terminal status by a previous run as
// failed. Called once at startup, before Start.
func (e *Executor) Recover(ctx context.Context) (int, error) {
	active, err := e.jobs.GetActive(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("failed to load interrupted jobs: %w", err)
	}

	recovered := 0
	for _, job := range active {
		now := time.Now().UTC()
		job.Status = models.JobStatusFailed
		job.Error = "job interrupted by service restart"
		job.CompletedAt = &now
		job.UpdatedAt = now
		if err := e.jobs.Update(ctx, job); err != nil {
			e.logger.Error("Failed to mark interrupted job", map[string]interface{}{
				"job_id": job.ID,
				"error":  err.Error(),
			})
			continue
		}
		recovered++
	}

	if recovered > 0 {
		e.logger.Warn("Marked interrupted jobs as failed", map[string]interface{}{
			"count": recovered,
		})
	}
	return recovered, nil
}
