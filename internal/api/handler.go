// Package api implements the REST API for the ingestion service
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Boswecw/rake/internal/jobstore"
	"github.com/Boswecw/rake/internal/models"
	"github.com/Boswecw/rake/internal/observability"
	"github.com/Boswecw/rake/internal/pipeline"
	"github.com/Boswecw/rake/internal/scheduler"
	"github.com/Boswecw/rake/internal/service"
	"github.com/Boswecw/rake/internal/source"
)

// HealthCheck names one extra dependency probe reported by the health
// endpoint.
type HealthCheck struct {
	Name  string
	Probe func(ctx context.Context) error
}

// Handler handles API requests for the ingestion service
type Handler struct {
	svc        *service.IngestService
	sched      *scheduler.Scheduler
	vector     pipeline.VectorStore
	checks     []HealthCheck
	logger     observability.Logger
	production bool
}

// NewHandler creates the handler. sched and vector may be nil.
func NewHandler(svc *service.IngestService, sched *scheduler.Scheduler, vector pipeline.VectorStore, production bool, logger observability.Logger, checks ...HealthCheck) *Handler {
	registerValidators()
	return &Handler{
		svc:        svc,
		sched:      sched,
		vector:     vector,
		checks:     checks,
		logger:     logger.WithPrefix("api"),
		production: production,
	}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.health)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", h.health)
		v1.GET("/sources", h.listSources)

		v1.POST("/jobs", h.submitJob)
		v1.GET("/jobs", h.listJobs)
		v1.GET("/jobs/:id", h.getJob)
		v1.DELETE("/jobs/:id", h.cancelJob)

		v1.POST("/schedules", h.createSchedule)
		v1.GET("/schedules", h.listSchedules)
		v1.DELETE("/schedules/:id", h.removeSchedule)
		v1.POST("/schedules/:id/pause", h.pauseSchedule)
		v1.POST("/schedules/:id/resume", h.resumeSchedule)
	}
}

// submitJob accepts a new ingestion job
func (h *Handler) submitJob(c *gin.Context) {
	var req SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	job, err := h.svc.Submit(c.Request.Context(), req.Source, req.Request, req.TenantID)
	if err != nil {
		var verr *source.ValidationError
		switch {
		case source.AsValidationError(err, &verr):
			h.respondError(c, http.StatusBadRequest, err.Error())
		case isQueueFull(err):
			h.respondError(c, http.StatusServiceUnavailable, err.Error())
		default:
			h.logger.Error("Job submission failed", map[string]interface{}{
				"source":         req.Source,
				"error":          err.Error(),
				"correlation_id": correlationID(c),
			})
			h.respondError(c, http.StatusInternalServerError, err.Error())
		}
		return
	}

	c.JSON(http.StatusAccepted, SubmitJobResponse{
		JobID:         job.ID,
		Status:        string(job.Status),
		Source:        job.Source,
		CorrelationID: job.CorrelationID,
		Links: map[string]string{
			"self": "/api/v1/jobs/" + job.ID,
		},
	})
}

// getJob returns one job by id
func (h *Handler) getJob(c *gin.Context) {
	job, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			h.respondError(c, http.StatusNotFound, "job not found")
			return
		}
		h.respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, job)
}

// listJobs returns a filtered page of jobs, newest first
func (h *Handler) listJobs(c *gin.Context) {
	filter := jobstore.ListFilter{
		TenantID: c.Query("tenant_id"),
		Source:   c.Query("source"),
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "page_size", 20),
	}

	if status := c.Query("status"); status != "" {
		if !validStatus(status) {
			h.respondError(c, http.StatusBadRequest, "unknown status "+strconv.Quote(status))
			return
		}
		filter.Status = models.JobStatus(status)
	}

	jobs, total, err := h.svc.List(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, http.StatusInternalServerError, err.Error())
		return
	}

	filter.Normalize()
	c.JSON(http.StatusOK, ListJobsResponse{
		Jobs:     jobs,
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.PageSize,
	})
}

// cancelJob cancels an active job
func (h *Handler) cancelJob(c *gin.Context) {
	_, err := h.svc.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, jobstore.ErrNotFound):
			h.respondError(c, http.StatusNotFound, "job not found")
		case errors.Is(err, service.ErrJobFinished):
			h.respondError(c, http.StatusConflict, err.Error())
		default:
			h.respondError(c, http.StatusInternalServerError, err.Error())
		}
		return
	}
	c.Status(http.StatusNoContent)
}

// listSources returns the registered source kinds
func (h *Handler) listSources(c *gin.Context) {
	kinds := h.svc.Sources()
	c.JSON(http.StatusOK, gin.H{
		"sources": kinds,
		"count":   len(kinds),
	})
}

// health reports per-dependency health and the active job count
func (h *Handler) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	components := map[string]string{}
	healthy := true
	record := func(name string, err error) {
		if err != nil {
			components[name] = err.Error()
			healthy = false
			return
		}
		components[name] = "ok"
	}

	for name, err := range h.svc.Health(ctx) {
		record(name, err)
	}
	if h.vector != nil {
		record("vector_store", h.vector.Health(ctx))
	}
	for _, check := range h.checks {
		record(check.Name, check.Probe(ctx))
	}

	activeJobs, err := h.svc.ActiveCount(ctx, c.Query("tenant_id"))
	if err != nil {
		activeJobs = -1
	}

	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":      status,
		"components":  components,
		"active_jobs": activeJobs,
		"timestamp":   time.Now().UTC(),
	})
}

// createSchedule registers a recurring submission
func (h *Handler) createSchedule(c *gin.Context) {
	if h.sched == nil {
		h.respondError(c, http.StatusServiceUnavailable, "scheduler is disabled")
		return
	}

	var req CreateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	sched, err := h.sched.Add(req.Name, req.Cron, req.Source, req.Request, req.TenantID)
	if err != nil {
		h.respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusCreated, sched)
}

// listSchedules returns every registered schedule
func (h *Handler) listSchedules(c *gin.Context) {
	if h.sched == nil {
		h.respondError(c, http.StatusServiceUnavailable, "scheduler is disabled")
		return
	}
	schedules := h.sched.List()
	c.JSON(http.StatusOK, gin.H{
		"schedules": schedules,
		"count":     len(schedules),
	})
}

// removeSchedule deletes a schedule
func (h *Handler) removeSchedule(c *gin.Context) {
	if h.sched == nil {
		h.respondError(c, http.StatusServiceUnavailable, "scheduler is disabled")
		return
	}
	if err := h.sched.Remove(c.Param("id")); err != nil {
		h.respondError(c, http.StatusNotFound, err.Error())
		return
	}
	c.Status(http.StatusNoContent)
}

// pauseSchedule stops a schedule from firing
func (h *Handler) pauseSchedule(c *gin.Context) {
	if h.sched == nil {
		h.respondError(c, http.StatusServiceUnavailable, "scheduler is disabled")
		return
	}
	if err := h.sched.Pause(c.Param("id")); err != nil {
		h.respondError(c, http.StatusNotFound, err.Error())
		return
	}
	c.Status(http.StatusNoContent)
}

// resumeSchedule re-arms a paused schedule
func (h *Handler) resumeSchedule(c *gin.Context) {
	if h.sched == nil {
		h.respondError(c, http.StatusServiceUnavailable, "scheduler is disabled")
		return
	}
	if err := h.sched.Resume(c.Param("id")); err != nil {
		h.respondError(c, http.StatusNotFound, err.Error())
		return
	}
	c.Status(http.StatusNoContent)
}

// respondError sends the uniform error body. Internal errors are redacted
// outside development.
func (h *Handler) respondError(c *gin.Context, code int, message string) {
	if code >= http.StatusInternalServerError && h.production {
		message = "internal server error"
	}
	c.JSON(code, errorResponse{
		Error:         message,
		CorrelationID: correlationID(c),
		Timestamp:     time.Now().UTC(),
	})
}

func isQueueFull(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "queue is full") || strings.Contains(msg, "shutting down")
}

func validStatus(s string) bool {
	switch models.JobStatus(s) {
	case models.JobStatusPending, models.JobStatusFetching, models.JobStatusCleaning,
		models.JobStatusChunking, models.JobStatusEmbedding, models.JobStatusStoring,
		models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled:
		return true
	}
	return false
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
