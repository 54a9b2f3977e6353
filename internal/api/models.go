package api

import (
	"time"

	"github.com/Boswecw/rake/internal/models"
)

// SubmitJobRequest is the body of POST /api/v1/jobs
type SubmitJobRequest struct {
	Source   string                 `json:"source" binding:"required"`
	Request  map[string]interface{} `json:"request"`
	TenantID string                 `json:"tenant_id" binding:"omitempty,tenant_id"`
}

// SubmitJobResponse acknowledges an accepted job
type SubmitJobResponse struct {
	JobID         string            `json:"job_id"`
	Status        string            `json:"status"`
	Source        string            `json:"source"`
	CorrelationID string            `json:"correlation_id"`
	Links         map[string]string `json:"links"`
}

// ListJobsResponse is a page of jobs
type ListJobsResponse struct {
	Jobs     []*models.Job `json:"jobs"`
	Total    int           `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
}

// CreateScheduleRequest is the body of POST /api/v1/schedules
type CreateScheduleRequest struct {
	Name     string                 `json:"name" binding:"required"`
	Cron     string                 `json:"cron" binding:"required"`
	Source   string                 `json:"source" binding:"required"`
	Request  map[string]interface{} `json:"request"`
	TenantID string                 `json:"tenant_id" binding:"omitempty,tenant_id"`
}

// errorResponse is the uniform error body
type errorResponse struct {
	Error         string    `json:"error"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}
