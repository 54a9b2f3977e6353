package models

import "time"

// JobStatus tracks a job through the pipeline state machine
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusFetching  JobStatus = "fetching"
	JobStatusCleaning  JobStatus = "cleaning"
	JobStatusChunking  JobStatus = "chunking"
	JobStatusEmbedding JobStatus = "embedding"
	JobStatusStoring   JobStatus = "storing"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// ActiveStatuses are the statuses of jobs still moving through the pipeline
func ActiveStatuses() []JobStatus {
	return []JobStatus{
		JobStatusPending,
		JobStatusFetching,
		JobStatusCleaning,
		JobStatusChunking,
		JobStatusEmbedding,
		JobStatusStoring,
	}
}

// Job is the durable record of one ingestion run
type Job struct {
	ID                  string                 `json:"job_id" db:"job_id"`
	CorrelationID       string                 `json:"correlation_id" db:"correlation_id"`
	Source              string                 `json:"source" db:"source"`
	Request             map[string]interface{} `json:"request" db:"-"`
	Status              JobStatus              `json:"status" db:"status"`
	StagesCompleted     []string               `json:"stages_completed" db:"-"`
	DocumentsFetched    int                    `json:"documents_fetched" db:"documents_fetched"`
	DocumentsCleaned    int                    `json:"documents_cleaned" db:"documents_cleaned"`
	ChunksCreated       int                    `json:"chunks_created" db:"chunks_created"`
	EmbeddingsGenerated int                    `json:"embeddings_generated" db:"embeddings_generated"`
	DocumentsStored     int                    `json:"documents_stored" db:"documents_stored"`
	Error               string                 `json:"error,omitempty" db:"error"`
	RetryCount          int                    `json:"retry_count" db:"retry_count"`
	TenantID            string                 `json:"tenant_id,omitempty" db:"tenant_id"`
	CreatedAt           time.Time              `json:"created_at" db:"created_at"`
	StartedAt           *time.Time             `json:"started_at,omitempty" db:"started_at"`
	CompletedAt         *time.Time             `json:"completed_at,omitempty" db:"completed_at"`
	UpdatedAt           time.Time              `json:"updated_at" db:"updated_at"`
}

// NewJob builds a pending job for the given source and request payload
func NewJob(source string, request map[string]interface{}, tenantID string) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:              NewJobID(),
		CorrelationID:   NewCorrelationID(),
		Source:          source,
		Request:         request,
		Status:          JobStatusPending,
		StagesCompleted: []string{},
		TenantID:        tenantID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// pipelineOrder maps each status to its position in the pipeline. Terminal
// statuses are reachable from any active status.
var pipelineOrder = map[JobStatus]int{
	JobStatusPending:   0,
	JobStatusFetching:  1,
	JobStatusCleaning:  2,
	JobStatusChunking:  3,
	JobStatusEmbedding: 4,
	JobStatusStoring:   5,
}

// CanTransition reports whether moving from to next is a legal status change.
// Cancelled is reachable from any non-terminal status and, like the other
// terminal statuses, never transitions again.
func CanTransition(from, next JobStatus) bool {
	if from.IsTerminal() {
		return false
	}
	if next.IsTerminal() {
		return true
	}
	fromOrder, ok := pipelineOrder[from]
	if !ok {
		return false
	}
	nextOrder, ok := pipelineOrder[next]
	if !ok {
		return false
	}
	return nextOrder > fromOrder
}
