// Package jobstore persists ingestion job records and enforces the status
// state machine at the storage boundary.
package jobstore

import (
	"context"
	"errors"

	"github.com/Boswecw/rake/internal/models"
)

// ErrNotFound is returned when no job exists for the requested id
var ErrNotFound = errors.New("job not found")

// ListFilter narrows and pages List results
type ListFilter struct {
	TenantID string
	Status   models.JobStatus
	Source   string
	Page     int
	PageSize int
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Normalize clamps paging to sane bounds
func (f *ListFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = defaultPageSize
	}
	if f.PageSize > maxPageSize {
		f.PageSize = maxPageSize
	}
}

// Store is the durable record of ingestion jobs
type Store interface {
	// Create inserts a new job record
	Create(ctx context.Context, job *models.Job) error

	// Get returns the job by id, or ErrNotFound
	Get(ctx context.Context, id string) (*models.Job, error)

	// Update persists the job's current state
	Update(ctx context.Context, job *models.Job) error

	// List returns a page of jobs, newest first, and the total match count
	List(ctx context.Context, filter ListFilter) ([]*models.Job, int, error)

	// Delete removes the job record, or ErrNotFound
	Delete(ctx context.Context, id string) error

	// GetActive returns every job not yet in a terminal status. An empty
	// tenantID spans all tenants.
	GetActive(ctx context.Context, tenantID string) ([]*models.Job, error)

	// Health verifies the backing store is reachable
	Health(ctx context.Context) error

	// Close releases the underlying connections
	Close() error
}
