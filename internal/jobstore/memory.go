package jobstore

import (
	"context"
	"sort"
	"sync"

	"github.com/Boswecw/rake/internal/models"
)

// MemoryStore is an in-memory Store for tests and single-node development
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*models.Job
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*models.Job)}
}

func cloneJob(job *models.Job) *models.Job {
	copied := *job
	copied.Request = models.CopyMetadata(job.Request)
	copied.StagesCompleted = append([]string{}, job.StagesCompleted...)
	if job.StartedAt != nil {
		t := *job.StartedAt
		copied.StartedAt = &t
	}
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		copied.CompletedAt = &t
	}
	return &copied
}

// Create implements Store
func (s *MemoryStore) Create(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// Get implements Store
func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(job), nil
}

// Update implements Store
func (s *MemoryStore) Update(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return ErrNotFound
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// List implements Store
func (s *MemoryStore) List(ctx context.Context, filter ListFilter) ([]*models.Job, int, error) {
	filter.Normalize()

	s.mu.RLock()
	var matched []*models.Job
	for _, job := range s.jobs {
		if filter.TenantID != "" && job.TenantID != filter.TenantID {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.Source != "" && job.Source != filter.Source {
			continue
		}
		matched = append(matched, cloneJob(job))
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := (filter.Page - 1) * filter.PageSize
	if start >= total {
		return []*models.Job{}, total, nil
	}
	end := start + filter.PageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

// Delete implements Store
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(s.jobs, id)
	return nil
}

// GetActive implements Store
func (s *MemoryStore) GetActive(ctx context.Context, tenantID string) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var active []*models.Job
	for _, job := range s.jobs {
		if job.Status.IsTerminal() {
			continue
		}
		if tenantID != "" && job.TenantID != tenantID {
			continue
		}
		active = append(active, cloneJob(job))
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].CreatedAt.After(active[j].CreatedAt)
	})
	return active, nil
}

// Health implements Store
func (s *MemoryStore) Health(ctx context.Context) error {
	return nil
}

// Close implements Store
func (s *MemoryStore) Close() error {
	return nil
}
