// Package scheduler submits recurring ingestion jobs on cron schedules
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/Boswecw/rake/internal/models"
	"github.com/Boswecw/rake/internal/observability"
)

// Submitter creates and queues an ingestion job. *service.IngestService
// satisfies it.
type Submitter interface {
	Submit(ctx context.Context, sourceKind string, request map[string]interface{}, tenantID string) (*models.Job, error)
}

// Schedule is one recurring submission
type Schedule struct {
	ID       string                 `json:"id"`
	Name     string                 `json:"name"`
	Cron     string                 `json:"cron"`
	Source   string                 `json:"source"`
	Request  map[string]interface{} `json:"request"`
	TenantID string                 `json:"tenant_id,omitempty"`
	Paused   bool                   `json:"paused"`
	LastRun  *time.Time             `json:"last_run,omitempty"`
	NextRun  *time.Time             `json:"next_run,omitempty"`

	entryID cron.EntryID
}

// Scheduler owns the cron runner and the schedule table
type Scheduler struct {
	cron      *cron.Cron
	submitter Submitter
	logger    observability.Logger

	mu        sync.RWMutex
	schedules map[string]*Schedule
}

// New creates a stopped scheduler. Overlapping runs of the same schedule
// are skipped rather than stacked.
func New(submitter Submitter, logger observability.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.DiscardLogger),
		)),
		submitter: submitter,
		logger:    logger.WithPrefix("scheduler"),
		schedules: make(map[string]*Schedule),
	}
}

// Start begins firing schedules
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler started", map[string]interface{}{
		"schedules": len(s.schedules),
	})
}

// Stop halts the cron runner and waits for in-flight submissions
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Scheduler stopped", nil)
}

// Add registers a new schedule and returns it
func (s *Scheduler) Add(name, cronSpec, sourceKind string, request map[string]interface{}, tenantID string) (*Schedule, error) {
	if name == "" {
		return nil, fmt.Errorf("schedule name is required")
	}
	if _, err := cron.ParseStandard(cronSpec); err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", cronSpec, err)
	}

	sched := &Schedule{
		ID:       "sched-" + uuid.New().String()[:8],
		Name:     name,
		Cron:     cronSpec,
		Source:   sourceKind,
		Request:  models.CopyMetadata(request),
		TenantID: tenantID,
	}

	entryID, err := s.cron.AddFunc(cronSpec, func() { s.fire(sched.ID) })
	if err != nil {
		return nil, fmt.Errorf("failed to register schedule: %w", err)
	}
	sched.entryID = entryID

	s.mu.Lock()
	s.schedules[sched.ID] = sched
	s.mu.Unlock()

	s.logger.Info("Schedule added", map[string]interface{}{
		"schedule_id": sched.ID,
		"name":        name,
		"cron":        cronSpec,
		"source":      sourceKind,
	})
	return s.snapshot(sched.ID), nil
}

// Remove deletes a schedule
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[id]
	if !ok {
		return fmt.Errorf("schedule %s not found", id)
	}
	if !sched.Paused {
		s.cron.Remove(sched.entryID)
	}
	delete(s.schedules, id)
	s.logger.Info("Schedule removed", map[string]interface{}{"schedule_id": id})
	return nil
}

// Pause stops a schedule from firing without deleting it
func (s *Scheduler) Pause(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[id]
	if !ok {
		return fmt.Errorf("schedule %s not found", id)
	}
	if sched.Paused {
		return nil
	}
	s.cron.Remove(sched.entryID)
	sched.Paused = true
	return nil
}

// Resume re-arms a paused schedule
func (s *Scheduler) Resume(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[id]
	if !ok {
		return fmt.Errorf("schedule %s not found", id)
	}
	if !sched.Paused {
		return nil
	}
	entryID, err := s.cron.AddFunc(sched.Cron, func() { s.fire(id) })
	if err != nil {
		return fmt.Errorf("failed to re-register schedule: %w", err)
	}
	sched.entryID = entryID
	sched.Paused = false
	return nil
}

// List returns a snapshot of every schedule
func (s *Scheduler) List() []*Schedule {
	s.mu.RLock()
	ids := make([]string, 0, len(s.schedules))
	for id := range s.schedules {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	out := make([]*Schedule, 0, len(ids))
	for _, id := range ids {
		if snap := s.snapshot(id); snap != nil {
			out = append(out, snap)
		}
	}
	return out
}

// fire submits one job for the schedule
func (s *Scheduler) fire(id string) {
	s.mu.Lock()
	sched, ok := s.schedules[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	sched.LastRun = &now
	sourceKind := sched.Source
	request := models.CopyMetadata(sched.Request)
	tenantID := sched.TenantID
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	job, err := s.submitter.Submit(ctx, sourceKind, request, tenantID)
	if err != nil {
		s.logger.Error("Scheduled submission failed", map[string]interface{}{
			"schedule_id": id,
			"source":      sourceKind,
			"error":       err.Error(),
		})
		return
	}
	s.logger.Info("Scheduled job submitted", map[string]interface{}{
		"schedule_id": id,
		"job_id":      job.ID,
	})
}

func (s *Scheduler) snapshot(id string) *Schedule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sched, ok := s.schedules[id]
	if !ok {
		return nil
	}
	copied := *sched
	copied.Request = models.CopyMetadata(sched.Request)
	if !sched.Paused {
		next := s.cron.Entry(sched.entryID).Next
		if !next.IsZero() {
			copied.NextRun = &next
		}
	}
	return &copied
}
