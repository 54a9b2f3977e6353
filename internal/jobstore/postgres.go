package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/Boswecw/rake/internal/models"
	"github.com/Boswecw/rake/internal/observability"
)

const jobsSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	job_id               TEXT PRIMARY KEY,
	correlation_id       TEXT NOT NULL,
	source               TEXT NOT NULL,
	request              JSONB NOT NULL DEFAULT '{}',
	status               TEXT NOT NULL,
	stages_completed     JSONB NOT NULL DEFAULT '[]',
	documents_fetched    INTEGER NOT NULL DEFAULT 0,
	documents_cleaned    INTEGER NOT NULL DEFAULT 0,
	chunks_created       INTEGER NOT NULL DEFAULT 0,
	embeddings_generated INTEGER NOT NULL DEFAULT 0,
	documents_stored     INTEGER NOT NULL DEFAULT 0,
	error                TEXT NOT NULL DEFAULT '',
	retry_count          INTEGER NOT NULL DEFAULT 0,
	tenant_id            TEXT NOT NULL DEFAULT '',
	created_at           TIMESTAMPTZ NOT NULL,
	started_at           TIMESTAMPTZ,
	completed_at         TIMESTAMPTZ,
	updated_at           TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_correlation ON jobs (correlation_id);
CREATE INDEX IF NOT EXISTS idx_jobs_source ON jobs (source);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status);
CREATE INDEX IF NOT EXISTS idx_jobs_tenant ON jobs (tenant_id);
CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs (created_at DESC);
CREATE INDEX IF NOT EXISTS idx_jobs_tenant_status ON jobs (tenant_id, status);
CREATE INDEX IF NOT EXISTS idx_jobs_tenant_created ON jobs (tenant_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON jobs (status, created_at DESC);
`

// jobRow is the database shape of a job; request and stages_completed are
// stored as JSON.
type jobRow struct {
	ID                  string       `db:"job_id"`
	CorrelationID       string       `db:"correlation_id"`
	Source              string       `db:"source"`
	Request             []byte       `db:"request"`
	Status              string       `db:"status"`
	StagesCompleted     []byte       `db:"stages_completed"`
	DocumentsFetched    int          `db:"documents_fetched"`
	DocumentsCleaned    int          `db:"documents_cleaned"`
	ChunksCreated       int          `db:"chunks_created"`
	EmbeddingsGenerated int          `db:"embeddings_generated"`
	DocumentsStored     int          `db:"documents_stored"`
	Error               string       `db:"error"`
	RetryCount          int          `db:"retry_count"`
	TenantID            string       `db:"tenant_id"`
	CreatedAt           time.Time    `db:"created_at"`
	StartedAt           sql.NullTime `db:"started_at"`
	CompletedAt         sql.NullTime `db:"completed_at"`
	UpdatedAt           time.Time    `db:"updated_at"`
}

func toRow(job *models.Job) (*jobRow, error) {
	request, err := json.Marshal(job.Request)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job request: %w", err)
	}
	stages := job.StagesCompleted
	if stages == nil {
		stages = []string{}
	}
	stagesJSON, err := json.Marshal(stages)
	if err != nil {
		return nil, fmt.Errorf("failed to encode completed stages: %w", err)
	}

	row := &jobRow{
		ID:                  job.ID,
		CorrelationID:       job.CorrelationID,
		Source:              job.Source,
		Request:             request,
		Status:              string(job.Status),
		StagesCompleted:     stagesJSON,
		DocumentsFetched:    job.DocumentsFetched,
		DocumentsCleaned:    job.DocumentsCleaned,
		ChunksCreated:       job.ChunksCreated,
		EmbeddingsGenerated: job.EmbeddingsGenerated,
		DocumentsStored:     job.DocumentsStored,
		Error:               job.Error,
		RetryCount:          job.RetryCount,
		TenantID:            job.TenantID,
		CreatedAt:           job.CreatedAt,
		UpdatedAt:           job.UpdatedAt,
	}
	if job.StartedAt != nil {
		row.StartedAt = sql.NullTime{Time: *job.StartedAt, Valid: true}
	}
	if job.CompletedAt != nil {
		row.CompletedAt = sql.NullTime{Time: *job.CompletedAt, Valid: true}
	}
	return row, nil
}

func (r *jobRow) toJob() (*models.Job, error) {
	job := &models.Job{
		ID:                  r.ID,
		CorrelationID:       r.CorrelationID,
		Source:              r.Source,
		Status:              models.JobStatus(r.Status),
		DocumentsFetched:    r.DocumentsFetched,
		DocumentsCleaned:    r.DocumentsCleaned,
		ChunksCreated:       r.ChunksCreated,
		EmbeddingsGenerated: r.EmbeddingsGenerated,
		DocumentsStored:     r.DocumentsStored,
		Error:               r.Error,
		RetryCount:          r.RetryCount,
		TenantID:            r.TenantID,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
	if len(r.Request) > 0 {
		if err := json.Unmarshal(r.Request, &job.Request); err != nil {
			return nil, fmt.Errorf("failed to decode request for job %s: %w", r.ID, err)
		}
	}
	if len(r.StagesCompleted) > 0 {
		if err := json.Unmarshal(r.StagesCompleted, &job.StagesCompleted); err != nil {
			return nil, fmt.Errorf("failed to decode stages for job %s: %w", r.ID, err)
		}
	}
	if r.StartedAt.Valid {
		t := r.StartedAt.Time
		job.StartedAt = &t
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		job.CompletedAt = &t
	}
	return job, nil
}

// PostgresStore implements Store on PostgreSQL
type PostgresStore struct {
	db     *sqlx.DB
	logger observability.Logger
}

// NewPostgresStore wraps an open connection. Call Migrate before first use.
func NewPostgresStore(db *sqlx.DB, logger observability.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger.WithPrefix("jobstore"),
	}
}

// Migrate creates the jobs table and its indexes
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, jobsSchema); err != nil {
		return fmt.Errorf("failed to migrate jobs schema: %w", err)
	}
	return nil
}

const insertJobQuery = `
INSERT INTO jobs (
	job_id, correlation_id, source, request, status, stages_completed,
	documents_fetched, documents_cleaned, chunks_created, embeddings_generated,
	documents_stored, error, retry_count, tenant_id,
	created_at, started_at, completed_at, updated_at
) VALUES (
	:job_id, :correlation_id, :source, :request, :status, :stages_completed,
	:documents_fetched, :documents_cleaned, :chunks_created, :embeddings_generated,
	:documents_stored, :error, :retry_count, :tenant_id,
	:created_at, :started_at, :completed_at, :updated_at
)`

// Create implements Store
func (s *PostgresStore) Create(ctx context.Context, job *models.Job) error {
	row, err := toRow(job)
	if err != nil {
		return err
	}
	if _, err := s.db.NamedExecContext(ctx, insertJobQuery, row); err != nil {
		return fmt.Errorf("failed to insert job %s: %w", job.ID, err)
	}
	s.logger.Debug("Created job", map[string]interface{}{
		"job_id": job.ID,
		"source": job.Source,
	})
	return nil
}

const selectJobColumns = `
	job_id, correlation_id, source, request, status, stages_completed,
	documents_fetched, documents_cleaned, chunks_created, embeddings_generated,
	documents_stored, error, retry_count, tenant_id,
	created_at, started_at, completed_at, updated_at`

// Get implements Store
func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, "SELECT"+selectJobColumns+" FROM jobs WHERE job_id = $1", id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	return row.toJob()
}

const updateJobQuery = `
UPDATE jobs SET
	status = :status,
	stages_completed = :stages_completed,
	documents_fetched = :documents_fetched,
	documents_cleaned = :documents_cleaned,
	chunks_created = :chunks_created,
	embeddings_generated = :embeddings_generated,
	documents_stored = :documents_stored,
	error = :error,
	retry_count = :retry_count,
	started_at = :started_at,
	completed_at = :completed_at,
	updated_at = :updated_at
WHERE job_id = :job_id`

// Update implements Store
func (s *PostgresStore) Update(ctx context.Context, job *models.Job) error {
	row, err := toRow(job)
	if err != nil {
		return err
	}
	result, err := s.db.NamedExecContext(ctx, updateJobQuery, row)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", job.ID, err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

// List implements Store
func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]*models.Job, int, error) {
	filter.Normalize()

	var where []string
	var args []interface{}
	addClause := func(column string, value interface{}) {
		args = append(args, value)
		where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if filter.TenantID != "" {
		addClause("tenant_id", filter.TenantID)
	}
	if filter.Status != "" {
		addClause("status", string(filter.Status))
	}
	if filter.Source != "" {
		addClause("source", filter.Source)
	}

	whereSQL := ""
	if len(where) > 0 {
		whereSQL = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM jobs"+whereSQL, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	query := fmt.Sprintf("SELECT%s FROM jobs%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		selectJobColumns, whereSQL, len(args)+1, len(args)+2)
	args = append(args, filter.PageSize, (filter.Page-1)*filter.PageSize)

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]*models.Job, 0, len(rows))
	for i := range rows {
		job, err := rows[i].toJob()
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, job)
	}
	return jobs, total, nil
}

// Delete implements Store
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM jobs WHERE job_id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetActive implements Store
func (s *PostgresStore) GetActive(ctx context.Context, tenantID string) ([]*models.Job, error) {
	statuses := models.ActiveStatuses()
	placeholders := make([]string, len(statuses))
	args := make([]interface{}, 0, len(statuses)+1)
	for i, status := range statuses {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args = append(args, string(status))
	}

	query := fmt.Sprintf("SELECT%s FROM jobs WHERE status IN (%s)",
		selectJobColumns, strings.Join(placeholders, ", "))
	if tenantID != "" {
		query += fmt.Sprintf(" AND tenant_id = $%d", len(args)+1)
		args = append(args, tenantID)
	}
	query += " ORDER BY created_at DESC"

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to load active jobs: %w", err)
	}

	jobs := make([]*models.Job, 0, len(rows))
	for i := range rows {
		job, err := rows[i].toJob()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Health implements Store
func (s *PostgresStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements Store
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
