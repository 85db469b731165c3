package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/domain"
)

// JobRepository handles pdf_jobs rows.
type JobRepository struct {
	db *DB
}

// NewJobRepository creates a new job repository.
func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a Pending job, assigning an ID when missing.
func (r *JobRepository) Create(ctx context.Context, job *domain.Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	now := time.Now().UTC()
	job.Status = domain.JobStatusPending
	job.CreatedAt = now
	job.UpdatedAt = now

	query := `
		INSERT INTO pdf_jobs (id, name, source_url, status, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, r.db.Rebind(query),
		job.ID.String(), job.Name, job.SourceURL, string(job.Status), job.Error, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return domain.PersistenceError("create job", err)
	}
	return nil
}

// Get retrieves a job by ID.
func (r *JobRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	query := `
		SELECT id, name, source_url, status, error, created_at, updated_at
		FROM pdf_jobs WHERE id = $1
	`
	var (
		job    domain.Job
		rawID  string
		status string
	)
	err := r.db.QueryRowContext(ctx, r.db.Rebind(query), id.String()).Scan(
		&rawID, &job.Name, &job.SourceURL, &status, &job.Error, &job.CreatedAt, &job.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, domain.PersistenceError("get job", err)
	}
	if job.ID, err = uuid.Parse(rawID); err != nil {
		return nil, domain.PersistenceError("parse job id", err)
	}
	job.Status = domain.JobStatus(status)
	return &job, nil
}

// Transition moves a job from one status to another. The update only
// applies when the stored status still equals from; otherwise ErrConflict.
func (r *JobRepository) Transition(ctx context.Context, id uuid.UUID, from, to domain.JobStatus, errText string) error {
	return transition(ctx, r.db, r.db, id, from, to, errText)
}

func transition(ctx context.Context, db *DB, conn Conn, id uuid.UUID, from, to domain.JobStatus, errText string) error {
	if !from.CanTransition(to) {
		return domain.ValidationError(fmt.Sprintf("invalid job transition %s -> %s", from, to), nil)
	}

	query := `
		UPDATE pdf_jobs SET status = $1, error = $2, updated_at = $3
		WHERE id = $4 AND status = $5
	`
	res, err := conn.ExecContext(ctx, db.Rebind(query),
		string(to), stripNUL(errText), time.Now().UTC(), id.String(), string(from),
	)
	if err != nil {
		return domain.PersistenceError("update job status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.PersistenceError("update job status", err)
	}
	if n == 0 {
		return fmt.Errorf("job %s not in status %s: %w", id, from, ErrConflict)
	}
	return nil
}
