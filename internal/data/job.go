package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/draftpilot/wabuffer/internal/biz/domain"
	"github.com/draftpilot/wabuffer/internal/biz/repo"
)

// jobRepo implements the processing-job repository
type jobRepo struct {
	db *DB
}

// NewJobRepo creates the processing-job repository.
func NewJobRepo(db *DB) repo.JobRepo {
	return &jobRepo{db: db}
}

// EnsureScheduled creates the job record for a buffer if none exists
func (r *jobRepo) EnsureScheduled(ctx context.Context, bufferID string, scheduledFor time.Time) error {
	now := toMillis(time.Now())
	_, err := r.db.ExecContext(ctx, r.db.rebind(`
		INSERT INTO buffer_processing_jobs (id, buffer_id, scheduled_for, attempts, status, created_at, updated_at)
		VALUES (?, ?, ?, 0, 'scheduled', ?, ?)
		ON CONFLICT (buffer_id) DO NOTHING
	`), uuid.NewString(), bufferID, toMillis(scheduledFor), now, now)
	if err != nil {
		return fmt.Errorf("failed to schedule job: %w", err)
	}
	return nil
}

// Start marks the job running and increments its attempt counter
func (r *jobRepo) Start(ctx context.Context, bufferID string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, r.db.rebind(`
		UPDATE buffer_processing_jobs
		SET status = 'running', attempts = attempts + 1, updated_at = ?
		WHERE buffer_id = ?
	`), toMillis(now), bufferID)
	if err != nil {
		return fmt.Errorf("failed to start job: %w", err)
	}
	return nil
}

// Finish records the terminal outcome of the current attempt
func (r *jobRepo) Finish(ctx context.Context, bufferID string, status domain.JobStatus, lastError string) error {
	_, err := r.db.ExecContext(ctx, r.db.rebind(`
		UPDATE buffer_processing_jobs
		SET status = ?, last_error = ?, updated_at = ?
		WHERE buffer_id = ?
	`), string(status), lastError, toMillis(time.Now()), bufferID)
	if err != nil {
		return fmt.Errorf("failed to finish job: %w", err)
	}
	return nil
}

// GetByBuffer gets the job record for a buffer
func (r *jobRepo) GetByBuffer(ctx context.Context, bufferID string) (*domain.ProcessingJob, error) {
	row := r.db.QueryRowContext(ctx, r.db.rebind(`
		SELECT id, buffer_id, scheduled_for, attempts, status, last_error, created_at, updated_at
		FROM buffer_processing_jobs
		WHERE buffer_id = ?
	`), bufferID)

	var job domain.ProcessingJob
	var status string
	var scheduledFor, createdAt, updatedAt int64
	err := row.Scan(&job.ID, &job.BufferID, &scheduledFor, &job.Attempts, &status,
		&job.LastError, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query job: %w", err)
	}
	job.Status = domain.JobStatus(status)
	job.ScheduledFor = fromMillis(scheduledFor)
	job.CreatedAt = fromMillis(createdAt)
	job.UpdatedAt = fromMillis(updatedAt)
	return &job, nil
}

// DeleteFinishedBefore removes completed and failed jobs older than the cutoff
func (r *jobRepo) DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.rebind(`
		DELETE FROM buffer_processing_jobs
		WHERE status IN ('completed', 'failed') AND updated_at < ?
	`), toMillis(before))
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup jobs: %w", err)
	}
	return res.RowsAffected()
}
