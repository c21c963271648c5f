package repo

import (
	"context"
	"time"

	"github.com/draftpilot/wabuffer/internal/biz/domain"
)

// JobRepo tracks close attempts per buffer for operator visibility and
// bounded retries. One job row per buffer; attempts accumulate on it.
type JobRepo interface {
	// EnsureScheduled creates the job record for a buffer if none exists.
	EnsureScheduled(ctx context.Context, bufferID string, scheduledFor time.Time) error

	// Start marks the job running and increments its attempt counter.
	Start(ctx context.Context, bufferID string, now time.Time) error

	// Finish records the terminal outcome of the current attempt.
	Finish(ctx context.Context, bufferID string, status domain.JobStatus, lastError string) error

	GetByBuffer(ctx context.Context, bufferID string) (*domain.ProcessingJob, error)

	// DeleteFinishedBefore removes completed and failed jobs older than the
	// retention cutoff.
	DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error)
}
