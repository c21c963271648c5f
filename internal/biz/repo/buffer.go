package repo

import (
	"context"
	"errors"
	"time"

	"github.com/draftpilot/wabuffer/internal/biz/domain"
)

// ErrNotEligible is returned by Claim when the compare-and-swap loses: another
// worker already claimed the session, or a late message pushed its deadline
// past now.
var ErrNotEligible = errors.New("buffer not eligible for claim")

// AttachResult reports what a single attach transaction did.
type AttachResult struct {
	Session  *domain.BufferSession
	Created  bool // a new active session was opened for the conversation
	Inserted bool // false when the external message ID was already buffered
}

// BufferRepo is the buffer store: durable keyed storage for sessions and the
// messages assigned to them. All lifecycle mutations are atomic conditional
// updates guarded by the current status, never read-then-write.
type BufferRepo interface {
	// AttachMessage finds the active session for the event's conversation or
	// opens one, idempotently inserts the message, and extends the sliding
	// deadline to now + window. Safe under concurrent deliveries for the same
	// conversation; at most one active session ever exists per conversation.
	AttachMessage(ctx context.Context, event *domain.InboundEvent, now time.Time, window time.Duration) (*AttachResult, error)

	GetSession(ctx context.Context, bufferID string) (*domain.BufferSession, error)

	// ListExpired returns active sessions whose deadline has elapsed.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.BufferSession, error)

	// Claim transitions active -> processing iff the session is still active
	// and its deadline has passed. Returns ErrNotEligible when the CAS loses.
	Claim(ctx context.Context, bufferID string, now time.Time) (*domain.BufferSession, error)

	// Complete transitions processing -> completed.
	Complete(ctx context.Context, bufferID string, processedAt time.Time) error

	// Fail transitions processing -> failed and records the error.
	Fail(ctx context.Context, bufferID string, lastError string) error

	// ListStuck returns sessions wedged in processing past the safety
	// ceiling, eligible for reclaim.
	ListStuck(ctx context.Context, now time.Time, ceiling time.Duration, limit int) ([]*domain.BufferSession, error)

	// Reopen transitions a stuck session processing -> active with an
	// immediate deadline so the next scheduler tick retries the close.
	// Guarded by the ceiling so a worker that woke up keeps its claim.
	Reopen(ctx context.Context, bufferID string, now time.Time, ceiling time.Duration) error

	// MessagesByBuffer returns the buffer's messages ordered by receipt time,
	// ties broken by insertion order.
	MessagesByBuffer(ctx context.Context, bufferID string) ([]*domain.BufferedMessage, error)

	// DeleteCompletedBefore removes completed sessions (and their messages)
	// older than the retention cutoff.
	DeleteCompletedBefore(ctx context.Context, before time.Time) (int64, error)

	// DeleteFailedBefore removes failed sessions older than the cutoff.
	DeleteFailedBefore(ctx context.Context, before time.Time) (int64, error)

	Close() error
}
