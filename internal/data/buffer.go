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

// bufferRepo implements the buffer store over sqlite or Postgres
type bufferRepo struct {
	db *DB
}

// NewBufferRepo creates the buffer repository.
func NewBufferRepo(db *DB) repo.BufferRepo {
	return &bufferRepo{db: db}
}

const sessionColumns = `id, conversation_id, owner_id, status, opened_at, last_message_at,
	closes_at, claimed_at, processed_at, message_count, attempts, last_error`

// AttachMessage finds or creates the active session for the conversation and
// attaches the message in a single transaction. The partial unique index on
// (conversation_id) WHERE status='active' makes find-or-create race-safe; if
// the session is claimed between the find and the extend, the whole
// transaction is retried once so the message lands in a fresh session.
func (r *bufferRepo) AttachMessage(ctx context.Context, event *domain.InboundEvent, now time.Time, window time.Duration) (*repo.AttachResult, error) {
	result, err := r.attachOnce(ctx, event, now, window)
	if err == errSessionLost {
		result, err = r.attachOnce(ctx, event, now, window)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// errSessionLost signals that the active session was claimed mid-attach.
var errSessionLost = fmt.Errorf("active session lost during attach")

func (r *bufferRepo) attachOnce(ctx context.Context, event *domain.InboundEvent, now time.Time, window time.Duration) (*repo.AttachResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin attach: %w", err)
	}
	defer tx.Rollback()

	session, err := r.findActive(ctx, tx, event.ConversationID)
	if err != nil {
		return nil, err
	}

	created := false
	if session == nil {
		session, created, err = r.createActive(ctx, tx, event, now, window)
		if err != nil {
			return nil, err
		}
		if session == nil {
			// Conflict on the partial index but no visible active row:
			// a concurrent claim won. Retry from the top.
			return nil, errSessionLost
		}
	}

	res, err := tx.ExecContext(ctx, r.db.rebind(`
		INSERT INTO buffered_messages
			(buffer_id, external_message_id, content_type, payload, sender_name, sender_phone, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (buffer_id, external_message_id) DO NOTHING
	`), session.ID, event.ExternalMessageID, string(messageContentType(event)),
		event.Payload, event.SenderName, event.SenderPhone, toMillis(event.ReceivedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to insert buffered message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read insert result: %w", err)
	}
	inserted := n == 1

	// A redelivered message is a no-op: it extends nothing and counts nothing.
	if inserted {
		res, err = tx.ExecContext(ctx, r.db.rebind(`
			UPDATE buffer_sessions
			SET last_message_at = ?, closes_at = ?, message_count = message_count + 1
			WHERE id = ? AND status = 'active'
		`), toMillis(now), toMillis(now.Add(window)), session.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to extend session: %w", err)
		}
		n, err = res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to read extend result: %w", err)
		}
		if n == 0 {
			return nil, errSessionLost
		}
		session.Extend(now, window)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit attach: %w", err)
	}

	return &repo.AttachResult{Session: session, Created: created, Inserted: inserted}, nil
}

func (r *bufferRepo) findActive(ctx context.Context, tx *sql.Tx, conversationID string) (*domain.BufferSession, error) {
	row := tx.QueryRowContext(ctx, r.db.rebind(`
		SELECT `+sessionColumns+`
		FROM buffer_sessions
		WHERE conversation_id = ? AND status = 'active'
	`), conversationID)

	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query active session: %w", err)
	}
	return session, nil
}

func (r *bufferRepo) createActive(ctx context.Context, tx *sql.Tx, event *domain.InboundEvent, now time.Time, window time.Duration) (*domain.BufferSession, bool, error) {
	session := &domain.BufferSession{
		ID:             uuid.NewString(),
		ConversationID: event.ConversationID,
		OwnerID:        event.OwnerID,
		Status:         domain.SessionActive,
		OpenedAt:       now,
		LastMessageAt:  now,
		ClosesAt:       now.Add(window),
	}

	res, err := tx.ExecContext(ctx, r.db.rebind(`
		INSERT INTO buffer_sessions
			(id, conversation_id, owner_id, status, opened_at, last_message_at, closes_at, message_count, attempts)
		VALUES (?, ?, ?, 'active', ?, ?, ?, 0, 0)
		ON CONFLICT (conversation_id) WHERE status = 'active' DO NOTHING
	`), session.ID, session.ConversationID, session.OwnerID,
		toMillis(now), toMillis(now), toMillis(session.ClosesAt))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read create result: %w", err)
	}
	if n == 1 {
		return session, true, nil
	}

	// Lost the creation race to a concurrent webhook delivery; use theirs.
	existing, err := r.findActive(ctx, tx, event.ConversationID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetSession gets a session by ID
func (r *bufferRepo) GetSession(ctx context.Context, bufferID string) (*domain.BufferSession, error) {
	row := r.db.QueryRowContext(ctx, r.db.rebind(`
		SELECT `+sessionColumns+`
		FROM buffer_sessions
		WHERE id = ?
	`), bufferID)

	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return session, nil
}

// ListExpired returns active sessions whose deadline has elapsed
func (r *bufferRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.BufferSession, error) {
	rows, err := r.db.QueryContext(ctx, r.db.rebind(`
		SELECT `+sessionColumns+`
		FROM buffer_sessions
		WHERE status = 'active' AND closes_at <= ?
		ORDER BY closes_at ASC
		LIMIT ?
	`), toMillis(now), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.BufferSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// Claim atomically transitions active -> processing, but only while the
// session is still active and past its deadline. Losing the CAS (another
// worker claimed it, or a late message bumped the deadline) is ErrNotEligible.
func (r *bufferRepo) Claim(ctx context.Context, bufferID string, now time.Time) (*domain.BufferSession, error) {
	res, err := r.db.ExecContext(ctx, r.db.rebind(`
		UPDATE buffer_sessions
		SET status = 'processing', claimed_at = ?, attempts = attempts + 1
		WHERE id = ? AND status = 'active' AND closes_at <= ?
	`), toMillis(now), bufferID, toMillis(now))
	if err != nil {
		return nil, fmt.Errorf("failed to claim session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read claim result: %w", err)
	}
	if n == 0 {
		return nil, repo.ErrNotEligible
	}
	return r.GetSession(ctx, bufferID)
}

// Complete transitions processing -> completed
func (r *bufferRepo) Complete(ctx context.Context, bufferID string, processedAt time.Time) error {
	return r.finish(ctx, bufferID, domain.SessionCompleted, processedAt, "")
}

// Fail transitions processing -> failed and records the error
func (r *bufferRepo) Fail(ctx context.Context, bufferID string, lastError string) error {
	return r.finish(ctx, bufferID, domain.SessionFailed, time.Now(), lastError)
}

func (r *bufferRepo) finish(ctx context.Context, bufferID string, status domain.SessionStatus, processedAt time.Time, lastError string) error {
	res, err := r.db.ExecContext(ctx, r.db.rebind(`
		UPDATE buffer_sessions
		SET status = ?, processed_at = ?, last_error = ?
		WHERE id = ? AND status = 'processing'
	`), string(status), toMillis(processedAt), lastError, bufferID)
	if err != nil {
		return fmt.Errorf("failed to finish session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read finish result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("session %s is not in processing state", bufferID)
	}
	return nil
}

// ListStuck returns sessions wedged in processing past the safety ceiling
func (r *bufferRepo) ListStuck(ctx context.Context, now time.Time, ceiling time.Duration, limit int) ([]*domain.BufferSession, error) {
	rows, err := r.db.QueryContext(ctx, r.db.rebind(`
		SELECT `+sessionColumns+`
		FROM buffer_sessions
		WHERE status = 'processing' AND claimed_at <= ?
		ORDER BY claimed_at ASC
		LIMIT ?
	`), toMillis(now.Add(-ceiling)), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query stuck sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.BufferSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// Reopen transitions a stuck session processing -> active with an immediate
// deadline. The ceiling guard keeps the claim of a worker that merely woke up
// late but is still inside it.
func (r *bufferRepo) Reopen(ctx context.Context, bufferID string, now time.Time, ceiling time.Duration) error {
	res, err := r.db.ExecContext(ctx, r.db.rebind(`
		UPDATE buffer_sessions
		SET status = 'active', claimed_at = NULL, closes_at = ?
		WHERE id = ? AND status = 'processing' AND claimed_at <= ?
	`), toMillis(now), bufferID, toMillis(now.Add(-ceiling)))
	if err != nil {
		return fmt.Errorf("failed to reopen session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read reopen result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("session %s is no longer reclaimable", bufferID)
	}
	return nil
}

// MessagesByBuffer returns the buffer's messages in receipt order, insertion
// order breaking ties
func (r *bufferRepo) MessagesByBuffer(ctx context.Context, bufferID string) ([]*domain.BufferedMessage, error) {
	rows, err := r.db.QueryContext(ctx, r.db.rebind(`
		SELECT id, buffer_id, external_message_id, content_type, payload, sender_name, sender_phone, received_at
		FROM buffered_messages
		WHERE buffer_id = ?
		ORDER BY received_at ASC, id ASC
	`), bufferID)
	if err != nil {
		return nil, fmt.Errorf("failed to query buffered messages: %w", err)
	}
	defer rows.Close()

	var messages []*domain.BufferedMessage
	for rows.Next() {
		var msg domain.BufferedMessage
		var contentType string
		var receivedAt int64
		if err := rows.Scan(&msg.ID, &msg.BufferID, &msg.ExternalMessageID, &contentType,
			&msg.Payload, &msg.SenderName, &msg.SenderPhone, &receivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan buffered message: %w", err)
		}
		msg.ContentType = domain.ContentType(contentType)
		msg.ReceivedAt = fromMillis(receivedAt)
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

// DeleteCompletedBefore removes completed sessions and their messages
func (r *bufferRepo) DeleteCompletedBefore(ctx context.Context, before time.Time) (int64, error) {
	return r.deleteFinishedBefore(ctx, domain.SessionCompleted, before)
}

// DeleteFailedBefore removes failed sessions and their messages
func (r *bufferRepo) DeleteFailedBefore(ctx context.Context, before time.Time) (int64, error) {
	return r.deleteFinishedBefore(ctx, domain.SessionFailed, before)
}

func (r *bufferRepo) deleteFinishedBefore(ctx context.Context, status domain.SessionStatus, before time.Time) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin cleanup: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, r.db.rebind(`
		DELETE FROM buffered_messages
		WHERE buffer_id IN (
			SELECT id FROM buffer_sessions WHERE status = ? AND processed_at < ?
		)
	`), string(status), toMillis(before))
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup messages: %w", err)
	}

	res, err := tx.ExecContext(ctx, r.db.rebind(`
		DELETE FROM buffer_sessions WHERE status = ? AND processed_at < ?
	`), string(status), toMillis(before))
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read cleanup result: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit cleanup: %w", err)
	}
	return n, nil
}

// Close closes the database connection
func (r *bufferRepo) Close() error {
	return r.db.Close()
}

func messageContentType(event *domain.InboundEvent) domain.ContentType {
	if event.ContentType == "" {
		return domain.ContentText
	}
	return event.ContentType
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.BufferSession, error) {
	var session domain.BufferSession
	var status string
	var openedAt, lastMessageAt, closesAt int64
	var claimedAt, processedAt *int64
	err := row.Scan(&session.ID, &session.ConversationID, &session.OwnerID, &status,
		&openedAt, &lastMessageAt, &closesAt, &claimedAt, &processedAt,
		&session.MessageCount, &session.Attempts, &session.LastError)
	if err != nil {
		return nil, err
	}
	session.Status = domain.SessionStatus(status)
	session.OpenedAt = fromMillis(openedAt)
	session.LastMessageAt = fromMillis(lastMessageAt)
	session.ClosesAt = fromMillis(closesAt)
	session.ClaimedAt = fromMillisPtr(claimedAt)
	session.ProcessedAt = fromMillisPtr(processedAt)
	return &session, nil
}
