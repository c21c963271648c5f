package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/draftpilot/wabuffer/internal/biz/domain"
	"github.com/draftpilot/wabuffer/internal/biz/repo"
)

// conversationRepo implements the conversation routing-state repository
type conversationRepo struct {
	db *DB
}

// NewConversationRepo creates the conversation state repository.
func NewConversationRepo(db *DB) repo.ConversationRepo {
	return &conversationRepo{db: db}
}

// Get gets the conversation state
func (r *conversationRepo) Get(ctx context.Context, conversationID string) (*domain.ConversationState, error) {
	row := r.db.QueryRowContext(ctx, r.db.rebind(`
		SELECT conversation_id, owner_id, active_buffer_id, state, updated_at
		FROM conversation_state
		WHERE conversation_id = ?
	`), conversationID)

	var state domain.ConversationState
	var status string
	var updatedAt int64
	err := row.Scan(&state.ConversationID, &state.OwnerID, &state.ActiveBufferID, &status, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation state: %w", err)
	}
	state.State = domain.ConversationStatus(status)
	state.UpdatedAt = fromMillis(updatedAt)
	return &state, nil
}

// SetBuffering upserts the pointer to the conversation's active buffer
func (r *conversationRepo) SetBuffering(ctx context.Context, conversationID string, ownerID *string, bufferID string) error {
	_, err := r.db.ExecContext(ctx, r.db.rebind(`
		INSERT INTO conversation_state (conversation_id, owner_id, active_buffer_id, state, updated_at)
		VALUES (?, ?, ?, 'buffering', ?)
		ON CONFLICT (conversation_id) DO UPDATE SET
			owner_id = COALESCE(excluded.owner_id, conversation_state.owner_id),
			active_buffer_id = excluded.active_buffer_id,
			state = excluded.state,
			updated_at = excluded.updated_at
	`), conversationID, ownerID, bufferID, toMillis(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to set buffering state: %w", err)
	}
	return nil
}

// SetProcessing marks the conversation's buffer as claimed. Guarded by the
// buffer pointer so a newer buffer's state is never overwritten.
func (r *conversationRepo) SetProcessing(ctx context.Context, conversationID string, bufferID string) error {
	_, err := r.db.ExecContext(ctx, r.db.rebind(`
		UPDATE conversation_state
		SET state = 'processing', updated_at = ?
		WHERE conversation_id = ? AND active_buffer_id = ?
	`), toMillis(time.Now()), conversationID, bufferID)
	if err != nil {
		return fmt.Errorf("failed to set processing state: %w", err)
	}
	return nil
}

// Clear resets the conversation to idle so the next inbound message opens a
// fresh buffer. Guarded by the buffer pointer for the same reason.
func (r *conversationRepo) Clear(ctx context.Context, conversationID string, bufferID string) error {
	_, err := r.db.ExecContext(ctx, r.db.rebind(`
		UPDATE conversation_state
		SET state = 'idle', active_buffer_id = NULL, updated_at = ?
		WHERE conversation_id = ? AND active_buffer_id = ?
	`), toMillis(time.Now()), conversationID, bufferID)
	if err != nil {
		return fmt.Errorf("failed to clear conversation state: %w", err)
	}
	return nil
}
