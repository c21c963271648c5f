package repo

import (
	"context"

	"github.com/draftpilot/wabuffer/internal/biz/domain"
)

// ConversationRepo maintains the denormalized per-conversation routing state.
type ConversationRepo interface {
	Get(ctx context.Context, conversationID string) (*domain.ConversationState, error)

	// SetBuffering points the conversation at its active buffer.
	SetBuffering(ctx context.Context, conversationID string, ownerID *string, bufferID string) error

	// SetProcessing marks the conversation's buffer as claimed.
	SetProcessing(ctx context.Context, conversationID string, bufferID string) error

	// Clear resets the conversation to idle, but only while it still points at
	// the given buffer, so a newer buffer's pointer is never clobbered.
	Clear(ctx context.Context, conversationID string, bufferID string) error
}
