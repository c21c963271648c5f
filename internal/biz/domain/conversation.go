package domain

import "time"

// ConversationStatus mirrors the current buffer session status for fast
// routing of new inbound messages without a join.
type ConversationStatus string

const (
	ConversationIdle       ConversationStatus = "idle"
	ConversationBuffering  ConversationStatus = "buffering"
	ConversationProcessing ConversationStatus = "processing"
)

// ConversationState is the denormalized per-conversation pointer to the
// currently active buffer. ActiveBufferID is a weak reference used for
// lookups only; the session row stays authoritative.
type ConversationState struct {
	ConversationID string
	OwnerID        *string
	ActiveBufferID *string
	State          ConversationStatus
	UpdatedAt      time.Time
}

// AggregatedConversation is the finalized unit of work handed to the
// downstream conversation processor: the buffer's messages in receipt order
// plus conversation metadata.
type AggregatedConversation struct {
	BufferID       string
	ConversationID string
	OwnerID        *string
	Messages       []*BufferedMessage
}
