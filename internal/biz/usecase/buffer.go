package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/draftpilot/wabuffer/internal/biz/domain"
	"github.com/draftpilot/wabuffer/internal/biz/repo"
)

// BufferConfig contains buffer lifecycle configuration
type BufferConfig struct {
	Window           time.Duration // sliding aggregation window, reset on every message
	PollInterval     time.Duration // scheduler cadence for discovering elapsed deadlines
	SafetyCeiling    time.Duration // max time a session may sit in processing
	MaxAttempts      int           // close attempts before a stuck session is failed
	SessionRetention time.Duration // completed sessions older than this are deleted
	JobRetention     time.Duration // finished jobs and failed sessions older than this are deleted
}

// DefaultBufferConfig returns the default buffer configuration
func DefaultBufferConfig() BufferConfig {
	return BufferConfig{
		Window:           30 * time.Second,
		PollInterval:     10 * time.Second,
		SafetyCeiling:    5 * time.Minute,
		MaxAttempts:      2,
		SessionRetention: 30 * 24 * time.Hour,
		JobRetention:     7 * 24 * time.Hour,
	}
}

// BufferUsecase is the session manager: it finds or creates the active buffer
// for a conversation, appends incoming messages, and extends the close
// deadline. Safe under concurrent webhook deliveries for one conversation.
type BufferUsecase struct {
	bufferRepo repo.BufferRepo
	convRepo   repo.ConversationRepo
	jobRepo    repo.JobRepo
	config     BufferConfig
	log        *slog.Logger
}

// NewBufferUsecase creates a new buffer usecase
func NewBufferUsecase(bufferRepo repo.BufferRepo, convRepo repo.ConversationRepo, jobRepo repo.JobRepo, config BufferConfig, log *slog.Logger) *BufferUsecase {
	return &BufferUsecase{
		bufferRepo: bufferRepo,
		convRepo:   convRepo,
		jobRepo:    jobRepo,
		config:     config,
		log:        log.With("component", "buffer"),
	}
}

// Attach routes an inbound event into the conversation's active buffer,
// opening one when none exists. Each attached message resets the session
// deadline to now + window; redelivered messages are idempotent no-ops that
// extend nothing.
func (uc *BufferUsecase) Attach(ctx context.Context, event *domain.InboundEvent) (*domain.BufferSession, error) {
	if event.ConversationID == "" {
		return nil, fmt.Errorf("conversation id is required")
	}
	if event.ExternalMessageID == "" {
		return nil, fmt.Errorf("external message id is required")
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now()
	}

	result, err := uc.bufferRepo.AttachMessage(ctx, event, time.Now(), uc.config.Window)
	if err != nil {
		return nil, fmt.Errorf("attach message: %w", err)
	}
	session := result.Session

	if result.Created {
		uc.log.Info("opened buffer session",
			"buffer_id", session.ID,
			"conversation_id", session.ConversationID,
			"closes_at", session.ClosesAt)
		if err := uc.jobRepo.EnsureScheduled(ctx, session.ID, session.ClosesAt); err != nil {
			uc.log.Warn("failed to schedule close job", "buffer_id", session.ID, "error", err)
		}
	}

	if !result.Inserted {
		uc.log.Debug("duplicate webhook delivery ignored",
			"conversation_id", event.ConversationID,
			"external_message_id", event.ExternalMessageID)
		return session, nil
	}

	// Denormalized routing pointer; the session row stays authoritative.
	if err := uc.convRepo.SetBuffering(ctx, session.ConversationID, event.OwnerID, session.ID); err != nil {
		uc.log.Warn("failed to update conversation state", "conversation_id", session.ConversationID, "error", err)
	}

	return session, nil
}

// Config returns the buffer configuration.
func (uc *BufferUsecase) Config() BufferConfig {
	return uc.config
}
