package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/draftpilot/wabuffer/internal/biz/domain"
	"github.com/draftpilot/wabuffer/internal/biz/repo"
)

// CloserUsecase atomically claims an expired buffer, materializes its ordered
// message set, and hands it to the downstream conversation processor exactly
// once. Lost claim races surface as repo.ErrNotEligible and do nothing.
type CloserUsecase struct {
	bufferRepo repo.BufferRepo
	convRepo   repo.ConversationRepo
	jobRepo    repo.JobRepo
	processor  repo.ProcessorRepo
	channel    repo.ChannelRepo // optional, typing indicator only
	flags      *FeatureFlags
	config     BufferConfig
	log        *slog.Logger
}

// NewCloserUsecase creates a new closer usecase
func NewCloserUsecase(
	bufferRepo repo.BufferRepo,
	convRepo repo.ConversationRepo,
	jobRepo repo.JobRepo,
	processor repo.ProcessorRepo,
	channel repo.ChannelRepo,
	flags *FeatureFlags,
	config BufferConfig,
	log *slog.Logger,
) *CloserUsecase {
	return &CloserUsecase{
		bufferRepo: bufferRepo,
		convRepo:   convRepo,
		jobRepo:    jobRepo,
		processor:  processor,
		channel:    channel,
		flags:      flags,
		config:     config,
		log:        log.With("component", "closer"),
	}
}

// ClaimAndClose claims the buffer and dispatches its aggregate. The status
// CAS happens before message materialization, and materialization before the
// processor call, so a crash mid-close leaves the session reclaimable by the
// safety-timeout sweep instead of silently lost.
func (uc *CloserUsecase) ClaimAndClose(ctx context.Context, bufferID string) (*domain.AggregatedConversation, error) {
	now := time.Now()

	session, err := uc.bufferRepo.Claim(ctx, bufferID, now)
	if err != nil {
		if err == repo.ErrNotEligible {
			return nil, err
		}
		return nil, fmt.Errorf("claim buffer: %w", err)
	}

	uc.log.Info("claimed buffer session",
		"buffer_id", session.ID,
		"conversation_id", session.ConversationID,
		"messages", session.MessageCount,
		"attempt", session.Attempts)

	if err := uc.jobRepo.Start(ctx, session.ID, now); err != nil {
		uc.log.Warn("failed to start close job", "buffer_id", session.ID, "error", err)
	}
	if err := uc.convRepo.SetProcessing(ctx, session.ConversationID, session.ID); err != nil {
		uc.log.Warn("failed to update conversation state", "conversation_id", session.ConversationID, "error", err)
	}

	if uc.channel != nil && uc.flags.IsEnabled(FlagTypingIndicator) {
		if err := uc.channel.SendTyping(ctx, session.ConversationID); err != nil {
			uc.log.Warn("failed to send typing indicator", "conversation_id", session.ConversationID, "error", err)
		}
	}

	messages, err := uc.bufferRepo.MessagesByBuffer(ctx, session.ID)
	if err != nil {
		uc.failBuffer(ctx, session, fmt.Sprintf("materialize messages: %v", err))
		return nil, fmt.Errorf("materialize messages: %w", err)
	}

	agg := &domain.AggregatedConversation{
		BufferID:       session.ID,
		ConversationID: session.ConversationID,
		OwnerID:        session.OwnerID,
		Messages:       messages,
	}

	if err := uc.processor.ProcessAggregated(ctx, agg); err != nil {
		uc.failBuffer(ctx, session, err.Error())
		return nil, fmt.Errorf("process aggregated conversation: %w", err)
	}

	if err := uc.bufferRepo.Complete(ctx, session.ID, time.Now()); err != nil {
		return nil, fmt.Errorf("complete buffer: %w", err)
	}
	if err := uc.jobRepo.Finish(ctx, session.ID, domain.JobCompleted, ""); err != nil {
		uc.log.Warn("failed to finish close job", "buffer_id", session.ID, "error", err)
	}
	if err := uc.convRepo.Clear(ctx, session.ConversationID, session.ID); err != nil {
		uc.log.Warn("failed to clear conversation state", "conversation_id", session.ConversationID, "error", err)
	}

	uc.log.Info("buffer session completed",
		"buffer_id", session.ID,
		"conversation_id", session.ConversationID,
		"messages", len(messages))
	return agg, nil
}

// failBuffer records a terminal failure. Failures are operator-visible, not
// returned to the chat client; no automatic retry here.
func (uc *CloserUsecase) failBuffer(ctx context.Context, session *domain.BufferSession, reason string) {
	uc.log.Error("buffer session failed",
		"buffer_id", session.ID,
		"conversation_id", session.ConversationID,
		"error", reason)

	if err := uc.bufferRepo.Fail(ctx, session.ID, reason); err != nil {
		uc.log.Warn("failed to mark session failed", "buffer_id", session.ID, "error", err)
	}
	if err := uc.jobRepo.Finish(ctx, session.ID, domain.JobFailed, reason); err != nil {
		uc.log.Warn("failed to finish close job", "buffer_id", session.ID, "error", err)
	}
	// Clear so the next inbound message opens a fresh buffer.
	if err := uc.convRepo.Clear(ctx, session.ConversationID, session.ID); err != nil {
		uc.log.Warn("failed to clear conversation state", "conversation_id", session.ConversationID, "error", err)
	}
}

// Reclaim recovers sessions stuck in processing past the safety ceiling.
// Sessions with attempts left go back to active with an immediate deadline so
// the next scheduler tick retries the close; the rest are failed.
func (uc *CloserUsecase) Reclaim(ctx context.Context) (retried, failed int, err error) {
	now := time.Now()

	stuck, err := uc.bufferRepo.ListStuck(ctx, now, uc.config.SafetyCeiling, 100)
	if err != nil {
		return 0, 0, fmt.Errorf("list stuck sessions: %w", err)
	}

	for _, session := range stuck {
		if session.Attempts >= uc.config.MaxAttempts {
			uc.failBuffer(ctx, session, "processing timeout exceeded")
			failed++
			continue
		}

		if err := uc.bufferRepo.Reopen(ctx, session.ID, now, uc.config.SafetyCeiling); err != nil {
			// The worker finished or another sweep got here first.
			uc.log.Debug("skipping reclaim", "buffer_id", session.ID, "error", err)
			continue
		}
		if err := uc.jobRepo.Finish(ctx, session.ID, domain.JobScheduled, "processing timeout, retrying"); err != nil {
			uc.log.Warn("failed to reschedule close job", "buffer_id", session.ID, "error", err)
		}
		uc.log.Warn("reclaimed stuck buffer session",
			"buffer_id", session.ID,
			"conversation_id", session.ConversationID,
			"attempt", session.Attempts)
		retried++
	}

	return retried, failed, nil
}

// DispatchImmediate hands a single inbound event to the processor without
// buffering. Used when the buffering flag is disabled.
func (uc *CloserUsecase) DispatchImmediate(ctx context.Context, event *domain.InboundEvent) error {
	msg := event.Message("")
	agg := &domain.AggregatedConversation{
		ConversationID: event.ConversationID,
		OwnerID:        event.OwnerID,
		Messages:       []*domain.BufferedMessage{msg},
	}
	if err := uc.processor.ProcessAggregated(ctx, agg); err != nil {
		return fmt.Errorf("process conversation: %w", err)
	}
	return nil
}
