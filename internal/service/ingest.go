package service

import (
	"context"
	"log/slog"

	"github.com/draftpilot/wabuffer/internal/biz/domain"
	"github.com/draftpilot/wabuffer/internal/biz/usecase"
)

// IngestService routes inbound webhook events: into the conversation's
// buffer when buffering is enabled, straight to the processor otherwise.
type IngestService struct {
	buffer *usecase.BufferUsecase
	closer *usecase.CloserUsecase
	flags  *usecase.FeatureFlags
	log    *slog.Logger
}

// NewIngestService creates a new ingest service
func NewIngestService(buffer *usecase.BufferUsecase, closer *usecase.CloserUsecase, flags *usecase.FeatureFlags, log *slog.Logger) *IngestService {
	return &IngestService{
		buffer: buffer,
		closer: closer,
		flags:  flags,
		log:    log.With("component", "ingest"),
	}
}

// HandleInbound ingests one webhook event. Attaching is the only synchronous
// store operation; the webhook handler acks as soon as it returns. With
// buffering disabled the event is dispatched off the hot path.
func (s *IngestService) HandleInbound(ctx context.Context, event *domain.InboundEvent) (*domain.BufferSession, error) {
	if !s.flags.IsEnabled(usecase.FlagBuffering) {
		go func() {
			if err := s.closer.DispatchImmediate(context.Background(), event); err != nil {
				s.log.Error("immediate dispatch failed",
					"conversation_id", event.ConversationID, "error", err)
			}
		}()
		return nil, nil
	}

	return s.buffer.Attach(ctx, event)
}
