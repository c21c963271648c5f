package repo

import (
	"context"

	"github.com/draftpilot/wabuffer/internal/biz/domain"
)

// ProcessorRepo is the downstream conversation processor. The closer
// guarantees at-most-once invocation per buffer lifecycle.
type ProcessorRepo interface {
	ProcessAggregated(ctx context.Context, agg *domain.AggregatedConversation) error
}
