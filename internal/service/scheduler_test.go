package service

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftpilot/wabuffer/internal/biz/domain"
	"github.com/draftpilot/wabuffer/internal/biz/usecase"
	"github.com/draftpilot/wabuffer/internal/data"
)

type recordingProcessor struct {
	mu   sync.Mutex
	aggs []*domain.AggregatedConversation
	err  error
}

func (p *recordingProcessor) ProcessAggregated(ctx context.Context, agg *domain.AggregatedConversation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.aggs = append(p.aggs, agg)
	return nil
}

type schedulerFixture struct {
	repos     *data.Repositories
	buffer    *usecase.BufferUsecase
	scheduler *CloseScheduler
	processor *recordingProcessor
	config    usecase.BufferConfig
}

func newSchedulerFixture(t *testing.T) *schedulerFixture {
	t.Helper()

	repos, err := data.NewRepositories(filepath.Join(t.TempDir(), "buffer.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repos.Close() })

	log := slog.Default()
	config := usecase.DefaultBufferConfig()
	flags := usecase.NewFeatureFlags(map[string]bool{usecase.FlagBuffering: true})
	processor := &recordingProcessor{}

	buffer := usecase.NewBufferUsecase(repos.Buffer, repos.Conversation, repos.Job, config, log)
	closer := usecase.NewCloserUsecase(repos.Buffer, repos.Conversation, repos.Job,
		processor, nil, flags, config, log)

	return &schedulerFixture{
		repos:     repos,
		buffer:    buffer,
		scheduler: NewCloseScheduler(closer, repos.Buffer, repos.Job, config, log),
		processor: processor,
		config:    config,
	}
}

// ingestBurst attaches messages with backdated receipt times so the buffer's
// deadline has already elapsed when the close pass runs.
func (f *schedulerFixture) ingestBurst(t *testing.T, conversationID string, payloads ...string) string {
	t.Helper()
	base := time.Now().Add(-2 * f.config.Window)
	var bufferID string
	for i, payload := range payloads {
		ts := base.Add(time.Duration(i) * time.Second)
		res, err := f.repos.Buffer.AttachMessage(context.Background(), &domain.InboundEvent{
			ConversationID:    conversationID,
			ExternalMessageID: fmt.Sprintf("%s-m%d", conversationID, i),
			Payload:           payload,
			ReceivedAt:        ts,
		}, ts, f.config.Window)
		require.NoError(t, err)
		bufferID = res.Session.ID
	}
	return bufferID
}

func TestClosePass_BurstClosesOnce(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	bufferID := f.ingestBurst(t, "conv-1", "Hi", "are you there", "?")

	f.scheduler.runClosePass(ctx)
	// A second pass finds nothing; the buffer is already terminal.
	f.scheduler.runClosePass(ctx)

	require.Len(t, f.processor.aggs, 1)
	agg := f.processor.aggs[0]
	assert.Equal(t, bufferID, agg.BufferID)
	require.Len(t, agg.Messages, 3)
	assert.Equal(t, "Hi", agg.Messages[0].Payload)
	assert.Equal(t, "?", agg.Messages[2].Payload)

	session, err := f.repos.Buffer.GetSession(ctx, bufferID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCompleted, session.Status)
}

func TestClosePass_IndependentConversations(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	f.ingestBurst(t, "conv-1", "first")
	f.ingestBurst(t, "conv-2", "second")

	f.scheduler.runClosePass(ctx)

	require.Len(t, f.processor.aggs, 2)
	seen := map[string]bool{}
	for _, agg := range f.processor.aggs {
		seen[agg.ConversationID] = true
	}
	assert.True(t, seen["conv-1"])
	assert.True(t, seen["conv-2"])
}

func TestClosePass_SkipsOpenBuffers(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	now := time.Now()
	_, err := f.repos.Buffer.AttachMessage(ctx, &domain.InboundEvent{
		ConversationID:    "conv-1",
		ExternalMessageID: "m1",
		Payload:           "still typing",
		ReceivedAt:        now,
	}, now, f.config.Window)
	require.NoError(t, err)

	f.scheduler.runClosePass(ctx)
	assert.Empty(t, f.processor.aggs)
}

func TestClosePass_ProcessorFailureMarksBuffer(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()
	f.processor.err = fmt.Errorf("downstream unavailable")

	bufferID := f.ingestBurst(t, "conv-1", "Hi")

	f.scheduler.runClosePass(ctx)

	session, err := f.repos.Buffer.GetSession(ctx, bufferID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionFailed, session.Status)
	assert.Contains(t, session.LastError, "downstream unavailable")
}

func TestRetentionPass(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	bufferID := f.ingestBurst(t, "conv-1", "Hi")
	f.scheduler.runClosePass(ctx)

	// The freshly completed session is inside the retention window.
	f.scheduler.runRetention(ctx)

	session, err := f.repos.Buffer.GetSession(ctx, bufferID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCompleted, session.Status)
}
