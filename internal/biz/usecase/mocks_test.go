package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/draftpilot/wabuffer/internal/biz/domain"
	"github.com/draftpilot/wabuffer/internal/biz/repo"
)

// Mock implementations. The buffer mock keeps the store's conditional-update
// semantics (single active session per conversation, status-guarded
// transitions) so lifecycle tests exercise the real contract.

type mockBufferRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.BufferSession
	messages map[string][]*domain.BufferedMessage
}

func newMockBufferRepo() *mockBufferRepo {
	return &mockBufferRepo{
		sessions: make(map[string]*domain.BufferSession),
		messages: make(map[string][]*domain.BufferedMessage),
	}
}

func (m *mockBufferRepo) activeFor(conversationID string) *domain.BufferSession {
	for _, s := range m.sessions {
		if s.ConversationID == conversationID && s.Status == domain.SessionActive {
			return s
		}
	}
	return nil
}

func (m *mockBufferRepo) AttachMessage(ctx context.Context, event *domain.InboundEvent, now time.Time, window time.Duration) (*repo.AttachResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session := m.activeFor(event.ConversationID)
	created := false
	if session == nil {
		session = &domain.BufferSession{
			ID:             uuid.NewString(),
			ConversationID: event.ConversationID,
			OwnerID:        event.OwnerID,
			Status:         domain.SessionActive,
			OpenedAt:       now,
			LastMessageAt:  now,
			ClosesAt:       now.Add(window),
		}
		m.sessions[session.ID] = session
		created = true
	}

	for _, msg := range m.messages[session.ID] {
		if msg.ExternalMessageID == event.ExternalMessageID {
			return &repo.AttachResult{Session: session, Created: created, Inserted: false}, nil
		}
	}

	msg := event.Message(session.ID)
	msg.ID = int64(len(m.messages[session.ID]) + 1)
	m.messages[session.ID] = append(m.messages[session.ID], msg)
	session.Extend(now, window)

	return &repo.AttachResult{Session: session, Created: created, Inserted: true}, nil
}

func (m *mockBufferRepo) GetSession(ctx context.Context, bufferID string) (*domain.BufferSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[bufferID], nil
}

func (m *mockBufferRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.BufferSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.BufferSession
	for _, s := range m.sessions {
		if s.Expired(now) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockBufferRepo) Claim(ctx context.Context, bufferID string, now time.Time) (*domain.BufferSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[bufferID]
	if !ok || s.Status != domain.SessionActive || s.ClosesAt.After(now) {
		return nil, repo.ErrNotEligible
	}
	s.Status = domain.SessionProcessing
	claimed := now
	s.ClaimedAt = &claimed
	s.Attempts++
	return s, nil
}

func (m *mockBufferRepo) Complete(ctx context.Context, bufferID string, processedAt time.Time) error {
	return m.finish(bufferID, domain.SessionCompleted, processedAt, "")
}

func (m *mockBufferRepo) Fail(ctx context.Context, bufferID string, lastError string) error {
	return m.finish(bufferID, domain.SessionFailed, time.Now(), lastError)
}

func (m *mockBufferRepo) finish(bufferID string, status domain.SessionStatus, processedAt time.Time, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[bufferID]
	if !ok || s.Status != domain.SessionProcessing {
		return fmt.Errorf("session %s is not in processing state", bufferID)
	}
	s.Status = status
	s.ProcessedAt = &processedAt
	s.LastError = lastError
	return nil
}

func (m *mockBufferRepo) ListStuck(ctx context.Context, now time.Time, ceiling time.Duration, limit int) ([]*domain.BufferSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.BufferSession
	for _, s := range m.sessions {
		if s.Stuck(now, ceiling) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockBufferRepo) Reopen(ctx context.Context, bufferID string, now time.Time, ceiling time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[bufferID]
	if !ok || !s.Stuck(now, ceiling) {
		return fmt.Errorf("session %s is no longer reclaimable", bufferID)
	}
	s.Status = domain.SessionActive
	s.ClaimedAt = nil
	s.ClosesAt = now
	return nil
}

func (m *mockBufferRepo) MessagesByBuffer(ctx context.Context, bufferID string) ([]*domain.BufferedMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := make([]*domain.BufferedMessage, len(m.messages[bufferID]))
	copy(msgs, m.messages[bufferID])
	for i := 0; i < len(msgs); i++ {
		for j := i + 1; j < len(msgs); j++ {
			if msgs[j].ReceivedAt.Before(msgs[i].ReceivedAt) {
				msgs[i], msgs[j] = msgs[j], msgs[i]
			}
		}
	}
	return msgs, nil
}

func (m *mockBufferRepo) DeleteCompletedBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func (m *mockBufferRepo) DeleteFailedBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func (m *mockBufferRepo) Close() error { return nil }

type mockConversationRepo struct {
	mu     sync.Mutex
	states map[string]*domain.ConversationState
}

func newMockConversationRepo() *mockConversationRepo {
	return &mockConversationRepo{states: make(map[string]*domain.ConversationState)}
}

func (m *mockConversationRepo) Get(ctx context.Context, conversationID string) (*domain.ConversationState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[conversationID], nil
}

func (m *mockConversationRepo) SetBuffering(ctx context.Context, conversationID string, ownerID *string, bufferID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[conversationID] = &domain.ConversationState{
		ConversationID: conversationID,
		OwnerID:        ownerID,
		ActiveBufferID: &bufferID,
		State:          domain.ConversationBuffering,
		UpdatedAt:      time.Now(),
	}
	return nil
}

func (m *mockConversationRepo) SetProcessing(ctx context.Context, conversationID string, bufferID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.states[conversationID]; ok && s.ActiveBufferID != nil && *s.ActiveBufferID == bufferID {
		s.State = domain.ConversationProcessing
	}
	return nil
}

func (m *mockConversationRepo) Clear(ctx context.Context, conversationID string, bufferID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.states[conversationID]; ok && s.ActiveBufferID != nil && *s.ActiveBufferID == bufferID {
		s.State = domain.ConversationIdle
		s.ActiveBufferID = nil
	}
	return nil
}

type mockJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*domain.ProcessingJob
}

func newMockJobRepo() *mockJobRepo {
	return &mockJobRepo{jobs: make(map[string]*domain.ProcessingJob)}
}

func (m *mockJobRepo) EnsureScheduled(ctx context.Context, bufferID string, scheduledFor time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[bufferID]; !ok {
		m.jobs[bufferID] = &domain.ProcessingJob{
			ID:           uuid.NewString(),
			BufferID:     bufferID,
			ScheduledFor: scheduledFor,
			Status:       domain.JobScheduled,
		}
	}
	return nil
}

func (m *mockJobRepo) Start(ctx context.Context, bufferID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[bufferID]; ok {
		j.Status = domain.JobRunning
		j.Attempts++
	}
	return nil
}

func (m *mockJobRepo) Finish(ctx context.Context, bufferID string, status domain.JobStatus, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[bufferID]; ok {
		j.Status = status
		j.LastError = lastError
	}
	return nil
}

func (m *mockJobRepo) GetByBuffer(ctx context.Context, bufferID string) (*domain.ProcessingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[bufferID], nil
}

func (m *mockJobRepo) DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

type mockProcessor struct {
	mu    sync.Mutex
	calls []*domain.AggregatedConversation
	err   error
	sleep time.Duration
}

func (m *mockProcessor) ProcessAggregated(ctx context.Context, agg *domain.AggregatedConversation) error {
	if m.sleep > 0 {
		time.Sleep(m.sleep)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.calls = append(m.calls, agg)
	return nil
}

func (m *mockProcessor) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type mockChannel struct {
	mu     sync.Mutex
	typing []string
	texts  []string
}

func (m *mockChannel) SendTyping(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.typing = append(m.typing, conversationID)
	return nil
}

func (m *mockChannel) SendText(ctx context.Context, conversationID string, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts = append(m.texts, text)
	return nil
}
