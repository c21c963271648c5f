package domain

import "time"

// SessionStatus is the lifecycle state of a buffer session
type SessionStatus string

const (
	SessionActive     SessionStatus = "active"
	SessionProcessing SessionStatus = "processing"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
)

// BufferSession is a time-windowed aggregation unit collecting the messages
// of one conversation before downstream processing.
type BufferSession struct {
	ID             string
	ConversationID string
	OwnerID        *string // nullable until the sender is resolved to a user
	Status         SessionStatus
	OpenedAt       time.Time
	LastMessageAt  time.Time
	ClosesAt       time.Time
	ClaimedAt      *time.Time
	ProcessedAt    *time.Time
	MessageCount   int
	Attempts       int
	LastError      string
}

// CanTransition reports whether moving to target is a legal lifecycle step.
// Transitions never skip or reverse: active -> processing -> completed|failed.
func (s *BufferSession) CanTransition(target SessionStatus) bool {
	switch s.Status {
	case SessionActive:
		return target == SessionProcessing
	case SessionProcessing:
		return target == SessionCompleted || target == SessionFailed
	default:
		return false
	}
}

// Expired reports whether the session's sliding deadline has elapsed.
func (s *BufferSession) Expired(now time.Time) bool {
	return s.Status == SessionActive && !s.ClosesAt.After(now)
}

// Stuck reports whether the session has been wedged in processing for longer
// than the safety ceiling.
func (s *BufferSession) Stuck(now time.Time, ceiling time.Duration) bool {
	if s.Status != SessionProcessing || s.ClaimedAt == nil {
		return false
	}
	return now.Sub(*s.ClaimedAt) > ceiling
}

// Extend advances the sliding window after a new message: every message resets
// the deadline to now + window, so a burst only closes after the last one.
func (s *BufferSession) Extend(now time.Time, window time.Duration) {
	s.LastMessageAt = now
	s.ClosesAt = now.Add(window)
	s.MessageCount++
}
