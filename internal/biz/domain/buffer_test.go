package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBufferSession_CanTransition(t *testing.T) {
	cases := []struct {
		from    SessionStatus
		to      SessionStatus
		allowed bool
	}{
		{SessionActive, SessionProcessing, true},
		{SessionActive, SessionCompleted, false},
		{SessionActive, SessionFailed, false},
		{SessionProcessing, SessionCompleted, true},
		{SessionProcessing, SessionFailed, true},
		{SessionProcessing, SessionActive, false},
		{SessionCompleted, SessionProcessing, false},
		{SessionCompleted, SessionActive, false},
		{SessionFailed, SessionActive, false},
	}

	for _, tc := range cases {
		s := &BufferSession{Status: tc.from}
		assert.Equal(t, tc.allowed, s.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestBufferSession_Extend_SlidingDeadline(t *testing.T) {
	window := 30 * time.Second
	t0 := time.Now()

	s := &BufferSession{
		Status:        SessionActive,
		OpenedAt:      t0,
		LastMessageAt: t0,
		ClosesAt:      t0.Add(window),
	}

	// Messages at t0+5s and t0+10s keep pushing the deadline forward.
	s.Extend(t0.Add(5*time.Second), window)
	s.Extend(t0.Add(10*time.Second), window)

	assert.Equal(t, t0.Add(40*time.Second), s.ClosesAt)
	assert.Equal(t, t0.Add(10*time.Second), s.LastMessageAt)
	assert.Equal(t, 2, s.MessageCount)
}

func TestBufferSession_Expired(t *testing.T) {
	now := time.Now()

	active := &BufferSession{Status: SessionActive, ClosesAt: now.Add(-time.Second)}
	assert.True(t, active.Expired(now))

	notYet := &BufferSession{Status: SessionActive, ClosesAt: now.Add(time.Second)}
	assert.False(t, notYet.Expired(now))

	// A claimed session is no longer eligible regardless of its deadline.
	claimed := &BufferSession{Status: SessionProcessing, ClosesAt: now.Add(-time.Minute)}
	assert.False(t, claimed.Expired(now))
}

func TestBufferSession_Stuck(t *testing.T) {
	now := time.Now()
	ceiling := 5 * time.Minute

	old := now.Add(-6 * time.Minute)
	stuck := &BufferSession{Status: SessionProcessing, ClaimedAt: &old}
	assert.True(t, stuck.Stuck(now, ceiling))

	recent := now.Add(-time.Minute)
	fresh := &BufferSession{Status: SessionProcessing, ClaimedAt: &recent}
	assert.False(t, fresh.Stuck(now, ceiling))

	active := &BufferSession{Status: SessionActive}
	assert.False(t, active.Stuck(now, ceiling))
}
