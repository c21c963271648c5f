package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/draftpilot/wabuffer/internal/biz/repo"
	"github.com/draftpilot/wabuffer/internal/biz/usecase"
)

// CloseScheduler discovers buffers whose deadline has elapsed and hands them
// to the closer. It does no business logic beyond discovery and dispatch;
// overlapping ticks are safe because the closer's claim is a CAS. It also
// runs the stuck-session sweep and periodic retention cleanup.
type CloseScheduler struct {
	closer     *usecase.CloserUsecase
	bufferRepo repo.BufferRepo
	jobRepo    repo.JobRepo
	config     usecase.BufferConfig
	cron       *cron.Cron
	log        *slog.Logger
}

// NewCloseScheduler creates a new close scheduler
func NewCloseScheduler(
	closer *usecase.CloserUsecase,
	bufferRepo repo.BufferRepo,
	jobRepo repo.JobRepo,
	config usecase.BufferConfig,
	log *slog.Logger,
) *CloseScheduler {
	return &CloseScheduler{
		closer:     closer,
		bufferRepo: bufferRepo,
		jobRepo:    jobRepo,
		config:     config,
		cron:       cron.New(),
		log:        log.With("component", "scheduler"),
	}
}

// Start registers the poll and retention jobs and starts the cron runner.
func (s *CloseScheduler) Start() error {
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.config.PollInterval), s.tick); err != nil {
		return fmt.Errorf("failed to schedule close poll: %w", err)
	}
	if _, err := s.cron.AddFunc("@every 6h", func() { s.runRetention(context.Background()) }); err != nil {
		return fmt.Errorf("failed to schedule retention: %w", err)
	}
	s.cron.Start()
	s.log.Info("scheduler started", "poll_interval", s.config.PollInterval)
	return nil
}

// Stop stops the cron runner and waits for running jobs to finish.
func (s *CloseScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("scheduler stopped")
}

func (s *CloseScheduler) tick() {
	ctx := context.Background()
	s.runClosePass(ctx)
	s.runReclaim(ctx)
}

// runClosePass claims and closes every buffer whose deadline has elapsed.
func (s *CloseScheduler) runClosePass(ctx context.Context) {
	sessions, err := s.bufferRepo.ListExpired(ctx, time.Now(), 100)
	if err != nil {
		s.log.Error("failed to list expired buffers", "error", err)
		return
	}

	for _, session := range sessions {
		if _, err := s.closer.ClaimAndClose(ctx, session.ID); err != nil {
			if errors.Is(err, repo.ErrNotEligible) {
				// Another worker won, or a late message bumped the deadline.
				s.log.Debug("buffer no longer eligible", "buffer_id", session.ID)
				continue
			}
			// Already recorded on the session; surfaced here for operators.
			s.log.Error("close failed", "buffer_id", session.ID, "error", err)
		}
	}
}

// runReclaim recovers sessions stuck in processing past the safety ceiling.
func (s *CloseScheduler) runReclaim(ctx context.Context) {
	retried, failed, err := s.closer.Reclaim(ctx)
	if err != nil {
		s.log.Error("stuck-session sweep failed", "error", err)
		return
	}
	if retried > 0 || failed > 0 {
		s.log.Warn("reclaimed stuck sessions", "retried", retried, "failed", failed)
	}
}

// runRetention deletes completed sessions past the retention window and
// failed sessions and finished job records past the shorter one.
func (s *CloseScheduler) runRetention(ctx context.Context) {
	now := time.Now()

	if n, err := s.bufferRepo.DeleteCompletedBefore(ctx, now.Add(-s.config.SessionRetention)); err != nil {
		s.log.Error("retention cleanup failed", "error", err)
	} else if n > 0 {
		s.log.Info("deleted completed sessions", "count", n)
	}

	if n, err := s.bufferRepo.DeleteFailedBefore(ctx, now.Add(-s.config.JobRetention)); err != nil {
		s.log.Error("failed-session cleanup failed", "error", err)
	} else if n > 0 {
		s.log.Info("deleted failed sessions", "count", n)
	}

	if n, err := s.jobRepo.DeleteFinishedBefore(ctx, now.Add(-s.config.JobRetention)); err != nil {
		s.log.Error("job cleanup failed", "error", err)
	} else if n > 0 {
		s.log.Info("deleted finished jobs", "count", n)
	}
}
