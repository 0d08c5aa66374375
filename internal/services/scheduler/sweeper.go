package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// Sweeper enforces lifecycle ceilings in the background: sessions past their
// TTL are marked expired regardless of recent renewals, and jobs that have
// stalled past the idle window are failed so they don't sit running forever.
type Sweeper struct {
	cfg      common.SessionsConfig
	sessions interfaces.SessionStorage
	jobs     interfaces.JobStorage
	events   interfaces.EventPublisher
	logger   arbor.ILogger

	cron    *cron.Cron
	running bool
}

// NewSweeper creates the background sweeper.
func NewSweeper(cfg common.SessionsConfig, storage interfaces.StorageManager, events interfaces.EventPublisher, logger arbor.ILogger) *Sweeper {
	return &Sweeper{
		cfg:      cfg,
		sessions: storage.Sessions(),
		jobs:     storage.Jobs(),
		events:   events,
		logger:   logger,
		cron:     cron.New(),
	}
}

// Start schedules the sweep and runs one immediately so a restart doesn't
// leave stale sessions active until the first tick.
func (s *Sweeper) Start() error {
	if s.running {
		return fmt.Errorf("sweeper already running")
	}

	schedule := s.cfg.SweepSchedule
	if schedule == "" {
		schedule = "*/15 * * * *"
	}

	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().Str("schedule", schedule).Msg("Lifecycle sweeper started")

	go s.sweep()
	return nil
}

// Stop halts the sweeper, letting an in-flight sweep finish.
func (s *Sweeper) Stop() {
	if !s.running {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false
	s.logger.Info().Msg("Lifecycle sweeper stopped")
}

func (s *Sweeper) sweep() {
	ctx := context.Background()
	now := time.Now()

	s.sweepSessions(ctx, now)
	s.sweepJobs(ctx, now)
}

// sweepSessions expires every active session past its TTL ceiling.
func (s *Sweeper) sweepSessions(ctx context.Context, now time.Time) {
	expired, err := s.sessions.ListExpiredActive(ctx, now)
	if err != nil {
		s.logger.Warn().Err(err).Msg("TTL sweep query failed")
		return
	}

	for _, session := range expired {
		if err := s.sessions.UpdateStatus(ctx, session.ID, models.SessionStatusExpired); err != nil {
			s.logger.Warn().Err(err).Str("session_id", session.ID).Msg("Failed to expire session")
			continue
		}
		s.logger.Info().
			Str("session_id", session.ID).
			Str("tenant_id", session.TenantID).
			Str("expired_at", session.ExpiresAt.Format(time.RFC3339)).
			Msg("Session expired by TTL sweep")

		if s.events != nil {
			s.events.Publish("session_expired", map[string]interface{}{
				"session_id": session.ID,
				"tenant_id":  session.TenantID,
			})
		}
	}
}

// sweepJobs fails active jobs that have gone the whole idle window without
// progress. The runner normally catches this between iterations; the sweep
// covers jobs orphaned by a crash or shutdown.
func (s *Sweeper) sweepJobs(ctx context.Context, now time.Time) {
	if s.cfg.IdleTimeout <= 0 {
		return
	}

	active, err := s.jobs.ListActiveJobs(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Idle job sweep query failed")
		return
	}

	for _, job := range active {
		if job.State == models.JobStateQueued || !job.Idle(now, s.cfg.IdleTimeout) {
			continue
		}
		job.State = models.JobStateFailed
		job.Error = fmt.Sprintf("Timeout: no progress for %s", s.cfg.IdleTimeout)
		job.CompletedAt = now
		if err := s.jobs.SaveJob(ctx, job); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to fail idle job")
			continue
		}
		s.logger.Warn().
			Str("job_id", job.ID).
			Str("cursor", job.Cursor.Encode()).
			Str("last_progress", job.LastProgress.Format(time.RFC3339)).
			Msg("Idle job failed by sweep")
	}
}
