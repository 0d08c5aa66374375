package extraction

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// Renewer re-enters the authentication state machine for a session whose
// lock the runner already holds, so re-authentication is linearized with the
// job's iterations.
type Renewer interface {
	RenewLocked(ctx context.Context, sessionID string) (*models.Session, error)
}

// Service is the extraction job runner: it paginates the target list,
// extracts records resiliently, upserts them by dedup key, and reports
// progress. Recoverable errors (session invalidation, transient network,
// structural extraction misses) are handled here and never bubble past the
// runner.
type Service struct {
	cfg        common.ExtractionConfig
	idleWindow time.Duration

	sessions interfaces.SessionStorage
	jobs     interfaces.JobStorage
	records  interfaces.RecordStorage
	vault    interfaces.CredentialVault
	monitor  interfaces.HealthMonitor
	renewer  Renewer
	fetcher  PageFetcher
	extract  *Extractor
	pacer    Pacer
	locks    *common.SessionLocks
	events   interfaces.EventPublisher
	retry    *RetryPolicy
	logger   arbor.ILogger

	mu        sync.Mutex
	claimed   map[string]bool
	cancelled map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Pacer supplies the emulation-governed delay inserted before every page
// request.
type Pacer interface {
	PacingDelay() time.Duration
}

// NewService creates the extraction job runner.
func NewService(cfg common.ExtractionConfig, idleWindow time.Duration, storage interfaces.StorageManager, vault interfaces.CredentialVault, monitor interfaces.HealthMonitor, renewer Renewer, fetcher PageFetcher, pacer Pacer, locks *common.SessionLocks, events interfaces.EventPublisher, logger arbor.ILogger) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:        cfg,
		idleWindow: idleWindow,
		sessions:   storage.Sessions(),
		jobs:       storage.Jobs(),
		records:    storage.Records(),
		vault:      vault,
		monitor:    monitor,
		renewer:    renewer,
		fetcher:    fetcher,
		extract:    NewExtractor(logger),
		pacer:      pacer,
		locks:      locks,
		events:     events,
		retry:      NewRetryPolicy(),
		logger:     logger,
		claimed:    make(map[string]bool),
		cancelled:  make(map[string]bool),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// CreateJob validates the session and enqueues a new extraction job for it.
// Sessions that are expired or read invalid are refused up front.
func (s *Service) CreateJob(ctx context.Context, sessionID string) (*models.ExtractionJob, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.Extractable(time.Now()) {
		return nil, fmt.Errorf("session %s is not extractable (status=%s health=%s)",
			sessionID, session.Status, session.Health)
	}

	job := &models.ExtractionJob{
		ID:        common.NewJobID(),
		SessionID: session.ID,
		TenantID:  session.TenantID,
		State:     models.JobStateQueued,
	}
	if err := s.jobs.SaveJob(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("session_id", session.ID).
		Msg("Extraction job queued")

	return job, nil
}

// CancelJob requests cancellation. It takes effect between iterations only —
// never mid-page-extraction — leaving the cursor and found count consistent
// for a later resume.
func (s *Service) CancelJob(jobID string) {
	s.mu.Lock()
	s.cancelled[jobID] = true
	s.mu.Unlock()
	s.logger.Info().Str("job_id", jobID).Msg("Job cancellation requested")
}

// Start launches the dispatcher workers that poll for queued jobs. Each job
// runs as an independently schedulable background task; sessions are fully
// independent of one another.
func (s *Service) Start() {
	workers := s.cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	s.logger.Info().Int("workers", workers).Msg("Starting extraction dispatcher")

	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

// Stop shuts the dispatcher down, waiting for in-flight iterations to finish
// at their next between-iteration boundary.
func (s *Service) Stop() {
	s.logger.Info().Msg("Stopping extraction dispatcher")
	s.cancel()
	s.wg.Wait()
	s.logger.Info().Msg("Extraction dispatcher stopped")
}

func (s *Service) worker(id int) {
	defer s.wg.Done()

	interval := s.cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debug().Int("worker_id", id).Msg("Dispatcher worker stopping")
			return
		case <-ticker.C:
			if job := s.claimNext(); job != nil {
				s.RunJob(s.ctx, job)
				s.release(job.ID)
			}
		}
	}
}

// claimNext picks one queued job nobody else is running.
func (s *Service) claimNext() *models.ExtractionJob {
	queued, err := s.jobs.ListJobs(s.ctx, &interfaces.ListOptions{State: string(models.JobStateQueued)})
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to poll for queued jobs")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range queued {
		if !s.claimed[job.ID] {
			s.claimed[job.ID] = true
			return job
		}
	}
	return nil
}

func (s *Service) release(jobID string) {
	s.mu.Lock()
	delete(s.claimed, jobID)
	delete(s.cancelled, jobID)
	s.mu.Unlock()
}

func (s *Service) cancelRequested(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled[jobID]
}

// RunJob drives one job to a terminal state. Exported for the dispatcher and
// for tests; callers must hold the claim for the job.
func (s *Service) RunJob(ctx context.Context, job *models.ExtractionJob) {
	now := time.Now()
	job.State = models.JobStateRunning
	if job.StartedAt.IsZero() {
		job.StartedAt = now
	}
	if job.LastProgress.IsZero() {
		job.LastProgress = now
	}
	if err := s.jobs.SaveJob(ctx, job); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to persist job start")
		return
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("session_id", job.SessionID).
		Str("cursor", job.Cursor.Encode()).
		Msg("Extraction job running")

	transientStreak := 0

	for {
		// Between-iteration control points: dispatcher shutdown, operator
		// cancellation, idle timeout. Never mid-extraction.
		select {
		case <-ctx.Done():
			s.logger.Info().Str("job_id", job.ID).Msg("Dispatcher stopping, job left resumable")
			job.State = models.JobStateQueued
			s.saveJob(job)
			return
		default:
		}

		if s.cancelRequested(job.ID) {
			s.failJob(ctx, job, "cancelled by operator between iterations")
			return
		}

		if job.Idle(time.Now(), s.idleWindow) {
			s.failJob(ctx, job, fmt.Sprintf("Timeout: no progress for %s", s.idleWindow))
			return
		}

		// The pacing delay is the primary defense against rate-based
		// detection. It precedes every page request and is never skipped,
		// including the first iteration after a re-authentication.
		if err := s.pace(ctx); err != nil {
			job.State = models.JobStateQueued
			s.saveJob(job)
			return
		}

		done := s.iterate(ctx, job, &transientStreak)
		s.saveJob(job)
		if done {
			return
		}
	}
}

// pace sleeps for the emulation-governed inter-iteration delay.
func (s *Service) pace(ctx context.Context) error {
	delay := s.pacer.PacingDelay()
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// iterate runs one page iteration under the session lock and reports whether
// the job reached a terminal state. The lock guarantees at most one
// authentication attempt or extraction iteration in flight per session.
func (s *Service) iterate(ctx context.Context, job *models.ExtractionJob, transientStreak *int) bool {
	s.locks.Lock(job.SessionID, "extractor")
	defer s.locks.Unlock(job.SessionID)

	session, err := s.sessions.GetSession(ctx, job.SessionID)
	if err != nil {
		s.failJobLocked(job, fmt.Sprintf("session lookup failed: %v", err))
		return true
	}

	// An owner-paused session is not an authentication failure; the job goes
	// back to the queue and waits. Clearing LastProgress restamps the idle
	// clock when the dispatcher next picks the job up, so time spent parked
	// does not count against the idle timeout.
	if session.Status == models.SessionStatusPaused {
		s.logger.Info().
			Str("job_id", job.ID).
			Str("session_id", job.SessionID).
			Msg("Session paused by owner, job parked until resume")
		job.State = models.JobStateQueued
		job.LastProgress = time.Time{}
		return true
	}

	// A session that is expired or invalid must never run an iteration; the
	// job suspends and attempts renewal before continuing.
	if !session.Extractable(time.Now()) {
		return s.reauth(ctx, job)
	}

	// Decrypt for the scope of this single interaction only.
	cred, err := s.vault.Load(ctx, job.SessionID)
	if err != nil {
		if err == interfaces.ErrNotFound {
			s.failJobLocked(job, "session is past its TTL ceiling")
			return true
		}
		s.failJobLocked(job, fmt.Sprintf("credential load failed: %v", err))
		return true
	}

	var page *Page
	fetchErr := s.retry.ExecuteWithRetry(ctx, s.logger, func() error {
		fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.PageTimeout)
		defer cancel()

		p, err := s.fetcher.FetchPage(fetchCtx, session, cred, job.Cursor)
		if err != nil {
			return err
		}
		page = p
		return nil
	})

	if fetchErr != nil {
		// Retries exhausted. Escalate to the next-higher kind: recurrence is
		// treated as session invalidation, a first occurrence degrades and
		// the page is retried on the next iteration.
		*transientStreak++
		obs := models.Observation{Kind: models.ObservationNetworkError, ObservedAt: time.Now()}
		s.monitor.Classify(ctx, job.SessionID, obs)
		job.LastObservation = string(obs.Kind)
		job.FailedIterations++

		if *transientStreak >= 2 {
			*transientStreak = 0
			return s.reauth(ctx, job)
		}
		s.logger.Warn().
			Err(fetchErr).
			Str("job_id", job.ID).
			Msg("Page fetch exhausted retries, will retry page next iteration")
		return false
	}
	*transientStreak = 0

	health := s.monitor.Classify(ctx, job.SessionID, page.Observation)
	job.LastObservation = string(page.Observation.Kind)

	switch health {
	case models.SessionHealthInvalid:
		return s.reauth(ctx, job)
	case models.SessionHealthDegraded:
		// Not trusted enough to extract; the same cursor is retried next
		// iteration and the idle timeout bounds how long this can go on.
		job.FailedIterations++
		return false
	}

	// Remote may revise its own reported total mid-harvest.
	if page.ReportedTotal > 0 && page.ReportedTotal != job.TargetTotal {
		if job.TargetTotal != 0 {
			s.logger.Debug().
				Str("job_id", job.ID).
				Int("old_total", job.TargetTotal).
				Int("new_total", page.ReportedTotal).
				Msg("Remote revised reported total")
		}
		job.TargetTotal = page.ReportedTotal
	}

	records, strategyName, err := s.extract.Extract(page.HTML, job.TenantID)
	if err != nil {
		// A single malformed page must not sacrifice the rest of the
		// harvest: record the miss and continue to the next page.
		s.logger.Warn().
			Err(err).
			Str("job_id", job.ID).
			Int("page_offset", job.Cursor.PageOffset).
			Msg("All extraction strategies missed, skipping page")
		job.FailedIterations++
		job.Cursor.PageOffset++
		return false
	}

	created := 0
	for _, record := range records {
		isNew, err := s.records.UpsertRecord(ctx, record)
		if err != nil {
			s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to upsert record")
			continue
		}
		if isNew {
			created++
		}
	}

	job.Cursor.PageOffset++
	job.Cursor.SeenCount += len(records)
	job.Cursor.ScrollDepth += len(records) * 96

	if created > 0 {
		job.RecordsFound += created
		job.ConsecutiveEmptyIters = 0
		job.LastProgress = time.Now()

		if err := s.sessions.AddExtractionCount(ctx, job.SessionID, created); err != nil {
			s.logger.Warn().Err(err).Str("session_id", job.SessionID).Msg("Failed to bump extraction count")
		}
	} else {
		job.ConsecutiveEmptyIters++
	}

	s.publishProgress(job, strategyName, created)

	if job.Exhausted(s.cfg.EmptyIterationThreshold) {
		job.State = models.JobStateCompleted
		job.CompletedAt = time.Now()
		s.logger.Info().
			Str("job_id", job.ID).
			Int("records_found", job.RecordsFound).
			Int("target_total", job.TargetTotal).
			Msg("Extraction job completed")
		return true
	}
	return false
}

// reauth suspends the job and re-enters the authentication state machine for
// its session while still holding the session lock, so no iteration proceeds
// against a session mid-renewal. On success the job resumes from its
// unchanged cursor; a structural authentication failure is terminal.
func (s *Service) reauth(ctx context.Context, job *models.ExtractionJob) bool {
	job.State = models.JobStatePausedForReauth
	s.saveJob(job)

	s.logger.Info().
		Str("job_id", job.ID).
		Str("session_id", job.SessionID).
		Str("cursor", job.Cursor.Encode()).
		Msg("Session invalidated mid-job, re-authenticating")

	_, err := s.renewer.RenewLocked(ctx, job.SessionID)
	if err != nil {
		if models.IsKind(err, models.ErrorKindAuthStructural) {
			s.failJobLocked(job, fmt.Sprintf("re-authentication failed: %v (last cursor %s, last observation %s)",
				err, job.Cursor.Encode(), job.LastObservation))
			return true
		}
		// Transient renewal failure: stay paused and try again next
		// iteration; the idle timeout bounds the total wait.
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Renewal failed, will retry")
		return false
	}

	job.State = models.JobStateRunning
	job.ReauthCount++

	s.logger.Info().
		Str("job_id", job.ID).
		Str("cursor", job.Cursor.Encode()).
		Msg("Re-authentication succeeded, resuming from unchanged cursor")

	return false
}

// failJob marks the job failed outside the session lock.
func (s *Service) failJob(ctx context.Context, job *models.ExtractionJob, reason string) {
	s.failJobLocked(job, reason)
	s.saveJob(job)
}

// failJobLocked marks the job failed; callers persist it.
func (s *Service) failJobLocked(job *models.ExtractionJob, reason string) {
	job.State = models.JobStateFailed
	job.Error = reason
	job.CompletedAt = time.Now()

	s.logger.Error().
		Str("job_id", job.ID).
		Str("cursor", job.Cursor.Encode()).
		Str("last_observation", job.LastObservation).
		Str("reason", reason).
		Msg("Extraction job failed")
}

func (s *Service) saveJob(job *models.ExtractionJob) {
	// Durable checkpoint: the cursor and counters survive process restart so
	// no error can silently drop previously harvested progress.
	if err := s.jobs.SaveJob(context.Background(), job); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to checkpoint job")
	}
}

func (s *Service) publishProgress(job *models.ExtractionJob, strategy string, created int) {
	if s.events == nil {
		return
	}
	s.events.Publish("job_progress", map[string]interface{}{
		"job_id":        job.ID,
		"session_id":    job.SessionID,
		"state":         string(job.State),
		"records_found": job.RecordsFound,
		"target_total":  job.TargetTotal,
		"new_records":   created,
		"strategy":      strategy,
		"cursor":        job.Cursor.Encode(),
	})
}
