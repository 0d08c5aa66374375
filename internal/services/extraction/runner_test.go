package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// --- fakes ---

type fakeSessionStorage struct {
	sessions map[string]*models.Session
}

func newFakeSessionStorage() *fakeSessionStorage {
	return &fakeSessionStorage{sessions: make(map[string]*models.Session)}
}

func (f *fakeSessionStorage) SaveSession(_ context.Context, session *models.Session) error {
	copied := *session
	f.sessions[session.ID] = &copied
	return nil
}

func (f *fakeSessionStorage) GetSession(_ context.Context, id string) (*models.Session, error) {
	session, ok := f.sessions[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	copied := *session
	return &copied, nil
}

func (f *fakeSessionStorage) ListSessions(_ context.Context, _ *interfaces.ListOptions) ([]*models.Session, error) {
	return nil, nil
}

func (f *fakeSessionStorage) UpdateHealth(_ context.Context, id string, health models.SessionHealth) error {
	if s, ok := f.sessions[id]; ok {
		s.Health = health
	}
	return nil
}

func (f *fakeSessionStorage) UpdateStatus(_ context.Context, id string, status models.SessionStatus) error {
	if s, ok := f.sessions[id]; ok {
		s.Status = status
	}
	return nil
}

func (f *fakeSessionStorage) AddExtractionCount(_ context.Context, _ string, _ int) error { return nil }

func (f *fakeSessionStorage) ListExpiredActive(_ context.Context, _ time.Time) ([]*models.Session, error) {
	return nil, nil
}

type fakeJobStorage struct {
	jobs map[string]*models.ExtractionJob
}

func newFakeJobStorage() *fakeJobStorage {
	return &fakeJobStorage{jobs: make(map[string]*models.ExtractionJob)}
}

func (f *fakeJobStorage) SaveJob(_ context.Context, job *models.ExtractionJob) error {
	copied := *job
	f.jobs[job.ID] = &copied
	return nil
}

func (f *fakeJobStorage) GetJob(_ context.Context, id string) (*models.ExtractionJob, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (f *fakeJobStorage) ListJobs(_ context.Context, opts *interfaces.ListOptions) ([]*models.ExtractionJob, error) {
	var out []*models.ExtractionJob
	for _, job := range f.jobs {
		if opts != nil && opts.State != "" && string(job.State) != opts.State {
			continue
		}
		copied := *job
		out = append(out, &copied)
	}
	return out, nil
}

func (f *fakeJobStorage) ListJobsBySession(_ context.Context, sessionID string) ([]*models.ExtractionJob, error) {
	var out []*models.ExtractionJob
	for _, job := range f.jobs {
		if job.SessionID == sessionID {
			out = append(out, job)
		}
	}
	return out, nil
}

func (f *fakeJobStorage) ListActiveJobs(_ context.Context) ([]*models.ExtractionJob, error) {
	var out []*models.ExtractionJob
	for _, job := range f.jobs {
		if !job.State.Terminal() {
			out = append(out, job)
		}
	}
	return out, nil
}

func (f *fakeJobStorage) CountJobs(_ context.Context) (int, error) { return len(f.jobs), nil }

type fakeRecordStorage struct {
	records map[string]*models.Record
}

func newFakeRecordStorage() *fakeRecordStorage {
	return &fakeRecordStorage{records: make(map[string]*models.Record)}
}

func (f *fakeRecordStorage) UpsertRecord(_ context.Context, record *models.Record) (bool, error) {
	key := record.StorageKey()
	if existing, ok := f.records[key]; ok {
		existing.Merge(record)
		return false, nil
	}
	copied := *record
	f.records[key] = &copied
	return true, nil
}

func (f *fakeRecordStorage) GetRecord(_ context.Context, tenantID, dedupKey string) (*models.Record, error) {
	record, ok := f.records[tenantID+"/"+dedupKey]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return record, nil
}

func (f *fakeRecordStorage) ListRecords(_ context.Context, _ *interfaces.ListOptions) ([]*models.Record, error) {
	var out []*models.Record
	for _, r := range f.records {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeRecordStorage) CountRecords(_ context.Context, tenantID string) (int, error) {
	n := 0
	for _, r := range f.records {
		if r.TenantID == tenantID {
			n++
		}
	}
	return n, nil
}

type fakeStorageManager struct {
	sessions *fakeSessionStorage
	jobs     *fakeJobStorage
	records  *fakeRecordStorage
}

func newFakeStorageManager() *fakeStorageManager {
	return &fakeStorageManager{
		sessions: newFakeSessionStorage(),
		jobs:     newFakeJobStorage(),
		records:  newFakeRecordStorage(),
	}
}

func (f *fakeStorageManager) Sessions() interfaces.SessionStorage { return f.sessions }
func (f *fakeStorageManager) Jobs() interfaces.JobStorage         { return f.jobs }
func (f *fakeStorageManager) Records() interfaces.RecordStorage   { return f.records }
func (f *fakeStorageManager) Close() error                        { return nil }

type fakeVault struct {
	storage *fakeSessionStorage
	loads   int
}

func (v *fakeVault) Store(_ context.Context, _ string, _ *models.Credential) (string, error) {
	return "", errors.New("not implemented")
}
func (v *fakeVault) Update(_ context.Context, _ string, _ *models.Credential) error { return nil }
func (v *fakeVault) Load(ctx context.Context, sessionID string) (*models.Credential, error) {
	session, err := v.storage.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.IsExpired(time.Now()) {
		return nil, interfaces.ErrNotFound
	}
	v.loads++
	return &models.Credential{Username: "jane@example.com", Password: "hunter2"}, nil
}
func (v *fakeVault) Invalidate(_ context.Context, _ string) error { return nil }

// fakeMonitor maps each observation kind straight to a health reading.
type fakeMonitor struct{}

func (m *fakeMonitor) Classify(_ context.Context, _ string, obs models.Observation) models.SessionHealth {
	switch obs.Kind {
	case models.ObservationLoginRedirect:
		return models.SessionHealthInvalid
	case models.ObservationNetworkError, models.ObservationUnrecognized:
		return models.SessionHealthDegraded
	default:
		return models.SessionHealthHealthy
	}
}
func (m *fakeMonitor) Health(_ string) models.SessionHealth { return models.SessionHealthHealthy }
func (m *fakeMonitor) Reset(_ context.Context, _ string)    {}

type fakeRenewer struct {
	storage *fakeSessionStorage
	err     error
	calls   int
}

func (r *fakeRenewer) RenewLocked(ctx context.Context, sessionID string) (*models.Session, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	_ = r.storage.UpdateHealth(ctx, sessionID, models.SessionHealthHealthy)
	return r.storage.GetSession(ctx, sessionID)
}

// zeroPacer pins the inter-iteration pacing delay to zero so tests run fast.
type zeroPacer struct{}

func (zeroPacer) PacingDelay() time.Duration { return 0 }

type fetchStep struct {
	page *Page
	err  error
}

// scriptedFetcher plays a fixed sequence of pages, repeating the final step
// once the script runs out. It records every cursor it was asked for.
type scriptedFetcher struct {
	script  []fetchStep
	cursors []models.Cursor
}

func (f *scriptedFetcher) FetchPage(_ context.Context, _ *models.Session, cred *models.Credential, cursor models.Cursor) (*Page, error) {
	if cred == nil {
		return nil, errors.New("fetch called without a decrypted credential")
	}
	f.cursors = append(f.cursors, cursor)
	i := len(f.cursors) - 1
	if i >= len(f.script) {
		i = len(f.script) - 1
	}
	return f.script[i].page, f.script[i].err
}

type capturedEvents struct {
	payloads []map[string]interface{}
}

func (c *capturedEvents) Publish(eventType string, payload map[string]interface{}) {
	if eventType == "job_progress" {
		c.payloads = append(c.payloads, payload)
	}
}

// --- fixtures ---

// cardListPage renders n connection cards with globally unique profile refs
// starting at index start, reporting the given total.
func cardListPage(start, n, total int) *Page {
	var b strings.Builder
	b.WriteString(`<span class="list-total">`)
	fmt.Fprintf(&b, "%d connections", total)
	b.WriteString(`</span><ul>`)
	for i := start; i < start+n; i++ {
		fmt.Fprintf(&b, `<li class="connection-card">
  <a class="connection-card__link" href="https://platform.example/profile/person-%d"></a>
  <span class="connection-card__name">Person %d</span>
</li>`, i, i)
	}
	b.WriteString("</ul>")

	return &Page{
		HTML:          b.String(),
		ReportedTotal: total,
		Observation:   models.Observation{Kind: models.ObservationContentRendered, ObservedAt: time.Now()},
	}
}

func redirectPage() *Page {
	return &Page{
		Observation: models.Observation{Kind: models.ObservationLoginRedirect, ObservedAt: time.Now()},
	}
}

type runnerHarness struct {
	service *Service
	storage *fakeStorageManager
	vault   *fakeVault
	renewer *fakeRenewer
	fetcher *scriptedFetcher
	events  *capturedEvents
}

func newRunnerHarness(t *testing.T, script []fetchStep) *runnerHarness {
	t.Helper()

	storage := newFakeStorageManager()
	vault := &fakeVault{storage: storage.sessions}
	renewer := &fakeRenewer{storage: storage.sessions}
	fetcher := &scriptedFetcher{script: script}
	events := &capturedEvents{}

	cfg := common.ExtractionConfig{
		EmptyIterationThreshold: 3,
		PageTimeout:             5 * time.Second,
		ListURL:                 "https://platform.example/connections",
		Workers:                 1,
		PollInterval:            10 * time.Millisecond,
	}

	service := NewService(cfg, time.Minute, storage, vault, &fakeMonitor{}, renewer, fetcher,
		zeroPacer{}, common.NewSessionLocks(), events, arbor.NewLogger())

	return &runnerHarness{
		service: service,
		storage: storage,
		vault:   vault,
		renewer: renewer,
		fetcher: fetcher,
		events:  events,
	}
}

func (h *runnerHarness) addSession(t *testing.T) *models.Session {
	t.Helper()
	now := time.Now()
	session := &models.Session{
		ID:        "ses_test",
		TenantID:  "tenant-a",
		Status:    models.SessionStatusActive,
		Health:    models.SessionHealthHealthy,
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
	}
	if err := h.storage.sessions.SaveSession(context.Background(), session); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	return session
}

// --- tests ---

func TestService_CreateJob(t *testing.T) {
	t.Run("Extractable session enqueues a job", func(t *testing.T) {
		h := newRunnerHarness(t, nil)
		session := h.addSession(t)

		job, err := h.service.CreateJob(context.Background(), session.ID)
		if err != nil {
			t.Fatalf("CreateJob failed: %v", err)
		}
		if job.State != models.JobStateQueued {
			t.Errorf("Expected queued, got %s", job.State)
		}
		if job.TenantID != "tenant-a" {
			t.Errorf("Expected tenant inherited from the session, got %s", job.TenantID)
		}
	})

	t.Run("Invalid session is refused", func(t *testing.T) {
		h := newRunnerHarness(t, nil)
		session := h.addSession(t)
		h.storage.sessions.sessions[session.ID].Health = models.SessionHealthInvalid

		if _, err := h.service.CreateJob(context.Background(), session.ID); err == nil {
			t.Error("Expected an error for an invalid session")
		}
	})

	t.Run("Expired session is refused", func(t *testing.T) {
		h := newRunnerHarness(t, nil)
		session := h.addSession(t)
		h.storage.sessions.sessions[session.ID].ExpiresAt = time.Now().Add(-time.Minute)

		if _, err := h.service.CreateJob(context.Background(), session.ID); err == nil {
			t.Error("Expected an error for an expired session")
		}
	})

	t.Run("Unknown session reports not found", func(t *testing.T) {
		h := newRunnerHarness(t, nil)
		if _, err := h.service.CreateJob(context.Background(), "ses_missing"); err != interfaces.ErrNotFound {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})
}

func TestService_RunJob_CompletesAtTarget(t *testing.T) {
	h := newRunnerHarness(t, []fetchStep{
		{page: cardListPage(0, 50, 120)},
		{page: cardListPage(50, 50, 120)},
		{page: cardListPage(100, 20, 120)},
	})
	session := h.addSession(t)

	job, err := h.service.CreateJob(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	h.service.RunJob(context.Background(), job)

	if job.State != models.JobStateCompleted {
		t.Fatalf("Expected completed, got %s (error %q)", job.State, job.Error)
	}
	if job.RecordsFound != 120 {
		t.Errorf("Expected 120 records found, got %d", job.RecordsFound)
	}
	if job.TargetTotal != 120 {
		t.Errorf("Expected the reported total adopted, got %d", job.TargetTotal)
	}
	if job.Cursor.PageOffset != 3 {
		t.Errorf("Expected 3 pages consumed, got offset %d", job.Cursor.PageOffset)
	}
	if n, _ := h.storage.records.CountRecords(context.Background(), "tenant-a"); n != 120 {
		t.Errorf("Expected 120 stored records, got %d", n)
	}
	if job.CompletedAt.IsZero() {
		t.Error("Expected CompletedAt stamped")
	}

	t.Run("Progress events carry the running totals", func(t *testing.T) {
		if len(h.events.payloads) != 3 {
			t.Fatalf("Expected 3 progress events, got %d", len(h.events.payloads))
		}
		last := h.events.payloads[2]
		if last["records_found"] != 120 || last["new_records"] != 20 {
			t.Errorf("Unexpected final progress payload: %v", last)
		}
		if last["strategy"] != "card" {
			t.Errorf("Expected the card strategy reported, got %v", last["strategy"])
		}
	})

	t.Run("Checkpoint is persisted", func(t *testing.T) {
		stored, err := h.storage.jobs.GetJob(context.Background(), job.ID)
		if err != nil {
			t.Fatalf("GetJob failed: %v", err)
		}
		if stored.State != models.JobStateCompleted || stored.RecordsFound != 120 {
			t.Errorf("Expected the terminal checkpoint persisted, got %+v", stored)
		}
	})
}

func TestService_RunJob_EmptyIterationThreshold(t *testing.T) {
	// The same page every time: the first iteration creates 5 records, every
	// later one upserts duplicates only.
	h := newRunnerHarness(t, []fetchStep{
		{page: cardListPage(0, 5, 0)},
	})
	session := h.addSession(t)

	job, err := h.service.CreateJob(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	h.service.RunJob(context.Background(), job)

	if job.State != models.JobStateCompleted {
		t.Fatalf("Expected completed, got %s (error %q)", job.State, job.Error)
	}
	if job.RecordsFound != 5 {
		t.Errorf("Expected 5 records found, got %d", job.RecordsFound)
	}
	if job.ConsecutiveEmptyIters != 3 {
		t.Errorf("Expected 3 consecutive empty iterations, got %d", job.ConsecutiveEmptyIters)
	}
}

func TestService_RunJob_ReauthMidJob(t *testing.T) {
	h := newRunnerHarness(t, []fetchStep{
		{page: cardListPage(0, 50, 120)},
		{page: redirectPage()},
		{page: cardListPage(50, 50, 120)},
		{page: cardListPage(100, 20, 120)},
	})
	session := h.addSession(t)

	job, err := h.service.CreateJob(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	h.service.RunJob(context.Background(), job)

	if job.State != models.JobStateCompleted {
		t.Fatalf("Expected completed after re-auth, got %s (error %q)", job.State, job.Error)
	}
	if job.ReauthCount != 1 {
		t.Errorf("Expected one re-authentication, got %d", job.ReauthCount)
	}
	if h.renewer.calls != 1 {
		t.Errorf("Expected one renewal call, got %d", h.renewer.calls)
	}
	if job.RecordsFound != 120 {
		t.Errorf("Expected no double-counting across the resume, got %d", job.RecordsFound)
	}

	t.Run("Cursor resumes unchanged after re-auth", func(t *testing.T) {
		// Call 2 hit the redirect at offset 1; call 3 must retry offset 1.
		if len(h.fetcher.cursors) != 4 {
			t.Fatalf("Expected 4 fetches, got %d", len(h.fetcher.cursors))
		}
		if h.fetcher.cursors[1].PageOffset != 1 || h.fetcher.cursors[2].PageOffset != 1 {
			t.Errorf("Expected the redirected page retried at the same offset, got %v", h.fetcher.cursors)
		}
	})
}

func TestService_RunJob_ReauthStructuralFailure(t *testing.T) {
	h := newRunnerHarness(t, []fetchStep{
		{page: redirectPage()},
	})
	h.renewer.err = models.NewPipelineError(models.ErrorKindAuthStructural, "renew",
		errors.New("credentials rejected"))
	session := h.addSession(t)

	job, err := h.service.CreateJob(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	h.service.RunJob(context.Background(), job)

	if job.State != models.JobStateFailed {
		t.Fatalf("Expected failed, got %s", job.State)
	}
	if !strings.Contains(job.Error, "re-authentication failed") {
		t.Errorf("Expected the failure context in the error, got %q", job.Error)
	}
	if !strings.Contains(job.Error, "login_redirect") {
		t.Errorf("Expected the last observation in the error, got %q", job.Error)
	}
}

func TestService_RunJob_StructuralMissSkipsPage(t *testing.T) {
	h := newRunnerHarness(t, []fetchStep{
		{page: cardListPage(0, 50, 120)},
		{page: &Page{
			HTML:        "<div>scheduled maintenance</div>",
			Observation: models.Observation{Kind: models.ObservationContentRendered, ObservedAt: time.Now()},
		}},
		{page: cardListPage(50, 50, 120)},
		{page: cardListPage(100, 20, 120)},
	})
	session := h.addSession(t)

	job, err := h.service.CreateJob(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	h.service.RunJob(context.Background(), job)

	if job.State != models.JobStateCompleted {
		t.Fatalf("Expected completed despite the malformed page, got %s (error %q)", job.State, job.Error)
	}
	if job.FailedIterations != 1 {
		t.Errorf("Expected 1 failed iteration, got %d", job.FailedIterations)
	}
	if job.RecordsFound != 120 {
		t.Errorf("Expected the rest of the harvest intact, got %d", job.RecordsFound)
	}
	if job.Cursor.PageOffset != 4 {
		t.Errorf("Expected the malformed page's offset skipped, got %d", job.Cursor.PageOffset)
	}
}

func TestService_RunJob_TransientStreakEscalates(t *testing.T) {
	fetchFailure := errors.New("remote hung up")
	h := newRunnerHarness(t, []fetchStep{
		{err: fetchFailure},
		{err: fetchFailure},
		{page: cardListPage(0, 5, 5)},
	})
	session := h.addSession(t)

	job, err := h.service.CreateJob(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	h.service.RunJob(context.Background(), job)

	if job.State != models.JobStateCompleted {
		t.Fatalf("Expected completed after escalation and renewal, got %s (error %q)", job.State, job.Error)
	}
	// First exhaustion degrades and retries; the second consecutive one is
	// treated as session invalidation and renews.
	if h.renewer.calls != 1 {
		t.Errorf("Expected one renewal after two consecutive exhaustions, got %d", h.renewer.calls)
	}
	if job.FailedIterations != 2 {
		t.Errorf("Expected 2 failed iterations, got %d", job.FailedIterations)
	}
	if job.RecordsFound != 5 {
		t.Errorf("Expected the harvest to finish, got %d", job.RecordsFound)
	}
}

func TestService_RunJob_CancelBetweenIterations(t *testing.T) {
	h := newRunnerHarness(t, []fetchStep{
		{page: cardListPage(0, 5, 0)},
	})
	session := h.addSession(t)

	job, err := h.service.CreateJob(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	h.service.CancelJob(job.ID)
	h.service.RunJob(context.Background(), job)

	if job.State != models.JobStateFailed {
		t.Fatalf("Expected failed, got %s", job.State)
	}
	if !strings.Contains(job.Error, "cancelled by operator") {
		t.Errorf("Expected a cancellation reason, got %q", job.Error)
	}
	if len(h.fetcher.cursors) != 0 {
		t.Error("Expected no fetch after a pre-run cancellation")
	}
}

func TestService_RunJob_PausedSessionParksJob(t *testing.T) {
	h := newRunnerHarness(t, []fetchStep{
		{page: cardListPage(0, 5, 0)},
	})
	session := h.addSession(t)

	job, err := h.service.CreateJob(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	// The owner pauses the session after the job was accepted.
	h.storage.sessions.sessions[session.ID].Status = models.SessionStatusPaused
	h.service.RunJob(context.Background(), job)

	if job.State != models.JobStateQueued {
		t.Fatalf("Expected the job parked back in the queue, got %s (error %q)", job.State, job.Error)
	}
	if h.renewer.calls != 0 {
		t.Errorf("Expected no renewal attempt for an owner pause, got %d", h.renewer.calls)
	}
	if job.ReauthCount != 0 {
		t.Errorf("Expected no re-auth cycles burned, got %d", job.ReauthCount)
	}
	if len(h.fetcher.cursors) != 0 {
		t.Error("Expected no fetch against a paused session")
	}
	if !job.LastProgress.IsZero() {
		t.Error("Expected the idle clock cleared so parked time does not count against the timeout")
	}

	t.Run("Resumes once the owner reactivates the session", func(t *testing.T) {
		h.storage.sessions.sessions[session.ID].Status = models.SessionStatusActive

		resumed, err := h.storage.jobs.GetJob(context.Background(), job.ID)
		if err != nil {
			t.Fatalf("GetJob failed: %v", err)
		}
		h.service.RunJob(context.Background(), resumed)

		if resumed.State != models.JobStateCompleted {
			t.Fatalf("Expected completed after resume, got %s (error %q)", resumed.State, resumed.Error)
		}
		if resumed.RecordsFound != 5 {
			t.Errorf("Expected the harvest to finish after resume, got %d", resumed.RecordsFound)
		}
	})
}

func TestService_RunJob_DispatcherShutdownLeavesJobResumable(t *testing.T) {
	h := newRunnerHarness(t, []fetchStep{
		{page: cardListPage(0, 5, 0)},
	})
	session := h.addSession(t)

	job, err := h.service.CreateJob(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.service.RunJob(ctx, job)

	if job.State != models.JobStateQueued {
		t.Fatalf("Expected the job requeued for resume, got %s", job.State)
	}
}

func TestService_RunJob_IdleTimeout(t *testing.T) {
	h := newRunnerHarness(t, []fetchStep{
		{page: cardListPage(0, 5, 0)},
	})
	session := h.addSession(t)

	job, err := h.service.CreateJob(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	job.LastProgress = time.Now().Add(-2 * time.Hour)

	h.service.RunJob(context.Background(), job)

	if job.State != models.JobStateFailed {
		t.Fatalf("Expected failed, got %s", job.State)
	}
	if !strings.Contains(job.Error, "Timeout: no progress") {
		t.Errorf("Expected an idle timeout reason, got %q", job.Error)
	}
}

func TestService_RunJob_SessionPastTTLCeiling(t *testing.T) {
	h := newRunnerHarness(t, []fetchStep{
		{page: cardListPage(0, 5, 0)},
	})
	session := h.addSession(t)

	job, err := h.service.CreateJob(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	// The session expires after the job was accepted. Renewal cannot help: the
	// TTL is an absolute ceiling, so the job fails terminally.
	h.storage.sessions.sessions[session.ID].ExpiresAt = time.Now().Add(-time.Minute)
	h.renewer.err = models.NewPipelineError(models.ErrorKindAuthStructural, "renew",
		errors.New("session is past its TTL and cannot be renewed"))

	h.service.RunJob(context.Background(), job)

	if job.State != models.JobStateFailed {
		t.Fatalf("Expected failed, got %s", job.State)
	}
	if !strings.Contains(job.Error, "re-authentication failed") {
		t.Errorf("Expected a renewal failure reason, got %q", job.Error)
	}
}
