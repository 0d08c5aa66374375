package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/colligo/internal/models"
)

// ErrNotFound is returned when a requested entity does not exist, or — for
// sessions — exists but is past its TTL (the TTL invariant is enforced at the
// read boundary).
var ErrNotFound = errors.New("not found")

// ListOptions controls paging for list queries.
type ListOptions struct {
	Limit    int
	Offset   int
	TenantID string
	State    string
}

// SessionStorage persists sessions
type SessionStorage interface {
	SaveSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	ListSessions(ctx context.Context, opts *ListOptions) ([]*models.Session, error)
	UpdateHealth(ctx context.Context, id string, health models.SessionHealth) error
	UpdateStatus(ctx context.Context, id string, status models.SessionStatus) error
	AddExtractionCount(ctx context.Context, id string, n int) error
	// ListExpiredActive returns sessions whose TTL has passed but whose status
	// has not yet been moved to expired. Consumed by the sweep.
	ListExpiredActive(ctx context.Context, now time.Time) ([]*models.Session, error)
}

// JobStorage persists extraction jobs
type JobStorage interface {
	SaveJob(ctx context.Context, job *models.ExtractionJob) error
	GetJob(ctx context.Context, id string) (*models.ExtractionJob, error)
	ListJobs(ctx context.Context, opts *ListOptions) ([]*models.ExtractionJob, error)
	ListJobsBySession(ctx context.Context, sessionID string) ([]*models.ExtractionJob, error)
	// ListActiveJobs returns jobs in a non-terminal state, used by the
	// dispatcher on startup and by the idle sweep.
	ListActiveJobs(ctx context.Context) ([]*models.ExtractionJob, error)
	CountJobs(ctx context.Context) (int, error)
}

// RecordStorage persists harvested relationship records
type RecordStorage interface {
	// UpsertRecord inserts the record or merges it into the existing row with
	// the same (tenant, dedup_key). Returns true when a new row was created.
	UpsertRecord(ctx context.Context, record *models.Record) (bool, error)
	GetRecord(ctx context.Context, tenantID, dedupKey string) (*models.Record, error)
	ListRecords(ctx context.Context, opts *ListOptions) ([]*models.Record, error)
	CountRecords(ctx context.Context, tenantID string) (int, error)
}

// StorageManager provides access to all storage services
type StorageManager interface {
	Sessions() SessionStorage
	Jobs() JobStorage
	Records() RecordStorage
	Close() error
}
