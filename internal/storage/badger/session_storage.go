package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// SessionStorage implements the SessionStorage interface for Badger
type SessionStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewSessionStorage creates a new SessionStorage instance
func NewSessionStorage(db *BadgerDB, logger arbor.ILogger) interfaces.SessionStorage {
	return &SessionStorage{
		db:     db,
		logger: logger,
	}
}

func (s *SessionStorage) SaveSession(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		return fmt.Errorf("session ID is required")
	}
	if session.TenantID == "" {
		return fmt.Errorf("session tenant ID is required")
	}

	now := time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now

	if err := s.db.Store().Upsert(session.ID, session); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *SessionStorage) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var session models.Session
	if err := s.db.Store().Get(id, &session); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

func (s *SessionStorage) ListSessions(ctx context.Context, opts *interfaces.ListOptions) ([]*models.Session, error) {
	query := badgerhold.Where("ID").Ne("")

	if opts != nil {
		if opts.TenantID != "" {
			query = query.And("TenantID").Eq(opts.TenantID)
		}
		if opts.Limit > 0 {
			query = query.Limit(opts.Limit)
		}
		if opts.Offset > 0 {
			query = query.Skip(opts.Offset)
		}
	}
	query = query.SortBy("CreatedAt").Reverse()

	var sessions []models.Session
	if err := s.db.Store().Find(&sessions, query); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	result := make([]*models.Session, len(sessions))
	for i := range sessions {
		result[i] = &sessions[i]
	}
	return result, nil
}

func (s *SessionStorage) UpdateHealth(ctx context.Context, id string, health models.SessionHealth) error {
	session, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	session.Health = health
	return s.SaveSession(ctx, session)
}

func (s *SessionStorage) UpdateStatus(ctx context.Context, id string, status models.SessionStatus) error {
	session, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	session.Status = status
	return s.SaveSession(ctx, session)
}

func (s *SessionStorage) AddExtractionCount(ctx context.Context, id string, n int) error {
	session, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	session.ExtractionCount += n
	return s.SaveSession(ctx, session)
}

func (s *SessionStorage) ListExpiredActive(ctx context.Context, now time.Time) ([]*models.Session, error) {
	var sessions []models.Session
	query := badgerhold.Where("ExpiresAt").Lt(now).And("Status").Ne(models.SessionStatusExpired)
	if err := s.db.Store().Find(&sessions, query); err != nil {
		return nil, fmt.Errorf("failed to list expired sessions: %w", err)
	}

	result := make([]*models.Session, len(sessions))
	for i := range sessions {
		result[i] = &sessions[i]
	}
	return result, nil
}
