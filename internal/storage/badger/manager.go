package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db       *BadgerDB
	sessions interfaces.SessionStorage
	jobs     interfaces.JobStorage
	records  interfaces.RecordStorage
	logger   arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:       db,
		sessions: NewSessionStorage(db, logger),
		jobs:     NewJobStorage(db, logger),
		records:  NewRecordStorage(db, logger),
		logger:   logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// Sessions returns the session storage interface
func (m *Manager) Sessions() interfaces.SessionStorage {
	return m.sessions
}

// Jobs returns the extraction job storage interface
func (m *Manager) Jobs() interfaces.JobStorage {
	return m.jobs
}

// Records returns the record storage interface
func (m *Manager) Records() interfaces.RecordStorage {
	return m.records
}

// Close closes the database connection
func (m *Manager) Close() error {
	m.logger.Debug().Msg("Closing Badger storage manager")
	return m.db.Close()
}
